/*
 * Copyright 2025 The Ring-Buffer-on-IVshmem Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ringbuf

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPermitted is returned when an attachment's role does not allow
	// an operation: a Consumer calling Send, a Producer calling Receive.
	// Benign: the call performs no memory access and the session stays
	// usable.
	ErrNotPermitted = errors.New("ringbuf: operation not permitted for role")

	// ErrNoSpace is returned by Send when the ring queue has fewer free
	// bytes than one header record. Non-blocking; the caller decides
	// whether to retry.
	ErrNoSpace = errors.New("ringbuf: not enough space in ring queue")

	// ErrProtocolViolation is returned by Receive when a popped header is
	// not a message from the expected peer: wrong source identity or a
	// payload reference outside the payload area. It signals the queue
	// held unexpected content, distinct from "no message".
	ErrProtocolViolation = errors.New("ringbuf: invalid message in ring queue")

	// ErrShortAppend is returned by Send when the header publish wrote
	// fewer bytes than a full record. The payload slot is abandoned, not
	// retried.
	ErrShortAppend = errors.New("ringbuf: header record append incomplete")

	// ErrClosed is returned on operations against a detached session.
	ErrClosed = errors.New("ringbuf: session closed")

	// ErrWaitUnimplemented is returned by the Wait command, reserved for a
	// future blocking-receive primitive.
	ErrWaitUnimplemented = errors.New("ringbuf: wait command not implemented")
)

// AttachError reports a failure while attaching to or detaching from a
// device: mapping, validation, or interrupt vector allocation. Attach faults
// are fatal to the attach attempt and surfaced synchronously; nothing retries
// them automatically.
type AttachError struct {
	Op  string
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("ringbuf: attach: %s: %v", e.Op, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }
