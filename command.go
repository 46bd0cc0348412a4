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

import "fmt"

// Cmd is a command on the session's thin dispatch surface. The numbering is
// part of the protocol's external interface and matches the original
// character-device command block.
type Cmd uint32

const (
	// CmdRing writes value to the doorbell register.
	CmdRing Cmd = 1
	// CmdWait is reserved for a future blocking-receive primitive.
	CmdWait Cmd = 2
	// CmdLocalID returns this attachment's peer identity.
	CmdLocalID Cmd = 3
)

// Command dispatches one command against the session. CmdRing posts value to
// the doorbell register as-is; CmdLocalID ignores value and returns the local
// peer identity; CmdWait is unimplemented and returns ErrWaitUnimplemented.
func (s *Session) Command(cmd Cmd, value uint32) (uint32, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	switch cmd {
	case CmdRing:
		s.dev.WriteDoorbell(value)
		return 0, nil
	case CmdWait:
		return 0, ErrWaitUnimplemented
	case CmdLocalID:
		return s.localID, nil
	default:
		return 0, fmt.Errorf("ringbuf: bad command %d", cmd)
	}
}

// Ring writes value to the doorbell register, the CmdRing fast path.
func (s *Session) Ring(value uint32) error {
	_, err := s.Command(CmdRing, value)
	return err
}
