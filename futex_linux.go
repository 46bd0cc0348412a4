//go:build linux && (amd64 || arm64)

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
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Futex plumbing for doorbell delivery on the file-backed device. The futex
// words live in a file mapping shared with the peer process, so the ops use
// the shared (non-private) FUTEX_WAIT/FUTEX_WAKE forms.

// Futex op codes from <linux/futex.h>; x/sys/unix exports only the syscall
// numbers, not these operation values.
const (
	futexOpWait = 0 // FUTEX_WAIT
	futexOpWake = 1 // FUTEX_WAKE
)

// futexWait blocks until the value at addr is no longer val, another process
// wakes the address, or a signal interrupts the call. Callers must re-check
// their condition afterwards; spurious wakes are normal.
func futexWait(addr *uint32, val uint32) error {
	// Re-check atomically right before the syscall; a wake landing between
	// the caller's snapshot and futex entry must not be lost.
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWait,
		uintptr(val),
		0, // no timeout
		0,
		0,
	)
	if errno != 0 {
		// EAGAIN: value already changed. EINTR: signal. Neither is an
		// error for a wait that re-checks its condition.
		if errno == unix.EAGAIN || errno == unix.EINTR {
			return nil
		}
		return fmt.Errorf("futex wait: %w", errno)
	}
	return nil
}

// futexWake wakes up to n waiters on addr in any process mapping it. Returns
// the number of waiters woken.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWake,
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake: %w", errno)
	}
	return int(r1), nil
}
