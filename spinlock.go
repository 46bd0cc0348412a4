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
	"runtime"
	"sync/atomic"
)

// The write lock is a bare compare-and-swap word at a fixed offset inside the
// shared region (LockOffset), so every process mapping the region contends on
// the same cell. It guards only the header-publish step of the send path;
// payload writes and the payload cursor stay outside it, which is why the
// protocol tolerates exactly one producer attachment per region.

const (
	lockFree = 0
	lockHeld = 1
)

// lockRegion spins until the region's lock word is acquired. The CAS doubles
// as a full barrier, so queue state read after lockRegion is at least as
// fresh as the moment of acquisition. Yields to the scheduler every 64
// failed attempts to keep a contended spin from starving the runtime.
func lockRegion(v regionView) {
	w := v.lockWord()
	for i := 0; !atomic.CompareAndSwapUint32(w, lockFree, lockHeld); i++ {
		if i&0x3F == 0x3F {
			runtime.Gosched()
		}
	}
}

// unlockRegion releases the region's lock word. The atomic store publishes
// every write made under the lock before the word reads as free.
func unlockRegion(v regionView) {
	atomic.StoreUint32(v.lockWord(), lockFree)
}

// lockHeldNow reports a racy snapshot of the lock word, for diagnostics only.
func lockHeldNow(v regionView) bool {
	return atomic.LoadUint32(v.lockWord()) != lockFree
}
