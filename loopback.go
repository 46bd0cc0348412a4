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
	"sync"
	"sync/atomic"
	"unsafe"
)

// LoopbackDevice is an in-process Device: two handles sharing one region,
// with doorbell writes delivered to the target handle's interrupt callbacks
// on a fresh goroutine. It stands in for a real inter-VM transport in tests
// and single-process bring-up, and is the reference for what a Device
// implementation owes the protocol.
type LoopbackDevice struct {
	id     uint16
	shared *loopbackShared

	mu       sync.Mutex
	handlers map[VectorID]func()
	vectors  int

	lastBell atomic.Uint32
	mapped   atomic.Bool
}

type loopbackShared struct {
	mem  []byte
	devs [2]*LoopbackDevice
}

// maxVectors bounds a vector allocation to the width of the interrupt status
// register.
const maxVectors = 32

// NewLoopbackPair returns two device handles attached to one freshly
// allocated region of regionSize bytes. Handle 0 has peer identity 0, handle
// 1 identity 1.
func NewLoopbackPair(regionSize int) (*LoopbackDevice, *LoopbackDevice, error) {
	if regionSize < MinRegionSize {
		return nil, nil, errors.New("loopback: region size below protocol minimum")
	}
	// Allocate through a uint64 slice so the metadata words are 8-byte
	// aligned, as an mmapped region's would be.
	words := make([]uint64, (regionSize+7)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), regionSize)

	shared := &loopbackShared{mem: mem}
	a := &LoopbackDevice{id: 0, shared: shared, handlers: make(map[VectorID]func())}
	b := &LoopbackDevice{id: 1, shared: shared, handlers: make(map[VectorID]func())}
	shared.devs[0] = a
	shared.devs[1] = b
	return a, b, nil
}

// MapRegion returns the shared region bytes.
func (d *LoopbackDevice) MapRegion() ([]byte, error) {
	d.mapped.Store(true)
	return d.shared.mem, nil
}

// UnmapRegion marks the region released.
func (d *LoopbackDevice) UnmapRegion() error {
	d.mapped.Store(false)
	return nil
}

// WriteDoorbell routes the notification to the target handle's registered
// vector callback, asynchronously, the way a hardware doorbell raises an
// interrupt on the remote peer. Unknown peers and unregistered vectors are
// dropped silently; doorbells carry no acknowledgment.
func (d *LoopbackDevice) WriteDoorbell(value uint32) {
	d.lastBell.Store(value)
	peer, vec := SplitDoorbell(value)
	if int(peer) >= len(d.shared.devs) {
		return
	}
	target := d.shared.devs[peer]
	if target == nil {
		return
	}
	target.fire(vec)
}

func (d *LoopbackDevice) fire(vec VectorID) {
	d.mu.Lock()
	fn := d.handlers[vec]
	d.mu.Unlock()
	if fn != nil {
		go fn()
	}
}

// ReadRegister serves the ivshmem register block from local state.
func (d *LoopbackDevice) ReadRegister(off uint32) uint32 {
	switch off {
	case RegIVPosition:
		return uint32(d.id)
	case RegDoorbell:
		return d.lastBell.Load()
	default:
		return 0
	}
}

// AllocVectors hands out vector ids 0..n-1.
func (d *LoopbackDevice) AllocVectors(n int) ([]VectorID, error) {
	if n <= 0 || n > maxVectors {
		return nil, errors.New("loopback: vector count out of range")
	}
	d.mu.Lock()
	d.vectors = n
	d.mu.Unlock()
	out := make([]VectorID, n)
	for i := range out {
		out[i] = VectorID(i)
	}
	return out, nil
}

// OnInterrupt registers (or, with nil, removes) the callback for vector v.
func (d *LoopbackDevice) OnInterrupt(v VectorID, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		delete(d.handlers, v)
		return
	}
	d.handlers[v] = fn
}
