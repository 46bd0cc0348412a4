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

// Device register offsets, inherited from the ivshmem register block.
const (
	RegIntrMask   = 0x00 // interrupt mask
	RegIntrStatus = 0x04 // pending interrupt vector bits
	RegIVPosition = 0x08 // this peer's identity
	RegDoorbell   = 0x0C // doorbell: write (peer<<16)|vector to notify
)

// VectorID identifies an allocated interrupt vector on a device.
type VectorID uint16

// DataVector is the conventional vector rung when a new message is queued.
// The original protocol rings doorbell value 1: vector 1 on peer 0.
const DataVector VectorID = 1

// DefaultVectors is the number of interrupt vectors a session requests at
// attach time, matching the original driver's MSI-X allocation.
const DefaultVectors = 4

// Device is the transport a session attaches to. Implementations own the
// already-solved plumbing: enumerating and binding the underlying bus or
// file, mapping the shared region into the process, and routing doorbell
// writes to the remote peer's interrupt vectors.
//
// OnInterrupt callbacks run in a restricted notification context: they must
// not block and must return promptly. Anything beyond scheduling work belongs
// in the code the callback wakes.
type Device interface {
	// MapRegion maps the shared region and returns its bytes. The region
	// size is agreed out-of-band by all peers; no peer may resize it.
	MapRegion() ([]byte, error)

	// UnmapRegion releases the mapping returned by MapRegion.
	UnmapRegion() error

	// WriteDoorbell posts a fire-and-forget notification. The value
	// encodes the target peer and vector as (peer<<16)|vector. There is
	// no acknowledgment and no retry.
	WriteDoorbell(value uint32)

	// ReadRegister reads one device register (RegIntrMask, RegIntrStatus,
	// RegIVPosition, RegDoorbell).
	ReadRegister(off uint32) uint32

	// AllocVectors allocates n interrupt vectors for this attachment.
	AllocVectors(n int) ([]VectorID, error)

	// OnInterrupt registers fn to run when vector v fires. Registering
	// nil removes the handler.
	OnInterrupt(v VectorID, fn func())
}

// DoorbellValue encodes a doorbell register value targeting the given peer
// and vector.
func DoorbellValue(peer uint16, vector VectorID) uint32 {
	return uint32(peer)<<16 | uint32(vector)&0xFFFF
}

// SplitDoorbell decodes a doorbell register value into target peer and
// vector.
func SplitDoorbell(value uint32) (peer uint16, vector VectorID) {
	return uint16(value >> 16), VectorID(value & 0xFFFF)
}
