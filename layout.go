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
)

// Region layout constants. The layout must stay byte-identical across peers:
// any change here is a wire break for every process mapping the same region.
//
//	offset 0                 queue metadata (24-byte control block)
//	offset 24  .. 24+512     ring storage, fixed 512-byte capacity
//	offset 24+512-16         write-lock word (overlaps the last 16 bytes of
//	                         ring storage; the ivshmem driver places it there)
//	offset 24+512 .. end     payload area
const (
	// RingSize is the fixed byte capacity of the ring queue storage.
	RingSize = 512

	// MetaSize is the size of the queue metadata control block: four u32
	// bookkeeping words plus one u64 per-process scratch pointer slot.
	MetaSize = 24

	// RecordSize is the encoded size of one MessageHeader record.
	RecordSize = 16

	// LockOffset is the region offset of the cross-process write-lock word.
	LockOffset = MetaSize + RingSize - 16

	// PayloadOffset is the region offset where the payload area begins.
	PayloadOffset = MetaSize + RingSize

	// MinRegionSize is the smallest region the protocol can operate on:
	// metadata, ring storage, and room for at least one maximal record's
	// payload byte.
	MinRegionSize = PayloadOffset + RecordSize
)

// queueMeta is the queue metadata control block at offset 0 of the region.
// Field order and widths are part of the shared layout. The in/out indices
// free-run as unsigned counters; queue length is in-out and storage position
// is idx&mask. data is a per-process scratch pointer slot; peers never
// interpret the value found there.
type queueMeta struct {
	in    uint32 // 0x00: write index (free-running)
	out   uint32 // 0x04: read index (free-running)
	mask  uint32 // 0x08: storage capacity - 1
	esize uint32 // 0x0C: element size (always 1, byte-oriented)
	data  uint64 // 0x10: per-process scratch pointer slot
}

// All metadata access goes through atomics. Another process mutates these
// words between any two of our calls; the sequentially consistent load/store
// pairs double as the full barriers the protocol requires around queue
// access.

func (m *queueMeta) In() uint32           { return atomic.LoadUint32(&m.in) }
func (m *queueMeta) SetIn(v uint32)       { atomic.StoreUint32(&m.in, v) }
func (m *queueMeta) Out() uint32          { return atomic.LoadUint32(&m.out) }
func (m *queueMeta) SetOut(v uint32)      { atomic.StoreUint32(&m.out, v) }
func (m *queueMeta) Mask() uint32         { return atomic.LoadUint32(&m.mask) }
func (m *queueMeta) SetMask(v uint32)     { atomic.StoreUint32(&m.mask, v) }
func (m *queueMeta) ElemSize() uint32     { return atomic.LoadUint32(&m.esize) }
func (m *queueMeta) SetElemSize(v uint32) { atomic.StoreUint32(&m.esize, v) }

// Capacity returns the queue's self-reported storage capacity.
func (m *queueMeta) Capacity() uint32 { return m.Mask() + 1 }

// Used returns the number of queued bytes. Free-running index arithmetic
// handles wrap.
func (m *queueMeta) Used() uint32 { return m.In() - m.Out() }

// Free returns the number of writable bytes.
func (m *queueMeta) Free() uint32 { return RingSize - m.Used() }

// regionView is a transient, per-call view of the mapped region. It holds the
// region bytes only; every typed address is recomputed from the base on each
// use, because the region's contents (and our picture of them) can be changed
// by another process between calls. No Go pointers into shared memory are
// retained anywhere.
type regionView struct {
	mem []byte
}

func newRegionView(mem []byte) (regionView, error) {
	if len(mem) < MinRegionSize {
		return regionView{}, fmt.Errorf("region too small: %d bytes, need at least %d", len(mem), MinRegionSize)
	}
	return regionView{mem: mem}, nil
}

// meta returns the metadata control block at the region base.
func (v regionView) meta() *queueMeta {
	return (*queueMeta)(unsafe.Pointer(&v.mem[0]))
}

// storage returns the ring storage bytes, re-derived from the base.
func (v regionView) storage() []byte {
	return v.mem[MetaSize : MetaSize+RingSize]
}

// lockWord returns the cross-process write-lock word.
func (v regionView) lockWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&v.mem[LockOffset]))
}

// payload returns the payload area bytes.
func (v regionView) payload() []byte {
	return v.mem[PayloadOffset:]
}

// payloadCap returns the payload area capacity in bytes.
func (v regionView) payloadCap() int {
	return len(v.mem) - PayloadOffset
}

// initializeIfNeeded resets the queue metadata and the lock word when the
// metadata's self-reported capacity does not match the fixed ring size, which
// is how a freshly mapped (all-zero or garbage) region presents itself.
// Metadata that already reports the right capacity is left untouched so that
// attaching never destroys another peer's in-flight records.
//
// Idempotent by construction, but not synchronized against a concurrent
// initializer on another peer: two peers attaching an uninitialized region at
// the same instant race. Known limitation.
func (v regionView) initializeIfNeeded() bool {
	m := v.meta()
	if m.Capacity() == RingSize {
		return false
	}
	logInfo("initializing ring queue metadata", "capacity", RingSize)
	m.SetIn(0)
	m.SetOut(0)
	m.SetElemSize(1)
	atomic.StoreUint64(&m.data, 0)
	atomic.StoreUint32(v.lockWord(), 0)
	// Publish the mask last: a peer that observes the right capacity must
	// also observe the reset indices.
	m.SetMask(RingSize - 1)
	return true
}

// pushRecord appends one RecordSize-byte record to the ring queue and returns
// the number of bytes appended: RecordSize on success, 0 if the queue lacks
// space for a whole record. Records are all-or-nothing; a partial record is
// never left in storage. Caller must hold the region write lock.
func (v regionView) pushRecord(rec *[RecordSize]byte) int {
	m := v.meta()
	in := m.In()
	if RingSize-(in-m.Out()) < RecordSize {
		return 0
	}

	buf := v.storage()
	pos := in & m.Mask()

	// Wrap-split copy; record positions are normally 16-aligned but a
	// re-initialized or damaged index can put them anywhere.
	n := copy(buf[pos:], rec[:])
	if n < RecordSize {
		copy(buf, rec[n:])
	}

	// The index store publishes the record bytes to the consumer.
	m.SetIn(in + RecordSize)
	return RecordSize
}

// popRecord removes one record from the ring queue into rec. It returns false
// without touching rec's meaning if fewer than RecordSize bytes are queued.
func (v regionView) popRecord(rec *[RecordSize]byte) bool {
	m := v.meta()
	out := m.Out()
	if m.In()-out < RecordSize {
		return false
	}

	buf := v.storage()
	pos := out & m.Mask()

	n := copy(rec[:], buf[pos:])
	if n < RecordSize {
		copy(rec[n:], buf)
	}

	m.SetOut(out + RecordSize)
	return true
}
