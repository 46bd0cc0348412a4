package ringbuf

import (
	"bytes"
	"testing"
	"unsafe"
)

func TestRegionLayoutConstants(t *testing.T) {
	// The layout is shared with every peer implementation; these values
	// are load-bearing, not derived.
	if MetaSize != 24 {
		t.Fatalf("MetaSize = %d, want 24", MetaSize)
	}
	if LockOffset != MetaSize+RingSize-16 {
		t.Fatalf("LockOffset = %d, want %d", LockOffset, MetaSize+RingSize-16)
	}
	if PayloadOffset != MetaSize+RingSize {
		t.Fatalf("PayloadOffset = %d, want %d", PayloadOffset, MetaSize+RingSize)
	}
	if RingSize%RecordSize != 0 {
		t.Fatalf("ring size %d is not a whole number of records", RingSize)
	}

	var m queueMeta
	if sz := unsafe.Sizeof(m); sz != MetaSize {
		t.Fatalf("queueMeta size = %d, want %d", sz, MetaSize)
	}
	if off := unsafe.Offsetof(m.out); off != 4 {
		t.Fatalf("out offset = %d, want 4", off)
	}
	if off := unsafe.Offsetof(m.mask); off != 8 {
		t.Fatalf("mask offset = %d, want 8", off)
	}
	if off := unsafe.Offsetof(m.data); off != 16 {
		t.Fatalf("data offset = %d, want 16", off)
	}
}

func TestInitializeIfNeeded(t *testing.T) {
	v := newTestView(t, MinRegionSize)

	// Zeroed metadata reports capacity 1, so the first attach initializes.
	if !v.initializeIfNeeded() {
		t.Fatal("expected initialization of a zeroed region")
	}
	m := v.meta()
	if m.Capacity() != RingSize {
		t.Fatalf("capacity = %d, want %d", m.Capacity(), RingSize)
	}
	if m.In() != 0 || m.Out() != 0 {
		t.Fatalf("indices not reset: in=%d out=%d", m.In(), m.Out())
	}

	// A second attach must be a no-op.
	if v.initializeIfNeeded() {
		t.Fatal("re-initialized an already-initialized region")
	}
}

func TestInitializePreservesQueuedRecords(t *testing.T) {
	v := newTestView(t, MinRegionSize)
	v.initializeIfNeeded()

	var rec [RecordSize]byte
	for i := range rec {
		rec[i] = byte(i + 1)
	}
	if n := v.pushRecord(&rec); n != RecordSize {
		t.Fatalf("pushRecord = %d, want %d", n, RecordSize)
	}

	// Another peer attaching later must not clear the queued record.
	if v.initializeIfNeeded() {
		t.Fatal("initialization ran against live metadata")
	}
	var got [RecordSize]byte
	if !v.popRecord(&got) {
		t.Fatal("queued record lost after re-attach")
	}
	if !bytes.Equal(got[:], rec[:]) {
		t.Fatalf("record corrupted: got %v, want %v", got, rec)
	}
}

func TestPushPopRecordFIFO(t *testing.T) {
	v := newTestView(t, MinRegionSize)
	v.initializeIfNeeded()

	const n = RingSize / RecordSize
	for i := 0; i < n; i++ {
		var rec [RecordSize]byte
		rec[0] = byte(i)
		if got := v.pushRecord(&rec); got != RecordSize {
			t.Fatalf("push %d: got %d bytes, want %d", i, got, RecordSize)
		}
	}
	if free := v.meta().Free(); free != 0 {
		t.Fatalf("free = %d after filling, want 0", free)
	}

	// One more record must be refused outright.
	var extra [RecordSize]byte
	if got := v.pushRecord(&extra); got != 0 {
		t.Fatalf("push into full queue wrote %d bytes", got)
	}

	for i := 0; i < n; i++ {
		var rec [RecordSize]byte
		if !v.popRecord(&rec) {
			t.Fatalf("pop %d: queue empty early", i)
		}
		if rec[0] != byte(i) {
			t.Fatalf("pop %d: got marker %d, FIFO order broken", i, rec[0])
		}
	}
	var rec [RecordSize]byte
	if v.popRecord(&rec) {
		t.Fatal("pop succeeded on empty queue")
	}
}

func TestPushPopRecordWrap(t *testing.T) {
	v := newTestView(t, MinRegionSize)
	v.initializeIfNeeded()

	// Drive the free-running indices through several storage wraps.
	for i := 0; i < 10*RingSize/RecordSize; i++ {
		var rec [RecordSize]byte
		for j := range rec {
			rec[j] = byte(i + j)
		}
		if got := v.pushRecord(&rec); got != RecordSize {
			t.Fatalf("push %d failed", i)
		}
		var out [RecordSize]byte
		if !v.popRecord(&out) {
			t.Fatalf("pop %d failed", i)
		}
		if !bytes.Equal(out[:], rec[:]) {
			t.Fatalf("iteration %d: record corrupted across wrap", i)
		}
	}
}

func TestPushRecordAllOrNothing(t *testing.T) {
	v := newTestView(t, MinRegionSize)
	v.initializeIfNeeded()
	m := v.meta()

	// Force a sub-record amount of free space. 8 bytes free is less than
	// one record; the push must write nothing rather than a partial
	// record.
	m.SetIn(m.Out() + RingSize - 8)
	before := append([]byte(nil), v.storage()...)

	var rec [RecordSize]byte
	for i := range rec {
		rec[i] = 0xAB
	}
	if got := v.pushRecord(&rec); got != 0 {
		t.Fatalf("partial push wrote %d bytes", got)
	}
	if !bytes.Equal(v.storage(), before) {
		t.Fatal("refused push still mutated ring storage")
	}
}
