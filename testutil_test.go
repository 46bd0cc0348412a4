package ringbuf

import (
	"testing"
	"unsafe"
)

// newTestView returns a regionView over a freshly allocated, zeroed region.
// Allocation goes through a uint64 slice so the metadata words get the same
// alignment an mmapped region would have.
func newTestView(t *testing.T, size int) regionView {
	t.Helper()
	words := make([]uint64, (size+7)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	v, err := newRegionView(mem)
	if err != nil {
		t.Fatalf("newRegionView failed: %v", err)
	}
	return v
}

// newSessionPair attaches a consumer (peer 0) and a producer (peer 1) to the
// two ends of a loopback device sharing one region.
func newSessionPair(t *testing.T, regionSize int, consumerCfg Config) (consumer, producer *Session) {
	t.Helper()
	devC, devP, err := NewLoopbackPair(regionSize)
	if err != nil {
		t.Fatalf("NewLoopbackPair failed: %v", err)
	}

	consumerCfg.Role = Consumer
	consumer, err = Attach(devC, consumerCfg)
	if err != nil {
		t.Fatalf("consumer attach failed: %v", err)
	}
	t.Cleanup(func() { consumer.Close() })

	producer, err = Attach(devP, Config{Role: Producer, TargetPeer: 0})
	if err != nil {
		t.Fatalf("producer attach failed: %v", err)
	}
	t.Cleanup(func() { producer.Close() })
	return consumer, producer
}
