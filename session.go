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
	"sync/atomic"
)

// Role is the static capability assigned to an attachment. It is fixed at
// attach time and gates which operations the session may perform for its
// entire lifetime.
type Role uint32

const (
	// Consumer attachments may Receive.
	Consumer Role = 0
	// Producer attachments may Send.
	Producer Role = 1
)

func (r Role) String() string {
	switch r {
	case Consumer:
		return "consumer"
	case Producer:
		return "producer"
	default:
		return "unknown"
	}
}

// DefaultSourceID is the protocol identity stamped on and expected in message
// headers when the configuration does not say otherwise.
const DefaultSourceID = 1

// Config selects a session's role and protocol identities.
type Config struct {
	// Role is the attachment's capability: Producer or Consumer.
	Role Role

	// SourceID is stamped into the headers this session produces.
	// Defaults to DefaultSourceID.
	SourceID uint32

	// ExpectedSource is the peer identity Receive validates popped
	// headers against. Defaults to DefaultSourceID.
	ExpectedSource uint32

	// TargetPeer is the peer the doorbell rings after a successful send.
	// Defaults to 0.
	TargetPeer uint16

	// Vectors is the number of interrupt vectors to allocate at attach
	// time. Defaults to DefaultVectors.
	Vectors int

	// OnMessage, when set, receives a copy of each payload the deferred
	// drain pops. It runs on the drain goroutine. When unset, doorbell
	// interrupts still run the notification machinery but the drain pops
	// nothing, leaving the queue to explicit Receive calls; popping with
	// nowhere to deliver would silently discard messages.
	OnMessage func(payload []byte)
}

func (c *Config) setDefaults() {
	if c.SourceID == 0 {
		c.SourceID = DefaultSourceID
	}
	if c.ExpectedSource == 0 {
		c.ExpectedSource = DefaultSourceID
	}
	if c.Vectors == 0 {
		c.Vectors = DefaultVectors
	}
}

// Session is one attachment to a shared region: the role gate, the payload
// cursor, the notification machinery, and nothing else. All cross-process
// state lives inside the mapped region; a Session owns only per-process
// state, so every peer instantiates its own.
//
// A Session is safe for concurrent use by multiple goroutines, with the
// protocol's own caveat: the region admits exactly one producer attachment.
// The payload cursor is not synchronized across processes, and concurrent
// producers corrupt the payload area.
type Session struct {
	dev Device
	mem []byte

	role     Role
	localID  uint32
	srcID    uint32
	expected uint32
	bell     uint32

	// cursor is the next free offset in the payload area. Producer-only,
	// advanced after each successful send. Wraps to 0 when the next
	// payload would run past the area's end, so sustained writes can
	// overwrite older payloads whose headers are still queued.
	cursor atomic.Uint32

	notify  *notifier
	vectors []VectorID

	onMessage func([]byte)

	closed atomic.Bool
}

// testHookBeforePublish, when non-nil, runs between the payload copy and the
// header publish on the send path. Stress tests use it to widen the window
// the write barrier has to cover.
var testHookBeforePublish func()

// Attach maps the device's shared region, allocates interrupt vectors, wires
// the deferred drain, and lazily initializes the queue metadata if the region
// has not seen a peer yet. Attach-time failures come back as *AttachError and
// are fatal to this attempt only.
func Attach(dev Device, cfg Config) (*Session, error) {
	cfg.setDefaults()

	mem, err := dev.MapRegion()
	if err != nil {
		return nil, &AttachError{Op: "map region", Err: err}
	}
	v, err := newRegionView(mem)
	if err != nil {
		dev.UnmapRegion()
		return nil, &AttachError{Op: "validate region", Err: err}
	}

	vectors, err := dev.AllocVectors(cfg.Vectors)
	if err != nil {
		dev.UnmapRegion()
		return nil, &AttachError{Op: "allocate interrupt vectors", Err: err}
	}

	s := &Session{
		dev:       dev,
		mem:       mem,
		role:      cfg.Role,
		localID:   dev.ReadRegister(RegIVPosition),
		srcID:     cfg.SourceID,
		expected:  cfg.ExpectedSource,
		bell:      DoorbellValue(cfg.TargetPeer, DataVector),
		vectors:   vectors,
		onMessage: cfg.OnMessage,
	}

	// Every vector schedules the same shared drain task; the drain's one
	// receive call is a benign no-op on producer-role attachments.
	s.notify = newNotifier(s.drainOnce)
	for _, vec := range vectors {
		dev.OnInterrupt(vec, s.notify.Interrupt)
	}

	v.initializeIfNeeded()

	logDebug("attached", "role", s.role.String(), "localID", s.localID,
		"region", len(mem), "vectors", len(vectors))
	return s, nil
}

// Close detaches the session: stops the drain, releases interrupt handlers,
// resets the payload cursor, and unmaps the region. Queued records survive in
// the region for other peers, but nothing is guaranteed across a
// detach/reattach cycle.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.notify.Stop()
	for _, vec := range s.vectors {
		s.dev.OnInterrupt(vec, nil)
	}
	s.cursor.Store(0)
	err := s.dev.UnmapRegion()
	s.mem = nil
	if err != nil {
		return &AttachError{Op: "unmap region", Err: err}
	}
	return nil
}

// Role returns the attachment's immutable role.
func (s *Session) Role() Role { return s.role }

// LocalID returns this attachment's peer identity, read from the device's
// position register at attach time.
func (s *Session) LocalID() uint32 { return s.localID }

// Send copies payload into the shared payload area, publishes a header record
// into the ring queue under the region write lock, and rings the remote
// peer's doorbell. Producer role only.
//
// Non-blocking: when the ring queue lacks space for one header record, Send
// fails immediately with ErrNoSpace, leaves the payload cursor untouched, and
// the caller re-issues later. Only queue-record space is checked; the payload
// area has no occupancy tracking, and sustained sends may overwrite payloads
// whose headers the consumer has not drained yet.
func (s *Session) Send(payload []byte) error {
	if s.role != Producer {
		logDebug("send rejected", "role", s.role.String())
		return ErrNotPermitted
	}
	if s.closed.Load() {
		return ErrClosed
	}

	v, err := newRegionView(s.mem)
	if err != nil {
		return err
	}
	if len(payload) > v.payloadCap() {
		return ErrNoSpace
	}
	if v.meta().Free() < RecordSize {
		logDebug("send rejected", "reason", "queue full")
		return ErrNoSpace
	}

	// Reserve the payload slot at the cursor, wrapping to the start of the
	// area when the tail is too short.
	off := s.cursor.Load()
	if int(off)+len(payload) > v.payloadCap() {
		off = 0
	}
	hdr := MessageHeader{
		SourceID:      s.srcID,
		PayloadOffset: off,
		PayloadLength: int64(len(payload)),
	}
	copy(v.payload()[off:], payload)

	if testHookBeforePublish != nil {
		testHookBeforePublish()
	}

	// The lock acquisition orders the payload copy before the header
	// publish: a consumer that observes the record also observes the
	// payload bytes it points at.
	var rec [RecordSize]byte
	encodeHeaderTo(&rec, hdr)
	lockRegion(v)
	n := v.pushRecord(&rec)
	unlockRegion(v)

	if n != RecordSize {
		logInfo("header append incomplete", "wrote", n)
		return ErrShortAppend
	}

	s.dev.WriteDoorbell(s.bell)
	s.cursor.Store(off + uint32(len(payload)))
	return nil
}

// Receive pops one header record from the ring queue, validates it, and
// copies min(len(buf), payloadLength) payload bytes into buf. Consumer role
// only.
//
// Non-blocking: an empty queue returns (0, nil). A popped header whose source
// identity or payload reference is wrong returns ErrProtocolViolation: the
// queue held unexpected content, which is a different condition from holding
// nothing.
func (s *Session) Receive(buf []byte) (int, error) {
	if s.role != Consumer {
		logDebug("receive rejected", "role", s.role.String())
		return 0, ErrNotPermitted
	}
	if s.closed.Load() {
		return 0, ErrClosed
	}

	v, err := newRegionView(s.mem)
	if err != nil {
		return 0, err
	}

	var rec [RecordSize]byte
	if !v.popRecord(&rec) {
		return 0, nil
	}
	hdr, err := decodeHeader(rec[:])
	if err != nil {
		return 0, ErrProtocolViolation
	}
	if hdr.SourceID != s.expected {
		logInfo("message from unexpected source", "got", hdr.SourceID, "want", s.expected)
		return 0, ErrProtocolViolation
	}
	if !validHeader(hdr, v.payloadCap()) {
		logInfo("message header out of bounds", "offset", hdr.PayloadOffset, "length", hdr.PayloadLength)
		return 0, ErrProtocolViolation
	}

	// The pop's atomic index load pairs with the producer's publish, so
	// the payload bytes read below are the producer's final bytes.
	n := int64(len(buf))
	if hdr.PayloadLength < n {
		n = hdr.PayloadLength
	}
	copy(buf, v.payload()[hdr.PayloadOffset:int64(hdr.PayloadOffset)+n])
	return int(n), nil
}

// drainOnce is the deferred drain body: at most one receive per activation.
// It runs on the notifier's goroutine, never in interrupt context.
func (s *Session) drainOnce() {
	if s.onMessage == nil {
		return
	}
	var buf [RingSize]byte
	n, err := s.Receive(buf[:])
	if err != nil {
		logDebug("drain receive failed", "err", err)
		return
	}
	if n > 0 {
		s.onMessage(buf[:n])
	}
}

// State is a diagnostic snapshot of the queue and this session's view of it.
// Values are read with atomic loads but not as one consistent cut; treat it
// as an observability aid, not a synchronization primitive.
type State struct {
	In            uint32 `json:"in"`
	Out           uint32 `json:"out"`
	QueuedRecords uint32 `json:"queued_records"`
	FreeBytes     uint32 `json:"free_bytes"`
	Capacity      uint32 `json:"capacity"`
	Cursor        uint32 `json:"cursor"`
	PayloadCap    int    `json:"payload_capacity"`
	RegionSize    int    `json:"region_size"`
	LockHeld      bool   `json:"lock_held"`
	Role          string `json:"role"`
	LocalID       uint32 `json:"local_id"`
}

// State returns a snapshot of the queue metadata and session counters.
func (s *Session) State() State {
	if s.closed.Load() {
		return State{Role: s.role.String(), LocalID: s.localID}
	}
	v, err := newRegionView(s.mem)
	if err != nil {
		return State{Role: s.role.String(), LocalID: s.localID}
	}
	m := v.meta()
	in, out := m.In(), m.Out()
	return State{
		In:            in,
		Out:           out,
		QueuedRecords: (in - out) / RecordSize,
		FreeBytes:     RingSize - (in - out),
		Capacity:      m.Capacity(),
		Cursor:        s.cursor.Load(),
		PayloadCap:    v.payloadCap(),
		RegionSize:    len(s.mem),
		LockHeld:      lockHeldNow(v),
		Role:          s.role.String(),
		LocalID:       s.localID,
	}
}
