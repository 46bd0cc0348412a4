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
	"encoding/binary"
	"errors"
)

// Message header record layout (16 bytes, little-endian):
//
//	uint32 sourceID      // sending peer's protocol identity
//	uint32 payloadOffset // byte offset of the payload inside the payload area
//	int64  payloadLength // payload length in bytes
//
// Headers are the only thing the ring queue carries; payload bytes live in
// the payload area and are referenced by offset/length.

// MessageHeader is the fixed-size record published into the ring queue for
// each message.
type MessageHeader struct {
	SourceID      uint32
	PayloadOffset uint32
	PayloadLength int64
}

func encodeHeaderTo(dst *[RecordSize]byte, h MessageHeader) {
	b := dst[:]
	binary.LittleEndian.PutUint32(b[0:4], h.SourceID)
	binary.LittleEndian.PutUint32(b[4:8], h.PayloadOffset)
	binary.LittleEndian.PutUint64(b[8:16], uint64(h.PayloadLength))
}

func decodeHeader(b []byte) (MessageHeader, error) {
	if len(b) < RecordSize {
		return MessageHeader{}, errors.New("message header too short")
	}
	var h MessageHeader
	h.SourceID = binary.LittleEndian.Uint32(b[0:4])
	h.PayloadOffset = binary.LittleEndian.Uint32(b[4:8])
	h.PayloadLength = int64(binary.LittleEndian.Uint64(b[8:16]))
	return h, nil
}

// validHeader reports whether the header's payload reference stays inside a
// payload area of payloadCap bytes. Headers popped from shared memory are
// untrusted until this passes: a stale, torn, or foreign record can point
// anywhere.
func validHeader(h MessageHeader, payloadCap int) bool {
	if h.PayloadLength < 0 {
		return false
	}
	if int64(h.PayloadOffset) > int64(payloadCap) {
		return false
	}
	return int64(h.PayloadOffset)+h.PayloadLength <= int64(payloadCap)
}
