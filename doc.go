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

// Package ringbuf implements a single-producer/single-consumer message
// protocol over a memory region shared between otherwise independent
// execution contexts, such as two virtual machines attached to the same
// inter-VM shared memory (ivshmem) device.
//
// One attached peer is statically configured as the producer, another as the
// consumer. A send copies the payload into a shared payload area, publishes a
// fixed-size message header into a 512-byte ring queue at the front of the
// region, and rings a doorbell register. The doorbell raises an interrupt on
// the remote peer, whose handler only schedules a deferred drain; the drain
// pops one header, validates it, and copies the payload out.
//
// The region layout, header encoding, and lock-word placement are fixed and
// byte-identical across peers, so any implementation of the same protocol can
// sit on the other end of the region. Cross-address-space visibility is
// coordinated with a compare-and-swap lock word living inside the region and
// with atomic (sequentially consistent) accesses to the queue index words;
// there is no broker process and no kernel involvement on the data path.
package ringbuf
