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
	"sync"
	"sync/atomic"
)

// notifier is the deferred-drain half of the doorbell state machine:
//
//	Idle -> doorbell rung on the remote -> interrupt fires here ->
//	drain scheduled -> drain running -> Idle
//
// Interrupt runs in the device's notification context, so it only enqueues a
// wakeup and returns. A single long-lived goroutine executes drains one at a
// time; the capacity-1 kick channel makes interrupts arriving while a drain
// is scheduled or running coalesce into at most one further run. That bounds
// the work an interrupt storm can schedule. Each drain activation performs
// exactly one receive, so a burst of N messages needs multiple
// interrupt/drain cycles; known limitation.
type notifier struct {
	kick chan struct{}
	quit chan struct{}

	drain func()

	stopOnce sync.Once
	wg       sync.WaitGroup

	// Diagnostic counters.
	interrupts atomic.Uint64 // interrupts observed
	coalesced  atomic.Uint64 // interrupts absorbed by a pending run
	drains     atomic.Uint64 // drain activations executed
}

// newNotifier starts the drain goroutine. drain is called once per
// activation and must bound its own work.
func newNotifier(drain func()) *notifier {
	n := &notifier{
		kick:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
		drain: drain,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// Interrupt schedules a drain. Safe to call from the device's notification
// context: it never blocks and never touches the queue itself.
func (n *notifier) Interrupt() {
	n.interrupts.Add(1)
	select {
	case n.kick <- struct{}{}:
	default:
		// A drain is already scheduled or running with another pending;
		// this interrupt coalesces into it.
		n.coalesced.Add(1)
	}
}

func (n *notifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.quit:
			return
		case <-n.kick:
			n.drains.Add(1)
			n.drain()
		}
	}
}

// Stop terminates the drain goroutine and waits for an in-flight drain to
// finish. Interrupts arriving after Stop are ignored.
func (n *notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.quit)
	})
	n.wg.Wait()
}
