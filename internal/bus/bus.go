// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bus implements the in-process broadcast channel of domain
// envelopes (spec §4.4): multi-producer / multi-subscriber, bounded per
// subscriber, best-effort, FIFO only from a single publisher's perspective.
package bus

import (
	"sync"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

// DefaultCapacity is the bounded queue depth applied to a subscriber that
// does not request one explicitly.
const DefaultCapacity = 1024

// Subscription is a subscriber's receive path. A subscriber that does not
// drain Envelopes fast enough receives a signal on Lagged after an
// overflow; overflows that happen before that signal is drained share it,
// so one signal can stand for several dropped envelopes. It is the
// subscriber's responsibility to resynchronize by
// re-reading authoritative state rather than trusting the envelope stream
// to be complete.
type Subscription struct {
	Envelopes <-chan domain.Envelope
	Lagged    <-chan struct{}

	bus *Bus
	id  uint64
}

// Close unsubscribes; further Publish calls stop delivering to it.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// Bus is a single-process broadcast bus. The zero value is not usable; use
// New.
type Bus struct {
	capacity int

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
}

type subscriber struct {
	envelopes chan domain.Envelope
	lagged    chan struct{}
}

// New creates a Bus with the given per-subscriber bounded capacity. A
// capacity of 0 uses DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		capacity: capacity,
		subs:     make(map[uint64]*subscriber),
	}
}

// Subscribe registers a new subscriber and returns its receive path. Every
// envelope published after this call (from any publisher) is visible to it,
// in the order each individual publisher published them.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	sub := &subscriber{
		envelopes: make(chan domain.Envelope, b.capacity),
		lagged:    make(chan struct{}, 1),
	}
	b.subs[id] = sub

	return &Subscription{Envelopes: sub.envelopes, Lagged: sub.lagged, bus: b, id: id}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.envelopes)
		delete(b.subs, id)
	}
}

// Publish broadcasts env to every current subscriber. It never blocks: a
// subscriber whose queue is full is sent a (non-blocking, coalesced) lag
// signal instead of the envelope, and the bus moves on (spec §4.4 "no
// acknowledgments, no retries").
func (b *Bus) Publish(env domain.Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.envelopes <- env:
		default:
			select {
			case sub.lagged <- struct{}{}:
			default:
			}
		}
	}
}

// SubscriberCount reports how many subscriptions are currently live, mostly
// useful for tests and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
