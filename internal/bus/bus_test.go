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

package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SilasMarvin/wasmind-sub001/internal/domain"
)

func TestPublishBroadcastsToAllSubscribers(t *testing.T) {
	b := New(8)
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer s1.Close()
	defer s2.Close()

	env := domain.Envelope{FromScope: "root", MessageType: domain.TypeExit}
	b.Publish(env)

	require.Equal(t, env, recvOrFail(t, s1.Envelopes))
	require.Equal(t, env, recvOrFail(t, s2.Envelopes))
}

func TestPublishIsFIFOPerPublisher(t *testing.T) {
	b := New(8)
	s := b.Subscribe()
	defer s.Close()

	for i := 0; i < 5; i++ {
		b.Publish(domain.Envelope{FromScope: "root", MessageType: domain.TypeExit, Payload: []byte{byte(i)}})
	}

	for i := 0; i < 5; i++ {
		env := recvOrFail(t, s.Envelopes)
		require.Equal(t, []byte{byte(i)}, env.Payload)
	}
}

func TestOverflowSignalsLagInsteadOfBlocking(t *testing.T) {
	b := New(1)
	s := b.Subscribe()
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(domain.Envelope{FromScope: "root", MessageType: domain.TypeExit})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}

	select {
	case <-s.Lagged:
	default:
		t.Fatal("expected a lag signal after overflowing a capacity-1 subscriber")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New(8)
	s := b.Subscribe()
	s.Close()
	require.Equal(t, 0, b.SubscriberCount())

	b.Publish(domain.Envelope{FromScope: "root", MessageType: domain.TypeExit})

	_, ok := <-s.Envelopes
	require.False(t, ok, "closed subscription's channel should be closed, not just empty")
}

func recvOrFail(t *testing.T, ch <-chan domain.Envelope) domain.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return domain.Envelope{}
	}
}
