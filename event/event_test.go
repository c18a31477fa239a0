// Copyright 2026 Blink Labs Software
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

package event

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testType = Type("test.event")

func TestBusSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBus(nil, nil)
	defer b.Stop()
	_, ch1 := b.Subscribe(testType)
	_, ch2 := b.Subscribe(testType)
	_, other := b.Subscribe("other.event")

	b.Publish(New(testType, 999))
	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, testType, evt.Type)
			assert.Equal(t, 999, evt.Data)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
	select {
	case <-other:
		t.Fatal("event delivered to wrong type")
	default:
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(nil, nil)
	defer b.Stop()
	id, ch := b.Subscribe(testType)
	b.Unsubscribe(testType, id)
	b.Publish(New(testType, 1))
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBusFullSubscriberDoesNotBlock(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := NewBus(reg, nil)
	defer b.Stop()
	_, ch := b.Subscribe(testType)

	done := make(chan struct{})
	go func() {
		for i := range SubscriberQueueSize + 5 {
			b.Publish(New(testType, i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, SubscriberQueueSize)
	assert.InDelta(
		t,
		5,
		testutil.ToFloat64(b.metrics.deliveryErrors.WithLabelValues(string(testType), "channel")),
		0,
	)
	assert.InDelta(
		t,
		SubscriberQueueSize+5,
		testutil.ToFloat64(b.metrics.events.WithLabelValues(string(testType))),
		0,
	)
}

type failingSubscriber struct {
	closed atomic.Bool
}

func (f *failingSubscriber) Deliver(Event) error {
	return errors.New("deliver failed")
}

func (f *failingSubscriber) Close() {
	f.closed.Store(true)
}

func TestBusFailingSubscriberRemoved(t *testing.T) {
	b := NewBus(nil, nil)
	defer b.Stop()
	sub := &failingSubscriber{}
	id := b.RegisterSubscriber(testType, sub)
	require.NotZero(t, id)
	b.Publish(New(testType, "x"))
	b.mu.RLock()
	_, present := b.subscribers[testType][id]
	b.mu.RUnlock()
	assert.False(t, present)
	assert.True(t, sub.closed.Load())
}

func TestBusSubscribeFuncAndStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBus(nil, nil)
	got := make(chan any, 1)
	b.SubscribeFunc(SubmissionSealedEventType, func(evt Event) {
		got <- evt.Data
	})
	b.SubscribeFunc(SubmissionSealedEventType, func(Event) {
		panic("handler bug")
	})
	b.Publish(New(SubmissionSealedEventType, SubmissionSealedEvent{Name: "relay"}))
	select {
	case data := <-got:
		assert.Equal(t, "relay", data.(SubmissionSealedEvent).Name)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	b.Stop()

	id, ch := b.Subscribe(testType)
	assert.Zero(t, id)
	_, ok := <-ch
	assert.False(t, ok)
	assert.False(t, b.PublishAsync(New(testType, 1)))
}

func TestBusPublishAsync(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBus(nil, nil)
	_, ch := b.Subscribe(testType)
	require.True(t, b.PublishAsync(New(testType, 7)))
	select {
	case evt := <-ch:
		assert.Equal(t, 7, evt.Data)
	case <-time.After(time.Second):
		t.Fatal("async event not delivered")
	}
	b.Stop()
}

func TestBusConcurrentPublishAndStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	for range 100 {
		b := NewBus(nil, nil)
		id, ch := b.Subscribe(testType)
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := range 10 {
				b.Publish(New(testType, j))
			}
		}()
		go func() {
			defer wg.Done()
			b.Unsubscribe(testType, id)
			b.Stop()
		}()
		go func() {
			defer wg.Done()
			for range ch { //nolint:revive // drain
			}
		}()
		wg.Wait()
	}
}
