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

// Package event is an in-process publish/subscribe bus for pipeline and
// index notifications.
package event

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SubscriberQueueSize = 32
	AsyncQueueSize      = 256
	AsyncWorkers        = 2
)

// ErrSubscriberFull is returned by a channel subscriber whose buffer is full
var ErrSubscriberFull = errors.New("event: subscriber queue full")

type Type string

type SubscriberID int

type HandlerFunc func(Event)

type Event struct {
	Type      Type
	Timestamp time.Time
	Data      any
}

func New(typ Type, data any) Event {
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Subscriber receives events. Close must be idempotent.
type Subscriber interface {
	Deliver(Event) error
	Close()
}

type channelSubscriber struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

func newChannelSubscriber(size int) *channelSubscriber {
	return &channelSubscriber{ch: make(chan Event, size)}
}

// Deliver never blocks. A full buffer drops the event.
func (c *channelSubscriber) Deliver(evt Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	select {
	case c.ch <- evt:
		return nil
	default:
		return ErrSubscriberFull
	}
}

func (c *channelSubscriber) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Bus routes events to subscribers by type
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type]map[SubscriberID]Subscriber
	lastID      SubscriberID
	metrics     *busMetrics
	logger      *slog.Logger
	asyncQueue  chan Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	stopped     bool
	workers     sync.WaitGroup
	handlers    sync.WaitGroup
}

// NewBus returns a running bus. A nil registry disables metrics.
func NewBus(promRegistry prometheus.Registerer, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	b := &Bus{
		subscribers: make(map[Type]map[SubscriberID]Subscriber),
		logger:      logger.With("component", "event"),
		asyncQueue:  make(chan Event, AsyncQueueSize),
		stopCh:      make(chan struct{}),
	}
	if promRegistry != nil {
		b.metrics = newBusMetrics(promRegistry)
	}
	for range AsyncWorkers {
		b.workers.Add(1)
		go b.asyncWorker()
	}
	return b
}

func (b *Bus) asyncWorker() {
	defer b.workers.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case evt := <-b.asyncQueue:
			b.Publish(evt)
		}
	}
}

func (b *Bus) register(typ Type, sub Subscriber, kind string) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		sub.Close()
		return 0
	}
	b.lastID++
	id := b.lastID
	if _, ok := b.subscribers[typ]; !ok {
		b.subscribers[typ] = make(map[SubscriberID]Subscriber)
	}
	b.subscribers[typ][id] = sub
	if b.metrics != nil {
		b.metrics.subscribers.WithLabelValues(string(typ), kind).Inc()
	}
	return id
}

// Subscribe returns a buffered channel receiving events of typ. The
// channel is closed by Unsubscribe or Stop. On a stopped bus the returned
// id is zero and the channel is already closed.
func (b *Bus) Subscribe(typ Type) (SubscriberID, <-chan Event) {
	sub := newChannelSubscriber(SubscriberQueueSize)
	return b.register(typ, sub, "channel"), sub.ch
}

// SubscribeFunc calls fn for each event of typ on a dedicated goroutine.
// Stop waits for the goroutine to exit.
func (b *Bus) SubscribeFunc(typ Type, fn HandlerFunc) SubscriberID {
	id, ch := b.Subscribe(typ)
	b.handlers.Add(1)
	go func() {
		defer b.handlers.Done()
		for evt := range ch {
			b.invoke(typ, fn, evt)
		}
	}()
	return id
}

func (b *Bus) invoke(typ Type, fn HandlerFunc, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", "type", typ, "panic", r)
		}
	}()
	fn(evt)
}

// RegisterSubscriber adds an external subscriber implementation
func (b *Bus) RegisterSubscriber(typ Type, sub Subscriber) SubscriberID {
	return b.register(typ, sub, "external")
}

// Unsubscribe removes and closes a subscriber
func (b *Bus) Unsubscribe(typ Type, id SubscriberID) {
	b.mu.Lock()
	sub, ok := b.subscribers[typ][id]
	if ok {
		delete(b.subscribers[typ], id)
		if len(b.subscribers[typ]) == 0 {
			delete(b.subscribers, typ)
		}
		if b.metrics != nil {
			b.metrics.subscribers.WithLabelValues(string(typ), subscriberKind(sub)).Dec()
		}
	}
	b.mu.Unlock()
	if ok {
		sub.Close()
	}
}

func subscriberKind(sub Subscriber) string {
	if _, ok := sub.(*channelSubscriber); ok {
		return "channel"
	}
	return "external"
}

// Publish delivers evt to every subscriber of its type. Subscribers whose
// channel is full miss the event. External subscribers that fail are
// removed.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	subs := make(map[SubscriberID]Subscriber, len(b.subscribers[evt.Type]))
	for id, sub := range b.subscribers[evt.Type] {
		subs[id] = sub
	}
	b.mu.RUnlock()
	for id, sub := range subs {
		err := b.deliver(sub, evt)
		if err == nil {
			continue
		}
		kind := subscriberKind(sub)
		if b.metrics != nil {
			b.metrics.deliveryErrors.WithLabelValues(string(evt.Type), kind).Inc()
		}
		if errors.Is(err, ErrSubscriberFull) {
			b.logger.Warn("subscriber queue full, dropping event", "type", evt.Type, "subscriber", id)
			continue
		}
		b.logger.Debug("event delivery failed", "type", evt.Type, "subscriber", id, "error", err)
		b.Unsubscribe(evt.Type, id)
	}
	if b.metrics != nil {
		b.metrics.events.WithLabelValues(string(evt.Type)).Inc()
	}
}

func (b *Bus) deliver(sub Subscriber, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.Deliver(evt)
}

// PublishAsync queues evt for delivery by the worker pool. It returns false
// when the bus is stopped or the queue is full.
func (b *Bus) PublishAsync(evt Event) bool {
	b.mu.RLock()
	stopped := b.stopped
	b.mu.RUnlock()
	if stopped {
		return false
	}
	select {
	case b.asyncQueue <- evt:
		return true
	default:
		b.logger.Warn("async event queue full, dropping event", "type", evt.Type)
		if b.metrics != nil {
			b.metrics.deliveryErrors.WithLabelValues(string(evt.Type), "async").Inc()
		}
		return false
	}
}

// Stop closes every subscriber and waits for the worker pool and
// SubscribeFunc goroutines. The bus cannot be restarted.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		subs := b.subscribers
		b.subscribers = make(map[Type]map[SubscriberID]Subscriber)
		b.mu.Unlock()

		close(b.stopCh)
		b.workers.Wait()
		for _, byID := range subs {
			for _, sub := range byID {
				sub.Close()
			}
		}
		b.handlers.Wait()
		if b.metrics != nil {
			b.metrics.subscribers.Reset()
		}
	})
}
