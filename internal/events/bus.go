// Package events is the in-process publish/subscribe channel between lookup
// execution and billing.
//
// Delivery is at-most-once. Every subscriber owns a bounded queue drained by a
// single goroutine. A subscriber may listen to several event types through that
// one queue, so it sees all of them in publish order. A slow subscriber never
// blocks the publisher. Events arriving at a full queue are dropped.
package events

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"lookup-billing-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultQueueSize = 1024

var (
	ErrClosed       = errors.New("event bus is closed")
	ErrMissingTopic = errors.New("event type is required")
)

// Handler consumes one event. Returned errors are logged, never retried.
type Handler func(ctx context.Context, event models.Event) error

type delivery struct {
	ctx   context.Context
	event models.Event
}

type subscriber struct {
	id      uint64
	topics  []string
	handler Handler
	queue   chan delivery
}

type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]*subscriber
	queueSize int
	closed    bool
	nextId    uint64
	wg        sync.WaitGroup

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subs:      make(map[string][]*subscriber),
		queueSize: queueSize,
	}
}

// Subscription detaches a handler from the bus.
type Subscription struct {
	bus  *Bus
	sub  *subscriber
	once sync.Once
}

// Subscribe registers handler for one or more event types and starts its drain
// goroutine. All the types share one queue.
func (b *Bus) Subscribe(handler Handler, topics ...string) (*Subscription, error) {
	if len(topics) == 0 {
		return nil, ErrMissingTopic
	}
	if handler == nil {
		return nil, fmt.Errorf("handler for %v cannot be nil", topics)
	}

	unique := make([]string, 0, len(topics))
	for _, topic := range topics {
		if topic == "" {
			return nil, ErrMissingTopic
		}
		if !slices.Contains(unique, topic) {
			unique = append(unique, topic)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	b.nextId++
	sub := &subscriber{
		id:      b.nextId,
		topics:  unique,
		handler: handler,
		queue:   make(chan delivery, b.queueSize),
	}
	for _, topic := range unique {
		b.subs[topic] = append(b.subs[topic], sub)
	}

	b.wg.Add(1)
	go b.drain(sub)

	zap.L().Debug("Event subscriber registered", zap.Strings("topics", unique), zap.Uint64("subscriber_id", sub.id))
	return &Subscription{bus: b, sub: sub}, nil
}

// Unsubscribe stops delivery to the handler. Already queued events are still handled.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.closed {
			return
		}
		for _, topic := range s.sub.topics {
			list := slices.DeleteFunc(b.subs[topic], func(sub *subscriber) bool { return sub == s.sub })
			if len(list) == 0 {
				delete(b.subs, topic)
			} else {
				b.subs[topic] = list
			}
		}
		close(s.sub.queue)
	})
}

// Publish enqueues event for every subscriber of its type and returns immediately.
// The publisher's cancellation does not reach handlers.
func (b *Bus) Publish(ctx context.Context, event models.Event) error {
	if event.Type == "" {
		return ErrMissingTopic
	}
	if event.Id == "" {
		event.Id = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	b.published.Add(1)

	d := delivery{ctx: context.WithoutCancel(ctx), event: event}
	for _, sub := range b.subs[event.Type] {
		select {
		case sub.queue <- d:
		default:
			b.dropped.Add(1)
			zap.L().Warn("Event dropped, subscriber queue full",
				zap.String("event_id", event.Id),
				zap.String("type", event.Type),
				zap.Uint64("subscriber_id", sub.id))
		}
	}
	return nil
}

// Close rejects further publishes and waits until every queue is drained.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	closed := make(map[*subscriber]bool)
	for topic, list := range b.subs {
		for _, sub := range list {
			if !closed[sub] {
				close(sub.queue)
				closed[sub] = true
			}
		}
		delete(b.subs, topic)
	}
	b.mu.Unlock()

	b.wg.Wait()
	zap.L().Info("Event bus stopped",
		zap.Uint64("published", b.published.Load()),
		zap.Uint64("dropped", b.dropped.Load()))
}

// Dropped reports how many deliveries were discarded because a queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Bus) drain(sub *subscriber) {
	defer b.wg.Done()
	for d := range sub.queue {
		b.deliver(sub, d)
	}
}

func (b *Bus) deliver(sub *subscriber, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("Event handler panicked",
				zap.String("event_id", d.event.Id),
				zap.String("type", d.event.Type),
				zap.Any("panic", r))
		}
	}()

	if err := sub.handler(d.ctx, d.event); err != nil {
		zap.L().Error("Event handler failed",
			zap.String("event_id", d.event.Id),
			zap.String("type", d.event.Type),
			zap.String("account_id", d.event.AccountId),
			zap.Error(err))
	}
}
