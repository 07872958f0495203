package event

import (
	"context"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"qrbatch/internal/logging"
	"qrbatch/internal/metrics"
)

const defaultSubscriberBufferSize = 128
const defaultDropWarningThreshold = 0.01
const defaultDropWarningInterval = 30 * time.Second

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	MaxSubscribers       int
	DropWarningThreshold float64
	DropWarningInterval  time.Duration
	Registry             *metrics.Registry
	Logger               *logging.Logger
}

// Bus fans events out to every subscriber. Publish never blocks: a
// subscriber whose buffer is full misses the event, and subscribers
// that attach later never see earlier events.
type Bus[T any] struct {
	mu          sync.Mutex
	subscribers map[uint64]subscription[T]
	nextSubID   uint64
	closed      bool
	closeOnce   sync.Once
	options     BusOptions
	published   atomic.Int64
	dropped     atomic.Int64
	lastWarning atomic.Int64
}

type typedEvent interface {
	Type() string
}

type subscription[T any] struct {
	id     uint64
	ch     chan T
	filter func(T) bool
}

func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if opts.DropWarningThreshold <= 0 {
		opts.DropWarningThreshold = defaultDropWarningThreshold
	}
	if opts.DropWarningInterval <= 0 {
		opts.DropWarningInterval = defaultDropWarningInterval
	}
	if opts.Name == "" {
		opts.Name = "event_bus"
	}
	bus := &Bus[T]{
		subscribers: make(map[uint64]subscription[T]),
		options:     opts,
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

// SubscribeFiltered registers a subscriber that only receives events
// accepted by filter. The returned cancel func is idempotent.
func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if b == nil {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan T, b.options.SubscriberBufferSize)
	id := atomic.AddUint64(&b.nextSubID, 1)

	b.mu.Lock()
	if b.closed || (b.options.MaxSubscribers > 0 && len(b.subscribers) >= b.options.MaxSubscribers) {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[id] = subscription[T]{id: id, ch: ch, filter: filter}
	count := len(b.subscribers)
	b.mu.Unlock()

	b.options.Registry.SetSubscribers(b.options.Name, count)
	return ch, func() {
		b.removeSubscriber(id)
	}
}

func (b *Bus[T]) Publish(event T) {
	if b == nil || isNil(event) {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subscribers := make([]subscription[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	eventType := eventTypeOf(event)
	b.published.Add(1)
	b.options.Registry.IncEventPublished(b.options.Name, eventType)

	for _, sub := range subscribers {
		if !b.filterAllows(sub, event) {
			continue
		}
		if !b.send(sub, event) {
			b.dropped.Add(1)
			b.options.Registry.IncEventDropped(b.options.Name, eventType)
			b.maybeWarnDropRate()
		}
	}
}

func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription[T])
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
		b.options.Registry.SetSubscribers(b.options.Name, 0)
	})
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// send delivers without blocking. A send on a channel closed by a
// concurrent cancel panics; that subscriber is simply gone.
func (b *Bus[T]) send(sub subscription[T], event T) (delivered bool) {
	defer func() {
		if recover() != nil {
			b.removeSubscriber(sub.id)
			delivered = false
		}
	}()
	select {
	case sub.ch <- event:
		return true
	default:
		return false
	}
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	b.mu.Lock()
	existing, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if !ok {
		return
	}
	close(existing.ch)
	b.options.Registry.SetSubscribers(b.options.Name, count)
}

func (b *Bus[T]) filterAllows(sub subscription[T], event T) (allowed bool) {
	if sub.filter == nil {
		return true
	}
	defer func() {
		if recover() != nil {
			b.options.Logger.Warn("subscriber filter panicked", map[string]string{
				"bus": b.options.Name,
			})
			b.removeSubscriber(sub.id)
			allowed = false
		}
	}()
	return sub.filter(event)
}

func (b *Bus[T]) maybeWarnDropRate() {
	published := b.published.Load()
	dropped := b.dropped.Load()
	if published == 0 || dropped == 0 {
		return
	}
	rate := float64(dropped) / float64(published)
	if rate < b.options.DropWarningThreshold {
		return
	}
	now := time.Now()
	lastNanos := b.lastWarning.Load()
	if lastNanos > 0 && now.Sub(time.Unix(0, lastNanos)) < b.options.DropWarningInterval {
		return
	}
	if !b.lastWarning.CompareAndSwap(lastNanos, now.UnixNano()) {
		return
	}
	b.options.Logger.Warn("event bus dropping events", map[string]string{
		"bus":       b.options.Name,
		"dropped":   strconv.FormatInt(dropped, 10),
		"published": strconv.FormatInt(published, 10),
	})
}

func eventTypeOf[T any](event T) string {
	typed, ok := any(event).(typedEvent)
	if !ok || typed.Type() == "" {
		return "unknown"
	}
	return typed.Type()
}

func isNil[T any](value T) bool {
	kind := reflect.ValueOf(value)
	if !kind.IsValid() {
		return true
	}
	switch kind.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return kind.IsNil()
	default:
		return false
	}
}
