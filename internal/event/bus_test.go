package event

import (
	"context"
	"testing"
	"time"

	"qrbatch/internal/metrics"
)

func TestBusSubscribePublish(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	ch, cancel := bus.Subscribe()
	bus.Publish(42)

	select {
	case got := <-ch:
		if got != 42 {
			t.Fatalf("expected 42, got %d", got)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
	cancel()
}

func TestBusFanOutToAllSubscribers(t *testing.T) {
	bus := NewBus[ProgressEvent](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	first, cancelFirst := bus.Subscribe()
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe()
	defer cancelSecond()

	bus.Publish(NewProgressEvent(KindStart, "job-1", "12", "starting"))

	for _, ch := range []<-chan ProgressEvent{first, second} {
		select {
		case got := <-ch:
			if got.Kind != KindStart || got.JobID != "job-1" {
				t.Fatalf("unexpected event %+v", got)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timed out waiting for fan-out")
		}
	}
}

func TestBusNoReplayForLateSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	bus.Publish(1)
	ch, cancel := bus.Subscribe()
	defer cancel()

	select {
	case got := <-ch:
		t.Fatalf("late subscriber received %d", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	registry := metrics.New()
	bus := NewBus[ProgressEvent](context.Background(), BusOptions{
		Name:                 "progress",
		SubscriberBufferSize: 1,
		Registry:             registry,
	})
	t.Cleanup(bus.Close)

	slow, cancelSlow := bus.Subscribe()
	defer cancelSlow()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			bus.Publish(ProgressEvent{Kind: KindProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	if len(slow) != 1 {
		t.Fatalf("slow subscriber should hold exactly its buffer, got %d", len(slow))
	}
	if got := registry.Dropped("progress", "progress"); got != 2 {
		t.Fatalf("expected 2 drops, got %v", got)
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	ch, _ := bus.Subscribe()

	bus.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after bus close")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
	bus.Publish(1)
}

func TestBusClosesWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus[int](ctx, BusOptions{})
	ch, _ := bus.Subscribe()

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("bus did not close on context cancel")
	}
}

func TestBusMaxSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{MaxSubscribers: 1})
	t.Cleanup(bus.Close)

	_, cancel := bus.Subscribe()
	defer cancel()
	rejected, _ := bus.Subscribe()
	if _, ok := <-rejected; ok {
		t.Fatal("expected over-limit subscription to be closed")
	}
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}
}

func TestBusFilterPanicRemovesSubscriber(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	ch, _ := bus.SubscribeFiltered(func(int) bool { panic("boom") })
	bus.Publish(7)

	if _, ok := <-ch; ok {
		t.Fatal("expected panicking subscriber to be pruned")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers, got %d", bus.SubscriberCount())
	}
}
