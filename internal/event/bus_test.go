package event

import (
	"testing"
	"time"
)

func numbered(n int) Event {
	return Event{Type: TypeSnapshotChanged, Symbol: "VNM", Reason: string(rune('a' + n))}
}

func TestDropOldestKeepsNewest(t *testing.T) {
	bus := NewBus()
	consumer := bus.Attach(2, OverflowDropOldest)

	for i := range 4 {
		bus.Publish(numbered(i))
	}

	first, ok := consumer.Next()
	if !ok || first.Reason != "c" {
		t.Fatalf("first: got %+v", first)
	}
	second, ok := consumer.Next()
	if !ok || second.Reason != "d" {
		t.Fatalf("second: got %+v", second)
	}
	if consumer.Len() != 0 {
		t.Fatalf("len: got %d", consumer.Len())
	}
}

func TestDropNewestKeepsOldest(t *testing.T) {
	bus := NewBus()
	consumer := bus.Attach(2, OverflowDropNewest)

	for i := range 4 {
		bus.Publish(numbered(i))
	}

	first, _ := consumer.Next()
	second, _ := consumer.Next()
	if first.Reason != "a" || second.Reason != "b" {
		t.Fatalf("got %q, %q", first.Reason, second.Reason)
	}
}

func TestSlowConsumerDoesNotAffectOthers(t *testing.T) {
	bus := NewBus()
	slow := bus.Attach(1, OverflowDropOldest)
	fast := bus.Attach(8, OverflowDropOldest)

	for i := range 4 {
		bus.Publish(numbered(i))
	}

	if slow.Len() != 1 {
		t.Fatalf("slow len: got %d", slow.Len())
	}
	if fast.Len() != 4 {
		t.Fatalf("fast len: got %d", fast.Len())
	}
}

func TestDetachUnblocksNext(t *testing.T) {
	bus := NewBus()
	consumer := bus.Attach(1, OverflowDropOldest)

	done := make(chan bool, 1)
	go func() {
		_, ok := consumer.Next()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	bus.Detach(consumer)

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Next after detach must report closed")
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock")
	}

	// Publishes after detach are dropped silently.
	bus.Publish(numbered(0))
	if consumer.Len() != 0 {
		t.Fatalf("len after detach: got %d", consumer.Len())
	}
}

func TestFullBlockQueueDoesNotStallOtherConsumers(t *testing.T) {
	bus := NewBus()
	blocked := bus.Attach(1, OverflowBlock)
	healthy := bus.Attach(8, OverflowDropOldest)

	published := make(chan struct{})
	go func() {
		for i := range 3 {
			bus.Publish(numbered(i))
		}
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publish stalled on a full blocking queue")
	}

	if healthy.Len() != 3 {
		t.Fatalf("healthy consumer: got %d events, want 3", healthy.Len())
	}
	if blocked.Len() != 1 {
		t.Fatalf("blocked consumer: got %d events, want 1", blocked.Len())
	}

	// Detach must not wedge behind the full queue either.
	detached := make(chan struct{})
	go func() {
		bus.Detach(blocked)
		close(detached)
	}()
	select {
	case <-detached:
	case <-time.After(time.Second):
		t.Fatal("detach wedged behind a full queue")
	}
}

func TestBlockPolicyWaitsForAReader(t *testing.T) {
	bus := NewBus()
	consumer := bus.Attach(1, OverflowBlock)

	bus.Publish(numbered(0))

	// A reader draining the queue lets the second publish land in time.
	go func() {
		time.Sleep(5 * time.Millisecond)
		consumer.Next()
	}()
	bus.Publish(numbered(1))

	evt, ok := consumer.Next()
	if !ok || evt.Reason != "b" {
		t.Fatalf("expected second event delivered, got %+v", evt)
	}
}

func TestCloseDrainsEveryConsumer(t *testing.T) {
	bus := NewBus()
	first := bus.Attach(2, OverflowBlock)
	second := bus.Attach(2, OverflowBlock)

	bus.Close()

	if _, ok := first.Next(); ok {
		t.Fatal("first consumer should be closed")
	}
	if _, ok := second.Next(); ok {
		t.Fatal("second consumer should be closed")
	}

	// Attaching to a closed bus yields an already closed consumer.
	late := bus.Attach(2, OverflowBlock)
	if _, ok := late.Next(); ok {
		t.Fatal("late consumer should be closed")
	}
}
