package event

import (
	"sync"
	"time"
)

// OverflowPolicy defines queue behavior when a consumer queue is full.
type OverflowPolicy uint8

const (
	// OverflowBlock makes the publisher wait for space, bounded by
	// blockPublishWait; past the bound the event is dropped.
	OverflowBlock OverflowPolicy = iota
	// OverflowDropNewest drops the incoming event if the queue is full.
	OverflowDropNewest
	// OverflowDropOldest drops the oldest queued event to make room.
	OverflowDropOldest
)

// Bus fans events out to attached consumers. Publish applies each consumer's
// own overflow policy, so one slow consumer only affects its own queue.
type Bus struct {
	mu        sync.RWMutex
	consumers map[*Consumer]struct{}
	closed    bool
}

func NewBus() *Bus {
	return &Bus{
		consumers: make(map[*Consumer]struct{}),
	}
}

// Attach creates a consumer with a bounded queue and registers it.
func (b *Bus) Attach(capacity int, policy OverflowPolicy) *Consumer {
	consumer := &Consumer{queue: newQueue(capacity, policy)}
	b.mu.Lock()
	if b.closed {
		consumer.queue.close()
	} else {
		b.consumers[consumer] = struct{}{}
	}
	b.mu.Unlock()
	return consumer
}

// Detach unregisters the consumer and closes its queue.
func (b *Bus) Detach(consumer *Consumer) {
	if consumer == nil {
		return
	}
	b.mu.Lock()
	delete(b.consumers, consumer)
	b.mu.Unlock()
	consumer.queue.close()
}

// Publish delivers the event to every attached consumer. Delivery happens
// outside the bus lock, so a full queue never holds up Attach or Detach, and
// each queue's overflow policy is confined to that queue alone.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	consumers := make([]*Consumer, 0, len(b.consumers))
	for consumer := range b.consumers {
		consumers = append(consumers, consumer)
	}
	b.mu.RUnlock()

	for _, consumer := range consumers {
		consumer.queue.push(evt)
	}
}

// Close detaches every consumer and rejects new publishes' deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	consumers := make([]*Consumer, 0, len(b.consumers))
	for consumer := range b.consumers {
		consumers = append(consumers, consumer)
	}
	b.consumers = make(map[*Consumer]struct{})
	b.mu.Unlock()

	for _, consumer := range consumers {
		consumer.queue.close()
	}
}

// Consumer receives published events through a bounded queue.
type Consumer struct {
	queue *queue
}

// Next blocks until an event is available or the consumer is detached.
func (c *Consumer) Next() (Event, bool) {
	if c == nil || c.queue == nil {
		return Event{}, false
	}
	return c.queue.pop()
}

// Len returns the number of queued events.
func (c *Consumer) Len() int {
	if c == nil || c.queue == nil {
		return 0
	}
	return c.queue.len()
}

// queue is a bounded ring buffer of events.
type queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      []Event
	head     int
	tail     int
	size     int
	closed   bool
	policy   OverflowPolicy
}

func newQueue(capacity int, policy OverflowPolicy) *queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &queue{
		buf:    make([]Event, capacity),
		policy: policy,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// blockPublishWait bounds how long one delivery may wait on a full Block
// queue. Past it the event is dropped, keeping the publish path from ever
// stalling on a single slow consumer.
const blockPublishWait = 50 * time.Millisecond

func (q *queue) push(evt Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	var deadline time.Time
	for {
		if q.closed {
			return false
		}
		if q.size < len(q.buf) {
			q.buf[q.tail] = evt
			q.tail = (q.tail + 1) % len(q.buf)
			q.size++
			q.notEmpty.Signal()
			return true
		}
		switch q.policy {
		case OverflowBlock:
			now := time.Now()
			if deadline.IsZero() {
				deadline = now.Add(blockPublishWait)
			} else if !now.Before(deadline) {
				return false
			}
			timer := time.AfterFunc(time.Until(deadline), func() {
				q.mu.Lock()
				q.notFull.Broadcast()
				q.mu.Unlock()
			})
			q.notFull.Wait()
			timer.Stop()
		case OverflowDropOldest:
			q.buf[q.head] = Event{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
		default:
			return false
		}
	}
}

func (q *queue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.size > 0 {
			evt := q.buf[q.head]
			q.buf[q.head] = Event{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			q.notFull.Signal()
			return evt, true
		}
		if q.closed {
			return Event{}, false
		}
		q.notEmpty.Wait()
	}
}

func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for i := range q.buf {
		q.buf[i] = Event{}
	}
	q.size = 0
	q.head = 0
	q.tail = 0
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
}

func (q *queue) len() int {
	q.mu.Lock()
	size := q.size
	q.mu.Unlock()
	return size
}
