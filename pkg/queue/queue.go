// Package queue implements the bounded, per-signal FIFO fabric that sits
// between the OTLP receivers (many producers) and the source driver's poll
// loop (one consumer).
package queue

import (
	"sync"
	"time"

	"github.com/conduktor/kafka-connect-opentelemetry/pkg/otlp"
)

// Queue is a bounded FIFO of otlp.Message. Offer never blocks: once full,
// it reports failure so the caller can drop and count. Poll waits up to a
// timeout for the first message, then returns; DrainUpTo never waits.
//
// Safe for many concurrent callers of Offer and exactly one caller of Poll
// / DrainUpTo at a time (single-consumer), per the fabric's concurrency
// contract.
type Queue struct {
	mu       sync.Mutex
	buf      []otlp.Message
	head     int
	size     int
	capacity int
	notify   chan struct{}
}

// NewQueue returns a Queue with the given bounded capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		buf:      make([]otlp.Message, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Offer enqueues msg and reports true, or reports false without blocking
// when the queue is already at capacity.
func (q *Queue) Offer(msg otlp.Message) bool {
	q.mu.Lock()
	if q.size == q.capacity {
		q.mu.Unlock()
		return false
	}
	tail := (q.head + q.size) % q.capacity
	q.buf[tail] = msg
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Poll waits up to timeout for one message. It returns ok=false if the
// timeout elapses with nothing available.
func (q *Queue) Poll(timeout time.Duration) (msg otlp.Message, ok bool) {
	deadline := time.Now().Add(timeout)
	for {
		if m, got := q.tryPop(); got {
			return m, true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return otlp.Message{}, false
		}

		timer := time.NewTimer(remaining)
		select {
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
			return otlp.Message{}, false
		}
	}
}

// DrainUpTo removes and returns at most k currently-available messages
// without waiting.
func (q *Queue) DrainUpTo(k int) []otlp.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.size
	if n > k {
		n = k
	}
	out := make([]otlp.Message, n)
	for i := 0; i < n; i++ {
		out[i] = q.buf[(q.head+i)%q.capacity]
	}
	q.head = (q.head + n) % q.capacity
	q.size -= n
	return out
}

func (q *Queue) tryPop() (otlp.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return otlp.Message{}, false
	}
	m := q.buf[q.head]
	q.head = (q.head + 1) % q.capacity
	q.size--
	return m, true
}

// Size returns the current number of buffered messages.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Remaining returns the number of additional messages the queue can accept
// before Offer starts failing.
func (q *Queue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity - q.size
}

// Capacity returns the queue's fixed bound.
func (q *Queue) Capacity() int { return q.capacity }

// Fabric holds the three independent per-signal queues. Saturating one
// signal's queue never affects the other two, since each has its own
// buffer and mutex.
type Fabric struct {
	queues [3]*Queue
}

// NewFabric builds a Fabric with one Queue of the given capacity per
// signal.
func NewFabric(capacity int) *Fabric {
	f := &Fabric{}
	for i := range f.queues {
		f.queues[i] = NewQueue(capacity)
	}
	return f
}

// For returns the Queue for the given signal.
func (f *Fabric) For(signal otlp.SignalKind) *Queue {
	return f.queues[signal]
}
