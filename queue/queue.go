// Package queue implements the move queue of spec.md section 3: a bounded
// single-producer/single-consumer ring the motion package drains one move
// at a time while its foreground appends new ones. The head/tail ring
// layout is the one the domain corpus uses for exactly this problem (a
// fixed array plus wrapping head/tail indices sized to the configured
// depth); the synchronization discipline here — acquire/release ordering
// via sync/atomic for the head/tail indices that TryPop reads without
// the mutex, condition variables for the blocking Push/Pop paths — is
// this package's own addition to that shape.
package queue

import (
	"sync"
	"sync/atomic"

	"stepcore.dev/move"
)

// Queue is a bounded ring of move.Move. The zero value is not usable;
// construct with New.
type Queue struct {
	buf  []move.Move
	head atomic.Uint32 // next slot to dequeue; advanced by the consumer
	tail atomic.Uint32 // next slot to enqueue; advanced by the producer

	mu      sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
}

// New creates a queue holding capacity moves. capacity must be a power of
// two no smaller than 2; cmd/stepcore derives it from
// config.Config.QueueCapacity, whose Validate method enforces this.
func New(capacity int) *Queue {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		panic("queue: capacity must be a power of two >= 2")
	}
	q := &Queue{buf: make([]move.Move, capacity)}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) mask(i uint32) uint32 { return i & uint32(len(q.buf)-1) }

// Len returns the number of queued-but-not-yet-dequeued moves. Safe to
// call from either side.
func (q *Queue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Cap returns the queue's fixed capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Full reports whether the queue has no free slots.
func (q *Queue) Full() bool { return q.Len() == len(q.buf) }

// Push blocks until a slot is free, then appends mv. Only the producer
// (the motion package's foreground, per spec.md section 3) may call
// Push; calling it from two goroutines concurrently is a race.
func (q *Queue) Push(mv move.Move) {
	q.mu.Lock()
	for q.Full() {
		q.notFull.Wait()
	}
	q.mu.Unlock()

	tail := q.tail.Load()
	q.buf[q.mask(tail)] = mv
	q.tail.Store(tail + 1) // release: publishes buf[tail] to the consumer

	q.mu.Lock()
	q.notEmpty.Signal()
	q.mu.Unlock()
}

// TryPop removes and returns the oldest move without waiting for one to
// arrive. ok is false when the queue was empty. After a successful pop it
// takes the queue's mutex briefly to wake a blocked Push, so it is not
// lock-free; its only caller outside the tests is Pop.
func (q *Queue) TryPop() (mv move.Move, ok bool) {
	head := q.head.Load()
	tail := q.tail.Load() // acquire: observes everything Push published
	if head == tail {
		return move.Move{}, false
	}
	mv = q.buf[q.mask(head)]
	q.head.Store(head + 1)
	q.mu.Lock()
	q.notFull.Signal()
	q.mu.Unlock()
	return mv, true
}

// Pop blocks until a move is available, then removes and returns it. For
// the motion package's drain goroutine, which may block freely.
func (q *Queue) Pop() move.Move {
	for {
		if mv, ok := q.TryPop(); ok {
			return mv
		}
		q.mu.Lock()
		if q.Len() == 0 {
			q.notEmpty.Wait()
		}
		q.mu.Unlock()
	}
}

// Reset drops every queued move, for spec.md section 4.5's emergency
// stop: the queue is emptied along with the scheduler and DDA state.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.head.Store(q.tail.Load())
	q.notFull.Signal()
}
