package priority

import (
	"sync/atomic"
	"time"
)

// Stats counts pushes and pops per lane since the queue was created.
type Stats struct {
	HighPush int64
	LowPush  int64
	HighPop  int64
	LowPop   int64
}

// PriorityQueue is a two-lane frame queue. Control and system frames
// ride the high lane so barge-in cancels and call teardown are never
// stuck behind buffered audio on the low lane.
type PriorityQueue struct {
	high     chan any
	low      chan any
	fairness int
	highPush int64
	lowPush  int64
	highPop  int64
	lowPop   int64
}

func New(highCap, lowCap, fairness int) *PriorityQueue {
	if fairness <= 0 {
		fairness = 3
	}
	return &PriorityQueue{
		high:     make(chan any, highCap),
		low:      make(chan any, lowCap),
		fairness: fairness,
	}
}

// TryPushHigh enqueues on the high lane, false when the lane is full.
func (q *PriorityQueue) TryPushHigh(f any) bool {
	select {
	case q.high <- f:
		atomic.AddInt64(&q.highPush, 1)
		return true
	default:
		return false
	}
}

// TryPushLow enqueues on the low lane, false when the lane is full.
func (q *PriorityQueue) TryPushLow(f any) bool {
	select {
	case q.low <- f:
		atomic.AddInt64(&q.lowPush, 1)
		return true
	default:
		return false
	}
}

// Pop blocks until a frame is available, draining the high lane first.
func (q *PriorityQueue) Pop() (any, bool) {
	for {
		select {
		case f := <-q.high:
			atomic.AddInt64(&q.highPop, 1)
			return f, true
		default:
		}
		if q.fairness > 0 {
			select {
			case f := <-q.low:
				atomic.AddInt64(&q.lowPop, 1)
				return f, true
			default:
			}
		}
		time.Sleep(time.Millisecond)
	}
}

func (q *PriorityQueue) Stats() Stats {
	return Stats{
		HighPush: atomic.LoadInt64(&q.highPush),
		LowPush:  atomic.LoadInt64(&q.lowPush),
		HighPop:  atomic.LoadInt64(&q.highPop),
		LowPop:   atomic.LoadInt64(&q.lowPop),
	}
}
