package vclock

import (
	"container/heap"
	"time"
)

// Scheduler is a virtual clock with deferred callbacks. Time only moves when
// the owner calls AdvanceTo, so every replica advancing through the same
// timestamps fires the same callbacks in the same order.
type Scheduler struct {
	now     int64
	seq     uint64
	pending timerQueue
}

type timer struct {
	due int64
	seq uint64
	fn  func()
}

// Creates a scheduler whose clock starts at the given virtual millisecond
func New(start int64) *Scheduler {
	return &Scheduler{now: start}
}

// Returns the current virtual time in milliseconds
func (s *Scheduler) Now() int64 {
	return s.now
}

// Schedules fn to run once the clock reaches Now()+delay
func (s *Scheduler) After(delay time.Duration, fn func()) {
	if fn == nil {
		return
	}
	ms := delay.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	s.seq++
	heap.Push(&s.pending, &timer{due: s.now + ms, seq: s.seq, fn: fn})
}

// Moves the clock forward to t, firing every callback due on the way.
// Callbacks observe Now() equal to their own due time. Going backwards is a no-op.
func (s *Scheduler) AdvanceTo(t int64) {
	for len(s.pending) > 0 && s.pending[0].due <= t {
		next := heap.Pop(&s.pending).(*timer)
		if next.due > s.now {
			s.now = next.due
		}
		next.fn()
	}
	if t > s.now {
		s.now = t
	}
}

type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}

func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *timerQueue) Push(x any) { *q = append(*q, x.(*timer)) }

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
