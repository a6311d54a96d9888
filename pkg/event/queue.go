// Package event implements the per-host event queue and the worker pool
// that drains it in lockstep rounds, per spec.md §4.2 and §4.8.
package event

import (
	"container/heap"

	"github.com/shadow-sim/engine/pkg/shmem"
	"github.com/shadow-sim/engine/pkg/simtime"
)

// Event is one scheduled unit of work targeting a host at a future
// simulation time.
type Event struct {
	Time   simtime.SimulationTime
	Seq    uint64 // tie-break for events scheduled at the same time
	HostID shmem.HostID
	Run    func()
}

// Queue is a per-host binary min-heap ordered by (Time, Seq), matching
// the deterministic tie-break spec.md §4.2 requires: events scheduled at
// identical simulation times run in the order they were pushed.
type Queue struct {
	items  eventHeap
	nextSeq uint64
}

// New returns an empty Queue.
func New() *Queue { return &Queue{} }

// Push inserts an event, stamping it with the queue's next sequence
// number to break time ties deterministically.
func (q *Queue) Push(e Event) {
	e.Seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.items, e)
}

// Len returns the number of pending events.
func (q *Queue) Len() int { return len(q.items) }

// NextTime returns the time of the earliest pending event, or false if
// the queue is empty.
func (q *Queue) NextTime() (simtime.SimulationTime, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0].Time, true
}

// PopUpTo pops and returns every event whose Time is <= t, in
// (Time, Seq) order.
func (q *Queue) PopUpTo(t simtime.SimulationTime) []Event {
	var out []Event
	for len(q.items) > 0 && q.items[0].Time <= t {
		out = append(out, heap.Pop(&q.items).(Event))
	}
	return out
}

type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Time != h[j].Time {
		return h[i].Time < h[j].Time
	}
	return h[i].Seq < h[j].Seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
