package engine

import "container/heap"

// queueEntry wraps an Event with the bookkeeping the min-heap needs: its
// current heap index (for O(log n) removal) and a removed flag observable
// through any TimerID still referencing it.
type queueEntry struct {
	event   Event
	index   int
	removed bool
}

// priorityQueue is a container/heap.Interface over pending queueEntries,
// ordered by Event.Key (time, priority, sequence).
type priorityQueue []*queueEntry

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	return pq[i].event.Key.Less(pq[j].event.Key)
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x interface{}) {
	e := x.(*queueEntry)
	e.index = len(*pq)
	*pq = append(*pq, e)
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*pq = old[:n-1]
	return e
}

// push inserts ev and returns the entry so a TimerID can be minted for it.
func (pq *priorityQueue) push(ev Event) *queueEntry {
	e := &queueEntry{event: ev}
	heap.Push(pq, e)
	return e
}

// popMin removes and returns the entry with the smallest Key, or nil if
// empty.
func (pq *priorityQueue) popMin() *queueEntry {
	if pq.Len() == 0 {
		return nil
	}
	e := heap.Pop(pq).(*queueEntry)
	e.removed = true
	return e
}

// remove deletes e from the queue if it is still present. Idempotent.
func (pq *priorityQueue) remove(e *queueEntry) {
	if e == nil || e.removed {
		return
	}
	heap.Remove(pq, e.index)
	e.removed = true
}

func (pq priorityQueue) peekMin() *queueEntry {
	if len(pq) == 0 {
		return nil
	}
	return pq[0]
}
