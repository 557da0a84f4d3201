package sched

import (
	"github.com/arclight-os/core/internal/shared/types"
)

// nsQueue is one namespace's submission/completion queue pair. The
// submission side is accounted as the number of non-terminal tasks; the
// completion side is a bounded FIFO drained by PollCompletion. Completions
// never cross namespaces. Callers serialize access.
type nsQueue struct {
	namespace   types.NamespaceID
	depth       int
	inFlight    int
	completions []CompletionEvent
	dropped     uint64
}

func newNSQueue(ns types.NamespaceID, depth int) *nsQueue {
	return &nsQueue{namespace: ns, depth: depth}
}

func (q *nsQueue) admit() bool {
	if q.inFlight >= q.depth {
		return false
	}
	q.inFlight++
	return true
}

func (q *nsQueue) release() {
	if q.inFlight > 0 {
		q.inFlight--
	}
}

// push appends a completion event. When the queue is full the oldest
// undelivered event is dropped and counted; the submitter already holds
// the task's terminal state, so the drop loses a notification, not state.
func (q *nsQueue) push(ev CompletionEvent) {
	if len(q.completions) >= q.depth {
		q.completions = q.completions[1:]
		q.dropped++
	}
	q.completions = append(q.completions, ev)
}

func (q *nsQueue) poll() (CompletionEvent, bool) {
	if len(q.completions) == 0 {
		return CompletionEvent{}, false
	}
	ev := q.completions[0]
	q.completions = q.completions[1:]
	return ev, true
}

func (q *nsQueue) empty() bool {
	return q.inFlight == 0 && len(q.completions) == 0
}
