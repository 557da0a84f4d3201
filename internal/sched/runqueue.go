package sched

// runQueue orders Ready tasks by priority class, FIFO within a class.
// Draining is weighted round-robin: each class holds credits refilled
// from its weight, so IO-bound work is boosted without shutting lower
// classes out entirely. An aging pass runs before every pop and moves a
// task up one class after agingRounds scheduling rounds of waiting, so
// worst-case wait stays bounded even under a steady high-priority
// stream. Callers serialize access.
type runQueue struct {
	classes     [3][]*task
	weights     [3]int
	credits     [3]int
	round       uint64
	agingRounds uint64
	promotions  uint64
}

func newRunQueue(agingRounds uint64, weights [3]int) *runQueue {
	if agingRounds == 0 {
		agingRounds = 1
	}
	for i, w := range weights {
		if w <= 0 {
			weights[i] = defaultWeights[i]
		}
	}
	q := &runQueue{weights: weights, agingRounds: agingRounds}
	q.credits = q.weights
	return q
}

var defaultWeights = [3]int{4, 2, 1}

func (q *runQueue) push(t *task) {
	t.enqueued = q.round
	q.classes[t.effective] = append(q.classes[t.effective], t)
}

// pop returns the next runnable task, skipping tasks cancelled while
// Ready. Returns nil when every class is empty.
func (q *runQueue) pop() *task {
	q.round++
	q.age()
	for pass := 0; pass < 2; pass++ {
		for c := ClassIO; c <= ClassBackground; c++ {
			if q.credits[c] == 0 {
				continue
			}
			if t := q.dequeue(c); t != nil {
				q.credits[c]--
				return t
			}
		}
		q.credits = q.weights
	}
	return nil
}

func (q *runQueue) dequeue(c Class) *task {
	for len(q.classes[c]) > 0 {
		t := q.classes[c][0]
		q.classes[c] = q.classes[c][1:]
		if t.current() == StateReady {
			return t
		}
	}
	return nil
}

// age promotes overdue tasks one class up, preserving their relative
// order at the tail of the higher class.
func (q *runQueue) age() {
	for c := ClassBackground; c >= ClassNormal; c-- {
		kept := q.classes[c][:0]
		for _, t := range q.classes[c] {
			if q.round-t.enqueued >= q.agingRounds {
				t.effective = c - 1
				t.enqueued = q.round
				q.classes[c-1] = append(q.classes[c-1], t)
				q.promotions++
			} else {
				kept = append(kept, t)
			}
		}
		q.classes[c] = kept
	}
}

func (q *runQueue) len() int {
	return len(q.classes[0]) + len(q.classes[1]) + len(q.classes[2])
}
