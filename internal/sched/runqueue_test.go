package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-os/core/internal/shared/types"
)

func readyTask(id uint64, c Class) *task {
	return &task{id: types.TaskID(1000 + id), state: StateReady, class: c, effective: c}
}

func TestRunQueueClassOrder(t *testing.T) {
	q := newRunQueue(100, [3]int{})

	bg := readyTask(1, ClassBackground)
	io := readyTask(2, ClassIO)
	normal := readyTask(3, ClassNormal)
	q.push(bg)
	q.push(io)
	q.push(normal)

	assert.Equal(t, io, q.pop())
	assert.Equal(t, normal, q.pop())
	assert.Equal(t, bg, q.pop())
	assert.Nil(t, q.pop())
}

func TestRunQueueFIFOWithinClass(t *testing.T) {
	q := newRunQueue(100, [3]int{})
	a := readyTask(1, ClassNormal)
	b := readyTask(2, ClassNormal)
	q.push(a)
	q.push(b)
	assert.Equal(t, a, q.pop())
	assert.Equal(t, b, q.pop())
}

func TestRunQueueSkipsCancelled(t *testing.T) {
	q := newRunQueue(100, [3]int{})
	a := readyTask(1, ClassNormal)
	b := readyTask(2, ClassNormal)
	a.state = StateCancelled
	q.push(a)
	q.push(b)
	assert.Equal(t, b, q.pop())
}

func TestAgingBoundsStarvation(t *testing.T) {
	const agingRounds = 4
	q := newRunQueue(agingRounds, [3]int{})

	starved := readyTask(0, ClassBackground)
	q.push(starved)

	// A steady stream of IO work must not starve the background task:
	// weighted draining gives its class a turn once the IO credits are
	// spent, and aging promotes it while it waits.
	ran := -1
	for round := 0; round < 3*agingRounds; round++ {
		q.push(readyTask(uint64(round+1), ClassIO))
		if q.pop() == starved {
			ran = round
			break
		}
	}
	require.NotEqual(t, -1, ran, "background task starved")
	assert.LessOrEqual(t, ran, 2*agingRounds)
	assert.Equal(t, uint64(1), q.promotions)
}

func TestAgingPreservesOrderAcrossPromotion(t *testing.T) {
	q := newRunQueue(2, [3]int{})
	first := readyTask(1, ClassBackground)
	second := readyTask(2, ClassBackground)
	q.push(first)
	q.push(second)

	// Burn rounds so both promote together, then drain.
	q.push(readyTask(3, ClassIO))
	q.push(readyTask(4, ClassIO))
	q.pop()
	q.pop()

	var order []*task
	for t := q.pop(); t != nil; t = q.pop() {
		order = append(order, t)
	}
	idxFirst, idxSecond := -1, -1
	for i, tk := range order {
		if tk == first {
			idxFirst = i
		}
		if tk == second {
			idxSecond = i
		}
	}
	require.NotEqual(t, -1, idxFirst)
	require.NotEqual(t, -1, idxSecond)
	assert.Less(t, idxFirst, idxSecond)
}
