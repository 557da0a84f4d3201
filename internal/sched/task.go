package sched

import (
	"sync"
	"time"

	"github.com/arclight-os/core/internal/capability"
	"github.com/arclight-os/core/internal/shared/rights"
	"github.com/arclight-os/core/internal/shared/types"
)

// State is a task's position in its lifecycle. Transitions: Ready →
// Running → {Completed | Waiting | Cancelled}, Waiting → Ready on event
// arrival. Cancelled is terminal and reachable from Ready or Waiting; a
// Running task observes cancellation only at its next suspension point.
type State uint8

const (
	StateReady State = iota
	StateRunning
	StateWaiting
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Class is a scheduling priority class. IO-bound work is boosted over
// compute-bound; Background yields to both.
type Class uint8

const (
	ClassIO Class = iota
	ClassNormal
	ClassBackground
)

func (c Class) String() string {
	switch c {
	case ClassIO:
		return "io"
	case ClassNormal:
		return "normal"
	case ClassBackground:
		return "background"
	default:
		return "unknown"
	}
}

// ParseClass maps a class name to its Class; unknown names fall back to
// Normal rather than failing, since class is a hint, not a contract.
func ParseClass(name string) Class {
	switch name {
	case "io":
		return ClassIO
	case "background":
		return ClassBackground
	default:
		return ClassNormal
	}
}

// Operation describes one unit of capability-gated work. The token is
// checked against Required at admission; the backend receives the
// descriptor only after the check passes.
type Operation struct {
	Kind     string            `json:"kind"`
	Resource types.ResourceRef `json:"resource"`
	Token    capability.Token  `json:"-"`
	Required rights.Mask       `json:"-"`
	Class    Class             `json:"class"`
	Payload  []byte            `json:"payload,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
}

// Status classifies a completion event.
type Status string

const (
	StatusOK        Status = "ok"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// CompletionEvent is delivered on the submitting namespace's completion
// queue, in the order the underlying operations complete.
type CompletionEvent struct {
	Task      types.TaskID      `json:"task"`
	Namespace types.NamespaceID `json:"namespace"`
	Status    Status            `json:"status"`
	Result    []byte            `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	Latency   time.Duration     `json:"latency"`
}

// task is the explicit per-task state machine. The scheduler's event loop
// owns every transition; tasks never run their own goroutine logic beyond
// the dispatched backend call.
type task struct {
	mu sync.Mutex

	id        types.TaskID
	namespace types.NamespaceID
	op        Operation

	state     State
	cancelled bool

	// waitGen increments each time the task enters Waiting. A completion
	// carries the generation it was issued under; a stale generation means
	// the race was lost (timeout fired first, or vice versa) and the event
	// is discarded.
	waitGen uint64

	submitted time.Time
	enqueued  uint64
	class     Class
	effective Class
}

// transition moves the task to next under its lock and returns the prior
// state.
func (t *task) transition(next State) State {
	t.mu.Lock()
	prev := t.state
	t.state = next
	t.mu.Unlock()
	return prev
}

func (t *task) current() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *task) terminal() bool {
	s := t.current()
	return s == StateCompleted || s == StateCancelled
}
