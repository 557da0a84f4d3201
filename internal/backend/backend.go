// Package backend executes operation descriptors for the scheduler. A
// backend is the far side of the queue transport: it receives an admitted,
// capability-checked operation and produces the bytes of its completion
// event. Implementations cover in-core memory operations and remote
// module endpoints; Mux composes them by operation kind.
package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/arclight-os/core/internal/sched"
)

// Mux routes operations to the backend registered for their kind prefix
// ("mem.alloc" routes to the "mem" backend). Registration happens during
// boot, before the scheduler starts.
type Mux struct {
	mu       sync.RWMutex
	backends map[string]sched.Backend
	fallback sched.Backend
}

func NewMux() *Mux {
	return &Mux{backends: make(map[string]sched.Backend)}
}

// Register binds a kind prefix to a backend.
func (m *Mux) Register(prefix string, b sched.Backend) {
	m.mu.Lock()
	m.backends[prefix] = b
	m.mu.Unlock()
}

// SetFallback handles kinds with no registered prefix.
func (m *Mux) SetFallback(b sched.Backend) {
	m.mu.Lock()
	m.fallback = b
	m.mu.Unlock()
}

func (m *Mux) Execute(ctx context.Context, op sched.Operation) ([]byte, error) {
	prefix := op.Kind
	if i := strings.IndexByte(op.Kind, '.'); i >= 0 {
		prefix = op.Kind[:i]
	}
	m.mu.RLock()
	b, ok := m.backends[prefix]
	if !ok {
		b = m.fallback
	}
	m.mu.RUnlock()
	if b == nil {
		return nil, fmt.Errorf("backend: no handler for operation kind %q", op.Kind)
	}
	return b.Execute(ctx, op)
}
