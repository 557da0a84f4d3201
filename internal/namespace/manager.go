// Package namespace organizes resource scopes as a tree and resolves which
// capabilities are visible to the tasks inside each scope.
//
// The hierarchy lives in a flat table keyed by namespace ID; parent and
// child references are plain lookups, never owning links, so the tree
// cannot form reference cycles. Create attaches a single new leaf and
// Delete removes a leaf-rooted subtree, which keeps the graph a tree by
// construction.
package namespace

import (
	"sync"

	"go.uber.org/zap"

	"github.com/arclight-os/core/internal/capability"
	"github.com/arclight-os/core/internal/infrastructure/logging"
	"github.com/arclight-os/core/internal/infrastructure/monitoring"
	"github.com/arclight-os/core/internal/shared/id"
	"github.com/arclight-os/core/internal/shared/rights"
	"github.com/arclight-os/core/internal/shared/types"
)

// Capabilities is the slice of the capability manager this package needs.
type Capabilities interface {
	LocalSet(ns types.NamespaceID) []capability.Token
	Info(tok capability.Token) (capability.TokenInfo, error)
	Delegate(actor id.ActorID, tok capability.Token, subset rights.Mask, target types.NamespaceID) (capability.Token, error)
	RevokeNamespace(actor id.ActorID, ns types.NamespaceID) int
}

// node is one flat-table row. Children are ordered by creation.
type node struct {
	id         types.NamespaceID
	parent     types.NamespaceID // 0 for root
	children   []types.NamespaceID
	peerShared bool
	live       bool
	tasks      int
	// filters maps resource class to visibility. Empty means everything
	// in the local set is visible.
	filters map[string]bool
}

// TaskCanceller cancels every running task in a namespace and returns the
// number cancelled. Registered by the scheduler at boot.
type TaskCanceller func(ns types.NamespaceID) int

// Manager owns the namespace tree.
type Manager struct {
	mu      sync.RWMutex
	nodes   map[types.NamespaceID]*node
	next    types.NamespaceID
	caps    Capabilities
	cancel  TaskCanceller
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewManager creates the namespace manager with the root namespace
// already live.
func NewManager(caps Capabilities, logger *logging.Logger) *Manager {
	m := &Manager{
		nodes:  make(map[types.NamespaceID]*node),
		next:   types.RootNamespace + 1,
		caps:   caps,
		logger: logger,
	}
	m.nodes[types.RootNamespace] = &node{
		id:      types.RootNamespace,
		live:    true,
		filters: make(map[string]bool),
	}
	return m
}

// WithMetrics attaches Prometheus collectors.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	m.updateGauge()
	return m
}

// SetTaskCanceller registers the scheduler's cancellation hook used by
// forced deletion.
func (m *Manager) SetTaskCanceller(fn TaskCanceller) {
	m.mu.Lock()
	m.cancel = fn
	m.mu.Unlock()
}

func (m *Manager) updateGauge() {
	if m.metrics == nil {
		return
	}
	live := 0
	for _, n := range m.nodes {
		if n.live {
			live++
		}
	}
	m.metrics.NamespacesLive.Set(float64(live))
}

// Create attaches a new leaf namespace under parent.
func (m *Manager) Create(parent types.NamespaceID) (types.NamespaceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.nodes[parent]
	if !ok || !p.live {
		return 0, ErrNotFound
	}
	if err := m.checkAncestryLocked(parent); err != nil {
		return 0, err
	}

	nsID := m.next
	m.next++
	m.nodes[nsID] = &node{
		id:      nsID,
		parent:  parent,
		live:    true,
		filters: make(map[string]bool),
	}
	p.children = append(p.children, nsID)

	m.updateGauge()
	m.logger.Info("Namespace created",
		zap.Uint32("namespace", uint32(nsID)),
		zap.Uint32("parent", uint32(parent)),
	)
	return nsID, nil
}

// checkAncestryLocked walks to the root and fails if the walk does not
// terminate, which would mean the flat table was corrupted into a cycle.
// That breaks a safety invariant, so the subsystem halts rather than
// attempting repair.
func (m *Manager) checkAncestryLocked(ns types.NamespaceID) error {
	steps := 0
	for cur := ns; cur != 0; {
		n, ok := m.nodes[cur]
		if !ok {
			return ErrNotFound
		}
		steps++
		if steps > len(m.nodes) {
			m.logger.Error("Namespace table corrupted: ancestry walk did not terminate",
				zap.Uint32("namespace", uint32(ns)),
			)
			panic(ErrCycleRejected)
		}
		cur = n.parent
	}
	return nil
}

// Delete removes a namespace. Without force it fails with
// ErrActiveChildren if the namespace has live children or running tasks.
// Forced deletion cascades: tasks cancelled, local capabilities revoked,
// descendants deleted recursively.
func (m *Manager) Delete(actor id.ActorID, ns types.NamespaceID, force bool) error {
	m.mu.Lock()
	n, ok := m.nodes[ns]
	if !ok || !n.live || ns == types.RootNamespace {
		m.mu.Unlock()
		return ErrNotFound
	}
	if !force && (len(n.children) > 0 || n.tasks > 0) {
		m.mu.Unlock()
		return ErrActiveChildren
	}

	// Collect the subtree post-order while holding the lock, then release
	// it for the cascade: revocation and task cancellation call back into
	// other managers.
	victims := m.subtreePostOrderLocked(ns)
	for _, v := range victims {
		vn := m.nodes[v]
		vn.live = false
		if parent, ok := m.nodes[vn.parent]; ok {
			parent.children = removeChild(parent.children, v)
		}
		delete(m.nodes, v)
	}
	cancel := m.cancel
	m.updateGauge()
	m.mu.Unlock()

	for _, v := range victims {
		if cancel != nil {
			cancel(v)
		}
		revoked := m.caps.RevokeNamespace(actor, v)
		m.logger.Info("Namespace deleted",
			zap.Uint32("namespace", uint32(v)),
			zap.Int("revoked", revoked),
			zap.Bool("forced", force),
		)
	}
	return nil
}

func (m *Manager) subtreePostOrderLocked(ns types.NamespaceID) []types.NamespaceID {
	var out []types.NamespaceID
	var walk func(types.NamespaceID)
	walk = func(cur types.NamespaceID) {
		n, ok := m.nodes[cur]
		if !ok {
			return
		}
		for _, child := range n.children {
			walk(child)
		}
		out = append(out, cur)
	}
	walk(ns)
	return out
}

func removeChild(children []types.NamespaceID, ns types.NamespaceID) []types.NamespaceID {
	for i, c := range children {
		if c == ns {
			return append(children[:i], children[i+1:]...)
		}
	}
	return children
}

// Exists reports whether the namespace is live.
func (m *Manager) Exists(ns types.NamespaceID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[ns]
	return ok && n.live
}

// Parent returns the parent namespace, or 0 for the root.
func (m *Manager) Parent(ns types.NamespaceID) (types.NamespaceID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[ns]
	if !ok || !n.live {
		return 0, ErrNotFound
	}
	return n.parent, nil
}

// Children returns the ordered child set.
func (m *Manager) Children(ns types.NamespaceID) ([]types.NamespaceID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[ns]
	if !ok || !n.live {
		return nil, ErrNotFound
	}
	out := make([]types.NamespaceID, len(n.children))
	copy(out, n.children)
	return out, nil
}

// IsDescendant reports whether child sits strictly below ancestor.
func (m *Manager) IsDescendant(ancestor, child types.NamespaceID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isDescendantLocked(ancestor, child)
}

func (m *Manager) isDescendantLocked(ancestor, child types.NamespaceID) bool {
	steps := 0
	for cur := child; cur != 0; steps++ {
		if steps > len(m.nodes) {
			panic(ErrCycleRejected)
		}
		n, ok := m.nodes[cur]
		if !ok {
			return false
		}
		if n.parent == ancestor {
			return true
		}
		cur = n.parent
	}
	return false
}

// Reachable reports whether capabilities may flow from one namespace to
// another: same namespace, strictly downward, or across to a sibling the
// parent marked peer-shared.
func (m *Manager) Reachable(from, to types.NamespaceID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if from == to {
		return true
	}
	if m.isDescendantLocked(from, to) {
		return true
	}
	fn, okF := m.nodes[from]
	tn, okT := m.nodes[to]
	if !okF || !okT || !fn.live || !tn.live {
		return false
	}
	return fn.parent != 0 && fn.parent == tn.parent && tn.peerShared
}

// SetPeerShared marks a namespace as accepting delegations from its
// siblings. Only meaningful below the root.
func (m *Manager) SetPeerShared(ns types.NamespaceID, shared bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[ns]
	if !ok || !n.live {
		return ErrNotFound
	}
	n.peerShared = shared
	return nil
}

// SetFilter restricts which resource classes the namespace exposes. An
// empty filter set exposes everything.
func (m *Manager) SetFilter(ns types.NamespaceID, class string, visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[ns]
	if !ok || !n.live {
		return ErrNotFound
	}
	n.filters[class] = visible
	return nil
}

// VisibleCapabilities returns the namespace's local capability set,
// filtered by resource-class visibility. Read-only and always consistent
// with current revocation state: the capability manager excludes dead
// tokens itself.
func (m *Manager) VisibleCapabilities(ns types.NamespaceID) ([]capability.Token, error) {
	m.mu.RLock()
	n, ok := m.nodes[ns]
	if !ok || !n.live {
		m.mu.RUnlock()
		return nil, ErrNotFound
	}
	filters := make(map[string]bool, len(n.filters))
	for k, v := range n.filters {
		filters[k] = v
	}
	m.mu.RUnlock()

	local := m.caps.LocalSet(ns)
	if len(filters) == 0 {
		return local, nil
	}
	out := local[:0]
	for _, tok := range local {
		info, err := m.caps.Info(tok)
		if err != nil {
			continue
		}
		if visible, filtered := filters[info.Resource.Class]; filtered && !visible {
			continue
		}
		out = append(out, tok)
	}
	return out, nil
}

// ClassVisible reports whether the namespace exposes a resource class.
// Unknown namespaces expose nothing.
func (m *Manager) ClassVisible(ns types.NamespaceID, class string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[ns]
	if !ok || !n.live {
		return false
	}
	if visible, filtered := n.filters[class]; filtered {
		return visible
	}
	return true
}

// Import delegates a token into the target namespace at its full current
// rights. The delegation itself is checked by the capability manager, so
// import can never widen visibility.
func (m *Manager) Import(actor id.ActorID, tok capability.Token, ns types.NamespaceID) (capability.Token, error) {
	info, err := m.caps.Info(tok)
	if err != nil {
		return capability.Token{}, err
	}
	return m.caps.Delegate(actor, tok, info.Rights, ns)
}

// IncTasks and DecTasks track running tasks per namespace; the scheduler
// calls them on admission and completion.
func (m *Manager) IncTasks(ns types.NamespaceID) {
	m.mu.Lock()
	if n, ok := m.nodes[ns]; ok {
		n.tasks++
	}
	m.mu.Unlock()
}

func (m *Manager) DecTasks(ns types.NamespaceID) {
	m.mu.Lock()
	if n, ok := m.nodes[ns]; ok && n.tasks > 0 {
		n.tasks--
	}
	m.mu.Unlock()
}

// Count returns the number of live namespaces.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}
