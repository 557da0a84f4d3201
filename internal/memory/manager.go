// Package memory accounts physical memory regions. Every allocation and
// protection change is gated behind a capability validated by the
// capability manager; live regions never overlap.
package memory

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
	Check(tok capability.Token, required rights.Mask) error
	Info(tok capability.Token) (capability.TokenInfo, error)
	Delegate(actor id.ActorID, tok capability.Token, subset rights.Mask, target types.NamespaceID) (capability.Token, error)
	Revoke(actor id.ActorID, tok capability.Token) error
	Subscribe(fn capability.RevocationFunc)
}

// Stats is a point-in-time view of memory accounting.
type Stats struct {
	PoolBase     uint64                       `json:"pool_base"`
	PoolSize     uint64                       `json:"pool_size"`
	UsedBytes    uint64                       `json:"used_bytes"`
	FreeBytes    uint64                       `json:"free_bytes"`
	Regions      int                          `json:"regions"`
	ByNamespace  map[types.NamespaceID]uint64 `json:"by_namespace"`
}

// Manager owns the region index for one physical pool.
type Manager struct {
	mu      sync.Mutex
	caps    Capabilities
	index   *index
	byID    map[RegionID]*Region
	next    RegionID
	base    uint64
	size    uint64
	used    uint64
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewManager creates the memory manager over [poolBase, poolBase+poolSize)
// and subscribes to revocation notifications so regions whose owning
// capability dies are freed without polling.
func NewManager(caps Capabilities, poolBase, poolSize uint64, logger *logging.Logger) *Manager {
	// Keep poolBase+poolSize representable so End() arithmetic on
	// in-pool regions never wraps.
	if poolSize > ^uint64(0)-poolBase {
		poolSize = ^uint64(0) - poolBase
	}
	m := &Manager{
		caps:   caps,
		index:  newIndex(),
		byID:   make(map[RegionID]*Region),
		next:   1,
		base:   poolBase,
		size:   poolSize,
		logger: logger,
	}
	caps.Subscribe(m.onRevocation)
	return m
}

// WithMetrics attaches Prometheus collectors.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Allocate carves a region out of the pool. With a zero hint the lowest
// free range is used, first-fit; a non-zero hint pins the base address and
// fails with ErrOverlap if the range is taken. The region's owning
// capability is a fresh delegation of tok scoped to that region.
func (m *Manager) Allocate(actor id.ActorID, tok capability.Token, size uint64, flags Protection, hint uint64) (Region, error) {
	if err := m.caps.Check(tok, rights.Alloc); err != nil {
		m.countFailure("protection")
		return Region{}, ErrProtectionViolation
	}
	info, err := m.caps.Info(tok)
	if err != nil {
		m.countFailure("protection")
		return Region{}, ErrProtectionViolation
	}
	if size == 0 {
		m.countFailure("oom")
		return Region{}, ErrOutOfMemory
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var base uint64
	if hint != 0 {
		// Subtractions only: hint+size can wrap past the top of the
		// address space and sail through a sum comparison.
		if hint < m.base || size > m.size || hint-m.base > m.size-size {
			m.countFailure("oom")
			return Region{}, ErrOutOfMemory
		}
		if m.index.overlaps(hint, size) {
			m.countFailure("overlap")
			return Region{}, ErrOverlap
		}
		base = hint
	} else {
		free, ok := m.index.findFree(m.base, m.size, size)
		if !ok {
			m.countFailure("oom")
			return Region{}, ErrOutOfMemory
		}
		base = free
	}

	// The owning capability can never itself allocate or administer: it
	// exists only to keep the region alive and gate protect/free.
	owner, err := m.caps.Delegate(actor, tok, info.Rights.Without(rights.Alloc|rights.Admin), info.Namespace)
	if err != nil {
		m.countFailure("protection")
		return Region{}, ErrProtectionViolation
	}

	region := &Region{
		ID:        m.next,
		Base:      base,
		Length:    size,
		Flags:     flags,
		Owner:     owner,
		Namespace: info.Namespace,
	}
	m.next++
	m.index.insert(region)
	m.byID[region.ID] = region
	m.used += size
	m.publishGauges()

	m.logger.Debug("Region allocated",
		zap.Uint64("region", uint64(region.ID)),
		zap.Uint64("base", base),
		zap.Uint64("length", size),
		zap.String("flags", flags.String()),
		zap.String("namespace", region.Namespace.String()),
	)
	return *region, nil
}

// Protect changes a region's protection flags. The capability must carry
// Protect and sit on the region's owning delegation chain.
func (m *Manager) Protect(actor id.ActorID, regionID RegionID, newFlags Protection, tok capability.Token) error {
	if err := m.caps.Check(tok, rights.Protect); err != nil {
		m.countFailure("protection")
		return ErrProtectionViolation
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	region, ok := m.byID[regionID]
	if !ok {
		return ErrRegionNotFound
	}
	if !m.onOwningChain(tok, region.Owner) {
		m.countFailure("protection")
		return ErrProtectionViolation
	}
	region.Flags = newFlags
	_ = actor
	return nil
}

// Free removes a region. The capability must be the region's owner or an
// ancestor on its delegation chain; the per-region capability is revoked.
func (m *Manager) Free(actor id.ActorID, regionID RegionID, tok capability.Token) error {
	m.mu.Lock()
	region, ok := m.byID[regionID]
	if !ok {
		m.mu.Unlock()
		return ErrRegionNotFound
	}
	if m.caps.Check(tok, 0) != nil || !m.onOwningChain(tok, region.Owner) {
		m.mu.Unlock()
		m.countFailure("protection")
		return ErrProtectionViolation
	}
	m.removeLocked(region)
	m.mu.Unlock()

	// Revoke outside the index lock; the revocation notification re-enters
	// the manager to sweep.
	if err := m.caps.Revoke(actor, region.Owner); err != nil && err != capability.ErrInvalid {
		m.logger.Warn("Failed to revoke region owner", zap.Error(err))
	}
	return nil
}

// onOwningChain reports whether tok is the owner itself or an ancestor in
// the owner's delegation chain.
func (m *Manager) onOwningChain(tok capability.Token, owner capability.Token) bool {
	cur := owner
	for !cur.IsZero() {
		if cur == tok {
			return true
		}
		info, err := m.caps.Info(cur)
		if err != nil {
			return false
		}
		cur = info.Parent
	}
	return false
}

func (m *Manager) removeLocked(region *Region) {
	m.index.remove(region)
	delete(m.byID, region.ID)
	m.used -= region.Length
	m.publishGauges()
}

// onRevocation sweeps regions whose owning capability no longer validates.
// Direct revocations arrive in the notification; deeper cascade members
// are caught because the owner's chain walk fails closed.
func (m *Manager) onRevocation(revoked []capability.Token) {
	m.mu.Lock()
	var dead []*Region
	for _, region := range m.byID {
		if m.caps.Check(region.Owner, 0) != nil {
			dead = append(dead, region)
		}
	}
	for _, region := range dead {
		m.removeLocked(region)
	}
	m.mu.Unlock()

	for _, region := range dead {
		m.logger.Info("Region freed by revocation cascade",
			zap.Uint64("region", uint64(region.ID)),
			zap.Uint64("base", region.Base),
			zap.String("namespace", region.Namespace.String()),
		)
	}
	_ = revoked
}

// Lookup returns a live region by ID.
func (m *Manager) Lookup(regionID RegionID) (Region, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	region, ok := m.byID[regionID]
	if !ok {
		return Region{}, false
	}
	return *region, true
}

// Stats returns the accounting snapshot.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		PoolBase:    m.base,
		PoolSize:    m.size,
		UsedBytes:   m.used,
		FreeBytes:   m.size - m.used,
		Regions:     m.index.len(),
		ByNamespace: make(map[types.NamespaceID]uint64),
	}
	m.index.each(func(r *Region) bool {
		s.ByNamespace[r.Namespace] += r.Length
		return true
	})
	return s
}

func (m *Manager) publishGauges() {
	if m.metrics == nil {
		return
	}
	m.metrics.RegionsLive.Set(float64(m.index.len()))
	m.metrics.BytesReserved.Set(float64(m.used))
}

func (m *Manager) countFailure(kind string) {
	if m.metrics != nil {
		m.metrics.AllocFailures.WithLabelValues(kind).Inc()
	}
}
