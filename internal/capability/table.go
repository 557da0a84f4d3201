package capability

import (
	"sync"
	"sync/atomic"

	"github.com/arclight-os/core/internal/shared/rights"
	"github.com/arclight-os/core/internal/shared/types"
)

// entry is one published capability record. Every (re)insertion of a
// slot builds a fresh entry and publishes it through the slot's atomic
// pointer, so a reader that loads an entry sees fully initialized
// fields without taking the table lock. After publication only two
// fields change: revoked, which is atomic, and children, which is
// guarded by the table mutex.
type entry struct {
	generation uint32
	revoked    atomic.Bool

	rights    rights.Mask
	resource  types.ResourceRef
	namespace types.NamespaceID
	parent    uint64 // packed ID of the delegation parent, 0 = none

	// children holds packed IDs of direct delegations, guarded by the
	// table mutex. Used only for the eager fast-path mark on revoke;
	// deeper descendants are caught lazily by the parent-chain walk.
	children []uint64
}

// slot holds the current entry of one table position. Reclaiming swaps
// in a fresh tombstone entry rather than rewriting fields a concurrent
// lookup might be reading.
type slot struct {
	data atomic.Pointer[entry]
}

// table is the process-wide capability table. Slot 0 is never allocated
// so the zero Token stays invalid. The slot slice is published through
// an atomic pointer and grows append-only under the mutex: a published
// length is never rewritten, so lock-free readers only ever index into
// fully initialized prefixes.
type table struct {
	mu    sync.Mutex
	slots atomic.Pointer[[]*slot]
	free  []uint32
}

func newTable() *table {
	t := &table{}
	slots := make([]*slot, 1, 64) // slot 0 reserved
	slots[0] = &slot{}
	t.slots.Store(&slots)
	return t
}

// insert allocates a slot and returns its packed ID. Reused slots carry a
// bumped generation so stale handles to the old occupant fail closed.
func (t *table) insert(r rights.Mask, res types.ResourceRef, ns types.NamespaceID, parent uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	slots := *t.slots.Load()
	e := &entry{rights: r, resource: res, namespace: ns, parent: parent}

	var pos uint32
	if n := len(t.free); n > 0 {
		pos = t.free[n-1]
		t.free = t.free[:n-1]
		e.generation = slots[pos].data.Load().generation + 1
		slots[pos].data.Store(e)
	} else {
		pos = uint32(len(slots))
		e.generation = 1
		s := &slot{}
		s.data.Store(e)
		grown := append(slots, s)
		t.slots.Store(&grown)
	}

	id := packID(pos, e.generation)
	if parent != 0 {
		if pe := t.lookup(parent); pe != nil {
			pe.children = append(pe.children, id)
		}
	}
	return id
}

// lookup returns the entry for a packed ID, or nil if the slot is out of
// range or has been reissued under a newer generation. Safe with or
// without the table mutex.
func (t *table) lookup(id uint64) *entry {
	pos, gen := unpackID(id)
	if gen == 0 || pos == 0 {
		return nil
	}
	slots := *t.slots.Load()
	if int(pos) >= len(slots) {
		return nil
	}
	e := slots[pos].data.Load()
	if e == nil || e.generation != gen {
		return nil
	}
	return e
}

// revoke tombstones the entry and eagerly marks its direct children. The
// slot is retained; the audit log keeps the permanent record. Returns the
// packed IDs of every entry marked, starting with id itself.
func (t *table) revoke(id uint64) []uint64 {
	e := t.lookup(id)
	if e == nil {
		return nil
	}
	// The flag flips before children are walked: once revoke returns, no
	// validation anywhere can observe the token as valid.
	e.revoked.Store(true)

	marked := []uint64{id}
	t.mu.Lock()
	for _, child := range e.children {
		if ce := t.lookup(child); ce != nil && !ce.revoked.Load() {
			ce.revoked.Store(true)
			marked = append(marked, child)
		}
	}
	t.mu.Unlock()
	return marked
}

// reclaim frees a revoked slot for reuse, publishing a tombstone with a
// bumped generation so any outstanding handle fails the generation check
// rather than aliasing the next occupant. Only revoked entries may be
// reclaimed.
func (t *table) reclaim(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, gen := unpackID(id)
	if gen == 0 || pos == 0 {
		return false
	}
	slots := *t.slots.Load()
	if int(pos) >= len(slots) {
		return false
	}
	e := slots[pos].data.Load()
	if e == nil || e.generation != gen || !e.revoked.Load() {
		return false
	}

	dead := &entry{generation: gen + 1}
	dead.revoked.Store(true)
	slots[pos].data.Store(dead)
	t.free = append(t.free, pos)
	return true
}

// isDead walks the delegation chain and reports whether the entry or any
// ancestor is revoked or gone. A missing ancestor (reclaimed slot) counts
// as revoked: the chain fails closed.
func (t *table) isDead(id uint64) bool {
	for id != 0 {
		e := t.lookup(id)
		if e == nil || e.revoked.Load() {
			return true
		}
		id = e.parent
	}
	return false
}

// byNamespace returns the packed IDs of all live entries bound to ns.
func (t *table) byNamespace(ns types.NamespaceID) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	slots := *t.slots.Load()
	var ids []uint64
	for pos := 1; pos < len(slots); pos++ {
		e := slots[pos].data.Load()
		if e == nil || e.revoked.Load() {
			continue
		}
		if e.namespace == ns {
			ids = append(ids, packID(uint32(pos), e.generation))
		}
	}
	return ids
}
