package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-os/core/internal/capability"
	"github.com/arclight-os/core/internal/infrastructure/logging"
	"github.com/arclight-os/core/internal/namespace"
	"github.com/arclight-os/core/internal/shared/id"
	"github.com/arclight-os/core/internal/shared/rights"
	"github.com/arclight-os/core/internal/shared/types"
)

const (
	testPoolBase = uint64(0x100000)
	testPoolSize = uint64(1 << 20)
)

type testKernel struct {
	mem   *Manager
	caps  *capability.Manager
	ns    *namespace.Manager
	actor id.ActorID
	boot  capability.Token
}

func newTestKernel(t *testing.T) *testKernel {
	t.Helper()
	audit, err := capability.NewAuditLog(t.TempDir(), 1<<20, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	caps, err := capability.NewManager([]byte("0123456789abcdef0123456789abcdef"), audit, logging.NewNop())
	require.NoError(t, err)
	ns := namespace.NewManager(caps, logging.NewNop())
	caps.SetNamespaces(ns)

	actor := id.NewActorID()
	return &testKernel{
		mem:   NewManager(caps, testPoolBase, testPoolSize, logging.NewNop()),
		caps:  caps,
		ns:    ns,
		actor: actor,
		boot:  caps.Bootstrap(actor, types.ResourceRef{Class: "memory", Handle: 0}, rights.All),
	}
}

func TestAllocateFirstFit(t *testing.T) {
	k := newTestKernel(t)

	a, err := k.mem.Allocate(k.actor, k.boot, 4096, ProtRead|ProtWrite, 0)
	require.NoError(t, err)
	assert.Equal(t, testPoolBase, a.Base)

	b, err := k.mem.Allocate(k.actor, k.boot, 4096, ProtRead, 0)
	require.NoError(t, err)
	assert.Equal(t, a.End(), b.Base)

	// Freeing the first region reopens the lowest gap.
	require.NoError(t, k.mem.Free(k.actor, a.ID, k.boot))
	c, err := k.mem.Allocate(k.actor, k.boot, 4096, ProtRead, 0)
	require.NoError(t, err)
	assert.Equal(t, testPoolBase, c.Base)
}

func TestAllocateHintOverlap(t *testing.T) {
	k := newTestKernel(t)

	a, err := k.mem.Allocate(k.actor, k.boot, 8192, ProtRead|ProtWrite, testPoolBase+4096)
	require.NoError(t, err)
	assert.Equal(t, testPoolBase+4096, a.Base)

	// Any intersection with a live region fails; no silent relocation.
	_, err = k.mem.Allocate(k.actor, k.boot, 4096, ProtRead, a.Base+4096)
	assert.ErrorIs(t, err, ErrOverlap)
	_, err = k.mem.Allocate(k.actor, k.boot, 8192, ProtRead, testPoolBase)
	assert.ErrorIs(t, err, ErrOverlap)

	// Adjacent is not overlapping.
	b, err := k.mem.Allocate(k.actor, k.boot, 4096, ProtRead, a.End())
	require.NoError(t, err)
	assert.Equal(t, a.End(), b.Base)
}

func TestAllocateHintOverflowRejected(t *testing.T) {
	k := newTestKernel(t)

	// A hint near the top of the address space makes hint+size wrap; the
	// allocation must not escape the pool.
	_, err := k.mem.Allocate(k.actor, k.boot, 0x2000, ProtRead|ProtWrite, ^uint64(0)-0xFFF)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	_, err = k.mem.Allocate(k.actor, k.boot, 0x1000, ProtRead, ^uint64(0)-0x7FF)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.Zero(t, k.mem.Stats().UsedBytes)

	// Below the pool, above the pool, and spilling past its end all fail.
	_, err = k.mem.Allocate(k.actor, k.boot, 0x1000, ProtRead, testPoolBase-0x1000)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	_, err = k.mem.Allocate(k.actor, k.boot, 0x1000, ProtRead, testPoolBase+testPoolSize)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	_, err = k.mem.Allocate(k.actor, k.boot, 0x2000, ProtRead, testPoolBase+testPoolSize-0x1000)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	// The last in-pool page is still allocatable.
	r, err := k.mem.Allocate(k.actor, k.boot, 0x1000, ProtRead, testPoolBase+testPoolSize-0x1000)
	require.NoError(t, err)
	assert.Equal(t, testPoolBase+testPoolSize, r.End())
}

func TestOverlapsNearAddressSpaceTop(t *testing.T) {
	r := Region{Base: ^uint64(0) - 0xFFF, Length: 0x1000}
	assert.True(t, r.Overlaps(^uint64(0)-0x7FF, 0x1000))
	assert.True(t, r.Overlaps(^uint64(0)-0x1FFF, 0x1001))
	assert.False(t, r.Overlaps(^uint64(0)-0x1FFF, 0x1000))
	assert.False(t, r.Overlaps(0x1000, 0x1000))
}

func TestAllocateExhaustion(t *testing.T) {
	k := newTestKernel(t)

	_, err := k.mem.Allocate(k.actor, k.boot, testPoolSize, ProtRead, 0)
	require.NoError(t, err)

	_, err = k.mem.Allocate(k.actor, k.boot, 1, ProtRead, 0)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	_, err = k.mem.Allocate(k.actor, k.boot, testPoolSize+1, ProtRead, 0)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

func TestAllocateRequiresAllocRight(t *testing.T) {
	k := newTestKernel(t)

	weak, err := k.caps.Issue(k.actor, k.boot, types.ResourceRef{Class: "memory", Handle: 0}, rights.Read, types.RootNamespace)
	require.NoError(t, err)

	_, err = k.mem.Allocate(k.actor, weak, 4096, ProtRead, 0)
	assert.ErrorIs(t, err, ErrProtectionViolation)
}

func TestRegionOwnerIsFreshDelegation(t *testing.T) {
	k := newTestKernel(t)

	region, err := k.mem.Allocate(k.actor, k.boot, 4096, ProtRead|ProtWrite, 0)
	require.NoError(t, err)
	assert.NotEqual(t, k.boot, region.Owner)

	info, err := k.caps.Info(region.Owner)
	require.NoError(t, err)
	assert.Equal(t, k.boot, info.Parent)
	assert.False(t, info.Rights.Has(rights.Alloc), "owner must not re-allocate")
	assert.False(t, info.Rights.Has(rights.Admin))
	assert.True(t, info.Rights.Has(rights.Protect))
}

func TestProtectOwningChain(t *testing.T) {
	k := newTestKernel(t)

	region, err := k.mem.Allocate(k.actor, k.boot, 4096, ProtRead, 0)
	require.NoError(t, err)

	// Both the per-region owner and its ancestor may change protection.
	require.NoError(t, k.mem.Protect(k.actor, region.ID, ProtRead|ProtWrite, region.Owner))
	require.NoError(t, k.mem.Protect(k.actor, region.ID, ProtRead, k.boot))

	got, ok := k.mem.Lookup(region.ID)
	require.True(t, ok)
	assert.Equal(t, ProtRead, got.Flags)

	// A capability off the chain is rejected even with the Protect right.
	stranger := k.caps.Bootstrap(k.actor, types.ResourceRef{Class: "memory", Handle: 9}, rights.All)
	assert.ErrorIs(t, k.mem.Protect(k.actor, region.ID, ProtExec, stranger), ErrProtectionViolation)

	assert.ErrorIs(t, k.mem.Protect(k.actor, 999, ProtRead, k.boot), ErrRegionNotFound)
}

func TestFreeRevokesOwner(t *testing.T) {
	k := newTestKernel(t)

	region, err := k.mem.Allocate(k.actor, k.boot, 4096, ProtRead, 0)
	require.NoError(t, err)

	require.NoError(t, k.mem.Free(k.actor, region.ID, region.Owner))

	_, ok := k.mem.Lookup(region.ID)
	assert.False(t, ok)
	assert.False(t, k.caps.Validate(region.Owner, 0), "owner dies with the region")

	assert.ErrorIs(t, k.mem.Free(k.actor, region.ID, k.boot), ErrRegionNotFound)
}

func TestRevocationCascadeFreesRegions(t *testing.T) {
	k := newTestKernel(t)

	child, err := k.ns.Create(types.RootNamespace)
	require.NoError(t, err)

	alloc, err := k.caps.Delegate(k.actor, k.boot, rights.Read|rights.Write|rights.Alloc|rights.Protect, child)
	require.NoError(t, err)

	region, err := k.mem.Allocate(k.actor, alloc, 4096, ProtRead|ProtWrite, 0)
	require.NoError(t, err)
	assert.Equal(t, child, region.Namespace)

	// Revoking the allocating capability invalidates the region owner via
	// the delegation chain; the sweep frees the region.
	require.NoError(t, k.caps.Revoke(k.actor, alloc))

	_, ok := k.mem.Lookup(region.ID)
	assert.False(t, ok)
	assert.Zero(t, k.mem.Stats().UsedBytes)

	// The address range is immediately reusable.
	again, err := k.mem.Allocate(k.actor, k.boot, 4096, ProtRead, region.Base)
	require.NoError(t, err)
	assert.Equal(t, region.Base, again.Base)
}

func TestForcedNamespaceDeleteFreesRegions(t *testing.T) {
	k := newTestKernel(t)

	child, err := k.ns.Create(types.RootNamespace)
	require.NoError(t, err)
	alloc, err := k.caps.Delegate(k.actor, k.boot, rights.Read|rights.Alloc, child)
	require.NoError(t, err)

	region, err := k.mem.Allocate(k.actor, alloc, 4096, ProtRead, 0)
	require.NoError(t, err)

	require.NoError(t, k.ns.Delete(k.actor, child, true))

	_, ok := k.mem.Lookup(region.ID)
	assert.False(t, ok)
}

func TestRegionsStayDisjoint(t *testing.T) {
	k := newTestKernel(t)

	var regions []Region
	for i := 0; i < 16; i++ {
		r, err := k.mem.Allocate(k.actor, k.boot, uint64(1024*(i%4+1)), ProtRead, 0)
		require.NoError(t, err)
		regions = append(regions, r)
	}
	require.NoError(t, k.mem.Free(k.actor, regions[3].ID, k.boot))
	require.NoError(t, k.mem.Free(k.actor, regions[7].ID, k.boot))
	r, err := k.mem.Allocate(k.actor, k.boot, 512, ProtRead, 0)
	require.NoError(t, err)
	regions = append(regions, r)

	live := make([]Region, 0, len(regions))
	k.mem.index.each(func(r *Region) bool {
		live = append(live, *r)
		return true
	})
	for i := 1; i < len(live); i++ {
		assert.GreaterOrEqual(t, live[i].Base, live[i-1].End(),
			"regions %s and %s overlap", live[i-1].ID, live[i].ID)
	}
}

func TestStats(t *testing.T) {
	k := newTestKernel(t)

	child, err := k.ns.Create(types.RootNamespace)
	require.NoError(t, err)
	alloc, err := k.caps.Delegate(k.actor, k.boot, rights.Read|rights.Alloc, child)
	require.NoError(t, err)

	_, err = k.mem.Allocate(k.actor, k.boot, 4096, ProtRead, 0)
	require.NoError(t, err)
	_, err = k.mem.Allocate(k.actor, alloc, 8192, ProtRead, 0)
	require.NoError(t, err)

	s := k.mem.Stats()
	assert.Equal(t, testPoolBase, s.PoolBase)
	assert.Equal(t, uint64(12288), s.UsedBytes)
	assert.Equal(t, testPoolSize-12288, s.FreeBytes)
	assert.Equal(t, 2, s.Regions)
	assert.Equal(t, uint64(4096), s.ByNamespace[types.RootNamespace])
	assert.Equal(t, uint64(8192), s.ByNamespace[child])
}

func TestProtectionString(t *testing.T) {
	assert.Equal(t, "rwx", (ProtRead | ProtWrite | ProtExec).String())
	assert.Equal(t, "r--", ProtRead.String())
	assert.Equal(t, "---", Protection(0).String())
}
