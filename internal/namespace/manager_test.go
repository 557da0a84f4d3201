package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-os/core/internal/capability"
	"github.com/arclight-os/core/internal/infrastructure/logging"
	"github.com/arclight-os/core/internal/shared/id"
	"github.com/arclight-os/core/internal/shared/rights"
	"github.com/arclight-os/core/internal/shared/types"
)

func newTestPair(t *testing.T) (*Manager, *capability.Manager, id.ActorID) {
	t.Helper()
	audit, err := capability.NewAuditLog(t.TempDir(), 1<<20, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	caps, err := capability.NewManager([]byte("0123456789abcdef0123456789abcdef"), audit, logging.NewNop())
	require.NoError(t, err)

	m := NewManager(caps, logging.NewNop())
	caps.SetNamespaces(m)
	return m, caps, id.NewActorID()
}

func TestCreateAttachesLeaf(t *testing.T) {
	m, _, _ := newTestPair(t)

	child, err := m.Create(types.RootNamespace)
	require.NoError(t, err)
	assert.True(t, m.Exists(child))

	parent, err := m.Parent(child)
	require.NoError(t, err)
	assert.Equal(t, types.RootNamespace, parent)

	children, err := m.Children(types.RootNamespace)
	require.NoError(t, err)
	assert.Equal(t, []types.NamespaceID{child}, children)
}

func TestCreateUnknownParent(t *testing.T) {
	m, _, _ := newTestPair(t)
	_, err := m.Create(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteLeaf(t *testing.T) {
	m, _, actor := newTestPair(t)

	child, err := m.Create(types.RootNamespace)
	require.NoError(t, err)

	require.NoError(t, m.Delete(actor, child, false))
	assert.False(t, m.Exists(child))

	children, err := m.Children(types.RootNamespace)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestDeleteWithChildrenFails(t *testing.T) {
	m, _, actor := newTestPair(t)

	child, err := m.Create(types.RootNamespace)
	require.NoError(t, err)
	_, err = m.Create(child)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Delete(actor, child, false), ErrActiveChildren)
	assert.True(t, m.Exists(child))
}

func TestDeleteWithRunningTasksFails(t *testing.T) {
	m, _, actor := newTestPair(t)

	child, err := m.Create(types.RootNamespace)
	require.NoError(t, err)
	m.IncTasks(child)

	assert.ErrorIs(t, m.Delete(actor, child, false), ErrActiveChildren)

	m.DecTasks(child)
	assert.NoError(t, m.Delete(actor, child, false))
}

func TestRootNotDeletable(t *testing.T) {
	m, _, actor := newTestPair(t)
	assert.ErrorIs(t, m.Delete(actor, types.RootNamespace, true), ErrNotFound)
}

func TestForcedDeleteCascades(t *testing.T) {
	m, caps, actor := newTestPair(t)
	boot := caps.Bootstrap(actor, types.ResourceRef{Class: "memory", Handle: 1}, rights.All)

	child, err := m.Create(types.RootNamespace)
	require.NoError(t, err)
	grandchild, err := m.Create(child)
	require.NoError(t, err)

	tokChild, err := caps.Issue(actor, boot, types.ResourceRef{Class: "memory", Handle: 1}, rights.Read|rights.Grant, child)
	require.NoError(t, err)
	tokGrand, err := caps.Delegate(actor, tokChild, rights.Read, grandchild)
	require.NoError(t, err)

	cancelled := make(map[types.NamespaceID]bool)
	m.SetTaskCanceller(func(ns types.NamespaceID) int {
		cancelled[ns] = true
		return 0
	})

	require.NoError(t, m.Delete(actor, child, true))

	assert.False(t, m.Exists(child))
	assert.False(t, m.Exists(grandchild))
	assert.True(t, cancelled[child])
	assert.True(t, cancelled[grandchild])

	// Every capability locally issued in the subtree is invalid.
	assert.False(t, caps.Validate(tokChild, rights.Read))
	assert.False(t, caps.Validate(tokGrand, rights.Read))
}

func TestIsDescendant(t *testing.T) {
	m, _, _ := newTestPair(t)

	a, err := m.Create(types.RootNamespace)
	require.NoError(t, err)
	b, err := m.Create(a)
	require.NoError(t, err)
	c, err := m.Create(types.RootNamespace)
	require.NoError(t, err)

	assert.True(t, m.IsDescendant(types.RootNamespace, a))
	assert.True(t, m.IsDescendant(types.RootNamespace, b))
	assert.True(t, m.IsDescendant(a, b))
	assert.False(t, m.IsDescendant(b, a))
	assert.False(t, m.IsDescendant(a, c))
	assert.False(t, m.IsDescendant(a, a), "not a descendant of itself")
}

func TestReachablePeerShared(t *testing.T) {
	m, _, _ := newTestPair(t)

	a, err := m.Create(types.RootNamespace)
	require.NoError(t, err)
	b, err := m.Create(types.RootNamespace)
	require.NoError(t, err)

	// Siblings are unreachable until the target is marked peer-shared.
	assert.False(t, m.Reachable(a, b))
	require.NoError(t, m.SetPeerShared(b, true))
	assert.True(t, m.Reachable(a, b))
	assert.False(t, m.Reachable(b, a), "peer-share is directional")

	// Downward flow is always reachable.
	child, err := m.Create(a)
	require.NoError(t, err)
	assert.True(t, m.Reachable(a, child))
	assert.True(t, m.Reachable(types.RootNamespace, child))
	assert.False(t, m.Reachable(child, a), "upward flow rejected")
}

func TestVisibleCapabilitiesFiltered(t *testing.T) {
	m, caps, actor := newTestPair(t)
	memBoot := caps.Bootstrap(actor, types.ResourceRef{Class: "memory", Handle: 1}, rights.All)
	devBoot := caps.Bootstrap(actor, types.ResourceRef{Class: "device", Handle: 7}, rights.All)

	child, err := m.Create(types.RootNamespace)
	require.NoError(t, err)

	memTok, err := caps.Issue(actor, memBoot, types.ResourceRef{Class: "memory", Handle: 1}, rights.Read, child)
	require.NoError(t, err)
	devTok, err := caps.Issue(actor, devBoot, types.ResourceRef{Class: "device", Handle: 7}, rights.Read, child)
	require.NoError(t, err)

	visible, err := m.VisibleCapabilities(child)
	require.NoError(t, err)
	assert.ElementsMatch(t, []capability.Token{memTok, devTok}, visible)

	require.NoError(t, m.SetFilter(child, "device", false))
	visible, err = m.VisibleCapabilities(child)
	require.NoError(t, err)
	assert.Equal(t, []capability.Token{memTok}, visible)
}

func TestClassVisible(t *testing.T) {
	m, _, _ := newTestPair(t)

	child, err := m.Create(types.RootNamespace)
	require.NoError(t, err)

	assert.True(t, m.ClassVisible(child, "memory"))
	require.NoError(t, m.SetFilter(child, "device", false))
	assert.False(t, m.ClassVisible(child, "device"))
	assert.True(t, m.ClassVisible(child, "memory"))
	assert.False(t, m.ClassVisible(99, "memory"))
}

func TestVisibleCapabilitiesConsistentWithRevocation(t *testing.T) {
	m, caps, actor := newTestPair(t)
	boot := caps.Bootstrap(actor, types.ResourceRef{Class: "memory", Handle: 1}, rights.All)

	child, err := m.Create(types.RootNamespace)
	require.NoError(t, err)
	tok, err := caps.Issue(actor, boot, types.ResourceRef{Class: "memory", Handle: 1}, rights.Read, child)
	require.NoError(t, err)

	visible, err := m.VisibleCapabilities(child)
	require.NoError(t, err)
	assert.Contains(t, visible, tok)

	require.NoError(t, caps.Revoke(actor, tok))
	visible, err = m.VisibleCapabilities(child)
	require.NoError(t, err)
	assert.NotContains(t, visible, tok)
}

func TestNamespaceMonotonicity(t *testing.T) {
	m, caps, actor := newTestPair(t)
	boot := caps.Bootstrap(actor, types.ResourceRef{Class: "memory", Handle: 1}, rights.All)

	child, err := m.Create(types.RootNamespace)
	require.NoError(t, err)

	parentTok, err := caps.Issue(actor, boot, types.ResourceRef{Class: "memory", Handle: 1}, rights.Read|rights.Write|rights.Grant, types.RootNamespace)
	require.NoError(t, err)
	childTok, err := caps.Delegate(actor, parentTok, rights.Read, child)
	require.NoError(t, err)

	// Every capability visible in the child has rights that are a subset
	// of some capability visible in the parent.
	childSet, err := m.VisibleCapabilities(child)
	require.NoError(t, err)
	parentSet, err := m.VisibleCapabilities(types.RootNamespace)
	require.NoError(t, err)

	for _, c := range childSet {
		cInfo, err := caps.Info(c)
		require.NoError(t, err)
		covered := false
		for _, p := range parentSet {
			pInfo, err := caps.Info(p)
			require.NoError(t, err)
			if cInfo.Rights.SubsetOf(pInfo.Rights) {
				covered = true
				break
			}
		}
		assert.True(t, covered, "child capability %s exceeds parent exposure", c)
	}
	_ = childTok
}

func TestImportIsDelegation(t *testing.T) {
	m, caps, actor := newTestPair(t)
	boot := caps.Bootstrap(actor, types.ResourceRef{Class: "memory", Handle: 1}, rights.All)

	child, err := m.Create(types.RootNamespace)
	require.NoError(t, err)

	tok, err := caps.Issue(actor, boot, types.ResourceRef{Class: "memory", Handle: 1}, rights.Read|rights.Grant, types.RootNamespace)
	require.NoError(t, err)

	imported, err := m.Import(actor, tok, child)
	require.NoError(t, err)
	assert.True(t, caps.Validate(imported, rights.Read))

	info, err := caps.Info(imported)
	require.NoError(t, err)
	assert.Equal(t, child, info.Namespace)
	assert.Equal(t, tok, info.Parent)

	// Revoking the original kills the import.
	require.NoError(t, caps.Revoke(actor, tok))
	assert.False(t, caps.Validate(imported, rights.Read))
}
