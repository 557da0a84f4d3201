package capability

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-os/core/internal/infrastructure/logging"
	"github.com/arclight-os/core/internal/shared/id"
	"github.com/arclight-os/core/internal/shared/rights"
	"github.com/arclight-os/core/internal/shared/types"
)

// flatView treats every namespace below max as existing and every pair as
// reachable, except pairs listed in blocked.
type flatView struct {
	max     types.NamespaceID
	blocked map[[2]types.NamespaceID]bool
}

func (v *flatView) Exists(ns types.NamespaceID) bool {
	return ns >= types.RootNamespace && ns <= v.max
}

func (v *flatView) Reachable(from, to types.NamespaceID) bool {
	return !v.blocked[[2]types.NamespaceID{from, to}]
}

func newTestManager(t *testing.T) (*Manager, id.ActorID) {
	t.Helper()
	audit, err := NewAuditLog(t.TempDir(), 1<<20, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	m, err := NewManager([]byte("0123456789abcdef0123456789abcdef"), audit, logging.NewNop())
	require.NoError(t, err)
	m.SetNamespaces(&flatView{max: 16})
	return m, id.NewActorID()
}

func memRef() types.ResourceRef {
	return types.ResourceRef{Class: "memory", Handle: 1}
}

func TestIssueRequiresAdmin(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	limited, err := m.Delegate(actor, boot, rights.Read|rights.Grant, 2)
	require.NoError(t, err)

	_, err = m.Issue(actor, limited, memRef(), rights.Read, 2)
	assert.ErrorIs(t, err, ErrInsufficientRights)

	tok, err := m.Issue(actor, boot, memRef(), rights.Read|rights.Write, 2)
	require.NoError(t, err)
	assert.True(t, m.Validate(tok, rights.Read))
}

func TestIssueWrongClass(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	_, err := m.Issue(actor, boot, types.ResourceRef{Class: "device", Handle: 9}, rights.Read, 2)
	assert.ErrorIs(t, err, ErrInsufficientRights)
}

func TestIssueInvalidNamespace(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	_, err := m.Issue(actor, boot, memRef(), rights.Read, 99)
	assert.ErrorIs(t, err, ErrInvalidNamespace)
}

func TestDelegateNarrowsRights(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	child, err := m.Delegate(actor, boot, rights.Read|rights.Alloc, 2)
	require.NoError(t, err)

	// Widening is rejected.
	_, err = m.Delegate(actor, child, rights.Read|rights.Write, 3)
	assert.ErrorIs(t, err, ErrInsufficientRights)

	// Narrowing succeeds.
	grandchild, err := m.Delegate(actor, child, rights.Read, 3)
	require.NoError(t, err)
	assert.True(t, m.Validate(grandchild, rights.Read))
	assert.False(t, m.Validate(grandchild, rights.Alloc))
}

func TestDelegateUnreachableNamespace(t *testing.T) {
	m, actor := newTestManager(t)
	m.SetNamespaces(&flatView{
		max:     16,
		blocked: map[[2]types.NamespaceID]bool{{1, 5}: true},
	})
	boot := m.Bootstrap(actor, memRef(), rights.All)

	_, err := m.Delegate(actor, boot, rights.Read, 5)
	assert.ErrorIs(t, err, ErrNamespaceMismatch)
}

func TestRevocationCascade(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	// Chain T0 -> T1 -> T2; revoking T0 kills the whole chain even
	// though revoke is called only once.
	t0, err := m.Issue(actor, boot, memRef(), rights.Read|rights.Write|rights.Grant, 2)
	require.NoError(t, err)
	t1, err := m.Delegate(actor, t0, rights.Read|rights.Grant, 3)
	require.NoError(t, err)
	t2, err := m.Delegate(actor, t1, rights.Read, 4)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(actor, t0))

	assert.ErrorIs(t, m.Check(t0, rights.Read), ErrRevoked)
	assert.ErrorIs(t, m.Check(t1, rights.Read), ErrRevoked)
	assert.ErrorIs(t, m.Check(t2, rights.Read), ErrRevoked)
}

func TestRevokeDeliversNotifications(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	t0, err := m.Issue(actor, boot, memRef(), rights.Read|rights.Grant, 2)
	require.NoError(t, err)
	t1, err := m.Delegate(actor, t0, rights.Read, 3)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []Token
	m.Subscribe(func(revoked []Token) {
		mu.Lock()
		seen = append(seen, revoked...)
		mu.Unlock()
	})

	require.NoError(t, m.Revoke(actor, t0))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2, "explicit revoke plus eager child mark")
	assert.Contains(t, seen, t0)
	assert.Contains(t, seen, t1)
}

func TestValidateInsufficientRights(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	tok, err := m.Issue(actor, boot, memRef(), rights.Read, 2)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Check(tok, rights.Write), ErrInsufficientRights)
	assert.True(t, m.Validate(tok, rights.Read))
}

func TestParseTokenRoundTrip(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	parsed, err := m.ParseToken(boot.String())
	require.NoError(t, err)
	assert.Equal(t, boot, parsed)
	assert.True(t, m.Validate(parsed, rights.Admin))
}

func TestParseTokenRejectsForged(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	handle := boot.String()
	flipped := "0"
	if handle[len(handle)-1] == '0' {
		flipped = "1"
	}

	tests := []struct {
		name   string
		handle string
	}{
		{"garbage", "not-a-token"},
		{"wrong prefix", "tok_0000000100000001_00000000000000000000000000000000"},
		{"tampered mac", handle[:len(handle)-1] + flipped},
		{"tampered id", "cap_ffffffffffffffff_" + handle[21:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ParseToken(tt.handle)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestSlotReuseFailsClosed(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	stale, err := m.Issue(actor, boot, memRef(), rights.Read, 2)
	require.NoError(t, err)

	// Forced namespace cleanup revokes and reclaims the slot.
	require.Positive(t, m.RevokeNamespace(actor, 2))

	// A fresh token may land in the reclaimed slot; the stale handle must
	// not alias it.
	fresh, err := m.Issue(actor, boot, memRef(), rights.Read|rights.Write, 3)
	require.NoError(t, err)

	assert.True(t, m.Validate(fresh, rights.Write))
	assert.ErrorIs(t, m.Check(stale, rights.Read), ErrInvalid)
}

func TestAuditTrail(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	tok, err := m.Issue(actor, boot, memRef(), rights.Read|rights.Grant, 2)
	require.NoError(t, err)
	_, err = m.Delegate(actor, tok, rights.Read, 3)
	require.NoError(t, err)
	require.NoError(t, m.Revoke(actor, tok))

	records := m.audit.Query(Filter{Limit: 10})
	require.Len(t, records, 4) // bootstrap, issue, delegate, revoke
	assert.Equal(t, ActionIssue, records[0].Action)
	assert.Equal(t, ActionIssue, records[1].Action)
	assert.Equal(t, ActionDelegate, records[2].Action)
	assert.Equal(t, ActionRevoke, records[3].Action)

	revokes := m.audit.Query(Filter{Action: ActionRevoke, Limit: 10})
	require.Len(t, revokes, 1)
	assert.Equal(t, tok.String(), revokes[0].Token)
}

func TestConcurrentValidateDuringRevoke(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	tok, err := m.Issue(actor, boot, memRef(), rights.Read|rights.Grant, 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					m.Validate(tok, rights.Read)
				}
			}
		}()
	}

	require.NoError(t, m.Revoke(actor, tok))
	// Linearizability: after Revoke returns, no validation may succeed.
	assert.False(t, m.Validate(tok, rights.Read))
	close(stop)
	wg.Wait()
}

func TestValidateDuringTableChurn(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	// Readers race table growth, slot reuse, and revocation marks; the
	// boot capability must stay valid throughout.
	var sawInvalid atomic.Bool
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					if !m.Validate(boot, rights.Read) {
						sawInvalid.Store(true)
					}
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		tok, err := m.Issue(actor, boot, memRef(), rights.Read, 2)
		require.NoError(t, err)
		if i%2 == 0 {
			require.NoError(t, m.Revoke(actor, tok))
		}
	}
	// Reclaims the surviving slots and reissues into them under load.
	m.RevokeNamespace(actor, 2)
	for i := 0; i < 100; i++ {
		_, err := m.Issue(actor, boot, memRef(), rights.Read, 3)
		require.NoError(t, err)
	}

	close(stop)
	wg.Wait()
	assert.False(t, sawInvalid.Load())
}

func TestIssueCappedByAdminRights(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.Read|rights.Write|rights.Grant|rights.Admin)

	// Rights beyond the boot capability's mask can never be minted.
	_, err := m.Issue(actor, boot, memRef(), rights.Alloc, 2)
	assert.ErrorIs(t, err, ErrInsufficientRights)
	_, err = m.Issue(actor, boot, memRef(), rights.Read|rights.Exec, 2)
	assert.ErrorIs(t, err, ErrInsufficientRights)

	tok, err := m.Issue(actor, boot, memRef(), rights.Read|rights.Write, 2)
	require.NoError(t, err)
	assert.True(t, m.Validate(tok, rights.Read|rights.Write))
}

func TestLocalSet(t *testing.T) {
	m, actor := newTestManager(t)
	boot := m.Bootstrap(actor, memRef(), rights.All)

	a, err := m.Issue(actor, boot, memRef(), rights.Read, 2)
	require.NoError(t, err)
	b, err := m.Issue(actor, boot, memRef(), rights.Write, 2)
	require.NoError(t, err)

	set := m.LocalSet(2)
	assert.ElementsMatch(t, []Token{a, b}, set)

	require.NoError(t, m.Revoke(actor, a))
	set = m.LocalSet(2)
	assert.ElementsMatch(t, []Token{b}, set)
}
