package capability

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arclight-os/core/internal/infrastructure/logging"
	"github.com/arclight-os/core/internal/infrastructure/monitoring"
	"github.com/arclight-os/core/internal/shared/id"
	"github.com/arclight-os/core/internal/shared/rights"
	"github.com/arclight-os/core/internal/shared/types"
)

// NamespaceView is the slice of the namespace manager the capability
// manager needs for issue/delegate checks. It is injected after
// construction because the namespace manager itself depends on this
// package for token validity.
type NamespaceView interface {
	// Exists reports whether the namespace is live.
	Exists(ns types.NamespaceID) bool
	// Reachable reports whether capabilities may flow from one namespace
	// to another (descendant, or sibling explicitly marked peer-shared).
	Reachable(from, to types.NamespaceID) bool
}

// RevocationFunc receives tokens that were explicitly revoked or eagerly
// marked. Subscribers re-check anything whose validity derives from a
// delegation chain, since deeper descendants are invalidated lazily.
type RevocationFunc func(revoked []Token)

// TokenInfo is the inspectable view of a live token.
type TokenInfo struct {
	Token     Token
	Resource  types.ResourceRef
	Rights    rights.Mask
	Namespace types.NamespaceID
	Parent    Token
	Revoked   bool
}

// Manager issues, delegates, revokes, and validates capability tokens.
// Validation is lock-free; structural mutation serializes on the table.
type Manager struct {
	secret  []byte
	table   *table
	audit   *AuditLog
	logger  *logging.Logger
	metrics *monitoring.Metrics

	nsMu       sync.RWMutex
	namespaces NamespaceView

	subMu sync.RWMutex
	subs  []RevocationFunc
}

// NewManager creates the capability manager. The secret keys token MACs
// for this boot; handles from a previous boot fail closed.
func NewManager(secret []byte, audit *AuditLog, logger *logging.Logger) (*Manager, error) {
	if len(secret) < 16 || len(secret) > 64 {
		return nil, fmt.Errorf("capability: secret must be 16..64 bytes, got %d", len(secret))
	}
	return &Manager{
		secret: secret,
		table:  newTable(),
		audit:  audit,
		logger: logger,
	}, nil
}

// WithMetrics attaches Prometheus collectors.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// SetNamespaces injects the namespace view. Must be called before Issue or
// Delegate; Boot wiring guarantees this.
func (m *Manager) SetNamespaces(view NamespaceView) {
	m.nsMu.Lock()
	m.namespaces = view
	m.nsMu.Unlock()
}

func (m *Manager) view() NamespaceView {
	m.nsMu.RLock()
	defer m.nsMu.RUnlock()
	return m.namespaces
}

// Subscribe registers a revocation listener. Delivery happens after the
// revocation is visible to Validate.
func (m *Manager) Subscribe(fn RevocationFunc) {
	m.subMu.Lock()
	m.subs = append(m.subs, fn)
	m.subMu.Unlock()
}

func (m *Manager) notify(revoked []Token) {
	m.subMu.RLock()
	subs := m.subs
	m.subMu.RUnlock()
	for _, fn := range subs {
		fn(revoked)
	}
}

func (m *Manager) tokenFromID(tid uint64) Token {
	return Token{id: tid, mac: macFor(m.secret, tid)}
}

func (m *Manager) record(actor id.ActorID, action Action, res types.ResourceRef, r rights.Mask, ns types.NamespaceID, tok Token) {
	rec := Record{
		ID:        id.NewRecordID(),
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
		Resource:  res,
		Rights:    r.Names(),
		Namespace: ns,
		Token:     tok.String(),
	}
	if err := m.audit.Append(rec); err != nil {
		// The trail is a safety mechanism; a failed append is loud.
		m.logger.Error("Audit append failed", zap.Error(err), zap.String("action", string(action)))
	}
}

// Bootstrap mints the boot capability: the given rights over a resource
// class, bound to the root namespace, with no delegation parent. Called
// once per resource class at kernel start, before any task runs; the
// mask is the ceiling for everything issued over the class.
func (m *Manager) Bootstrap(actor id.ActorID, res types.ResourceRef, r rights.Mask) Token {
	tid := m.table.insert(r, res, types.RootNamespace, 0)
	tok := m.tokenFromID(tid)
	m.record(actor, ActionIssue, res, r, types.RootNamespace, tok)
	if m.metrics != nil {
		m.metrics.TokensIssued.Inc()
	}
	m.logger.Info("Boot capability issued",
		zap.String("resource", res.String()),
		zap.String("token", tok.String()),
	)
	return tok
}

// Issue creates a fresh token bound to a resource and namespace. The admin
// token must carry Admin over the same resource class, and the issued
// rights may not exceed the admin token's own.
func (m *Manager) Issue(actor id.ActorID, admin Token, res types.ResourceRef, r rights.Mask, ns types.NamespaceID) (Token, error) {
	ae := m.table.lookup(admin.id)
	if ae == nil {
		return Token{}, ErrInvalid
	}
	if m.table.isDead(admin.id) {
		return Token{}, ErrRevoked
	}
	if !ae.rights.Has(rights.Admin) || ae.resource.Class != res.Class {
		return Token{}, ErrInsufficientRights
	}
	if !r.SubsetOf(ae.rights) {
		return Token{}, ErrInsufficientRights
	}
	if view := m.view(); view == nil || !view.Exists(ns) {
		return Token{}, ErrInvalidNamespace
	}

	tid := m.table.insert(r, res, ns, 0)
	tok := m.tokenFromID(tid)
	m.record(actor, ActionIssue, res, r, ns, tok)
	if m.metrics != nil {
		m.metrics.TokensIssued.Inc()
	}
	return tok, nil
}

// Delegate creates a rights-restricted child token in the target
// namespace. The new token records its parent for cascade lookup.
func (m *Manager) Delegate(actor id.ActorID, tok Token, subset rights.Mask, target types.NamespaceID) (Token, error) {
	e := m.table.lookup(tok.id)
	if e == nil {
		return Token{}, ErrInvalid
	}
	if m.table.isDead(tok.id) {
		return Token{}, ErrRevoked
	}
	if !subset.SubsetOf(e.rights) {
		return Token{}, ErrInsufficientRights
	}
	view := m.view()
	if view == nil || !view.Exists(target) {
		return Token{}, ErrInvalidNamespace
	}
	if !view.Reachable(e.namespace, target) {
		return Token{}, ErrNamespaceMismatch
	}

	tid := m.table.insert(subset, e.resource, target, tok.id)
	child := m.tokenFromID(tid)
	m.record(actor, ActionDelegate, e.resource, subset, target, child)
	if m.metrics != nil {
		m.metrics.TokensDelegated.Inc()
	}
	return child, nil
}

// Revoke invalidates the token and, transitively, everything delegated
// from it. Direct children are marked eagerly; deeper descendants fail the
// lazy parent-chain walk on their next validation. Once Revoke returns, no
// Validate call observes the token as valid.
func (m *Manager) Revoke(actor id.ActorID, tok Token) error {
	e := m.table.lookup(tok.id)
	if e == nil {
		return ErrInvalid
	}

	marked := m.table.revoke(tok.id)
	m.record(actor, ActionRevoke, e.resource, e.rights, e.namespace, tok)
	if m.metrics != nil {
		m.metrics.TokensRevoked.Add(float64(len(marked)))
	}

	tokens := make([]Token, len(marked))
	for i, tid := range marked {
		tokens[i] = m.tokenFromID(tid)
	}
	m.notify(tokens)
	return nil
}

// RevokeNamespace revokes every live token bound to ns and reclaims their
// slots. Used by the forced namespace deletion cascade; the audit log
// keeps the permanent record of each revocation.
func (m *Manager) RevokeNamespace(actor id.ActorID, ns types.NamespaceID) int {
	ids := m.table.byNamespace(ns)
	var revoked []Token
	for _, tid := range ids {
		e := m.table.lookup(tid)
		if e == nil {
			continue
		}
		tok := m.tokenFromID(tid)
		marked := m.table.revoke(tid)
		m.record(actor, ActionRevoke, e.resource, e.rights, e.namespace, tok)
		for _, mid := range marked {
			revoked = append(revoked, m.tokenFromID(mid))
		}
		m.table.reclaim(tid)
	}
	if m.metrics != nil {
		m.metrics.TokensRevoked.Add(float64(len(revoked)))
	}
	if len(revoked) > 0 {
		m.notify(revoked)
	}
	return len(revoked)
}

// Validate reports whether the token is unrevoked and carries at least the
// required rights. Lock-free: only atomics and immutable fields are read.
func (m *Manager) Validate(tok Token, required rights.Mask) bool {
	return m.Check(tok, required) == nil
}

// Check is Validate with the failure kind: ErrInvalid, ErrRevoked, or
// ErrInsufficientRights.
func (m *Manager) Check(tok Token, required rights.Mask) error {
	e := m.table.lookup(tok.id)
	if e == nil {
		m.recordValidation("invalid")
		return ErrInvalid
	}
	if m.table.isDead(tok.id) {
		m.recordValidation("revoked")
		return ErrRevoked
	}
	if !required.SubsetOf(e.rights) {
		m.recordValidation("insufficient")
		return ErrInsufficientRights
	}
	m.recordValidation("valid")
	return nil
}

func (m *Manager) recordValidation(outcome string) {
	if m.metrics != nil {
		m.metrics.RecordValidation(outcome)
	}
}

// Info returns the inspectable view of a token, including tombstoned ones.
func (m *Manager) Info(tok Token) (TokenInfo, error) {
	e := m.table.lookup(tok.id)
	if e == nil {
		return TokenInfo{}, ErrInvalid
	}
	info := TokenInfo{
		Token:     tok,
		Resource:  e.resource,
		Rights:    e.rights,
		Namespace: e.namespace,
		Revoked:   m.table.isDead(tok.id),
	}
	if e.parent != 0 {
		info.Parent = m.tokenFromID(e.parent)
	}
	return info, nil
}

// LocalSet returns the live tokens bound to a namespace.
func (m *Manager) LocalSet(ns types.NamespaceID) []Token {
	ids := m.table.byNamespace(ns)
	tokens := make([]Token, 0, len(ids))
	for _, tid := range ids {
		if !m.table.isDead(tid) {
			tokens = append(tokens, m.tokenFromID(tid))
		}
	}
	return tokens
}
