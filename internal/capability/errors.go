package capability

import "errors"

// Capability errors returned to callers. Every operation reports one of
// these explicitly; no operation substitutes default rights or a default
// namespace on failure.
var (
	// ErrInvalid means the token handle does not name a live table slot,
	// or its MAC does not verify.
	ErrInvalid = errors.New("capability: invalid token")

	// ErrRevoked means the token, or an ancestor in its delegation chain,
	// has been revoked.
	ErrRevoked = errors.New("capability: token revoked")

	// ErrInsufficientRights means the requested rights are not a subset of
	// the token's rights.
	ErrInsufficientRights = errors.New("capability: insufficient rights")

	// ErrNamespaceMismatch means the target namespace is not reachable from
	// the token's namespace.
	ErrNamespaceMismatch = errors.New("capability: namespace mismatch")

	// ErrInvalidNamespace means the namespace does not exist.
	ErrInvalidNamespace = errors.New("capability: invalid namespace")
)
