// Package id provides centralized ID generation for the core.
//
// Kernel objects (tokens, namespaces, regions, tasks) use dense numeric
// handles allocated by their owning tables; ULIDs are reserved for the
// identifiers that cross the control-plane boundary:
//   - Lexicographic sortability: audit records order by creation time
//   - Prefixed types: type-specific prefixes for debugging (act_*, req_*, rec_*)
//   - Type safety: separate types prevent ID misuse
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ActorID identifies the principal performing a control-plane operation.
type ActorID string

// RequestID identifies a single control-plane request.
type RequestID string

// RecordID identifies an audit record.
type RecordID string

// ID prefixes, kept short so logs stay readable.
const (
	ActorPrefix   = "act"
	RequestPrefix = "req"
	RecordPrefix  = "rec"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator with secure entropy.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewActorID generates a new actor ID.
func NewActorID() ActorID {
	return ActorID(Default().GenerateWithPrefix(ActorPrefix))
}

// NewRequestID generates a new request ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewRecordID generates a new audit record ID.
func NewRecordID() RecordID {
	return RecordID(Default().GenerateWithPrefix(RecordPrefix))
}

func (id ActorID) String() string   { return string(id) }

// IsValid reports whether the actor ID carries the expected prefix and a
// parseable ULID.
func (id ActorID) IsValid() bool {
	const p = ActorPrefix + "_"
	return strings.HasPrefix(string(id), p) && IsValid(string(id)[len(p):])
}

func (id RequestID) String() string { return string(id) }
func (id RecordID) String() string  { return string(id) }

// IsValid checks if an ID string is a valid ULID.
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp extracts the timestamp from a ULID string.
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
