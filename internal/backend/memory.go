package backend

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/arclight-os/core/internal/memory"
	"github.com/arclight-os/core/internal/sched"
	"github.com/arclight-os/core/internal/shared/id"
)

// allocRequest is the payload of a "mem.alloc" operation.
type allocRequest struct {
	Size  uint64 `json:"size"`
	Flags string `json:"flags"`
	Hint  uint64 `json:"hint,omitempty"`
}

type allocResponse struct {
	Region uint64 `json:"region"`
	Base   uint64 `json:"base"`
	Length uint64 `json:"length"`
	Owner  string `json:"owner"`
}

type protectRequest struct {
	Region uint64 `json:"region"`
	Flags  string `json:"flags"`
}

type freeRequest struct {
	Region uint64 `json:"region"`
}

// MemoryBackend executes "mem.*" operations against the memory manager.
// The operation's token is re-presented to the manager, which performs
// its own rights and ownership checks.
type MemoryBackend struct {
	mem   *memory.Manager
	actor id.ActorID
}

func NewMemoryBackend(mem *memory.Manager) *MemoryBackend {
	return &MemoryBackend{mem: mem, actor: id.NewActorID()}
}

func (b *MemoryBackend) Execute(ctx context.Context, op sched.Operation) ([]byte, error) {
	switch op.Kind {
	case "mem.alloc":
		var req allocRequest
		if err := sonic.Unmarshal(op.Payload, &req); err != nil {
			return nil, fmt.Errorf("backend: bad alloc payload: %w", err)
		}
		flags, err := ParseProtection(req.Flags)
		if err != nil {
			return nil, err
		}
		region, err := b.mem.Allocate(b.actor, op.Token, req.Size, flags, req.Hint)
		if err != nil {
			return nil, err
		}
		return sonic.Marshal(allocResponse{
			Region: uint64(region.ID),
			Base:   region.Base,
			Length: region.Length,
			Owner:  region.Owner.String(),
		})

	case "mem.protect":
		var req protectRequest
		if err := sonic.Unmarshal(op.Payload, &req); err != nil {
			return nil, fmt.Errorf("backend: bad protect payload: %w", err)
		}
		flags, err := ParseProtection(req.Flags)
		if err != nil {
			return nil, err
		}
		if err := b.mem.Protect(b.actor, memory.RegionID(req.Region), flags, op.Token); err != nil {
			return nil, err
		}
		return []byte(`{"ok":true}`), nil

	case "mem.free":
		var req freeRequest
		if err := sonic.Unmarshal(op.Payload, &req); err != nil {
			return nil, fmt.Errorf("backend: bad free payload: %w", err)
		}
		if err := b.mem.Free(b.actor, memory.RegionID(req.Region), op.Token); err != nil {
			return nil, err
		}
		return []byte(`{"ok":true}`), nil

	case "mem.stats":
		return sonic.Marshal(b.mem.Stats())

	default:
		return nil, fmt.Errorf("backend: unknown memory operation %q", op.Kind)
	}
}

// ParseProtection maps "rwx" flag strings to protection bits. Dashes and
// an empty string yield no access.
func ParseProtection(s string) (memory.Protection, error) {
	var p memory.Protection
	for _, c := range s {
		switch c {
		case 'r':
			p |= memory.ProtRead
		case 'w':
			p |= memory.ProtWrite
		case 'x':
			p |= memory.ProtExec
		case '-':
		default:
			return 0, fmt.Errorf("backend: bad protection flag %q", c)
		}
	}
	return p, nil
}
