package memory

import (
	"fmt"
	"strings"

	"github.com/arclight-os/core/internal/capability"
	"github.com/arclight-os/core/internal/shared/types"
)

// RegionID identifies an accounted memory region.
type RegionID uint64

func (r RegionID) String() string {
	return fmt.Sprintf("region:%d", uint64(r))
}

// Protection is the protection flag set of a region.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec
)

func (p Protection) String() string {
	var b strings.Builder
	for _, f := range []struct {
		bit Protection
		c   byte
	}{{ProtRead, 'r'}, {ProtWrite, 'w'}, {ProtExec, 'x'}} {
		if p&f.bit != 0 {
			b.WriteByte(f.c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Region is one accounted address range. Exactly one capability owns it;
// the owner stays valid for as long as the region is live.
type Region struct {
	ID        RegionID
	Base      uint64
	Length    uint64
	Flags     Protection
	Owner     capability.Token
	Namespace types.NamespaceID
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Length
}

// Overlaps reports whether two ranges intersect. Distance form: either
// base falls inside this region or this region's base falls inside
// [base, base+length), with unsigned underflow making the far side huge
// instead of wrapped. Assumes non-zero lengths.
func (r Region) Overlaps(base, length uint64) bool {
	return base-r.Base < r.Length || r.Base-base < length
}
