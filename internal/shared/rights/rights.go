// Package rights defines the rights bitmask carried by capability tokens.
//
// Rights form a lattice under set inclusion: delegation may only narrow a
// mask, never widen it. The zero value carries no rights and fails every
// check, so an uninitialized mask is safe by default.
package rights

import (
	"fmt"
	"strings"
)

// Mask is a bitmap representing a set of rights over one resource.
type Mask uint64

const (
	// Read allows reading the resource.
	Read Mask = 1 << iota
	// Write allows mutating the resource.
	Write
	// Exec allows executing or mapping the resource executable.
	Exec
	// Alloc allows carving new regions out of a memory resource.
	Alloc
	// Protect allows changing protection flags on owned regions.
	Protect
	// Grant allows delegating the capability to another namespace.
	Grant
	// Admin allows issuing fresh capabilities for the resource class.
	Admin
)

// All is the full mask, held only by the boot capability.
const All = Read | Write | Exec | Alloc | Protect | Grant | Admin

var names = map[Mask]string{
	Read:    "read",
	Write:   "write",
	Exec:    "exec",
	Alloc:   "alloc",
	Protect: "protect",
	Grant:   "grant",
	Admin:   "admin",
}

var byName = map[string]Mask{
	"read":    Read,
	"write":   Write,
	"exec":    Exec,
	"alloc":   Alloc,
	"protect": Protect,
	"grant":   Grant,
	"admin":   Admin,
}

// Has reports whether m contains every bit of flag.
func (m Mask) Has(flag Mask) bool {
	return m&flag == flag
}

// SubsetOf reports whether every right in m is also in other.
func (m Mask) SubsetOf(other Mask) bool {
	return m&^other == 0
}

// Without returns m with the bits of flag cleared.
func (m Mask) Without(flag Mask) Mask {
	return m &^ flag
}

// String renders the mask as a "+"-joined list of right names.
func (m Mask) String() string {
	if m == 0 {
		return "none"
	}
	parts := make([]string, 0, 7)
	for bit := Read; bit <= Admin; bit <<= 1 {
		if m.Has(bit) {
			parts = append(parts, names[bit])
		}
	}
	return strings.Join(parts, "+")
}

// Parse converts a list of right names into a mask.
func Parse(list []string) (Mask, error) {
	var m Mask
	for _, name := range list {
		bit, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("unknown right: %q", name)
		}
		m |= bit
	}
	return m, nil
}

// Names returns the individual right names present in the mask.
func (m Mask) Names() []string {
	parts := make([]string, 0, 7)
	for bit := Read; bit <= Admin; bit <<= 1 {
		if m.Has(bit) {
			parts = append(parts, names[bit])
		}
	}
	return parts
}
