// Package types holds the identifiers and descriptors shared by every core
// component. Kernel object IDs are dense numerics allocated by their owning
// tables, never derived from caller-supplied data.
package types

import "fmt"

// NamespaceID identifies a namespace. The root namespace is always ID 1;
// zero is never a valid namespace.
type NamespaceID uint32

// RootNamespace is created at boot and cannot be deleted.
const RootNamespace NamespaceID = 1

func (n NamespaceID) String() string {
	return fmt.Sprintf("ns:%d", uint32(n))
}

// TaskID identifies a schedulable task.
type TaskID uint64

func (t TaskID) String() string {
	return fmt.Sprintf("task:%d", uint64(t))
}

// ResourceRef names the concrete resource a capability guards: a device,
// memory pool, or IPC endpoint handle within a resource class.
type ResourceRef struct {
	Class  string `json:"class"`
	Handle uint64 `json:"handle"`
}

func (r ResourceRef) String() string {
	return fmt.Sprintf("%s:%d", r.Class, r.Handle)
}
