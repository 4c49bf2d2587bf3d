// Package netstate applies and reverts the host network changes that route
// traffic through the virtual interface. Reversal runs at most once per
// process no matter how many shutdown paths race to it.
package netstate

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// RestorationFlag records that restoration has started. Once set it stays set.
type RestorationFlag struct {
	set atomic.Bool
}

// TestAndSet sets the flag and reports whether this call was the one that
// set it.
func (f *RestorationFlag) TestAndSet() bool {
	return f.set.CompareAndSwap(false, true)
}

// IsSet reports whether restoration has started.
func (f *RestorationFlag) IsSet() bool {
	return f.set.Load()
}

// Index is an optional interface index.
type Index struct {
	value uint32
	known bool
}

// UnknownIndex is the zero Index.
var UnknownIndex = Index{}

// KnownIndex returns an Index holding v.
func KnownIndex(v uint32) Index {
	return Index{value: v, known: true}
}

// Get returns the index value and whether it is known.
func (i Index) Get() (uint32, bool) { return i.value, i.known }

// Known reports whether the index was resolved.
func (i Index) Known() bool { return i.known }

func (i Index) String() string {
	if !i.known {
		return "unknown"
	}
	return strconv.FormatUint(uint64(i.value), 10)
}

// SharedIndex publishes the resolved index from the provisioning path to the
// shutdown paths.
type SharedIndex struct {
	mu    sync.Mutex
	index Index
}

// Set stores idx.
func (s *SharedIndex) Set(idx Index) {
	s.mu.Lock()
	s.index = idx
	s.mu.Unlock()
}

// Get returns the last stored index, or UnknownIndex.
func (s *SharedIndex) Get() Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// InterfaceHandle identifies the provisioned virtual interface.
type InterfaceHandle struct {
	Name  string
	Index Index
}

// Snapshot records which host changes were applied. It exists only once a
// change has been made.
type Snapshot struct {
	Interface       string
	Index           Index
	AddressAssigned bool
	RouteInstalled  bool
}
