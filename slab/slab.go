// Package slab provides the storage arena backing the mvstore transactional
// core: an allocator of tree nodes addressed by stable integer refs, with
// copy-on-write duplication so that sealed versions stay immutable while a
// writer builds the next one.
package slab

import (
	"errors"
	"sync"
)

// ErrBadRef is returned when a ref does not address a live node.
var ErrBadRef = errors.New("slab: ref does not address a live node")

// Allocator hands out nodes and tracks which of them are not yet part of a
// sealed version. Exactly one writer mutates the arena at a time; readers
// attached at sealed roots may call Get concurrently.
type Allocator struct {
	mu          sync.RWMutex
	nodes       map[Ref]*Node
	next        Ref
	sealedNext  Ref
	uncommitted map[Ref]struct{}
	reclaimed   int64
}

// New creates an empty arena. The first allocated ref is nonzero so that a
// zero slot value always means "no child".
func New() *Allocator {
	return &Allocator{
		nodes:       make(map[Ref]*Node),
		next:        Ref(nodeHeaderSize),
		sealedNext:  Ref(nodeHeaderSize),
		uncommitted: make(map[Ref]struct{}),
	}
}

func align8(v Ref) Ref {
	return (v + 7) &^ 7
}

// Alloc creates a writable node with nslots empty slots.
func (a *Allocator) Alloc(nslots int) *Node {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := &Node{
		ref:  a.next,
		vals: make([]int64, nslots),
	}
	a.nodes[n.ref] = n
	a.uncommitted[n.ref] = struct{}{}
	a.next = align8(a.next + Ref(n.ByteSize()))
	return n
}

// Get resolves a ref to its node.
func (a *Allocator) Get(ref Ref) (*Node, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n, ok := a.nodes[ref]
	if !ok {
		return nil, ErrBadRef
	}
	return n, nil
}

// CopyOnWrite duplicates a read-only node into a fresh writable one. The
// original stays in place for readers pinned at older versions; the caller
// is responsible for rewiring the parent slot to the returned node.
func (a *Allocator) CopyOnWrite(n *Node) *Node {
	if !n.readOnly {
		return n
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dup := &Node{
		ref:  a.next,
		vals: append([]int64(nil), n.vals...),
	}
	if n.payload != nil {
		dup.payload = append([]byte(nil), n.payload...)
	}
	a.nodes[dup.ref] = dup
	a.uncommitted[dup.ref] = struct{}{}
	a.next = align8(a.next + Ref(dup.ByteSize()))
	return dup
}

// CommitSize returns the number of bytes written since the last Seal or
// ResetFreeSpaceTracking: the accounted size of all uncommitted nodes.
func (a *Allocator) CommitSize() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var sz int64
	for ref := range a.uncommitted {
		sz += a.nodes[ref].ByteSize()
	}
	return sz
}

// ResetFreeSpaceTracking discards all uncommitted nodes and rolls the
// watermark back to the last sealed state. Used by transaction rollback.
func (a *Allocator) ResetFreeSpaceTracking() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for ref := range a.uncommitted {
		delete(a.nodes, ref)
	}
	a.uncommitted = make(map[Ref]struct{})
	a.next = a.sealedNext
}

// Seal marks every uncommitted node read-only, making them part of the
// version being published, and returns the new watermark ("file size").
func (a *Allocator) Seal() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	for ref := range a.uncommitted {
		a.nodes[ref].readOnly = true
	}
	a.uncommitted = make(map[Ref]struct{})
	a.sealedNext = a.next
	return int64(a.next)
}

// Watermark returns the current high-water offset.
func (a *Allocator) Watermark() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return int64(a.next)
}

// Sweep frees every sealed node not reachable from any of the given roots.
// The registry calls this through the database handle once the oldest pinned
// version advances. Returns the number of bytes reclaimed by this pass.
func (a *Allocator) Sweep(liveRoots []Ref) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	live := make(map[Ref]struct{}, len(a.nodes))
	var mark func(ref Ref)
	mark = func(ref Ref) {
		if _, ok := live[ref]; ok {
			return
		}
		n, ok := a.nodes[ref]
		if !ok {
			return
		}
		live[ref] = struct{}{}
		for _, v := range n.vals {
			if IsRef(v) {
				mark(Ref(v))
			}
		}
	}
	for _, root := range liveRoots {
		mark(root)
	}

	var freed int64
	for ref, n := range a.nodes {
		if _, ok := live[ref]; ok {
			continue
		}
		if _, open := a.uncommitted[ref]; open {
			continue
		}
		freed += n.ByteSize()
		delete(a.nodes, ref)
	}
	a.reclaimed += freed
	return freed
}

// ReclaimedBytes returns the total bytes freed by Sweep since creation.
func (a *Allocator) ReclaimedBytes() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.reclaimed
}

// NodeCount returns the number of live nodes.
func (a *Allocator) NodeCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}
