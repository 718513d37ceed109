package slab

// Ref is the stable address of a node inside the arena. Refs are always
// even and nonzero; the low bit distinguishes tagged scalar slot values
// from child references.
type Ref uint64

// nodeHeaderSize is accounted per node when computing byte sizes, mirroring
// the fixed header a packed on-disk node would carry.
const nodeHeaderSize = 8

// TagScalar encodes an integer payload value for storage in a node slot.
// The result always has the low bit set, so it can never collide with a Ref.
func TagScalar(v int64) int64 {
	return v<<1 | 1
}

// UntagScalar reverses TagScalar.
func UntagScalar(v int64) int64 {
	return v >> 1
}

// IsRef reports whether a slot value addresses a child node.
func IsRef(v int64) bool {
	return v != 0 && v&1 == 0
}

// Node is one storage node: a fixed number of int64 slots plus an optional
// opaque payload. Slot values holding child refs are even and nonzero;
// scalar slot values carry the tag bit.
type Node struct {
	ref      Ref
	readOnly bool
	vals     []int64
	payload  []byte
}

// Ref returns the node's address in the arena.
func (n *Node) Ref() Ref { return n.ref }

// IsReadOnly reports whether the node belongs to a sealed version. Read-only
// nodes must be duplicated (copy-on-write) before mutation.
func (n *Node) IsReadOnly() bool { return n.readOnly }

// NumSlots returns the number of value slots.
func (n *Node) NumSlots() int { return len(n.vals) }

// Get returns the raw slot value at ndx.
func (n *Node) Get(ndx int) int64 { return n.vals[ndx] }

// RefAt returns the child ref stored at ndx, or (0, false) when the slot
// holds a scalar or is empty.
func (n *Node) RefAt(ndx int) (Ref, bool) {
	v := n.vals[ndx]
	if !IsRef(v) {
		return 0, false
	}
	return Ref(v), true
}

// ScalarAt returns the scalar stored at ndx. The slot must hold a tagged
// scalar value.
func (n *Node) ScalarAt(ndx int) int64 { return UntagScalar(n.vals[ndx]) }

// Set stores a raw slot value. The node must be writable.
func (n *Node) Set(ndx int, v int64) {
	if n.readOnly {
		panic("slab: write to read-only node")
	}
	n.vals[ndx] = v
}

// SetRef stores a child ref at ndx.
func (n *Node) SetRef(ndx int, r Ref) { n.Set(ndx, int64(r)) }

// SetScalar stores a tagged scalar at ndx.
func (n *Node) SetScalar(ndx int, v int64) { n.Set(ndx, TagScalar(v)) }

// Append grows the node by one slot holding the raw value v.
func (n *Node) Append(v int64) {
	if n.readOnly {
		panic("slab: write to read-only node")
	}
	n.vals = append(n.vals, v)
}

// Truncate shrinks the node to nslots slots.
func (n *Node) Truncate(nslots int) {
	if n.readOnly {
		panic("slab: write to read-only node")
	}
	n.vals = n.vals[:nslots]
}

// Payload returns the node's opaque payload. Callers must not mutate the
// returned slice on a read-only node.
func (n *Node) Payload() []byte { return n.payload }

// SetPayload replaces the node's payload. The node must be writable.
func (n *Node) SetPayload(p []byte) {
	if n.readOnly {
		panic("slab: write to read-only node")
	}
	n.payload = p
}

// HasRefs reports whether any slot addresses a child node.
func (n *Node) HasRefs() bool {
	for _, v := range n.vals {
		if IsRef(v) {
			return true
		}
	}
	return false
}

// ByteSize returns the node's accounted size: header plus slots plus payload.
func (n *Node) ByteSize() int64 {
	return nodeHeaderSize + int64(len(n.vals))*8 + int64(len(n.payload))
}
