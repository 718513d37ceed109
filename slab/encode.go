package slab

import (
	"encoding/binary"
	"fmt"
)

var snapshotMagic = [4]byte{'M', 'V', 'S', '1'}

// EncodeReachable serializes the subtree rooted at root into a self-contained
// snapshot. The root node is emitted first so that decoding can recover it
// without a separate pointer. Node refs are preserved verbatim.
func (a *Allocator) EncodeReachable(root Ref) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var order []*Node
	seen := make(map[Ref]struct{})
	var visit func(ref Ref) error
	visit = func(ref Ref) error {
		if _, ok := seen[ref]; ok {
			return nil
		}
		n, ok := a.nodes[ref]
		if !ok {
			return fmt.Errorf("snapshot ref %d: %w", ref, ErrBadRef)
		}
		seen[ref] = struct{}{}
		order = append(order, n)
		for _, v := range n.vals {
			if IsRef(v) {
				if err := visit(Ref(v)); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 16+len(order)*32)
	buf = append(buf, snapshotMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(order)))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(a.next))
	for _, n := range order {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(n.ref))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.vals)))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.payload)))
		for _, v := range n.vals {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
		}
		buf = append(buf, n.payload...)
	}
	return buf, nil
}

// DecodeSnapshot rebuilds an arena from a snapshot produced by
// EncodeReachable. All decoded nodes are sealed read-only; the returned ref
// is the snapshot's root.
func DecodeSnapshot(data []byte) (*Allocator, Ref, error) {
	if len(data) < 16 {
		return nil, 0, fmt.Errorf("slab: snapshot truncated")
	}
	if [4]byte(data[0:4]) != snapshotMagic {
		return nil, 0, fmt.Errorf("slab: bad snapshot magic %x", data[0:4])
	}
	count := binary.LittleEndian.Uint32(data[4:8])
	watermark := Ref(binary.LittleEndian.Uint64(data[8:16]))

	a := New()
	off := 16
	var root Ref
	for i := uint32(0); i < count; i++ {
		if off+16 > len(data) {
			return nil, 0, fmt.Errorf("slab: snapshot truncated at node %d", i)
		}
		ref := Ref(binary.LittleEndian.Uint64(data[off : off+8]))
		nslots := int(binary.LittleEndian.Uint32(data[off+8 : off+12]))
		plen := int(binary.LittleEndian.Uint32(data[off+12 : off+16]))
		off += 16
		if off+nslots*8+plen > len(data) {
			return nil, 0, fmt.Errorf("slab: snapshot truncated at node %d body", i)
		}
		n := &Node{ref: ref, readOnly: true, vals: make([]int64, nslots)}
		for s := 0; s < nslots; s++ {
			n.vals[s] = int64(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
		}
		if plen > 0 {
			n.payload = append([]byte(nil), data[off:off+plen]...)
			off += plen
		}
		a.nodes[ref] = n
		if i == 0 {
			root = ref
		}
	}
	if watermark > a.next {
		a.next = align8(watermark)
	}
	a.sealedNext = a.next
	return a, root, nil
}
