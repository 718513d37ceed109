package mvstore

import (
	"time"

	"github.com/hupe1980/mvstore/slab"
)

// CowOutliers forces copy-on-write for every sealed node whose extent
// ends above evacLimit, spending at most workLimit bytes of copy budget.
//
// The walk covers the whole tree under the top node, so the table-name
// leaf, the table subtrees and the history subtree are visited in that
// fixed order. It recurses only into slots holding node refs. Once the
// budget is exhausted the walk stops immediately and records its resume
// position in progress, one index per depth level; a later call with the
// same progress continues where this one stopped. An empty progress
// starts from the beginning; progress is cleared again on a full walk.
//
// Returns true when the walk covered the whole tree.
func (tx *Transaction) CowOutliers(progress *[]int, evacLimit, workLimit int64) (bool, error) {
	if err := tx.checkWriting("compact outliers"); err != nil {
		return false, err
	}
	if tx.topRef == 0 {
		*progress = (*progress)[:0]
		return true, nil
	}
	// A spent budget does no work at all, not even a first copy.
	if workLimit <= 0 {
		return false, nil
	}

	start := time.Now()
	w := &outlierWalker{
		tx:        tx,
		evacLimit: evacLimit,
		work:      workLimit,
		resume:    append([]int(nil), *progress...),
	}

	top, err := tx.node(tx.topRef)
	if err != nil {
		return false, err
	}
	if top.IsReadOnly() && int64(top.Ref())+top.ByteSize() > evacLimit {
		top = tx.db.alloc.CopyOnWrite(top)
		tx.topRef = top.Ref()
		w.work -= top.ByteSize()
	}
	w.path = []pathSlot{{node: top}}

	done, err := w.walk(0, len(w.resume) > 0)
	if err != nil {
		return false, err
	}
	if done {
		*progress = (*progress)[:0]
	} else {
		*progress = append((*progress)[:0], w.stack...)
	}

	tx.db.metrics.OnCompaction(time.Since(start), w.moved, len(w.resume) > 0)
	tx.db.logger.LogCompaction(tx.logID, w.moved, len(w.resume) > 0, nil)
	return done, nil
}

type pathSlot struct {
	node *slab.Node
	slot int
}

// outlierWalker carries the traversal state of one CowOutliers call. The
// parent relationship lives only in the path stack, never in the nodes.
type outlierWalker struct {
	tx        *Transaction
	evacLimit int64
	work      int64
	resume    []int
	path      []pathSlot
	stack     []int
	moved     int
}

// makeWritablePath duplicates every sealed node on the path and rewires
// each parent slot to the duplicate, updating the transaction's top ref
// when the top node itself moves. Path copies do not consume budget; only
// outlier copies do.
func (w *outlierWalker) makeWritablePath(depth int) {
	for i := 0; i <= depth; i++ {
		n := w.path[i].node
		if !n.IsReadOnly() {
			continue
		}
		dup := w.tx.db.alloc.CopyOnWrite(n)
		if i == 0 {
			w.tx.topRef = dup.Ref()
		} else {
			w.path[i-1].node.SetRef(w.path[i-1].slot, dup.Ref())
		}
		w.path[i].node = dup
	}
}

// walk processes the children of the node at the given depth. onPath is
// true while the traversal is still following the resume position from a
// previous, budget-interrupted call. Returns false when the budget ran
// out, with the resume position captured in w.stack.
func (w *outlierWalker) walk(depth int, onPath bool) (bool, error) {
	n := w.path[depth].node

	first := 0
	if onPath && depth < len(w.resume) {
		first = w.resume[depth]
	}

	for i := first; i < n.NumSlots(); i++ {
		ref, ok := n.RefAt(i)
		if !ok {
			continue
		}
		child, err := w.tx.node(ref)
		if err != nil {
			return false, err
		}

		if child.IsReadOnly() && int64(ref)+child.ByteSize() > w.evacLimit {
			if w.work <= 0 {
				w.stack = append(w.stack[:0], w.pathIndices(depth, i)...)
				return false, nil
			}
			w.makeWritablePath(depth)
			n = w.path[depth].node
			child = w.tx.db.alloc.CopyOnWrite(child)
			n.SetRef(i, child.Ref())
			w.work -= child.ByteSize()
			w.moved++
		}

		if child.HasRefs() {
			w.path[depth].slot = i
			w.path = append(w.path, pathSlot{node: child})
			done, err := w.walk(depth+1, onPath && i == first)
			w.path = w.path[:depth+1]
			if err != nil || !done {
				return done, err
			}
			// Refresh: the child walk may have duplicated nodes above.
			n = w.path[depth].node
		}
	}
	return true, nil
}

// pathIndices returns the child index at every level down to the stop
// position, current level included.
func (w *outlierWalker) pathIndices(depth, current int) []int {
	out := make([]int, depth+1)
	for i := 0; i < depth; i++ {
		out[i] = w.path[i].slot
	}
	out[depth] = current
	return out
}
