// Package tree implements the subtree planner (spec.md §4.2): given
// only a total input length and the BLAKE3 tree split rule, it
// deterministically enumerates the leaf subtrees to hash in parallel
// and records the inner-node topology needed to combine their
// chaining values into the final root hash.
//
// The arena-of-ids design mirrors bmt.tree/bmt.node in the teacher
// (holisticode-swarm/bmt/bmt.go): nodes reference each other by
// integer id rather than by pointer, so the whole plan can be
// discarded in one step at the end of a hash_file call.
package tree

import "github.com/parahash/blake3pool/primitive"

// NodeID identifies a node (leaf or inner) within a Plan's arena.
type NodeID int

// Leaf represents a contiguous byte range [Offset, Offset+Size) of the
// input that will be fed to hash_subtree by exactly one worker task.
type Leaf struct {
	ID       NodeID
	Offset   uint64
	Size     uint64
	ParentID NodeID // -1 if this leaf is also the root
}

// Inner represents a node combining two children's chaining values.
type Inner struct {
	ID       NodeID
	Offset   uint64
	Size     uint64
	LeftID   NodeID
	RightID  NodeID
	ParentID NodeID // -1 if this is the root
}

// NoParent is the sentinel ParentID for the root node.
const NoParent NodeID = -1

// Plan is the output of Build: the full node arena plus the root id
// and the leaves in left-to-right (streaming) order.
type Plan struct {
	RootID NodeID
	Leaves []Leaf
	inner  map[NodeID]Inner
	leaves map[NodeID]Leaf
}

// IsSingleLeaf reports whether the plan's root is itself a leaf, i.e.
// the whole input is small enough and aligned enough to be a single
// BLAKE3 subtree. The orchestrator must finalize such a plan with
// hash_single, never hash_subtree (spec.md §4.5).
func (p *Plan) IsSingleLeaf() bool {
	return len(p.Leaves) == 1 && p.Leaves[0].ID == p.RootID
}

// Inner looks up an inner node by id.
func (p *Plan) Inner(id NodeID) (Inner, bool) {
	n, ok := p.inner[id]
	return n, ok
}

// Leaf looks up a leaf node by id.
func (p *Plan) Leaf(id NodeID) (Leaf, bool) {
	n, ok := p.leaves[id]
	return n, ok
}

// NumLeaves returns the number of leaves in the plan.
func (p *Plan) NumLeaves() int {
	return len(p.Leaves)
}

// maxSubtreeLen returns the largest subtree size (in bytes) that is a
// legal BLAKE3 subtree starting at the given offset: unbounded at
// offset 0, otherwise (1 << trailing_zeros(offset/1024)) * 1024.
func maxSubtreeLen(offset uint64) uint64 {
	if offset == 0 {
		return ^uint64(0)
	}
	idx := offset / 1024
	tz := trailingZeros64(idx)
	return (uint64(1) << tz) * 1024
}

func trailingZeros64(x uint64) uint {
	if x == 0 {
		// offset is a multiple of 1024 by construction; idx==0 only
		// happens when offset==0, handled above. Guard defensively.
		return 63
	}
	var n uint
	for x&1 == 0 {
		x >>= 1
		n++
	}
	return n
}

// Build plans the leaf/inner-node tree for an input of totalSize bytes
// using at most maxLeafSize bytes per leaf, following spec.md §4.2's
// recursive rule. maxLeafSize must be a positive multiple of 1024.
func Build(totalSize uint64, maxLeafSize uint64) *Plan {
	p := &Plan{
		inner:  make(map[NodeID]Inner),
		leaves: make(map[NodeID]Leaf),
	}
	next := NodeID(0)
	var build func(offset, size uint64, parent NodeID) NodeID
	build = func(offset, size uint64, parent NodeID) NodeID {
		id := next
		next++
		if size <= maxLeafSize && size <= maxSubtreeLen(offset) {
			p.leaves[id] = Leaf{ID: id, Offset: offset, Size: size, ParentID: parent}
			return id
		}
		l := primitive.Default{}.LeftSubtreeLen(size)
		leftID := build(offset, l, id)
		rightID := build(offset+l, size-l, id)
		p.inner[id] = Inner{
			ID: id, Offset: offset, Size: size,
			LeftID: leftID, RightID: rightID, ParentID: parent,
		}
		return id
	}
	p.RootID = build(0, totalSize, NoParent)

	// Leaves are numbered left-to-right by the pre-order build above,
	// but ids are not contiguous among leaves (inner nodes interleave),
	// so collect them in traversal order explicitly.
	p.Leaves = collectLeaves(p, p.RootID)
	return p
}

func collectLeaves(p *Plan, id NodeID) []Leaf {
	if l, ok := p.leaves[id]; ok {
		return []Leaf{l}
	}
	n := p.inner[id]
	out := collectLeaves(p, n.LeftID)
	out = append(out, collectLeaves(p, n.RightID)...)
	return out
}
