// Package combine implements the bubble-up combiner (spec.md §4.6):
// as leaf chaining values complete, in any order and on any goroutine,
// it merges sibling pairs into their parent's chaining value and keeps
// walking upward until the root's two children have both arrived, at
// which point it combines them with the root-finalization flag and
// publishes the final digest.
//
// The arrival bookkeeping is the atomic toggle from bmt.node in the
// teacher (holisticode-swarm/bmt/bmt.go): each inner node has two child
// slots and a toggle counter; whichever of the two children arrives
// second is the one goroutine that proceeds to combine and bubble the
// result further up, so no node is ever combined twice and no lock is
// held across the walk.
package combine

import (
	"context"
	"sync/atomic"

	"github.com/parahash/blake3pool/primitive"
	"github.com/parahash/blake3pool/tree"
)

// slot holds the two children's chaining values for one inner node and
// a toggle that flips from odd to even exactly once, on whichever of
// the two Deliver calls for its children arrives second.
type slot struct {
	cvs   [2]primitive.CV
	state int32
}

// toggle returns true exactly on the call that observes the slot's
// state go from odd to even, i.e. the second of two arrivals.
func (s *slot) toggle() bool {
	return atomic.AddInt32(&s.state, 1)%2 == 0
}

// Combiner bubbles leaf chaining values up a Plan's inner-node topology
// to a single root digest. It must not be used with a single-leaf
// Plan (tree.Plan.IsSingleLeaf) — that case has no combining to do and
// the orchestrator finalizes it directly with hash_single.
type Combiner struct {
	plan   *tree.Plan
	prim   primitive.Provider
	slots  map[tree.NodeID]*slot
	result chan primitive.CV
}

// New prepares a Combiner for plan. prim supplies ParentCV and
// RootHash; plan must have at least two leaves.
func New(plan *tree.Plan, prim primitive.Provider) *Combiner {
	c := &Combiner{
		plan:   plan,
		prim:   prim,
		slots:  make(map[tree.NodeID]*slot, len(plan.Leaves)-1),
		result: make(chan primitive.CV, 1),
	}
	for id := range allInnerIDs(plan) {
		c.slots[id] = &slot{}
	}
	return c
}

// allInnerIDs walks the plan once at construction time to discover
// every inner node id, since Plan exposes lookup by id but not
// enumeration.
func allInnerIDs(p *tree.Plan) map[tree.NodeID]struct{} {
	seen := make(map[tree.NodeID]struct{})
	var walk func(id tree.NodeID)
	walk = func(id tree.NodeID) {
		if _, ok := seen[id]; ok {
			return
		}
		if _, ok := p.Leaf(id); ok {
			return
		}
		inner, ok := p.Inner(id)
		if !ok {
			return
		}
		seen[id] = struct{}{}
		walk(inner.LeftID)
		walk(inner.RightID)
	}
	walk(p.RootID)
	return seen
}

func (c *Combiner) parentOf(id tree.NodeID) tree.NodeID {
	if l, ok := c.plan.Leaf(id); ok {
		return l.ParentID
	}
	inner, _ := c.plan.Inner(id)
	return inner.ParentID
}

// Deliver reports that node id's chaining value is cv. It may be
// called concurrently for distinct ids from any goroutine (normally a
// worker pool's reply handler). Once both children of an inner node
// have been delivered, the caller that delivered the second one
// combines them and keeps walking toward the root; every other caller
// returns immediately having only recorded its child's value.
func (c *Combiner) Deliver(id tree.NodeID, cv primitive.CV) {
	current := id
	val := cv
	for {
		parentID := c.parentOf(current)
		if parentID == tree.NoParent {
			c.finish(val)
			return
		}

		s := c.slots[parentID]
		inner, _ := c.plan.Inner(parentID)
		if current == inner.LeftID {
			s.cvs[0] = val
		} else {
			s.cvs[1] = val
		}
		if !s.toggle() {
			return
		}

		if inner.ParentID == tree.NoParent {
			val = c.prim.RootHash(s.cvs[0], s.cvs[1])
		} else {
			val = c.prim.ParentCV(s.cvs[0], s.cvs[1])
		}
		current = parentID
	}
}

func (c *Combiner) finish(root primitive.CV) {
	c.result <- root
}

// Wait blocks until the root digest is available or ctx is canceled.
func (c *Combiner) Wait(ctx context.Context) (primitive.CV, error) {
	select {
	case cv := <-c.result:
		return cv, nil
	case <-ctx.Done():
		return primitive.CV{}, ctx.Err()
	}
}
