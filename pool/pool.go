// Package pool implements the shared-buffer pool (spec.md §4.3): a
// fixed contiguous byte region divided into fixed-size slots that any
// worker can use as scratch without copying. Slot accounting is a
// counting semaphore, the formalization spec.md §9 asks for of the
// original "wake_slot single-waiter" pattern.
//
// The pool-of-fixed-resources idea is grounded in bmt.TreePool in the
// teacher (holisticode-swarm/bmt/bmt.go), which pools whole *tree
// values behind a buffered channel; here the pooled resource is a
// byte range index rather than a struct, and acquisition is a
// semaphore so many slots can be free at once instead of just one.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool owns num_slots * max_leaf_size contiguous bytes and hands out
// slot indices. Slot i owns bytes [i*max_leaf_size, (i+1)*max_leaf_size).
type Pool struct {
	buf      []byte
	slotSize int
	numSlots int
	sem      *semaphore.Weighted
	mu       sync.Mutex
	free     []bool
}

// New allocates a pool of numSlots slots of slotSize bytes each.
func New(numSlots, slotSize int) *Pool {
	p := &Pool{
		buf:      make([]byte, numSlots*slotSize),
		slotSize: slotSize,
		numSlots: numSlots,
		sem:      semaphore.NewWeighted(int64(numSlots)),
		free:     make([]bool, numSlots),
	}
	for i := range p.free {
		p.free[i] = true
	}
	return p
}

// NumSlots returns the number of slots in the pool.
func (p *Pool) NumSlots() int { return p.numSlots }

// SlotSize returns the byte capacity of a single slot.
func (p *Pool) SlotSize() int { return p.slotSize }

// Slot returns the byte range owned by slot index i.
func (p *Pool) Slot(i int) []byte {
	return p.buf[i*p.slotSize : (i+1)*p.slotSize]
}

// Buf returns the whole backing region, for handing to a worker pool
// at init so each worker can index into it by slot without copying.
func (p *Pool) Buf() []byte {
	return p.buf
}

// Acquire blocks until a slot is free, reserves it, and returns its
// index. It returns ctx.Err() if ctx is canceled first.
func (p *Pool) Acquire(ctx context.Context) (int, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, free := range p.free {
		if free {
			p.free[i] = false
			return i, nil
		}
	}
	// unreachable: semaphore accounting guarantees a free slot exists
	panic("pool: acquired permit but no free slot found")
}

// Release returns slot i to the pool. It must be called exactly once
// per successful Acquire, only after the borrower (dispatcher or, once
// handed off, a worker's completion handler) is done with the slot's
// memory.
func (p *Pool) Release(i int) {
	p.mu.Lock()
	p.free[i] = true
	p.mu.Unlock()
	p.sem.Release(1)
}

// Reset marks every slot free again. Used by the orchestrator between
// calls to hash_file; spec.md §6.5 notes the hasher keeps no
// cross-call state, so the pool is simply returned to its initial
// all-free configuration.
func (p *Pool) Reset() {
	p.mu.Lock()
	for i := range p.free {
		p.free[i] = true
	}
	p.mu.Unlock()
	p.sem = semaphore.NewWeighted(int64(p.numSlots))
}
