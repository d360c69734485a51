package blake3pool

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/parahash/blake3pool/primitive"
	"github.com/parahash/blake3pool/tree"
	"github.com/parahash/blake3pool/workerpool"
)

// pendingItem is one filled-but-not-yet-dispatched leaf, spec.md
// §4.5's pending_dispatches entry.
type pendingItem struct {
	slot int
	leaf tree.Leaf
}

// dispatcher holds the mutable state of one hashPlanned call: the FIFO
// of filled leaves awaiting a worker, and the first error (if any)
// observed by any in-flight task's completion. All pendingQ and
// inflight-count decisions are taken under mu, so LeastLoadedWorker,
// IncInflight and DecInflight are never raced even though completions
// arrive on their own goroutines.
type dispatcher struct {
	hasher *Hasher
	ctx    context.Context
	cancel context.CancelFunc
	comb   interface {
		Deliver(id tree.NodeID, cv primitive.CV)
		Wait(ctx context.Context) (primitive.CV, error)
	}

	mu       sync.Mutex
	pendingQ []pendingItem
	firstErr error
	wg       sync.WaitGroup
}

func newDispatcher(ctx context.Context, h *Hasher, comb interface {
	Deliver(id tree.NodeID, cv primitive.CV)
	Wait(ctx context.Context) (primitive.CV, error)
}) *dispatcher {
	dctx, cancel := context.WithCancel(ctx)
	return &dispatcher{hasher: h, ctx: dctx, cancel: cancel, comb: comb}
}

func (d *dispatcher) fail(err error) {
	d.mu.Lock()
	if d.firstErr == nil {
		d.firstErr = err
		d.cancel()
	}
	d.mu.Unlock()
}

func (d *dispatcher) err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firstErr
}

// enqueue records a freshly filled leaf and immediately attempts to
// hand as many queued leaves as possible to idle workers (spec.md
// §4.5's try_dispatch_pending, invoked both after a leaf fill and,
// via await, after every task completion).
func (d *dispatcher) enqueue(item pendingItem) {
	d.mu.Lock()
	d.pendingQ = append(d.pendingQ, item)
	d.mu.Unlock()
	d.tryDispatch()
}

func (d *dispatcher) tryDispatch() {
	h := d.hasher
	for {
		d.mu.Lock()
		if len(d.pendingQ) == 0 {
			d.mu.Unlock()
			return
		}
		w, ok := h.workers.LeastLoadedWorker()
		if !ok {
			d.mu.Unlock()
			return
		}
		item := d.pendingQ[0]
		d.pendingQ = d.pendingQ[1:]
		h.workers.IncInflight(w)
		d.mu.Unlock()

		taskID, outcome := h.workers.Dispatch(d.ctx, w, item.slot, item.leaf.Offset, item.leaf.Size)
		recordTaskDispatched()

		d.wg.Add(1)
		go d.await(taskID, outcome, w, item)
	}
}

// await is spec.md §4.5's "wire completion to release the slot,
// decrement the counter, wake wake_slot, deliver the CV to the
// combiner" — one goroutine per dispatched task, ending the moment its
// single outcome arrives.
func (d *dispatcher) await(_ workerpool.TaskID, outcome <-chan workerpool.Outcome, w int, item pendingItem) {
	defer d.wg.Done()
	h := d.hasher

	select {
	case out := <-outcome:
		d.mu.Lock()
		h.workers.DecInflight(w)
		d.mu.Unlock()
		h.bufPool.Release(item.slot)

		if out.Err != nil {
			var timeoutErr *workerpool.TaskTimeoutError
			var failureErr *workerpool.WorkerFailureError
			switch {
			case errors.As(out.Err, &timeoutErr):
				recordTaskTimeout()
			case errors.As(out.Err, &failureErr):
				recordWorkerFailure()
			}
			d.fail(out.Err)
			return
		}
		h.workers.RecordBytes(w, item.leaf.Size)
		d.comb.Deliver(item.leaf.ID, primitive.CV(out.CV))
		d.tryDispatch()
	case <-d.ctx.Done():
	}
}

// runDispatch is the producer half of the coordinator: it reads each
// leaf's bytes from stream, in strictly increasing offset order,
// directly into the shared buffer pool's slot memory, then enqueues
// the filled leaf for dispatch. Acquiring a slot blocks when the pool
// is exhausted (spec.md §4.5's "awaiting wake_slot"); reading from
// stream blocks when no more input is ready yet — the two remaining
// suspension points spec.md §5 names, alongside awaiting the combiner
// at the end.
func (h *Hasher) runDispatch(ctx context.Context, stream io.Reader, plan *tree.Plan, comb interface {
	Deliver(id tree.NodeID, cv primitive.CV)
	Wait(ctx context.Context) (primitive.CV, error)
}) (primitive.CV, error) {
	d := newDispatcher(ctx, h, comb)
	defer d.cancel()

	for _, leaf := range plan.Leaves {
		slotIdx, err := h.bufPool.Acquire(d.ctx)
		if err != nil {
			if cerr := d.err(); cerr != nil {
				return primitive.CV{}, cerr
			}
			return primitive.CV{}, err
		}

		dst := h.bufPool.Slot(slotIdx)[:leaf.Size]
		if _, err := io.ReadFull(stream, dst); err != nil {
			h.bufPool.Release(slotIdx)
			return primitive.CV{}, &StreamError{Err: err}
		}

		d.enqueue(pendingItem{slot: slotIdx, leaf: leaf})
	}

	cv, err := comb.Wait(d.ctx)
	d.wg.Wait()
	if err != nil {
		if cerr := d.err(); cerr != nil {
			return primitive.CV{}, cerr
		}
		return primitive.CV{}, err
	}
	return cv, nil
}
