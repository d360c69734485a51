package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/parahash/blake3pool/primitive"
)

// fakeProvider is a Provider whose HashSubtree is driven entirely by
// test-supplied hooks, so worker behavior can be exercised without a
// real BLAKE3 implementation.
type fakeProvider struct {
	hashSubtree func(data []byte, offset uint64) primitive.CV
}

func (f fakeProvider) HashSingle(data []byte) primitive.CV { return primitive.CV{} }
func (f fakeProvider) HashSubtree(data []byte, offset uint64) primitive.CV {
	if f.hashSubtree != nil {
		return f.hashSubtree(data, offset)
	}
	var cv primitive.CV
	cv[0] = byte(offset)
	cv[1] = byte(len(data))
	return cv
}
func (f fakeProvider) ParentCV(left, right primitive.CV) primitive.CV { return left }
func (f fakeProvider) RootHash(left, right primitive.CV) primitive.CV { return left }
func (f fakeProvider) LeftSubtreeLen(n uint64) uint64                 { return n / 2 }

func newTestPool(t *testing.T, numWorkers, maxInflight int, prim primitive.Provider) (*Pool, []byte) {
	t.Helper()
	const slotSize = 64
	shared := make([]byte, numWorkers*maxInflight*slotSize)
	p := New(Config{
		NumWorkers:           numWorkers,
		MaxInflightPerWorker: maxInflight,
		Primitive:            prim,
	})
	if err := p.Init(context.Background(), shared, slotSize); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return p, shared
}

func TestInitThenDispatchResolvesViaReplies(t *testing.T) {
	p, shared := newTestPool(t, 2, 2, fakeProvider{})
	defer p.Terminate()

	copy(shared[0:4], []byte{1, 2, 3, 4})
	id, _ := p.Dispatch(context.Background(), 0, 0, 1024, 4)

	select {
	case r := <-p.Replies():
		p.HandleReply(r)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for worker reply")
	}

	stats := p.Stats()
	if stats[0].TasksCompleted != 1 {
		t.Fatalf("expected 1 completed task on worker 0, got %+v", stats[0])
	}
	_ = id
}

func TestLeastLoadedWorkerRespectsCapAndTies(t *testing.T) {
	p, _ := newTestPool(t, 3, 2, fakeProvider{})
	defer p.Terminate()

	idx, ok := p.LeastLoadedWorker()
	if !ok || idx != 0 {
		t.Fatalf("expected worker 0 with empty pool, got %d %v", idx, ok)
	}

	p.IncInflight(0)
	p.IncInflight(0)
	idx, ok = p.LeastLoadedWorker()
	if !ok || idx != 1 {
		t.Fatalf("expected worker 1 once worker 0 is at capacity, got %d %v", idx, ok)
	}

	for _, w := range []int{1, 1, 2, 2} {
		p.IncInflight(w)
	}
	if idx, ok = p.LeastLoadedWorker(); ok {
		t.Fatalf("expected no worker with every worker at capacity, got %d", idx)
	}
}

func TestWorkerFailureRejectsAllItsPendingTasks(t *testing.T) {
	p, _ := newTestPool(t, 2, 4, fakeProvider{})
	defer p.Terminate()

	var chans []<-chan Outcome
	for i := 0; i < 3; i++ {
		_, ch := p.Dispatch(context.Background(), 1, i, uint64(i)*64, 16)
		chans = append(chans, ch)
	}

	p.HandleReply(reply{workerIndex: 1, fatal: fmt.Errorf("boom")})

	for i, ch := range chans {
		select {
		case out := <-ch:
			if out.Err == nil {
				t.Fatalf("task %d: expected WorkerFailureError, got nil", i)
			}
			var wfe *WorkerFailureError
			if !errors.As(out.Err, &wfe) {
				t.Fatalf("task %d: expected *WorkerFailureError, got %T: %v", i, out.Err, out.Err)
			}
		default:
			t.Fatalf("task %d: expected immediate resolution after worker failure", i)
		}
	}
}

func TestTerminateIsIdempotentAndRejectsPending(t *testing.T) {
	p, _ := newTestPool(t, 1, 2, fakeProvider{
		hashSubtree: func(data []byte, offset uint64) primitive.CV {
			time.Sleep(50 * time.Millisecond)
			return primitive.CV{}
		},
	})

	_, ch := p.Dispatch(context.Background(), 0, 0, 0, 16)

	p.Terminate()
	p.Terminate() // must not panic or double-close

	select {
	case out := <-ch:
		if out.Err != ErrTerminated {
			t.Fatalf("expected ErrTerminated, got %v", out.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("terminate did not resolve pending task")
	}
}

// TestReplyOrderingIsIrrelevant dispatches several tasks across workers
// and resolves their replies in reverse arrival order, checking that
// HandleReply's bookkeeping is insensitive to delivery order — no
// dispatcher in this module assumes replies return FIFO.
func TestReplyOrderingIsIrrelevant(t *testing.T) {
	p, shared := newTestPool(t, 4, 4, fakeProvider{})
	defer p.Terminate()
	_ = shared

	const n = 12
	var chans [n]<-chan Outcome
	for i := 0; i < n; i++ {
		worker := i % 4
		_, ch := p.Dispatch(context.Background(), worker, i/4, uint64(i)*64, 8)
		chans[i] = ch
	}

	var mu sync.Mutex
	collected := make([]reply, 0, n)
	for len(collected) < n {
		r := <-p.Replies()
		mu.Lock()
		collected = append(collected, r)
		mu.Unlock()
	}

	// Resolve in reverse order of arrival.
	for i := len(collected) - 1; i >= 0; i-- {
		p.HandleReply(collected[i])
	}

	for i, ch := range chans {
		select {
		case out := <-ch:
			if out.Err != nil {
				t.Fatalf("task %d: unexpected error %v", i, out.Err)
			}
		default:
			t.Fatalf("task %d: expected resolved outcome", i)
		}
	}
}
