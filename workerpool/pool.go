// Package workerpool implements the worker pool (spec.md §4.4): it
// spawns N workers, routes hash tasks to them, collects chaining
// values, and enforces per-task and per-init timeouts.
//
// The pending-task bookkeeping follows the select-loop coordinator
// style of hasherStore.startWait in the teacher
// (holisticode-swarm/storage/hasherstore.go): replies are resolved by
// whichever single goroutine drains Replies() and calls HandleReply,
// while the pending-task table itself is guarded by a mutex because
// Dispatch adds to it from other goroutines.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pborman/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/parahash/blake3pool/primitive"
)

const (
	// DefaultWorkerInitTimeout is the per-worker deadline for becoming
	// ready, used when Config.WorkerInitTimeout is zero.
	DefaultWorkerInitTimeout = 10 * time.Second
	// DefaultTaskTimeout is the per-task deadline for a hash to
	// complete, used when Config.TaskTimeout is zero.
	DefaultTaskTimeout = 30 * time.Second

	recentlyTimedOutCapacity = 4096
)

// Config configures a Pool. WorkerInitTimeout and TaskTimeout default
// to DefaultWorkerInitTimeout and DefaultTaskTimeout when zero.
type Config struct {
	NumWorkers           int
	MaxInflightPerWorker int
	Primitive            primitive.Provider
	Logger               log.Logger
	WorkerInitTimeout    time.Duration
	TaskTimeout          time.Duration
}

// WorkerFailureError reports that worker Index died with Err, failing
// every task currently routed to it.
type WorkerFailureError struct {
	Index int
	Err   error
}

func (e *WorkerFailureError) Error() string {
	return fmt.Sprintf("blake3pool: worker %d failed: %v", e.Index, e.Err)
}

// TaskTimeoutError reports that task ID exceeded TaskTimeout.
type TaskTimeoutError struct {
	ID TaskID
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("blake3pool: task %s timed out", e.ID)
}

// ErrTerminated is returned for any pending task rejected by Terminate.
var ErrTerminated = fmt.Errorf("blake3pool: worker pool terminated")

// pendingTask is spec.md §3's "Pending task": created on dispatch,
// removed on completion, error, timeout, or shutdown.
type pendingTask struct {
	workerIndex int
	resolve     chan<- Outcome
	cancelTimer func()
}

// Outcome is delivered exactly once per dispatched task.
type Outcome struct {
	TaskID TaskID
	CV     [32]byte
	Err    error
}

// Pool is the coordinator-facing worker pool. The pending-task table
// and the per-worker stats are guarded by mu. The inflight counts are
// not: IncInflight, DecInflight, Inflight and LeastLoadedWorker must be
// serialized by the caller.
type Pool struct {
	cfg     Config
	workers []*worker
	replies chan reply

	mu          sync.Mutex
	pending     map[TaskID]*pendingTask
	inflight    []int
	recentlyOut *lru.Cache // remembers ids removed from pending, to tell a late reply for a recycled task apart from an unknown one
	terminated  bool
	stats       []WorkerStat
}

// WorkerStat accumulates per-worker counters surfaced in the public
// API's PerWorkerStats (spec.md §6.4).
type WorkerStat struct {
	TasksCompleted uint64
	TasksFailed    uint64
	BytesHashed    uint64
}

// New constructs a Pool. Call Init before dispatching any task.
func New(cfg Config) *Pool {
	if cfg.Logger == nil {
		cfg.Logger = log.New("component", "blake3pool.workerpool")
	}
	if cfg.WorkerInitTimeout == 0 {
		cfg.WorkerInitTimeout = DefaultWorkerInitTimeout
	}
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	recent, _ := lru.New(recentlyTimedOutCapacity)
	return &Pool{
		cfg:         cfg,
		replies:     make(chan reply, cfg.NumWorkers*cfg.MaxInflightPerWorker+1),
		pending:     make(map[TaskID]*pendingTask),
		inflight:    make([]int, cfg.NumWorkers),
		recentlyOut: recent,
		stats:       make([]WorkerStat, cfg.NumWorkers),
	}
}

// Init starts all workers in parallel and awaits per-worker ready
// signals with a 10s timeout each (spec.md §4.4). If any worker fails
// to become ready, the whole initialization fails and already-started
// workers are terminated.
func (p *Pool) Init(ctx context.Context, shared []byte, slotSize int) error {
	p.workers = make([]*worker, p.cfg.NumWorkers)
	for i := range p.workers {
		p.workers[i] = newWorker(i, p.cfg.Primitive, shared, slotSize, p.replies)
	}

	g, gctx := errgroup.WithContext(ctx)
	ready := make(chan readyMsg, p.cfg.NumWorkers)
	initErrs := make(chan initErrorMsg, p.cfg.NumWorkers)

	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			go w.run(ready, initErrs)
			select {
			case <-ready:
				return nil
			case e := <-initErrs:
				return e.Err
			case <-after(gctx, p.cfg.WorkerInitTimeout):
				return fmt.Errorf("blake3pool: worker %d init timeout", w.index)
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	if err := g.Wait(); err != nil {
		p.stopAll()
		return err
	}
	return nil
}

// NumWorkers returns the configured worker count.
func (p *Pool) NumWorkers() int { return p.cfg.NumWorkers }

// Inflight returns worker w's current outstanding task count. Callers
// must only read this from the coordinator goroutine.
func (p *Pool) Inflight(w int) int { return p.inflight[w] }

// MaxInflightPerWorker returns the configured per-worker cap.
func (p *Pool) MaxInflightPerWorker() int { return p.cfg.MaxInflightPerWorker }

// IncInflight and DecInflight let the coordinator track each worker's
// outstanding task count itself (Dispatch does not touch Inflight, by
// design — see Dispatch's doc comment).
func (p *Pool) IncInflight(w int) { p.inflight[w]++ }
func (p *Pool) DecInflight(w int) { p.inflight[w]-- }

// LeastLoadedWorker returns the worker with the smallest inflight
// count, breaking ties by lowest index, or ok=false if every worker is
// at capacity.
func (p *Pool) LeastLoadedWorker() (idx int, ok bool) {
	best := -1
	for i, n := range p.inflight {
		if n < p.cfg.MaxInflightPerWorker && (best == -1 || n < p.inflight[best]) {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// Dispatch sends one hash task to workerIndex and returns a fresh
// TaskID plus a channel that receives the task's single Outcome. The
// worker's raw reply flows through Replies(); the Outcome is sent on
// the returned channel only when HandleReply processes that reply.
// A background timer queues a timeout reply after cfg.TaskTimeout (30s
// by default), which HandleReply turns into a TaskTimeoutError Outcome
// if nothing else resolved the task first; it does not touch the
// worker itself. The caller (the
// dispatcher) is responsible for choosing workerIndex via
// LeastLoadedWorker and for bumping Inflight itself.
func (p *Pool) Dispatch(ctx context.Context, workerIndex int, slotIndex int, fileOffset, size uint64) (TaskID, <-chan Outcome) {
	id := TaskID(uuid.New())
	resolve := make(chan Outcome, 1)
	done := make(chan struct{})

	p.mu.Lock()
	p.pending[id] = &pendingTask{
		workerIndex: workerIndex,
		resolve:     resolve,
		cancelTimer: func() { close(done) },
	}
	p.mu.Unlock()

	go func() {
		select {
		case <-after(ctx, p.cfg.TaskTimeout):
			p.replies <- reply{workerIndex: workerIndex, timedOut: true, err: &errorMsg{TaskID: id, Message: "task timeout"}}
		case <-done:
		}
	}()

	p.workers[workerIndex].in <- hashMsg{
		TaskID:     id,
		SlotIndex:  slotIndex,
		FileOffset: fileOffset,
		Size:       size,
	}
	return id, resolve
}

// Replies exposes the fan-in channel of raw worker replies for the
// coordinator's select loop to consume directly, matching spec.md §5's
// "cooperative select over next_worker_reply".
func (p *Pool) Replies() <-chan reply { return p.replies }

// HandleReply resolves the pending task named by r (if any remains —
// a late reply for an already-timed-out or already-terminated task is
// silently dropped per spec.md §9's open question on stale slots) and
// counts the task as completed or failed in its worker's stats. A
// fatal reply fails every pending task of that worker instead.
func (p *Pool) HandleReply(r reply) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r.fatal != nil {
		p.failWorkerLocked(r.workerIndex, r.fatal)
		return
	}

	var id TaskID
	var outcome Outcome
	switch {
	case r.result != nil:
		id = r.result.TaskID
		outcome = Outcome{TaskID: id, CV: r.result.CV}
	case r.timedOut:
		id = r.err.TaskID
		outcome = Outcome{TaskID: id, Err: &TaskTimeoutError{ID: id}}
	default:
		id = r.err.TaskID
		outcome = Outcome{TaskID: id, Err: fmt.Errorf("blake3pool: %s", r.err.Message)}
	}

	pt, ok := p.pending[id]
	if !ok {
		// already resolved (timed out, failed with its worker, or
		// rejected by Terminate), or an id this pool never issued; drop
		// it (see spec.md §9). recentlyOut tells the two cases apart for
		// logging only.
		if p.recentlyOut.Contains(id) {
			p.cfg.Logger.Debug("dropping late reply for recycled task", "task", id)
		} else {
			p.cfg.Logger.Debug("dropping reply for unknown task", "task", id)
		}
		return
	}
	pt.cancelTimer()
	delete(p.pending, id)
	p.recentlyOut.Add(id, struct{}{})
	if outcome.Err != nil {
		p.stats[pt.workerIndex].TasksFailed++
	} else {
		p.stats[pt.workerIndex].TasksCompleted++
	}
	pt.resolve <- outcome
}

// failWorkerLocked rejects every pending task routed to worker idx
// with a WorkerFailureError (spec.md §4.4 "worker failure"). Caller
// must hold p.mu.
func (p *Pool) failWorkerLocked(idx int, cause error) {
	for id, pt := range p.pending {
		if pt.workerIndex == idx {
			pt.cancelTimer()
			pt.resolve <- Outcome{TaskID: id, Err: &WorkerFailureError{Index: idx, Err: cause}}
			p.stats[idx].TasksFailed++
			delete(p.pending, id)
			p.recentlyOut.Add(id, struct{}{})
		}
	}
}

// Stats returns a snapshot of per-worker counters.
func (p *Pool) Stats() []WorkerStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]WorkerStat, len(p.stats))
	copy(out, p.stats)
	return out
}

// RecordBytes attributes completedBytes of hashed input to worker idx
// (called by the coordinator after a successful Outcome, since Pool
// itself doesn't know the task's size once dispatched).
func (p *Pool) RecordBytes(idx int, n uint64) {
	p.mu.Lock()
	p.stats[idx].BytesHashed += n
	p.mu.Unlock()
}

// Terminate stops all workers and rejects every still-pending task
// with ErrTerminated. Idempotent and infallible (spec.md §7).
func (p *Pool) Terminate() {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return
	}
	p.terminated = true
	for id, pt := range p.pending {
		pt.cancelTimer()
		pt.resolve <- Outcome{TaskID: id, Err: ErrTerminated}
		delete(p.pending, id)
		p.recentlyOut.Add(id, struct{}{})
	}
	p.mu.Unlock()

	p.stopAll()
}

func (p *Pool) stopAll() {
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		close(w.stop)
	}
}
