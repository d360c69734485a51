// Package blake3pool implements a parallel, worker-pool-backed BLAKE3
// streaming hasher: a single public Hasher type drives a subtree
// planner, a shared zero-copy buffer pool, a fixed worker pool, and a
// bubble-up combiner to turn one streamed input into its BLAKE3 digest
// without materializing the whole input in one contiguous buffer.
// Inputs that take the small-input or single-leaf shortcut are the
// exception: they are read whole into one buffer and hashed directly.
//
// The coordinator design follows hasherStore in the teacher
// (holisticode-swarm/storage/hasherstore.go): one long-lived reply
// loop owns the pending-task table for the lifetime of the Hasher,
// started at Init and stopped at Terminate, while each HashFile call
// drives its own producer pass over the input and its own combiner.
package blake3pool

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/parahash/blake3pool/combine"
	"github.com/parahash/blake3pool/pool"
	"github.com/parahash/blake3pool/primitive"
	"github.com/parahash/blake3pool/tree"
	"github.com/parahash/blake3pool/workerpool"
)

// smallInputShortcut is the total_size below which HashFile bypasses
// the planner/dispatcher entirely and hashes the drained input
// directly (spec.md §4.5 "small-input shortcut").
const smallInputShortcut = 65536

// State is a Hasher's lifecycle stage.
type State int

const (
	StateNew State = iota
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// WorkerStat is a re-export of workerpool.WorkerStat, the shape
// returned in HashResult.PerWorkerStats.
type WorkerStat = workerpool.WorkerStat

// HashResult is HashFile's return value (spec.md §6.4).
type HashResult struct {
	Digest         [32]byte
	ElapsedMS      int64
	PerWorkerStats []WorkerStat
}

// Hasher is the single public type this package exposes. The zero
// value is not usable; construct with New.
type Hasher struct {
	opts Options
	prim primitive.Provider

	logger log.Logger

	mu    sync.Mutex
	state State

	bufPool *pool.Pool
	workers *workerpool.Pool

	stopReplyLoop chan struct{}
	replyLoopDone chan struct{}
}

// New validates opts and constructs a Hasher in StateNew. Call Init
// before HashFile.
func New(opts Options) (*Hasher, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{
		opts:   opts,
		prim:   primitive.Default{},
		logger: log.New("component", "blake3pool"),
		state:  StateNew,
	}, nil
}

// State reports the Hasher's current lifecycle stage.
func (h *Hasher) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Init starts the worker pool and allocates the shared buffer pool.
// If any worker fails to become ready within its init timeout, Init
// fails and every already-started worker is stopped; the Hasher stays
// in StateNew and a subsequent Init call may be attempted again.
func (h *Hasher) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateNew {
		return fmt.Errorf("blake3pool: Init called in state %s", h.state)
	}

	numSlots := h.opts.WorkerCount * h.opts.MaxInflightPerWorker
	slotSize := int(h.opts.MaxLeafSize)
	if numSlots <= 0 || slotSize <= 0 {
		return ErrSharedMemoryUnavailable
	}
	h.bufPool = pool.New(numSlots, slotSize)

	h.workers = workerpool.New(workerpool.Config{
		NumWorkers:           h.opts.WorkerCount,
		MaxInflightPerWorker: h.opts.MaxInflightPerWorker,
		Primitive:            h.prim,
		Logger:               h.logger,
		WorkerInitTimeout:    h.opts.WorkerInitTimeout,
		TaskTimeout:          h.opts.TaskTimeout,
	})

	if err := h.workers.Init(ctx, h.bufPool.Buf(), slotSize); err != nil {
		h.logger.Debug("worker pool init failed", "err", err)
		return fmt.Errorf("%w: %v", ErrWorkerInitTimeout, err)
	}

	h.stopReplyLoop = make(chan struct{})
	h.replyLoopDone = make(chan struct{})
	go h.replyLoop()

	h.state = StateReady
	return nil
}

// replyLoop is the single goroutine allowed to call h.workers.HandleReply,
// for as long as the Hasher lives, across every HashFile call.
func (h *Hasher) replyLoop() {
	defer close(h.replyLoopDone)
	for {
		select {
		case r := <-h.workers.Replies():
			h.workers.HandleReply(r)
		case <-h.stopReplyLoop:
			return
		}
	}
}

// HashFile streams stream, which must produce exactly totalSize
// bytes, and returns its BLAKE3 digest, the call's elapsed time, and a
// snapshot of the worker pool's per-worker counters. Those counters
// accumulate over the Hasher's lifetime; they are not reset per call.
func (h *Hasher) HashFile(ctx context.Context, stream io.Reader, totalSize uint64) (HashResult, error) {
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()
	if state != StateReady {
		return HashResult{}, ErrNotInitialized
	}

	start := time.Now()
	ctx, span := startSpan(ctx, "hash_file")
	defer span.Finish()

	var (
		digest primitive.CV
		err    error
	)

	switch {
	case totalSize < smallInputShortcut:
		digest, err = h.hashDrained(stream, totalSize)

	default:
		plan := tree.Build(totalSize, h.opts.MaxLeafSize)
		if plan.IsSingleLeaf() {
			digest, err = h.hashDrained(stream, totalSize)
		} else {
			digest, err = h.hashPlanned(ctx, stream, plan)
		}
	}

	recordHashFileCall(start, err)
	if err != nil {
		return HashResult{}, err
	}

	return HashResult{
		Digest:         digest,
		ElapsedMS:      time.Since(start).Milliseconds(),
		PerWorkerStats: h.workers.Stats(),
	}, nil
}

// hashDrained handles both the small-input shortcut and the
// single-leaf planner outcome: in both cases the whole input is read
// into one buffer and finalized with hash_single, never hash_subtree
// (spec.md §4.5, §4.1's "critical correctness rule").
func (h *Hasher) hashDrained(stream io.Reader, totalSize uint64) (primitive.CV, error) {
	buf := make([]byte, totalSize)
	if _, err := io.ReadFull(stream, buf); err != nil {
		return primitive.CV{}, &StreamError{Err: err}
	}
	return h.prim.HashSingle(buf), nil
}

// hashPlanned drives the full planner/pool/dispatcher/combiner path
// for a multi-leaf input.
func (h *Hasher) hashPlanned(ctx context.Context, stream io.Reader, plan *tree.Plan) (primitive.CV, error) {
	h.bufPool.Reset()
	comb := combine.New(plan, h.prim)
	return h.runDispatch(ctx, stream, plan, comb)
}

// Terminate stops the worker pool and the reply loop, and rejects
// every still-pending task. Idempotent and infallible (spec.md §7).
func (h *Hasher) Terminate() {
	h.mu.Lock()
	if h.state == StateTerminated || h.state == StateNew {
		h.state = StateTerminated
		h.mu.Unlock()
		return
	}
	h.state = StateTerminated
	h.mu.Unlock()

	close(h.stopReplyLoop)
	h.workers.Terminate()
	<-h.replyLoopDone
}
