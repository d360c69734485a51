package workerpool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/parahash/blake3pool/primitive"
)

// reply is the union of the possible outcomes fed into the
// coordinator's single fan-in channel: a worker's successful or failed
// reply to a hashMsg, a worker dying outright, or a synthetic timeout
// manufactured by the pool itself when a task's deadline passes.
type reply struct {
	workerIndex int
	result      *resultMsg
	err         *errorMsg
	fatal       error // non-nil if the worker itself died
	timedOut    bool  // true if err was manufactured by a timeout, not the worker
}

// worker runs on its own goroutine and hashes whatever subtree it is
// asked to, reading directly out of the shared slot memory the pool
// handed it at init — the zero-copy half of spec.md §4.3's contract.
type worker struct {
	index   int
	prim    primitive.Provider
	shared  []byte
	slotLen int
	in      chan hashMsg
	stop    chan stopMsg
	out     chan<- reply
	logger  log.Logger
}

func newWorker(index int, prim primitive.Provider, shared []byte, slotLen int, out chan<- reply) *worker {
	return &worker{
		index:   index,
		prim:    prim,
		shared:  shared,
		slotLen: slotLen,
		in:      make(chan hashMsg, 1),
		stop:    make(chan stopMsg),
		out:     out,
		logger:  log.New("component", "blake3pool.worker", "index", index),
	}
}

// run is the worker's receive loop. It is started by Pool.Init and
// exits when stop is closed or received, or when the worker suffers a
// fatal error it cannot attribute to the single task in flight (e.g. a
// panic outside handle's own per-task recover). A fatal error ends the
// loop; every task still routed to this worker is failed by the pool's
// failWorkerLocked, since nothing further will come out of it.
func (w *worker) run(ready chan<- readyMsg, initErr chan<- initErrorMsg) {
	defer func() {
		if r := recover(); r != nil {
			w.out <- reply{workerIndex: w.index, fatal: fmt.Errorf("worker %d: fatal panic: %v", w.index, r)}
		}
	}()

	select {
	case ready <- readyMsg{WorkerIndex: w.index}:
	case <-w.stop:
		return
	}

	for {
		select {
		case m := <-w.in:
			w.handle(m)
		case <-w.stop:
			w.logger.Debug("worker stopped")
			return
		}
	}
}

func (w *worker) handle(m hashMsg) {
	defer func() {
		if r := recover(); r != nil {
			w.out <- reply{workerIndex: w.index, err: &errorMsg{TaskID: m.TaskID, Message: fmt.Sprintf("panic: %v", r)}}
		}
	}()

	start := int(m.SlotIndex) * w.slotLen
	data := w.shared[start : start+int(m.Size)]
	cv := w.prim.HashSubtree(data, m.FileOffset)
	w.out <- reply{workerIndex: w.index, result: &resultMsg{TaskID: m.TaskID, CV: cv}}
}
