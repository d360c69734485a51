package workerpool

// Message kinds exchanged between the coordinator and a worker,
// following the tagged-message style of the teacher's wire protocol
// (network/stream/wire.go's GetRange/OfferedHashes/WantedHashes
// structs) rather than a bare function-call API, so the same shapes
// could cross a process boundary unchanged.

// initMsg asks a worker to perform its own asynchronous startup.
// Pool.Init does not send it: each worker's run loop reports readyMsg
// as soon as it starts.
type initMsg struct{}

// readyMsg is sent by a worker's run loop once it has started.
type readyMsg struct {
	WorkerIndex int
}

// initErrorMsg reports a failed worker startup. Pool.Init accepts it
// in place of readyMsg; the workers in this package never send one.
type initErrorMsg struct {
	WorkerIndex int
	Err         error
}

// bufferMsg describes handing a worker the shared memory region
// backing every slot. The pool does not send it: each worker receives
// the region when newWorker constructs it.
type bufferMsg struct {
	Shared []byte
}

// TaskID uniquely identifies one dispatched hash task. Generated with
// github.com/pborman/uuid so ids stay unique across the life of a Pool
// without a shared counter the coordinator would need to synchronize.
type TaskID string

// hashMsg assigns one hash_subtree task to a worker.
type hashMsg struct {
	TaskID     TaskID
	SlotIndex  int
	FileOffset uint64
	Size       uint64
}

// resultMsg is a worker's successful reply to a hashMsg.
type resultMsg struct {
	TaskID TaskID
	CV     [32]byte
}

// errorMsg is a worker's failed reply to a hashMsg.
type errorMsg struct {
	TaskID  TaskID
	Message string
}

// stopMsg asks a worker to exit its receive loop.
type stopMsg struct{}
