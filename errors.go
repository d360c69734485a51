package blake3pool

import (
	"fmt"

	"github.com/parahash/blake3pool/workerpool"
)

// Sentinel and typed errors returned by this package, following the
// teacher's convention (storage/error.go) of naming each failure
// condition explicitly rather than building ad hoc fmt.Errorf values
// at call sites.
var (
	// ErrNotInitialized is returned by HashFile when called on a Hasher
	// that is not ready: before Init has completed, or after Terminate.
	ErrNotInitialized = fmt.Errorf("blake3pool: hasher not initialized")

	// ErrSharedMemoryUnavailable is returned by Init if the requested
	// slot count/size cannot be allocated.
	ErrSharedMemoryUnavailable = fmt.Errorf("blake3pool: shared buffer memory unavailable")

	// ErrWorkerInitTimeout is returned by Init if a worker does not
	// become ready within WorkerInitTimeout.
	ErrWorkerInitTimeout = fmt.Errorf("blake3pool: worker init timeout")

	// ErrTerminated is returned by a HashFile call that is still in
	// progress when Terminate rejects its pending tasks; it is the same
	// sentinel workerpool.ErrTerminated resolves pending tasks with. A
	// HashFile call made after Terminate returns ErrNotInitialized.
	ErrTerminated = workerpool.ErrTerminated

	// ErrInvalidOptions is returned by New/LoadOptions when an Options
	// value fails validation.
	ErrInvalidOptions = fmt.Errorf("blake3pool: invalid options")
)

// WorkerFailureError and TaskTimeoutError are the same types the
// worker pool resolves tasks with; aliased here so callers of this
// package's public API never need to import workerpool themselves.
type WorkerFailureError = workerpool.WorkerFailureError
type TaskTimeoutError = workerpool.TaskTimeoutError

// StreamError wraps a failure reading from the input stream passed to
// HashFile: either the stream's own Read error, or a short read that
// ended before total_size bytes were produced.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("blake3pool: stream error: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
