package blake3pool

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/parahash/blake3pool/primitive"
)

func mustHasher(t *testing.T, opts Options) *Hasher {
	t.Helper()
	h, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return h
}

func hexDigest(d [32]byte) string { return hex.EncodeToString(d[:]) }

// xorshift32Sequence reproduces the "fixed XorShift sequence" spec.md
// §8 scenario 5 asks for: a small deterministic PRNG, not math/rand,
// so the same bytes are generated on every run regardless of Go version.
func xorshift32Sequence(n int, seed uint32) []byte {
	out := make([]byte, n)
	x := seed
	for i := 0; i < n; i++ {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		out[i] = byte(x)
	}
	return out
}

func TestEndToEndLiteralVectors(t *testing.T) {
	h := mustHasher(t, DefaultOptions())
	defer h.Terminate()

	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"},
		{"abc", []byte("abc"), "6437b3ac38465133ffb63b75273a8db548c558465d79db03fd359c6cd5bd9d85"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			res, err := h.HashFile(ctx, bytes.NewReader(c.data), uint64(len(c.data)))
			if err != nil {
				t.Fatalf("HashFile: %v", err)
			}
			if got := hexDigest(res.Digest); got != c.want {
				t.Fatalf("digest = %s, want %s", got, c.want)
			}
		})
	}
}

// TestEndToEndMatchesHashSingle exercises the reference-equivalence
// property (spec.md §8): hash_file(stream(x), |x|) == hash_single(x),
// across the chunk-boundary and small-input-shortcut-boundary sizes
// spec.md names, plus max_leaf_size +/-1.
func TestEndToEndMatchesHashSingle(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxLeafSize = 1 << 16 // 64 KiB: 65537 takes the multi-leaf path, smaller sizes take the shortcuts
	h := mustHasher(t, opts)
	defer h.Terminate()

	sizes := []int{
		1, 1023, 1024, 1025,
		65535, 65536, 65537,
		int(opts.MaxLeafSize) - 1, int(opts.MaxLeafSize), int(opts.MaxLeafSize) + 1,
	}

	prim := primitive.Default{}
	for _, size := range sizes {
		size := size
		t.Run(hexItoa(size), func(t *testing.T) {
			data := xorshift32Sequence(size, uint32(size)+1)
			want := prim.HashSingle(data)

			res, err := h.HashFile(context.Background(), bytes.NewReader(data), uint64(size))
			if err != nil {
				t.Fatalf("HashFile: %v", err)
			}
			if res.Digest != want {
				t.Fatalf("size %d: digest %x != hash_single %x", size, res.Digest, want)
			}
		})
	}
}

func hexItoa(n int) string {
	return "size_" + hex.EncodeToString([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
}

// TestWorkerCountInvariance is spec.md §8 scenario 5: the same 8 MiB
// fixed sequence hashed with worker_count in {1, 4, 6} must produce
// the same digest every time.
func TestWorkerCountInvariance(t *testing.T) {
	const size = 8 * 1024 * 1024
	data := xorshift32Sequence(size, 0xC0FFEE)
	want := primitive.Default{}.HashSingle(data)

	for _, workers := range []int{1, 4, 6} {
		workers := workers
		t.Run(hexItoa(workers), func(t *testing.T) {
			opts := DefaultOptions()
			opts.WorkerCount = workers
			h := mustHasher(t, opts)
			defer h.Terminate()

			res, err := h.HashFile(context.Background(), bytes.NewReader(data), size)
			if err != nil {
				t.Fatalf("HashFile: %v", err)
			}
			if res.Digest != want {
				t.Fatalf("worker_count=%d: digest %x != expected %x", workers, res.Digest, want)
			}
		})
	}
}

// oneByteReader wraps an io.Reader so every Read call returns at most
// one byte, modeling spec.md §8 scenario 6's 1-byte-chunk stream.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestOneByteChunkStreaming(t *testing.T) {
	const size = 3 * 1024 * 1024
	data := xorshift32Sequence(size, 99)
	want := primitive.Default{}.HashSingle(data)

	h := mustHasher(t, DefaultOptions())
	defer h.Terminate()

	res, err := h.HashFile(context.Background(), oneByteReader{bytes.NewReader(data)}, size)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if res.Digest != want {
		t.Fatalf("digest %x != expected %x", res.Digest, want)
	}
}

func TestHashFileBeforeInitIsNotInitialized(t *testing.T) {
	h, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = h.HashFile(context.Background(), bytes.NewReader(nil), 0)
	if err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestTerminateThenHashFileIsNotInitialized(t *testing.T) {
	h := mustHasher(t, DefaultOptions())
	h.Terminate()
	h.Terminate() // idempotent

	_, err := h.HashFile(context.Background(), bytes.NewReader(nil), 0)
	if err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized after terminate, got %v", err)
	}
}

// slowOnceProvider behaves like primitive.Default except HashSubtree
// sleeps past the task timeout for one single call, picked by offset,
// to simulate spec.md §8's "slow worker (simulated sleep on one task)".
type slowOnceProvider struct {
	primitive.Default
	slowOffset uint64
	delay      time.Duration
}

func (s slowOnceProvider) HashSubtree(data []byte, offset uint64) primitive.CV {
	if offset == s.slowOffset {
		time.Sleep(s.delay)
	}
	return s.Default.HashSubtree(data, offset)
}

func TestSlowWorkerSurfacesTaskTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxLeafSize = 1024
	opts.TaskTimeout = 30 * time.Millisecond
	opts.WorkerCount = 2
	opts.MaxInflightPerWorker = 1

	h, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.prim = slowOnceProvider{slowOffset: 0, delay: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer h.Terminate()

	const size = smallInputShortcut // smallest size that goes through the worker pool
	data := xorshift32Sequence(size, 5)

	_, err = h.HashFile(context.Background(), bytes.NewReader(data), size)
	if err == nil {
		t.Fatal("expected an error from the slow leaf")
	}
	var timeoutErr *TaskTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TaskTimeoutError, got %T: %v", err, err)
	}
}
