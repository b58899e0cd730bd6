// Package scanner drives the batched, double-buffered matching pipeline:
// it chunks the candidate list, encodes each chunk into whichever resource
// set is idle, dispatches it, and reads the previous batch's result while
// the device works. Host-side encoding of batch n overlaps device
// execution of batch n-1; that overlap is the point of the design.
package scanner

import (
	"fmt"
	"time"

	"github.com/clforge/md5scan/internal/encoder"
)

// DefaultBatchSize is the number of candidates per dispatch. Larger
// batches amortize dispatch overhead; beyond this, host-side encoding
// and device memory pressure stop paying for themselves.
const DefaultBatchSize = 65536

// ResourceSet is one complete collection of device-resident buffers plus
// its kernel binding. Two exist per device; the scanner alternates them
// by batch parity so one can be filled while the other is in flight.
type ResourceSet interface {
	// Load uploads an encoded batch, overwriting prior contents, and
	// resets the result slot to the no-match sentinel. It completes
	// the device-side copy before returning.
	Load(b *encoder.Batch) error
	// Dispatch enqueues count kernel invocations against this set's
	// buffers and returns without waiting for them.
	Dispatch(count int) error
	// ReadResult blocks until the set's dispatch and the result
	// readback finish, then reports the matched index within the
	// batch, if any. The only per-set synchronization point.
	ReadResult() (idx int, found bool, err error)
}

// Device is a compute device able to run the digest kernel. Implemented
// by the OpenCL device in internal/gpu and the host device in
// internal/cpu.
type Device interface {
	// SetTarget writes the 16-byte target digest. Written once per
	// scan, read-only thereafter.
	SetTarget(digest [16]byte) error
	ResourceSets() (ResourceSet, ResourceSet)
}

// Stats is a progress snapshot delivered after each result readback.
type Stats struct {
	Encoded   uint64 // candidates encoded and dispatched so far
	Checked   uint64 // candidates resolved by readbacks; a match counts through the matched candidate only
	Elapsed   time.Duration
	PerSecond float64 // checked candidates per second
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithBatchSize overrides DefaultBatchSize. The device's resource sets
// must have been allocated with at least this capacity.
func WithBatchSize(n int) Option {
	return func(s *Scanner) { s.batchSize = n }
}

// WithProgress installs a hook invoked after every readback.
func WithProgress(fn func(Stats)) Option {
	return func(s *Scanner) { s.progress = fn }
}

// Scanner owns the batch loop and the host-side encode scratch. Not safe
// for concurrent use; one scan runs at a time.
type Scanner struct {
	dev       Device
	batchSize int
	progress  func(Stats)
	scratch   encoder.Batch
}

// New creates a scanner over dev.
func New(dev Device, opts ...Option) *Scanner {
	s := &Scanner{dev: dev, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan checks every candidate against target, in order, and reports the
// index of a match. Batches are dispatched in sequence order with
// pipeline depth 1: when a match surfaces in batch n, batch n+1 may
// already be in flight and its result is never consulted, so a tie
// between a match in batch n and one in batch n+1 resolves to batch n.
// Within a single batch, which of several matching candidates wins is
// unspecified. A clean exhausted scan returns found == false, err == nil.
func (s *Scanner) Scan(candidates [][]byte, target [16]byte) (int, bool, error) {
	if s.batchSize <= 0 {
		return 0, false, fmt.Errorf("scan: invalid batch size %d", s.batchSize)
	}
	if len(candidates) == 0 {
		return 0, false, nil
	}
	// Reject unencodable input before anything is dispatched.
	if err := encoder.Validate(candidates); err != nil {
		return 0, false, fmt.Errorf("scan: %w", err)
	}
	if err := s.dev.SetTarget(target); err != nil {
		return 0, false, fmt.Errorf("scan: set target: %w", err)
	}

	setA, setB := s.dev.ResourceSets()
	sets := [2]ResourceSet{setA, setB}

	total := len(candidates)
	batches := (total + s.batchSize - 1) / s.batchSize
	start := time.Now()
	var encoded uint64

	// Encode, upload, and dispatch batch i into the set owned by its
	// parity. The dispatch is enqueue-only; by the time this returns
	// the host is free to encode the next batch.
	submit := func(i int) error {
		lo := i * s.batchSize
		hi := min(lo+s.batchSize, total)
		if err := encoder.Encode(&s.scratch, candidates[lo:hi]); err != nil {
			return fmt.Errorf("encode batch %d: %w", i, err)
		}
		encoded += uint64(hi - lo)
		set := sets[i%2]
		if err := set.Load(&s.scratch); err != nil {
			return fmt.Errorf("load batch %d: %w", i, err)
		}
		if err := set.Dispatch(s.scratch.Count); err != nil {
			return fmt.Errorf("dispatch batch %d: %w", i, err)
		}
		return nil
	}

	// Blocks on batch i's result and converts a within-batch index to
	// a candidate-sequence index.
	collect := func(i int) (int, bool, error) {
		idx, found, err := sets[i%2].ReadResult()
		if err != nil {
			return 0, false, fmt.Errorf("readback batch %d: %w", i, err)
		}
		checked := uint64(min((i+1)*s.batchSize, total))
		if found {
			// A match short-circuits the batch; count only through
			// the matched candidate.
			checked = uint64(i*s.batchSize + idx + 1)
		}
		s.report(encoded, checked, start)
		if !found {
			return 0, false, nil
		}
		return i*s.batchSize + idx, true, nil
	}

	// Priming: first batch has no predecessor to check.
	if err := submit(0); err != nil {
		return 0, false, err
	}

	// Steady state: keep the device one batch ahead of the readback.
	for i := 1; i < batches; i++ {
		if err := submit(i); err != nil {
			return 0, false, err
		}
		if idx, found, err := collect(i - 1); err != nil || found {
			return idx, found, err
		}
	}

	// Draining: the last dispatched batch.
	return collect(batches - 1)
}

func (s *Scanner) report(encoded, checked uint64, start time.Time) {
	if s.progress == nil {
		return
	}
	elapsed := time.Since(start)
	var perSec float64
	if elapsed > 0 {
		perSec = float64(checked) / elapsed.Seconds()
	}
	s.progress(Stats{Encoded: encoded, Checked: checked, Elapsed: elapsed, PerSecond: perSec})
}
