// Package cpu implements the scanner's device contract on the host.
// It exists for machines without a usable OpenCL device and as the
// reference implementation the GPU kernel is tested against: same
// resource-set lifecycle, same pre-padded structure-of-arrays input,
// same first-writer-wins result slot, with dispatches running
// asynchronously on worker goroutines so the pipeline overlap is real.
package cpu

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/clforge/md5scan/internal/encoder"
	"github.com/clforge/md5scan/internal/scanner"
)

const noMatch = -1

// Device runs the digest kernel on worker goroutines.
type Device struct {
	workers int
	target  [4]uint32
	sets    [2]*resourceSet
}

// New creates a host device with one worker per available CPU.
func New() *Device {
	return NewWithWorkers(runtime.GOMAXPROCS(0))
}

// NewWithWorkers creates a host device with an explicit worker count.
func NewWithWorkers(workers int) *Device {
	if workers < 1 {
		workers = 1
	}
	d := &Device{workers: workers}
	d.sets[0] = &resourceSet{dev: d}
	d.sets[1] = &resourceSet{dev: d}
	return d
}

// SetTarget stores the target digest as four little-endian words, the
// same form the compression function produces. Workers read the target
// unsynchronized, so any dispatch abandoned by an earlier scan must
// finish before the words change.
func (d *Device) SetTarget(digest [16]byte) error {
	for _, s := range d.sets {
		s.drain()
	}
	for i := range d.target {
		d.target[i] = uint32(digest[i*4]) | uint32(digest[i*4+1])<<8 |
			uint32(digest[i*4+2])<<16 | uint32(digest[i*4+3])<<24
	}
	return nil
}

// ResourceSets returns the device's two buffer sets.
func (d *Device) ResourceSets() (scanner.ResourceSet, scanner.ResourceSet) {
	return d.sets[0], d.sets[1]
}

// resourceSet is the host analog of a GPU buffer set: it owns private
// copies of the encoded batch so the scanner's scratch can be reused
// while a dispatch is still running.
type resourceSet struct {
	dev     *Device
	payload []byte
	lengths []uint32
	offsets []uint32
	result  atomic.Int32
	done    chan struct{}
}

// drain waits out a dispatch whose result was never read, so its
// workers cannot observe later writes to the set's buffers or the
// device target. The GPU gets the same guarantee from its in-order
// command queue.
func (s *resourceSet) drain() {
	if s.done != nil {
		<-s.done
		s.done = nil
	}
}

func (s *resourceSet) Load(b *encoder.Batch) error {
	s.drain()
	s.payload = append(s.payload[:0], b.Payload...)
	s.lengths = append(s.lengths[:0], b.Lengths...)
	s.offsets = append(s.offsets[:0], b.Offsets...)
	s.result.Store(noMatch)
	return nil
}

func (s *resourceSet) Dispatch(count int) error {
	if count < 1 || count > len(s.lengths) {
		return fmt.Errorf("cpu: dispatch count %d out of range", count)
	}
	done := make(chan struct{})
	s.done = done

	var wg sync.WaitGroup
	for w := 0; w < s.dev.workers; w++ {
		wg.Add(1)
		go func(first int) {
			defer wg.Done()
			s.run(first, s.dev.workers, count)
		}(w)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return nil
}

func (s *resourceSet) ReadResult() (int, bool, error) {
	if s.done == nil {
		return 0, false, fmt.Errorf("cpu: read before dispatch")
	}
	<-s.done
	s.done = nil
	if idx := s.result.Load(); idx != noMatch {
		return int(idx), true, nil
	}
	return 0, false, nil
}

// run is one worker's share of a dispatch, striding over the batch the
// way GPU invocations stride over global IDs.
func (s *resourceSet) run(first, stride, count int) {
	target := s.dev.target
	for k := first; k < count; k += stride {
		if s.result.Load() != noMatch {
			return
		}
		if digestBlocks(s.payload, s.offsets[k], s.lengths[k]) == target {
			s.result.CompareAndSwap(noMatch, int32(k))
			return
		}
	}
}
