//go:build cgo

package gpu

import (
	_ "embed"
	"encoding/binary"
	"fmt"

	"github.com/jgillich/go-opencl/cl"

	"github.com/clforge/md5scan/internal/encoder"
	"github.com/clforge/md5scan/internal/scanner"
)

//go:embed kernel.cl
var kernelSource string

// enumerate flattens GPU devices across all OpenCL platforms. A broken
// OpenCL runtime is an error, distinct from an empty device list.
func enumerate() ([]*cl.Device, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, fmt.Errorf("gpu: enumerate platforms: %w", err)
	}
	var out []*cl.Device
	for _, p := range platforms {
		devices, err := p.GetDevices(cl.DeviceTypeGPU)
		if err != nil {
			continue
		}
		out = append(out, devices...)
	}
	return out, nil
}

// Available returns true if at least one OpenCL GPU device is usable.
func Available() bool {
	devices, err := enumerate()
	return err == nil && len(devices) > 0
}

// ListDevices enumerates OpenCL GPU devices across all platforms.
func ListDevices() ([]Info, error) {
	devices, err := enumerate()
	if err != nil {
		return nil, err
	}
	infos := make([]Info, len(devices))
	for i, d := range devices {
		infos[i] = Info{Index: i, Name: d.Name(), Vendor: d.Vendor()}
	}
	return infos, nil
}

// New creates an OpenCL scan device: builds the kernel and allocates
// both resource sets at full capacity up front. Allocation failure here
// is fatal to the run; nothing is retried.
func New(cfg Config) (*Device, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = scanner.DefaultBatchSize
	}

	devices, err := enumerate()
	if err != nil || len(devices) == 0 {
		return nil, ErrNoDevice
	}
	if cfg.DeviceIndex < 0 || cfg.DeviceIndex >= len(devices) {
		return nil, fmt.Errorf("gpu: device index %d out of range (%d devices)", cfg.DeviceIndex, len(devices))
	}
	device := devices[cfg.DeviceIndex]

	impl := &openclDevice{}
	impl.ctx, err = cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, fmt.Errorf("gpu: create context: %w", err)
	}

	impl.program, err = impl.ctx.CreateProgramWithSource([]string{kernelSource})
	if err != nil {
		impl.close()
		return nil, fmt.Errorf("gpu: create program: %w", err)
	}
	if err := impl.program.BuildProgram(nil, ""); err != nil {
		impl.close()
		return nil, fmt.Errorf("gpu: build kernel: %w", err)
	}

	impl.target, err = impl.ctx.CreateEmptyBuffer(cl.MemReadOnly, 16)
	if err != nil {
		impl.close()
		return nil, fmt.Errorf("gpu: allocate target buffer: %w", err)
	}

	for i := range impl.sets {
		impl.sets[i], err = newOpenclSet(impl.ctx, device, impl.program, impl.target, cfg.Capacity)
		if err != nil {
			impl.close()
			return nil, fmt.Errorf("gpu: resource set %d: %w", i, err)
		}
	}

	return &Device{impl: impl}, nil
}

type openclDevice struct {
	ctx     *cl.Context
	program *cl.Program
	target  *cl.MemObject
	sets    [2]*openclSet
}

func (d *openclDevice) setTarget(digest [16]byte) error {
	// Both sets' kernels bind this buffer; one blocking write covers
	// the whole scan.
	if _, err := d.sets[0].queue.EnqueueWriteBufferByte(d.target, true, 0, digest[:], nil); err != nil {
		return fmt.Errorf("write target: %w", err)
	}
	return nil
}

func (d *openclDevice) resourceSets() (scanner.ResourceSet, scanner.ResourceSet) {
	return d.sets[0], d.sets[1]
}

func (d *openclDevice) close() error {
	for _, s := range d.sets {
		if s != nil {
			s.release()
		}
	}
	if d.target != nil {
		d.target.Release()
	}
	if d.program != nil {
		d.program.Release()
	}
	if d.ctx != nil {
		d.ctx.Release()
	}
	return nil
}

// openclSet is one device-resident buffer set plus its kernel binding.
// It has its own in-order command queue so its uploads and dispatches
// never serialize behind the other set's in-flight kernel, and its own
// kernel instance so the buffer bindings are set once and never raced.
type openclSet struct {
	queue    *cl.CommandQueue
	kernel   *cl.Kernel
	payload  *cl.MemObject
	lengths  *cl.MemObject
	offsets  *cl.MemObject
	result   *cl.MemObject
	capacity int
	words    []byte // reused staging for uint32 slices
}

var noMatchWord = [4]byte{0xff, 0xff, 0xff, 0xff} // int32(-1) sentinel

func newOpenclSet(ctx *cl.Context, device *cl.Device, program *cl.Program, target *cl.MemObject, capacity int) (*openclSet, error) {
	s := &openclSet{capacity: capacity, words: make([]byte, 0, capacity*4)}

	var err error
	if s.queue, err = ctx.CreateCommandQueue(device, 0); err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}
	if s.kernel, err = program.CreateKernel("md5_scan"); err != nil {
		s.release()
		return nil, fmt.Errorf("create kernel: %w", err)
	}
	if s.payload, err = ctx.CreateEmptyBuffer(cl.MemReadOnly, capacity*encoder.MaxItemBytes); err != nil {
		s.release()
		return nil, fmt.Errorf("allocate payload buffer: %w", err)
	}
	if s.lengths, err = ctx.CreateEmptyBuffer(cl.MemReadOnly, capacity*4); err != nil {
		s.release()
		return nil, fmt.Errorf("allocate lengths buffer: %w", err)
	}
	if s.offsets, err = ctx.CreateEmptyBuffer(cl.MemReadOnly, capacity*4); err != nil {
		s.release()
		return nil, fmt.Errorf("allocate offsets buffer: %w", err)
	}
	if s.result, err = ctx.CreateEmptyBuffer(cl.MemReadWrite, 4); err != nil {
		s.release()
		return nil, fmt.Errorf("allocate result buffer: %w", err)
	}

	for i, arg := range []*cl.MemObject{s.payload, s.lengths, s.offsets, target, s.result} {
		if err := s.kernel.SetArg(i, arg); err != nil {
			s.release()
			return nil, fmt.Errorf("bind kernel arg %d: %w", i, err)
		}
	}
	return s, nil
}

// Load uploads the encoded batch with blocking writes, so the device-side
// copy is complete before the caller can enqueue the paired dispatch.
// Resetting the result slot to the sentinel is part of the same operation
// so a stale match from a previous batch on this set can never be read.
func (s *openclSet) Load(b *encoder.Batch) error {
	if b.Count == 0 {
		return fmt.Errorf("gpu: load of empty batch")
	}
	if b.Count > s.capacity {
		return fmt.Errorf("gpu: batch of %d exceeds capacity %d", b.Count, s.capacity)
	}
	if _, err := s.queue.EnqueueWriteBufferByte(s.payload, true, 0, b.Payload, nil); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if _, err := s.queue.EnqueueWriteBufferByte(s.lengths, true, 0, s.stage(b.Lengths), nil); err != nil {
		return fmt.Errorf("write lengths: %w", err)
	}
	if _, err := s.queue.EnqueueWriteBufferByte(s.offsets, true, 0, s.stage(b.Offsets), nil); err != nil {
		return fmt.Errorf("write offsets: %w", err)
	}
	if _, err := s.queue.EnqueueWriteBufferByte(s.result, true, 0, noMatchWord[:], nil); err != nil {
		return fmt.Errorf("reset result: %w", err)
	}
	return nil
}

// Dispatch enqueues one invocation per candidate and flushes the queue so
// the device starts immediately; it never waits for completion.
func (s *openclSet) Dispatch(count int) error {
	if count < 1 || count > s.capacity {
		return fmt.Errorf("gpu: dispatch count %d out of range", count)
	}
	if _, err := s.queue.EnqueueNDRangeKernel(s.kernel, nil, []int{count}, nil, nil); err != nil {
		return fmt.Errorf("enqueue kernel: %w", err)
	}
	if err := s.queue.Flush(); err != nil {
		return fmt.Errorf("flush queue: %w", err)
	}
	return nil
}

// ReadResult performs the blocking device-to-host result copy. The
// in-order queue guarantees it observes the dispatch that preceded it.
func (s *openclSet) ReadResult() (int, bool, error) {
	var raw [4]byte
	if _, err := s.queue.EnqueueReadBufferByte(s.result, true, 0, raw[:], nil); err != nil {
		return 0, false, fmt.Errorf("read result: %w", err)
	}
	idx := int32(binary.LittleEndian.Uint32(raw[:]))
	if idx < 0 {
		return 0, false, nil
	}
	return int(idx), true, nil
}

func (s *openclSet) stage(v []uint32) []byte {
	s.words = s.words[:0]
	for _, w := range v {
		s.words = binary.LittleEndian.AppendUint32(s.words, w)
	}
	return s.words
}

func (s *openclSet) release() {
	for _, buf := range []*cl.MemObject{s.result, s.offsets, s.lengths, s.payload} {
		if buf != nil {
			buf.Release()
		}
	}
	if s.kernel != nil {
		s.kernel.Release()
	}
	if s.queue != nil {
		s.queue.Release()
	}
}
