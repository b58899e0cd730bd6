package gpu

import (
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clforge/md5scan/internal/scanner"
)

func newTestDevice(t *testing.T, capacity int) *Device {
	t.Helper()
	if !Available() {
		t.Skip("OpenCL GPU not available")
	}
	dev, err := New(Config{DeviceIndex: 0, Capacity: capacity})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestNewWithoutDeviceReturnsErrNoDevice(t *testing.T) {
	if Available() {
		t.Skip("OpenCL GPU present")
	}
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrNoDevice)
}

func TestKernelKnownVectors(t *testing.T) {
	dev := newTestDevice(t, 64)

	// md5("password") = 5f4dcc3b5aa765d61d8327deb882cf99
	target := md5.Sum([]byte("password"))
	s := scanner.New(dev, scanner.WithBatchSize(64))

	idx, found, err := s.Scan([][]byte{[]byte("abc"), []byte("password"), []byte("xyz")}, target)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, idx)
}

func TestKernelEmptyString(t *testing.T) {
	dev := newTestDevice(t, 16)

	target := md5.Sum(nil)
	s := scanner.New(dev, scanner.WithBatchSize(16))

	idx, found, err := s.Scan([][]byte{[]byte("nope"), {}}, target)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, idx)
}

func TestKernelMultiBlockCandidate(t *testing.T) {
	dev := newTestDevice(t, 16)

	// 100 bytes pads to two blocks; exercises the block loop.
	long := make([]byte, 100)
	for i := range long {
		long[i] = byte('a' + i%26)
	}
	target := md5.Sum(long)
	s := scanner.New(dev, scanner.WithBatchSize(16))

	idx, found, err := s.Scan([][]byte{[]byte("short"), long, []byte("tail")}, target)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, idx)
}

func TestScanNoMatchAcrossBatches(t *testing.T) {
	dev := newTestDevice(t, 32)

	candidates := make([][]byte, 200)
	for i := range candidates {
		candidates[i] = []byte{byte(i), byte(i >> 8), 'q'}
	}
	target := md5.Sum([]byte("absent"))
	s := scanner.New(dev, scanner.WithBatchSize(32))

	_, found, err := s.Scan(candidates, target)
	require.NoError(t, err)
	require.False(t, found)
}
