package cpu

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clforge/md5scan/internal/encoder"
	"github.com/clforge/md5scan/internal/scanner"
)

func stateOf(digest [16]byte) [4]uint32 {
	var h [4]uint32
	for i := range h {
		h[i] = binary.LittleEndian.Uint32(digest[i*4:])
	}
	return h
}

func digestOne(t *testing.T, msg []byte) [4]uint32 {
	t.Helper()
	var b encoder.Batch
	require.NoError(t, encoder.Encode(&b, [][]byte{msg}))
	return digestBlocks(b.Payload, b.Offsets[0], b.Lengths[0])
}

func TestDigestBlocksKnownVectors(t *testing.T) {
	vectors := map[string]string{
		"":         "d41d8cd98f00b204e9800998ecf8427e",
		"password": "5f4dcc3b5aa765d61d8327deb882cf99",
		"hello":    "5d41402abc4b2a76b9719d911017c592",
		"abc":      "900150983cd24fb0d6963f7d28e17f72",
	}

	for msg, wantHex := range vectors {
		raw, err := hex.DecodeString(wantHex)
		require.NoError(t, err)
		var want [16]byte
		copy(want[:], raw)
		require.Equal(t, stateOf(want), digestOne(t, []byte(msg)), "md5(%q)", msg)
	}
}

func TestDigestBlocksMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := 0; n <= encoder.MaxCandidateLen; n++ {
		msg := make([]byte, n)
		rng.Read(msg)
		require.Equal(t, stateOf(md5.Sum(msg)), digestOne(t, msg), "length %d", n)
	}
}

func TestDeviceFindsMatch(t *testing.T) {
	dev := New()
	require.NoError(t, dev.SetTarget(md5.Sum([]byte("hunter2"))))

	candidates := [][]byte{[]byte("alpha"), []byte("hunter2"), []byte("omega")}
	var b encoder.Batch
	require.NoError(t, encoder.Encode(&b, candidates))

	set, _ := dev.ResourceSets()
	require.NoError(t, set.Load(&b))
	require.NoError(t, set.Dispatch(b.Count))

	idx, found, err := set.ReadResult()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, idx)
}

func TestDeviceNoMatch(t *testing.T) {
	dev := New()
	require.NoError(t, dev.SetTarget(md5.Sum([]byte("missing"))))

	candidates := [][]byte{[]byte("alpha"), []byte("beta")}
	var b encoder.Batch
	require.NoError(t, encoder.Encode(&b, candidates))

	set, _ := dev.ResourceSets()
	require.NoError(t, set.Load(&b))
	require.NoError(t, set.Dispatch(b.Count))

	_, found, err := set.ReadResult()
	require.NoError(t, err)
	require.False(t, found)
}

func TestDeviceResultResetBetweenLoads(t *testing.T) {
	dev := NewWithWorkers(2)
	require.NoError(t, dev.SetTarget(md5.Sum([]byte("x"))))
	set, _ := dev.ResourceSets()

	var b encoder.Batch
	require.NoError(t, encoder.Encode(&b, [][]byte{[]byte("x")}))
	require.NoError(t, set.Load(&b))
	require.NoError(t, set.Dispatch(1))
	_, found, err := set.ReadResult()
	require.NoError(t, err)
	require.True(t, found)

	// A stale match must not leak into the next batch on this set.
	require.NoError(t, encoder.Encode(&b, [][]byte{[]byte("y")}))
	require.NoError(t, set.Load(&b))
	require.NoError(t, set.Dispatch(1))
	_, found, err = set.ReadResult()
	require.NoError(t, err)
	require.False(t, found)
}

func TestDeviceTieClaimsExactlyOne(t *testing.T) {
	dev := New()
	require.NoError(t, dev.SetTarget(md5.Sum([]byte("dup"))))

	candidates := make([][]byte, 64)
	for i := range candidates {
		candidates[i] = []byte("dup")
	}
	var b encoder.Batch
	require.NoError(t, encoder.Encode(&b, candidates))

	set, _ := dev.ResourceSets()
	require.NoError(t, set.Load(&b))
	require.NoError(t, set.Dispatch(b.Count))

	idx, found, err := set.ReadResult()
	require.NoError(t, err)
	require.True(t, found)
	// Which duplicate wins is unspecified; it must be one of them.
	require.GreaterOrEqual(t, idx, 0)
	require.Less(t, idx, len(candidates))
}

func TestSetTargetWaitsForAbandonedDispatch(t *testing.T) {
	dev := New()
	candidates := make([][]byte, 64)
	for i := range candidates {
		candidates[i] = []byte(fmt.Sprintf("word-%02d", i))
	}
	s := scanner.New(dev, scanner.WithBatchSize(8))

	// A match in batch 0 leaves batch 1 dispatched and never read; the
	// immediate rescan retargets the same device while those workers may
	// still be running.
	for i := 0; i < 200; i++ {
		idx, found, err := s.Scan(candidates, md5.Sum(candidates[0]))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, 0, idx)

		idx, found, err = s.Scan(candidates, md5.Sum(candidates[63]))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, 63, idx)
	}
}

func TestReadBeforeDispatchFails(t *testing.T) {
	dev := New()
	set, _ := dev.ResourceSets()
	_, _, err := set.ReadResult()
	require.Error(t, err)
}
