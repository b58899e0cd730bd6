// Package encoder turns a chunk of variable-length candidates into the
// fixed-layout structure-of-arrays form the digest kernel consumes:
// pre-padded MD5 message blocks, per-item unpadded lengths, and per-item
// byte offsets into the payload. Padding happens here, on the host, so
// the kernel never executes variable-length control flow.
package encoder

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// BlockSize is the MD5 message block size in bytes.
	BlockSize = 64

	// MaxItemBytes is the padded per-candidate budget. Resource sets
	// size their payload buffers as capacity * MaxItemBytes.
	MaxItemBytes = 256

	// MaxCandidateLen is the longest raw candidate whose padded form
	// still fits MaxItemBytes: 247 + 0x80 delimiter + 8-byte length
	// trailer = 256. Longer candidates are rejected, never truncated.
	MaxCandidateLen = MaxItemBytes - 9
)

// ErrCandidateTooLong is returned when a candidate exceeds MaxCandidateLen.
var ErrCandidateTooLong = errors.New("candidate exceeds maximum length")

// Batch holds one encoded batch. The slices are reused across batches:
// Encode truncates them and appends, so capacity grows once and then
// stays stable for the life of the scan.
type Batch struct {
	Payload []byte   // concatenated padded message blocks
	Lengths []uint32 // unpadded byte length per item
	Offsets []uint32 // byte offset of each item's first block in Payload
	Count   int
}

// Reset clears the batch for reuse without releasing capacity.
func (b *Batch) Reset() {
	b.Payload = b.Payload[:0]
	b.Lengths = b.Lengths[:0]
	b.Offsets = b.Offsets[:0]
	b.Count = 0
}

// PaddedLen returns the padded size of an n-byte message: the smallest
// whole number of blocks with room for the delimiter and the trailer.
func PaddedLen(n int) int {
	return ((n+8)/BlockSize + 1) * BlockSize
}

var zeroFill [BlockSize]byte

// Encode fills dst with the structure-of-arrays form of candidates.
// Each item is laid out as raw bytes, a 0x80 delimiter, zero fill up to
// eight bytes short of the block boundary, then the original bit length
// as a little-endian 64-bit trailer. Candidates longer than
// MaxCandidateLen fail with ErrCandidateTooLong.
func Encode(dst *Batch, candidates [][]byte) error {
	dst.Reset()
	for i, c := range candidates {
		if len(c) > MaxCandidateLen {
			return fmt.Errorf("encode item %d: %w (%d > %d bytes)", i, ErrCandidateTooLong, len(c), MaxCandidateLen)
		}
		off := len(dst.Payload)
		padded := PaddedLen(len(c))
		dst.Offsets = append(dst.Offsets, uint32(off))
		dst.Lengths = append(dst.Lengths, uint32(len(c)))
		dst.Payload = append(dst.Payload, c...)
		dst.Payload = append(dst.Payload, 0x80)
		fill := off + padded - 8 - len(dst.Payload)
		for fill > 0 {
			n := min(fill, BlockSize)
			dst.Payload = append(dst.Payload, zeroFill[:n]...)
			fill -= n
		}
		dst.Payload = binary.LittleEndian.AppendUint64(dst.Payload, uint64(len(c))*8)
	}
	dst.Count = len(candidates)
	return nil
}

// Validate reports the first candidate that could not be encoded, so
// callers can reject bad input before any device work is submitted.
func Validate(candidates [][]byte) error {
	for i, c := range candidates {
		if len(c) > MaxCandidateLen {
			return fmt.Errorf("item %d: %w (%d > %d bytes)", i, ErrCandidateTooLong, len(c), MaxCandidateLen)
		}
	}
	return nil
}
