package cpu

import "math/bits"

// MD5 initialization vector.
const (
	initA = 0x67452301
	initB = 0xefcdab89
	initC = 0x98badcfe
	initD = 0x10325476
)

// Per-round left-rotate amounts.
var shiftAmts = [64]uint{
	7, 12, 17, 22, 7, 12, 17, 22, 7, 12, 17, 22, 7, 12, 17, 22,
	5, 9, 14, 20, 5, 9, 14, 20, 5, 9, 14, 20, 5, 9, 14, 20,
	4, 11, 16, 23, 4, 11, 16, 23, 4, 11, 16, 23, 4, 11, 16, 23,
	6, 10, 15, 21, 6, 10, 15, 21, 6, 10, 15, 21, 6, 10, 15, 21,
}

// Integer parts of abs(sin(i+1)) * 2^32.
var kTable = [64]uint32{
	0xd76aa478, 0xe8c7b756, 0x242070db, 0xc1bdceee, 0xf57c0faf, 0x4787c62a, 0xa8304613, 0xfd469501,
	0x698098d8, 0x8b44f7af, 0xffff5bb1, 0x895cd7be, 0x6b901122, 0xfd987193, 0xa679438e, 0x49b40821,
	0xf61e2562, 0xc040b340, 0x265e5a51, 0xe9b6c7aa, 0xd62f105d, 0x02441453, 0xd8a1e681, 0xe7d3fbc8,
	0x21e1cde6, 0xc33707d6, 0xf4d50d87, 0x455a14ed, 0xa9e3e905, 0xfcefa3f8, 0x676f02d9, 0x8d2a4c8a,
	0xfffa3942, 0x8771f681, 0x6d9d6122, 0xfde5380c, 0xa4beea44, 0x4bdecfa9, 0xf6bb4b60, 0xbebfbc70,
	0x289b7ec6, 0xeaa127fa, 0xd4ef3085, 0x04881d05, 0xd9d4d039, 0xe6db99e5, 0x1fa27cf8, 0xc4ac5665,
	0xf4292244, 0x432aff97, 0xab9423a7, 0xfc93a039, 0x655b59c3, 0x8f0ccc92, 0xffeff47d, 0x85845dd1,
	0x6fa87e4f, 0xfe2ce6e0, 0xa3014314, 0x4e0811a1, 0xf7537e82, 0xbd3af235, 0x2ad7d2bb, 0xeb86d391,
}

// digestBlocks computes the MD5 state words for one pre-padded candidate
// in the payload. msgLen is the unpadded length; the block count derives
// from it exactly as the kernel derives it. All arithmetic is unsigned
// 32-bit with wraparound, matching the digest specification bit for bit.
func digestBlocks(payload []byte, off, msgLen uint32) [4]uint32 {
	nblocks := (msgLen+8)/64 + 1

	h := [4]uint32{initA, initB, initC, initD}
	var m [16]uint32

	for blk := uint32(0); blk < nblocks; blk++ {
		base := off + blk*64
		for i := 0; i < 16; i++ {
			p := base + uint32(i)*4
			m[i] = uint32(payload[p]) | uint32(payload[p+1])<<8 |
				uint32(payload[p+2])<<16 | uint32(payload[p+3])<<24
		}

		a, b, c, d := h[0], h[1], h[2], h[3]
		for i := 0; i < 64; i++ {
			var f uint32
			var g int
			switch {
			case i < 16:
				f = (b & c) | (^b & d)
				g = i
			case i < 32:
				f = (d & b) | (^d & c)
				g = (5*i + 1) % 16
			case i < 48:
				f = b ^ c ^ d
				g = (3*i + 5) % 16
			default:
				f = c ^ (b | ^d)
				g = (7 * i) % 16
			}
			f += a + kTable[i] + m[g]
			a, d, c = d, c, b
			b += bits.RotateLeft32(f, int(shiftAmts[i]))
		}

		h[0] += a
		h[1] += b
		h[2] += c
		h[3] += d
	}
	return h
}
