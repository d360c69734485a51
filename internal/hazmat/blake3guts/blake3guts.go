// Package blake3guts implements the BLAKE3 compression function and the
// chunk/parent node primitives that the tree-parallel hasher is built on.
//
// Nothing in the retrieval corpus vendors a BLAKE3 implementation that
// exposes subtree-level chaining values (the public packages in the
// ecosystem only expose a sequential hash.Hash), so this package plays
// the role spec.md §4.1 calls "the black-box primitive library": it is
// the one piece of this module grounded directly in the published
// BLAKE3 algorithm rather than in a teacher or pack file. See DESIGN.md.
package blake3guts

import "encoding/binary"

const (
	// ChunkLen is the number of input bytes hashed by one leaf chunk.
	ChunkLen = 1024

	blockLen = 64

	flagChunkStart = 1 << 0
	flagChunkEnd   = 1 << 1
	flagParent     = 1 << 2
	flagRoot       = 1 << 3
)

// IV is BLAKE3's initialization vector, identical to SHA-256's.
var IV = [8]uint32{
	0x6A09E667, 0xBB67AE85, 0x3C6EF372, 0xA54FF53A,
	0x510E527F, 0x9B05688C, 0x1F83D9AB, 0x5BE0CD19,
}

// msgPermutation is applied to the message schedule between rounds.
var msgPermutation = [16]int{2, 6, 3, 10, 7, 0, 4, 13, 1, 11, 12, 5, 9, 14, 15, 8}

func rotr32(x uint32, n uint) uint32 {
	return x>>n | x<<(32-n)
}

func g(state *[16]uint32, a, b, c, d int, mx, my uint32) {
	state[a] = state[a] + state[b] + mx
	state[d] = rotr32(state[d]^state[a], 16)
	state[c] = state[c] + state[d]
	state[b] = rotr32(state[b]^state[c], 12)
	state[a] = state[a] + state[b] + my
	state[d] = rotr32(state[d]^state[a], 8)
	state[c] = state[c] + state[d]
	state[b] = rotr32(state[b]^state[c], 7)
}

func round(state *[16]uint32, m *[16]uint32) {
	g(state, 0, 4, 8, 12, m[0], m[1])
	g(state, 1, 5, 9, 13, m[2], m[3])
	g(state, 2, 6, 10, 14, m[4], m[5])
	g(state, 3, 7, 11, 15, m[6], m[7])
	g(state, 0, 5, 10, 15, m[8], m[9])
	g(state, 1, 6, 11, 12, m[10], m[11])
	g(state, 2, 7, 8, 13, m[12], m[13])
	g(state, 3, 4, 9, 14, m[14], m[15])
}

func permute(m *[16]uint32) {
	var out [16]uint32
	for i, p := range msgPermutation {
		out[i] = m[p]
	}
	*m = out
}

// compress runs the BLAKE3 compression function on one 64-byte block and
// returns the full 16-word output state. Callers take the first 8 words
// as the chaining value (non-root) or as the 32-byte digest (root).
func compress(cv [8]uint32, block [16]uint32, counter uint64, blockLenBytes uint32, flags uint32) [16]uint32 {
	state := [16]uint32{
		cv[0], cv[1], cv[2], cv[3], cv[4], cv[5], cv[6], cv[7],
		IV[0], IV[1], IV[2], IV[3],
		uint32(counter), uint32(counter >> 32), blockLenBytes, flags,
	}
	m := block
	for r := 0; r < 7; r++ {
		round(&state, &m)
		if r < 6 {
			permute(&m)
		}
	}
	for i := 0; i < 8; i++ {
		state[i] ^= state[i+8]
		state[i+8] ^= cv[i]
	}
	return state
}

func wordsFromBlock(b []byte) [16]uint32 {
	var buf [blockLen]byte
	copy(buf[:], b)
	var m [16]uint32
	for i := 0; i < 16; i++ {
		m[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return m
}

func bytesFromCV(cv [8]uint32) [32]byte {
	var out [32]byte
	for i, w := range cv {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], w)
	}
	return out
}

func first8(state [16]uint32) (cv [8]uint32) {
	copy(cv[:], state[:8])
	return cv
}

// hashChunk compresses up to ChunkLen bytes belonging to chunk number
// counter, returning the chunk chaining value (or the final digest words
// if root is true).
func hashChunk(data []byte, counter uint64, root bool) [8]uint32 {
	if len(data) > ChunkLen {
		panic("blake3guts: chunk longer than ChunkLen")
	}
	nBlocks := (len(data) + blockLen - 1) / blockLen
	if nBlocks == 0 {
		nBlocks = 1
	}
	cv := IV
	for i := 0; i < nBlocks; i++ {
		start := i * blockLen
		end := start + blockLen
		if end > len(data) {
			end = len(data)
		}
		blockBytes := data[start:end]
		flags := uint32(0)
		if i == 0 {
			flags |= flagChunkStart
		}
		if i == nBlocks-1 {
			flags |= flagChunkEnd
			if root {
				flags |= flagRoot
			}
		}
		out := compress(cv, wordsFromBlock(blockBytes), counter, uint32(len(blockBytes)), flags)
		cv = first8(out)
	}
	return cv
}

// parentCV combines two child chaining values into their parent's, or
// into the final root digest words if root is true.
func parentCV(left, right [8]uint32, root bool) [8]uint32 {
	var block [16]uint32
	copy(block[:8], left[:])
	copy(block[8:], right[:])
	flags := uint32(flagParent)
	if root {
		flags |= flagRoot
	}
	out := compress(IV, block, 0, blockLen, flags)
	return first8(out)
}

// LeftSubtreeLen returns the byte length of the left child in BLAKE3's
// canonical tree split for a subtree of n bytes, n > ChunkLen.
func LeftSubtreeLen(n uint64) uint64 {
	totalChunks := (n + ChunkLen - 1) / ChunkLen
	return largestPowerOfTwoLessThan(totalChunks) * ChunkLen
}

func largestPowerOfTwoLessThan(n uint64) uint64 {
	p := uint64(1)
	for p<<1 < n {
		p <<= 1
	}
	return p
}

// hashRecurse hashes data (an arbitrary-length input or subtree) starting
// at absolute chunk-counter offset/ChunkLen, returning its chaining value;
// root is set only for the node that the caller knows is the tree root.
func hashRecurse(data []byte, counter uint64, root bool) [8]uint32 {
	if len(data) <= ChunkLen {
		return hashChunk(data, counter, root)
	}
	l := LeftSubtreeLen(uint64(len(data)))
	left := hashRecurse(data[:l], counter, false)
	right := hashRecurse(data[l:], counter+l/ChunkLen, false)
	return parentCV(left, right, root)
}

// HashSingle computes the full BLAKE3 digest of data treated as a
// complete, standalone input.
func HashSingle(data []byte) [32]byte {
	return bytesFromCV(hashRecurse(data, 0, true))
}

// HashSubtree treats data as a subtree of a larger input beginning at
// absolute byte inputOffset, and returns its non-root chaining value.
// data must satisfy the leaf/subtree alignment invariants of spec.md §3;
// this function does not itself validate them (the planner does).
func HashSubtree(data []byte, inputOffset uint64) [32]byte {
	return bytesFromCV(hashRecurse(data, inputOffset/ChunkLen, false))
}

// ParentCV combines two non-root child chaining values.
func ParentCV(left, right [32]byte) [32]byte {
	return bytesFromCV(parentCV(wordsFromCVBytes(left), wordsFromCVBytes(right), false))
}

// RootHash combines the two root children's chaining values with the
// root-finalization flag, producing the final digest.
func RootHash(left, right [32]byte) [32]byte {
	return bytesFromCV(parentCV(wordsFromCVBytes(left), wordsFromCVBytes(right), true))
}

func wordsFromCVBytes(b [32]byte) (cv [8]uint32) {
	for i := 0; i < 8; i++ {
		cv[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	return cv
}
