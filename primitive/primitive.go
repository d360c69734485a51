// Package primitive wraps the BLAKE3 primitive operations behind the
// five contracts spec.md §4.1/§6.1 require of the worker pool and
// combiner: hash_single, hash_subtree, parent_cv, root_hash and
// left_subtree_len. It is the only seam between the tree-parallel
// machinery in this module and the actual hash function, mirroring
// how bmt.Hasher in the teacher takes a BaseHasherFunc rather than
// hard-coding Keccak256.
package primitive

import "github.com/parahash/blake3pool/internal/hazmat/blake3guts"

// CV is an opaque 32-byte chaining value or root digest. Its two
// flavors (non-root CV, root hash) are indistinguishable by shape;
// correctness depends entirely on which Provider method produced it.
type CV [32]byte

// Provider exposes the BLAKE3 primitive operations the rest of this
// module treats as an external collaborator.
type Provider interface {
	// HashSingle returns the full BLAKE3 digest of data as a complete,
	// standalone input.
	HashSingle(data []byte) CV

	// HashSubtree returns the non-root chaining value of data, treated
	// as a legal BLAKE3 subtree beginning at absolute byte inputOffset.
	HashSubtree(data []byte, inputOffset uint64) CV

	// ParentCV combines two child chaining values into their parent's
	// non-root chaining value.
	ParentCV(left, right CV) CV

	// RootHash combines the two root children's chaining values with
	// the root-finalization flag, producing the final digest.
	RootHash(left, right CV) CV

	// LeftSubtreeLen returns the byte length of the left child in
	// BLAKE3's canonical split of a subtree of n bytes. n must be > 1024.
	LeftSubtreeLen(n uint64) uint64
}

// Default is the production Provider, backed by internal/hazmat/blake3guts.
type Default struct{}

var _ Provider = Default{}

func (Default) HashSingle(data []byte) CV {
	return CV(blake3guts.HashSingle(data))
}

func (Default) HashSubtree(data []byte, inputOffset uint64) CV {
	return CV(blake3guts.HashSubtree(data, inputOffset))
}

func (Default) ParentCV(left, right CV) CV {
	return CV(blake3guts.ParentCV([32]byte(left), [32]byte(right)))
}

func (Default) RootHash(left, right CV) CV {
	return CV(blake3guts.RootHash([32]byte(left), [32]byte(right)))
}

func (Default) LeftSubtreeLen(n uint64) uint64 {
	return blake3guts.LeftSubtreeLen(n)
}
