package merkle

import (
	"bytes"
	"errors"

	"golang.org/x/crypto/sha3"
)

// Domain-separation prefixes. Leaves and interior nodes hash under distinct
// tags so a leaf can never be replayed as an interior node.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// ErrEmptyTree is returned when a tree is built over zero leaves.
var ErrEmptyTree = errors.New("merkle: cannot build a tree over zero leaves")

// ErrLeafIndex is returned when a proof is requested for an index outside
// the tree.
var ErrLeafIndex = errors.New("merkle: leaf index out of range")

// Proof is an inclusion proof for one leaf. Siblings are ordered from the
// leaf's level upward; Index fixes the left/right position at every level,
// so verification does not depend on construction order.
type Proof struct {
	Index    uint32
	Siblings [][32]byte
}

// Tree is a binary keccak-256 Merkle tree over a fixed leaf list. A level
// with an odd node count duplicates its last node.
type Tree struct {
	levels [][][32]byte // levels[0] = hashed leaves, last level = root
}

// HashLeaf computes the domain-separated hash of raw leaf content.
func HashLeaf(data []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte{leafPrefix})
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func hashNode(left, right [32]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte{nodePrefix})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// New builds a tree over already-hashed leaves.
func New(leaves [][32]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	level := make([][32]byte, len(leaves))
	copy(level, leaves)
	levels := [][][32]byte{level}

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashNode(left, right))
		}
		levels = append(levels, next)
		level = next
	}

	return &Tree{levels: levels}, nil
}

// Root returns the tree's root hash.
func (t *Tree) Root() [32]byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.levels[0])
}

// ProofFor builds the inclusion proof for the leaf at index i.
func (t *Tree) ProofFor(i int) (*Proof, error) {
	if i < 0 || i >= t.Len() {
		return nil, ErrLeafIndex
	}

	proof := &Proof{Index: uint32(i)}
	idx := i
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling >= len(level) {
			sibling = idx // odd level, last node paired with itself
		}
		proof.Siblings = append(proof.Siblings, level[sibling])
		idx /= 2
	}
	return proof, nil
}

// Verify recomputes the root from a hashed leaf and its proof and compares
// it to the expected root. Any mismatch fails closed.
func Verify(leaf [32]byte, proof *Proof, root [32]byte) bool {
	if proof == nil {
		return false
	}

	h := leaf
	idx := proof.Index
	for _, sibling := range proof.Siblings {
		if idx%2 == 0 {
			h = hashNode(h, sibling)
		} else {
			h = hashNode(sibling, h)
		}
		idx /= 2
	}
	return bytes.Equal(h[:], root[:])
}
