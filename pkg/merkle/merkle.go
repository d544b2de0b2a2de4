// Package merkle builds keccak256 Merkle trees over receipt hashes.
//
// Leaves and interior nodes are domain separated so an interior node can never be
// presented as a leaf. A node without a sibling is promoted to the next level unchanged.
package merkle

import (
	"errors"
	"fmt"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

const (
	leafPrefix byte = 0x00
	nodePrefix byte = 0x01
)

var ErrNoLeaves = errors.New("merkle tree has no leaves")

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Sibling protocol.Bytes32 `json:"sibling"`
	// Left is set when the sibling is hashed on the left-hand side.
	Left bool `json:"left"`
}

func hashLeaf(h protocol.Bytes32) protocol.Bytes32 {
	return protocol.Keccak256([]byte{leafPrefix}, h[:])
}

func hashNode(l, r protocol.Bytes32) protocol.Bytes32 {
	return protocol.Keccak256([]byte{nodePrefix}, l[:], r[:])
}

func leafLevel(leaves []protocol.Bytes32) []protocol.Bytes32 {
	level := make([]protocol.Bytes32, len(leaves))
	for i, l := range leaves {
		level[i] = hashLeaf(l)
	}
	return level
}

func nextLevel(level []protocol.Bytes32) []protocol.Bytes32 {
	next := make([]protocol.Bytes32, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 == len(level) {
			next = append(next, level[i])
			continue
		}
		next = append(next, hashNode(level[i], level[i+1]))
	}
	return next
}

// Root returns the root over leaves in order.
func Root(leaves []protocol.Bytes32) (protocol.Bytes32, error) {
	if len(leaves) == 0 {
		return protocol.Bytes32{}, ErrNoLeaves
	}
	level := leafLevel(leaves)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0], nil
}

// ReceiptRoot returns the root over the hashes of receipts in order.
func ReceiptRoot(receipts []protocol.Receipt) (protocol.Bytes32, error) {
	return Root(ReceiptLeaves(receipts))
}

func ReceiptLeaves(receipts []protocol.Receipt) []protocol.Bytes32 {
	leaves := make([]protocol.Bytes32, len(receipts))
	for i, r := range receipts {
		leaves[i] = r.Hash()
	}
	return leaves
}

// Proof returns the inclusion proof of leaves[index].
func Proof(leaves []protocol.Bytes32, index int) ([]ProofStep, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("leaf index %d out of range [0, %d)", index, len(leaves))
	}

	var proof []ProofStep
	level := leafLevel(leaves)
	for len(level) > 1 {
		switch {
		case index%2 == 1:
			proof = append(proof, ProofStep{Sibling: level[index-1], Left: true})
		case index+1 < len(level):
			proof = append(proof, ProofStep{Sibling: level[index+1]})
		}
		level = nextLevel(level)
		index /= 2
	}
	return proof, nil
}

// Verify reports whether proof links leaf to root.
func Verify(leaf protocol.Bytes32, proof []ProofStep, root protocol.Bytes32) bool {
	acc := hashLeaf(leaf)
	for _, step := range proof {
		if step.Left {
			acc = hashNode(step.Sibling, acc)
		} else {
			acc = hashNode(acc, step.Sibling)
		}
	}
	return acc == root
}
