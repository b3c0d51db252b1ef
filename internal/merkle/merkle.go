// Package merkle builds binary Merkle roots over ordered sequences of leaf
// hashes, as used by chunk manifests (over chunk hashes), reduction
// manifests (over reference and delta chunk hashes), and temporal
// snapshots (over loaded taxonomy content).
package merkle

import "talaria/internal/hashcodec"

// Root computes the Merkle root over leaves, in order.
//
// Policy:
//   - Leaves are used as-is; they are already hashes and are not re-hashed.
//   - An internal node is hash(left || right).
//   - When a layer has an odd number of nodes, the last node is paired
//     with itself rather than promoted unchanged to the next layer, so
//     root(leaves) is reproducible from the leaves alone with no special
//     case visible to callers.
//
// Root of an empty leaf set is the fixed sentinel hashcodec.Sum(nil).
func Root(leaves []hashcodec.Hash) hashcodec.Hash {
	if len(leaves) == 0 {
		return hashcodec.Sum(nil)
	}

	layer := make([]hashcodec.Hash, len(leaves))
	copy(layer, leaves)

	for len(layer) > 1 {
		next := make([]hashcodec.Hash, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			left := layer[i]
			right := left
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			next = append(next, parent(left, right))
		}
		layer = next
	}
	return layer[0]
}

func parent(left, right hashcodec.Hash) hashcodec.Hash {
	buf := make([]byte, 0, hashcodec.Size*2)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return hashcodec.Sum(buf)
}
