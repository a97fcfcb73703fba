// Package merkle computes the shard Merkle root over the sealed file set.
//
// Two constructions coexist, selected by suite:
//
//	legacy (ed25519):
//	  Leaf  = BLAKE3(relpath_utf8 || 0x00 || file_bytes)
//	  Node  = BLAKE3(left || right)
//	  Odd   = duplicate the final node (Bitcoin style)
//	  Empty = BLAKE3("")
//
//	post-quantum (axm-blake3-mldsa44):
//	  Leaf  = BLAKE3(0x00 || relpath_utf8 || 0x00 || file_bytes)
//	  Node  = BLAKE3(0x01 || left || right)
//	  Odd   = promote the final unpaired node unchanged (RFC 6962)
//	  Empty = BLAKE3(0x01)
//
// The domain prefixes prevent crafted file content from colliding with
// internal tree nodes, and odd-leaf promotion closes the duplication
// attack the legacy construction inherits. The two constructions are
// independent: a shard rooted under one cannot be re-rooted under the
// other without re-emitting its manifest and signature.
package merkle

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"

	"github.com/BigBirdReturns/axm-core/internal/sealer"
)

// EmptyRootPQ is the frozen empty-tree root for the post-quantum suite:
// BLAKE3(0x01).
const EmptyRootPQ = "48fc721fbbc172e0925fa27af1671de225ba927134802998b10a1568a188652b"

const hashSize = 32

// ComputeRoot walks the shard directory, hashes every file except
// manifest.json and anything under sig/, and returns the lowercase hex
// Merkle root under the given suite.
//
// The walk refuses symbolic links and enforces the policy limits; either
// aborts with a structured error.
func ComputeRoot(shardRoot string, suite sealer.Suite, lim Limits) (string, error) {
	files, err := collectFiles(shardRoot, lim)
	if err != nil {
		return "", err
	}

	leaves := make([][]byte, 0, len(files))
	for _, f := range files {
		leaf, err := hashLeaf(f, suite, lim.chunkSize())
		if err != nil {
			return "", err
		}
		leaves = append(leaves, leaf)
	}

	switch suite {
	case sealer.SuitePQ:
		return hex.EncodeToString(treePQ(leaves)), nil
	default:
		return hex.EncodeToString(treeLegacy(leaves)), nil
	}
}

// hashLeaf streams one file through BLAKE3 in bounded chunks.
func hashLeaf(f shardFile, suite sealer.Suite, chunk int) ([]byte, error) {
	h := blake3.New(hashSize, nil)
	if suite == sealer.SuitePQ {
		h.Write([]byte{0x00})
	}
	h.Write([]byte(f.rel))
	h.Write([]byte{0x00})
	if err := streamFile(h, f.abs, chunk); err != nil {
		return nil, fmt.Errorf("merkle: hash %s: %w", f.rel, err)
	}
	return h.Sum(nil), nil
}

// treeLegacy folds leaves bottom-up, duplicating the final odd node.
func treeLegacy(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		sum := blake3.Sum256(nil)
		return sum[:]
	}
	level := leaves
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			h := blake3.New(hashSize, nil)
			h.Write(left)
			h.Write(right)
			next = append(next, h.Sum(nil))
		}
		level = next
	}
	return level[0]
}

// treePQ folds leaves bottom-up with node domain separation, promoting the
// final unpaired node unchanged.
func treePQ(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		root, _ := hex.DecodeString(EmptyRootPQ)
		return root
	}
	level := leaves
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		i := 0
		for ; i+1 < len(level); i += 2 {
			h := blake3.New(hashSize, nil)
			h.Write([]byte{0x01})
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		if i < len(level) {
			next = append(next, level[i])
		}
		level = next
	}
	return level[0]
}
