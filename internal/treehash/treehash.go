// Package treehash computes Glacier's SHA-256 binary tree hash alongside a
// plain linear SHA-256, in a single streaming pass bounded to O(log N)
// memory plus two 1 MiB buffers (HashReader's read buffer and the pending
// leaf), independent of the range size.
//
// The algorithm: split the range into consecutive 1 MiB leaves (the last may
// be shorter), SHA-256 each leaf, and maintain them on a stack where two
// adjacent entries of equal "level" are combined (SHA-256 of their
// concatenation) into one entry at level+1, as soon as that pair exists.
// After the last leaf, the remaining stack entries are pop-pop-combined
// pairwise, ignoring level, until a single root hash remains. This mirrors
// the algorithm documented for Amazon Glacier's archive checksum.
package treehash

import (
	"crypto/sha256"
	"hash"
	"io"

	"github.com/pkg/errors"
)

// LeafSize is the fixed chunk size tree-hash leaves are computed over.
const LeafSize = 1 << 20 // 1 MiB

type node struct {
	level int
	sum   []byte
}

// Builder accumulates a tree hash and a linear hash over a sequence of
// chunks fed to it via Write. Chunks may be of any size; Write re-chunks
// them into LeafSize leaves, and Sum hashes a shorter final leaf if one is
// pending.
type Builder struct {
	stack  []node
	linear hash.Hash
	pend   []byte // buffered bytes of the current, not-yet-full leaf
}

// NewBuilder returns an empty tree-hash/linear-hash accumulator.
func NewBuilder() *Builder {
	return &Builder{
		linear: sha256.New(),
		pend:   make([]byte, 0, LeafSize),
	}
}

// Write feeds arbitrary-sized chunks of the range into the accumulator. It
// internally re-chunks its input into LeafSize leaves, so callers may Write
// in any granularity (e.g. driven by io.Copy's default buffer size) as long
// as the chunks are fed in range order with no gaps.
func (b *Builder) Write(p []byte) (int, error) {
	n := len(p)
	b.linear.Write(p)

	for len(p) > 0 {
		room := LeafSize - len(b.pend)
		take := room
		if take > len(p) {
			take = len(p)
		}
		b.pend = append(b.pend, p[:take]...)
		p = p[take:]

		if len(b.pend) == LeafSize {
			b.pushLeaf(b.pend)
			b.pend = b.pend[:0]
		}
	}

	return n, nil
}

func (b *Builder) pushLeaf(chunk []byte) {
	sum := sha256.Sum256(chunk)
	b.push(node{level: 1, sum: sum[:]})
}

func (b *Builder) push(n node) {
	b.stack = append(b.stack, n)
	for len(b.stack) >= 2 {
		top := b.stack[len(b.stack)-1]
		under := b.stack[len(b.stack)-2]
		if top.level != under.level {
			break
		}
		b.stack = b.stack[:len(b.stack)-2]
		b.stack = append(b.stack, combine(under, top))
	}
}

func combine(left, right node) node {
	h := sha256.New()
	h.Write(left.sum)
	h.Write(right.sum)
	return node{level: left.level + 1, sum: h.Sum(nil)}
}

// Sum finalizes the accumulator and returns (treeHash, linearHash). It may
// be called only once; further writes after Sum produce undefined results.
func (b *Builder) Sum() (tree, linear []byte) {
	if len(b.pend) > 0 {
		b.pushLeaf(b.pend)
		b.pend = nil
	}

	stack := b.stack
	if len(stack) == 0 {
		// empty range: tree hash of zero bytes is the hash of the empty leaf
		empty := sha256.Sum256(nil)
		return empty[:], b.linear.Sum(nil)
	}

	for len(stack) > 1 {
		right := stack[len(stack)-1]
		left := stack[len(stack)-2]
		stack = stack[:len(stack)-2]
		stack = append(stack, combine(left, right))
	}

	return stack[0].sum, b.linear.Sum(nil)
}

// HashReader drains r (assumed to already be positioned at the start of the
// desired range) through a Builder and returns its tree and linear hashes.
func HashReader(r io.Reader) (tree, linear []byte, err error) {
	b := NewBuilder()
	buf := make([]byte, LeafSize)
	if _, err := io.CopyBuffer(b, r, buf); err != nil {
		return nil, nil, errors.Wrap(err, "treehash: reading range")
	}
	tree, linear = b.Sum()
	return tree, linear, nil
}

// Compose combines an ordered vector of already-computed hashes (e.g. one
// per part) layer by layer: adjacent pairs are combined (SHA-256 of their
// concatenation) into the next layer, an odd last entry carries forward
// unchanged, and this repeats until one hash remains. Over a part's leaf
// hashes it yields the same root as Builder; Glacier uses it to derive the
// archive's root hash from the ordered vector of part tree hashes.
func Compose(hashes [][]byte) []byte {
	if len(hashes) == 0 {
		empty := sha256.Sum256(nil)
		return empty[:]
	}

	layer := make([][]byte, len(hashes))
	copy(layer, hashes)

	for len(layer) > 1 {
		next := make([][]byte, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 == len(layer) {
				// odd tail carries forward unchanged to the next level
				next = append(next, layer[i])
				continue
			}
			h := sha256.New()
			h.Write(layer[i])
			h.Write(layer[i+1])
			next = append(next, h.Sum(nil))
		}
		layer = next
	}

	return layer[0]
}
