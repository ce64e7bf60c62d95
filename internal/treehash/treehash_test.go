package treehash

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(b byte) []byte {
	return bytes.Repeat([]byte{b}, LeafSize)
}

func sha(chunks ...[]byte) []byte {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c)
	}
	sum := h.Sum(nil)
	return sum[:]
}

func TestHashReader_SingleLeafEqualsItsOwnSHA256(t *testing.T) {
	payload := leaf(0x11)
	tree, linear, err := HashReader(bytes.NewReader(payload))
	require.NoError(t, err)

	want := sha256.Sum256(payload)
	assert.Equal(t, want[:], tree)
	assert.Equal(t, want[:], linear)
}

func TestHashReader_ShortLastLeaf(t *testing.T) {
	payload := append(leaf(0xaa), []byte{0x01}...)
	tree, _, err := HashReader(bytes.NewReader(payload))
	require.NoError(t, err)

	leafA := sha256.Sum256(leaf(0xaa))
	leafB := sha256.Sum256([]byte{0x01})
	want := sha(leafA[:], leafB[:])
	assert.Equal(t, want, tree)
}

func TestHashReader_ThreeLeaves(t *testing.T) {
	a, b, c := leaf(0x01), leaf(0x02), leaf(0x03)
	payload := append(append(append([]byte{}, a...), b...), c...)

	tree, _, err := HashReader(bytes.NewReader(payload))
	require.NoError(t, err)

	sa, sb, sc := sha256.Sum256(a), sha256.Sum256(b), sha256.Sum256(c)
	ab := sha(sa[:], sb[:])
	want := sha(ab, sc[:])
	assert.Equal(t, want, tree)
}

func TestHashReader_FiveLeaves(t *testing.T) {
	leaves := make([][]byte, 5)
	var payload []byte
	for i := range leaves {
		leaves[i] = leaf(byte(i + 1))
		payload = append(payload, leaves[i]...)
	}

	tree, _, err := HashReader(bytes.NewReader(payload))
	require.NoError(t, err)

	sums := make([][]byte, 5)
	for i, l := range leaves {
		s := sha256.Sum256(l)
		sums[i] = s[:]
	}
	ab := sha(sums[0], sums[1])
	cd := sha(sums[2], sums[3])
	abcd := sha(ab, cd)
	want := sha(abcd, sums[4])
	assert.Equal(t, want, tree)
}

func TestHashReader_DeterministicAcrossWriteGranularity(t *testing.T) {
	payload := append(append(leaf(0x05), leaf(0x06)...), []byte{0x07, 0x08, 0x09}...)

	treeA, _, err := HashReader(bytes.NewReader(payload))
	require.NoError(t, err)

	b := NewBuilder()
	for _, chunk := range chunkOf(payload, 17) {
		_, err := b.Write(chunk)
		require.NoError(t, err)
	}
	treeB, _ := b.Sum()

	assert.Equal(t, treeA, treeB)
}

func chunkOf(p []byte, size int) [][]byte {
	var out [][]byte
	for len(p) > 0 {
		n := size
		if n > len(p) {
			n = len(p)
		}
		out = append(out, p[:n])
		p = p[n:]
	}
	return out
}

func TestHashReader_Empty(t *testing.T) {
	tree, linear, err := HashReader(bytes.NewReader(nil))
	require.NoError(t, err)

	emptySum := sha256.Sum256(nil)
	assert.Equal(t, emptySum[:], tree)
	assert.Equal(t, emptySum[:], linear)
}

func TestCompose_SingleHash(t *testing.T) {
	h := []byte("0123456789abcdef0123456789abcdef")
	assert.Equal(t, h, Compose([][]byte{h}))
}

func TestCompose_MatchesWholeRangeTreeHash(t *testing.T) {
	a, b, c := leaf(0x01), leaf(0x02), leaf(0x03)
	payload := append(append(append([]byte{}, a...), b...), c...)

	wantTree, _, err := HashReader(bytes.NewReader(payload))
	require.NoError(t, err)

	sa, sb, sc := sha256.Sum256(a), sha256.Sum256(b), sha256.Sum256(c)
	composed := Compose([][]byte{sa[:], sb[:], sc[:]})

	assert.Equal(t, wantTree, composed)
}

func TestCompose_Empty(t *testing.T) {
	empty := sha256.Sum256(nil)
	assert.Equal(t, empty[:], Compose(nil))
}
