// Package part derives the fixed byte-range geometry a file is cut into for
// a multipart upload (§3, §8 of the upload engine design).
package part

// Part is a contiguous, inclusive byte range of the source file, identified
// by its index in upload order.
type Part struct {
	Index int
	Start int64
	End   int64 // inclusive, matching backend range semantics
}

// Size returns the number of bytes covered by the part.
func (p Part) Size() int64 {
	return p.End - p.Start + 1
}

// Count returns how many parts of partSize are needed to cover size bytes.
func Count(size, partSize int64) int {
	if size <= 0 {
		return 1
	}
	n := size / partSize
	if size%partSize != 0 {
		n++
	}
	return int(n)
}

// Plan derives the ordered vector of parts covering size bytes at partSize
// each, with the last part absorbing the remainder. Invariant: every part
// but the last has size == partSize, and the sum of all part sizes is size.
func Plan(size, partSize int64) []Part {
	n := Count(size, partSize)
	parts := make([]Part, n)
	for i := 0; i < n; i++ {
		start := int64(i) * partSize
		end := start + partSize - 1
		if last := size - 1; end > last {
			end = last
		}
		parts[i] = Part{Index: i, Start: start, End: end}
	}
	return parts
}
