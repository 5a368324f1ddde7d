package addressing

import (
	"cmp"
	"fmt"
	"slices"
)

// UpperTriOrder returns the face order that sorts lower/upper into
// upper-triangular order: order[newFace] = oldFace. Every face must satisfy
// lower < upper and both cells must lie in [0, nCells)
func UpperTriOrder(nCells int, lower, upper []int) ([]int, error) {
	if len(lower) != len(upper) {
		return nil, fmt.Errorf("lower/upper length mismatch %d != %d: %w",
			len(lower), len(upper), ErrInvalidTopology)
	}
	// Counting sort on lower
	start := make([]int, nCells+1)
	for facei, l := range lower {
		u := upper[facei]
		if l < 0 || u >= nCells || l >= u {
			return nil, fmt.Errorf("face %d: cells (%d,%d) with %d cells: %w",
				facei, l, u, nCells, ErrInvalidTopology)
		}
		start[l+1]++
	}
	for celli := 0; celli < nCells; celli++ {
		start[celli+1] += start[celli]
	}
	order := make([]int, len(lower))
	next := slices.Clone(start[:nCells])
	for facei, l := range lower {
		order[next[l]] = facei
		next[l]++
	}
	// Then by upper within each lower run
	for celli := 0; celli < nCells; celli++ {
		run := order[start[celli]:start[celli+1]]
		slices.SortStableFunc(run, func(a, b int) int { return cmp.Compare(upper[a], upper[b]) })
	}
	return order, nil
}

// InvertOrder turns a new-to-old order into an old-to-new map
func InvertOrder(order []int) []int {
	oldToNew := make([]int, len(order))
	for newi, oldi := range order {
		oldToNew[oldi] = newi
	}
	return oldToNew
}

// Reorder returns values permuted by order: out[i] = values[order[i]]
func Reorder[T any](values []T, order []int) []T {
	out := make([]T, len(order))
	for newi, oldi := range order {
		out[newi] = values[oldi]
	}
	return out
}

// RenumberFaces maps plain face indices through oldToNew in place. Negative
// entries are sentinels and are left untouched
func RenumberFaces(faces []int, oldToNew []int) {
	for i, f := range faces {
		if f >= 0 {
			faces[i] = oldToNew[f]
		}
	}
}

// RenumberCodes maps signed face codes (see EncodeFace) through oldToNew in
// place, keeping the orientation flag. Zero entries are left untouched
func RenumberCodes(codes []int, oldToNew []int) {
	for i, c := range codes {
		if c == 0 {
			continue
		}
		face, flip := DecodeFace(c)
		codes[i] = EncodeFace(oldToNew[face], flip)
	}
}

// EncodeFace returns the signed face encoding used in face maps: face+1 when the
// orientation is kept, -(face+1) when flipped
func EncodeFace(face int, flip bool) int {
	if flip {
		return -face - 1
	}
	return face + 1
}

// DecodeFace reverses EncodeFace
func DecodeFace(code int) (face int, flip bool) {
	if code < 0 {
		return -code - 1, true
	}
	return code - 1, false
}
