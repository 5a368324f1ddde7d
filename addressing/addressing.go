package addressing

import (
	"fmt"
	"slices"
)

// LduAddressing is the immutable cell-to-cell connectivity of one mesh partition
// Internal faces are held as parallel lower/upper arrays in upper-triangular
// order; boundary patches are held as per-patch face-cell lists in a fixed patch
// order shared with the coupled interfaces
type LduAddressing struct {
	nCells int

	lower []int // owner cell per internal face, non-decreasing
	upper []int // neighbour cell per internal face, increasing within a lower run

	patchAddr [][]int // [patch][boundaryFace] -> internal cell

	ownerStart  []int // len nCells+1, CSR row start into upper
	losort      []int // face indices sorted by upper cell
	losortStart []int // len nCells+1, CSR row start into losort
}

// New builds the addressing from arrays that are already in upper-triangular
// order. The slices are taken over by the addressing and must not be modified by
// the caller afterwards
func New(nCells int, lower, upper []int, patchAddr [][]int) (*LduAddressing, error) {
	la := &LduAddressing{
		nCells:    nCells,
		lower:     lower,
		upper:     upper,
		patchAddr: patchAddr,
	}
	if err := la.Validate(); err != nil {
		return nil, err
	}
	la.calcOwnerStart()
	la.calcLosort()
	return la, nil
}

// NewUnordered builds the addressing from faces in arbitrary order, each face
// given with lower < upper. It returns the addressing together with the face
// order applied, where order[newFace] = oldFace
func NewUnordered(nCells int, lower, upper []int, patchAddr [][]int) (*LduAddressing, []int, error) {
	order, err := UpperTriOrder(nCells, lower, upper)
	if err != nil {
		return nil, nil, err
	}
	la, err := New(nCells, Reorder(lower, order), Reorder(upper, order), patchAddr)
	if err != nil {
		return nil, nil, err
	}
	return la, order, nil
}

// Size returns the number of cells
func (la *LduAddressing) Size() int { return la.nCells }

// NFaces returns the number of internal faces
func (la *LduAddressing) NFaces() int { return len(la.lower) }

// NPatches returns the number of boundary patches
func (la *LduAddressing) NPatches() int { return len(la.patchAddr) }

// LowerAddr returns the owner cell of every internal face. Read only
func (la *LduAddressing) LowerAddr() []int { return la.lower }

// UpperAddr returns the neighbour cell of every internal face. Read only
func (la *LduAddressing) UpperAddr() []int { return la.upper }

// PatchAddr returns the face cells of boundary patch patchi
func (la *LduAddressing) PatchAddr(patchi int) ([]int, error) {
	if patchi < 0 || patchi >= len(la.patchAddr) {
		return nil, fmt.Errorf("patch %d of %d: %w", patchi, len(la.patchAddr), ErrInvalidIndex)
	}
	return la.patchAddr[patchi], nil
}

// OwnerStartAddr returns, per cell, the offset into UpperAddr where the cell's
// owned faces begin. The slice has nCells+1 entries
func (la *LduAddressing) OwnerStartAddr() []int { return la.ownerStart }

// LosortAddr returns the internal faces ordered by their upper cell
func (la *LduAddressing) LosortAddr() []int { return la.losort }

// LosortStartAddr returns, per cell, the offset into LosortAddr where the faces
// having that cell as upper begin. The slice has nCells+1 entries
func (la *LduAddressing) LosortStartAddr() []int { return la.losortStart }

// TriIndex returns the internal face connecting cells a and b, or NotFound
// The search is a linear scan of the owned faces of min(a,b); upper-triangular
// order keeps that range to the cell degree, so no face hash is kept
func (la *LduAddressing) TriIndex(a, b int) int {
	own, nbr := a, b
	if own > nbr {
		own, nbr = nbr, own
	}
	if own < 0 || nbr >= la.nCells || own == nbr {
		return NotFound
	}
	for facei := la.ownerStart[own]; facei < la.ownerStart[own+1]; facei++ {
		switch {
		case la.upper[facei] == nbr:
			return facei
		case la.upper[facei] > nbr:
			return NotFound
		}
	}
	return NotFound
}

// Validate checks index ranges and upper-triangular ordering
func (la *LduAddressing) Validate() error {
	if la.nCells < 0 {
		return fmt.Errorf("negative cell count %d: %w", la.nCells, ErrInvalidTopology)
	}
	if len(la.lower) != len(la.upper) {
		return fmt.Errorf("lower/upper length mismatch %d != %d: %w",
			len(la.lower), len(la.upper), ErrInvalidTopology)
	}
	if err := CheckUpperTriangular(la.nCells, la.lower, la.upper); err != nil {
		return err
	}
	for patchi, fc := range la.patchAddr {
		for facei, celli := range fc {
			if celli < 0 || celli >= la.nCells {
				return fmt.Errorf("patch %d face %d: cell %d out of range [0,%d): %w",
					patchi, facei, celli, la.nCells, ErrInvalidTopology)
			}
		}
	}
	return nil
}

// CheckUpperTriangular reports whether lower/upper are in upper-triangular order
func CheckUpperTriangular(nCells int, lower, upper []int) error {
	for facei := range lower {
		l, u := lower[facei], upper[facei]
		if l < 0 || u >= nCells {
			return fmt.Errorf("face %d: cells (%d,%d) out of range [0,%d): %w",
				facei, l, u, nCells, ErrInvalidTopology)
		}
		if l >= u {
			return fmt.Errorf("face %d: lower %d >= upper %d: %w", facei, l, u, ErrInvalidTopology)
		}
		if facei > 0 {
			pl, pu := lower[facei-1], upper[facei-1]
			if l < pl || (l == pl && u <= pu) {
				return fmt.Errorf("face %d (%d,%d) follows (%d,%d), not upper-triangular: %w",
					facei, l, u, pl, pu, ErrInvalidTopology)
			}
		}
	}
	return nil
}

func (la *LduAddressing) calcOwnerStart() {
	la.ownerStart = make([]int, la.nCells+1)
	for _, l := range la.lower {
		la.ownerStart[l+1]++
	}
	for celli := 0; celli < la.nCells; celli++ {
		la.ownerStart[celli+1] += la.ownerStart[celli]
	}
}

func (la *LduAddressing) calcLosort() {
	la.losortStart = make([]int, la.nCells+1)
	for _, u := range la.upper {
		la.losortStart[u+1]++
	}
	for celli := 0; celli < la.nCells; celli++ {
		la.losortStart[celli+1] += la.losortStart[celli]
	}
	la.losort = make([]int, len(la.upper))
	next := slices.Clone(la.losortStart[:la.nCells])
	for facei, u := range la.upper {
		la.losort[next[u]] = facei
		next[u]++
	}
}
