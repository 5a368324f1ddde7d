package addressing

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Amul computes y = A x for the internal (uncoupled) part of an LDU matrix with
// the given diagonal and off-diagonal coefficients. Coupled boundary
// contributions are added by the coupling layer
func (la *LduAddressing) Amul(diag, lowerCoeffs, upperCoeffs, x []float64) ([]float64, error) {
	if len(diag) != la.nCells || len(x) != la.nCells {
		return nil, fmt.Errorf("diag/x length (%d,%d) != nCells %d: %w",
			len(diag), len(x), la.nCells, ErrInvalidIndex)
	}
	if len(lowerCoeffs) != len(la.lower) || len(upperCoeffs) != len(la.upper) {
		return nil, fmt.Errorf("coefficient lengths (%d,%d) != nFaces %d: %w",
			len(lowerCoeffs), len(upperCoeffs), len(la.lower), ErrInvalidIndex)
	}
	y := make([]float64, la.nCells)
	for celli := range y {
		y[celli] = diag[celli] * x[celli]
	}
	for facei, l := range la.lower {
		u := la.upper[facei]
		y[u] += lowerCoeffs[facei] * x[l]
		y[l] += upperCoeffs[facei] * x[u]
	}
	return y, nil
}

// Dense assembles the internal part of an LDU matrix into a dense matrix. It is
// meant for diagnostics and tests on small meshes
func (la *LduAddressing) Dense(diag, lowerCoeffs, upperCoeffs []float64) *mat.Dense {
	A := mat.NewDense(la.nCells, la.nCells, nil)
	for celli, d := range diag {
		A.Set(celli, celli, d)
	}
	for facei, l := range la.lower {
		u := la.upper[facei]
		A.Set(l, u, upperCoeffs[facei])
		A.Set(u, l, lowerCoeffs[facei])
	}
	return A
}
