package addressing

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// gridFaces returns the internal faces of an nx by ny grid of cells in
// row-major cell numbering. Faces come out in x-then-y sweep order, which is not
// upper-triangular
func gridFaces(nx, ny int) (lower, upper []int) {
	for j := 0; j < ny; j++ {
		for i := 0; i+1 < nx; i++ {
			lower = append(lower, i+j*nx)
			upper = append(upper, i+1+j*nx)
		}
	}
	for j := 0; j+1 < ny; j++ {
		for i := 0; i < nx; i++ {
			lower = append(lower, i+j*nx)
			upper = append(upper, i+(j+1)*nx)
		}
	}
	return
}

func assertUpperTriangular(t *testing.T, la *LduAddressing) {
	t.Helper()
	l, u := la.LowerAddr(), la.UpperAddr()
	for i := range l {
		assert.Less(t, l[i], u[i], "face %d", i)
		if i > 0 {
			assert.LessOrEqual(t, l[i-1], l[i], "face %d lower order", i)
			if l[i-1] == l[i] {
				assert.Less(t, u[i-1], u[i], "face %d upper order", i)
			}
		}
	}
}

func TestNew_RejectsNonTriangular(t *testing.T) {
	lower, upper := gridFaces(3, 3)

	_, err := New(9, lower, upper, nil)
	require.ErrorIs(t, err, ErrInvalidTopology)

	_, err = New(2, []int{1}, []int{0}, nil)
	assert.ErrorIs(t, err, ErrInvalidTopology)

	_, err = New(2, []int{0}, []int{2}, nil)
	assert.ErrorIs(t, err, ErrInvalidTopology)

	_, err = New(2, []int{0}, []int{1}, [][]int{{0, 5}})
	assert.ErrorIs(t, err, ErrInvalidTopology)
}

func TestNewUnordered_GridIsUpperTriangular(t *testing.T) {
	lower, upper := gridFaces(4, 3)
	la, order, err := NewUnordered(12, lower, upper, [][]int{{0, 4, 8}, {3, 7, 11}})
	require.NoError(t, err)

	assert.Equal(t, 12, la.Size())
	assert.Equal(t, len(lower), la.NFaces())
	assertUpperTriangular(t, la)

	// The applied order maps every new face back to the same cell pair
	for newi, oldi := range order {
		assert.Equal(t, lower[oldi], la.LowerAddr()[newi])
		assert.Equal(t, upper[oldi], la.UpperAddr()[newi])
	}
	oldToNew := InvertOrder(order)
	for oldi, newi := range oldToNew {
		assert.Equal(t, oldi, order[newi])
	}
}

func TestOwnerStartAndLosort(t *testing.T) {
	lower, upper := gridFaces(3, 2)
	la, _, err := NewUnordered(6, lower, upper, nil)
	require.NoError(t, err)

	ownerStart := la.OwnerStartAddr()
	require.Len(t, ownerStart, 7)
	assert.Equal(t, 0, ownerStart[0])
	assert.Equal(t, la.NFaces(), ownerStart[6])
	for celli := 0; celli < 6; celli++ {
		for facei := ownerStart[celli]; facei < ownerStart[celli+1]; facei++ {
			assert.Equal(t, celli, la.LowerAddr()[facei])
		}
	}

	losort, losortStart := la.LosortAddr(), la.LosortStartAddr()
	require.Len(t, losortStart, 7)
	seen := make([]bool, la.NFaces())
	for celli := 0; celli < 6; celli++ {
		for i := losortStart[celli]; i < losortStart[celli+1]; i++ {
			assert.Equal(t, celli, la.UpperAddr()[losort[i]])
			seen[losort[i]] = true
		}
	}
	for facei, s := range seen {
		assert.True(t, s, "face %d missing from losort", facei)
	}
}

func TestTriIndex(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	nCells := 40
	connected := make(map[[2]int]bool)
	var lower, upper []int
	for len(lower) < 120 {
		a, b := rng.IntN(nCells), rng.IntN(nCells)
		if a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		if connected[[2]int{a, b}] {
			continue
		}
		connected[[2]int{a, b}] = true
		lower = append(lower, a)
		upper = append(upper, b)
	}
	la, _, err := NewUnordered(nCells, lower, upper, nil)
	require.NoError(t, err)
	assertUpperTriangular(t, la)

	for a := 0; a < nCells; a++ {
		for b := 0; b < nCells; b++ {
			fab, fba := la.TriIndex(a, b), la.TriIndex(b, a)
			assert.Equal(t, fab, fba)
			lo, hi := min(a, b), max(a, b)
			if connected[[2]int{lo, hi}] {
				require.NotEqual(t, NotFound, fab)
				assert.Equal(t, lo, la.LowerAddr()[fab])
				assert.Equal(t, hi, la.UpperAddr()[fab])
			} else {
				assert.Equal(t, NotFound, fab, "(%d,%d)", a, b)
			}
		}
	}
	assert.Equal(t, NotFound, la.TriIndex(-1, 3))
	assert.Equal(t, NotFound, la.TriIndex(3, nCells))
}

func TestPatchAddr(t *testing.T) {
	la, err := New(2, []int{0}, []int{1}, [][]int{{0}, {1, 1}})
	require.NoError(t, err)

	fc, err := la.PatchAddr(1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, fc)

	_, err = la.PatchAddr(2)
	assert.ErrorIs(t, err, ErrInvalidIndex)
	_, err = la.PatchAddr(-1)
	assert.ErrorIs(t, err, ErrInvalidIndex)
	assert.Equal(t, 2, la.NPatches())
}

func TestAmulMatchesDense(t *testing.T) {
	lower, upper := gridFaces(3, 3)
	la, _, err := NewUnordered(9, lower, upper, nil)
	require.NoError(t, err)

	diag := make([]float64, 9)
	x := make([]float64, 9)
	for i := range diag {
		diag[i] = 4 + float64(i)
		x[i] = float64(i*i) - 3
	}
	lc := make([]float64, la.NFaces())
	uc := make([]float64, la.NFaces())
	for f := range lc {
		lc[f] = -1 - 0.1*float64(f)
		uc[f] = -2 + 0.05*float64(f)
	}

	y, err := la.Amul(diag, lc, uc, x)
	require.NoError(t, err)

	var want mat.VecDense
	want.MulVec(la.Dense(diag, lc, uc), mat.NewVecDense(9, x))
	assert.InDeltaSlicef(t, want.RawVector().Data, y, 1.e-12, "")

	_, err = la.Amul(diag[:3], lc, uc, x)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestFaceCodes(t *testing.T) {
	for _, tc := range []struct {
		face int
		flip bool
	}{{0, false}, {0, true}, {7, false}, {7, true}} {
		f, flip := DecodeFace(EncodeFace(tc.face, tc.flip))
		assert.Equal(t, tc.face, f)
		assert.Equal(t, tc.flip, flip)
	}

	oldToNew := []int{2, 0, 1}
	codes := []int{EncodeFace(0, false), EncodeFace(1, true), 0}
	RenumberCodes(codes, oldToNew)
	assert.Equal(t, []int{EncodeFace(2, false), EncodeFace(0, true), 0}, codes)

	faces := []int{0, -1, 2}
	RenumberFaces(faces, oldToNew)
	assert.Equal(t, []int{2, -1, 1}, faces)
}
