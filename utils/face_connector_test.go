package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// Helper function to simulate face data exchange: every partition picks its
// cells for each neighbour and the neighbour receives them in face order
func simulateFaceExchange(fc *FaceConnector, solutions [][]float64) ([][][]float64, error) {
	received := make([][][]float64, fc.NumPartitions)
	for p := 0; p < fc.NumPartitions; p++ {
		received[p] = make([][]float64, fc.NumPartitions)
	}

	// Pick - gather from solution using pick indices, then hand over
	for p := 0; p < fc.NumPartitions; p++ {
		for q := 0; q < fc.NumPartitions; q++ {
			pickIndices := fc.GetPickIndices(p, q)
			buf := make([]float64, len(pickIndices))
			for i, idx := range pickIndices {
				if idx >= len(solutions[p]) {
					return nil, fmt.Errorf("pick index %d out of bounds for partition %d", idx, p)
				}
				buf[i] = solutions[p][idx]
			}
			received[q][p] = buf
		}
	}
	return received, nil
}

// localSolutions stores the global cell id as the value of every local cell
func localSolutions(fc *FaceConnector) [][]float64 {
	solutions := make([][]float64, fc.NumPartitions)
	for p := range solutions {
		for _, g := range fc.LocalToGlobalCell[p] {
			solutions[p] = append(solutions[p], float64(g))
		}
	}
	return solutions
}

// TestFaceConnector_CubeUnpartitioned has every face local to partition 0
func TestFaceConnector_CubeUnpartitioned(t *testing.T) {
	bm, err := UnitCube(3)
	require.NoError(t, err)

	fc, err := NewFaceConnector(bm.NCells, bm.Lower, bm.Upper, make([]int, bm.NCells))
	require.NoError(t, err)
	require.NoError(t, fc.Verify())

	if fc.NumPartitions != 1 {
		t.Fatalf("expected 1 partition, got %d", fc.NumPartitions)
	}
	assert.Len(t, fc.LocalFaces[0], len(bm.Lower))
	assert.Empty(t, fc.Neighbours(0))
}

// TestFaceConnector_CubeSlabs cuts a 4x2x2 box into x slabs
func TestFaceConnector_CubeSlabs(t *testing.T) {
	bm, err := NewBoxMesh(4, 2, 2, r3.Box{Max: r3.Vec{X: 4, Y: 2, Z: 2}})
	require.NoError(t, err)

	cToP := make([]int, bm.NCells)
	for k := 0; k < bm.Nz; k++ {
		for j := 0; j < bm.Ny; j++ {
			for i := 0; i < bm.Nx; i++ {
				cToP[bm.Cell(i, j, k)] = i / 2
			}
		}
	}
	fc, err := NewFaceConnector(bm.NCells, bm.Lower, bm.Upper, cToP)
	require.NoError(t, err)
	require.NoError(t, fc.Verify())

	// One x-face per (j,k) column is cut
	assert.Len(t, fc.GetPickIndices(0, 1), 4)
	assert.Equal(t, []int{1}, fc.Neighbours(0))
	assert.Nil(t, fc.GetPickIndices(0, 5))

	received, err := simulateFaceExchange(fc, localSolutions(fc))
	require.NoError(t, err)
	for k, face := range fc.PickIndices[1][0].GlobalFaces {
		// partition 0 receives the upper cell of each cut face, 1 the lower
		if got, want := received[0][1][k], float64(bm.Upper[face]); got != want {
			t.Errorf("face %d: partition 0 got %v want %v", face, got, want)
		}
		if got, want := received[1][0][k], float64(bm.Lower[face]); got != want {
			t.Errorf("face %d: partition 1 got %v want %v", face, got, want)
		}
	}
}

func TestFaceConnector_Errors(t *testing.T) {
	_, err := NewFaceConnector(0, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewFaceConnector(2, []int{0}, []int{1, 0}, []int{0, 0})
	assert.Error(t, err)
	_, err = NewFaceConnector(2, []int{0}, []int{1}, []int{0})
	assert.Error(t, err)
	_, err = NewFaceConnector(2, []int{0}, []int{1}, []int{0, -1})
	assert.Error(t, err)
	_, err = NewFaceConnector(2, []int{0}, []int{4}, []int{0, 1})
	assert.Error(t, err)
}

func TestBoxMesh(t *testing.T) {
	bm, err := NewBoxMesh(3, 2, 4, r3.Box{Min: r3.Vec{X: -1}, Max: r3.Vec{X: 2, Y: 1, Z: 2}})
	require.NoError(t, err)

	assert.Equal(t, 24, bm.NCells)
	// (nx-1)ny nz + nx(ny-1)nz + nx ny(nz-1)
	assert.Len(t, bm.Lower, 2*2*4+3*1*4+3*2*3)
	for f := range bm.Lower {
		assert.Less(t, bm.Lower[f], bm.Upper[f])
		if f > 0 {
			ordered := bm.Lower[f-1] < bm.Lower[f] ||
				(bm.Lower[f-1] == bm.Lower[f] && bm.Upper[f-1] < bm.Upper[f])
			assert.True(t, ordered, "face %d", f)
		}
	}
	assert.InDelta(t, 6, bm.TotalVolume(), 1e-12)
	assert.Equal(t, r3.Vec{X: -0.5, Y: 0.25, Z: 0.25}, bm.Centres[0])

	sizes := []int{8, 8, 12, 12, 6, 6}
	for p, n := range sizes {
		assert.Len(t, bm.PatchCells[p], n, bm.PatchNames[p])
		assert.Len(t, bm.PatchFaces[p], n, bm.PatchNames[p])
	}

	_, err = NewBoxMesh(0, 1, 1, r3.Box{Max: r3.Vec{X: 1, Y: 1, Z: 1}})
	assert.Error(t, err)
	_, err = NewBoxMesh(1, 1, 1, r3.Box{})
	assert.Error(t, err)
}
