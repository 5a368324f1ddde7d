package meshtomesh

import (
	"errors"
	"math"
	"testing"

	"github.com/notargets/ldumesh/comm"
	"github.com/notargets/ldumesh/partitions"
	"github.com/notargets/ldumesh/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

var unitBox = r3.Box{Max: r3.Vec{X: 1, Y: 1, Z: 1}}

// decomposed meshes bounds with n^3 cells split into nParts blocks
type decomposed struct {
	bm    *utils.BoxMesh
	parts [][]int
}

func newDecomposed(t *testing.T, n, nParts int, bounds r3.Box) decomposed {
	t.Helper()
	bm, err := utils.NewBoxMesh(n, n, n, bounds)
	require.NoError(t, err)
	layout, err := (&partitions.PartitionBuilder{
		Mesh:          partitions.FromBoxMesh(bm),
		NumPartitions: nParts,
		Strategy:      partitions.BlockPartition,
	}).BuildPartitions()
	require.NoError(t, err)
	d := decomposed{bm: bm}
	for _, p := range layout.Partitions {
		d.parts = append(d.parts, p.Cells)
	}
	return d
}

// on is the geometry of rank r, empty beyond the last partition
func (d decomposed) on(r int) *CellGeometry {
	var cells []int
	if r < len(d.parts) {
		cells = d.parts[r]
	}
	return FromBoxMesh(d.bm, cells)
}

func ones(n int) []float64 {
	v := make([]float64, n)
	floats.AddConst(1, v)
	return v
}

func TestCellVolumeWeight_TwoOntoThreeRanks(t *testing.T) {
	src := newDecomposed(t, 4, 2, unitBox)
	tgt := newDecomposed(t, 3, 3, unitBox)
	integrals := make([][2]float64, 3)

	for _, pm := range []ProcMapMethod{AABB, LOD} {
		opts := DefaultOptions()
		opts.ProcMapMethod = pm
		err := comm.Run(3, func(c *comm.Comm) error {
			sg, tg := src.on(c.Rank()), tgt.on(c.Rank())
			m, err := New(c, sg, tg, opts)
			if err != nil {
				return err
			}
			assert.Equal(t, -1, m.SingleMeshProc())
			assert.InDelta(t, 1.0, m.V(), 1e-6)
			lo, hi := m.WeightSumRange()
			assert.InDelta(t, 1.0, lo, 1e-6)
			assert.InDelta(t, 1.0, hi, 1e-6)
			for i, w := range m.SrcToTgtCellWght {
				assert.Equal(t, Covered, m.Coverage(i))
				assert.InDelta(t, 1.0, floats.Sum(w), 1e-6, "rank %d target cell %d", c.Rank(), i)
			}

			// Constant round trip
			tgtValues := make([]float64, tg.NCells())
			if err := m.MapSrcToTgt(ones(sg.NCells()), tgtValues); err != nil {
				return err
			}
			for i, v := range tgtValues {
				assert.InDelta(t, 1.0, v, 1e-6, "target cell %d", i)
			}
			back := make([]float64, sg.NCells())
			if err := m.MapTgtToSrc(tgtValues, back); err != nil {
				return err
			}
			for j, v := range back {
				assert.Equal(t, Covered, m.SrcCoverage(j))
				assert.InDelta(t, 1.0, v, 1e-6, "source cell %d", j)
			}

			// A linear field keeps its integral
			srcValues := make([]float64, sg.NCells())
			srcInt := 0.0
			for j := range srcValues {
				srcValues[j] = sg.CellCentre(j).X
				srcInt += srcValues[j] * sg.CellVolume(j)
			}
			if err := m.MapSrcToTgt(srcValues, tgtValues); err != nil {
				return err
			}
			tgtInt := 0.0
			for i, v := range tgtValues {
				tgtInt += v * tg.CellVolume(i)
			}
			integrals[c.Rank()] = [2]float64{srcInt, tgtInt}
			return nil
		})
		require.NoError(t, err, "%v", pm)

		var srcInt, tgtInt float64
		for _, in := range integrals {
			srcInt += in[0]
			tgtInt += in[1]
		}
		assert.InDelta(t, 0.5, srcInt, 1e-12)
		assert.InDelta(t, srcInt, tgtInt, 1e-9, "%v", pm)
	}
}

func TestCellVolumeWeight_PartialOverlap(t *testing.T) {
	src := newDecomposed(t, 4, 2, unitBox)
	shifted := r3.Box{Min: r3.Vec{X: 0.25, Y: 0.25, Z: 0.25}, Max: r3.Vec{X: 1.25, Y: 1.25, Z: 1.25}}
	tgt := newDecomposed(t, 2, 2, shifted)
	opts := DefaultOptions()
	opts.Consistent = false

	err := comm.Run(2, func(c *comm.Comm) error {
		tg := tgt.on(c.Rank())
		m, err := New(c, src.on(c.Rank()), tg, opts)
		if err != nil {
			return err
		}
		assert.InDelta(t, 0.75*0.75*0.75, m.V(), 1e-12)
		for i, w := range m.SrcToTgtCellWght {
			g := tg.GlobalID(i)
			n := g%2 + (g/2)%2 + g/4
			assert.InDelta(t, math.Pow(0.5, float64(n)), floats.Sum(w), 1e-12, "target cell %d", g)
		}
		_, hi := m.WeightSumRange()
		assert.LessOrEqual(t, hi, 1+1e-12)
		return nil
	})
	require.NoError(t, err)
}

func TestEmptyCellsKeepTheirValues(t *testing.T) {
	src := newDecomposed(t, 2, 1, unitBox)
	far := r3.Box{Min: r3.Vec{X: 0.5, Y: 0, Z: 0}, Max: r3.Vec{X: 2.5, Y: 1, Z: 1}}
	tgt := newDecomposed(t, 2, 2, far)

	err := comm.Run(2, func(c *comm.Comm) error {
		tg := tgt.on(c.Rank())
		m, err := New(c, src.on(c.Rank()), tg, DefaultOptions())
		if err != nil {
			return err
		}
		values := make([]float64, tg.NCells())
		floats.AddConst(-1, values)
		if err := m.MapSrcToTgt(ones(src.on(c.Rank()).NCells()), values); err != nil {
			return err
		}
		for i := range values {
			// Cells with i = 0 span x in [0.5, 1.5]
			if tg.GlobalID(i)%2 == 0 {
				assert.Equal(t, Covered, m.Coverage(i))
				assert.InDelta(t, 1.0, values[i], 1e-12)
			} else {
				assert.Equal(t, Empty, m.Coverage(i))
				assert.Equal(t, -1.0, values[i])
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestPointMethods(t *testing.T) {
	src := newDecomposed(t, 5, 2, unitBox)
	tgt := newDecomposed(t, 3, 3, unitBox)

	for _, tc := range []struct {
		method Method
		pm     ProcMapMethod
	}{
		{Direct, AABB},
		{Direct, LOD},
		{MapNearest, AABB},
		{MapNearest, LOD},
	} {
		t.Run(tc.method.String()+"/"+tc.pm.String(), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Method, opts.ProcMapMethod = tc.method, tc.pm
			err := comm.Run(3, func(c *comm.Comm) error {
				tg := tgt.on(c.Rank())
				m, err := New(c, src.on(c.Rank()), tg, opts)
				if err != nil {
					return err
				}
				assert.InDelta(t, 1.0, m.V(), 1e-9)
				for i, addr := range m.SrcToTgtCellAddr {
					if !assert.Len(t, addr, 1) {
						continue
					}
					assert.Equal(t, []float64{1}, m.SrcToTgtCellWght[i])

					// Target index b lands in source index 2b along each axis
					g := tg.GlobalID(i)
					want := src.bm.Cell(2*(g%3), 2*((g/3)%3), 2*(g/9))
					assert.Equal(t, want, m.ConstructedGlobalID(addr[0]), "target cell %d", g)
				}

				back := make([]float64, src.on(c.Rank()).NCells())
				tgtValues := ones(tg.NCells())
				if err := m.MapTgtToSrc(tgtValues, back); err != nil {
					return err
				}
				for j, v := range back {
					if m.SrcCoverage(j) == Covered {
						assert.InDelta(t, 1.0, v, 1e-12)
					} else {
						assert.Zero(t, v)
					}
				}
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestSingleMeshProc_Corrected(t *testing.T) {
	src := newDecomposed(t, 2, 1, unitBox)
	tgt := newDecomposed(t, 4, 1, unitBox)
	opts := DefaultOptions()
	opts.Method = CorrectedCellVolumeWeight

	err := comm.Run(2, func(c *comm.Comm) error {
		tg := tgt.on(c.Rank())
		m, err := New(c, src.on(c.Rank()), tg, opts)
		if err != nil {
			return err
		}
		assert.Equal(t, 0, m.SingleMeshProc())
		assert.Zero(t, m.Distribution().NSent())
		if c.Rank() != 0 {
			assert.Empty(t, m.SrcToTgtCellAddr)
			return nil
		}
		assert.Len(t, m.SrcToTgtCellVec, 64)
		for i, vecs := range m.SrcToTgtCellVec {
			if !assert.Len(t, vecs, 1) {
				continue
			}
			// The intersection is the target cell itself
			k := m.SrcToTgtCellAddr[i][0]
			srcCentre := src.bm.Centres[m.ConstructedGlobalID(k)]
			want := r3.Sub(tg.CellCentre(i), srcCentre)
			assert.InDelta(t, 0, r3.Norm(r3.Sub(want, vecs[0])), 1e-12)
			assert.InDelta(t, 0.125, math.Abs(vecs[0].X), 1e-12)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestPatchInterpolation(t *testing.T) {
	src := newDecomposed(t, 4, 2, unitBox)
	tgt := newDecomposed(t, 3, 3, unitBox)
	opts := DefaultOptions()
	opts.Patches = []PatchPair{{Src: 0, Tgt: 0}, {Src: 4, Tgt: 4}}

	err := comm.Run(3, func(c *comm.Comm) error {
		sg, tg := src.on(c.Rank()), tgt.on(c.Rank())
		m, err := New(c, sg, tg, opts)
		if err != nil {
			return err
		}
		for n, pp := range opts.Patches {
			a := m.PatchAMI(n)
			assert.Len(t, a.SrcArea, 16)
			assert.Len(t, a.TgtArea, 9)
			for f, s := range a.TgtWeightsSum {
				assert.InDelta(t, 1.0, s, 1e-9, "patch %v face %d", pp, f)
			}

			srcValues := make([]float64, len(sg.PatchFaces(pp.Src)))
			floats.AddConst(2, srcValues)
			tgtValues := make([]float64, len(tg.PatchFaces(pp.Tgt)))
			if err := m.MapSrcToTgtPatch(n, srcValues, tgtValues); err != nil {
				return err
			}
			for f, v := range tgtValues {
				assert.InDelta(t, 2.0, v, 1e-9, "rank %d patch %v face %d", c.Rank(), pp, f)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateAfterMove(t *testing.T) {
	src := newDecomposed(t, 2, 2, unitBox)
	tgt := newDecomposed(t, 2, 2, unitBox)
	moved := newDecomposed(t, 2, 2, r3.Box{
		Min: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5},
		Max: r3.Vec{X: 1.5, Y: 1.5, Z: 1.5},
	})

	err := comm.Run(2, func(c *comm.Comm) error {
		sg := src.on(c.Rank())
		m, err := New(c, sg, tgt.on(c.Rank()), DefaultOptions())
		if err != nil {
			return err
		}
		assert.InDelta(t, 1.0, m.V(), 1e-12)

		m.SetGeometry(sg, moved.on(c.Rank()))
		assert.Equal(t, Unmapped, m.Coverage(0))
		err = m.MapSrcToTgt(ones(sg.NCells()), make([]float64, 4))
		assert.True(t, errors.Is(err, ErrNotComputed))

		if err := m.Update(); err != nil {
			return err
		}
		assert.InDelta(t, 0.125, m.V(), 1e-12)
		return nil
	})
	require.NoError(t, err)
}

func TestNew_BadPatchPair(t *testing.T) {
	g := newDecomposed(t, 2, 1, unitBox).on(0)
	err := comm.Run(1, func(c *comm.Comm) error {
		opts := DefaultOptions()
		opts.Patches = []PatchPair{{Src: 6, Tgt: 0}}
		_, err := New(c, g, g, opts)
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestParse(t *testing.T) {
	for _, m := range []Method{Direct, MapNearest, CellVolumeWeight, CorrectedCellVolumeWeight} {
		got, err := ParseMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMethod("imDirect")
	assert.Error(t, err)
	assert.Equal(t, "Method(9)", Method(9).String())

	pm, err := ParseProcMapMethod("LOD")
	require.NoError(t, err)
	assert.Equal(t, LOD, pm)
	_, err = ParseProcMapMethod("octree")
	assert.Error(t, err)

	assert.Equal(t, "unmapped", Unmapped.String())
	assert.Equal(t, "covered", Covered.String())
}
