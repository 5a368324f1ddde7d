package meshtomesh

import (
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// srcCell is a source cell shipped to a target rank
type srcCell struct {
	Box      r3.Box
	Centre   r3.Vec
	Volume   float64
	GlobalID int
	Origin   CellRef
}

// cellWeights is the addressing of one target cell against the constructed
// source cells
type cellWeights struct {
	addr    []int
	weights []float64
	vecs    []r3.Vec
}

type indexedCell struct {
	geom.Polygonal
	k int
}

// cellTree indexes constructed source cells by their xy footprint
func cellTree(cells []srcCell) *rtree.Rtree {
	tree := rtree.NewTree(25, 50)
	for k, c := range cells {
		tree.Insert(&indexedCell{Polygonal: footprint(c.Box), k: k})
	}
	return tree
}

// candidates returns the source cells whose boxes touch b
func candidates(tree *rtree.Rtree, cells []srcCell, b r3.Box) []int {
	bounds := &geom.Bounds{
		Min: geom.Point{X: b.Min.X, Y: b.Min.Y},
		Max: geom.Point{X: b.Max.X, Y: b.Max.Y},
	}
	var ks []int
	for _, s := range tree.SearchIntersect(bounds) {
		k := s.(*indexedCell).k
		if cells[k].Box.Max.Z >= b.Min.Z && cells[k].Box.Min.Z <= b.Max.Z {
			ks = append(ks, k)
		}
	}
	return ks
}

// calcDirect assigns each target cell the source cell containing its centre,
// preferring the lowest global id on ties
func calcDirect(cells []srcCell, tgt Geometry) []cellWeights {
	tree := cellTree(cells)
	out := make([]cellWeights, tgt.NCells())
	for i := range out {
		x := tgt.CellCentre(i)
		best := -1
		for _, k := range candidates(tree, cells, r3.Box{Min: x, Max: x}) {
			if !contains(cells[k].Box, x) {
				continue
			}
			if best < 0 || cells[k].GlobalID < cells[best].GlobalID {
				best = k
			}
		}
		if best >= 0 {
			out[i] = cellWeights{addr: []int{best}, weights: []float64{1}}
		}
	}
	return out
}

// calcMapNearest assigns each target cell the source cell with the nearest
// centre
func calcMapNearest(cells []srcCell, tgt Geometry) []cellWeights {
	out := make([]cellWeights, tgt.NCells())
	if len(cells) == 0 {
		return out
	}
	pts := make(centres, len(cells))
	for k, c := range cells {
		pts[k] = centre{Point: kdtree.Point{c.Centre.X, c.Centre.Y, c.Centre.Z}, k: k}
	}
	tree := kdtree.New(pts, false)
	for i := range out {
		x := tgt.CellCentre(i)
		got, _ := tree.Nearest(centre{Point: kdtree.Point{x.X, x.Y, x.Z}, k: -1})
		out[i] = cellWeights{addr: []int{got.(centre).k}, weights: []float64{1}}
	}
	return out
}

// calcCellVolumeWeight weights each overlapping source cell by its
// intersection volume over the target cell volume. With corrected set the
// offset from the source centre to the intersection centroid is kept too
func calcCellVolumeWeight(cells []srcCell, tgt Geometry, tol float64, corrected bool) ([]cellWeights, float64) {
	tree := cellTree(cells)
	out := make([]cellWeights, tgt.NCells())
	v := 0.0
	for i := range out {
		tb, tv := tgt.CellBox(i), tgt.CellVolume(i)
		for _, k := range candidates(tree, cells, tb) {
			overlap := intersectBox(cells[k].Box, tb)
			ov := boxVolume(overlap)
			if ov <= tol*math.Min(tv, cells[k].Volume) {
				continue
			}
			out[i].addr = append(out[i].addr, k)
			out[i].weights = append(out[i].weights, ov/tv)
			if corrected {
				out[i].vecs = append(out[i].vecs, r3.Sub(boxCentre(overlap), cells[k].Centre))
			}
			v += ov
		}
	}
	return out, v
}

// centre is a kdtree point carrying its constructed cell index
type centre struct {
	kdtree.Point
	k int
}

func (c centre) Compare(o kdtree.Comparable, d kdtree.Dim) float64 {
	return c.Point.Compare(o.(centre).Point, d)
}
func (c centre) Dims() int { return 3 }
func (c centre) Distance(o kdtree.Comparable) float64 {
	return c.Point.Distance(o.(centre).Point)
}

type centres []centre

func (c centres) Index(i int) kdtree.Comparable         { return c[i] }
func (c centres) Len() int                              { return len(c) }
func (c centres) Pivot(d kdtree.Dim) int                { return plane{centres: c, Dim: d}.Pivot() }
func (c centres) Slice(start, end int) kdtree.Interface { return c[start:end] }

// plane sorts centres along one dimension
type plane struct {
	kdtree.Dim
	centres
}

func (p plane) Less(i, j int) bool { return p.centres[i].Point[p.Dim] < p.centres[j].Point[p.Dim] }
func (p plane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.centres = p.centres[start:end]
	return p
}
func (p plane) Swap(i, j int) { p.centres[i], p.centres[j] = p.centres[j], p.centres[i] }
