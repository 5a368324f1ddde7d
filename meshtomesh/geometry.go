package meshtomesh

import (
	"math"

	"github.com/ctessum/geom"
	"github.com/notargets/ldumesh/ami"
	"github.com/notargets/ldumesh/utils"
	"gonum.org/v1/gonum/spatial/r3"
)

// Geometry is the rank-local part of a mesh as seen by the interpolation
//
// Every cell is represented by its axis-aligned bounding box and all cell
// intersections are computed between those boxes. The volume weights are
// exact for box-shaped cells only: a skewed, prismatic or tetrahedral cell
// is weighted as its bounding box, overstating its overlaps
type Geometry interface {
	NCells() int
	CellBox(i int) r3.Box
	CellCentre(i int) r3.Vec
	CellVolume(i int) float64
	GlobalID(i int) int

	NPatches() int
	PatchFaces(patchi int) []ami.Face
}

// CellGeometry is a Geometry held in slices
type CellGeometry struct {
	Boxes     []r3.Box
	Centres   []r3.Vec
	Volumes   []float64
	GlobalIDs []int
	Patches   [][]ami.Face
}

func (g *CellGeometry) NCells() int                      { return len(g.Boxes) }
func (g *CellGeometry) CellBox(i int) r3.Box             { return g.Boxes[i] }
func (g *CellGeometry) CellCentre(i int) r3.Vec          { return g.Centres[i] }
func (g *CellGeometry) CellVolume(i int) float64         { return g.Volumes[i] }
func (g *CellGeometry) GlobalID(i int) int               { return g.GlobalIDs[i] }
func (g *CellGeometry) NPatches() int                    { return len(g.Patches) }
func (g *CellGeometry) PatchFaces(patchi int) []ami.Face { return g.Patches[patchi] }

// FromBoxMesh takes the given global cells of bm, in order, with the
// boundary faces of every patch that belong to them
func FromBoxMesh(bm *utils.BoxMesh, cells []int) *CellGeometry {
	g := &CellGeometry{Patches: make([][]ami.Face, len(bm.PatchFaces))}
	local := make(map[int]bool, len(cells))
	for _, c := range cells {
		g.Boxes = append(g.Boxes, bm.Boxes[c])
		g.Centres = append(g.Centres, bm.Centres[c])
		g.Volumes = append(g.Volumes, bm.Volumes[c])
		g.GlobalIDs = append(g.GlobalIDs, c)
		local[c] = true
	}
	for p, faces := range bm.PatchFaces {
		g.Patches[p] = []ami.Face{}
		for i, f := range faces {
			if local[bm.PatchCells[p][i]] {
				g.Patches[p] = append(g.Patches[p], f)
			}
		}
	}
	return g
}

func boxVolume(b r3.Box) float64 {
	d := r3.Sub(b.Max, b.Min)
	if d.X <= 0 || d.Y <= 0 || d.Z <= 0 {
		return 0
	}
	return d.X * d.Y * d.Z
}

func intersectBox(a, b r3.Box) r3.Box {
	return r3.Box{
		Min: r3.Vec{X: math.Max(a.Min.X, b.Min.X), Y: math.Max(a.Min.Y, b.Min.Y), Z: math.Max(a.Min.Z, b.Min.Z)},
		Max: r3.Vec{X: math.Min(a.Max.X, b.Max.X), Y: math.Min(a.Max.Y, b.Max.Y), Z: math.Min(a.Max.Z, b.Max.Z)},
	}
}

func unionBox(a, b r3.Box) r3.Box {
	return r3.Box{
		Min: r3.Vec{X: math.Min(a.Min.X, b.Min.X), Y: math.Min(a.Min.Y, b.Min.Y), Z: math.Min(a.Min.Z, b.Min.Z)},
		Max: r3.Vec{X: math.Max(a.Max.X, b.Max.X), Y: math.Max(a.Max.Y, b.Max.Y), Z: math.Max(a.Max.Z, b.Max.Z)},
	}
}

// overlaps reports a strictly positive intersection volume
func overlaps(a, b r3.Box) bool { return boxVolume(intersectBox(a, b)) > 0 }

func contains(b r3.Box, p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

func boxCentre(b r3.Box) r3.Vec { return r3.Scale(0.5, r3.Add(b.Min, b.Max)) }

// footprint is the xy projection of a box, as indexed by the rtree. Z
// overlap is checked by the caller
func footprint(b r3.Box) geom.Polygon {
	return geom.Polygon{{
		{X: b.Min.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Min.Y},
	}}
}
