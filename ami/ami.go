// Package ami computes area-weighted interpolation between two non-conforming
// boundary patches. Both patches are projected onto a common plane, candidate
// face pairs are found with an R-tree on the projected bounds, and each pair is
// weighted by the area of its convex intersection
package ami

import (
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegenerateFace reports a face with fewer than three vertices
var ErrDegenerateFace = errors.New("ami: degenerate face")

// Face is a planar convex polygon given by its vertices in order
type Face []r3.Vec

// AMI holds the interpolation weights in both directions. SrcWeights[i][k] is
// the fraction of source face i's area overlapped by target face
// SrcAddress[i][k]; the Tgt fields are the mirror image
type AMI struct {
	SrcAddress    [][]int
	SrcWeights    [][]float64
	SrcWeightsSum []float64
	SrcArea       []float64

	TgtAddress    [][]int
	TgtWeights    [][]float64
	TgtWeightsSum []float64
	TgtArea       []float64
}

type indexedFace struct {
	geom.Polygonal
	id int
}

// New computes the interpolation from src to tgt faces
func New(src, tgt []Face) (*AMI, error) {
	a := &AMI{
		SrcAddress:    make([][]int, len(src)),
		SrcWeights:    make([][]float64, len(src)),
		SrcWeightsSum: make([]float64, len(src)),
		SrcArea:       make([]float64, len(src)),
		TgtAddress:    make([][]int, len(tgt)),
		TgtWeights:    make([][]float64, len(tgt)),
		TgtWeightsSum: make([]float64, len(tgt)),
		TgtArea:       make([]float64, len(tgt)),
	}
	for i, f := range src {
		if len(f) < 3 {
			return nil, fmt.Errorf("source face %d: %d vertices: %w", i, len(f), ErrDegenerateFace)
		}
	}
	for j, f := range tgt {
		if len(f) < 3 {
			return nil, fmt.Errorf("target face %d: %d vertices: %w", j, len(f), ErrDegenerateFace)
		}
	}
	n := patchNormal(src)
	if r3.Norm(n) == 0 {
		n = patchNormal(tgt)
	}
	if r3.Norm(n) == 0 {
		return a, nil
	}
	p := newPlane(r3.Unit(n))

	srcPolys := make([]geom.Polygon, len(src))
	for i, f := range src {
		poly, err := p.project(f)
		if err != nil {
			return nil, fmt.Errorf("source face %d: %w", i, err)
		}
		srcPolys[i] = poly
		a.SrcArea[i] = poly.Area()
	}
	tree := rtree.NewTree(25, 50)
	tgtPolys := make([]geom.Polygon, len(tgt))
	for j, f := range tgt {
		poly, err := p.project(f)
		if err != nil {
			return nil, fmt.Errorf("target face %d: %w", j, err)
		}
		tgtPolys[j] = poly
		a.TgtArea[j] = poly.Area()
		tree.Insert(&indexedFace{Polygonal: poly, id: j})
	}

	for i, sp := range srcPolys {
		for _, g := range tree.SearchIntersect(sp.Bounds()) {
			j := g.(*indexedFace).id
			overlap := clipConvex(sp[0], tgtPolys[j][0])
			if overlap == nil {
				continue
			}
			area := overlap.Area()
			if area <= 1e-12*math.Min(a.SrcArea[i], a.TgtArea[j]) {
				continue
			}
			a.SrcAddress[i] = append(a.SrcAddress[i], j)
			a.SrcWeights[i] = append(a.SrcWeights[i], area/a.SrcArea[i])
			a.TgtAddress[j] = append(a.TgtAddress[j], i)
			a.TgtWeights[j] = append(a.TgtWeights[j], area/a.TgtArea[j])
		}
	}
	for i, w := range a.SrcWeights {
		a.SrcWeightsSum[i] = floats.Sum(w)
	}
	for j, w := range a.TgtWeights {
		a.TgtWeightsSum[j] = floats.Sum(w)
	}
	return a, nil
}

// Normalise rescales weights so every face with any overlap sums to one
func (a *AMI) Normalise() {
	normalise(a.SrcWeights, a.SrcWeightsSum)
	normalise(a.TgtWeights, a.TgtWeightsSum)
}

func normalise(weights [][]float64, sums []float64) {
	for i, w := range weights {
		if s := floats.Sum(w); s > 0 {
			floats.Scale(1/s, w)
			sums[i] = 1
		}
	}
}

// InterpolateToSource maps target face values onto source faces; a source face
// receives the overlap-weighted sum, so partially covered faces get a
// proportionally smaller value. Values have nComp components per face
func (a *AMI) InterpolateToSource(tgtValues []float64, nComp int) []float64 {
	return interpolate(a.SrcAddress, a.SrcWeights, tgtValues, nComp)
}

// InterpolateToTarget maps source face values onto target faces
func (a *AMI) InterpolateToTarget(srcValues []float64, nComp int) []float64 {
	return interpolate(a.TgtAddress, a.TgtWeights, srcValues, nComp)
}

func interpolate(addr [][]int, weights [][]float64, values []float64, nComp int) []float64 {
	out := make([]float64, len(addr)*nComp)
	for i, faces := range addr {
		for k, j := range faces {
			for c := 0; c < nComp; c++ {
				out[i*nComp+c] += weights[i][k] * values[j*nComp+c]
			}
		}
	}
	return out
}

// patchNormal sums the Newell normals of the faces
func patchNormal(faces []Face) r3.Vec {
	var n r3.Vec
	for _, f := range faces {
		n = r3.Add(n, newellNormal(f))
	}
	return n
}

func newellNormal(f Face) r3.Vec {
	var n r3.Vec
	for i, p := range f {
		q := f[(i+1)%len(f)]
		n.X += (p.Y - q.Y) * (p.Z + q.Z)
		n.Y += (p.Z - q.Z) * (p.X + q.X)
		n.Z += (p.X - q.X) * (p.Y + q.Y)
	}
	return r3.Scale(0.5, n)
}

// FaceArea returns the area of a planar face
func FaceArea(f Face) float64 { return r3.Norm(newellNormal(f)) }

// FaceCentre returns the vertex average of a face
func FaceCentre(f Face) r3.Vec {
	var c r3.Vec
	for _, p := range f {
		c = r3.Add(c, p)
	}
	return r3.Scale(1/float64(len(f)), c)
}
