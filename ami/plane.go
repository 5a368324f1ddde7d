package ami

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// plane is an orthonormal 2D basis perpendicular to a patch normal
type plane struct {
	u, v r3.Vec
}

func newPlane(n r3.Vec) plane {
	// Seed with the axis least aligned with n
	seed := r3.Vec{X: 1}
	if math.Abs(n.Y) < math.Abs(n.X) && math.Abs(n.Y) <= math.Abs(n.Z) {
		seed = r3.Vec{Y: 1}
	} else if math.Abs(n.Z) < math.Abs(n.X) && math.Abs(n.Z) < math.Abs(n.Y) {
		seed = r3.Vec{Z: 1}
	}
	u := r3.Unit(r3.Cross(n, seed))
	return plane{u: u, v: r3.Cross(n, u)}
}

// project returns the face as a closed counter-clockwise ring in plane
// coordinates
func (p plane) project(f Face) (geom.Polygon, error) {
	if len(f) < 3 {
		return nil, fmt.Errorf("%d vertices: %w", len(f), ErrDegenerateFace)
	}
	ring := make(geom.Path, 0, len(f)+1)
	for _, x := range f {
		ring = append(ring, geom.Point{X: r3.Dot(x, p.u), Y: r3.Dot(x, p.v)})
	}
	if signedArea(ring) < 0 {
		for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
			ring[i], ring[j] = ring[j], ring[i]
		}
	}
	ring = append(ring, ring[0])
	return geom.Polygon{ring}, nil
}

// signedArea is the shoelace area of an open or closed ring
func signedArea(ring geom.Path) float64 {
	var a float64
	for i, p := range ring {
		q := ring[(i+1)%len(ring)]
		a += p.X*q.Y - q.X*p.Y
	}
	return 0.5 * a
}

// clipConvex intersects two closed counter-clockwise convex rings with the
// Sutherland-Hodgman algorithm. Points on a clip edge count as inside, so
// faces sharing edges clip cleanly. It returns nil when nothing remains
func clipConvex(subject, clip geom.Path) geom.Polygon {
	out := open(subject)
	c := open(clip)
	for i := range c {
		if len(out) == 0 {
			return nil
		}
		a, b := c[i], c[(i+1)%len(c)]
		in := out
		out = make(geom.Path, 0, len(in)+2)
		for k, cur := range in {
			prev := in[(k+len(in)-1)%len(in)]
			curIn, prevIn := side(a, b, cur) >= 0, side(a, b, prev) >= 0
			if curIn {
				if !prevIn {
					out = append(out, intersect(prev, cur, a, b))
				}
				out = append(out, cur)
			} else if prevIn {
				out = append(out, intersect(prev, cur, a, b))
			}
		}
	}
	if len(out) < 3 {
		return nil
	}
	return geom.Polygon{append(out, out[0])}
}

func open(ring geom.Path) geom.Path {
	if n := len(ring); n > 1 && ring[0] == ring[n-1] {
		return ring[:n-1]
	}
	return ring
}

// side is positive when p lies left of the directed edge a->b, with a small
// tolerance relative to the edge length
func side(a, b, p geom.Point) float64 {
	ex, ey := b.X-a.X, b.Y-a.Y
	s := ex*(p.Y-a.Y) - ey*(p.X-a.X)
	tol := 1e-12 * (ex*ex + ey*ey)
	if math.Abs(s) <= tol {
		return 0
	}
	return s
}

func intersect(p, q, a, b geom.Point) geom.Point {
	ex, ey := b.X-a.X, b.Y-a.Y
	sp := ex*(p.Y-a.Y) - ey*(p.X-a.X)
	sq := ex*(q.Y-a.Y) - ey*(q.X-a.X)
	t := sp / (sp - sq)
	return geom.Point{X: p.X + t*(q.X-p.X), Y: p.Y + t*(q.Y-p.Y)}
}
