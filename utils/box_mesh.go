package utils

import (
	"fmt"

	"github.com/notargets/ldumesh/ami"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// BoxMesh is a structured hexahedral mesh of an axis-aligned box, numbered
// cell = i + Nx*(j + Ny*k). Internal faces come out in upper-triangular order
type BoxMesh struct {
	Nx, Ny, Nz int
	Bounds     r3.Box

	NCells int
	Lower  []int
	Upper  []int

	// Cell geometry
	Centres []r3.Vec
	Boxes   []r3.Box
	Volumes []float64

	// Boundary patches in the order xMin, xMax, yMin, yMax, zMin, zMax
	PatchNames []string
	PatchCells [][]int
	PatchFaces [][]ami.Face
}

// NewBoxMesh meshes bounds with nx*ny*nz equal cells
func NewBoxMesh(nx, ny, nz int, bounds r3.Box) (*BoxMesh, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("invalid dimensions: nx=%d, ny=%d, nz=%d", nx, ny, nz)
	}
	size := r3.Sub(bounds.Max, bounds.Min)
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return nil, fmt.Errorf("empty box %v", bounds)
	}
	h := r3.Vec{X: size.X / float64(nx), Y: size.Y / float64(ny), Z: size.Z / float64(nz)}

	bm := &BoxMesh{
		Nx: nx, Ny: ny, Nz: nz,
		Bounds:     bounds,
		NCells:     nx * ny * nz,
		PatchNames: []string{"xMin", "xMax", "yMin", "yMax", "zMin", "zMax"},
		PatchCells: make([][]int, 6),
		PatchFaces: make([][]ami.Face, 6),
	}
	corner := func(i, j, k int) r3.Vec {
		return r3.Vec{
			X: bounds.Min.X + float64(i)*h.X,
			Y: bounds.Min.Y + float64(j)*h.Y,
			Z: bounds.Min.Z + float64(k)*h.Z,
		}
	}

	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				cell := bm.Cell(i, j, k)
				lo, hi := corner(i, j, k), corner(i+1, j+1, k+1)
				bm.Boxes = append(bm.Boxes, r3.Box{Min: lo, Max: hi})
				bm.Centres = append(bm.Centres, r3.Scale(0.5, r3.Add(lo, hi)))
				bm.Volumes = append(bm.Volumes, h.X*h.Y*h.Z)

				// +x, +y, +z neighbours have increasing cell numbers
				if i+1 < nx {
					bm.addFace(cell, bm.Cell(i+1, j, k))
				}
				if j+1 < ny {
					bm.addFace(cell, bm.Cell(i, j+1, k))
				}
				if k+1 < nz {
					bm.addFace(cell, bm.Cell(i, j, k+1))
				}
			}
		}
	}

	// Boundary faces, ordered with outward normals
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			bm.addPatchFace(0, bm.Cell(0, j, k), ami.Face{corner(0, j, k), corner(0, j, k+1), corner(0, j+1, k+1), corner(0, j+1, k)})
			bm.addPatchFace(1, bm.Cell(nx-1, j, k), ami.Face{corner(nx, j, k), corner(nx, j+1, k), corner(nx, j+1, k+1), corner(nx, j, k+1)})
		}
	}
	for k := 0; k < nz; k++ {
		for i := 0; i < nx; i++ {
			bm.addPatchFace(2, bm.Cell(i, 0, k), ami.Face{corner(i, 0, k), corner(i+1, 0, k), corner(i+1, 0, k+1), corner(i, 0, k+1)})
			bm.addPatchFace(3, bm.Cell(i, ny-1, k), ami.Face{corner(i, ny, k), corner(i, ny, k+1), corner(i+1, ny, k+1), corner(i+1, ny, k)})
		}
	}
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			bm.addPatchFace(4, bm.Cell(i, j, 0), ami.Face{corner(i, j, 0), corner(i, j+1, 0), corner(i+1, j+1, 0), corner(i+1, j, 0)})
			bm.addPatchFace(5, bm.Cell(i, j, nz-1), ami.Face{corner(i, j, nz), corner(i+1, j, nz), corner(i+1, j+1, nz), corner(i, j+1, nz)})
		}
	}
	return bm, nil
}

// UnitCube meshes [0,1]^3 with n^3 cells
func UnitCube(n int) (*BoxMesh, error) {
	return NewBoxMesh(n, n, n, r3.Box{Max: r3.Vec{X: 1, Y: 1, Z: 1}})
}

// Cell returns the index of cell (i,j,k)
func (bm *BoxMesh) Cell(i, j, k int) int { return i + bm.Nx*(j+bm.Ny*k) }

func (bm *BoxMesh) addFace(lower, upper int) {
	bm.Lower = append(bm.Lower, lower)
	bm.Upper = append(bm.Upper, upper)
}

func (bm *BoxMesh) addPatchFace(patch, cell int, f ami.Face) {
	bm.PatchCells[patch] = append(bm.PatchCells[patch], cell)
	bm.PatchFaces[patch] = append(bm.PatchFaces[patch], f)
}

// TotalVolume sums the cell volumes
func (bm *BoxMesh) TotalVolume() float64 {
	return floats.Sum(bm.Volumes)
}
