// Package meshtomesh computes cell interpolation addressing between two
// independently decomposed meshes sharing one communicator, and maps fields
// across it in either direction
package meshtomesh

import (
	"errors"
	"fmt"
)

// ErrNotComputed is returned when addressing is used after the geometry
// changed and before Update rebuilt it
var ErrNotComputed = errors.New("mesh-to-mesh addressing not computed")

// Method selects how target cells find their source cells
type Method int

const (
	// Direct takes the source cell containing the target cell centre
	Direct Method = iota
	// MapNearest takes the source cell with the nearest centre
	MapNearest
	// CellVolumeWeight weights source cells by intersection volume, taken
	// between the cell bounding boxes of the Geometry
	CellVolumeWeight
	// CorrectedCellVolumeWeight is CellVolumeWeight plus the offset from
	// each source centre to the centroid of its intersection
	CorrectedCellVolumeWeight
)

var methodNames = [...]string{"direct", "mapNearest", "cellVolumeWeight", "correctedCellVolumeWeight"}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// ParseMethod maps a method name to its Method
func ParseMethod(name string) (Method, error) {
	for i, n := range methodNames {
		if n == name {
			return Method(i), nil
		}
	}
	return 0, fmt.Errorf("unknown interpolation method %q", name)
}

// volumetric reports whether m computes intersection volumes
func (m Method) volumetric() bool { return m == CellVolumeWeight || m == CorrectedCellVolumeWeight }

// ProcMapMethod selects how overlapping rank pairs are discovered
type ProcMapMethod int

const (
	// AABB compares one bounding box per rank
	AABB ProcMapMethod = iota
	// LOD compares the occupied bins of a regular subdivision of each
	// rank's bounding box
	LOD
)

func (p ProcMapMethod) String() string {
	switch p {
	case AABB:
		return "AABB"
	case LOD:
		return "LOD"
	}
	return fmt.Sprintf("ProcMapMethod(%d)", int(p))
}

func ParseProcMapMethod(name string) (ProcMapMethod, error) {
	switch name {
	case "AABB":
		return AABB, nil
	case "LOD":
		return LOD, nil
	}
	return 0, fmt.Errorf("unknown proc map method %q", name)
}

// Coverage is the state of one cell's addressing
type Coverage int

const (
	// Unmapped cells have no addressing computed for the current geometry
	Unmapped Coverage = iota
	// Empty cells were searched and overlap no cell of the other mesh
	Empty
	// Covered cells have at least one weight
	Covered
)

func (c Coverage) String() string {
	switch c {
	case Unmapped:
		return "unmapped"
	case Empty:
		return "empty"
	case Covered:
		return "covered"
	}
	return fmt.Sprintf("Coverage(%d)", int(c))
}

// PatchPair names corresponding source and target patches
type PatchPair struct {
	Src, Tgt int
}

// Options configures addressing construction
type Options struct {
	Method        Method
	ProcMapMethod ProcMapMethod
	LODLevels     int // Subdivisions per axis are 2^LODLevels

	// Consistent rescales the weights of every covered cell to sum to one
	Consistent bool

	// Overlaps below Tolerance times the smaller cell volume are ignored
	Tolerance float64

	Patches []PatchPair
}

func DefaultOptions() Options {
	return Options{
		Method:        CellVolumeWeight,
		ProcMapMethod: AABB,
		LODLevels:     2,
		Consistent:    true,
		Tolerance:     1e-12,
	}
}

// CellRef addresses a cell on a rank
type CellRef struct {
	Rank int
	Cell int
}
