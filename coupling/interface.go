// Package coupling implements the coupled boundary interfaces of an LDU mesh
//
// The variant set is closed: Processor and Generic interfaces exchange data
// with a patch on another rank, Cyclic and CyclicACMI interfaces pair two
// patches of the same mesh under a geometric transform. Every variant splits a
// transfer into an init step that posts the data and a completion step that
// returns the values from the other side, so several interfaces can be in
// flight before anything waits
package coupling

import (
	"fmt"

	"github.com/notargets/ldumesh/addressing"
	"github.com/notargets/ldumesh/comm"
	"gonum.org/v1/gonum/spatial/r3"
)

// Kind tags the interface variant
type Kind uint8

const (
	KindProcessor Kind = iota
	KindGeneric
	KindCyclic
	KindCyclicACMI
)

func (k Kind) String() string {
	switch k {
	case KindProcessor:
		return "processor"
	case KindGeneric:
		return "generic"
	case KindCyclic:
		return "cyclic"
	case KindCyclicACMI:
		return "cyclicACMI"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Interface is a coupled boundary patch. Only the types of this package
// implement it
type Interface interface {
	// NeighbourRank is the rank on the other side, or -1 for a coupling that
	// stays on this rank
	NeighbourRank() int
	// Tag disambiguates several interfaces between the same rank pair
	Tag() int

	Kind() Kind
	// Index is the patch index within the owning mesh
	Index() int
	// FaceCells lists the internal cell of every interface face
	FaceCells() []int
	Size() int

	// ForwardT transforms vectors from the neighbour's frame into this
	// patch's frame, one tensor per face; ReverseT is its inverse. Both are
	// identity tensors when no rotation is involved
	ForwardT() []*r3.Mat
	ReverseT() []*r3.Mat
	// Parallel reports that the coupling involves no rotation
	Parallel() bool

	// InterfaceInternalField gathers the nComp-component internal values
	// adjacent to the interface faces
	InterfaceInternalField(internal []float64, nComp int) []float64
	// InitInternalFieldTransfer posts this side's adjacent internal values
	InitInternalFieldTransfer(ct comm.CommsType, internal []float64, nComp int) error
	// InternalFieldTransfer completes the transfer and returns the values
	// adjacent to the neighbour's faces, in this patch's face order
	InternalFieldTransfer(ct comm.CommsType, nComp int) ([]float64, error)

	sealed()
}

// gather collects internal[faceCells[f]*nComp+c] into a face-ordered slice
func gather(faceCells []int, internal []float64, nComp int) []float64 {
	out := make([]float64, len(faceCells)*nComp)
	for f, cell := range faceCells {
		copy(out[f*nComp:(f+1)*nComp], internal[cell*nComp:(cell+1)*nComp])
	}
	return out
}

func checkFaceCells(faceCells []int) error {
	for f, cell := range faceCells {
		if cell < 0 {
			return fmt.Errorf("face %d has cell %d: %w", f, cell, addressing.ErrInvalidIndex)
		}
	}
	return nil
}

func identities(n int) []*r3.Mat {
	eye := identity()
	out := make([]*r3.Mat, n)
	for i := range out {
		out[i] = eye
	}
	return out
}

func identity() *r3.Mat { return r3.NewMat([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}) }

// Transform applies the tensor m to v
func Transform(m *r3.Mat, v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

func transpose(m *r3.Mat) *r3.Mat {
	data := make([]float64, 0, 9)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			data = append(data, m.At(j, i))
		}
	}
	return r3.NewMat(data)
}
