package coupling

import (
	"fmt"
	"math"

	"github.com/notargets/ldumesh/addressing"
	"github.com/notargets/ldumesh/comm"
	"gonum.org/v1/gonum/spatial/r3"
)

// CyclicTransform maps points of the owner patch onto the neighbour patch:
// x_nbr = R x_own + Separation, with R the rotation of Angle radians about
// Axis through the origin
type CyclicTransform struct {
	Separation r3.Vec
	Axis       r3.Vec
	Angle      float64
}

// Parallel reports a pure translation
func (t CyclicTransform) Parallel() bool { return t.Angle == 0 || r3.Norm(t.Axis) == 0 }

// Rotation returns R
func (t CyclicTransform) Rotation() *r3.Mat {
	if t.Parallel() {
		return identity()
	}
	k := r3.Unit(t.Axis)
	c, s := math.Cos(t.Angle), math.Sin(t.Angle)
	v := 1 - c
	// Rodrigues
	return r3.NewMat([]float64{
		c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s,
		k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v,
	})
}

// Apply maps an owner-side point onto the neighbour side
func (t CyclicTransform) Apply(x r3.Vec) r3.Vec {
	return r3.Add(Transform(t.Rotation(), x), t.Separation)
}

// Invert maps a neighbour-side point onto the owner side
func (t CyclicTransform) Invert(x r3.Vec) r3.Vec {
	return Transform(transpose(t.Rotation()), r3.Sub(x, t.Separation))
}

// Cyclic couples two patches of the same mesh face by face: face i of one
// patch is paired with face i of the other
type Cyclic struct {
	index     int
	faceCells []int
	owner     bool
	transform CyclicTransform
	nbr       *Cyclic

	forwardT, reverseT []*r3.Mat
	pending            []float64
}

// NewCyclic returns an uncoupled cyclic patch; pair it with CoupleCyclic
func NewCyclic(index int, faceCells []int) (*Cyclic, error) {
	if err := checkFaceCells(faceCells); err != nil {
		return nil, fmt.Errorf("patch %d: %w", index, err)
	}
	return &Cyclic{index: index, faceCells: faceCells}, nil
}

// CoupleCyclic pairs owner and nbr under t, which maps owner points onto nbr
func CoupleCyclic(owner, nbr *Cyclic, t CyclicTransform) error {
	if owner == nbr || owner.Size() != nbr.Size() {
		return fmt.Errorf("cyclic patches %d and %d: sizes %d and %d: %w",
			owner.index, nbr.index, owner.Size(), nbr.Size(), addressing.ErrInvalidTopology)
	}
	coupleTensors(owner, nbr, t, owner.Size(), nbr.Size())
	owner.nbr, nbr.nbr = nbr, owner
	return nil
}

func coupleTensors(owner, nbr *Cyclic, t CyclicTransform, nOwn, nNbr int) {
	r := t.Rotation()
	rt := transpose(r)
	owner.owner, nbr.owner = true, false
	owner.transform, nbr.transform = t, t
	owner.forwardT, owner.reverseT = repeat(rt, nOwn), repeat(r, nOwn)
	nbr.forwardT, nbr.reverseT = repeat(r, nNbr), repeat(rt, nNbr)
}

func repeat(m *r3.Mat, n int) []*r3.Mat {
	out := make([]*r3.Mat, n)
	for i := range out {
		out[i] = m
	}
	return out
}

func (*Cyclic) NeighbourRank() int { return -1 }

// Tag is the patch index of the owner side, shared by both patches
func (p *Cyclic) Tag() int {
	if p.owner || p.nbr == nil {
		return p.index
	}
	return p.nbr.index
}

func (*Cyclic) Kind() Kind         { return KindCyclic }
func (p *Cyclic) Index() int       { return p.index }
func (p *Cyclic) FaceCells() []int { return p.faceCells }
func (p *Cyclic) Size() int        { return len(p.faceCells) }

// Neighbour returns the coupled patch, nil before CoupleCyclic
func (p *Cyclic) Neighbour() *Cyclic { return p.nbr }

// NeighbPatchID returns the index of the coupled patch
func (p *Cyclic) NeighbPatchID() int {
	if p.nbr == nil {
		return -1
	}
	return p.nbr.index
}

func (p *Cyclic) Owner() bool                { return p.owner }
func (p *Cyclic) Transform() CyclicTransform { return p.transform }
func (p *Cyclic) Parallel() bool             { return p.transform.Parallel() }

func (p *Cyclic) ForwardT() []*r3.Mat {
	if p.forwardT == nil {
		return identities(len(p.faceCells))
	}
	return p.forwardT
}

func (p *Cyclic) ReverseT() []*r3.Mat {
	if p.reverseT == nil {
		return identities(len(p.faceCells))
	}
	return p.reverseT
}

func (p *Cyclic) InterfaceInternalField(internal []float64, nComp int) []float64 {
	return gather(p.faceCells, internal, nComp)
}

// InitInternalFieldTransfer snapshots the neighbour's adjacent values; a
// cyclic coupling never leaves the rank so ct is ignored
func (p *Cyclic) InitInternalFieldTransfer(_ comm.CommsType, internal []float64, nComp int) error {
	if p.nbr == nil {
		return fmt.Errorf("cyclic patch %d is not coupled: %w", p.index, addressing.ErrInvalidTopology)
	}
	p.pending = p.nbr.InterfaceInternalField(internal, nComp)
	return nil
}

func (p *Cyclic) InternalFieldTransfer(_ comm.CommsType, nComp int) ([]float64, error) {
	if p.pending == nil {
		return nil, fmt.Errorf("cyclic patch %d: transfer not initialised: %w", p.index, comm.ErrProtocolMismatch)
	}
	values := p.pending
	p.pending = nil
	if len(values) != len(p.faceCells)*nComp {
		return nil, fmt.Errorf("cyclic patch %d: %d values for %d faces: %w",
			p.index, len(values), len(p.faceCells), comm.ErrProtocolMismatch)
	}
	return values, nil
}

func (*Cyclic) sealed() {}
