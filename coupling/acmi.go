package coupling

import (
	"fmt"

	"github.com/notargets/ldumesh/addressing"
	"github.com/notargets/ldumesh/ami"
	"github.com/notargets/ldumesh/comm"
)

// CyclicACMI couples two patches of the same mesh whose faces need not match
// and may overlap only partly. Values cross the coupling through an
// area-weighted interpolation; the uncovered fraction of each face (1 - mask)
// keeps this side's own value
type CyclicACMI struct {
	Cyclic

	faces   []ami.Face
	version int

	acmiNbr *CyclicACMI
	cache   *amiCache
}

// amiCache is shared by both sides of a coupling. The owner patch is the
// interpolation source
type amiCache struct {
	interp             *ami.AMI
	ownerVer, nbrVer   int
	valid              bool
	ownerMask, nbrMask []float64
}

// NewCyclicACMI returns an uncoupled ACMI patch with the given face geometry
func NewCyclicACMI(index int, faceCells []int, faces []ami.Face) (*CyclicACMI, error) {
	if len(faces) != len(faceCells) {
		return nil, fmt.Errorf("patch %d: %d faces for %d face cells: %w",
			index, len(faces), len(faceCells), addressing.ErrInvalidTopology)
	}
	if err := checkFaceCells(faceCells); err != nil {
		return nil, fmt.Errorf("patch %d: %w", index, err)
	}
	return &CyclicACMI{Cyclic: Cyclic{index: index, faceCells: faceCells}, faces: faces}, nil
}

// CoupleACMI pairs owner and nbr under t, which maps owner points onto nbr
// Unlike CoupleCyclic the patch sizes may differ
func CoupleACMI(owner, nbr *CyclicACMI, t CyclicTransform) error {
	if owner == nbr {
		return fmt.Errorf("ACMI patch %d coupled to itself: %w", owner.index, addressing.ErrInvalidTopology)
	}
	coupleTensors(&owner.Cyclic, &nbr.Cyclic, t, owner.Size(), nbr.Size())
	owner.Cyclic.nbr, nbr.Cyclic.nbr = &nbr.Cyclic, &owner.Cyclic
	c := &amiCache{}
	owner.cache, nbr.cache = c, c
	owner.acmiNbr, nbr.acmiNbr = nbr, owner
	return nil
}

func (*CyclicACMI) Kind() Kind { return KindCyclicACMI }

// SetGeometry replaces the face geometry, e.g. after mesh motion. The
// interpolation is recomputed on next use
func (p *CyclicACMI) SetGeometry(faces []ami.Face) error {
	if len(faces) != len(p.faceCells) {
		return fmt.Errorf("patch %d: %d faces for %d face cells: %w",
			p.index, len(faces), len(p.faceCells), addressing.ErrInvalidTopology)
	}
	p.faces = faces
	p.version++
	return nil
}

// GeometryVersion counts SetGeometry calls
func (p *CyclicACMI) GeometryVersion() int { return p.version }

func (p *CyclicACMI) ownerSide() (own, nbr *CyclicACMI) {
	if p.owner {
		return p, p.acmiNbr
	}
	return p.acmiNbr, p
}

// AMI returns the interpolation from the owner patch to its neighbour,
// recomputing it if either side's geometry changed since it was built
func (p *CyclicACMI) AMI() (*ami.AMI, error) {
	if p.cache == nil {
		return nil, fmt.Errorf("ACMI patch %d is not coupled: %w", p.index, addressing.ErrInvalidTopology)
	}
	own, nbr := p.ownerSide()
	c := p.cache
	if c.valid && c.ownerVer == own.version && c.nbrVer == nbr.version {
		return c.interp, nil
	}
	if err := p.UpdateAreas(); err != nil {
		return nil, err
	}
	return c.interp, nil
}

// UpdateAreas recomputes the interpolation weights and masks unconditionally
func (p *CyclicACMI) UpdateAreas() error {
	if p.cache == nil {
		return fmt.Errorf("ACMI patch %d is not coupled: %w", p.index, addressing.ErrInvalidTopology)
	}
	own, nbr := p.ownerSide()
	// bring the neighbour faces into the owner frame
	nbrFaces := make([]ami.Face, len(nbr.faces))
	for i, f := range nbr.faces {
		g := make(ami.Face, len(f))
		for k, x := range f {
			g[k] = own.transform.Invert(x)
		}
		nbrFaces[i] = g
	}
	interp, err := ami.New(own.faces, nbrFaces)
	if err != nil {
		return fmt.Errorf("ACMI patches %d/%d: %w", own.index, nbr.index, err)
	}
	c := p.cache
	c.interp = interp
	c.ownerMask = clampMask(interp.SrcWeightsSum)
	c.nbrMask = clampMask(interp.TgtWeightsSum)
	c.ownerVer, c.nbrVer = own.version, nbr.version
	c.valid = true
	return nil
}

func clampMask(sums []float64) []float64 {
	out := make([]float64, len(sums))
	for i, s := range sums {
		out[i] = min(max(s, 0), 1)
	}
	return out
}

// Mask returns the covered fraction of each face of this patch
func (p *CyclicACMI) Mask() ([]float64, error) {
	if _, err := p.AMI(); err != nil {
		return nil, err
	}
	if p.owner {
		return p.cache.ownerMask, nil
	}
	return p.cache.nbrMask, nil
}

func (p *CyclicACMI) InitInternalFieldTransfer(_ comm.CommsType, internal []float64, nComp int) error {
	interp, err := p.AMI()
	if err != nil {
		return err
	}
	nbrValues := p.acmiNbr.InterfaceInternalField(internal, nComp)
	if p.owner {
		p.pending = interp.InterpolateToSource(nbrValues, nComp)
	} else {
		p.pending = interp.InterpolateToTarget(nbrValues, nComp)
	}
	return nil
}

// Blend adds the uncovered fraction of own to the interpolated neighbour values
// in place
func (p *CyclicACMI) Blend(nbrValues, own []float64, nComp int) error {
	mask, err := p.Mask()
	if err != nil {
		return err
	}
	for f, m := range mask {
		for c := 0; c < nComp; c++ {
			nbrValues[f*nComp+c] += (1 - m) * own[f*nComp+c]
		}
	}
	return nil
}
