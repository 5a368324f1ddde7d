package coupling

import (
	"fmt"

	"github.com/notargets/ldumesh/comm"
	"github.com/notargets/ldumesh/schedule"
	"gonum.org/v1/gonum/spatial/r3"
)

// Field is the boundary-evaluation contract of field code. InitEvaluate starts
// the exchange on one patch, Evaluate consumes it
type Field interface {
	InitEvaluate(patch int, ct comm.CommsType) error
	Evaluate(patch int, ct comm.CommsType) error
}

// EvaluateBoundaries walks sched, calling f for every entry. In non-blocking
// mode the outstanding requests of c are waited on before the first Evaluate
// c may be nil when every coupling is local
func EvaluateBoundaries(c *comm.Comm, ct comm.CommsType, sched schedule.Schedule, f Field) error {
	start := 0
	if c != nil {
		start = c.NRequests()
	}
	waited := ct != comm.NonBlocking || c == nil
	for _, e := range sched {
		if e.Phase == schedule.Init {
			if err := f.InitEvaluate(e.Patch, ct); err != nil {
				return fmt.Errorf("init %v: %w", e, err)
			}
			continue
		}
		if !waited {
			if err := c.WaitRequests(start); err != nil {
				return err
			}
			waited = true
		}
		if err := f.Evaluate(e.Patch, ct); err != nil {
			return fmt.Errorf("evaluate %v: %w", e, err)
		}
	}
	return nil
}

// NonBlockingSchedule initialises every coupled interface before evaluating
// any of them
func NonBlockingSchedule(interfaces []Interface) schedule.Schedule {
	return schedule.NonBlocking(interfaces)
}

// ScalarField holds cell values and, per coupled patch, the values on the
// other side of each face
type ScalarField struct {
	Internal   []float64
	Neighbours [][]float64

	interfaces []Interface
}

func NewScalarField(internal []float64, interfaces []Interface) *ScalarField {
	return &ScalarField{
		Internal:   internal,
		Neighbours: make([][]float64, len(interfaces)),
		interfaces: interfaces,
	}
}

func (s *ScalarField) InitEvaluate(patch int, ct comm.CommsType) error {
	return s.interfaces[patch].InitInternalFieldTransfer(ct, s.Internal, 1)
}

func (s *ScalarField) Evaluate(patch int, ct comm.CommsType) error {
	iface := s.interfaces[patch]
	values, err := iface.InternalFieldTransfer(ct, 1)
	if err != nil {
		return err
	}
	if acmi, ok := iface.(*CyclicACMI); ok {
		if err := acmi.Blend(values, acmi.InterfaceInternalField(s.Internal, 1), 1); err != nil {
			return err
		}
	}
	s.Neighbours[patch] = values
	return nil
}

// VectorField is ScalarField for vectors. Received vectors are rotated into
// this patch's frame with ForwardT
type VectorField struct {
	Internal   []r3.Vec
	Neighbours [][]r3.Vec

	interfaces []Interface
}

func NewVectorField(internal []r3.Vec, interfaces []Interface) *VectorField {
	return &VectorField{
		Internal:   internal,
		Neighbours: make([][]r3.Vec, len(interfaces)),
		interfaces: interfaces,
	}
}

func (v *VectorField) InitEvaluate(patch int, ct comm.CommsType) error {
	return v.interfaces[patch].InitInternalFieldTransfer(ct, comm.FlattenVecs(v.Internal), 3)
}

func (v *VectorField) Evaluate(patch int, ct comm.CommsType) error {
	iface := v.interfaces[patch]
	values, err := iface.InternalFieldTransfer(ct, 3)
	if err != nil {
		return err
	}
	if acmi, ok := iface.(*CyclicACMI); ok {
		// blend in the neighbour frame, so rotate own values back first
		own := acmi.InterfaceInternalField(comm.FlattenVecs(v.Internal), 3)
		rev := acmi.ReverseT()
		for f := range rev {
			r := Transform(rev[f], r3.Vec{X: own[3*f], Y: own[3*f+1], Z: own[3*f+2]})
			own[3*f], own[3*f+1], own[3*f+2] = r.X, r.Y, r.Z
		}
		if err := acmi.Blend(values, own, 3); err != nil {
			return err
		}
	}
	vecs, err := comm.UnflattenVecs(values)
	if err != nil {
		return err
	}
	fwd := iface.ForwardT()
	for f := range vecs {
		vecs[f] = Transform(fwd[f], vecs[f])
	}
	v.Neighbours[patch] = vecs
	return nil
}
