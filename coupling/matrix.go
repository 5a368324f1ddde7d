package coupling

import (
	"fmt"

	"github.com/notargets/ldumesh/addressing"
	"github.com/notargets/ldumesh/comm"
	"github.com/notargets/ldumesh/schedule"
)

// UpdateMatrixInterfaces adds the coupled part of A psi to result:
// result[faceCells[f]] -= coeffs[patch][f] * psi_nbr[f] for every coupled
// patch, walking sched for the exchanges. coeffs is indexed like interfaces
func UpdateMatrixInterfaces(c *comm.Comm, ct comm.CommsType, sched schedule.Schedule,
	interfaces []Interface, coeffs [][]float64, psi, result []float64) error {
	if len(coeffs) != len(interfaces) {
		return fmt.Errorf("%d coefficient lists for %d interfaces: %w",
			len(coeffs), len(interfaces), addressing.ErrInvalidIndex)
	}
	for patch, iface := range interfaces {
		if iface != nil && len(coeffs[patch]) != iface.Size() {
			return fmt.Errorf("patch %d: %d coefficients for %d faces: %w",
				patch, len(coeffs[patch]), iface.Size(), addressing.ErrInvalidIndex)
		}
	}
	f := NewScalarField(psi, interfaces)
	u := &matrixUpdate{ScalarField: f, coeffs: coeffs, result: result}
	return EvaluateBoundaries(c, ct, sched, u)
}

type matrixUpdate struct {
	*ScalarField
	coeffs [][]float64
	result []float64
}

func (u *matrixUpdate) Evaluate(patch int, ct comm.CommsType) error {
	if err := u.ScalarField.Evaluate(patch, ct); err != nil {
		return err
	}
	nbr := u.Neighbours[patch]
	for f, cell := range u.interfaces[patch].FaceCells() {
		u.result[cell] -= u.coeffs[patch][f] * nbr[f]
	}
	return nil
}
