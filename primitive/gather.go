package primitive

import (
	"fmt"

	"github.com/notargets/ldumesh/comm"
	"github.com/notargets/ldumesh/coupling"
)

// gatherTag carries mesh descriptions to the gathering rank
const gatherTag = 1 << 20

// PatchData describes one patch of a gathered mesh. NbrRank and Tag are only
// meaningful for coupled patches; NbrRank is in the numbering of the
// communicator the mesh was gathered over
type PatchData struct {
	FaceCells []int
	Coupled   bool
	Kind      coupling.Kind
	NbrRank   int
	Tag       int
}

// Data is the transportable description of a mesh
type Data struct {
	ID      string
	NCells  int
	Lower   []int
	Upper   []int
	Patches []PatchData
}

// Data describes the mesh. Neighbour ranks are expressed in the numbering of
// the mesh's own communicator
func (m *Mesh) Data() Data {
	d := Data{
		ID:      m.id.String(),
		NCells:  m.addr.Size(),
		Lower:   m.addr.LowerAddr(),
		Upper:   m.addr.UpperAddr(),
		Patches: make([]PatchData, m.addr.NPatches()),
	}
	for patchi := range d.Patches {
		faceCells, _ := m.addr.PatchAddr(patchi)
		p := PatchData{FaceCells: faceCells, NbrRank: -1}
		if iface := m.interfaces[patchi]; iface != nil {
			p.Coupled = true
			p.Kind = iface.Kind()
			p.NbrRank = iface.NeighbourRank()
			p.Tag = iface.Tag()
		}
		d.Patches[patchi] = p
	}
	return d
}

// Gather collects the description of every rank's mesh on root, indexed by
// rank. Other ranks get nil. It is collective over c
func Gather(c *comm.Comm, root int, m *Mesh) ([]Data, error) {
	d := m.Data()
	if c.Rank() != root {
		if err := comm.SendValue(c, root, gatherTag, d); err != nil {
			return nil, fmt.Errorf("gather mesh: %w", err)
		}
		return nil, nil
	}
	all := make([]Data, c.Size())
	all[root] = d
	for src := range all {
		if src == root {
			continue
		}
		if err := comm.RecvValue(c, src, gatherTag, &all[src]); err != nil {
			return nil, fmt.Errorf("gather mesh from %d: %w", src, err)
		}
	}
	return all, nil
}
