package primitive

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/notargets/ldumesh/addressing"
	"github.com/notargets/ldumesh/comm"
	"github.com/notargets/ldumesh/coupling"
)

// Connection requests an extra coupling between local Cell and cell NbrCell
// of rank NbrRank. A NbrRank of -1 or the mesh's own rank means a local cell
type Connection struct {
	Cell    int
	NbrRank int
	NbrCell int
}

// Extension is a mesh extended with extra connections
type Extension struct {
	Mesh *Mesh

	// FaceMap maps the faces of the original mesh to the extended one
	FaceMap []int
	// ConnectionFaces is, per requested connection, its face in the
	// extended mesh, or -1 for a connection to another rank
	ConnectionFaces []int
	// CellFaces lists, per cell, the faces of its local extra connections
	CellFaces [][]int
	// RemoteFaceCells is, per remote rank, the (local cell, remote cell)
	// table of that rank's new interface, in interface face order
	RemoteFaceCells map[int][][2]int
	// RemotePatches is the patch index of each remote rank's new interface
	RemotePatches map[int]int
}

// AddAddressing returns m extended with extra connections. Pairs that are
// already connected reuse their face; new local pairs get a new internal face
// Remote pairs are grouped into one Generic interface per rank, appended after
// the existing patches. Each remote pair must be requested on both ranks. The
// call is collective over the mesh's communicator
func (m *Mesh) AddAddressing(extra []Connection) (*Extension, error) {
	myRank := -1
	if m.comm != nil {
		myRank = m.comm.Rank()
	}
	nCells := m.addr.Size()
	lower := slices.Clone(m.addr.LowerAddr())
	upper := slices.Clone(m.addr.UpperAddr())
	nFaces := len(lower)

	ext := &Extension{
		ConnectionFaces: make([]int, len(extra)),
		CellFaces:       make([][]int, nCells),
		RemoteFaceCells: make(map[int][][2]int),
		RemotePatches:   make(map[int]int),
	}
	added := make(map[[2]int]int)
	for i, x := range extra {
		if x.Cell < 0 || x.Cell >= nCells {
			return nil, fmt.Errorf("connection %d: cell %d of %d: %w", i, x.Cell, nCells, addressing.ErrInvalidIndex)
		}
		if x.NbrRank >= 0 && x.NbrRank != myRank {
			if m.comm == nil || x.NbrRank >= m.comm.Size() {
				return nil, fmt.Errorf("connection %d: rank %d: %w", i, x.NbrRank, comm.ErrCommunicationFailure)
			}
			ext.ConnectionFaces[i] = -1
			ext.RemoteFaceCells[x.NbrRank] = append(ext.RemoteFaceCells[x.NbrRank], [2]int{x.Cell, x.NbrCell})
			continue
		}
		if x.NbrCell < 0 || x.NbrCell >= nCells || x.NbrCell == x.Cell {
			return nil, fmt.Errorf("connection %d: neighbour cell %d of %d: %w",
				i, x.NbrCell, nCells, addressing.ErrInvalidIndex)
		}
		face := m.addr.TriIndex(x.Cell, x.NbrCell)
		if face == addressing.NotFound {
			key := [2]int{min(x.Cell, x.NbrCell), max(x.Cell, x.NbrCell)}
			var ok bool
			if face, ok = added[key]; !ok {
				face = len(lower)
				added[key] = face
				lower = append(lower, key[0])
				upper = append(upper, key[1])
			}
		}
		ext.ConnectionFaces[i] = face
		ext.CellFaces[x.Cell] = append(ext.CellFaces[x.Cell], face)
	}

	order, err := addressing.UpperTriOrder(nCells, lower, upper)
	if err != nil {
		return nil, err
	}
	oldToNew := addressing.InvertOrder(order)
	lower = addressing.Reorder(lower, order)
	upper = addressing.Reorder(upper, order)
	ext.FaceMap = slices.Clone(oldToNew[:nFaces])
	addressing.RenumberFaces(ext.ConnectionFaces, oldToNew)
	for _, faces := range ext.CellFaces {
		addressing.RenumberFaces(faces, oldToNew)
	}

	tag := 0
	for _, iface := range m.interfaces {
		if iface != nil {
			tag = max(tag, iface.Tag())
		}
	}
	if m.comm != nil {
		t, err := comm.AllReduceMax(m.comm, float64(tag))
		if err != nil {
			return nil, err
		}
		tag = int(t) + 1
	}

	patchAddr := make([][]int, 0, m.addr.NPatches()+len(ext.RemoteFaceCells))
	for patchi := range m.addr.NPatches() {
		faceCells, _ := m.addr.PatchAddr(patchi)
		patchAddr = append(patchAddr, faceCells)
	}
	ifaces := slices.Clone(m.interfaces)
	for _, nbr := range slices.Sorted(maps.Keys(ext.RemoteFaceCells)) {
		table := ext.RemoteFaceCells[nbr]
		// both ranks order the table by (lower rank's cell, higher rank's cell)
		first, second := 0, 1
		if myRank > nbr {
			first, second = 1, 0
		}
		slices.SortFunc(table, func(x, y [2]int) int {
			return cmp.Or(cmp.Compare(x[first], y[first]), cmp.Compare(x[second], y[second]))
		})
		table = slices.Compact(table)
		ext.RemoteFaceCells[nbr] = table

		faceCells := make([]int, len(table))
		for k, row := range table {
			faceCells[k] = row[0]
		}
		patchi := len(patchAddr)
		g, err := coupling.NewGeneric(m.comm, patchi, nbr, tag, faceCells)
		if err != nil {
			return nil, err
		}
		patchAddr = append(patchAddr, faceCells)
		ifaces = append(ifaces, g)
		ext.RemotePatches[nbr] = patchi
	}

	ext.Mesh, err = New(m.comm, nCells, lower, upper, patchAddr, ifaces, nil)
	if err != nil {
		return nil, err
	}
	return ext, nil
}
