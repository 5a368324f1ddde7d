package primitive

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/notargets/ldumesh/addressing"
	"github.com/notargets/ldumesh/comm"
	"github.com/notargets/ldumesh/coupling"
)

// Agglomeration is the combination of several ranks' meshes into one
//
// CellOffsets[i] is where mesh i's cells start in the combined numbering
// FaceMap[i][f] is the combined face of mesh i's internal face f
// BoundaryMap[i][p] is the combined patch holding mesh i's patch p, or -1 when
// the patch became internal. BoundaryFaceMap[i][p][k] is, for an internal
// patch, the face code (addressing.EncodeFace) of the combined face, flipped
// when face k's cell is the upper cell; otherwise it is the position of face k
// within its combined patch
type Agglomeration struct {
	NewRank int
	NCells  int
	Lower   []int
	Upper   []int
	Patches []PatchData

	CellOffsets     []int
	FaceMap         [][]int
	BoundaryMap     [][]int
	BoundaryFaceMap [][][]int

	// NInternalised counts boundary face pairs that became internal faces
	NInternalised int
}

type externalFace struct {
	lo, hi, tag int // original rank pair and tag of the source interface
	k           int
	cell        int
	mesh, patch int
}

// Agglomerate combines meshes, where meshes[i] came from original rank
// procIDs[i] and procAgglomMap[r] is the new rank of original rank r. All of
// procIDs must map to the same new rank. Processor patches between combined
// meshes become internal faces; those to other new ranks are merged into one
// coupled patch per new neighbour, listing faces in an order both sides
// derive identically. Uncoupled patches are kept one for one after the coupled
// ones. Cyclic patches are not supported
func Agglomerate(procAgglomMap, procIDs []int, meshes []Data) (*Agglomeration, error) {
	if len(procIDs) != len(meshes) || len(meshes) == 0 {
		return nil, fmt.Errorf("%d meshes for %d processor ids: %w",
			len(meshes), len(procIDs), addressing.ErrInvalidTopology)
	}
	for r, nr := range procAgglomMap {
		if nr < 0 || nr >= len(procAgglomMap) {
			return nil, fmt.Errorf("rank %d agglomerates onto rank %d of %d: %w",
				r, nr, len(procAgglomMap), addressing.ErrInvalidTopology)
		}
	}
	meshOf := make(map[int]int, len(procIDs))
	newRank := -1
	for i, r := range procIDs {
		if r < 0 || r >= len(procAgglomMap) {
			return nil, fmt.Errorf("processor id %d outside agglomeration map of %d: %w",
				r, len(procAgglomMap), addressing.ErrInvalidTopology)
		}
		if _, dup := meshOf[r]; dup {
			return nil, fmt.Errorf("processor id %d given twice: %w", r, addressing.ErrInvalidTopology)
		}
		meshOf[r] = i
		if newRank >= 0 && procAgglomMap[r] != newRank {
			return nil, fmt.Errorf("ranks %d and %d agglomerate onto different ranks: %w",
				procIDs[0], r, addressing.ErrInvalidTopology)
		}
		newRank = procAgglomMap[r]
	}

	a := &Agglomeration{
		NewRank:         newRank,
		CellOffsets:     make([]int, len(meshes)+1),
		FaceMap:         make([][]int, len(meshes)),
		BoundaryMap:     make([][]int, len(meshes)),
		BoundaryFaceMap: make([][][]int, len(meshes)),
	}
	for i, m := range meshes {
		a.CellOffsets[i+1] = a.CellOffsets[i] + m.NCells
	}
	a.NCells = a.CellOffsets[len(meshes)]

	// internal faces
	for i, m := range meshes {
		off := a.CellOffsets[i]
		a.FaceMap[i] = make([]int, len(m.Lower))
		for f := range m.Lower {
			a.FaceMap[i][f] = len(a.Lower)
			a.Lower = append(a.Lower, m.Lower[f]+off)
			a.Upper = append(a.Upper, m.Upper[f]+off)
		}
		a.BoundaryMap[i] = make([]int, len(m.Patches))
		a.BoundaryFaceMap[i] = make([][]int, len(m.Patches))
		for p, pd := range m.Patches {
			a.BoundaryFaceMap[i][p] = make([]int, len(pd.FaceCells))
			if pd.Coupled && (pd.Kind == coupling.KindCyclic || pd.Kind == coupling.KindCyclicACMI) {
				return nil, fmt.Errorf("mesh %d patch %d: %s patches can not be agglomerated: %w",
					i, p, pd.Kind, addressing.ErrInvalidTopology)
			}
		}
	}

	// processor faces: internalise or collect per new neighbour
	external := make(map[int][]externalFace)
	for i, m := range meshes {
		myRank := procIDs[i]
		for p, pd := range m.Patches {
			if !pd.Coupled {
				continue
			}
			if pd.NbrRank < 0 || pd.NbrRank >= len(procAgglomMap) {
				return nil, fmt.Errorf("mesh %d patch %d: neighbour rank %d: %w",
					i, p, pd.NbrRank, addressing.ErrInvalidTopology)
			}
			nbrNew := procAgglomMap[pd.NbrRank]
			if nbrNew != newRank {
				a.BoundaryMap[i][p] = nbrNew // resolved to a patch index below
				for k, cell := range pd.FaceCells {
					external[nbrNew] = append(external[nbrNew], externalFace{
						lo: min(myRank, pd.NbrRank), hi: max(myRank, pd.NbrRank), tag: pd.Tag,
						k: k, cell: cell + a.CellOffsets[i], mesh: i, patch: p,
					})
				}
				continue
			}
			a.BoundaryMap[i][p] = -1
			j, ok := meshOf[pd.NbrRank]
			if !ok {
				return nil, fmt.Errorf("mesh %d patch %d: neighbour rank %d agglomerates here but was not supplied: %w",
					i, p, pd.NbrRank, addressing.ErrInvalidTopology)
			}
			if i > j {
				continue // done from the other side
			}
			q := slices.IndexFunc(meshes[j].Patches, func(o PatchData) bool {
				return o.Coupled && o.NbrRank == myRank && o.Tag == pd.Tag
			})
			if q < 0 || len(meshes[j].Patches[q].FaceCells) != len(pd.FaceCells) {
				return nil, fmt.Errorf("mesh %d patch %d: no matching patch on rank %d: %w",
					i, p, pd.NbrRank, addressing.ErrInvalidTopology)
			}
			nbrCells := meshes[j].Patches[q].FaceCells
			for k, cell := range pd.FaceCells {
				own := cell + a.CellOffsets[i]
				nbr := nbrCells[k] + a.CellOffsets[j]
				face := len(a.Lower)
				a.Lower = append(a.Lower, min(own, nbr))
				a.Upper = append(a.Upper, max(own, nbr))
				a.BoundaryFaceMap[i][p][k] = addressing.EncodeFace(face, own > nbr)
				a.BoundaryFaceMap[j][q][k] = addressing.EncodeFace(face, nbr > own)
			}
			a.NInternalised += len(pd.FaceCells)
		}
	}

	// one coupled patch per new neighbour, in neighbour order
	nbrs := make([]int, 0, len(external))
	for nr := range external {
		nbrs = append(nbrs, nr)
	}
	slices.Sort(nbrs)
	patchOf := make(map[int]int, len(nbrs))
	for _, nr := range nbrs {
		faces := external[nr]
		slices.SortFunc(faces, func(x, y externalFace) int {
			return cmp.Or(cmp.Compare(x.lo, y.lo), cmp.Compare(x.hi, y.hi),
				cmp.Compare(x.tag, y.tag), cmp.Compare(x.k, y.k))
		})
		patch := PatchData{Coupled: true, Kind: coupling.KindGeneric, NbrRank: nr, Tag: comm.DefaultTag}
		for pos, ef := range faces {
			patch.FaceCells = append(patch.FaceCells, ef.cell)
			a.BoundaryFaceMap[ef.mesh][ef.patch][ef.k] = pos
		}
		patchOf[nr] = len(a.Patches)
		a.Patches = append(a.Patches, patch)
	}
	for i, m := range meshes {
		for p, pd := range m.Patches {
			switch {
			case pd.Coupled && a.BoundaryMap[i][p] >= 0:
				a.BoundaryMap[i][p] = patchOf[a.BoundaryMap[i][p]]
			case !pd.Coupled:
				a.BoundaryMap[i][p] = len(a.Patches)
				patch := PatchData{NbrRank: -1, FaceCells: make([]int, len(pd.FaceCells))}
				for k, cell := range pd.FaceCells {
					patch.FaceCells[k] = cell + a.CellOffsets[i]
					a.BoundaryFaceMap[i][p][k] = k
				}
				a.Patches = append(a.Patches, patch)
			}
		}
	}

	order, err := addressing.UpperTriOrder(a.NCells, a.Lower, a.Upper)
	if err != nil {
		return nil, err
	}
	oldToNew := addressing.InvertOrder(order)
	a.Lower = addressing.Reorder(a.Lower, order)
	a.Upper = addressing.Reorder(a.Upper, order)
	for i := range meshes {
		addressing.RenumberFaces(a.FaceMap[i], oldToNew)
		for p, bm := range a.BoundaryMap[i] {
			if bm < 0 {
				addressing.RenumberCodes(a.BoundaryFaceMap[i][p], oldToNew)
			}
		}
	}
	return a, nil
}

// PatchAddr returns the face cells of every combined patch
func (a *Agglomeration) PatchAddr() [][]int {
	out := make([][]int, len(a.Patches))
	for p, pd := range a.Patches {
		out[p] = pd.FaceCells
	}
	return out
}

// Mesh builds the combined mesh on c, whose rank numbering must be the new
// rank numbering of the agglomeration. Coupled patches become Generic
// interfaces
func (a *Agglomeration) Mesh(c *comm.Comm) (*Mesh, error) {
	if c != nil && c.Rank() != a.NewRank {
		return nil, fmt.Errorf("agglomeration for rank %d built on rank %d: %w",
			a.NewRank, c.Rank(), addressing.ErrInvalidTopology)
	}
	ifaces := make([]coupling.Interface, len(a.Patches))
	for p, pd := range a.Patches {
		if !pd.Coupled {
			continue
		}
		g, err := coupling.NewGeneric(c, p, pd.NbrRank, pd.Tag, pd.FaceCells)
		if err != nil {
			return nil, err
		}
		ifaces[p] = g
	}
	return New(c, a.NCells, a.Lower, a.Upper, a.PatchAddr(), ifaces, nil)
}
