package primitive

import (
	"fmt"

	"github.com/notargets/ldumesh/addressing"
	"github.com/notargets/ldumesh/comm"
)

// AgglomerateProcs combines the meshes of the ranks of m's communicator that
// procAgglomMap sends to the same new rank. The lowest rank of each group
// gathers the group's meshes and returns the combined mesh, built on a new
// communicator of the group masters; the other ranks return nil. It is
// collective
func AgglomerateProcs(m *Mesh, procAgglomMap []int) (*Mesh, *Agglomeration, error) {
	c := m.comm
	if c == nil {
		return nil, nil, fmt.Errorf("agglomerate without a communicator: %w", comm.ErrCommunicationFailure)
	}
	if len(procAgglomMap) != c.Size() {
		return nil, nil, fmt.Errorf("agglomeration map of %d for %d ranks: %w",
			len(procAgglomMap), c.Size(), addressing.ErrInvalidTopology)
	}
	// every rank holds the same map, so every rank fails here
	for r, nr := range procAgglomMap {
		if nr < 0 || nr >= c.Size() {
			return nil, nil, fmt.Errorf("rank %d agglomerates onto %d: %w",
				r, nr, addressing.ErrInvalidTopology)
		}
	}
	newRank := procAgglomMap[c.Rank()]

	group, err := c.Split(newRank)
	if err != nil {
		return nil, nil, err
	}
	procIDs, err := comm.AllGather(group, c.Rank())
	if err != nil {
		return nil, nil, err
	}
	meshes, err := Gather(group, 0, m)
	if err != nil {
		return nil, nil, err
	}
	color := -1
	if group.IsMaster() {
		color = 0
	}
	masters, err := c.Split(color)
	if err != nil || masters == nil {
		return nil, nil, err
	}

	a, err := Agglomerate(procAgglomMap, procIDs, meshes)
	if err != nil {
		return nil, nil, err
	}
	// new rank ids -> ranks of the masters communicator
	ids, err := comm.AllGather(masters, newRank)
	if err != nil {
		return nil, nil, err
	}
	rankOf := make(map[int]int, len(ids))
	for r, id := range ids {
		rankOf[id] = r
	}
	a.NewRank = masters.Rank()
	for p := range a.Patches {
		if a.Patches[p].Coupled {
			a.Patches[p].NbrRank = rankOf[a.Patches[p].NbrRank]
		}
	}
	combined, err := a.Mesh(masters)
	if err != nil {
		return nil, nil, err
	}
	masters.Logger().Debug("agglomerated",
		"meshes", len(meshes), "cells", a.NCells, "faces", len(a.Lower),
		"internalised", a.NInternalised, "patches", len(a.Patches))
	return combined, a, nil
}
