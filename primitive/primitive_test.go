package primitive

import (
	"sync"
	"testing"

	"github.com/notargets/ldumesh/addressing"
	"github.com/notargets/ldumesh/comm"
	"github.com/notargets/ldumesh/coupling"
	"github.com/notargets/ldumesh/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain builds rank r's part of a 1D chain with n cells per rank: a processor
// patch to each neighbouring rank, tagged by the lower rank, and an uncoupled
// wall patch on cell 0
func chain(c *comm.Comm, n int) (*Mesh, error) {
	var lower, upper []int
	for i := 0; i+1 < n; i++ {
		lower = append(lower, i)
		upper = append(upper, i+1)
	}
	var patchAddr [][]int
	var ifaces []coupling.Interface
	add := func(nbr, cell int) error {
		p, err := coupling.NewProcessor(c, len(ifaces), nbr, min(nbr, c.Rank()), []int{cell})
		if err != nil {
			return err
		}
		patchAddr = append(patchAddr, []int{cell})
		ifaces = append(ifaces, p)
		return nil
	}
	if c.Rank() > 0 {
		if err := add(c.Rank()-1, 0); err != nil {
			return nil, err
		}
	}
	if c.Rank() < c.Size()-1 {
		if err := add(c.Rank()+1, n-1); err != nil {
			return nil, err
		}
	}
	patchAddr = append(patchAddr, []int{0})
	ifaces = append(ifaces, nil)
	return New(c, n, lower, upper, patchAddr, ifaces, nil)
}

func assertUpperTriangular(t *testing.T, lower, upper []int) {
	t.Helper()
	for i := range lower {
		assert.Less(t, lower[i], upper[i], "face %d", i)
		if i > 0 {
			ok := lower[i-1] < lower[i] || (lower[i-1] == lower[i] && upper[i-1] < upper[i])
			assert.True(t, ok, "faces %d,%d out of order", i-1, i)
		}
	}
}

func nCoupled(m *Mesh) int { return len(m.PrimitiveInterfaces()) }

func TestNew_ChecksInterfaces(t *testing.T) {
	w := comm.NewWorld(2)
	p, err := coupling.NewProcessor(w.Comm(0), 0, 1, 0, []int{1})
	require.NoError(t, err)

	_, err = New(w.Comm(0), 2, []int{0}, []int{1}, [][]int{{0}}, []coupling.Interface{p}, nil)
	assert.ErrorIs(t, err, addressing.ErrInvalidTopology, "face cells differ")
	_, err = New(w.Comm(0), 2, []int{0}, []int{1}, [][]int{{1}, {0}}, []coupling.Interface{p}, nil)
	assert.ErrorIs(t, err, addressing.ErrInvalidTopology, "patch count")
	_, err = New(nil, 2, []int{0}, []int{1}, [][]int{{1}}, []coupling.Interface{p}, nil)
	assert.ErrorIs(t, err, comm.ErrCommunicationFailure)
	_, err = New(w.Comm(0), 2, []int{0}, []int{1}, [][]int{{1}}, []coupling.Interface{p},
		schedule.Schedule{{Patch: 0, Phase: schedule.Evaluate}})
	assert.ErrorIs(t, err, comm.ErrProtocolMismatch)

	m, err := New(w.Comm(0), 2, []int{0}, []int{1}, [][]int{{1}}, []coupling.Interface{p}, nil)
	require.NoError(t, err)
	assert.Len(t, m.Schedule(), 2)
	assert.Equal(t, 1, nCoupled(m))

	other, err := New(nil, 2, []int{0}, []int{1}, [][]int{{1}}, []coupling.Interface{nil}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, m.ID(), other.ID())
	assert.Empty(t, other.Schedule())
}

func TestNewUnordered(t *testing.T) {
	m, order, err := NewUnordered(nil, 3, []int{1, 0, 0}, []int{2, 1, 2}, nil, nil, nil)
	require.NoError(t, err)
	assertUpperTriangular(t, m.LowerAddr(), m.UpperAddr())
	assert.Equal(t, []int{0, 0, 1}, m.LowerAddr())
	assert.Equal(t, []int{1, 2, 2}, m.UpperAddr())
	assert.Equal(t, []int{1, 2, 0}, order)
}

func TestAgglomerate_TwoChains(t *testing.T) {
	var mu sync.Mutex
	data := make([]Data, 2)
	err := comm.Run(2, func(c *comm.Comm) error {
		m, err := chain(c, 2)
		if err != nil {
			return err
		}
		mu.Lock()
		data[c.Rank()] = m.Data()
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	a, err := Agglomerate([]int{0, 0}, []int{0, 1}, data)
	require.NoError(t, err)
	assert.Equal(t, 4, a.NCells)
	assert.Equal(t, []int{0, 2, 4}, a.CellOffsets)
	assert.Equal(t, []int{0, 1, 2}, a.Lower)
	assert.Equal(t, []int{1, 2, 3}, a.Upper)
	assert.Equal(t, 1, a.NInternalised)
	// internal faces = sum of the meshes' own plus the internalised ones
	assert.Equal(t, len(data[0].Lower)+len(data[1].Lower)+a.NInternalised, len(a.Lower))

	assert.Equal(t, []int{0}, a.FaceMap[0])
	assert.Equal(t, []int{2}, a.FaceMap[1])
	assert.Equal(t, []int{-1, 0}, a.BoundaryMap[0])
	assert.Equal(t, []int{-1, 1}, a.BoundaryMap[1])
	assert.Equal(t, []int{addressing.EncodeFace(1, false)}, a.BoundaryFaceMap[0][0])
	assert.Equal(t, []int{addressing.EncodeFace(1, true)}, a.BoundaryFaceMap[1][0])

	require.Len(t, a.Patches, 2)
	for _, p := range a.Patches {
		assert.False(t, p.Coupled)
	}
	assert.Equal(t, [][]int{{0}, {2}}, a.PatchAddr())

	m, err := a.Mesh(nil)
	require.NoError(t, err)
	assert.Zero(t, nCoupled(m))
	assertUpperTriangular(t, m.LowerAddr(), m.UpperAddr())
}

func TestAgglomerate_InvalidMap(t *testing.T) {
	d := Data{NCells: 1}
	_, err := Agglomerate([]int{0, 2}, []int{0}, []Data{d})
	assert.ErrorIs(t, err, addressing.ErrInvalidTopology)
	_, err = Agglomerate([]int{0, 1}, []int{0, 1}, []Data{d, d})
	assert.ErrorIs(t, err, addressing.ErrInvalidTopology, "different new ranks")
	_, err = Agglomerate([]int{0, 0}, []int{0}, []Data{{
		NCells:  1,
		Patches: []PatchData{{FaceCells: []int{0}, Coupled: true, Kind: coupling.KindProcessor, NbrRank: 1}},
	}})
	assert.ErrorIs(t, err, addressing.ErrInvalidTopology, "neighbour not supplied")
	_, err = Agglomerate([]int{0}, []int{0}, []Data{{
		NCells:  1,
		Patches: []PatchData{{FaceCells: []int{0}, Coupled: true, Kind: coupling.KindCyclic, NbrRank: -1}},
	}})
	assert.ErrorIs(t, err, addressing.ErrInvalidTopology, "cyclic")
}

func TestAgglomerateProcs_FourToTwo(t *testing.T) {
	results := make([][]float64, 4)
	combined := make([]*Mesh, 4)
	err := comm.Run(4, func(c *comm.Comm) error {
		m, err := chain(c, 2)
		if err != nil {
			return err
		}
		cm, a, err := AgglomerateProcs(m, []int{0, 0, 1, 1})
		if err != nil || cm == nil {
			return err
		}
		combined[c.Rank()] = cm
		if a.NInternalised != 1 {
			t.Errorf("rank %d internalised %d faces", c.Rank(), a.NInternalised)
		}
		internal := make([]float64, cm.NCells())
		for i := range internal {
			internal[i] = float64(100*cm.Comm().Rank() + i)
		}
		f := coupling.NewScalarField(internal, cm.Interfaces())
		if err := coupling.EvaluateBoundaries(cm.Comm(), comm.NonBlocking, cm.Schedule(), f); err != nil {
			return err
		}
		results[c.Rank()] = f.Neighbours[0]
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, combined[1])
	assert.Nil(t, combined[3])
	for _, r := range []int{0, 2} {
		m := combined[r]
		require.NotNil(t, m)
		assert.Equal(t, 4, m.NCells())
		assertUpperTriangular(t, m.LowerAddr(), m.UpperAddr())
		assert.Equal(t, 1, nCoupled(m))
		assert.Equal(t, coupling.KindGeneric, m.Interfaces()[0].Kind())
	}
	assert.Equal(t, []float64{100}, results[0])
	assert.Equal(t, []float64{3}, results[2])
}

func TestAgglomerateProcs_AllToOne(t *testing.T) {
	err := comm.Run(2, func(c *comm.Comm) error {
		m, err := chain(c, 3)
		if err != nil {
			return err
		}
		cm, _, err := AgglomerateProcs(m, []int{0, 0})
		if err != nil || cm == nil {
			return err
		}
		assert.Equal(t, 6, cm.NCells())
		assert.Zero(t, nCoupled(cm))
		assertUpperTriangular(t, cm.LowerAddr(), cm.UpperAddr())
		return nil
	})
	require.NoError(t, err)

	err = comm.Run(2, func(c *comm.Comm) error {
		m, err := chain(c, 3)
		if err != nil {
			return err
		}
		_, _, err = AgglomerateProcs(m, []int{0, 5})
		return err
	})
	assert.ErrorIs(t, err, addressing.ErrInvalidTopology)
}

func TestScheduledSchedule_DeadlockFree(t *testing.T) {
	const n = 5
	scheds := make([]schedule.Schedule, n)
	patches := make([][]coupling.Interface, n)
	err := comm.Run(n, func(c *comm.Comm) error {
		m, err := chain(c, 2)
		if err != nil {
			return err
		}
		sched, err := m.ScheduledSchedule()
		if err != nil {
			return err
		}
		if err := m.SetSchedule(sched); err != nil {
			return err
		}
		scheds[c.Rank()] = sched
		patches[c.Rank()] = m.Interfaces()

		f := coupling.NewScalarField([]float64{float64(c.Rank()), float64(c.Rank())}, m.Interfaces())
		return coupling.EvaluateBoundaries(c, comm.Scheduled, sched, f)
	})
	require.NoError(t, err)
	assert.NoError(t, schedule.Simulate(scheds, patches, 1))
}

func TestGather(t *testing.T) {
	err := comm.Run(3, func(c *comm.Comm) error {
		m, err := chain(c, 2)
		if err != nil {
			return err
		}
		all, err := Gather(c, 1, m)
		if err != nil {
			return err
		}
		if c.Rank() != 1 {
			assert.Nil(t, all)
			return nil
		}
		require.Len(t, all, 3)
		assert.Equal(t, m.ID().String(), all[1].ID)
		assert.Len(t, all[0].Patches, 2)
		assert.Len(t, all[1].Patches, 3)
		assert.Equal(t, 1, all[2].Patches[0].NbrRank)
		assert.Equal(t, 1, all[2].Patches[0].Tag)
		return nil
	})
	require.NoError(t, err)
}

func TestAddAddressing_Local(t *testing.T) {
	m, err := New(nil, 4, []int{0, 1, 2}, []int{1, 2, 3}, nil, nil, nil)
	require.NoError(t, err)
	ext, err := m.AddAddressing([]Connection{
		{Cell: 0, NbrRank: -1, NbrCell: 2},
		{Cell: 1, NbrRank: -1, NbrCell: 2},
		{Cell: 2, NbrRank: -1, NbrCell: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1, 2}, ext.Mesh.LowerAddr())
	assert.Equal(t, []int{1, 2, 2, 3}, ext.Mesh.UpperAddr())
	assert.Equal(t, []int{1, 2, 1}, ext.ConnectionFaces)
	assert.Equal(t, []int{0, 2, 3}, ext.FaceMap)
	assert.Equal(t, []int{1}, ext.CellFaces[0])
	assert.Equal(t, []int{2}, ext.CellFaces[1])
	assert.Equal(t, []int{1}, ext.CellFaces[2])

	_, err = m.AddAddressing([]Connection{{Cell: 0, NbrRank: -1, NbrCell: 0}})
	assert.ErrorIs(t, err, addressing.ErrInvalidIndex)
	_, err = m.AddAddressing([]Connection{{Cell: 0, NbrRank: 3, NbrCell: 0}})
	assert.ErrorIs(t, err, comm.ErrCommunicationFailure)
}

func TestAddAddressing_Remote(t *testing.T) {
	got := make([][]float64, 2)
	err := comm.Run(2, func(c *comm.Comm) error {
		m, err := chain(c, 2)
		if err != nil {
			return err
		}
		nbr := 1 - c.Rank()
		ext, err := m.AddAddressing([]Connection{
			{Cell: 1 - c.Rank(), NbrRank: nbr, NbrCell: c.Rank()},
			{Cell: c.Rank(), NbrRank: nbr, NbrCell: 1 - c.Rank()},
		})
		if err != nil {
			return err
		}
		patchi := ext.RemotePatches[nbr]
		assert.Equal(t, m.Addressing().NPatches(), patchi)
		assert.Equal(t, []int{-1, -1}, ext.ConnectionFaces)
		g := ext.Mesh.Interfaces()[patchi]
		assert.Greater(t, g.Tag(), m.Interfaces()[0].Tag())

		internal := []float64{float64(10 * c.Rank()), float64(10*c.Rank() + 1)}
		f := coupling.NewScalarField(internal, ext.Mesh.Interfaces())
		if err := coupling.EvaluateBoundaries(c, comm.Blocking, ext.Mesh.Schedule(), f); err != nil {
			return err
		}
		got[c.Rank()] = f.Neighbours[patchi]
		return nil
	})
	require.NoError(t, err)
	// rank 0 faces: (0,1) then (1,0); rank 1 lists them as (1,0) then (0,1)
	assert.Equal(t, []float64{11, 10}, got[0])
	assert.Equal(t, []float64{0, 1}, got[1])
}
