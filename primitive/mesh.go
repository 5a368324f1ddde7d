// Package primitive assembles standalone LDU meshes: addressing, coupled
// interfaces and a communication schedule. Meshes are built from raw
// owner/neighbour lists, by agglomerating the meshes of several ranks into one,
// or by extending an existing mesh with extra cell connections
package primitive

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/notargets/ldumesh/addressing"
	"github.com/notargets/ldumesh/comm"
	"github.com/notargets/ldumesh/coupling"
	"github.com/notargets/ldumesh/schedule"
)

// Mesh is an LDU mesh with its coupled interfaces. Interfaces has one entry
// per patch, nil for uncoupled ones; PrimitiveInterfaces holds just the
// coupled entries
type Mesh struct {
	id    uuid.UUID
	addr  *addressing.LduAddressing
	comm  *comm.Comm
	sched schedule.Schedule

	interfaces          []coupling.Interface
	primitiveInterfaces []coupling.Interface
}

// New builds a mesh from upper-triangular lower/upper lists, which it takes
// ownership of. patchAddr and interfaces are indexed by patch; a coupled
// patch's face cells must equal its interface's. A nil sched selects the
// non-blocking schedule. c may be nil for a mesh without processor coupling
func New(c *comm.Comm, nCells int, lower, upper []int, patchAddr [][]int,
	interfaces []coupling.Interface, sched schedule.Schedule) (*Mesh, error) {
	la, err := addressing.New(nCells, lower, upper, patchAddr)
	if err != nil {
		return nil, err
	}
	return newMesh(c, la, interfaces, sched)
}

// NewUnordered is New for faces in any order, each with lower < upper. It returns order, with new face i taken from old face order[i]
func NewUnordered(c *comm.Comm, nCells int, lower, upper []int, patchAddr [][]int,
	interfaces []coupling.Interface, sched schedule.Schedule) (*Mesh, []int, error) {
	la, order, err := addressing.NewUnordered(nCells, lower, upper, patchAddr)
	if err != nil {
		return nil, nil, err
	}
	m, err := newMesh(c, la, interfaces, sched)
	return m, order, err
}

func newMesh(c *comm.Comm, la *addressing.LduAddressing, interfaces []coupling.Interface,
	sched schedule.Schedule) (*Mesh, error) {
	if len(interfaces) != la.NPatches() {
		return nil, fmt.Errorf("%d interfaces for %d patches: %w",
			len(interfaces), la.NPatches(), addressing.ErrInvalidTopology)
	}
	m := &Mesh{id: uuid.New(), addr: la, comm: c, interfaces: interfaces}
	for patchi, iface := range interfaces {
		if iface == nil {
			continue
		}
		faceCells, _ := la.PatchAddr(patchi)
		if iface.Index() != patchi || !slices.Equal(iface.FaceCells(), faceCells) {
			return nil, fmt.Errorf("interface %d (%s) does not match patch %d: %w",
				iface.Index(), iface.Kind(), patchi, addressing.ErrInvalidTopology)
		}
		for _, cell := range faceCells {
			if cell >= la.Size() {
				return nil, fmt.Errorf("patch %d cell %d of %d: %w",
					patchi, cell, la.Size(), addressing.ErrInvalidIndex)
			}
		}
		if iface.NeighbourRank() >= 0 && c == nil {
			return nil, fmt.Errorf("patch %d couples to rank %d without a communicator: %w",
				patchi, iface.NeighbourRank(), comm.ErrCommunicationFailure)
		}
		m.primitiveInterfaces = append(m.primitiveInterfaces, iface)
	}
	if sched == nil {
		sched = schedule.NonBlocking(interfaces)
	}
	if err := schedule.Validate(sched, interfaces); err != nil {
		return nil, err
	}
	m.sched = sched
	return m, nil
}

// ID identifies this mesh instance; cell indices are only meaningful together
// with it
func (m *Mesh) ID() uuid.UUID                         { return m.id }
func (m *Mesh) Addressing() *addressing.LduAddressing { return m.addr }
func (m *Mesh) Comm() *comm.Comm                      { return m.comm }
func (m *Mesh) NCells() int                           { return m.addr.Size() }
func (m *Mesh) LowerAddr() []int                      { return m.addr.LowerAddr() }
func (m *Mesh) UpperAddr() []int                      { return m.addr.UpperAddr() }
func (m *Mesh) PatchAddr(i int) ([]int, error)        { return m.addr.PatchAddr(i) }
func (m *Mesh) Interfaces() []coupling.Interface      { return m.interfaces }

// PrimitiveInterfaces returns the coupled interfaces only
func (m *Mesh) PrimitiveInterfaces() []coupling.Interface { return m.primitiveInterfaces }

// Schedule returns the schedule the mesh was built with
func (m *Mesh) Schedule() schedule.Schedule { return m.sched }

// SetSchedule replaces the schedule after validating it
func (m *Mesh) SetSchedule(sched schedule.Schedule) error {
	if err := schedule.Validate(sched, m.interfaces); err != nil {
		return err
	}
	m.sched = sched
	return nil
}

// NonBlockingSchedule returns the all-at-once schedule of the interfaces
func (m *Mesh) NonBlockingSchedule() schedule.Schedule {
	return schedule.NonBlocking(m.interfaces)
}

// ScheduledSchedule returns a round-based schedule. The processor graph is
// gathered and coloured on the master, so every rank of the communicator must
// call it
func (m *Mesh) ScheduledSchedule() (schedule.Schedule, error) {
	if m.comm == nil {
		return schedule.Scheduled(0, m.interfaces, nil)
	}
	return ScheduledSchedule(m.comm, m.interfaces)
}

// ScheduledSchedule colours the processor graph of the interfaces of all ranks
// of c and returns this rank's schedule. It is collective
func ScheduledSchedule(c *comm.Comm, interfaces []coupling.Interface) (schedule.Schedule, error) {
	links, err := comm.AllGather(c, schedule.Links(c.Rank(), interfaces))
	if err != nil {
		return nil, err
	}
	all := slices.Concat(links...)
	slices.SortFunc(all, func(a, b schedule.Link) int {
		if a.A != b.A {
			return a.A - b.A
		}
		return a.B - b.B
	})
	all = slices.Compact(all)

	// the colouring is not deterministic, so only the master computes it
	var colours []int
	if c.IsMaster() {
		rounds, nRounds, err := schedule.Colour(all)
		if err != nil {
			return nil, err
		}
		colours = make([]int, len(all))
		for i, l := range all {
			colours[i] = rounds[l]
		}
		c.Logger().Debug("scheduled comms", "links", len(all), "rounds", nRounds)
	}
	if colours, err = comm.Broadcast(c, 0, colours); err != nil {
		return nil, err
	}
	if len(colours) != len(all) {
		return nil, fmt.Errorf("%d rounds for %d links: %w", len(colours), len(all), comm.ErrProtocolMismatch)
	}
	rounds := make(map[schedule.Link]int, len(all))
	for i, l := range all {
		rounds[l] = colours[i]
	}
	return schedule.Scheduled(c.Rank(), interfaces, rounds)
}
