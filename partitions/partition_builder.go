package partitions

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/notargets/ldumesh/addressing"
	"github.com/notargets/ldumesh/comm"
	"github.com/notargets/ldumesh/coupling"
	"github.com/notargets/ldumesh/primitive"
	"github.com/notargets/ldumesh/utils"
	"gonum.org/v1/gonum/spatial/r3"
)

// PartitionBuilder decomposes a global LDU mesh over ranks
type PartitionBuilder struct {
	// Mesh connectivity
	Mesh *GlobalMesh

	// Partitioning parameters
	NumPartitions int
	Strategy      PartitionStrategy
}

// GlobalMesh provides the mesh topology needed for partitioning
type GlobalMesh struct {
	NCells int
	Lower  []int // Upper-triangular face addressing
	Upper  []int

	// Uncoupled boundary patches, kept on every rank so patch indices agree
	Patches []BoundaryPatch

	// Cell centres, required by CoordinateBisection
	Centres []r3.Vec
}

// BoundaryPatch is a named list of boundary face cells
type BoundaryPatch struct {
	Name      string
	FaceCells []int
}

// PartitionStrategy defines how cells are grouped
type PartitionStrategy int

const (
	// Simple strategies
	BlockPartition PartitionStrategy = iota // Consecutive cells
	RoundRobin                              // Distribute cyclically

	// Geometric strategies
	CoordinateBisection // Recursive bisection along the longest extent
)

// BuildPartitions creates a partition layout from mesh connectivity
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.Mesh == nil || pb.Mesh.NCells <= 0 {
		return nil, fmt.Errorf("empty mesh: %w", addressing.ErrInvalidTopology)
	}
	numPartitions := max(pb.NumPartitions, 1)
	if numPartitions > pb.Mesh.NCells {
		return nil, fmt.Errorf("%d partitions for %d cells: %w",
			numPartitions, pb.Mesh.NCells, addressing.ErrInvalidTopology)
	}

	// Partition the cells
	cToP, err := pb.partitionCells(numPartitions)
	if err != nil {
		return nil, err
	}

	// Create the layout
	layout := &PartitionLayout{
		Partitions:    createPartitions(cToP, numPartitions),
		TotalCells:    pb.Mesh.NCells,
		NumPartitions: numPartitions,
		CToP:          cToP,
	}

	// Validate the layout
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}

	return layout, nil
}

// partitionCells assigns cells to partitions
func (pb *PartitionBuilder) partitionCells(numPartitions int) ([]int, error) {
	nCells := pb.Mesh.NCells
	cToP := make([]int, nCells)

	switch pb.Strategy {
	case BlockPartition:
		// Consecutive blocks whose sizes differ by at most one
		for i := 0; i < nCells; i++ {
			cToP[i] = i * numPartitions / nCells
		}

	case RoundRobin:
		// Distribute cells cyclically
		for i := 0; i < nCells; i++ {
			cToP[i] = i % numPartitions
		}

	case CoordinateBisection:
		if len(pb.Mesh.Centres) != nCells {
			return nil, fmt.Errorf("coordinate bisection needs %d cell centres, have %d",
				nCells, len(pb.Mesh.Centres))
		}
		cells := make([]int, nCells)
		for i := range cells {
			cells[i] = i
		}
		bisect(pb.Mesh.Centres, cells, 0, numPartitions, cToP)

	default:
		return nil, fmt.Errorf("unknown partition strategy %d", pb.Strategy)
	}

	return cToP, nil
}

// bisect splits cells into nParts partitions numbered from first, cutting
// along the longest extent of their centres in proportion to the partition
// counts of each half
func bisect(centres []r3.Vec, cells []int, first, nParts int, cToP []int) {
	if nParts == 1 {
		for _, c := range cells {
			cToP[c] = first
		}
		return
	}
	lo, hi := centres[cells[0]], centres[cells[0]]
	for _, c := range cells[1:] {
		lo = r3.Vec{X: math.Min(lo.X, centres[c].X), Y: math.Min(lo.Y, centres[c].Y), Z: math.Min(lo.Z, centres[c].Z)}
		hi = r3.Vec{X: math.Max(hi.X, centres[c].X), Y: math.Max(hi.Y, centres[c].Y), Z: math.Max(hi.Z, centres[c].Z)}
	}
	ext := r3.Sub(hi, lo)
	coord := func(v r3.Vec) float64 { return v.X }
	switch {
	case ext.Y > ext.X && ext.Y >= ext.Z:
		coord = func(v r3.Vec) float64 { return v.Y }
	case ext.Z > ext.X && ext.Z > ext.Y:
		coord = func(v r3.Vec) float64 { return v.Z }
	}
	slices.SortStableFunc(cells, func(a, b int) int {
		return cmp.Or(cmp.Compare(coord(centres[a]), coord(centres[b])), cmp.Compare(a, b))
	})
	nLeft := nParts / 2
	split := len(cells) * nLeft / nParts
	bisect(centres, cells[:split], first, nLeft, cToP)
	bisect(centres, cells[split:], first+nLeft, nParts-nLeft, cToP)
}

// createPartitions builds partition structures from cell assignments
func createPartitions(cToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)

	// Initialize partitions
	for i := range partitions {
		partitions[i] = Partition{ID: i}
	}

	// Assign cells to partitions in ascending global order
	for cell, part := range cToP {
		partitions[part].Cells = append(partitions[part].Cells, cell)
		partitions[part].NumCells++
	}

	return partitions
}

// RankMesh is the description of one partition's local mesh: its
// addressing, the global boundary patches restricted to it (possibly empty)
// and one processor patch per neighbouring partition
type RankMesh struct {
	Partition int

	CellMap []int // Local cell -> global cell
	FaceMap []int // Local internal face -> global face

	// Patch layout: global boundary patches first, then processor patches
	PatchNames []string
	Data       primitive.Data

	// Remote communication metadata
	RemotePartitions []RemotePartition

	Metrics PartitionMetrics
}

// Decompose builds the local mesh description of every partition. Processor
// patches list their faces in global face order on both sides and share the
// tag comm.DefaultTag, one patch per partition pair
func Decompose(mesh *GlobalMesh, layout *PartitionLayout) ([]*RankMesh, error) {
	fc, err := utils.NewFaceConnector(mesh.NCells, mesh.Lower, mesh.Upper, layout.CToP)
	if err != nil {
		return nil, fmt.Errorf("face connector: %v: %w", err, addressing.ErrInvalidTopology)
	}
	if err := fc.Verify(); err != nil {
		return nil, fmt.Errorf("face connector: %v: %w", err, addressing.ErrInvalidTopology)
	}

	ranks := make([]*RankMesh, layout.NumPartitions)
	for p := range ranks {
		rm := &RankMesh{Partition: p}
		if p < fc.NumPartitions {
			rm.CellMap, rm.FaceMap = fc.LocalToGlobalCell[p], fc.LocalFaces[p]
		}
		d := primitive.Data{NCells: len(rm.CellMap)}
		for _, f := range rm.FaceMap {
			d.Lower = append(d.Lower, fc.GlobalToLocalCell[mesh.Lower[f]])
			d.Upper = append(d.Upper, fc.GlobalToLocalCell[mesh.Upper[f]])
		}

		// Global boundary patches restricted to this partition
		for _, bp := range mesh.Patches {
			patch := primitive.PatchData{NbrRank: -1, FaceCells: []int{}}
			for _, c := range bp.FaceCells {
				if layout.GetPartition(c) == p {
					patch.FaceCells = append(patch.FaceCells, fc.GlobalToLocalCell[c])
				}
			}
			d.Patches = append(d.Patches, patch)
			rm.PatchNames = append(rm.PatchNames, bp.Name)
		}

		// Processor patches to each neighbour
		if p < fc.NumPartitions {
			for _, q := range fc.Neighbours(p) {
				pick := fc.PickIndices[p][q]
				rm.RemotePartitions = append(rm.RemotePartitions, RemotePartition{
					PartitionID: q,
					Patch:       len(d.Patches),
					Tag:         comm.DefaultTag,
					SendCount:   len(pick.Indices),
					RecvCount:   len(fc.PickIndices[q][p].Indices),
				})
				d.Patches = append(d.Patches, primitive.PatchData{
					FaceCells: pick.Indices,
					Coupled:   true,
					Kind:      coupling.KindProcessor,
					NbrRank:   q,
					Tag:       comm.DefaultTag,
				})
				rm.PatchNames = append(rm.PatchNames, fmt.Sprintf("procBoundary%dto%d", p, q))
				rm.Metrics.ProcessorFaces += len(pick.Indices)
			}
		}

		rm.Data = d
		rm.Metrics.NumCells = d.NCells
		rm.Metrics.InternalFaces = len(d.Lower)
		rm.Metrics.NumNeighbors = len(rm.RemotePartitions)
		ranks[p] = rm
	}

	// Validate symmetry of communication
	if err := validateCommunicationSymmetry(ranks); err != nil {
		return nil, fmt.Errorf("asymmetric communication pattern: %v: %w", err, addressing.ErrInvalidTopology)
	}

	return ranks, nil
}

// Mesh builds the primitive mesh of this partition on c, whose rank must be
// the partition ID
func (rm *RankMesh) Mesh(c *comm.Comm) (*primitive.Mesh, error) {
	if c == nil || c.Rank() != rm.Partition {
		return nil, fmt.Errorf("partition %d built on the wrong rank: %w",
			rm.Partition, comm.ErrCommunicationFailure)
	}
	d := rm.Data
	patchAddr := make([][]int, len(d.Patches))
	ifaces := make([]coupling.Interface, len(d.Patches))
	for patchi, pd := range d.Patches {
		patchAddr[patchi] = pd.FaceCells
		if !pd.Coupled {
			continue
		}
		p, err := coupling.NewProcessor(c, patchi, pd.NbrRank, pd.Tag, pd.FaceCells)
		if err != nil {
			return nil, err
		}
		ifaces[patchi] = p
	}
	return primitive.New(c, d.NCells, d.Lower, d.Upper, patchAddr, ifaces, nil)
}

// LocalField picks the values of this partition's cells from a global field
func (rm *RankMesh) LocalField(global []float64) []float64 {
	local := make([]float64, len(rm.CellMap))
	for i, g := range rm.CellMap {
		local[i] = global[g]
	}
	return local
}

// validateCommunicationSymmetry verifies that if partition A sends to
// partition B, then partition B expects to receive from partition A, with the
// same tag and count
func validateCommunicationSymmetry(ranks []*RankMesh) error {
	type key struct{ from, to int }

	// Build send expectations
	sendMap := make(map[key]RemotePartition)
	for senderID, rm := range ranks {
		for _, rp := range rm.RemotePartitions {
			sendMap[key{senderID, rp.PartitionID}] = rp
		}
	}

	// Verify receive expectations match
	for receiverID, rm := range ranks {
		for _, rp := range rm.RemotePartitions {
			sent, exists := sendMap[key{rp.PartitionID, receiverID}]
			if !exists {
				return fmt.Errorf("partition %d expects to receive from %d, but %d doesn't send",
					receiverID, rp.PartitionID, rp.PartitionID)
			}
			if sent.SendCount != rp.RecvCount {
				return fmt.Errorf("count mismatch: partition %d sends %d to %d, but %d expects %d",
					rp.PartitionID, sent.SendCount, receiverID, receiverID, rp.RecvCount)
			}
			if sent.Tag != rp.Tag {
				return fmt.Errorf("tag mismatch between partitions %d and %d: %d != %d",
					rp.PartitionID, receiverID, sent.Tag, rp.Tag)
			}
		}
	}

	return nil
}

// FromBoxMesh describes a structured box mesh for partitioning
func FromBoxMesh(bm *utils.BoxMesh) *GlobalMesh {
	gm := &GlobalMesh{
		NCells:  bm.NCells,
		Lower:   bm.Lower,
		Upper:   bm.Upper,
		Centres: bm.Centres,
	}
	for i, name := range bm.PatchNames {
		gm.Patches = append(gm.Patches, BoundaryPatch{Name: name, FaceCells: bm.PatchCells[i]})
	}
	return gm
}
