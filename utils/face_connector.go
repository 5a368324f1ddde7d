package utils

import (
	"fmt"
)

// FaceConnector manages the pick indices of a partitioned LDU mesh: for every
// pair of partitions, the local cells whose values cross each cut face
type FaceConnector struct {
	// Mesh dimensions
	NumPartitions int
	NCells        int // Total cells
	NFaces        int // Total internal faces

	// Input connectivity
	Lower []int // Face -> lower cell
	Upper []int // Face -> upper cell
	CToP  []int // Cell -> partition mapping

	// Partition mappings
	CellsPerPartition []int   // Cells per partition
	GlobalToLocalCell []int   // globalCell -> local index within its partition
	LocalToGlobalCell [][]int // [partition][localCell] -> globalCell

	// Faces with both cells in one partition, per partition, in global order
	LocalFaces [][]int

	// Pick indices per partition pair
	PickIndices [][]PickBuffer // [sourcePartition][targetPartition]
}

// PickBuffer lists, in cut-face order, the local cells a partition sends to
// target and the global faces they sit on. Both sides of a pair list the same
// faces in the same order
type PickBuffer struct {
	Indices         []int // Local cell indices
	GlobalFaces     []int
	TargetPartition int
}

// NewFaceConnector creates a face connector from LDU connectivity
func NewFaceConnector(nCells int, lower, upper, cToP []int) (*FaceConnector, error) {
	// Validate inputs
	if nCells <= 0 {
		return nil, fmt.Errorf("invalid dimensions: nCells=%d", nCells)
	}
	if len(lower) != len(upper) {
		return nil, fmt.Errorf("lower length %d does not match upper length %d", len(lower), len(upper))
	}
	if len(cToP) != nCells {
		return nil, fmt.Errorf("CToP length %d does not match nCells=%d", len(cToP), nCells)
	}

	// Determine number of partitions
	numPartitions := 0
	for c, p := range cToP {
		if p < 0 {
			return nil, fmt.Errorf("cell %d has partition %d", c, p)
		}
		if p+1 > numPartitions {
			numPartitions = p + 1
		}
	}

	fc := &FaceConnector{
		NumPartitions: numPartitions,
		NCells:        nCells,
		NFaces:        len(lower),
		Lower:         lower,
		Upper:         upper,
		CToP:          cToP,
	}

	// Build partition mappings
	fc.buildPartitionMappings()

	// Initialize pick buffers
	fc.initializeBuffers()

	// Build indices
	if err := fc.BuildIndices(); err != nil {
		return nil, err
	}

	return fc, nil
}

// buildPartitionMappings numbers the cells of each partition in global order
func (fc *FaceConnector) buildPartitionMappings() {
	// Count cells per partition
	fc.CellsPerPartition = make([]int, fc.NumPartitions)
	for _, p := range fc.CToP {
		fc.CellsPerPartition[p]++
	}

	fc.GlobalToLocalCell = make([]int, fc.NCells)
	fc.LocalToGlobalCell = make([][]int, fc.NumPartitions)
	for p := 0; p < fc.NumPartitions; p++ {
		fc.LocalToGlobalCell[p] = make([]int, 0, fc.CellsPerPartition[p])
	}

	// Build mappings
	for globalCell := 0; globalCell < fc.NCells; globalCell++ {
		partition := fc.CToP[globalCell]
		fc.GlobalToLocalCell[globalCell] = len(fc.LocalToGlobalCell[partition])
		fc.LocalToGlobalCell[partition] = append(fc.LocalToGlobalCell[partition], globalCell)
	}
}

// initializeBuffers creates empty pick buffer structures
func (fc *FaceConnector) initializeBuffers() {
	fc.LocalFaces = make([][]int, fc.NumPartitions)
	fc.PickIndices = make([][]PickBuffer, fc.NumPartitions)
	for p := 0; p < fc.NumPartitions; p++ {
		fc.PickIndices[p] = make([]PickBuffer, fc.NumPartitions)
		for q := 0; q < fc.NumPartitions; q++ {
			fc.PickIndices[p][q] = PickBuffer{TargetPartition: q}
		}
	}
}

// BuildIndices sorts every face into its partition's local faces or the pick
// buffers of the two partitions it separates
func (fc *FaceConnector) BuildIndices() error {
	for face := 0; face < fc.NFaces; face++ {
		l, u := fc.Lower[face], fc.Upper[face]
		if l < 0 || l >= fc.NCells || u < 0 || u >= fc.NCells {
			return fmt.Errorf("face %d: cells (%d,%d) out of range %d", face, l, u, fc.NCells)
		}
		p, q := fc.CToP[l], fc.CToP[u]
		if p == q {
			fc.LocalFaces[p] = append(fc.LocalFaces[p], face)
			continue
		}

		// Partition p sends its lower cell to q, q sends its upper cell to p
		pb := &fc.PickIndices[p][q]
		pb.Indices = append(pb.Indices, fc.GlobalToLocalCell[l])
		pb.GlobalFaces = append(pb.GlobalFaces, face)

		qb := &fc.PickIndices[q][p]
		qb.Indices = append(qb.Indices, fc.GlobalToLocalCell[u])
		qb.GlobalFaces = append(qb.GlobalFaces, face)
	}
	return nil
}

// GetPickIndices returns pick indices for sending from source to target partition
func (fc *FaceConnector) GetPickIndices(sourcePartition, targetPartition int) []int {
	if sourcePartition < 0 || sourcePartition >= fc.NumPartitions ||
		targetPartition < 0 || targetPartition >= fc.NumPartitions {
		return nil
	}
	return fc.PickIndices[sourcePartition][targetPartition].Indices
}

// Neighbours returns the partitions p shares at least one face with, ascending
func (fc *FaceConnector) Neighbours(p int) []int {
	var nbrs []int
	for q := 0; q < fc.NumPartitions; q++ {
		if len(fc.PickIndices[p][q].Indices) > 0 {
			nbrs = append(nbrs, q)
		}
	}
	return nbrs
}

// Verify checks index validity and conservation properties
func (fc *FaceConnector) Verify() error {
	// Verify 1: Local validity - all pick indices are within bounds
	for p := 0; p < fc.NumPartitions; p++ {
		for q := 0; q < fc.NumPartitions; q++ {
			for _, idx := range fc.PickIndices[p][q].Indices {
				if idx < 0 || idx >= fc.CellsPerPartition[p] {
					return fmt.Errorf("invalid pick index %d for partition %d (max %d)",
						idx, p, fc.CellsPerPartition[p]-1)
				}
			}
		}
	}

	// Verify 2: Correspondence - both sides of a pair list the same faces
	for p := 0; p < fc.NumPartitions; p++ {
		for q := 0; q < fc.NumPartitions; q++ {
			a, b := fc.PickIndices[p][q].GlobalFaces, fc.PickIndices[q][p].GlobalFaces
			if len(a) != len(b) {
				return fmt.Errorf("length mismatch: pick[%d][%d]=%d, pick[%d][%d]=%d",
					p, q, len(a), q, p, len(b))
			}
			for k := range a {
				if a[k] != b[k] {
					return fmt.Errorf("face order mismatch between %d and %d at %d", p, q, k)
				}
			}
		}
	}

	// Verify 3: Conservation - every face is local once or cut twice
	totalPicks, totalLocal := 0, 0
	for p := 0; p < fc.NumPartitions; p++ {
		totalLocal += len(fc.LocalFaces[p])
		for q := 0; q < fc.NumPartitions; q++ {
			totalPicks += len(fc.PickIndices[p][q].Indices)
		}
	}
	if totalLocal+totalPicks/2 != fc.NFaces || totalPicks%2 != 0 {
		return fmt.Errorf("conservation error: %d local + %d picks != %d faces",
			totalLocal, totalPicks, fc.NFaces)
	}

	return nil
}
