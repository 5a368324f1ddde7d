package partitions

import (
	"fmt"
	"math"
)

// Partition is the set of global cells assigned to one rank
type Partition struct {
	// Unique identifier for this partition, equal to its rank
	ID int

	// Cell membership
	Cells    []int // Global cell indices in this partition, ascending
	NumCells int   // Number of cells
}

// PartitionLayout manages the complete mesh decomposition
type PartitionLayout struct {
	// All partitions in the mesh
	Partitions []Partition

	// Global sizing information
	TotalCells    int // Sum of all cells across partitions
	NumPartitions int // Total number of partitions

	// Cell to partition mapping
	CToP []int // Length TotalCells: cell k belongs to partition CToP[k]
}

// RemotePartition describes communication with the partition on another rank
type RemotePartition struct {
	PartitionID int // Neighbouring partition, equal to its rank
	Patch       int // Processor patch index in the local mesh
	Tag         int // Message tag of the processor patch

	SendCount int // Number of values sent per component
	RecvCount int // Number of values received per component
}

// PartitionMetrics tracks the computation and communication load of a partition
type PartitionMetrics struct {
	NumCells       int
	InternalFaces  int // Faces with both cells in the partition
	ProcessorFaces int // Faces shared with other partitions
	NumNeighbors   int // Number of connected partitions
}

// Methods for PartitionLayout

// GetPartition returns the partition containing cell k
func (pl *PartitionLayout) GetPartition(cellID int) int {
	if cellID < 0 || cellID >= len(pl.CToP) {
		return -1
	}
	return pl.CToP[cellID]
}

// ValidateLayout checks partition consistency
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("%d partitions, NumPartitions %d", len(pl.Partitions), pl.NumPartitions)
	}
	if len(pl.CToP) != pl.TotalCells {
		return fmt.Errorf("CToP length %d != TotalCells %d", len(pl.CToP), pl.TotalCells)
	}

	// Every cell appears once, in the partition CToP names
	total := 0
	for id, p := range pl.Partitions {
		if p.ID != id {
			return fmt.Errorf("partition %d has ID %d", id, p.ID)
		}
		if p.NumCells != len(p.Cells) {
			return fmt.Errorf("partition %d: NumCells %d != %d cells", id, p.NumCells, len(p.Cells))
		}
		for i, c := range p.Cells {
			if pl.GetPartition(c) != id {
				return fmt.Errorf("partition %d holds cell %d assigned to %d", id, c, pl.GetPartition(c))
			}
			if i > 0 && p.Cells[i-1] >= c {
				return fmt.Errorf("partition %d cells not ascending at %d", id, i)
			}
		}
		total += p.NumCells
	}
	if total != pl.TotalCells {
		return fmt.Errorf("partitions hold %d cells, TotalCells %d", total, pl.TotalCells)
	}
	return nil
}

// PartitionStatistics computes load balance metrics
func (pl *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: pl.NumPartitions,
		MinCells:      math.MaxInt32,
		MaxCells:      0,
		AvgCells:      float64(pl.TotalCells) / float64(pl.NumPartitions),
	}

	for _, p := range pl.Partitions {
		if p.NumCells < stats.MinCells {
			stats.MinCells = p.NumCells
		}
		if p.NumCells > stats.MaxCells {
			stats.MaxCells = p.NumCells
		}
	}

	stats.Imbalance = float64(stats.MaxCells) / stats.AvgCells

	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinCells      int
	MaxCells      int
	AvgCells      float64
	Imbalance     float64 // MaxCells / AvgCells
}
