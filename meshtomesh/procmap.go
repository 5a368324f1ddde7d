package meshtomesh

import (
	"github.com/notargets/ldumesh/comm"
	"gonum.org/v1/gonum/spatial/r3"
)

// procBox is the extent of one rank's part of a mesh
type procBox struct {
	Empty bool
	Box   r3.Box
	Bins  []r3.Box // Occupied LOD bins; the whole box under AABB
}

// newProcBox bounds the cells of g; under LOD the bounding box is split
// into 2^levels bins per axis and every occupied bin is shrunk to its cells
func newProcBox(g Geometry, method ProcMapMethod, levels int) procBox {
	n := g.NCells()
	if n == 0 {
		return procBox{Empty: true}
	}
	box := g.CellBox(0)
	for i := 1; i < n; i++ {
		box = unionBox(box, g.CellBox(i))
	}
	pb := procBox{Box: box}
	if method != LOD || levels <= 0 {
		pb.Bins = []r3.Box{box}
		return pb
	}

	nDiv := 1 << levels
	size := r3.Sub(box.Max, box.Min)
	bin := func(x, lo, extent float64) int {
		if extent <= 0 {
			return 0
		}
		return min(int(float64(nDiv)*(x-lo)/extent), nDiv-1)
	}
	bins := make(map[int]r3.Box)
	var order []int
	for i := range n {
		c := g.CellCentre(i)
		k := bin(c.X, box.Min.X, size.X) + nDiv*(bin(c.Y, box.Min.Y, size.Y)+nDiv*bin(c.Z, box.Min.Z, size.Z))
		if b, ok := bins[k]; ok {
			bins[k] = unionBox(b, g.CellBox(i))
			continue
		}
		bins[k] = g.CellBox(i)
		order = append(order, k)
	}
	for _, k := range order {
		pb.Bins = append(pb.Bins, bins[k])
	}
	return pb
}

// overlapsBox reports whether b overlaps any bin of pb
func (pb procBox) overlapsBox(b r3.Box) bool {
	if pb.Empty || !overlaps(pb.Box, b) {
		return false
	}
	for _, bin := range pb.Bins {
		if overlaps(bin, b) {
			return true
		}
	}
	return false
}

func (pb procBox) overlapsProc(o procBox) bool {
	if pb.Empty || o.Empty {
		return false
	}
	for _, b := range o.Bins {
		if pb.overlapsBox(b) {
			return true
		}
	}
	return false
}

// procMap is the distribution of both meshes over the communicator
type procMap struct {
	src, tgt []procBox

	// singleMeshProc is the only rank holding cells of either mesh, or -1
	singleMeshProc int
}

// calcProcMap gathers the rank extents of both meshes. Collective
func calcProcMap(c *comm.Comm, src, tgt Geometry, opts Options) (*procMap, error) {
	type extents struct{ Src, Tgt procBox }
	all, err := comm.AllGather(c, extents{
		Src: newProcBox(src, opts.ProcMapMethod, opts.LODLevels),
		Tgt: newProcBox(tgt, opts.ProcMapMethod, opts.LODLevels),
	})
	if err != nil {
		return nil, err
	}
	pm := &procMap{src: make([]procBox, len(all)), tgt: make([]procBox, len(all)), singleMeshProc: -1}
	holders := map[int]bool{}
	for q, e := range all {
		pm.src[q], pm.tgt[q] = e.Src, e.Tgt
		if !e.Src.Empty || !e.Tgt.Empty {
			holders[q] = true
		}
	}
	if len(holders) == 1 {
		for q := range holders {
			pm.singleMeshProc = q
		}
	}
	return pm, nil
}

// overlappingPairs lists, per source rank, the target ranks its extent
// overlaps
func (pm *procMap) overlappingPairs() [][]int {
	pairs := make([][]int, len(pm.src))
	for s, sb := range pm.src {
		for t, tb := range pm.tgt {
			if sb.overlapsProc(tb) {
				pairs[s] = append(pairs[s], t)
			}
		}
	}
	return pairs
}

// subMap lists, per target rank, the local source cells overlapping its
// extent
func (pm *procMap) subMap(myRank int, src Geometry) [][]int {
	sub := make([][]int, len(pm.tgt))
	for _, t := range pm.overlappingPairs()[myRank] {
		for i := range src.NCells() {
			if pm.tgt[t].overlapsBox(src.CellBox(i)) {
				sub[t] = append(sub[t], i)
			}
		}
	}
	return sub
}
