package meshtomesh

import (
	"fmt"
	"math"

	"github.com/notargets/ldumesh/ami"
	"github.com/notargets/ldumesh/comm"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// Tags used for redistribution. Each MapDistribute uses two consecutive tags
const (
	distributeTag = 1 << 21
)

// CellWeight is one target contribution to a source cell
type CellWeight struct {
	Target CellRef
	Weight float64
}

// Interpolator holds the cell addressing between a source and a target mesh,
// both decomposed over one communicator. Every method that communicates must
// be called on all ranks
type Interpolator struct {
	comm     *comm.Comm
	opts     Options
	src, tgt Geometry
	valid    bool

	procs *procMap
	dist  *MapDistribute

	// Source cells received on this rank
	constructed []srcCell

	// Per local target cell: constructed source cells, weights and, for the
	// corrected method, centroid offsets
	SrcToTgtCellAddr [][]int
	SrcToTgtCellWght [][]float64
	SrcToTgtCellVec  [][]r3.Vec

	// Per local source cell: the target cells it maps to and their weights
	TgtToSrcCellAddr [][]CellRef
	TgtToSrcCellWght [][]float64

	// Per constructed source cell: local target cells and normalised weights
	tgtToSrcLocal  [][]int
	tgtToSrcWeight [][]float64

	v              float64
	minSum, maxSum float64
	patches        []*patchInterp
}

// New computes the addressing from src to tgt. Collective
func New(c *comm.Comm, src, tgt Geometry, opts Options) (*Interpolator, error) {
	for _, pp := range opts.Patches {
		if pp.Src < 0 || pp.Src >= src.NPatches() || pp.Tgt < 0 || pp.Tgt >= tgt.NPatches() {
			return nil, fmt.Errorf("patch pair %v out of range", pp)
		}
	}
	m := &Interpolator{comm: c, opts: opts, src: src, tgt: tgt}
	if err := m.Update(); err != nil {
		return nil, err
	}
	return m, nil
}

// SetGeometry replaces the meshes. The addressing is unmapped until Update
func (m *Interpolator) SetGeometry(src, tgt Geometry) {
	m.src, m.tgt = src, tgt
	m.valid = false
}

// Update rebuilds the whole addressing from the current geometry. Collective
func (m *Interpolator) Update() error {
	m.valid = false
	m.v = 0
	c := m.comm

	procs, err := calcProcMap(c, m.src, m.tgt, m.opts)
	if err != nil {
		return err
	}
	m.procs = procs

	// Redistribute the source cells each target rank overlaps
	if procs.singleMeshProc >= 0 {
		m.dist = localMapDistribute(c, m.src.NCells(), distributeTag)
	} else {
		m.dist, err = NewMapDistribute(c, procs.subMap(c.Rank(), m.src), distributeTag)
		if err != nil {
			return err
		}
	}
	local := make([]srcCell, m.src.NCells())
	for i := range local {
		local[i] = srcCell{
			Box:      m.src.CellBox(i),
			Centre:   m.src.CellCentre(i),
			Volume:   m.src.CellVolume(i),
			GlobalID: m.src.GlobalID(i),
			Origin:   CellRef{Rank: c.Rank(), Cell: i},
		}
	}
	if m.constructed, err = Distribute(m.dist, local); err != nil {
		return err
	}

	// Target cell addressing
	var cw []cellWeights
	switch m.opts.Method {
	case Direct:
		cw = calcDirect(m.constructed, m.tgt)
	case MapNearest:
		cw = calcMapNearest(m.constructed, m.tgt)
	case CellVolumeWeight, CorrectedCellVolumeWeight:
		cw, m.v = calcCellVolumeWeight(m.constructed, m.tgt, m.opts.Tolerance,
			m.opts.Method == CorrectedCellVolumeWeight)
	default:
		return fmt.Errorf("interpolation method %v not supported", m.opts.Method)
	}
	m.SrcToTgtCellAddr = make([][]int, len(cw))
	m.SrcToTgtCellWght = make([][]float64, len(cw))
	m.SrcToTgtCellVec = nil
	if m.opts.Method == CorrectedCellVolumeWeight {
		m.SrcToTgtCellVec = make([][]r3.Vec, len(cw))
	}
	for i, w := range cw {
		m.SrcToTgtCellAddr[i], m.SrcToTgtCellWght[i] = w.addr, w.weights
		if m.SrcToTgtCellVec != nil {
			m.SrcToTgtCellVec[i] = w.vecs
		}
		if !m.opts.Method.volumetric() && len(w.addr) > 0 {
			m.v += m.tgt.CellVolume(i)
		}
	}
	if m.opts.Consistent {
		normalise(m.SrcToTgtCellWght)
	}

	if err := m.calcTgtToSrc(); err != nil {
		return err
	}
	if err := m.calcPatches(); err != nil {
		return err
	}
	if err := m.diagnostics(); err != nil {
		return err
	}
	m.valid = true
	return nil
}

// calcTgtToSrc sends the reverse weights back to the source owners,
// normalises them there and returns the scaling to the target ranks
func (m *Interpolator) calcTgtToSrc() error {
	me := m.comm.Rank()
	reverse := make([][]CellWeight, len(m.constructed))
	m.tgtToSrcLocal = make([][]int, len(m.constructed))
	for i, addr := range m.SrcToTgtCellAddr {
		for _, k := range addr {
			w := 1.0
			if m.opts.Method.volumetric() {
				// Intersection volume over source cell volume
				w = boxVolume(intersectBox(m.constructed[k].Box, m.tgt.CellBox(i))) / m.constructed[k].Volume
			}
			reverse[k] = append(reverse[k], CellWeight{Target: CellRef{Rank: me, Cell: i}, Weight: w})
			m.tgtToSrcLocal[k] = append(m.tgtToSrcLocal[k], i)
		}
	}
	back, err := Collect(m.dist, reverse)
	if err != nil {
		return err
	}

	nSrc := m.src.NCells()
	m.TgtToSrcCellAddr = make([][]CellRef, nSrc)
	m.TgtToSrcCellWght = make([][]float64, nSrc)
	for q, sub := range m.dist.SubMap {
		for n, j := range sub {
			for _, cw := range back[q][n] {
				m.TgtToSrcCellAddr[j] = append(m.TgtToSrcCellAddr[j], cw.Target)
				m.TgtToSrcCellWght[j] = append(m.TgtToSrcCellWght[j], cw.Weight)
			}
		}
	}
	scale := make([]float64, nSrc)
	for j, w := range m.TgtToSrcCellWght {
		scale[j] = 1
		if sum := floats.Sum(w); sum > 0 && (m.opts.Consistent || !m.opts.Method.volumetric()) {
			scale[j] = 1 / sum
			floats.Scale(scale[j], w)
		}
	}
	scales, err := Distribute(m.dist, scale)
	if err != nil {
		return err
	}
	m.tgtToSrcWeight = make([][]float64, len(reverse))
	for k, r := range reverse {
		for _, cw := range r {
			m.tgtToSrcWeight[k] = append(m.tgtToSrcWeight[k], cw.Weight*scales[k])
		}
	}
	return nil
}

// normalise rescales every non-empty weight list to sum to one
func normalise(weights [][]float64) {
	for _, w := range weights {
		if sum := floats.Sum(w); sum > 0 {
			floats.Scale(1/sum, w)
		}
	}
}

// diagnostics reduces the overlap volume and the target weight sum range
// over all ranks and logs them
func (m *Interpolator) diagnostics() error {
	c := m.comm
	lo, hi := math.Inf(1), math.Inf(-1)
	nCovered := 0
	for _, w := range m.SrcToTgtCellWght {
		if len(w) == 0 {
			continue
		}
		s := floats.Sum(w)
		lo, hi = math.Min(lo, s), math.Max(hi, s)
		nCovered++
	}
	var err error
	if m.v, err = comm.AllReduceSum(c, m.v); err != nil {
		return err
	}
	if hi, err = comm.AllReduceMax(c, hi); err != nil {
		return err
	}
	negLo, err := comm.AllReduceMax(c, -lo)
	if err != nil {
		return err
	}
	m.minSum, m.maxSum = -negLo, hi
	c.Logger().Debug("mesh-to-mesh addressing",
		"method", m.opts.Method,
		"procMap", m.opts.ProcMapMethod,
		"singleMeshProc", m.procs.singleMeshProc,
		"sent", m.dist.NSent(),
		"constructed", m.dist.ConstructSize,
		"covered", nCovered,
		"targets", m.tgt.NCells(),
		"V", m.v,
		"minWeightSum", m.minSum,
		"maxWeightSum", m.maxSum)
	return nil
}

// V is the total overlap volume of the two meshes. For Direct and
// MapNearest it is the volume of the covered target cells
func (m *Interpolator) V() float64 { return m.v }

// WeightSumRange is the smallest and largest weight sum of any covered
// target cell on any rank
func (m *Interpolator) WeightSumRange() (lo, hi float64) { return m.minSum, m.maxSum }

// SingleMeshProc is the only rank holding cells of either mesh, or -1
func (m *Interpolator) SingleMeshProc() int { return m.procs.singleMeshProc }

// Distribution is the plan that ships source cells to target ranks
func (m *Interpolator) Distribution() *MapDistribute { return m.dist }

// ConstructedCells lists the source cells received on this rank
func (m *Interpolator) ConstructedCells() []CellRef {
	refs := make([]CellRef, len(m.constructed))
	for k, c := range m.constructed {
		refs[k] = c.Origin
	}
	return refs
}

// ConstructedGlobalID is the global id of constructed source cell k
func (m *Interpolator) ConstructedGlobalID(k int) int { return m.constructed[k].GlobalID }

// Coverage reports the state of local target cell i
func (m *Interpolator) Coverage(i int) Coverage {
	if !m.valid {
		return Unmapped
	}
	if len(m.SrcToTgtCellAddr[i]) == 0 {
		return Empty
	}
	return Covered
}

// SrcCoverage reports the state of local source cell j
func (m *Interpolator) SrcCoverage(j int) Coverage {
	if !m.valid {
		return Unmapped
	}
	if len(m.TgtToSrcCellAddr[j]) == 0 {
		return Empty
	}
	return Covered
}

// MapSrcToTgt maps a source cell field onto the target cells. Target cells
// with no overlap keep their value in tgtValues. Collective
func (m *Interpolator) MapSrcToTgt(srcValues, tgtValues []float64) error {
	if !m.valid {
		return ErrNotComputed
	}
	if len(srcValues) != m.src.NCells() || len(tgtValues) != m.tgt.NCells() {
		return fmt.Errorf("field sizes %d, %d for %d source and %d target cells",
			len(srcValues), len(tgtValues), m.src.NCells(), m.tgt.NCells())
	}
	values, err := Distribute(m.dist, srcValues)
	if err != nil {
		return err
	}
	for i, addr := range m.SrcToTgtCellAddr {
		if len(addr) == 0 {
			continue
		}
		sum := 0.0
		for n, k := range addr {
			sum += m.SrcToTgtCellWght[i][n] * values[k]
		}
		tgtValues[i] = sum
	}
	return nil
}

// MapTgtToSrc maps a target cell field onto the source cells. Source cells
// with no overlap keep their value in srcValues. Collective
func (m *Interpolator) MapTgtToSrc(tgtValues, srcValues []float64) error {
	if !m.valid {
		return ErrNotComputed
	}
	if len(srcValues) != m.src.NCells() || len(tgtValues) != m.tgt.NCells() {
		return fmt.Errorf("field sizes %d, %d for %d source and %d target cells",
			len(srcValues), len(tgtValues), m.src.NCells(), m.tgt.NCells())
	}
	partial := make([]float64, len(m.constructed))
	for k, cells := range m.tgtToSrcLocal {
		for n, i := range cells {
			partial[k] += m.tgtToSrcWeight[k][n] * tgtValues[i]
		}
	}
	back, err := Collect(m.dist, partial)
	if err != nil {
		return err
	}
	sums := make([]float64, len(srcValues))
	for q, sub := range m.dist.SubMap {
		for n, j := range sub {
			sums[j] += back[q][n]
		}
	}
	for j, addr := range m.TgtToSrcCellAddr {
		if len(addr) > 0 {
			srcValues[j] = sums[j]
		}
	}
	return nil
}

// patchInterp is the area-weighted interpolation between one pair of
// patches, built over the faces of all ranks
type patchInterp struct {
	pair       PatchPair
	ami        *ami.AMI
	srcOffsets []int
	tgtOffsets []int
}

// calcPatches builds the AMI of every patch pair. Collective
func (m *Interpolator) calcPatches() error {
	m.patches = m.patches[:0]
	for _, pp := range m.opts.Patches {
		srcFaces, srcOffsets, err := gatherFaces(m.comm, m.src.PatchFaces(pp.Src))
		if err != nil {
			return err
		}
		tgtFaces, tgtOffsets, err := gatherFaces(m.comm, m.tgt.PatchFaces(pp.Tgt))
		if err != nil {
			return err
		}
		a, err := ami.New(srcFaces, tgtFaces)
		if err != nil {
			return fmt.Errorf("patch pair %v: %w", pp, err)
		}
		if m.opts.Consistent {
			a.Normalise()
		}
		m.patches = append(m.patches, &patchInterp{pair: pp, ami: a, srcOffsets: srcOffsets, tgtOffsets: tgtOffsets})
	}
	return nil
}

// gatherFaces concatenates the faces of all ranks in rank order. offsets[q]
// is the first face of rank q
func gatherFaces(c *comm.Comm, faces []ami.Face) ([]ami.Face, []int, error) {
	all, err := comm.AllGather(c, faces)
	if err != nil {
		return nil, nil, err
	}
	var out []ami.Face
	offsets := make([]int, len(all)+1)
	for q, f := range all {
		out = append(out, f...)
		offsets[q+1] = len(out)
	}
	return out, offsets, nil
}

// PatchAMI is the interpolation of the n'th patch pair over all ranks
func (m *Interpolator) PatchAMI(n int) *ami.AMI { return m.patches[n].ami }

// MapSrcToTgtPatch maps a field on the local faces of the n'th source patch
// onto the local faces of its target patch. Faces with no overlap keep their
// value. Collective
func (m *Interpolator) MapSrcToTgtPatch(n int, srcValues, tgtValues []float64) error {
	if !m.valid {
		return ErrNotComputed
	}
	p := m.patches[n]
	me := m.comm.Rank()
	if len(srcValues) != p.srcOffsets[me+1]-p.srcOffsets[me] || len(tgtValues) != p.tgtOffsets[me+1]-p.tgtOffsets[me] {
		return fmt.Errorf("patch pair %v: field sizes %d, %d", p.pair, len(srcValues), len(tgtValues))
	}
	all, err := comm.AllGather(m.comm, srcValues)
	if err != nil {
		return err
	}
	var flat []float64
	for _, v := range all {
		flat = append(flat, v...)
	}
	mapped := p.ami.InterpolateToTarget(flat, 1)
	for f := range tgtValues {
		g := p.tgtOffsets[me] + f
		if len(p.ami.TgtAddress[g]) > 0 {
			tgtValues[f] = mapped[g]
		}
	}
	return nil
}
