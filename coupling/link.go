package coupling

import (
	"fmt"

	"github.com/notargets/ldumesh/comm"
	"gonum.org/v1/gonum/spatial/r3"
)

// link is the point-to-point part shared by Processor and Generic
type link struct {
	c          *comm.Comm
	index      int
	nbrRank    int
	tag        int
	faceCells  []int
	compressed bool

	recv *comm.Request
}

func newLink(c *comm.Comm, index, nbrRank, tag int, faceCells []int) (link, error) {
	if c == nil {
		return link{}, fmt.Errorf("patch %d: nil communicator: %w", index, comm.ErrCommunicationFailure)
	}
	if nbrRank < 0 || nbrRank >= c.Size() || nbrRank == c.Rank() {
		return link{}, fmt.Errorf("patch %d: neighbour rank %d invalid for rank %d of %d: %w",
			index, nbrRank, c.Rank(), c.Size(), comm.ErrCommunicationFailure)
	}
	if err := checkFaceCells(faceCells); err != nil {
		return link{}, fmt.Errorf("patch %d: %w", index, err)
	}
	return link{c: c, index: index, nbrRank: nbrRank, tag: tag, faceCells: faceCells}, nil
}

func (l *link) NeighbourRank() int   { return l.nbrRank }
func (l *link) Tag() int             { return l.tag }
func (l *link) Index() int           { return l.index }
func (l *link) FaceCells() []int     { return l.faceCells }
func (l *link) Size() int            { return len(l.faceCells) }
func (l *link) ForwardT() []*r3.Mat  { return identities(len(l.faceCells)) }
func (l *link) ReverseT() []*r3.Mat  { return identities(len(l.faceCells)) }
func (l *link) Parallel() bool       { return true }
func (l *link) Comm() *comm.Comm     { return l.c }
func (l *link) MyRank() int          { return l.c.Rank() }
func (l *link) Compressed() bool     { return l.compressed }
func (l *link) SetCompressed(b bool) { l.compressed = b }

// Owner reports whether this side has the lower rank of the pair
func (l *link) Owner() bool { return l.c.Rank() < l.nbrRank }

func (l *link) InterfaceInternalField(internal []float64, nComp int) []float64 {
	return gather(l.faceCells, internal, nComp)
}

// Send posts values to the neighbour. In non-blocking mode the matching
// receive is posted as well and completed by Receive or a WaitRequests
func (l *link) Send(ct comm.CommsType, values []float64) error {
	payload := comm.EncodeFloats(values, l.compressed)
	if ct == comm.NonBlocking {
		l.recv = l.c.IRecv(l.nbrRank, l.tag)
		return l.c.ISend(l.nbrRank, l.tag, payload).Wait()
	}
	return l.c.Send(l.nbrRank, l.tag, payload)
}

// Receive returns size values from the neighbour
func (l *link) Receive(ct comm.CommsType, size int) ([]float64, error) {
	var data []byte
	if ct == comm.NonBlocking {
		if l.recv == nil {
			return nil, fmt.Errorf("patch %d: receive without a posted request: %w",
				l.index, comm.ErrProtocolMismatch)
		}
		r := l.recv
		l.recv = nil
		if err := r.Wait(); err != nil {
			return nil, fmt.Errorf("patch %d: %w", l.index, err)
		}
		data = r.Data()
	} else {
		var err error
		if data, err = l.c.Recv(l.nbrRank, l.tag); err != nil {
			return nil, fmt.Errorf("patch %d: %w", l.index, err)
		}
	}
	values, err := comm.DecodeFloats(data, l.compressed)
	if err != nil {
		return nil, fmt.Errorf("patch %d from rank %d: %w", l.index, l.nbrRank, err)
	}
	if len(values) != size {
		return nil, fmt.Errorf("patch %d from rank %d: got %d values, want %d: %w",
			l.index, l.nbrRank, len(values), size, comm.ErrProtocolMismatch)
	}
	return values, nil
}

func (l *link) InitInternalFieldTransfer(ct comm.CommsType, internal []float64, nComp int) error {
	return l.Send(ct, l.InterfaceInternalField(internal, nComp))
}

func (l *link) InternalFieldTransfer(ct comm.CommsType, nComp int) ([]float64, error) {
	return l.Receive(ct, len(l.faceCells)*nComp)
}

// Processor couples a mesh patch to the matching patch on another rank. Both
// sides list their faces in the same order
type Processor struct {
	link
}

// NewProcessor returns a processor interface for patch index of the calling
// rank, coupled to nbrRank's patch with the same tag
func NewProcessor(c *comm.Comm, index, nbrRank, tag int, faceCells []int) (*Processor, error) {
	l, err := newLink(c, index, nbrRank, tag, faceCells)
	if err != nil {
		return nil, err
	}
	return &Processor{link: l}, nil
}

func (*Processor) Kind() Kind { return KindProcessor }
func (*Processor) sealed()    {}

// Generic is the bare processor coupling built by the mesh assemblers from an
// explicit face-cell list. It exchanges like a Processor; the kind marks
// patches whose faces come from agglomerated or extended face tables rather
// than from a decomposition, so their face order is the assembler's
type Generic struct {
	link
}

// NewGeneric returns a generic interface for patch index, coupled to
// nbrRank's patch with the same tag. Both sides must list faceCells in the
// order their assembler derived
func NewGeneric(c *comm.Comm, index, nbrRank, tag int, faceCells []int) (*Generic, error) {
	l, err := newLink(c, index, nbrRank, tag, faceCells)
	if err != nil {
		return nil, err
	}
	return &Generic{link: l}, nil
}

func (*Generic) Kind() Kind { return KindGeneric }
func (*Generic) sealed()    {}
