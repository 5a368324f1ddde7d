package meshtomesh

import (
	"fmt"

	"github.com/notargets/ldumesh/comm"
)

// MapDistribute is a plan for gathering, on each rank, the items other ranks
// hold that it needs. Constructed items are laid out by source rank, then in
// SubMap order
type MapDistribute struct {
	comm *comm.Comm
	tag  int

	SubMap        [][]int // Per rank: local items sent to that rank
	ConstructMap  [][]int // Per rank: constructed positions filled from that rank
	ConstructSize int
}

// NewMapDistribute exchanges the send counts of subMap and lays out the
// constructed items. Collective
func NewMapDistribute(c *comm.Comm, subMap [][]int, tag int) (*MapDistribute, error) {
	if len(subMap) != c.Size() {
		return nil, fmt.Errorf("sub map for %d ranks on %d: %w", len(subMap), c.Size(), comm.ErrProtocolMismatch)
	}
	counts := make([]int, c.Size())
	for q, sub := range subMap {
		counts[q] = len(sub)
	}
	all, err := comm.AllGather(c, counts)
	if err != nil {
		return nil, err
	}
	recv := make([]int, c.Size())
	for q := range all {
		recv[q] = all[q][c.Rank()]
	}
	return newMapDistribute(c, subMap, recv, tag), nil
}

// localMapDistribute keeps n items on this rank without communicating
func localMapDistribute(c *comm.Comm, n, tag int) *MapDistribute {
	subMap := make([][]int, c.Size())
	subMap[c.Rank()] = make([]int, n)
	for i := range n {
		subMap[c.Rank()][i] = i
	}
	recv := make([]int, c.Size())
	recv[c.Rank()] = n
	return newMapDistribute(c, subMap, recv, tag)
}

func newMapDistribute(c *comm.Comm, subMap [][]int, recv []int, tag int) *MapDistribute {
	md := &MapDistribute{comm: c, tag: tag, SubMap: subMap, ConstructMap: make([][]int, c.Size())}
	for q, n := range recv {
		md.ConstructMap[q] = make([]int, n)
		for i := range n {
			md.ConstructMap[q][i] = md.ConstructSize
			md.ConstructSize++
		}
	}
	return md
}

// NSent is the number of items sent to other ranks
func (md *MapDistribute) NSent() int {
	n := 0
	for q, sub := range md.SubMap {
		if q != md.comm.Rank() {
			n += len(sub)
		}
	}
	return n
}

// Distribute sends values[SubMap[q]] to every rank q and returns the
// constructed items. Collective
func Distribute[T any](md *MapDistribute, values []T) ([]T, error) {
	c, me := md.comm, md.comm.Rank()
	for q, sub := range md.SubMap {
		if q == me || len(sub) == 0 {
			continue
		}
		send := make([]T, len(sub))
		for i, j := range sub {
			send[i] = values[j]
		}
		if err := comm.SendValue(c, q, md.tag, send); err != nil {
			return nil, err
		}
	}
	out := make([]T, md.ConstructSize)
	for i, j := range md.SubMap[me] {
		out[md.ConstructMap[me][i]] = values[j]
	}
	for q, cons := range md.ConstructMap {
		if q == me || len(cons) == 0 {
			continue
		}
		var recv []T
		if err := comm.RecvValue(c, q, md.tag, &recv); err != nil {
			return nil, err
		}
		if len(recv) != len(cons) {
			return nil, fmt.Errorf("received %d items from rank %d, expected %d: %w",
				len(recv), q, len(cons), comm.ErrProtocolMismatch)
		}
		for i, k := range cons {
			out[k] = recv[i]
		}
	}
	return out, nil
}

// Collect is the reverse of Distribute: every rank returns one value per
// constructed item to the rank it came from. The result holds, per rank q,
// the values for SubMap[q]. Collective
func Collect[T any](md *MapDistribute, constructed []T) ([][]T, error) {
	if len(constructed) != md.ConstructSize {
		return nil, fmt.Errorf("collect %d values, constructed %d: %w",
			len(constructed), md.ConstructSize, comm.ErrProtocolMismatch)
	}
	c, me := md.comm, md.comm.Rank()
	for q, cons := range md.ConstructMap {
		if q == me || len(cons) == 0 {
			continue
		}
		send := make([]T, len(cons))
		for i, k := range cons {
			send[i] = constructed[k]
		}
		if err := comm.SendValue(c, q, md.tag+1, send); err != nil {
			return nil, err
		}
	}
	out := make([][]T, len(md.SubMap))
	out[me] = make([]T, len(md.SubMap[me]))
	for i, k := range md.ConstructMap[me] {
		out[me][i] = constructed[k]
	}
	for q, sub := range md.SubMap {
		if q == me || len(sub) == 0 {
			continue
		}
		if err := comm.RecvValue(c, q, md.tag+1, &out[q]); err != nil {
			return nil, err
		}
		if len(out[q]) != len(sub) {
			return nil, fmt.Errorf("collected %d items from rank %d, sent %d: %w",
				len(out[q]), q, len(sub), comm.ErrProtocolMismatch)
		}
	}
	return out, nil
}
