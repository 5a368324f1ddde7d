package schedule

import (
	"fmt"

	"github.com/notargets/ldumesh/comm"
)

// Simulate executes every rank's schedule against a model transport and
// reports whether the set can complete. Init on a processor patch sends one
// message to its neighbour, Evaluate receives one. Each directed rank pair has a
// buffer of capacity messages (0 means unbounded); a full buffer blocks the
// sender, an empty one blocks the receiver. A receive that finds a message with
// another tag at the head of its buffer is a protocol error, and a state where
// no rank can advance is a deadlock
func Simulate[P Patch](schedules []Schedule, patches [][]P, capacity int) error {
	nRanks := len(schedules)
	if len(patches) != nRanks {
		return fmt.Errorf("%d schedules for %d ranks", nRanks, len(patches))
	}
	type channel struct{ src, dst int }
	buffers := make(map[channel][]int)
	pc := make([]int, nRanks)

	done := func(rank int) bool { return pc[rank] >= len(schedules[rank]) }
	for {
		progress, finished := false, true
		for rank := 0; rank < nRanks; rank++ {
			for !done(rank) {
				e := schedules[rank][pc[rank]]
				if e.Patch < 0 || e.Patch >= len(patches[rank]) || isNil(patches[rank][e.Patch]) {
					return fmt.Errorf("rank %d entry %v: %w", rank, e, comm.ErrProtocolMismatch)
				}
				p := patches[rank][e.Patch]
				nbr := p.NeighbourRank()
				if nbr < 0 || nbr == rank {
					pc[rank]++
					progress = true
					continue
				}
				if nbr >= nRanks {
					return fmt.Errorf("rank %d patch %d: neighbour %d of %d ranks: %w",
						rank, e.Patch, nbr, nRanks, comm.ErrProtocolMismatch)
				}
				if e.Phase == Init {
					ch := channel{src: rank, dst: nbr}
					if capacity > 0 && len(buffers[ch]) >= capacity {
						break
					}
					buffers[ch] = append(buffers[ch], p.Tag())
				} else {
					ch := channel{src: nbr, dst: rank}
					q := buffers[ch]
					if len(q) == 0 {
						break
					}
					if capacity > 0 && q[0] != p.Tag() {
						return fmt.Errorf("rank %d patch %d expects tag %d from %d, peer sent tag %d: %w",
							rank, e.Patch, p.Tag(), nbr, q[0], comm.ErrProtocolMismatch)
					}
					if capacity > 0 {
						buffers[ch] = q[1:]
					} else if !removeTag(buffers, ch, p.Tag()) {
						break
					}
				}
				pc[rank]++
				progress = true
			}
			finished = finished && done(rank)
		}
		if finished {
			return nil
		}
		if !progress {
			for rank := 0; rank < nRanks; rank++ {
				if !done(rank) {
					return fmt.Errorf("deadlock: rank %d blocked at entry %d (%v): %w",
						rank, pc[rank], schedules[rank][pc[rank]], comm.ErrCommunicationFailure)
				}
			}
		}
	}
}

// removeTag takes the first message with tag from an unbounded buffer, which
// models tag-matched non-blocking receives
func removeTag[K comparable](buffers map[K][]int, ch K, tag int) bool {
	q := buffers[ch]
	for i, t := range q {
		if t == tag {
			buffers[ch] = append(q[:i:i], q[i+1:]...)
			return true
		}
	}
	return false
}
