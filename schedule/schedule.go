// Package schedule orders the initialisation and evaluation of coupled
// interfaces. A schedule is a flat list of (patch, phase) entries walked by the
// field layer; it either lets every exchange be in flight at once
// (NonBlocking) or imposes rounds in which each rank talks to at most one peer
// (Scheduled)
package schedule

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/notargets/ldumesh/comm"
)

// Phase is the step of a coupled exchange a schedule entry triggers
type Phase uint8

const (
	Init     Phase = iota // post the send / start the transfer
	Evaluate              // complete the receive and consume the data
)

func (p Phase) String() string {
	if p == Init {
		return "init"
	}
	return "evaluate"
}

// Entry is one step of a schedule
type Entry struct {
	Patch int
	Phase Phase
}

// Equal compares entries structurally
func (e Entry) Equal(o Entry) bool { return e.Patch == o.Patch && e.Phase == o.Phase }

func (e Entry) String() string { return fmt.Sprintf("%d:%s", e.Patch, e.Phase) }

// Schedule is the ordered list of entries for one rank
type Schedule []Entry

// Patch is the scheduling view of a coupled interface. NeighbourRank is -1 for
// couplings that stay on this rank (cyclic patches)
type Patch interface {
	NeighbourRank() int
	Tag() int
}

func isNil[P Patch](p P) bool { return any(p) == nil }

// NonBlocking returns a schedule with every Init entry before every Evaluate
// entry. Uncoupled patches are passed as nil and skipped
func NonBlocking[P Patch](patches []P) Schedule {
	var sched Schedule
	for patchi, p := range patches {
		if !isNil(p) {
			sched = append(sched, Entry{Patch: patchi, Phase: Init})
		}
	}
	for patchi, p := range patches {
		if !isNil(p) {
			sched = append(sched, Entry{Patch: patchi, Phase: Evaluate})
		}
	}
	return sched
}

// Scheduled returns the schedule for myRank given the round of every rank pair
// (see Colour). Local couplings come first; processor patches follow round by
// round, and patches to the same peer are ordered by tag so both sides walk
// them identically. Each patch is initialised and evaluated back to back
func Scheduled[P Patch](myRank int, patches []P, rounds map[Link]int) (Schedule, error) {
	type item struct {
		patch, round, nbr, tag int
	}
	var local, remote []item
	for patchi, p := range patches {
		if isNil(p) {
			continue
		}
		nbr := p.NeighbourRank()
		if nbr < 0 || nbr == myRank {
			local = append(local, item{patch: patchi})
			continue
		}
		round, ok := rounds[NewLink(myRank, nbr)]
		if !ok {
			return nil, fmt.Errorf("patch %d: no round for ranks (%d,%d): %w",
				patchi, myRank, nbr, comm.ErrProtocolMismatch)
		}
		remote = append(remote, item{patch: patchi, round: round, nbr: nbr, tag: p.Tag()})
	}
	slices.SortStableFunc(remote, func(a, b item) int {
		return cmp.Or(cmp.Compare(a.round, b.round), cmp.Compare(a.nbr, b.nbr), cmp.Compare(a.tag, b.tag))
	})
	sched := make(Schedule, 0, 2*(len(local)+len(remote)))
	for _, it := range append(local, remote...) {
		sched = append(sched, Entry{Patch: it.patch, Phase: Init}, Entry{Patch: it.patch, Phase: Evaluate})
	}
	return sched, nil
}

// Validate checks that every coupled patch appears exactly once as Init and
// once as Evaluate, Init first, and that no entry names an uncoupled or unknown
// patch
func Validate[P Patch](sched Schedule, patches []P) error {
	initAt := make(map[int]int)
	evalAt := make(map[int]int)
	for i, e := range sched {
		if e.Patch < 0 || e.Patch >= len(patches) || isNil(patches[e.Patch]) {
			return fmt.Errorf("entry %d names patch %d which is not coupled here: %w",
				i, e.Patch, comm.ErrProtocolMismatch)
		}
		seen := initAt
		if e.Phase == Evaluate {
			seen = evalAt
		}
		if _, dup := seen[e.Patch]; dup {
			return fmt.Errorf("entry %d repeats %v: %w", i, e, comm.ErrProtocolMismatch)
		}
		seen[e.Patch] = i
	}
	for patchi, p := range patches {
		if isNil(p) {
			continue
		}
		ii, okI := initAt[patchi]
		ei, okE := evalAt[patchi]
		if !okI || !okE {
			return fmt.Errorf("patch %d missing init or evaluate: %w", patchi, comm.ErrProtocolMismatch)
		}
		if ii >= ei {
			return fmt.Errorf("patch %d evaluated before init: %w", patchi, comm.ErrProtocolMismatch)
		}
	}
	return nil
}
