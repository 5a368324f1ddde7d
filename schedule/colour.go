package schedule

import (
	"cmp"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/graph/coloring"
	"gonum.org/v1/gonum/graph/simple"
)

// Link is an unordered pair of communicating ranks, stored with A < B
type Link struct {
	A, B int
}

// NewLink orders the pair
func NewLink(a, b int) Link {
	if a > b {
		a, b = b, a
	}
	return Link{A: a, B: b}
}

// Links returns the distinct processor links of one rank, sorted
func Links[P Patch](myRank int, patches []P) []Link {
	var links []Link
	for _, p := range patches {
		if isNil(p) {
			continue
		}
		if nbr := p.NeighbourRank(); nbr >= 0 && nbr != myRank {
			links = append(links, NewLink(myRank, nbr))
		}
	}
	slices.SortFunc(links, compareLinks)
	return slices.Compact(links)
}

func compareLinks(a, b Link) int { return cmp.Or(cmp.Compare(a.A, b.A), cmp.Compare(a.B, b.B)) }

// Colour assigns every link a round so that no rank appears twice in a round:
// an edge colouring of the processor graph, computed as a Welsh-Powell vertex
// colouring of its line graph. Rounds are renumbered in order of first
// appearance in the sorted link list. The colouring is not guaranteed to be
// identical between calls, so one rank should compute it and broadcast
func Colour(links []Link) (map[Link]int, int, error) {
	links = slices.Clone(links)
	slices.SortFunc(links, compareLinks)
	links = slices.Compact(links)

	g := simple.NewUndirectedGraph()
	byRank := make(map[int][]int64)
	for i, l := range links {
		if l.A == l.B || l.A < 0 {
			return nil, 0, fmt.Errorf("invalid link %v", l)
		}
		g.AddNode(simple.Node(int64(i)))
		byRank[l.A] = append(byRank[l.A], int64(i))
		byRank[l.B] = append(byRank[l.B], int64(i))
	}
	// Links sharing a rank conflict
	for _, ids := range byRank {
		for i := range ids {
			for j := i + 1; j < len(ids); j++ {
				g.SetEdge(simple.Edge{F: simple.Node(ids[i]), T: simple.Node(ids[j])})
			}
		}
	}
	_, colours, err := coloring.WelshPowell(g, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("colour processor graph: %w", err)
	}

	renumber := make(map[int]int)
	rounds := make(map[Link]int, len(links))
	for i, l := range links {
		c := colours[int64(i)]
		r, ok := renumber[c]
		if !ok {
			r = len(renumber)
			renumber[c] = r
		}
		rounds[l] = r
	}
	if err := checkRounds(rounds); err != nil {
		return nil, 0, err
	}
	return rounds, len(renumber), nil
}

func checkRounds(rounds map[Link]int) error {
	busy := make(map[[2]int]Link)
	for l, r := range rounds {
		for _, rank := range []int{l.A, l.B} {
			if other, clash := busy[[2]int{rank, r}]; clash {
				return fmt.Errorf("rank %d in links %v and %v of round %d", rank, l, other, r)
			}
			busy[[2]int{rank, r}] = l
		}
	}
	return nil
}
