package meshtomesh

import (
	"testing"

	"github.com/notargets/ldumesh/comm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDistribute(t *testing.T) {
	got := make([][]int, 3)
	collected := make([][][]int, 3)
	err := comm.Run(3, func(c *comm.Comm) error {
		me := c.Rank()
		values := []int{10 * me, 10*me + 1, 10*me + 2}

		// Keep item 0, send item 1 and 2 to the next rank and item 2 to the
		// previous one
		sub := make([][]int, 3)
		sub[me] = []int{0}
		sub[(me+1)%3] = append(sub[(me+1)%3], 1, 2)
		sub[(me+2)%3] = append(sub[(me+2)%3], 2)
		md, err := NewMapDistribute(c, sub, distributeTag)
		if err != nil {
			return err
		}
		assert.Equal(t, 4, md.ConstructSize)
		assert.Equal(t, 3, md.NSent())

		out, err := Distribute(md, values)
		if err != nil {
			return err
		}
		got[me] = out

		// Send every constructed item back negated
		neg := make([]int, len(out))
		for k, v := range out {
			neg[k] = -v
		}
		back, err := Collect(md, neg)
		if err != nil {
			return err
		}
		collected[me] = back
		return nil
	})
	require.NoError(t, err)

	// Rank 1 gets, in source rank order: 0's items 1 and 2, its own item 0,
	// and 2's item 2
	assert.Equal(t, []int{1, 2, 10, 22}, got[1])
	assert.Equal(t, []int{0, 12, 21, 22}, got[0])
	for me, back := range collected {
		assert.Equal(t, []int{-10 * me}, back[me])
		assert.Equal(t, []int{-(10*me + 1), -(10*me + 2)}, back[(me+1)%3])
		assert.Equal(t, []int{-(10*me + 2)}, back[(me+2)%3])
	}
}

func TestMapDistribute_Errors(t *testing.T) {
	err := comm.Run(2, func(c *comm.Comm) error {
		_, err := NewMapDistribute(c, [][]int{{0}}, distributeTag)
		assert.ErrorIs(t, err, comm.ErrProtocolMismatch)

		md := localMapDistribute(c, 2, distributeTag)
		_, err = Collect(md, []int{1})
		assert.ErrorIs(t, err, comm.ErrProtocolMismatch)
		out, err := Distribute(md, []string{"a", "b"})
		assert.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, out)
		return nil
	})
	require.NoError(t, err)
}
