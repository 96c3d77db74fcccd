/*
 *  graph_test.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor_test

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanghaibao/scanchor"
)

// link makes n anchors pairing cell i of d1 with cell i of d2
func link(d1, d2, n int, score float64) []scanchor.Anchor {
	res := make([]scanchor.Anchor, n)
	for i := range res {
		res[i] = scanchor.Anchor{Dataset1: d1, Cell1: i, Dataset2: d2, Cell2: i, Score: score}
	}
	return res
}

func TestAnchorSetAdd(t *testing.T) {
	set := scanchor.NewAnchorSet([]string{"a", "b", "c"}, []int{5, 5, 5})
	set.Add(
		scanchor.Anchor{Dataset1: 1, Cell1: 2, Dataset2: 0, Cell2: 3, Score: 0.2},
		scanchor.Anchor{Dataset1: 0, Cell1: 3, Dataset2: 1, Cell2: 2, Score: 0.7},
		scanchor.Anchor{Dataset1: 0, Cell1: 3, Dataset2: 1, Cell2: 2, Score: 0.4},
		scanchor.Anchor{Dataset1: 2, Cell1: 0, Dataset2: 1, Cell2: 0, Score: 1},
	)
	require.Equal(t, 2, set.Len())
	assert.Equal(t, scanchor.Anchor{Dataset1: 0, Cell1: 3, Dataset2: 1, Cell2: 2, Score: 0.7}, set.Anchors[0])
	assert.Equal(t, scanchor.Anchor{Dataset1: 1, Cell1: 0, Dataset2: 2, Cell2: 0, Score: 1}, set.Anchors[1])
	assert.Equal(t, 1, set.Counts[0][1])
	assert.Equal(t, 1, set.Counts[1][0])
	assert.Equal(t, 1, set.Counts[2][1])
	assert.Equal(t, 0, set.Counts[0][2])
	assert.Equal(t, []int{1, 2, 1}, set.AnchoredCells())
	assert.NoError(t, set.Validate())
}

func TestAnchorSetValidate(t *testing.T) {
	set := scanchor.NewAnchorSet([]string{"a", "b"}, []int{3, 3})
	set.Add(scanchor.Anchor{Dataset1: 0, Cell1: 3, Dataset2: 1, Cell2: 0, Score: 0.5})
	assert.Error(t, set.Validate())

	set = scanchor.NewAnchorSet([]string{"a", "b"}, []int{3, 3})
	set.Add(scanchor.Anchor{Dataset1: 0, Cell1: 0, Dataset2: 1, Cell2: 0, Score: 1.5})
	assert.Error(t, set.Validate())

	set = scanchor.NewAnchorSet([]string{"a", "b"}, []int{3, 3})
	set.Add(scanchor.Anchor{Dataset1: 1, Cell1: 0, Dataset2: 1, Cell2: 1, Score: 0.5})
	assert.Error(t, set.Validate())
}

func TestAnchorSetAddUnknownDataset(t *testing.T) {
	set := scanchor.NewAnchorSet([]string{"a", "b"}, []int{3, 3})
	err := set.Add(
		scanchor.Anchor{Dataset1: 0, Cell1: 0, Dataset2: 5, Cell2: 0, Score: 0.5},
		scanchor.Anchor{Dataset1: -1, Cell1: 0, Dataset2: 1, Cell2: 0, Score: 0.5},
		scanchor.Anchor{Dataset1: 0, Cell1: 1, Dataset2: 1, Cell2: 2, Score: 0.5},
	)
	assert.Error(t, err)
	// The valid anchor still goes in
	assert.Equal(t, 1, set.Len())
	assert.Equal(t, 1, set.Counts[0][1])
	assert.NoError(t, set.Validate())
}

func TestAnchorSetCapPerCell(t *testing.T) {
	set := scanchor.NewAnchorSet([]string{"a", "b"}, []int{2, 3})
	set.Add(
		scanchor.Anchor{Dataset1: 0, Cell1: 0, Dataset2: 1, Cell2: 0, Score: 0.9},
		scanchor.Anchor{Dataset1: 0, Cell1: 0, Dataset2: 1, Cell2: 2, Score: 0.5},
		scanchor.Anchor{Dataset1: 0, Cell1: 0, Dataset2: 1, Cell2: 1, Score: 0.5},
		scanchor.Anchor{Dataset1: 0, Cell1: 1, Dataset2: 1, Cell2: 1, Score: 0.8},
	)

	one := set.CapPerCell(1)
	assert.Equal(t, []scanchor.Anchor{
		{Dataset1: 0, Cell1: 0, Dataset2: 1, Cell2: 0, Score: 0.9},
		{Dataset1: 0, Cell1: 1, Dataset2: 1, Cell2: 1, Score: 0.8},
	}, one.Anchors)

	// The tie at cell a/0 goes to the lower partner b/1
	two := set.CapPerCell(2)
	assert.Equal(t, []scanchor.Anchor{
		{Dataset1: 0, Cell1: 0, Dataset2: 1, Cell2: 0, Score: 0.9},
		{Dataset1: 0, Cell1: 0, Dataset2: 1, Cell2: 1, Score: 0.5},
		{Dataset1: 0, Cell1: 1, Dataset2: 1, Cell2: 1, Score: 0.8},
	}, two.Anchors)

	assert.Equal(t, 4, set.CapPerCell(0).Len())
	assert.Equal(t, 4, set.Len(), "capping must not touch the input")
}

func TestAnchorSetFloorMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a higher floor keeps a subset", prop.ForAll(
		func(seed int64, low, high float64) bool {
			if low > high {
				low, high = high, low
			}
			rng := rand.New(rand.NewSource(seed))
			set := scanchor.NewAnchorSet([]string{"a", "b"}, []int{20, 20})
			for i := 0; i < 40; i++ {
				set.Add(scanchor.Anchor{Dataset1: 0, Cell1: rng.Intn(20), Dataset2: 1,
					Cell2: rng.Intn(20), Score: rng.Float64()})
			}
			loose := map[[2]int]bool{}
			for _, an := range set.Floor(low).Anchors {
				loose[[2]int{an.Cell1, an.Cell2}] = true
			}
			for _, an := range set.Floor(high).Anchors {
				if !loose[[2]int{an.Cell1, an.Cell2}] || an.Score < high {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

func TestAnchorSetBetween(t *testing.T) {
	set := scanchor.NewAnchorSet([]string{"a", "b", "c"}, []int{5, 5, 5})
	set.Add(
		scanchor.Anchor{Dataset1: 0, Cell1: 1, Dataset2: 1, Cell2: 2, Score: 0.5},
		scanchor.Anchor{Dataset1: 1, Cell1: 3, Dataset2: 2, Cell2: 4, Score: 0.6},
		scanchor.Anchor{Dataset1: 0, Cell1: 0, Dataset2: 2, Cell2: 0, Score: 0.7},
	)
	got := set.Between(scanchor.Group{2}, scanchor.Group{0, 1})
	assert.Equal(t, []scanchor.Anchor{
		{Dataset1: 2, Cell1: 4, Dataset2: 1, Cell2: 3, Score: 0.6},
		{Dataset1: 2, Cell1: 0, Dataset2: 0, Cell2: 0, Score: 0.7},
	}, got)
	assert.Empty(t, set.Between(scanchor.Group{0}, scanchor.Group{0}))
}
