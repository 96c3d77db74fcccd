/*
 *  knn_test.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// randomMatrix draws n x p standard normal entries
func randomMatrix(rng *rand.Rand, n, p int) *mat.Dense {
	data := make([]float64, n*p)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(n, p, data)
}

// bruteForce ranks all rows of data by distance to q, ties by index
func bruteForce(data *mat.Dense, q []float64, k int) []int {
	rows := matRows(data)
	ids := make([]int, len(rows))
	for i := range ids {
		ids[i] = i
	}
	sort.SliceStable(ids, func(x, y int) bool {
		return floats.Distance(q, rows[ids[x]], 2) < floats.Distance(q, rows[ids[y]], 2)
	})
	return ids[:k]
}

func indices(nbs []Neighbor) []int {
	res := make([]int, len(nbs))
	for i, nb := range nbs {
		res[i] = nb.Index
	}
	return res
}

func TestExactSearchTies(t *testing.T) {
	data := mat.NewDense(4, 1, []float64{1, -1, 1, 3})
	idx, err := (&ExactSearcher{}).Build(data)
	require.NoError(t, err)

	nbs := idx.Search([]float64{0}, 2)
	assert.Equal(t, []int{0, 1}, indices(nbs))
	assert.Equal(t, 1.0, nbs[1].Distance)

	// k beyond the number of rows returns everything
	assert.Len(t, idx.Search([]float64{0}, 10), 4)
}

func TestExactSearchMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	data := randomMatrix(rng, 200, 6)
	queries := randomMatrix(rng, 20, 6)
	idx, _ := (&ExactSearcher{}).Build(data)
	for i := 0; i < 20; i++ {
		q := queries.RawRowView(i)
		assert.Equal(t, bruteForce(data, q, 7), indices(idx.Search(q, 7)))
	}
}

func TestKnnAllDropsSelf(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	data := randomMatrix(rng, 50, 3)
	idx, _ := (&ExactSearcher{}).Build(data)
	nbs, err := knnAll(context.Background(), idx, data, 5, true, 3)
	require.NoError(t, err)
	require.Len(t, nbs, 50)
	for i, list := range nbs {
		require.Len(t, list, 5)
		for _, nb := range list {
			assert.NotEqual(t, i, nb.Index)
		}
	}

	_, err = knnAll(context.Background(), idx, data, 50, true, 1)
	assert.Error(t, err)
}

func TestHNSWRecall(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	data := randomMatrix(rng, 500, 8)
	queries := randomMatrix(rng, 50, 8)
	hnsw, err := (&HNSWSearcher{M: 16, EfConstruction: 200, EfSearch: 64, Seed: 42}).Build(data)
	require.NoError(t, err)
	exact, _ := (&ExactSearcher{}).Build(data)
	assert.Equal(t, 500, hnsw.Len())

	const k = 10
	hits := 0
	for i := 0; i < 50; i++ {
		q := queries.RawRowView(i)
		truth := map[int]bool{}
		for _, nb := range exact.Search(q, k) {
			truth[nb.Index] = true
		}
		approx := hnsw.Search(q, k)
		require.Len(t, approx, k)
		for j, nb := range approx {
			// Distances are exact even when the candidates are not
			assert.InDelta(t, floats.Distance(q, data.RawRowView(nb.Index), 2), nb.Distance, 1e-12)
			if j > 0 {
				assert.LessOrEqual(t, approx[j-1].Distance, nb.Distance)
			}
			if truth[nb.Index] {
				hits++
			}
		}
	}
	recall := float64(hits) / float64(50*k)
	assert.GreaterOrEqual(t, recall, 0.9)
}

func TestHNSWDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	data := randomMatrix(rng, 300, 4)
	s := &HNSWSearcher{M: 8, EfConstruction: 50, EfSearch: 20, Seed: 9}
	a, _ := s.Build(data)
	b, _ := s.Build(data)
	q := []float64{0.1, -0.2, 0.3, 0}
	assert.Equal(t, a.Search(q, 15), b.Search(q, 15))
}

func TestMutualNeighborsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("anchors are exactly the mutual k nearest pairs", prop.ForAll(
		func(seed int64, k int) bool {
			rng := rand.New(rand.NewSource(seed))
			ea := randomMatrix(rng, 12+rng.Intn(10), 3)
			eb := randomMatrix(rng, 12+rng.Intn(10), 3)
			anchors, err := FindMutualNeighbors(context.Background(), ea, eb, k, &ExactSearcher{}, 2)
			if err != nil {
				return false
			}
			na, _ := ea.Dims()
			nb, _ := eb.Dims()
			want := map[pair]bool{}
			for a := 0; a < na; a++ {
				for _, b := range bruteForce(eb, ea.RawRowView(a), k) {
					for _, back := range bruteForce(ea, eb.RawRowView(b), k) {
						if back == a {
							want[pair{a, b}] = true
						}
					}
				}
			}
			if len(anchors) != len(want) {
				return false
			}
			for _, an := range anchors {
				if !want[pair{an.Cell1, an.Cell2}] || an.Cell2 >= nb {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

func TestScoreRangeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("scores lie within [0, 1]", prop.ForAll(
		func(seed int64, kScore int) bool {
			rng := rand.New(rand.NewSource(seed))
			ea := randomMatrix(rng, 30, 4)
			eb := randomMatrix(rng, 25, 4)
			anchors, err := FindMutualNeighbors(context.Background(), ea, eb, 5, &ExactSearcher{}, 1)
			if err != nil {
				return false
			}
			scored, err := ScoreAnchors(context.Background(), anchors, ea, eb, kScore, &ExactSearcher{}, 2)
			if err != nil || len(scored) != len(anchors) {
				return false
			}
			for i, an := range scored {
				if an.Score < 0 || an.Score > 1 || an.Cell1 != anchors[i].Cell1 || an.Cell2 != anchors[i].Cell2 {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
