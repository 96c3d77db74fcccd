/*
 * Filename: /Users/htang/code/scanchor/assess.go
 * Path: /Users/htang/code/scanchor
 * Created Date: Tuesday, June 19th 2018, 4:34:11 pm
 * Author: htang
 *
 * Copyright (c) 2018 Haibao Tang
 */

package scanchor

import (
	"context"
	"fmt"
	"math"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	hungarianAlgorithm "github.com/oddg/hungarian-algorithm"
	"gonum.org/v1/gonum/mat"
)

// Assesser measures how well an embedding mixes the datasets while keeping
// the known cell groups apart
//
// Summary of algorithm:
// Step 1. Mixing, the mean fraction of each cell's K neighbors that come
//         from another dataset
// Step 2. Purity, the mean fraction of each cell's K neighbors that share
//         its label
// Step 3. Cluster the embedding by k-means into as many clusters as labels
//         and match clusters to labels with the Hungarian algorithm
type Assesser struct {
	K        int
	Restarts int // k-means runs, the best partition is kept
	Workers  int
}

// Assessment is the outcome of Assess
type Assessment struct {
	Cells    int
	Mixing   float64
	Purity   float64
	Accuracy float64           // Fraction of cells whose cluster matches their label
	Matching map[string]string // Cluster => label
}

// Assess computes all the measures, batch and labels have one entry per row
func (r *Assesser) Assess(ctx context.Context, m *mat.Dense, batch []int, labels []string) (*Assessment, error) {
	n, _ := m.Dims()
	if len(batch) != n || len(labels) != n {
		return nil, fmt.Errorf("assess: %d rows, %d batches and %d labels", n, len(batch), len(labels))
	}
	workers := r.Workers
	if workers <= 0 {
		workers = 1
	}
	idx, _ := (&ExactSearcher{}).Build(m)
	nbs, err := knnAll(ctx, idx, m, r.K, true, workers)
	if err != nil {
		return nil, err
	}
	res := &Assessment{
		Cells:  n,
		Mixing: Mixing(nbs, batch),
		Purity: Purity(nbs, labels),
	}
	classes := unique(labels)
	assign, err := KMeans(m, len(classes), r.Restarts)
	if err != nil {
		return nil, err
	}
	predicted := make([]string, n)
	for i, c := range assign {
		predicted[i] = fmt.Sprintf("cluster_%d", c)
	}
	res.Accuracy, res.Matching, err = MatchedAccuracy(labels, predicted)
	if err != nil {
		return nil, err
	}
	log.Noticef("Assessed %d cells: mixing = %.3f, purity = %.3f, matched accuracy = %.3f",
		n, res.Mixing, res.Purity, res.Accuracy)
	return res, nil
}

// Mixing is the mean fraction of neighbors from another batch
func Mixing(nbs [][]Neighbor, batch []int) float64 {
	return neighborFraction(nbs, func(i, j int) bool { return batch[i] != batch[j] })
}

// Purity is the mean fraction of neighbors sharing the label
func Purity(nbs [][]Neighbor, labels []string) float64 {
	return neighborFraction(nbs, func(i, j int) bool { return labels[i] == labels[j] })
}

func neighborFraction(nbs [][]Neighbor, match func(i, j int) bool) float64 {
	total, n := 0.0, 0
	for i, list := range nbs {
		if len(list) == 0 {
			continue
		}
		hits := 0
		for _, nb := range list {
			if match(i, nb.Index) {
				hits++
			}
		}
		total += float64(hits) / float64(len(list))
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// Agreement is the fraction of equal entries
func Agreement(truth, pred []string) float64 {
	if len(truth) == 0 {
		return 0
	}
	agree := 0
	for i := range truth {
		if truth[i] == pred[i] {
			agree++
		}
	}
	return float64(agree) / float64(len(truth))
}

// MatchedAccuracy pairs every predicted class with at most one true class so
// that the number of agreeing cells is maximal, then reports the agreement
func MatchedAccuracy(truth, pred []string) (float64, map[string]string, error) {
	if len(truth) != len(pred) {
		return 0, nil, fmt.Errorf("%d true labels and %d predictions", len(truth), len(pred))
	}
	if len(truth) == 0 {
		return 0, map[string]string{}, nil
	}
	trueClasses := unique(truth)
	predClasses := unique(pred)
	ti := indexOf(trueClasses)
	pi := indexOf(predClasses)
	N := max(len(trueClasses), len(predClasses))
	S := Make2DSlice(N, N) // pred x truth contingency
	for i := range truth {
		S[pi[pred[i]]][ti[truth[i]]]++
	}
	solution, err := maxBipartiteMatchingWithWeights(S)
	if err != nil {
		return 0, nil, err
	}
	matching := map[string]string{}
	agree := 0
	for p, t := range solution {
		if p >= len(predClasses) || t >= len(trueClasses) {
			continue
		}
		matching[predClasses[p]] = trueClasses[t]
		agree += S[p][t]
	}
	return float64(agree) / float64(len(truth)), matching, nil
}

// indexOf maps every entry to its position
func indexOf(a []string) map[string]int {
	idx := make(map[string]int, len(a))
	for i, s := range a {
		idx[s] = i
	}
	return idx
}

// maxBipartiteMatchingWithWeights calculates the bipartite matching using the
// weights, wraps hungarianAlgorithm() which minimizes the costs, so we need to
// transform from weights to costs
func maxBipartiteMatchingWithWeights(weights [][]int) ([]int, error) {
	maxCell := 0
	// Get the max value of the matrix
	for _, row := range weights {
		for _, cell := range row {
			maxCell = max(maxCell, cell)
		}
	}
	N := len(weights)
	costs := Make2DSlice(N, N)
	// Subtract the weights from the max to get costs
	for i, row := range weights {
		for j, cell := range row {
			costs[i][j] = maxCell - cell
		}
	}
	// By default, hungarianAlgorithm works on costs
	return hungarianAlgorithm.Solve(costs)
}

// observation is a row of the embedding that remembers its index
type observation struct {
	coords clusters.Coordinates
	index  int
}

func (o observation) Coordinates() clusters.Coordinates { return o.coords }

func (o observation) Distance(c clusters.Coordinates) float64 { return o.coords.Distance(c) }

// KMeans partitions the rows into k clusters and returns the cluster of every
// row. The partition with the smallest within-cluster distance out of
// restarts runs is kept.
func KMeans(m *mat.Dense, k, restarts int) ([]int, error) {
	n, _ := m.Dims()
	assign := make([]int, n)
	if k <= 1 || n == 0 {
		return assign, nil
	}
	k = min(k, n)
	if restarts <= 0 {
		restarts = DefaultRestarts
	}
	obs := make(clusters.Observations, n)
	for i := range obs {
		obs[i] = observation{coords: mat.Row(nil, i, m), index: i}
	}

	km := kmeans.New()
	best := math.Inf(1)
	for t := 0; t < restarts; t++ {
		cc, err := km.Partition(obs, k)
		if err != nil {
			return nil, fmt.Errorf("k-means: %w", err)
		}
		within := 0.0
		for _, c := range cc {
			for _, o := range c.Observations {
				within += o.Distance(c.Center)
			}
		}
		if within >= best {
			continue
		}
		best = within
		for ci, c := range cc {
			for _, o := range c.Observations {
				assign[o.(observation).index] = ci
			}
		}
	}
	return assign, nil
}
