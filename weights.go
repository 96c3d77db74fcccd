/*
 *  weights.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// cellWeights are the normalized weights of the anchors near one cell. An
// empty list marks a degenerate cell.
type cellWeights struct {
	anchors []int
	weights []float64
}

// degenerate tells whether no anchor carries weight for this cell
func (w cellWeights) degenerate() bool { return len(w.anchors) == 0 }

// anchorWeights finds, for every row of cells, its kWeight nearest anchor
// endpoints and turns their distances and scores into weights that sum to 1.
//
//	w = (1 - d / d_k) * score
//	w = 1 - exp(-w / (2 / sdWeight)^2)
//
// kWeight is clamped to the number of anchors.
func anchorWeights(ctx context.Context, cells, endpoints *mat.Dense, scores []float64,
	kWeight int, sdWeight float64, s Searcher, workers int) ([]cellWeights, error) {
	n, _ := cells.Dims()
	res := make([]cellWeights, n)
	if len(scores) == 0 {
		return res, nil
	}
	k := min(kWeight, len(scores))
	idx, err := s.Build(endpoints)
	if err != nil {
		return nil, err
	}
	nbs, err := knnAll(ctx, idx, cells, k, false, workers)
	if err != nil {
		return nil, err
	}

	bandwidth := (2 / sdWeight) * (2 / sdWeight)
	for i, list := range nbs {
		if len(list) == 0 {
			continue
		}
		dk := list[len(list)-1].Distance
		anchors := make([]int, len(list))
		weights := make([]float64, len(list))
		for j, nb := range list {
			dist := 1.0
			if len(list) > 1 && dk > EPS {
				dist = 1 - nb.Distance/dk
			}
			w := dist * scores[nb.Index]
			anchors[j] = nb.Index
			weights[j] = 1 - math.Exp(-w/bandwidth)
		}
		total := floats.Sum(weights)
		if total < EPS {
			continue
		}
		floats.Scale(1/total, weights)
		res[i] = cellWeights{anchors: anchors, weights: weights}
	}
	return res, nil
}

// applyCorrection adds to every row of cells the weighted sum of the anchor
// correction vectors. Degenerate rows are copied unchanged and flagged.
func applyCorrection(ctx context.Context, cells *mat.Dense, weights []cellWeights,
	corrections [][]float64, workers int) (*mat.Dense, []bool, error) {
	n, _ := cells.Dims()
	out := mat.DenseCopyOf(cells)
	degenerate := make([]bool, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < n; start += knnBlockSize {
		start := start
		end := min(start+knnBlockSize, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Each worker writes its own rows only
			for i := start; i < end; i++ {
				cw := weights[i]
				if cw.degenerate() {
					degenerate[i] = true
					continue
				}
				row := out.RawRowView(i)
				for j, a := range cw.anchors {
					floats.AddScaled(row, cw.weights[j], corrections[a])
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return out, degenerate, nil
}

// countTrue counts the flagged entries
func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
