/*
 *  score.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"context"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// FilterAnchors keeps the anchors that also look like neighbors in feature
// space: b among the kFilter nearest cells of a in B, or a among the kFilter
// nearest cells of b in A. kFilter <= 0 disables the filter. A kFilter larger
// than either cell count is an error, it is never clamped.
func FilterAnchors(ctx context.Context, anchors []Anchor, xa, xb *mat.Dense, kFilter int, s Searcher, workers int) ([]Anchor, error) {
	if kFilter <= 0 {
		return anchors, nil
	}
	na, _ := xa.Dims()
	nb, _ := xb.Dims()
	if err := checkCells("first feature matrix", na, kFilter, "k_filter"); err != nil {
		return nil, err
	}
	if err := checkCells("second feature matrix", nb, kFilter, "k_filter"); err != nil {
		return nil, err
	}
	if len(anchors) == 0 {
		return anchors, nil
	}

	// Only the anchor endpoints need a neighborhood
	cellsA := endpointCells(anchors, true)
	cellsB := endpointCells(anchors, false)
	nnA, err := subsetNeighbors(ctx, xb, xa, cellsA, kFilter, s, workers)
	if err != nil {
		return nil, err
	}
	nnB, err := subsetNeighbors(ctx, xa, xb, cellsB, kFilter, s, workers)
	if err != nil {
		return nil, err
	}

	kept := make([]Anchor, 0, len(anchors))
	for _, an := range anchors {
		if nnA[an.Cell1][an.Cell2] || nnB[an.Cell2][an.Cell1] {
			kept = append(kept, an)
		}
	}
	log.Debugf("Feature space filter (k = %d) kept %s anchors", kFilter, Percentage(len(kept), len(anchors)))
	return kept, nil
}

// endpointCells returns the sorted distinct cells on one side of the anchors
func endpointCells(anchors []Anchor, first bool) []int {
	seen := map[int]bool{}
	var cells []int
	for _, an := range anchors {
		c := an.Cell2
		if first {
			c = an.Cell1
		}
		if !seen[c] {
			seen[c] = true
			cells = append(cells, c)
		}
	}
	sort.Ints(cells)
	return cells
}

// subsetNeighbors searches the given rows of queries among the rows of data
func subsetNeighbors(ctx context.Context, data, queries *mat.Dense, rows []int, k int, s Searcher, workers int) (map[int]map[int]bool, error) {
	idx, err := s.Build(data)
	if err != nil {
		return nil, err
	}
	_, c := queries.Dims()
	sub := mat.NewDense(len(rows), c, nil)
	for i, row := range rows {
		sub.SetRow(i, queries.RawRowView(row))
	}
	nbs, err := knnAll(ctx, idx, sub, k, false, workers)
	if err != nil {
		return nil, err
	}
	sets := neighborSets(nbs)
	res := make(map[int]map[int]bool, len(rows))
	for i, row := range rows {
		res[row] = sets[i]
	}
	return res, nil
}

// ScoreAnchors computes the neighborhood consistency of every anchor (a, b):
// the fraction of the kScore nearest neighbors of a within A (a excluded)
// that anchor some cell within the kScore neighborhood of b in B (b included).
// The input anchors are left untouched.
func ScoreAnchors(ctx context.Context, anchors []Anchor, ea, eb *mat.Dense, kScore int, s Searcher, workers int) ([]Anchor, error) {
	na, _ := ea.Dims()
	nb, _ := eb.Dims()
	if err := checkCells("first embedding", na, kScore+1, "k_score"); err != nil {
		return nil, err
	}
	if err := checkCells("second embedding", nb, kScore+1, "k_score"); err != nil {
		return nil, err
	}
	scored := make([]Anchor, len(anchors))
	copy(scored, anchors)
	if len(anchors) == 0 {
		return scored, nil
	}

	idxA, err := s.Build(ea)
	if err != nil {
		return nil, err
	}
	idxB, err := s.Build(eb)
	if err != nil {
		return nil, err
	}
	nnA, err := knnAll(ctx, idxA, ea, kScore, true, workers)
	if err != nil {
		return nil, err
	}
	nnB, err := knnAll(ctx, idxB, eb, kScore, true, workers)
	if err != nil {
		return nil, err
	}
	hoodB := neighborSets(nnB)
	for b := range hoodB {
		hoodB[b][b] = true
	}

	partners := map[int][]int{} // A cell => B cells it anchors
	for _, an := range anchors {
		partners[an.Cell1] = append(partners[an.Cell1], an.Cell2)
	}

	for i, an := range scored {
		hood := hoodB[an.Cell2]
		shared := 0
		for _, nb := range nnA[an.Cell1] {
			for _, b := range partners[nb.Index] {
				if hood[b] {
					shared++
					break
				}
			}
		}
		scored[i].Score = float64(shared) / float64(len(nnA[an.Cell1]))
	}
	return scored, nil
}
