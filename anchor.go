/*
 * Filename: /Users/bao/code/scanchor/anchor.go
 * Path: /Users/bao/code/scanchor
 * Created Date: Monday, June 4th 2018, 9:26:26 pm
 * Author: bao
 *
 * Copyright (c) 2018 Haibao Tang
 */

package scanchor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Anchor is a pair of corresponding cells from two datasets. Cell indices
// point into the cell arrays of the datasets.
type Anchor struct {
	Dataset1 int
	Cell1    int
	Dataset2 int
	Cell2    int
	Score    float64
}

// Anchorer runs the pairwise matching over a list of datasets
type Anchorer struct {
	Config Config
}

// pair is one unordered dataset pair to be matched
type pair struct {
	i, j int
}

// FindMutualNeighbors keeps (a, b) when b is within the k nearest rows of ea
// in eb and a is within the k nearest rows of eb in ea. Anchors come out
// sorted by a, then by distance.
func FindMutualNeighbors(ctx context.Context, ea, eb *mat.Dense, k int, s Searcher, workers int) ([]Anchor, error) {
	na, _ := ea.Dims()
	nb, _ := eb.Dims()
	if err := checkCells("first embedding", na, k, "k_anchor"); err != nil {
		return nil, err
	}
	if err := checkCells("second embedding", nb, k, "k_anchor"); err != nil {
		return nil, err
	}
	idxA, err := s.Build(ea)
	if err != nil {
		return nil, err
	}
	idxB, err := s.Build(eb)
	if err != nil {
		return nil, err
	}
	ab, err := knnAll(ctx, idxB, ea, k, false, workers)
	if err != nil {
		return nil, err
	}
	ba, err := knnAll(ctx, idxA, eb, k, false, workers)
	if err != nil {
		return nil, err
	}
	backward := neighborSets(ba)

	var anchors []Anchor
	for a, nbs := range ab {
		for _, nb := range nbs {
			if backward[nb.Index][a] {
				anchors = append(anchors, Anchor{Dataset1: 0, Cell1: a, Dataset2: 1, Cell2: nb.Index})
			}
		}
	}
	return anchors, nil
}

// FindAnchors matches all dataset pairs and plans the merges. A single
// dataset gives an empty anchor set and an order without steps.
func (r *Anchorer) FindAnchors(ctx context.Context, datasets []*Dataset) (*AnchorSet, *MergeOrder, error) {
	if err := r.Config.Validate(); err != nil {
		return nil, nil, err
	}
	if len(datasets) == 0 {
		return nil, nil, fmt.Errorf("no datasets to anchor")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	names := make([]string, len(datasets))
	sizes := make([]int, len(datasets))
	for i, ds := range datasets {
		names[i] = ds.Name
		sizes[i] = ds.Len()
	}
	set := NewAnchorSet(names, sizes)
	if len(datasets) == 1 {
		return set, &MergeOrder{Leaves: names}, nil
	}

	pairs, err := r.pairs(names)
	if err != nil {
		return nil, nil, err
	}
	log.Noticef("Find anchors for %d datasets over %d pairs", len(datasets), len(pairs))

	// Pairs run concurrently, results are collected by pair index
	found := make([][]Anchor, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Config.workers())
	for pi, p := range pairs {
		pi, p := pi, p
		g.Go(func() error {
			anchors, err := r.anchorPair(gctx, datasets[p.i], datasets[p.j])
			if err != nil {
				return fmt.Errorf("pair `%s` x `%s`: %w", names[p.i], names[p.j], err)
			}
			for k := range anchors {
				anchors[k].Dataset1, anchors[k].Dataset2 = p.i, p.j
			}
			found[pi] = anchors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	for _, anchors := range found {
		if err := set.Add(anchors...); err != nil {
			return nil, nil, err
		}
	}

	set = set.Floor(r.Config.ScoreFloor).CapPerCell(r.Config.MaxPerCell)
	log.Noticef("Retained %d anchors across all pairs", set.Len())

	order, err := BuildMergeOrder(set, r.Config.MergeBy)
	if err != nil {
		return nil, nil, err
	}
	return set, order, nil
}

// pairs lists the pairs to match, either all of them or those named in the config
func (r *Anchorer) pairs(names []string) ([]pair, error) {
	var pairs []pair
	if len(r.Config.Pairs) == 0 {
		for i := range names {
			for j := i + 1; j < len(names); j++ {
				pairs = append(pairs, pair{i, j})
			}
		}
		return pairs, nil
	}

	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}
	seen := map[pair]bool{}
	for _, np := range r.Config.Pairs {
		i, ok1 := index[np[0]]
		j, ok2 := index[np[1]]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("pair %s x %s names an unknown dataset", np[0], np[1])
		}
		if i == j {
			return nil, fmt.Errorf("pair %s x %s matches a dataset with itself", np[0], np[1])
		}
		if i > j {
			i, j = j, i
		}
		if !seen[pair{i, j}] {
			seen[pair{i, j}] = true
			pairs = append(pairs, pair{i, j})
		}
	}
	return pairs, nil
}

// anchorPair runs align, match, filter and score for two datasets
func (r *Anchorer) anchorPair(ctx context.Context, a, b *Dataset) ([]Anchor, error) {
	cfg := r.Config
	for _, ds := range []*Dataset{a, b} {
		if err := checkCells(ds.Name, ds.Len(), cfg.KAnchor, "k_anchor"); err != nil {
			return nil, err
		}
		if err := checkCells(ds.Name, ds.Len(), cfg.KScore+1, "k_score"); err != nil {
			return nil, err
		}
		if err := checkCells(ds.Name, ds.Len(), cfg.KFilter, "k_filter"); err != nil {
			return nil, err
		}
	}

	al, err := Align(a, b, AlignOptions{Mode: AlignCCA, Dims: cfg.alignDims()})
	if err != nil {
		return nil, err
	}
	searcher := cfg.newSearcher()
	workers := cfg.workers()
	candidates, err := FindMutualNeighbors(ctx, al.NormA, al.NormB, cfg.KAnchor, searcher, workers)
	if err != nil {
		return nil, err
	}
	filtered, err := FilterAnchors(ctx, candidates, al.FeatA, al.FeatB, cfg.KFilter, searcher, workers)
	if err != nil {
		return nil, err
	}
	scored, err := ScoreAnchors(ctx, filtered, al.NormA, al.NormB, cfg.KScore, searcher, workers)
	if err != nil {
		return nil, err
	}
	log.Debugf("`%s` x `%s`: %d mutual neighbors, %d after filtering",
		a.Name, b.Name, len(candidates), len(filtered))
	return scored, nil
}
