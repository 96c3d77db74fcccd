/*
 *  integrate.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Integrator applies the merge order, correcting each query group into the
// frame of its reference group
type Integrator struct {
	Config  Config
	Reducer Reducer // Used when some dataset lacks an embedding, PCA by default
}

// Integrated is the corrected embedding of all cells, in dataset order then
// cell order
type Integrated struct {
	Datasets   []string
	Cells      []string
	Dataset    []int // Dataset index of every row
	Matrix     *mat.Dense
	Degenerate []bool // Rows that received no correction at some merge
}

// Integrate runs all merges in order. A single dataset comes back unchanged.
// Nothing is returned on error.
func (r *Integrator) Integrate(ctx context.Context, datasets []*Dataset, anchors *AnchorSet, order *MergeOrder) (*Integrated, error) {
	if err := r.Config.Validate(); err != nil {
		return nil, err
	}
	if len(datasets) == 0 {
		return nil, fmt.Errorf("no datasets to integrate")
	}
	if err := r.checkInputs(datasets, anchors, order); err != nil {
		return nil, err
	}
	embeddings, err := r.embeddings(datasets)
	if err != nil {
		return nil, err
	}

	current := make([]*mat.Dense, len(datasets))
	degenerate := make([][]bool, len(datasets))
	for i, e := range embeddings {
		current[i] = mat.DenseCopyOf(e)
		degenerate[i] = make([]bool, datasets[i].Len())
	}

	for k, step := range order.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.mergeStep(ctx, k+1, step, anchors, current, degenerate); err != nil {
			return nil, err
		}
	}
	return assemble(datasets, current, degenerate), nil
}

// checkInputs makes sure anchors and order describe these datasets
func (r *Integrator) checkInputs(datasets []*Dataset, anchors *AnchorSet, order *MergeOrder) error {
	if anchors == nil || order == nil {
		return fmt.Errorf("missing anchor set or merge order")
	}
	if len(anchors.Datasets) != len(datasets) || len(order.Leaves) != len(datasets) {
		return fmt.Errorf("anchor set and merge order must cover the %d datasets", len(datasets))
	}
	for i, ds := range datasets {
		if anchors.Datasets[i] != ds.Name || order.Leaves[i] != ds.Name {
			return fmt.Errorf("dataset %d is `%s`, anchors have `%s`, order has `%s`",
				i, ds.Name, anchors.Datasets[i], order.Leaves[i])
		}
		if anchors.Sizes[i] != ds.Len() {
			return fmt.Errorf("dataset `%s` has %d cells, anchors expect %d", ds.Name, ds.Len(), anchors.Sizes[i])
		}
	}
	if err := anchors.Validate(); err != nil {
		return err
	}
	return order.Validate()
}

// embeddings returns the integration space of every dataset. When any of the
// datasets has no embedding, all of them are reduced jointly.
func (r *Integrator) embeddings(datasets []*Dataset) ([]*mat.Dense, error) {
	res := make([]*mat.Dense, len(datasets))
	dims := -1
	joint := false
	for i, ds := range datasets {
		if ds.Embedding == nil {
			joint = true
			break
		}
		rows, cols := ds.Embedding.Dims()
		if rows != ds.Len() {
			return nil, fmt.Errorf("dataset `%s`: embedding has %d rows for %d cells", ds.Name, rows, ds.Len())
		}
		if dims != -1 && cols != dims {
			return nil, fmt.Errorf("dataset `%s`: embedding has %d dims, expected %d", ds.Name, cols, dims)
		}
		dims = cols
		res[i] = ds.Embedding
	}
	if !joint {
		return res, nil
	}

	reducer := r.Reducer
	if reducer == nil {
		reducer = PCA{}
	}
	features, err := SharedFeatures(datasets...)
	if err != nil {
		return nil, err
	}
	log.Noticef("Reduce %d datasets jointly on %d shared features to %d dims",
		len(datasets), len(features), r.Config.Dims)
	embedded, _, err := JointEmbed(datasets, features, reducer, r.Config.Dims)
	if err != nil {
		return nil, err
	}
	for i, ds := range embedded {
		res[i] = ds.Embedding
	}
	return res, nil
}

// mergeStep corrects the query group of one step in place
func (r *Integrator) mergeStep(ctx context.Context, k int, step MergeStep, set *AnchorSet,
	current []*mat.Dense, degenerate [][]bool) error {
	anchors := set.Between(step.Reference, step.Query)
	if len(anchors) == 0 {
		return &DisconnectedError{Groups: [][]string{
			step.Reference.names(set.Datasets), step.Query.names(set.Datasets)}}
	}

	// Pool the query group, remembering where each dataset starts
	offsets := map[int]int{}
	parts := make([]*mat.Dense, len(step.Query))
	total := 0
	for i, d := range step.Query {
		offsets[d] = total
		parts[i] = current[d]
		total += set.Sizes[d]
	}
	pooled := stackRows(parts...)
	_, dims := pooled.Dims()

	endpoints := mat.NewDense(len(anchors), dims, nil)
	corrections := make([][]float64, len(anchors))
	scores := make([]float64, len(anchors))
	for i, an := range anchors {
		b := current[an.Dataset2].RawRowView(an.Cell2)
		endpoints.SetRow(i, b)
		corr := make([]float64, dims)
		floats.SubTo(corr, current[an.Dataset1].RawRowView(an.Cell1), b)
		corrections[i] = corr
		scores[i] = an.Score
	}

	cfg := r.Config
	weights, err := anchorWeights(ctx, pooled, endpoints, scores, cfg.KWeight, cfg.SDWeight,
		cfg.newSearcher(), cfg.workers())
	if err != nil {
		return err
	}
	corrected, flags, err := applyCorrection(ctx, pooled, weights, corrections, cfg.workers())
	if err != nil {
		return err
	}

	for _, d := range step.Query {
		off := offsets[d]
		current[d] = sliceRows(corrected, off, off+set.Sizes[d])
		for c := range degenerate[d] {
			degenerate[d][c] = degenerate[d][c] || flags[off+c]
		}
	}
	nDegenerate := countTrue(flags)
	log.Noticef("Merge #%d: corrected %d cells with %d anchors", k, total, len(anchors))
	if nDegenerate > 0 {
		log.Warningf("Merge #%d: %s cells have no weighted anchors and are left uncorrected (%v)",
			k, Percentage(nDegenerate, total), ErrDegenerateNeighborhood)
	}
	return nil
}

// assemble stacks the corrected datasets
func assemble(datasets []*Dataset, current []*mat.Dense, degenerate [][]bool) *Integrated {
	res := &Integrated{Matrix: stackRows(current...)}
	for i, ds := range datasets {
		res.Datasets = append(res.Datasets, ds.Name)
		res.Cells = append(res.Cells, ds.Cells...)
		for range ds.Cells {
			res.Dataset = append(res.Dataset, i)
		}
		res.Degenerate = append(res.Degenerate, degenerate[i]...)
	}
	return res
}

// Rows returns the rows of one dataset
func (r *Integrated) Rows(dataset int) *mat.Dense {
	from, to := -1, -1
	for i, d := range r.Dataset {
		if d == dataset {
			if from == -1 {
				from = i
			}
			to = i + 1
		}
	}
	if from == -1 {
		return nil
	}
	return sliceRows(r.Matrix, from, to)
}
