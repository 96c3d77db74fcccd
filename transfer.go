/*
 *  transfer.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"gonum.org/v1/gonum/mat"
)

// TransferAnchors are the scored anchors between a reference and a query.
// Cell1 indexes reference cells, Cell2 indexes query cells. The per-cell
// anchor weights are derived from the exported fields, so a set rebuilt from
// them (or from LoadTransferAnchors) transfers exactly like the original.
type TransferAnchors struct {
	Reference  string
	Query      string
	RefCells   int
	QueryCells []string
	Anchors    []Anchor
	Projection *mat.Dense // Query projected on the reference components
	KWeight    int
	SDWeight   float64
	weights    []cellWeights
}

// Prediction is the transferred annotation of one query cell
type Prediction struct {
	Cell       string
	Label      string
	Scores     map[string]float64 // Per-class score, sums to 1
	MaxScore   float64
	Value      float64 // Transferred continuous value
	Coords     []float64
	Degenerate bool
}

// FindTransferAnchors projects the query on the reference, matches the two
// and scores the anchors. The reference is not modified.
func FindTransferAnchors(ctx context.Context, ref *ReferenceModel, query *Dataset, cfg Config) (*TransferAnchors, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("find transfer anchors: %w", ErrNoReferenceModel)
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	for _, c := range []struct {
		name  string
		cells int
	}{{ref.Name, ref.Len()}, {query.Name, query.Len()}} {
		if err := checkCells(c.name, c.cells, cfg.KAnchor, "k_anchor"); err != nil {
			return nil, err
		}
		if err := checkCells(c.name, c.cells, cfg.KScore+1, "k_score"); err != nil {
			return nil, err
		}
	}

	al, err := Align(nil, query, AlignOptions{Mode: AlignProject, Reference: ref})
	if err != nil {
		return nil, err
	}
	searcher := cfg.newSearcher()
	workers := cfg.workers()
	candidates, err := FindMutualNeighbors(ctx, al.NormA, al.NormB, cfg.KAnchor, searcher, workers)
	if err != nil {
		return nil, err
	}
	scored, err := ScoreAnchors(ctx, candidates, al.NormA, al.NormB, cfg.KScore, searcher, workers)
	if err != nil {
		return nil, err
	}
	set := NewAnchorSet([]string{ref.Name, query.Name}, []int{ref.Len(), query.Len()})
	if err := set.Add(scored...); err != nil {
		return nil, err
	}
	set = set.Floor(cfg.ScoreFloor).CapPerCell(cfg.MaxPerCell)
	log.Noticef("Found %d transfer anchors between `%s` and `%s`", set.Len(), ref.Name, query.Name)

	ta := &TransferAnchors{
		Reference:  ref.Name,
		Query:      query.Name,
		RefCells:   ref.Len(),
		QueryCells: query.Cells,
		Anchors:    set.Anchors,
		Projection: al.B,
		KWeight:    cfg.KWeight,
		SDWeight:   cfg.SDWeight,
	}
	if err := ta.computeWeights(ctx, searcher, workers); err != nil {
		return nil, err
	}
	return ta, nil
}

// Validate checks that the anchors fit the reference and the projected query
func (r *TransferAnchors) Validate() error {
	if r.Projection == nil {
		return fmt.Errorf("transfer anchors `%s`: no projected query", r.Query)
	}
	if rows, _ := r.Projection.Dims(); rows != len(r.QueryCells) {
		return fmt.Errorf("transfer anchors `%s`: %d projected rows for %d cells", r.Query, rows, len(r.QueryCells))
	}
	if r.KWeight <= 0 || r.SDWeight <= 0 {
		return fmt.Errorf("transfer anchors `%s`: k_weight = %d and sd_weight = %g must be positive",
			r.Query, r.KWeight, r.SDWeight)
	}
	for _, an := range r.Anchors {
		if an.Cell1 < 0 || an.Cell1 >= r.RefCells || an.Cell2 < 0 || an.Cell2 >= len(r.QueryCells) {
			return fmt.Errorf("transfer anchor %+v is out of range", an)
		}
		if an.Score < 0 || an.Score > 1 {
			return fmt.Errorf("transfer anchor %+v has a score outside [0, 1]", an)
		}
	}
	return nil
}

// prepare computes the weights of a set that was built from its exported
// fields, with exact search. It is a no-op for sets returned by
// FindTransferAnchors.
func (r *TransferAnchors) prepare(ctx context.Context) error {
	if r.weights != nil && len(r.weights) == len(r.QueryCells) {
		return nil
	}
	if err := r.Validate(); err != nil {
		return err
	}
	return r.computeWeights(ctx, &ExactSearcher{}, runtime.GOMAXPROCS(0))
}

// computeWeights weighs the anchors around every query cell in the projected space
func (r *TransferAnchors) computeWeights(ctx context.Context, s Searcher, workers int) error {
	_, dims := r.Projection.Dims()
	scores := make([]float64, len(r.Anchors))
	var endpoints *mat.Dense
	if len(r.Anchors) > 0 {
		endpoints = mat.NewDense(len(r.Anchors), dims, nil)
		for i, an := range r.Anchors {
			endpoints.SetRow(i, r.Projection.RawRowView(an.Cell2))
			scores[i] = an.Score
		}
	}
	weights, err := anchorWeights(ctx, r.Projection, endpoints, scores, r.KWeight, r.SDWeight, s, workers)
	if err != nil {
		return err
	}
	r.weights = weights
	if n := r.countDegenerate(); n > 0 {
		log.Warningf("%s query cells have no weighted anchors (%v)",
			Percentage(n, len(r.QueryCells)), ErrDegenerateNeighborhood)
	}
	return nil
}

// countDegenerate counts the query cells without weighted anchors
func (r *TransferAnchors) countDegenerate() int {
	n := 0
	for _, w := range r.weights {
		if w.degenerate() {
			n++
		}
	}
	return n
}

// Len returns the number of anchors
func (r *TransferAnchors) Len() int { return len(r.Anchors) }

// TransferLabels votes the reference labels of the anchors of every query
// cell. Classes are all the distinct reference labels. A cell without
// weighted anchors gets UnknownLabel and uniform scores.
func TransferLabels(ta *TransferAnchors, labels []string) ([]Prediction, error) {
	if len(labels) != ta.RefCells {
		return nil, fmt.Errorf("%d labels for %d reference cells", len(labels), ta.RefCells)
	}
	if err := ta.prepare(context.Background()); err != nil {
		return nil, err
	}
	classes := unique(labels)
	preds := make([]Prediction, len(ta.QueryCells))
	for i, cell := range ta.QueryCells {
		scores := make(map[string]float64, len(classes))
		for _, c := range classes {
			scores[c] = 0
		}
		cw := ta.weights[i]
		if cw.degenerate() {
			uniform := 1 / float64(len(classes))
			for _, c := range classes {
				scores[c] = uniform
			}
			preds[i] = Prediction{Cell: cell, Label: UnknownLabel, Scores: scores,
				MaxScore: uniform, Value: math.NaN(), Degenerate: true}
			continue
		}
		for j, a := range cw.anchors {
			scores[labels[ta.Anchors[a].Cell1]] += cw.weights[j]
		}
		// classes are sorted, so a tie goes to the smallest label
		best := classes[0]
		for _, c := range classes[1:] {
			if scores[c] > scores[best] {
				best = c
			}
		}
		preds[i] = Prediction{Cell: cell, Label: best, Scores: scores,
			MaxScore: scores[best], Value: math.NaN()}
	}
	return preds, nil
}

// TransferValues computes the weighted mean of a continuous reference
// annotation. Cells without weighted anchors get NaN.
func TransferValues(ta *TransferAnchors, values []float64) ([]Prediction, error) {
	if len(values) != ta.RefCells {
		return nil, fmt.Errorf("%d values for %d reference cells", len(values), ta.RefCells)
	}
	if err := ta.prepare(context.Background()); err != nil {
		return nil, err
	}
	preds := make([]Prediction, len(ta.QueryCells))
	for i, cell := range ta.QueryCells {
		cw := ta.weights[i]
		if cw.degenerate() {
			preds[i] = Prediction{Cell: cell, Label: UnknownLabel, Value: math.NaN(), Degenerate: true}
			continue
		}
		v := 0.0
		for j, a := range cw.anchors {
			v += cw.weights[j] * values[ta.Anchors[a].Cell1]
		}
		preds[i] = Prediction{Cell: cell, Value: v}
	}
	return preds, nil
}
