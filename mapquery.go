/*
 *  mapquery.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"context"
	"fmt"
	"runtime"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MapOptions selects the outputs of MapQuery
type MapOptions struct {
	LabelKey string // Reference label to transfer, empty skips label transfer
	ValueKey string // Continuous reference annotation to transfer into Prediction.Value
	Visual   bool   // Project through the visualization model of the reference
	Workers  int
}

// Projection holds the query coordinates in the reference spaces
type Projection struct {
	Cells      []string
	Embedding  *mat.Dense // Corrected query in the reference components
	Visual     *mat.Dense // Visualization coordinates, when requested
	Degenerate []bool
}

// MapQuery corrects the projected query into the reference frame, the
// reference side stays fixed. The visualization model is applied without
// refitting.
func MapQuery(ctx context.Context, ta *TransferAnchors, ref *ReferenceModel, query *Dataset, opts MapOptions) (*Projection, []Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if ref == nil {
		return nil, nil, fmt.Errorf("map query: %w", ErrNoReferenceModel)
	}
	if opts.Visual && ref.Visual == nil {
		return nil, nil, fmt.Errorf("map query: reference `%s` has no visualization model: %w",
			ref.Name, ErrNoReferenceModel)
	}
	if ta.Reference != ref.Name || ta.RefCells != ref.Len() {
		return nil, nil, fmt.Errorf("map query: anchors were found against `%s`, not `%s`", ta.Reference, ref.Name)
	}
	if query.Len() != len(ta.QueryCells) {
		return nil, nil, fmt.Errorf("map query: `%s` has %d cells, anchors expect %d",
			query.Name, query.Len(), len(ta.QueryCells))
	}
	var labels []string
	if opts.LabelKey != "" {
		var ok bool
		if labels, ok = ref.Labels[opts.LabelKey]; !ok {
			return nil, nil, fmt.Errorf("map query: reference `%s` has no label `%s`", ref.Name, opts.LabelKey)
		}
	}
	var values []float64
	if opts.ValueKey != "" {
		var ok bool
		if values, ok = ref.Values[opts.ValueKey]; !ok {
			return nil, nil, fmt.Errorf("map query: reference `%s` has no value `%s`", ref.Name, opts.ValueKey)
		}
	}
	if err := ta.prepare(ctx); err != nil {
		return nil, nil, fmt.Errorf("map query: %w", err)
	}

	_, dims := ta.Projection.Dims()
	corrections := make([][]float64, len(ta.Anchors))
	for i, an := range ta.Anchors {
		corr := make([]float64, dims)
		floats.SubTo(corr, ref.Embedding.RawRowView(an.Cell1), ta.Projection.RawRowView(an.Cell2))
		corrections[i] = corr
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	corrected, degenerate, err := applyCorrection(ctx, ta.Projection, ta.weights, corrections, workers)
	if err != nil {
		return nil, nil, err
	}
	proj := &Projection{Cells: query.Cells, Embedding: corrected, Degenerate: degenerate}

	if opts.Visual {
		visual, err := ref.Visual.Predict(corrected)
		if err != nil {
			return nil, nil, fmt.Errorf("map query: visualization: %w", err)
		}
		proj.Visual = visual
	}
	log.Noticef("Mapped %d cells of `%s` onto `%s`", query.Len(), query.Name, ref.Name)

	var preds []Prediction
	switch {
	case labels == nil && values == nil:
		return proj, nil, nil
	case labels == nil:
		if preds, err = TransferValues(ta, values); err != nil {
			return nil, nil, err
		}
	default:
		if preds, err = TransferLabels(ta, labels); err != nil {
			return nil, nil, err
		}
		if values != nil {
			transferred, err := TransferValues(ta, values)
			if err != nil {
				return nil, nil, err
			}
			for i := range preds {
				preds[i].Value = transferred[i].Value
			}
		}
	}
	coords := proj.Embedding
	if proj.Visual != nil {
		coords = proj.Visual
	}
	for i := range preds {
		preds[i].Coords = mat.Row(nil, i, coords)
	}
	return proj, preds, nil
}
