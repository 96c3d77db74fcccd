/*
 * Filename: /Users/bao/code/scanchor/model.go
 * Path: /Users/bao/code/scanchor
 * Created Date: Friday, July 6th 2018, 10:47:29 pm
 * Author: bao
 *
 * Copyright (c) 2018 Haibao Tang
 */

package scanchor

import (
	"context"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ReferenceModel is a fitted reference: its linear components, the embedding
// of its cells and optionally a fitted visualization model. Queries are mapped
// onto it without ever recomputing or modifying it.
type ReferenceModel struct {
	Name      string
	Cells     []string
	Features  []string
	Center    []float64  // Per-feature center used by the projection
	Scale     []float64  // Per-feature scale used by the projection
	Loadings  *mat.Dense // features x dims
	Embedding *mat.Dense // cells x dims
	Labels    map[string][]string
	Values    map[string][]float64
	Visual    VisualModel
}

// Len returns the number of reference cells
func (r *ReferenceModel) Len() int { return len(r.Cells) }

// Dims returns the dimensionality of the reference embedding
func (r *ReferenceModel) Dims() int {
	_, c := r.Embedding.Dims()
	return c
}

// reduction exposes the projection parameters
func (r *ReferenceModel) reduction() *Reduction {
	return &Reduction{Loadings: r.Loadings, Center: r.Center, Scale: r.Scale}
}

// queryMatrix lays out the query on the reference features. Features absent
// from the query are filled with the reference center, i.e. they project to 0.
func (r *ReferenceModel) queryMatrix(query *Dataset) (*mat.Dense, int, error) {
	idx := query.featureIndex()
	shared := 0
	for _, f := range r.Features {
		if _, ok := idx[f]; ok {
			shared++
		}
	}
	if shared == 0 {
		return nil, 0, &FeatureError{A: r.Name, B: query.Name,
			NumA: len(r.Features), NumB: len(query.Features)}
	}
	n := query.Len()
	x := mat.NewDense(n, len(r.Features), nil)
	for j, f := range r.Features {
		col, ok := idx[f]
		for i := 0; i < n; i++ {
			if ok {
				x.Set(i, j, query.X.At(i, col))
			} else {
				x.Set(i, j, r.Center[j])
			}
		}
	}
	return x, shared, nil
}

// Validate checks the shapes of all the parts
func (r *ReferenceModel) Validate() error {
	if r.Embedding == nil || r.Loadings == nil {
		return fmt.Errorf("reference `%s`: missing embedding or loadings", r.Name)
	}
	n, d := r.Embedding.Dims()
	p, ld := r.Loadings.Dims()
	switch {
	case n != len(r.Cells):
		return fmt.Errorf("reference `%s`: %d embedding rows for %d cells", r.Name, n, len(r.Cells))
	case p != len(r.Features) || len(r.Center) != p || len(r.Scale) != p:
		return fmt.Errorf("reference `%s`: loadings/center/scale do not match %d features", r.Name, len(r.Features))
	case d != ld:
		return fmt.Errorf("reference `%s`: embedding has %d dims, loadings %d", r.Name, d, ld)
	}
	for key, labels := range r.Labels {
		if len(labels) != n {
			return fmt.Errorf("reference `%s`: label `%s` has %d entries for %d cells", r.Name, key, len(labels), n)
		}
	}
	return nil
}

// BuildReference fits the components on a single dataset. With a non-nil
// fitter the visualization model is fitted on the embedding as well.
func BuildReference(ds *Dataset, reducer Reducer, dims int, fitter VisualFitter) (*ReferenceModel, error) {
	if err := checkCells(ds.Name, ds.Len(), dims, "dims"); err != nil {
		return nil, err
	}
	red, err := reducer.Reduce(ds.X, dims)
	if err != nil {
		return nil, fmt.Errorf("reference `%s`: %w", ds.Name, err)
	}
	ref := &ReferenceModel{
		Name:      ds.Name,
		Cells:     ds.Cells,
		Features:  ds.Features,
		Center:    red.Center,
		Scale:     red.Scale,
		Loadings:  red.Loadings,
		Embedding: red.Scores,
		Labels:    ds.Labels,
		Values:    ds.Values,
	}
	if err := ref.fitVisual(fitter); err != nil {
		return nil, err
	}
	log.Noticef("Reference `%s` built: %d cells, %d features, %d dims", ref.Name, ref.Len(), len(ref.Features), dims)
	return ref, nil
}

// BuildIntegratedReference pools several datasets, fits shared components,
// integrates them and keeps the corrected embedding as the reference
func BuildIntegratedReference(ctx context.Context, datasets []*Dataset, cfg Config,
	reducer Reducer, fitter VisualFitter) (*ReferenceModel, *Integrated, error) {
	if len(datasets) == 0 {
		return nil, nil, fmt.Errorf("no datasets to build a reference from")
	}
	features, err := SharedFeatures(datasets...)
	if err != nil {
		return nil, nil, err
	}
	embedded, red, err := JointEmbed(datasets, features, reducer, cfg.Dims)
	if err != nil {
		return nil, nil, err
	}

	anchorer := &Anchorer{Config: cfg}
	anchors, order, err := anchorer.FindAnchors(ctx, embedded)
	if err != nil {
		return nil, nil, err
	}
	integrator := &Integrator{Config: cfg}
	integrated, err := integrator.Integrate(ctx, embedded, anchors, order)
	if err != nil {
		return nil, nil, err
	}

	names := make([]string, len(datasets))
	for i, ds := range datasets {
		names[i] = ds.Name
	}
	ref := &ReferenceModel{
		Name:      strings.Join(names, "+"),
		Cells:     integrated.Cells,
		Features:  features,
		Center:    red.Center,
		Scale:     red.Scale,
		Loadings:  red.Loadings,
		Embedding: integrated.Matrix,
		Labels:    pooledLabels(datasets),
		Values:    pooledValues(datasets),
	}
	if err := ref.fitVisual(fitter); err != nil {
		return nil, nil, err
	}
	log.Noticef("Integrated reference `%s` built: %d cells, %d features, %d dims",
		ref.Name, ref.Len(), len(features), cfg.Dims)
	return ref, integrated, nil
}

// fitVisual fits the visualization model when a fitter is given
func (r *ReferenceModel) fitVisual(fitter VisualFitter) error {
	if fitter == nil {
		return nil
	}
	visual, err := fitter.Fit(r.Embedding)
	if err != nil {
		return fmt.Errorf("reference `%s`: fit visualization: %w", r.Name, err)
	}
	r.Visual = visual
	return nil
}

// JointEmbed reduces the pooled shared features of all datasets and returns
// shallow copies of the datasets carrying their rows of the joint embedding
func JointEmbed(datasets []*Dataset, features []string, reducer Reducer, dims int) ([]*Dataset, *Reduction, error) {
	parts := make([]*mat.Dense, len(datasets))
	for i, ds := range datasets {
		parts[i] = ds.columns(features)
	}
	red, err := reducer.Reduce(stackRows(parts...), dims)
	if err != nil {
		return nil, nil, fmt.Errorf("joint embedding: %w", err)
	}
	out := make([]*Dataset, len(datasets))
	offset := 0
	for i, ds := range datasets {
		cp := *ds
		cp.Embedding = sliceRows(red.Scores, offset, offset+ds.Len())
		out[i] = &cp
		offset += ds.Len()
	}
	return out, red, nil
}

// pooledLabels concatenates the label keys present in every dataset
func pooledLabels(datasets []*Dataset) map[string][]string {
	pooled := map[string][]string{}
	for key := range datasets[0].Labels {
		var all []string
		complete := true
		for _, ds := range datasets {
			labels, ok := ds.Labels[key]
			if !ok {
				complete = false
				break
			}
			all = append(all, labels...)
		}
		if complete {
			pooled[key] = all
		}
	}
	return pooled
}

// pooledValues concatenates the value keys present in every dataset
func pooledValues(datasets []*Dataset) map[string][]float64 {
	pooled := map[string][]float64{}
	for key := range datasets[0].Values {
		var all []float64
		complete := true
		for _, ds := range datasets {
			values, ok := ds.Values[key]
			if !ok {
				complete = false
				break
			}
			all = append(all, values...)
		}
		if complete {
			pooled[key] = all
		}
	}
	return pooled
}
