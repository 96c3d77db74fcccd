/*
 *  dataset.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Dataset is a batch of cells sharing one feature matrix. X has one row per
// cell and one column per feature. Embedding, when set, has one row per cell
// in a space that is comparable across the datasets being integrated.
type Dataset struct {
	Name      string
	Cells     []string
	Features  []string
	X         *mat.Dense
	Embedding *mat.Dense
	Labels    map[string][]string  // Categorical annotations, key => per-cell label
	Values    map[string][]float64 // Continuous annotations, key => per-cell value
}

// NewDataset checks the shapes and builds a dataset
func NewDataset(name string, cells, features []string, x *mat.Dense) (*Dataset, error) {
	r, c := x.Dims()
	if r != len(cells) || c != len(features) {
		return nil, fmt.Errorf("dataset `%s`: matrix is %dx%d, expected %dx%d",
			name, r, c, len(cells), len(features))
	}
	seen := make(map[string]bool, len(features))
	for _, f := range features {
		if seen[f] {
			return nil, fmt.Errorf("dataset `%s`: duplicated feature `%s`", name, f)
		}
		seen[f] = true
	}
	return &Dataset{Name: name, Cells: cells, Features: features, X: x,
		Labels: map[string][]string{}, Values: map[string][]float64{}}, nil
}

// Len returns the number of cells
func (r *Dataset) Len() int { return len(r.Cells) }

// SetLabels attaches a categorical annotation
func (r *Dataset) SetLabels(key string, labels []string) error {
	if len(labels) != r.Len() {
		return fmt.Errorf("dataset `%s`: %d labels for %d cells", r.Name, len(labels), r.Len())
	}
	if r.Labels == nil {
		r.Labels = map[string][]string{}
	}
	r.Labels[key] = labels
	return nil
}

// SetValues attaches a continuous annotation
func (r *Dataset) SetValues(key string, values []float64) error {
	if len(values) != r.Len() {
		return fmt.Errorf("dataset `%s`: %d values for %d cells", r.Name, len(values), r.Len())
	}
	if r.Values == nil {
		r.Values = map[string][]float64{}
	}
	r.Values[key] = values
	return nil
}

// featureIndex maps feature name to column
func (r *Dataset) featureIndex() map[string]int {
	idx := make(map[string]int, len(r.Features))
	for i, f := range r.Features {
		idx[f] = i
	}
	return idx
}

// columns extracts the named features, which must all exist, into a new matrix
func (r *Dataset) columns(features []string) *mat.Dense {
	idx := r.featureIndex()
	n := r.Len()
	out := mat.NewDense(n, len(features), nil)
	for j, f := range features {
		col := idx[f]
		for i := 0; i < n; i++ {
			out.Set(i, j, r.X.At(i, col))
		}
	}
	return out
}

// SharedFeatures intersects the features of all datasets, in the order of the first one
func SharedFeatures(datasets ...*Dataset) ([]string, error) {
	if len(datasets) == 0 {
		return nil, nil
	}
	shared := datasets[0].Features
	for _, ds := range datasets[1:] {
		idx := ds.featureIndex()
		var kept []string
		for _, f := range shared {
			if _, ok := idx[f]; ok {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			return nil, &FeatureError{A: datasets[0].Name, B: ds.Name,
				NumA: len(datasets[0].Features), NumB: len(ds.Features)}
		}
		shared = kept
	}
	return shared, nil
}

// standardize centers and scales every column, constant columns become zero
func standardize(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		mean, sd := stat.MeanStdDev(col, nil)
		if r < 2 || sd < EPS || math.IsNaN(sd) {
			continue
		}
		for i := 0; i < r; i++ {
			out.Set(i, j, (col[i]-mean)/sd)
		}
	}
	return out
}

// l2Normalize returns a copy with unit-length rows, zero rows stay zero
func l2Normalize(x *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(x)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		norm := floats.Norm(row, 2)
		if norm > EPS {
			floats.Scale(1/norm, row)
		}
	}
	return out
}

// stackRows concatenates matrices with the same number of columns
func stackRows(ms ...*mat.Dense) *mat.Dense {
	total, cols := 0, 0
	for _, m := range ms {
		r, c := m.Dims()
		total += r
		cols = c
	}
	out := mat.NewDense(total, cols, nil)
	offset := 0
	for _, m := range ms {
		r, _ := m.Dims()
		for i := 0; i < r; i++ {
			out.SetRow(offset+i, m.RawRowView(i))
		}
		offset += r
	}
	return out
}

// sliceRows copies rows [from, to) of m
func sliceRows(m *mat.Dense, from, to int) *mat.Dense {
	_, c := m.Dims()
	return mat.DenseCopyOf(m.Slice(from, to, 0, c))
}
