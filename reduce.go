/*
 *  reduce.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Reduction is a fitted linear dimensionality reduction
type Reduction struct {
	Scores   *mat.Dense // cells x k
	Loadings *mat.Dense // features x k
	Center   []float64  // Per-feature mean subtracted before projection
	Scale    []float64  // Per-feature scale divided before projection
	Variance []float64  // Variance explained by each component
}

// Reducer computes a k-dimensional embedding for the rows of x. It must be
// deterministic for a fixed input.
type Reducer interface {
	Reduce(x *mat.Dense, k int) (*Reduction, error)
}

// PCA is the default Reducer, a thin SVD of the centered (and optionally
// scaled) matrix
type PCA struct {
	Scale bool
}

// Reduce runs the PCA
func (r PCA) Reduce(x *mat.Dense, k int) (*Reduction, error) {
	n, p := x.Dims()
	if k < 1 {
		return nil, fmt.Errorf("pca: k must be positive, got %d", k)
	}
	if n < k {
		return nil, &CellCountError{Dataset: "pca input", Cells: n, Need: k, What: "dims"}
	}
	if p < k {
		return nil, fmt.Errorf("pca: %d features cannot give %d components", p, k)
	}

	center := make([]float64, p)
	scale := make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		mean, sd := stat.MeanStdDev(col, nil)
		center[j] = mean
		scale[j] = 1
		if r.Scale && n > 1 && sd > EPS && !math.IsNaN(sd) {
			scale[j] = sd
		}
	}
	centered := mat.NewDense(n, p, nil)
	centered.Apply(func(i, j int, v float64) float64 {
		return (v - center[j]) / scale[j]
	}, x)

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, errors.New("pca: SVD factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	values := svd.Values(nil)

	loadings := mat.DenseCopyOf(v.Slice(0, p, 0, k))
	orientColumns(loadings)
	var scores mat.Dense
	scores.Mul(centered, loadings)

	variance := make([]float64, k)
	for i := 0; i < k; i++ {
		variance[i] = values[i] * values[i] / math.Max(float64(n-1), 1)
	}
	return &Reduction{Scores: &scores, Loadings: loadings, Center: center,
		Scale: scale, Variance: variance}, nil
}

// Project maps new rows, which must have the same features, into the components
func (r *Reduction) Project(x *mat.Dense) *mat.Dense {
	n, p := x.Dims()
	centered := mat.NewDense(n, p, nil)
	centered.Apply(func(i, j int, v float64) float64 {
		return (v - r.Center[j]) / r.Scale[j]
	}, x)
	var out mat.Dense
	out.Mul(centered, r.Loadings)
	return &out
}

// orientColumns flips every column so that its largest entry by magnitude is
// positive, which makes the sign of SVD components reproducible
func orientColumns(m *mat.Dense) {
	r, c := m.Dims()
	for j := 0; j < c; j++ {
		best := 0.0
		for i := 0; i < r; i++ {
			if v := m.At(i, j); math.Abs(v) > math.Abs(best) {
				best = v
			}
		}
		if best < 0 {
			for i := 0; i < r; i++ {
				m.Set(i, j, -m.At(i, j))
			}
		}
	}
}
