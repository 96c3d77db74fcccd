/*
 *  align_test.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanghaibao/scanchor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestAlignCCA(t *testing.T) {
	datasets := twoBatches(t)
	a, b := datasets[0], datasets[1]
	xa := mat.DenseCopyOf(a.X)

	al, err := scanchor.Align(a, b, scanchor.AlignOptions{Mode: scanchor.AlignCCA, Dims: 2})
	require.NoError(t, err)
	assert.Equal(t, scanchor.AlignCCA, al.Mode)
	assert.Len(t, al.Features, 50)
	r, c := al.A.Dims()
	assert.Equal(t, 100, r)
	assert.Equal(t, 2, c)
	r, c = al.B.Dims()
	assert.Equal(t, 80, r)
	assert.Equal(t, 2, c)
	for i := 0; i < r; i++ {
		assert.InDelta(t, 1, floats.Norm(al.NormB.RawRowView(i), 2), 1e-9)
	}
	assert.True(t, mat.Equal(xa, a.X), "inputs are left untouched")

	// Deterministic, signs included
	again, err := scanchor.Align(a, b, scanchor.AlignOptions{Mode: scanchor.AlignCCA, Dims: 2})
	require.NoError(t, err)
	assert.True(t, mat.Equal(al.A, again.A))
	assert.True(t, mat.Equal(al.B, again.B))

	_, err = scanchor.Align(a, b, scanchor.AlignOptions{Mode: scanchor.AlignCCA, Dims: 90})
	assert.True(t, errors.Is(err, scanchor.ErrInsufficientCells))
}

func TestAlignProjectNeedsReference(t *testing.T) {
	datasets := twoBatches(t)
	_, err := scanchor.Align(nil, datasets[1], scanchor.AlignOptions{Mode: scanchor.AlignProject})
	assert.True(t, errors.Is(err, scanchor.ErrNoReferenceModel))
}

func TestAlignProjectPartialFeatures(t *testing.T) {
	datasets := twoBatches(t)
	ref, err := scanchor.BuildReference(datasets[0], scanchor.PCA{}, 3, nil)
	require.NoError(t, err)

	// Drop half of the features of the query
	query := datasets[1]
	keep := query.Features[:25]
	sub, err := scanchor.NewDataset(query.Name, query.Cells, keep,
		mat.DenseCopyOf(query.X.Slice(0, query.Len(), 0, 25)))
	require.NoError(t, err)
	al, err := scanchor.Align(nil, sub, scanchor.AlignOptions{Mode: scanchor.AlignProject, Reference: ref})
	require.NoError(t, err)
	r, c := al.B.Dims()
	assert.Equal(t, 80, r)
	assert.Equal(t, 3, c)
	assert.Same(t, ref.Embedding, al.A)

	other, err := scanchor.NewDataset("other", []string{"x"}, []string{"unrelated"}, mat.NewDense(1, 1, []float64{1}))
	require.NoError(t, err)
	_, err = scanchor.Align(nil, other, scanchor.AlignOptions{Mode: scanchor.AlignProject, Reference: ref})
	var fe *scanchor.FeatureError
	assert.True(t, errors.As(err, &fe))
}

func TestPCA(t *testing.T) {
	datasets := twoBatches(t)
	x := datasets[0].X
	red, err := scanchor.PCA{}.Reduce(x, 4)
	require.NoError(t, err)
	assert.Len(t, red.Variance, 4)
	for i := 1; i < 4; i++ {
		assert.GreaterOrEqual(t, red.Variance[i-1], red.Variance[i])
	}
	// Projecting the fitted rows gives back the scores
	assert.True(t, mat.EqualApprox(red.Scores, red.Project(x), 1e-8))

	_, err = scanchor.PCA{}.Reduce(x, 0)
	assert.Error(t, err)
	_, err = scanchor.PCA{}.Reduce(x, 60)
	assert.Error(t, err)
}

func TestSharedFeatures(t *testing.T) {
	a, err := scanchor.NewDataset("a", []string{"c"}, []string{"g1", "g2", "g3"}, mat.NewDense(1, 3, nil))
	require.NoError(t, err)
	b, err := scanchor.NewDataset("b", []string{"c"}, []string{"g3", "g1"}, mat.NewDense(1, 2, nil))
	require.NoError(t, err)
	shared, err := scanchor.SharedFeatures(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g3"}, shared)

	_, err = scanchor.NewDataset("dup", []string{"c"}, []string{"g1", "g1"}, mat.NewDense(1, 2, nil))
	assert.Error(t, err)
	_, err = scanchor.NewDataset("shape", []string{"c"}, []string{"g1"}, mat.NewDense(1, 2, nil))
	assert.Error(t, err)
}
