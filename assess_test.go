/*
 *  assess_test.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanghaibao/scanchor"
	"gonum.org/v1/gonum/mat"
)

func TestMatchedAccuracy(t *testing.T) {
	truth := []string{"a", "a", "b", "b", "c"}
	pred := []string{"x", "x", "y", "y", "y"}
	acc, matching, err := scanchor.MatchedAccuracy(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, acc, 1e-12)
	assert.Equal(t, map[string]string{"x": "a", "y": "b"}, matching)

	// Renaming clusters does not change anything
	acc, _, err = scanchor.MatchedAccuracy([]string{"a", "b", "c"}, []string{"3", "1", "2"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, acc)

	_, _, err = scanchor.MatchedAccuracy(truth, pred[:2])
	assert.Error(t, err)
}

func TestAgreement(t *testing.T) {
	assert.Equal(t, 0.5, scanchor.Agreement([]string{"a", "b"}, []string{"a", "c"}))
	assert.Equal(t, 0.0, scanchor.Agreement(nil, nil))
}

func TestMixingPurity(t *testing.T) {
	nbs := [][]scanchor.Neighbor{
		{{Index: 1}, {Index: 2}},
		{{Index: 0}, {Index: 3}},
		{{Index: 3}, {Index: 0}},
		{{Index: 2}, {Index: 1}},
	}
	batch := []int{0, 0, 1, 1}
	labels := []string{"T", "B", "T", "B"}
	assert.InDelta(t, 0.5, scanchor.Mixing(nbs, batch), 1e-12)
	assert.InDelta(t, 0.5, scanchor.Purity(nbs, labels), 1e-12)
}

func TestKMeans(t *testing.T) {
	s := newSynth(13, 10, 3, 5)
	ds := s.dataset(t, "blobs", []int{20, 20, 20}, 0, 0.5)
	assign, err := scanchor.KMeans(ds.X, 3, 10)
	require.NoError(t, err)
	predicted := make([]string, len(assign))
	for i, c := range assign {
		predicted[i] = string(rune('A' + c))
	}
	acc, _, err := scanchor.MatchedAccuracy(ds.Labels["group"], predicted)
	require.NoError(t, err)
	assert.Equal(t, 1.0, acc)

	single, err := scanchor.KMeans(ds.X, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, make([]int, 60), single)
}

func TestAssessShapes(t *testing.T) {
	m := mat.NewDense(3, 1, []float64{0, 1, 2})
	_, err := (&scanchor.Assesser{K: 1}).Assess(context.Background(), m, []int{0, 1}, []string{"a", "b", "c"})
	assert.Error(t, err)
}
