/*
 *  score_test.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// line puts the values on a 1D embedding
func line(values ...float64) *mat.Dense {
	return mat.NewDense(len(values), 1, values)
}

func TestScoreAnchors(t *testing.T) {
	ea := line(0, 1, 2, 10)
	eb := line(0, 1, 2, 10)
	anchors := []Anchor{
		{Dataset1: 0, Cell1: 0, Dataset2: 1, Cell2: 0},
		{Dataset1: 0, Cell1: 1, Dataset2: 1, Cell2: 1},
		{Dataset1: 0, Cell1: 3, Dataset2: 1, Cell2: 3},
	}
	scored, err := ScoreAnchors(context.Background(), anchors, ea, eb, 1, &ExactSearcher{}, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 0}, []float64{scored[0].Score, scored[1].Score, scored[2].Score})
	assert.Zero(t, anchors[0].Score, "input anchors are not scored in place")

	_, err = ScoreAnchors(context.Background(), anchors, ea, eb, 4, &ExactSearcher{}, 1)
	assert.True(t, errors.Is(err, ErrInsufficientCells))
}

func TestFilterAnchors(t *testing.T) {
	xa := line(0, 1, 2, 10)
	xb := line(0, 1, 2, 10)
	anchors := []Anchor{
		{Dataset1: 0, Cell1: 0, Dataset2: 1, Cell2: 0},
		{Dataset1: 0, Cell1: 0, Dataset2: 1, Cell2: 3},
		{Dataset1: 0, Cell1: 3, Dataset2: 1, Cell2: 3},
	}
	kept, err := FilterAnchors(context.Background(), anchors, xa, xb, 1, &ExactSearcher{}, 1)
	require.NoError(t, err)
	assert.Equal(t, []Anchor{anchors[0], anchors[2]}, kept)

	all, err := FilterAnchors(context.Background(), anchors, xa, xb, 0, &ExactSearcher{}, 1)
	require.NoError(t, err)
	assert.Equal(t, anchors, all)

	_, err = FilterAnchors(context.Background(), anchors, xa, xb, 5, &ExactSearcher{}, 1)
	var ce *CellCountError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "k_filter", ce.What)
}

func TestFindMutualNeighborsLine(t *testing.T) {
	ea := line(0, 5, 10)
	eb := line(0.1, 5.2, 20)
	anchors, err := FindMutualNeighbors(context.Background(), ea, eb, 1, &ExactSearcher{}, 1)
	require.NoError(t, err)
	assert.Equal(t, []Anchor{
		{Dataset1: 0, Cell1: 0, Dataset2: 1, Cell2: 0},
		{Dataset1: 0, Cell1: 1, Dataset2: 1, Cell2: 1},
	}, anchors)

	_, err = FindMutualNeighbors(context.Background(), ea, eb, 4, &ExactSearcher{}, 1)
	assert.True(t, errors.Is(err, ErrInsufficientCells))
}
