/*
 *  isomap_test.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanghaibao/scanchor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// tiltedGrid lays an n x n grid on a tilted plane in 3D
func tiltedGrid(n int) *mat.Dense {
	m := mat.NewDense(n*n, 3, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x, y := float64(i), float64(j)
			m.SetRow(i*n+j, []float64{x * 0.6, y, x * 0.8})
		}
	}
	return m
}

// pairwise flattens the upper triangle of the distance matrix
func pairwise(m *mat.Dense) []float64 {
	r, _ := m.Dims()
	var d []float64
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			d = append(d, floats.Distance(m.RawRowView(i), m.RawRowView(j), 2))
		}
	}
	return d
}

func TestLandmarkIsomapGrid(t *testing.T) {
	points := tiltedGrid(12)
	fitter := &scanchor.LandmarkIsomap{K: 8, Landmarks: 30, Dims: 2, Seed: 3}
	model, err := fitter.Fit(points)
	require.NoError(t, err)
	iso := model.(*scanchor.IsomapModel)
	assert.Equal(t, 2, iso.Dims())
	assert.Len(t, iso.Landmarks, 30)

	// The plane is unrolled with its distances preserved
	r := stat.Correlation(pairwise(points), pairwise(iso.Layout), nil)
	assert.Greater(t, r, 0.95)

	// Fitted points are placed where the layout has them
	again, err := model.Predict(points)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(iso.Layout, again, 1e-9))

	// An out of sample point lands between its neighbors
	mid := mat.NewDense(1, 3, []float64{5.5 * 0.6, 5.5, 5.5 * 0.8})
	got, err := model.Predict(mid)
	require.NoError(t, err)
	corners := []int{5*12 + 5, 5*12 + 6, 6*12 + 5, 6*12 + 6}
	center := make([]float64, 2)
	for _, c := range corners {
		floats.Add(center, iso.Layout.RawRowView(c))
	}
	floats.Scale(0.25, center)
	assert.Less(t, floats.Distance(center, got.RawRowView(0), 2), 1.0)

	_, err = model.Predict(mat.NewDense(1, 2, []float64{0, 0}))
	assert.Error(t, err)
}

func TestLandmarkIsomapTooSmall(t *testing.T) {
	fitter := scanchor.NewLandmarkIsomap()
	_, err := fitter.Fit(tiltedGrid(3))
	assert.ErrorIs(t, err, scanchor.ErrInsufficientCells)
}

func TestRefinerNeverWorse(t *testing.T) {
	landmarks := [][]float64{{0, 0}, {4, 0}, {0, 3}, {4, 3}}
	target := []float64{1, 1}
	delta := make([]float64, len(landmarks))
	for j, l := range landmarks {
		delta[j] = floats.Distance(target, l, 2)
	}
	stress := func(x []float64) float64 {
		s := 0.0
		for j, l := range landmarks {
			d := floats.Distance(x, l, 2) - delta[j]
			s += d * d
		}
		return s
	}

	start := []float64{2, 2}
	refined, err := scanchor.NewRefiner(7).Refine(start, landmarks, delta)
	require.NoError(t, err)
	require.Len(t, refined, 2)
	assert.LessOrEqual(t, stress(refined), stress(start))

	// Already optimal points stay put
	exact, err := scanchor.NewRefiner(7).Refine(target, landmarks, delta)
	require.NoError(t, err)
	assert.Equal(t, target, exact)

	// No spread, no search
	flat, err := (&scanchor.Refiner{Seed: 1, NPop: 4, NGen: 2}).Refine(start, landmarks, delta)
	require.NoError(t, err)
	assert.Equal(t, start, flat)
	assert.False(t, math.IsNaN(stress(refined)))
}
