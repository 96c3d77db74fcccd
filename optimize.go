/**
 * Filename: /Users/bao/code/scanchor/optimize.go
 * Path: /Users/bao/code/scanchor
 * Created Date: Tuesday, January 2nd 2018, 10:00:33 pm
 * Author: bao
 *
 * Copyright (c) 2018 Haibao Tang
 */

package scanchor

import (
	"math"
	"math/rand"

	"github.com/MaxHalford/eaopt"
	"gonum.org/v1/gonum/floats"
)

// Refiner polishes the triangulated position of an out of sample point by
// Genetic Algorithm, minimizing its stress against the landmark distances
type Refiner struct {
	Seed    int64
	NPop    int
	NGen    int
	MutProb float64
	Spread  float64 // Scale of the mutation, relative to the mean landmark distance
}

// NewRefiner returns a refiner with small default budgets
func NewRefiner(seed int64) *Refiner {
	return &Refiner{Seed: seed, NPop: 40, NGen: 30, MutProb: 0.5, Spread: 0.05}
}

// layout is the genome, a candidate position
type layout struct {
	x         []float64
	landmarks [][]float64
	delta     []float64
	spread    float64
	mutProb   float64
}

// stress is the squared mismatch between layout and geodesic distances
func stress(x []float64, landmarks [][]float64, delta []float64) float64 {
	s := 0.0
	for j, l := range landmarks {
		d := floats.Distance(x, l, 2) - delta[j]
		s += d * d
	}
	return s
}

// Evaluate returns the stress of the position
func (r *layout) Evaluate() (float64, error) {
	return stress(r.x, r.landmarks, r.delta), nil
}

// Mutate shifts coordinates by gaussian noise
func (r *layout) Mutate(rng *rand.Rand) {
	for i := range r.x {
		if rng.Float64() < r.mutProb {
			r.x[i] += rng.NormFloat64() * r.spread
		}
	}
}

// Crossover swaps coordinates with another position
func (r *layout) Crossover(q eaopt.Genome, rng *rand.Rand) {
	eaopt.CrossUniformFloat64(r.x, q.(*layout).x, rng)
}

// Clone copies the position, the landmarks are shared read only
func (r *layout) Clone() eaopt.Genome {
	c := *r
	c.x = append([]float64(nil), r.x...)
	return &c
}

// Refine starts the population around start and returns the best position
// seen, start included
func (r *Refiner) Refine(start []float64, landmarks [][]float64, delta []float64) ([]float64, error) {
	spread := r.Spread * meanOf(delta)
	if spread <= 0 || math.IsNaN(spread) {
		return start, nil
	}
	conf := eaopt.NewDefaultGAConfig()
	conf.NPops = 1
	conf.PopSize = uint(r.NPop)
	conf.NGenerations = uint(r.NGen)
	conf.RNG = rand.New(rand.NewSource(r.Seed))
	conf.ParallelEval = false
	ga, err := conf.NewGA()
	if err != nil {
		return nil, err
	}

	factory := func(rng *rand.Rand) eaopt.Genome {
		x := append([]float64(nil), start...)
		for i := range x {
			x[i] += rng.NormFloat64() * spread
		}
		return &layout{x: x, landmarks: landmarks, delta: delta, spread: spread, mutProb: r.MutProb}
	}
	if err := ga.Minimize(factory); err != nil {
		return nil, err
	}

	best := ga.HallOfFame[0]
	if best.Fitness < stress(start, landmarks, delta) {
		return best.Genome.(*layout).x, nil
	}
	return start, nil
}

// meanOf returns the mean of a slice, 0 when empty
func meanOf(a []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	return sumf(a) / float64(len(a))
}
