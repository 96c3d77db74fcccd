/*
 *  isomap.go
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
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/mds"
)

// VisualFitter fits a nonlinear visualization of an embedding
type VisualFitter interface {
	Fit(emb *mat.Dense) (VisualModel, error)
}

// VisualModel places new rows in a fitted visualization without refitting
type VisualModel interface {
	Predict(emb *mat.Dense) (*mat.Dense, error)
}

// LandmarkIsomap is the default VisualFitter. Geodesic distances are taken
// over the K nearest neighbor graph from a set of landmarks, which are laid
// out by classical scaling. Every other point is then triangulated from its
// geodesic distances to the landmarks.
type LandmarkIsomap struct {
	K         int
	Landmarks int
	Dims      int
	Seed      int64
	Refiner   *Refiner // Optional refinement of out of sample points
}

// NewLandmarkIsomap returns a 2D fitter with the default sizes
func NewLandmarkIsomap() *LandmarkIsomap {
	return &LandmarkIsomap{K: DefaultKVisual, Landmarks: DefaultLandmarks, Dims: 2, Seed: 42}
}

// IsomapModel is a fitted LandmarkIsomap
type IsomapModel struct {
	K         int
	Points    *mat.Dense // Fitted rows
	Landmarks []int      // Row indices of the landmarks
	Geodesic  *mat.Dense // landmarks x points geodesic distances
	Pseudo    *mat.Dense // landmarks x dims, triangulation operator
	Mean      []float64  // Mean squared distance of every landmark to the others
	Layout    *mat.Dense // points x dims coordinates of the fitted rows
	Refiner   *Refiner
}

// Fit builds the neighbor graph, picks the landmarks and lays everything out
func (r *LandmarkIsomap) Fit(emb *mat.Dense) (VisualModel, error) {
	n, _ := emb.Dims()
	if err := checkCells("visualization input", n, r.K+1, "k_visual"); err != nil {
		return nil, err
	}
	if r.Dims < 1 {
		return nil, fmt.Errorf("isomap: dims must be positive, got %d", r.Dims)
	}
	nLandmarks := min(r.Landmarks, n)
	if err := checkCells("visualization input", nLandmarks, r.Dims+1, "landmarks"); err != nil {
		return nil, err
	}

	idx, _ := (&ExactSearcher{}).Build(emb)
	nbs, err := knnAll(context.Background(), idx, emb, r.K, true, 1)
	if err != nil {
		return nil, err
	}
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for i, list := range nbs {
		for _, nb := range list {
			if !g.HasEdgeBetween(int64(i), int64(nb.Index)) {
				g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(i), simple.Node(nb.Index), nb.Distance))
			}
		}
	}

	rows := matRows(emb)
	geodesic := func(from int) []float64 {
		shortest := path.DijkstraFrom(simple.Node(from), g)
		d := make([]float64, n)
		for j := range d {
			d[j] = shortest.WeightTo(int64(j))
			// Disconnected parts of the graph fall back to straight lines
			if math.IsInf(d[j], 1) {
				d[j] = floats.Distance(rows[from], rows[j], 2)
			}
		}
		return d
	}

	// Farthest point sampling of the landmarks
	rng := rand.New(rand.NewSource(r.Seed))
	landmarks := []int{rng.Intn(n)}
	G := [][]float64{geodesic(landmarks[0])}
	nearest := append([]float64(nil), G[0]...)
	for len(landmarks) < nLandmarks {
		next := floats.MaxIdx(nearest)
		if nearest[next] <= 0 { // Only duplicates left
			break
		}
		landmarks = append(landmarks, next)
		d := geodesic(next)
		G = append(G, d)
		for j := range nearest {
			nearest[j] = math.Min(nearest[j], d[j])
		}
	}

	L := len(landmarks)
	dis := mat.NewSymDense(L, nil)
	for i := 0; i < L; i++ {
		for j := i + 1; j < L; j++ {
			dis.SetSym(i, j, (G[i][landmarks[j]]+G[j][landmarks[i]])/2)
		}
	}
	var coords mat.Dense
	eig := make([]float64, L)
	k, _ := mds.TorgersonScaling(&coords, eig, dis)
	if k == 0 {
		return nil, fmt.Errorf("isomap: classical scaling of %d landmarks failed", L)
	}
	dims := min(r.Dims, k)
	if dims < r.Dims {
		log.Warningf("Isomap: only %d positive eigenvalues, layout has %d dims", k, dims)
	}

	pseudo := mat.NewDense(L, dims, nil)
	for j := 0; j < L; j++ {
		for d := 0; d < dims; d++ {
			pseudo.Set(j, d, coords.At(j, d)/eig[d])
		}
	}
	mean := make([]float64, L)
	for j := 0; j < L; j++ {
		for i := 0; i < L; i++ {
			v := dis.At(i, j)
			mean[j] += v * v
		}
		mean[j] /= float64(L)
	}

	geo := mat.NewDense(L, n, nil)
	for j := range G {
		geo.SetRow(j, G[j])
	}
	model := &IsomapModel{
		K:         r.K,
		Points:    mat.DenseCopyOf(emb),
		Landmarks: landmarks,
		Geodesic:  geo,
		Pseudo:    pseudo,
		Mean:      mean,
		Refiner:   r.Refiner,
	}
	layout := mat.NewDense(n, dims, nil)
	delta := make([]float64, L)
	for i := 0; i < n; i++ {
		mat.Col(delta, i, geo)
		layout.SetRow(i, model.triangulate(delta))
	}
	model.Layout = layout
	log.Noticef("Isomap fitted on %d points with %d landmarks, k = %d, %d dims", n, L, r.K, dims)
	return model, nil
}

// triangulate places a point from its distances to the landmarks
func (r *IsomapModel) triangulate(delta []float64) []float64 {
	L, dims := r.Pseudo.Dims()
	x := make([]float64, dims)
	for j := 0; j < L; j++ {
		v := delta[j]*delta[j] - r.Mean[j]
		for d := 0; d < dims; d++ {
			x[d] -= 0.5 * r.Pseudo.At(j, d) * v
		}
	}
	return x
}

// Dims returns the dimensionality of the layout
func (r *IsomapModel) Dims() int {
	_, c := r.Layout.Dims()
	return c
}

// Predict routes every new row through its K nearest fitted rows to reach
// the landmarks, then triangulates it
func (r *IsomapModel) Predict(emb *mat.Dense) (*mat.Dense, error) {
	_, p := emb.Dims()
	if _, fp := r.Points.Dims(); fp != p {
		return nil, fmt.Errorf("isomap: model was fitted on %d dims, got %d", fp, p)
	}
	idx, _ := (&ExactSearcher{}).Build(r.Points)
	nbs, err := knnAll(context.Background(), idx, emb, r.K, false, 1)
	if err != nil {
		return nil, err
	}
	L := len(r.Landmarks)
	out := mat.NewDense(len(nbs), r.Dims(), nil)
	delta := make([]float64, L)
	for i, list := range nbs {
		for j := 0; j < L; j++ {
			best := math.Inf(1)
			for _, nb := range list {
				best = math.Min(best, nb.Distance+r.Geodesic.At(j, nb.Index))
			}
			delta[j] = best
		}
		x := r.triangulate(delta)
		if r.Refiner != nil {
			x, err = r.Refiner.Refine(x, r.landmarkLayout(), delta)
			if err != nil {
				return nil, err
			}
		}
		out.SetRow(i, x)
	}
	return out, nil
}

// landmarkLayout returns the coordinates of the landmarks
func (r *IsomapModel) landmarkLayout() [][]float64 {
	res := make([][]float64, len(r.Landmarks))
	for j, l := range r.Landmarks {
		res[j] = r.Layout.RawRowView(l)
	}
	return res
}
