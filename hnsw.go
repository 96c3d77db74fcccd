/*
 *  hnsw.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// HNSWSearcher is the approximate backend, a Hierarchical Navigable Small
// World graph. Only the candidate recall is approximate, the candidates are
// re-ranked on exact Euclidean distances with ties going to the lower index.
type HNSWSearcher struct {
	M              int // Max number of connections per node per layer
	EfConstruction int // Size of the dynamic candidate list during insertion
	EfSearch       int // Size of the dynamic candidate list during search
	Seed           int64
}

// hnswIndex wraps the graph together with the float64 rows for re-ranking
type hnswIndex struct {
	sync.Mutex // the graph is not safe for concurrent use
	graph      *hnsw.Graph[int]
	rows       [][]float64
	efSearch   int
}

// Build inserts all the rows of data, keyed by row index
func (s *HNSWSearcher) Build(data *mat.Dense) (NeighborIndex, error) {
	m := s.M
	if m <= 1 {
		m = 16
	}
	efc := s.EfConstruction
	if efc <= 0 {
		efc = 200
	}
	g := hnsw.NewGraph[int]()
	g.M = m
	g.Distance = hnsw.EuclideanDistance
	g.Rng = rand.New(rand.NewSource(s.Seed))
	// Insertion searches with the graph's EfSearch
	g.EfSearch = efc

	rows := matRows(data)
	nodes := make([]hnsw.Node[int], len(rows))
	for i, row := range rows {
		nodes[i] = hnsw.MakeNode(i, toFloat32(row))
	}
	g.Add(nodes...)
	log.Debugf("HNSW index built over %d rows (M = %d, ef = %d)", len(rows), m, efc)
	return &hnswIndex{graph: g, rows: rows, efSearch: s.EfSearch}, nil
}

// Len returns the number of indexed rows
func (h *hnswIndex) Len() int { return len(h.rows) }

// Search asks the graph for at least 2k candidates, then re-ranks them
func (h *hnswIndex) Search(q []float64, k int) []Neighbor {
	if k <= 0 || len(h.rows) == 0 {
		return nil
	}
	want := max(2*k, h.efSearch)
	if want > len(h.rows) {
		want = len(h.rows)
	}

	h.Lock()
	h.graph.EfSearch = want
	found := h.graph.Search(toFloat32(q), want)
	h.Unlock()

	res := make([]Neighbor, len(found))
	for i, node := range found {
		res[i] = Neighbor{Index: node.Key, Distance: floats.Distance(q, h.rows[node.Key], 2)}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Distance == res[j].Distance {
			return res[i].Index < res[j].Index
		}
		return res[i].Distance < res[j].Distance
	})
	if len(res) > k {
		res = res[:k]
	}
	return res
}

func toFloat32(v []float64) []float32 {
	res := make([]float32, len(v))
	for i, x := range v {
		res[i] = float32(x)
	}
	return res
}
