/*
 *  knn.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// knnBlockSize is the number of query rows handled by a worker at once
const knnBlockSize = 256

// Neighbor is a row index together with its Euclidean distance to a query
type Neighbor struct {
	Index    int
	Distance float64
}

// NeighborIndex answers k nearest neighbor queries over a fixed set of rows.
// Implementations must be safe for concurrent Search calls.
type NeighborIndex interface {
	Search(q []float64, k int) []Neighbor
	Len() int
}

// Searcher builds a NeighborIndex over the rows of a matrix
type Searcher interface {
	Build(data *mat.Dense) (NeighborIndex, error)
}

// ExactSearcher is the brute force backend
type ExactSearcher struct{}

// Build keeps views on the rows of data
func (s *ExactSearcher) Build(data *mat.Dense) (NeighborIndex, error) {
	return &exactIndex{rows: matRows(data)}, nil
}

type exactIndex struct {
	rows [][]float64
}

// Len returns the number of indexed rows
func (r *exactIndex) Len() int { return len(r.rows) }

// Search scans all rows, equal distances are resolved by the lowest index
func (r *exactIndex) Search(q []float64, k int) []Neighbor {
	if k > len(r.rows) {
		k = len(r.rows)
	}
	if k <= 0 {
		return nil
	}
	pq := make(PriorityQueue, 0, k)
	for i, row := range r.rows {
		pq.offer(i, floats.Distance(q, row, 2), k)
	}
	return pq.sorted()
}

// matRows returns a slice view of each row of m
func matRows(m *mat.Dense) [][]float64 {
	n, _ := m.Dims()
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = m.RawRowView(i)
	}
	return rows
}

// knnAll searches every row of queries in idx, sharded over blocks of rows.
// With self set, queries and idx hold the same rows and each row drops itself.
func knnAll(ctx context.Context, idx NeighborIndex, queries *mat.Dense, k int, self bool, workers int) ([][]Neighbor, error) {
	n, _ := queries.Dims()
	need := k
	if self {
		need++
	}
	if need > idx.Len() {
		return nil, fmt.Errorf("k = %d exceeds %d indexed rows", k, idx.Len())
	}
	res := make([][]Neighbor, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < n; start += knnBlockSize {
		start := start
		end := start + knnBlockSize
		if end > n {
			end = n
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				nbs := idx.Search(queries.RawRowView(i), need)
				if self {
					nbs = dropIndex(nbs, i, k)
				}
				res[i] = nbs
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// dropIndex removes the query itself from its neighbors and trims to k
func dropIndex(nbs []Neighbor, self, k int) []Neighbor {
	out := make([]Neighbor, 0, k)
	for _, nb := range nbs {
		if nb.Index == self {
			continue
		}
		if len(out) == k {
			break
		}
		out = append(out, nb)
	}
	return out
}

// neighborSets turns neighbor lists into membership sets
func neighborSets(nbs [][]Neighbor) []map[int]bool {
	sets := make([]map[int]bool, len(nbs))
	for i, list := range nbs {
		sets[i] = make(map[int]bool, len(list))
		for _, nb := range list {
			sets[i][nb.Index] = true
		}
	}
	return sets
}
