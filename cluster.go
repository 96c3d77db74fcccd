/*
 * Filename: /Users/bao/code/scanchor/cluster.go
 * Path: /Users/bao/code/scanchor
 * Created Date: Saturday, April 21st 2018, 4:09:48 pm
 * Author: bao
 *
 * Copyright (c) 2018 Haibao Tang
 */

package scanchor

import (
	"fmt"
	"sort"
)

// Group is a sorted list of dataset indices that have been pooled
type Group []int

// members returns the group as a set
func (g Group) members() map[int]bool {
	m := make(map[int]bool, len(g))
	for _, d := range g {
		m[d] = true
	}
	return m
}

// names resolves the dataset indices
func (g Group) names(datasets []string) []string {
	res := make([]string, len(g))
	for i, d := range g {
		res[i] = datasets[d]
	}
	return res
}

// MergeStep pools the Query group into the frame of the Reference group
type MergeStep struct {
	Reference Group
	Query     Group
	Score     float64 // Similarity that selected this merge
	Anchors   int     // Number of anchors between the two groups
}

// MergeOrder is the sequence of pairwise merges over the datasets
type MergeOrder struct {
	Leaves []string
	Steps  []MergeStep
}

// merge is a candidate merge between two existing clusters
type merge struct {
	a       int
	b       int
	score   float64
	anchors int
}

// BuildMergeOrder performs the greedy agglomeration of the datasets. The two
// groups with the highest similarity are pooled first, then the similarities
// of the pooled group are recomputed from the union of its anchors. The
// similarity is the anchor count, or the anchor count divided by the cell
// count of the smaller group.
func BuildMergeOrder(set *AnchorSet, mergeBy string) (*MergeOrder, error) {
	N := len(set.Datasets)
	G := set.Counts
	order := &MergeOrder{Leaves: set.Datasets}
	if N < 2 {
		return order, nil
	}

	// Auxiliary data structures to facilitate cluster merging
	clusterID := make([]int, N)
	clusterSize := make([]int, 2*N) // Number of cells
	clusterExists := make([]bool, 2*N)
	clusterMembers := make([]Group, 2*N)
	for i := 0; i < N; i++ {
		clusterID[i] = i
		clusterSize[i] = set.Sizes[i]
		clusterExists[i] = true
		clusterMembers[i] = Group{i}
	}

	similarity := func(a, b, anchors int) float64 {
		if mergeBy == MergeByCount {
			return float64(anchors)
		}
		smaller := min(clusterSize[a], clusterSize[b])
		if smaller == 0 {
			return 0
		}
		return float64(anchors) / float64(smaller)
	}

	merges := []*merge{}
	for i := 0; i < N; i++ {
		for j := i + 1; j < N; j++ {
			if G[i][j] > 0 {
				merges = append(merges, &merge{a: i, b: j, score: similarity(i, j, G[i][j]), anchors: G[i][j]})
			}
		}
	}

	for nMerges := 0; nMerges < N-1; nMerges++ {
		if len(merges) == 0 {
			return nil, disconnected(set.Datasets, clusterExists, clusterMembers)
		}
		// Step 1. Find the pairs of the clusters with the highest merge score,
		// equal scores go to the lowest cluster ids
		bestMerge := merges[0]
		for _, m := range merges[1:] {
			if m.score > bestMerge.score ||
				(m.score == bestMerge.score && (m.a < bestMerge.a || (m.a == bestMerge.a && m.b < bestMerge.b))) {
				bestMerge = m
			}
		}

		// Step 2. Merge the cluster pair, the one with more cells stays fixed
		ref, query := bestMerge.a, bestMerge.b
		if clusterSize[query] > clusterSize[ref] ||
			(clusterSize[query] == clusterSize[ref] && clusterMembers[query][0] < clusterMembers[ref][0]) {
			ref, query = query, ref
		}
		order.Steps = append(order.Steps, MergeStep{
			Reference: clusterMembers[ref],
			Query:     clusterMembers[query],
			Score:     bestMerge.score,
			Anchors:   bestMerge.anchors,
		})

		newClusterID := N + nMerges
		clusterExists[bestMerge.a] = false
		clusterExists[bestMerge.b] = false
		clusterExists[newClusterID] = true
		clusterSize[newClusterID] = clusterSize[bestMerge.a] + clusterSize[bestMerge.b]
		var newCluster Group
		for i := 0; i < N; i++ {
			if clusterID[i] == bestMerge.a || clusterID[i] == bestMerge.b {
				clusterID[i] = newClusterID
				newCluster = append(newCluster, i)
			}
		}
		clusterMembers[newClusterID] = newCluster

		log.Noticef("Merge #%d: %v (%d cells) <- %v (%d cells), %d anchors, similarity = %.4g",
			nMerges+1, clusterMembers[ref].names(set.Datasets), clusterSize[ref],
			clusterMembers[query].names(set.Datasets), clusterSize[query],
			bestMerge.anchors, bestMerge.score)

		// Step 3. Calculate new score entries for the new cluster
		// Remove all used clusters
		newMerges := []*merge{}
		for _, m := range merges {
			if clusterExists[m.a] && clusterExists[m.b] {
				newMerges = append(newMerges, m)
			}
		}

		// Add all merges with the new cluster, from the union of its anchors
		totalLinkageByCluster := make([]int, 2*N)
		for i := 0; i < N; i++ {
			cID := clusterID[i]
			if cID == newClusterID { // No need to calculate linkages within cluster
				continue
			}
			for _, j := range newCluster {
				totalLinkageByCluster[cID] += G[i][j]
			}
		}
		for i := 0; i < 2*N; i++ {
			if totalLinkageByCluster[i] <= 0 {
				continue
			}
			newMerges = append(newMerges, &merge{
				a:       i,
				b:       newClusterID,
				score:   similarity(i, newClusterID, totalLinkageByCluster[i]),
				anchors: totalLinkageByCluster[i],
			})
		}
		merges = newMerges
	}
	return order, nil
}

// disconnected names the groups left when no pair of them shares an anchor
func disconnected(datasets []string, clusterExists []bool, clusterMembers []Group) error {
	var groups [][]string
	for i, ok := range clusterExists {
		if ok {
			groups = append(groups, clusterMembers[i].names(datasets))
		}
	}
	return &DisconnectedError{Groups: groups}
}

// Validate checks that every leaf is merged exactly once and that every step
// pools two groups that exist at that point
func (r *MergeOrder) Validate() error {
	N := len(r.Leaves)
	if N == 0 {
		return fmt.Errorf("merge order has no leaves")
	}
	if len(r.Steps) != N-1 {
		return fmt.Errorf("merge order has %d steps for %d leaves", len(r.Steps), N)
	}
	groupOf := make([]int, N)
	sizes := map[int]int{}
	for i := range groupOf {
		groupOf[i] = i
		sizes[i] = 1
	}
	for k, step := range r.Steps {
		ids := make([]int, 0, 2)
		for _, g := range []Group{step.Reference, step.Query} {
			if len(g) == 0 {
				return fmt.Errorf("step %d has an empty group", k+1)
			}
			if !sort.IntsAreSorted(g) {
				return fmt.Errorf("step %d has an unsorted group %v", k+1, g)
			}
			for _, d := range g {
				if d < 0 || d >= N {
					return fmt.Errorf("step %d refers to unknown dataset %d", k+1, d)
				}
			}
			id := groupOf[g[0]]
			for _, d := range g {
				if groupOf[d] != id {
					return fmt.Errorf("step %d group %v is not a current group", k+1, g)
				}
			}
			if sizes[id] != len(g) {
				return fmt.Errorf("step %d group %v is not a whole group", k+1, g)
			}
			ids = append(ids, id)
		}
		if ids[0] == ids[1] {
			return fmt.Errorf("step %d merges a group with itself", k+1)
		}
		for d := range groupOf {
			if groupOf[d] == ids[1] {
				groupOf[d] = ids[0]
			}
		}
		sizes[ids[0]] += sizes[ids[1]]
		delete(sizes, ids[1])
	}
	return nil
}
