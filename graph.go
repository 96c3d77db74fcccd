/*
 * Filename: /Users/bao/code/scanchor/graph.go
 * Path: /Users/bao/code/scanchor
 * Created Date: Monday, June 4th 2018, 11:37:27 pm
 * Author: bao
 *
 * Copyright (c) 2018 Haibao Tang
 */

package scanchor

import (
	"fmt"
	"sort"
)

// AnchorSet is the anchor graph over a list of datasets. Datasets are the
// nodes, anchors are the cell level edges, Counts aggregates them per pair.
type AnchorSet struct {
	Datasets []string
	Sizes    []int // Number of cells per dataset
	Anchors  []Anchor
	Counts   [][]int // Symmetric pairwise anchor counts
	index    map[anchorKey]int
}

// anchorKey identifies an anchor regardless of its score
type anchorKey struct {
	d1, c1, d2, c2 int
}

// NewAnchorSet makes an empty set over the datasets
func NewAnchorSet(names []string, sizes []int) *AnchorSet {
	return &AnchorSet{
		Datasets: names,
		Sizes:    sizes,
		Counts:   Make2DSlice(len(names), len(names)),
		index:    map[anchorKey]int{},
	}
}

// Len returns the number of anchors
func (r *AnchorSet) Len() int { return len(r.Anchors) }

// normalize puts the lower dataset index first
func (an Anchor) normalize() Anchor {
	if an.Dataset1 > an.Dataset2 {
		an.Dataset1, an.Dataset2 = an.Dataset2, an.Dataset1
		an.Cell1, an.Cell2 = an.Cell2, an.Cell1
	}
	return an
}

func (an Anchor) key() anchorKey {
	return anchorKey{an.Dataset1, an.Cell1, an.Dataset2, an.Cell2}
}

// Add inserts anchors, a duplicate pair keeps the max score. Anchors naming
// a dataset outside the set are skipped and reported.
func (r *AnchorSet) Add(anchors ...Anchor) error {
	if r.index == nil {
		r.reindex()
	}
	var err error
	for _, an := range anchors {
		if !r.knows(an) {
			if err == nil {
				err = fmt.Errorf("anchor %+v links datasets outside the %d of the set", an, len(r.Datasets))
			}
			continue
		}
		an = an.normalize()
		k := an.key()
		if i, ok := r.index[k]; ok {
			if an.Score > r.Anchors[i].Score {
				r.Anchors[i].Score = an.Score
			}
			continue
		}
		r.index[k] = len(r.Anchors)
		r.Anchors = append(r.Anchors, an)
		r.Counts[an.Dataset1][an.Dataset2]++
		r.Counts[an.Dataset2][an.Dataset1]++
	}
	return err
}

// knows tells whether both datasets of the anchor belong to the set
func (r *AnchorSet) knows(an Anchor) bool {
	n := len(r.Datasets)
	return an.Dataset1 >= 0 && an.Dataset1 < n && an.Dataset2 >= 0 && an.Dataset2 < n
}

// reindex rebuilds the lookup and the counts from the anchor list
func (r *AnchorSet) reindex() {
	r.index = make(map[anchorKey]int, len(r.Anchors))
	r.Counts = Make2DSlice(len(r.Datasets), len(r.Datasets))
	for i, an := range r.Anchors {
		r.index[an.key()] = i
		if !r.knows(an) {
			continue
		}
		r.Counts[an.Dataset1][an.Dataset2]++
		r.Counts[an.Dataset2][an.Dataset1]++
	}
}

// filtered makes a new set holding the anchors passing keep
func (r *AnchorSet) filtered(keep func(i int, an Anchor) bool) *AnchorSet {
	res := NewAnchorSet(r.Datasets, r.Sizes)
	for i, an := range r.Anchors {
		if keep(i, an) {
			_ = res.Add(an)
		}
	}
	return res
}

// Floor drops the anchors scoring below floor. Lowering the floor never
// removes an anchor kept at a higher floor.
func (r *AnchorSet) Floor(floor float64) *AnchorSet {
	if floor <= 0 {
		return r
	}
	res := r.filtered(func(_ int, an Anchor) bool { return an.Score >= floor })
	log.Debugf("Score floor %g kept %s anchors", floor, Percentage(res.Len(), r.Len()))
	return res
}

// CapPerCell keeps an anchor only when it ranks within the top n anchors of
// both its cells. Ties in score are resolved by the lower partner index.
// n <= 0 keeps everything.
func (r *AnchorSet) CapPerCell(n int) *AnchorSet {
	if n <= 0 {
		return r
	}
	type cell struct{ dataset, index int }
	byCell := map[cell][]int{}
	for i, an := range r.Anchors {
		c1 := cell{an.Dataset1, an.Cell1}
		c2 := cell{an.Dataset2, an.Cell2}
		byCell[c1] = append(byCell[c1], i)
		byCell[c2] = append(byCell[c2], i)
	}
	votes := make([]int, len(r.Anchors))
	for c, ids := range byCell {
		partner := func(i int) cell {
			an := r.Anchors[i]
			if an.Dataset1 == c.dataset && an.Cell1 == c.index {
				return cell{an.Dataset2, an.Cell2}
			}
			return cell{an.Dataset1, an.Cell1}
		}
		sort.SliceStable(ids, func(x, y int) bool {
			ax, ay := r.Anchors[ids[x]], r.Anchors[ids[y]]
			if ax.Score != ay.Score {
				return ax.Score > ay.Score
			}
			px, py := partner(ids[x]), partner(ids[y])
			if px.dataset != py.dataset {
				return px.dataset < py.dataset
			}
			return px.index < py.index
		})
		for rank, i := range ids {
			if rank < n {
				votes[i]++
			}
		}
	}
	res := r.filtered(func(i int, _ Anchor) bool { return votes[i] == 2 })
	log.Debugf("Cap of %d anchors per cell kept %s anchors", n, Percentage(res.Len(), r.Len()))
	return res
}

// Between returns the anchors linking the two groups, oriented so that
// Dataset1 lies in ref and Dataset2 lies in query
func (r *AnchorSet) Between(ref, query Group) []Anchor {
	inRef, inQuery := ref.members(), query.members()
	var res []Anchor
	for _, an := range r.Anchors {
		switch {
		case inRef[an.Dataset1] && inQuery[an.Dataset2]:
			res = append(res, an)
		case inRef[an.Dataset2] && inQuery[an.Dataset1]:
			res = append(res, Anchor{Dataset1: an.Dataset2, Cell1: an.Cell2,
				Dataset2: an.Dataset1, Cell2: an.Cell1, Score: an.Score})
		}
	}
	return res
}

// Validate checks that anchors refer to existing cells
func (r *AnchorSet) Validate() error {
	if len(r.Sizes) != len(r.Datasets) {
		return fmt.Errorf("anchor set has %d sizes for %d datasets", len(r.Sizes), len(r.Datasets))
	}
	for _, an := range r.Anchors {
		if !r.knows(an) || an.Dataset1 == an.Dataset2 {
			return fmt.Errorf("anchor %+v links invalid datasets", an)
		}
		if an.Cell1 < 0 || an.Cell1 >= r.Sizes[an.Dataset1] ||
			an.Cell2 < 0 || an.Cell2 >= r.Sizes[an.Dataset2] {
			return fmt.Errorf("anchor %+v is out of range", an)
		}
		if an.Score < 0 || an.Score > 1 {
			return fmt.Errorf("anchor %+v has a score outside [0, 1]", an)
		}
	}
	return nil
}

// AnchoredCells counts the cells of each dataset that appear in some anchor
func (r *AnchorSet) AnchoredCells() []int {
	seen := make([]map[int]bool, len(r.Datasets))
	for i := range seen {
		seen[i] = map[int]bool{}
	}
	for _, an := range r.Anchors {
		seen[an.Dataset1][an.Cell1] = true
		seen[an.Dataset2][an.Cell2] = true
	}
	res := make([]int, len(r.Datasets))
	for i, s := range seen {
		res[i] = len(s)
	}
	return res
}
