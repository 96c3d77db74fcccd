/*
 *  synth_test.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tanghaibao/scanchor"
	"gonum.org/v1/gonum/mat"
)

// synth draws datasets that share cell groups, each dataset being shifted by
// its own batch effect
type synth struct {
	rng      *rand.Rand
	features []string
	means    [][]float64
}

func newSynth(seed int64, nFeatures, nGroups int, spread float64) *synth {
	rng := rand.New(rand.NewSource(seed))
	features := make([]string, nFeatures)
	for j := range features {
		features[j] = fmt.Sprintf("gene%03d", j)
	}
	means := make([][]float64, nGroups)
	for g := range means {
		means[g] = make([]float64, nFeatures)
		for j := range means[g] {
			means[g][j] = rng.NormFloat64() * spread
		}
	}
	return &synth{rng: rng, features: features, means: means}
}

// dataset draws perGroup[g] cells of every group, labeled "group" => "g<g>"
func (s *synth) dataset(t *testing.T, name string, perGroup []int, shift, noise float64) *scanchor.Dataset {
	p := len(s.features)
	batch := make([]float64, p)
	for j := range batch {
		batch[j] = s.rng.NormFloat64() * shift
	}
	var cells, labels []string
	var data []float64
	for g, n := range perGroup {
		for i := 0; i < n; i++ {
			cells = append(cells, fmt.Sprintf("%s_c%d_%d", name, g, i))
			labels = append(labels, fmt.Sprintf("g%d", g))
			for j := 0; j < p; j++ {
				data = append(data, s.means[g][j]+batch[j]+noise*s.rng.NormFloat64())
			}
		}
	}
	ds, err := scanchor.NewDataset(name, cells, s.features, mat.NewDense(len(cells), p, data))
	require.NoError(t, err)
	require.NoError(t, ds.SetLabels("group", labels))
	return ds
}

// pooled stacks the given label of all datasets, and the dataset index of every cell
func pooled(datasets []*scanchor.Dataset, key string) ([]string, []int) {
	var labels []string
	var batch []int
	for i, ds := range datasets {
		labels = append(labels, ds.Labels[key]...)
		for range ds.Cells {
			batch = append(batch, i)
		}
	}
	return labels, batch
}

// twoBatches is a pair of datasets with 3 groups and a strong batch effect
func twoBatches(t *testing.T) []*scanchor.Dataset {
	s := newSynth(7, 50, 3, 4)
	return []*scanchor.Dataset{
		s.dataset(t, "batch1", []int{34, 33, 33}, 2, 1),
		s.dataset(t, "batch2", []int{27, 27, 26}, 2, 1),
	}
}

// twoBatchConfig suits the small datasets of twoBatches
func twoBatchConfig() scanchor.Config {
	cfg := scanchor.DefaultConfig()
	cfg.Dims = 5
	cfg.AlignDims = 2
	cfg.KAnchor = 5
	cfg.KFilter = 20
	cfg.KScore = 20
	cfg.KWeight = 20
	cfg.Workers = 2
	return cfg
}
