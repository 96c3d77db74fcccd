/*
 *  config_test.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanghaibao/scanchor"
)

func TestDefaultConfig(t *testing.T) {
	cfg := scanchor.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30, cfg.Dims)
	assert.Equal(t, 5, cfg.KAnchor)
	assert.Equal(t, 200, cfg.KFilter)
	assert.Equal(t, 30, cfg.KScore)
	assert.Equal(t, 100, cfg.KWeight)
	assert.Equal(t, 1.0, cfg.SDWeight)
	assert.Equal(t, scanchor.MergeByRatio, cfg.MergeBy)
}

func TestLoadConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "scanchor.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(`
dims: 20
k_filter: 0
score_floor: 0.1
merge_by: count
searcher: hnsw
pairs:
  - [pbmc1, pbmc2]
`), 0644))
	cfg, err := scanchor.LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Dims)
	assert.Equal(t, 0, cfg.KFilter)
	assert.Equal(t, 0.1, cfg.ScoreFloor)
	assert.Equal(t, scanchor.MergeByCount, cfg.MergeBy)
	assert.Equal(t, scanchor.SearchHNSW, cfg.Searcher)
	assert.Equal(t, [][2]string{{"pbmc1", "pbmc2"}}, cfg.Pairs)
	// Untouched keys keep their defaults
	assert.Equal(t, 30, cfg.KScore)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("merge_by: average\n"), 0644))
	_, err = scanchor.LoadConfig(bad)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	for name, mutate := range map[string]func(*scanchor.Config){
		"dims":        func(c *scanchor.Config) { c.Dims = 0 },
		"k_anchor":    func(c *scanchor.Config) { c.KAnchor = 0 },
		"k_filter":    func(c *scanchor.Config) { c.KFilter = -1 },
		"k_score":     func(c *scanchor.Config) { c.KScore = 0 },
		"k_weight":    func(c *scanchor.Config) { c.KWeight = 0 },
		"sd_weight":   func(c *scanchor.Config) { c.SDWeight = 0 },
		"score_floor": func(c *scanchor.Config) { c.ScoreFloor = 1.5 },
		"searcher":    func(c *scanchor.Config) { c.Searcher = "annoy" },
	} {
		cfg := scanchor.DefaultConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}
