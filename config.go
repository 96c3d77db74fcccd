/*
 *  config.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Merge similarity policies for the merge order
const (
	MergeByRatio = "ratio"
	MergeByCount = "count"
)

// Nearest neighbor backends
const (
	SearchExact = "exact"
	SearchHNSW  = "hnsw"
)

// Config holds all the tunables of anchor finding, integration and transfer
type Config struct {
	// Dims is the number of components of the integration space
	Dims int `yaml:"dims"`
	// AlignDims is the number of CCA components used to match cells, 0 means Dims
	AlignDims int `yaml:"align_dims"`
	// KAnchor is the neighbor count for mutual nearest neighbors
	KAnchor int `yaml:"k_anchor"`
	// KFilter is the neighbor count in feature space, 0 disables the filter
	KFilter int `yaml:"k_filter"`
	// KScore is the within-dataset neighborhood used for scoring
	KScore int `yaml:"k_score"`
	// KWeight is the number of nearest anchors used to correct a cell
	KWeight int `yaml:"k_weight"`
	// SDWeight is the bandwidth of the weighting kernel
	SDWeight float64 `yaml:"sd_weight"`
	// ScoreFloor drops anchors scoring below it
	ScoreFloor float64 `yaml:"score_floor"`
	// MaxPerCell keeps the top scoring anchors of every cell, 0 keeps all
	MaxPerCell int `yaml:"max_per_cell"`
	// MergeBy is either "ratio" (anchors / smaller group size) or "count"
	MergeBy string `yaml:"merge_by"`
	// Pairs restricts the dataset pairs that are matched, by dataset name
	Pairs [][2]string `yaml:"pairs"`
	// Searcher selects the nearest neighbor backend, "exact" or "hnsw"
	Searcher string `yaml:"searcher"`
	// HNSW parameters
	HNSWM              int `yaml:"hnsw_m"`
	HNSWEfConstruction int `yaml:"hnsw_ef_construction"`
	HNSWEfSearch       int `yaml:"hnsw_ef_search"`
	// Workers bounds the parallelism, 0 means GOMAXPROCS
	Workers int `yaml:"workers"`
	// Seed drives all the randomized steps
	Seed int64 `yaml:"seed"`
}

// DefaultConfig returns the published defaults
func DefaultConfig() Config {
	return Config{
		Dims:               DefaultDims,
		KAnchor:            DefaultKAnchor,
		KFilter:            DefaultKFilter,
		KScore:             DefaultKScore,
		KWeight:            DefaultKWeight,
		SDWeight:           DefaultSDWeight,
		MergeBy:            MergeByRatio,
		Searcher:           SearchExact,
		HNSWM:              16,
		HNSWEfConstruction: 200,
		HNSWEfSearch:       64,
		Seed:               42,
	}
}

// LoadConfig reads a YAML file on top of the defaults
func LoadConfig(filename string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(filename)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config `%s`: %w", filename, err)
	}
	log.Noticef("Parse config file `%s`", filename)
	return cfg, cfg.Validate()
}

// Validate checks the ranges of all parameters
func (c *Config) Validate() error {
	switch {
	case c.Dims < 1:
		return fmt.Errorf("dims must be positive, got %d", c.Dims)
	case c.AlignDims < 0:
		return fmt.Errorf("align_dims must not be negative, got %d", c.AlignDims)
	case c.KAnchor < 1:
		return fmt.Errorf("k_anchor must be positive, got %d", c.KAnchor)
	case c.KFilter < 0:
		return fmt.Errorf("k_filter must not be negative, got %d", c.KFilter)
	case c.KScore < 1:
		return fmt.Errorf("k_score must be positive, got %d", c.KScore)
	case c.KWeight < 1:
		return fmt.Errorf("k_weight must be positive, got %d", c.KWeight)
	case c.SDWeight <= 0:
		return fmt.Errorf("sd_weight must be positive, got %g", c.SDWeight)
	case c.ScoreFloor < 0 || c.ScoreFloor > 1:
		return fmt.Errorf("score_floor must be within [0, 1], got %g", c.ScoreFloor)
	case c.MaxPerCell < 0:
		return fmt.Errorf("max_per_cell must not be negative, got %d", c.MaxPerCell)
	}
	if c.MergeBy != MergeByRatio && c.MergeBy != MergeByCount {
		return fmt.Errorf("merge_by must be `%s` or `%s`, got `%s`", MergeByRatio, MergeByCount, c.MergeBy)
	}
	if c.Searcher != SearchExact && c.Searcher != SearchHNSW {
		return fmt.Errorf("searcher must be `%s` or `%s`, got `%s`", SearchExact, SearchHNSW, c.Searcher)
	}
	return nil
}

// alignDims returns the number of components used for matching
func (c *Config) alignDims() int {
	if c.AlignDims > 0 {
		return c.AlignDims
	}
	return c.Dims
}

// workers returns the effective parallelism
func (c *Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// newSearcher makes the configured nearest neighbor backend
func (c *Config) newSearcher() Searcher {
	if c.Searcher == SearchHNSW {
		return &HNSWSearcher{M: c.HNSWM, EfConstruction: c.HNSWEfConstruction,
			EfSearch: c.HNSWEfSearch, Seed: c.Seed}
	}
	return &ExactSearcher{}
}
