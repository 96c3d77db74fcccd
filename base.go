/*
 *  base.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	logging "github.com/op/go-logging"
)

const (
	// Version is the current version of SCANCHOR
	Version = "0.3.1"
	// DefaultDims is the number of components used for integration
	DefaultDims = 30
	// DefaultKAnchor is the neighbor count for mutual nearest neighbor matching
	DefaultKAnchor = 5
	// DefaultKFilter is the neighbor count in feature space to keep an anchor
	DefaultKFilter = 200
	// DefaultKScore is the neighborhood size used to score anchors
	DefaultKScore = 30
	// DefaultKWeight is the number of anchors used to correct each cell
	DefaultKWeight = 100
	// DefaultSDWeight controls the bandwidth of the anchor weighting kernel
	DefaultSDWeight = 1.0
	// DefaultKVisual is the neighbor graph size for the visualization model
	DefaultKVisual = 15
	// DefaultLandmarks is the number of landmarks for the visualization model
	DefaultLandmarks = 200
	// DefaultRestarts is the number of k-means runs when assessing an embedding
	DefaultRestarts = 10
	// UnknownLabel is assigned to query cells that have no usable anchors
	UnknownLabel = "unknown"
	// EPS guards divisions by distances and norms
	EPS = 1e-12
)

var log = logging.MustGetLogger("scanchor")
var format = logging.MustStringFormatter(
	`%{color}%{time:15:04:05} %{shortfunc} | %{level:.6s} %{color:reset} %{message}`,
)

// Backend is the default stderr output
var Backend = logging.NewLogBackend(os.Stderr, "", 0)

// BackendFormatter contains the fancy debug formatter
var BackendFormatter = logging.NewBackendFormatter(Backend, format)

// RemoveExt returns the substring minus the extension, .gz is stripped first
func RemoveExt(filename string) string {
	filename = strings.TrimSuffix(filename, ".gz")
	return strings.TrimSuffix(filename, path.Ext(filename))
}

// Percentage prints a human readable message of the percentage
func Percentage(a, b int) string {
	if b == 0 {
		return fmt.Sprintf("%d of %d", a, b)
	}
	return fmt.Sprintf("%d of %d (%.1f %%)", a, b, float64(a)*100./float64(b))
}

// Make2DSlice allocates a 2D matrix with shape (m, n)
func Make2DSlice(m, n int) [][]int {
	P := make([][]int, m)
	for i := 0; i < m; i++ {
		P[i] = make([]int, n)
	}
	return P
}

// sumf gets the sum for a float64 slice
func sumf(a []float64) float64 {
	ans := 0.0
	for _, x := range a {
		ans += x
	}
	return ans
}

// unique returns a distinct sorted slice of strings
func unique(a []string) []string {
	keys := make(map[string]bool)
	list := []string{}
	for _, entry := range a {
		if !keys[entry] {
			keys[entry] = true
			list = append(list, entry)
		}
	}
	sort.Strings(list)
	return list
}
