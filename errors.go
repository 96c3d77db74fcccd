/*
 *  errors.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds, test with errors.Is
var (
	ErrIncompatibleFeatures   = errors.New("incompatible features")
	ErrInsufficientCells      = errors.New("insufficient cells")
	ErrNoAnchorsFound         = errors.New("no anchors found")
	ErrNoReferenceModel       = errors.New("no reference model")
	ErrDegenerateNeighborhood = errors.New("degenerate neighborhood")
)

// FeatureError reports two datasets without a shared feature space
type FeatureError struct {
	A, B       string
	NumA, NumB int
	NumShared  int
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("%v: `%s` (%d features) and `%s` (%d features) share %d features",
		ErrIncompatibleFeatures, e.A, e.NumA, e.B, e.NumB, e.NumShared)
}

// Unwrap makes errors.Is(err, ErrIncompatibleFeatures) work
func (e *FeatureError) Unwrap() error { return ErrIncompatibleFeatures }

// CellCountError reports a dataset that is too small for the requested k or dims
type CellCountError struct {
	Dataset string
	Cells   int
	Need    int
	What    string
}

func (e *CellCountError) Error() string {
	return fmt.Sprintf("%v: `%s` has %d cells, %s = %d requires at least %d",
		ErrInsufficientCells, e.Dataset, e.Cells, e.What, e.Need, e.Need)
}

// Unwrap makes errors.Is(err, ErrInsufficientCells) work
func (e *CellCountError) Unwrap() error { return ErrInsufficientCells }

// DisconnectedError reports groups that cannot be merged since no anchors link them
type DisconnectedError struct {
	Groups [][]string
}

func (e *DisconnectedError) Error() string {
	parts := make([]string, len(e.Groups))
	for i, g := range e.Groups {
		parts[i] = "{" + strings.Join(g, ",") + "}"
	}
	return fmt.Sprintf("%v: no anchors between groups %s", ErrNoAnchorsFound, strings.Join(parts, " "))
}

// Unwrap makes errors.Is(err, ErrNoAnchorsFound) work
func (e *DisconnectedError) Unwrap() error { return ErrNoAnchorsFound }

// checkCells fails when a dataset has fewer than need cells
func checkCells(name string, cells, need int, what string) error {
	if cells < need {
		return &CellCountError{Dataset: name, Cells: cells, Need: need, What: what}
	}
	return nil
}
