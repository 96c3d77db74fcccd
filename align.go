/*
 *  align.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// AlignMode selects how two datasets are brought into a shared space
type AlignMode int

const (
	// AlignCCA embeds both datasets on their top canonical correlation vectors
	AlignCCA AlignMode = iota
	// AlignProject projects the second dataset onto the components of a reference
	AlignProject
)

func (m AlignMode) String() string {
	switch m {
	case AlignCCA:
		return "cca"
	case AlignProject:
		return "project"
	}
	return fmt.Sprintf("AlignMode(%d)", int(m))
}

// AlignOptions configures Align. Reference is required by AlignProject, in
// which case it stands for the first dataset.
type AlignOptions struct {
	Mode      AlignMode
	Dims      int
	Reference *ReferenceModel
}

// Alignment holds two embeddings living in one coordinate space
type Alignment struct {
	Mode     AlignMode
	Features []string
	A, B     *mat.Dense // Embeddings, one row per cell
	NormA    *mat.Dense // L2 normalized rows of A, used for matching
	NormB    *mat.Dense
	FeatA    *mat.Dense // L2 normalized feature space rows, CCA mode only
	FeatB    *mat.Dense
}

// Align computes the joint embedding of a and b. Inputs are left untouched.
func Align(a, b *Dataset, opts AlignOptions) (*Alignment, error) {
	switch opts.Mode {
	case AlignCCA:
		return alignCCA(a, b, opts.Dims)
	case AlignProject:
		return alignProject(opts.Reference, b)
	}
	return nil, fmt.Errorf("unknown align mode %v", opts.Mode)
}

// alignCCA is canonical correlation analysis on standardized shared features
func alignCCA(a, b *Dataset, dims int) (*Alignment, error) {
	if dims < 1 {
		return nil, fmt.Errorf("cca: dims must be positive, got %d", dims)
	}
	features, err := SharedFeatures(a, b)
	if err != nil {
		return nil, err
	}
	if err := checkCells(a.Name, a.Len(), dims, "dims"); err != nil {
		return nil, err
	}
	if err := checkCells(b.Name, b.Len(), dims, "dims"); err != nil {
		return nil, err
	}

	xa := standardize(a.columns(features))
	xb := standardize(b.columns(features))
	var m mat.Dense
	m.Mul(xa, xb.T())

	var svd mat.SVD
	if ok := svd.Factorize(&m, mat.SVDThin); !ok {
		return nil, errors.New("cca: SVD factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	na, nb := a.Len(), b.Len()
	ea := mat.DenseCopyOf(u.Slice(0, na, 0, dims))
	eb := mat.DenseCopyOf(v.Slice(0, nb, 0, dims))
	orientPair(ea, eb)

	log.Debugf("CCA `%s` (%d cells) x `%s` (%d cells) on %d features, top singular value %.4g",
		a.Name, na, b.Name, nb, len(features), svd.Values(nil)[0])
	return &Alignment{
		Mode:     AlignCCA,
		Features: features,
		A:        ea,
		B:        eb,
		NormA:    l2Normalize(ea),
		NormB:    l2Normalize(eb),
		FeatA:    l2Normalize(xa),
		FeatB:    l2Normalize(xb),
	}, nil
}

// orientPair flips paired canonical vectors together, using the sign of the
// largest entry of a
func orientPair(a, b *mat.Dense) {
	ra, c := a.Dims()
	rb, _ := b.Dims()
	for j := 0; j < c; j++ {
		best := 0.0
		for i := 0; i < ra; i++ {
			if v := a.At(i, j); math.Abs(v) > math.Abs(best) {
				best = v
			}
		}
		if best >= 0 {
			continue
		}
		for i := 0; i < ra; i++ {
			a.Set(i, j, -a.At(i, j))
		}
		for i := 0; i < rb; i++ {
			b.Set(i, j, -b.At(i, j))
		}
	}
}

// alignProject maps the query onto the reference components, the reference
// embedding is reused as is
func alignProject(ref *ReferenceModel, query *Dataset) (*Alignment, error) {
	if ref == nil {
		return nil, fmt.Errorf("project mode: %w", ErrNoReferenceModel)
	}
	qx, shared, err := ref.queryMatrix(query)
	if err != nil {
		return nil, err
	}
	dims := ref.Dims()
	if err := checkCells(ref.Name, ref.Len(), dims, "dims"); err != nil {
		return nil, err
	}
	if err := checkCells(query.Name, query.Len(), dims, "dims"); err != nil {
		return nil, err
	}
	proj := ref.reduction().Project(qx)
	log.Debugf("Projected `%s` (%d cells) onto `%s` using %s",
		query.Name, query.Len(), ref.Name, Percentage(shared, len(ref.Features)))
	return &Alignment{
		Mode:     AlignProject,
		Features: ref.Features,
		A:        ref.Embedding,
		B:        proj,
		NormA:    l2Normalize(ref.Embedding),
		NormB:    l2Normalize(proj),
	}, nil
}
