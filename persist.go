/*
 *  persist.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"context"
	"fmt"

	"github.com/shenwei356/xopen"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

// bundleVersion is bumped whenever a record layout changes
const bundleVersion = 1

// matrixRecord is a row major dense matrix
type matrixRecord struct {
	Rows int       `msgpack:"rows"`
	Cols int       `msgpack:"cols"`
	Data []float64 `msgpack:"data"`
}

func toRecord(m *mat.Dense) *matrixRecord {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	rec := &matrixRecord{Rows: r, Cols: c, Data: make([]float64, 0, r*c)}
	for i := 0; i < r; i++ {
		rec.Data = append(rec.Data, m.RawRowView(i)...)
	}
	return rec
}

func (r *matrixRecord) dense() (*mat.Dense, error) {
	if r == nil {
		return nil, nil
	}
	if r.Rows*r.Cols != len(r.Data) || r.Rows == 0 || r.Cols == 0 {
		return nil, fmt.Errorf("matrix record %dx%d holds %d values", r.Rows, r.Cols, len(r.Data))
	}
	return mat.NewDense(r.Rows, r.Cols, r.Data), nil
}

type isomapRecord struct {
	K         int           `msgpack:"k"`
	Points    *matrixRecord `msgpack:"points"`
	Landmarks []int         `msgpack:"landmarks"`
	Geodesic  *matrixRecord `msgpack:"geodesic"`
	Pseudo    *matrixRecord `msgpack:"pseudo"`
	Mean      []float64     `msgpack:"mean"`
	Layout    *matrixRecord `msgpack:"layout"`
	Refiner   *Refiner      `msgpack:"refiner"`
}

type referenceRecord struct {
	Version   int                  `msgpack:"version"`
	Name      string               `msgpack:"name"`
	Cells     []string             `msgpack:"cells"`
	Features  []string             `msgpack:"features"`
	Center    []float64            `msgpack:"center"`
	Scale     []float64            `msgpack:"scale"`
	Loadings  *matrixRecord        `msgpack:"loadings"`
	Embedding *matrixRecord        `msgpack:"embedding"`
	Labels    map[string][]string  `msgpack:"labels"`
	Values    map[string][]float64 `msgpack:"values"`
	Visual    *isomapRecord        `msgpack:"visual"`
}

type anchorRecord struct {
	Version  int         `msgpack:"version"`
	Datasets []string    `msgpack:"datasets"`
	Sizes    []int       `msgpack:"sizes"`
	Anchors  []Anchor    `msgpack:"anchors"`
	Order    *MergeOrder `msgpack:"order"`
}

type transferRecord struct {
	Version    int           `msgpack:"version"`
	Reference  string        `msgpack:"reference"`
	Query      string        `msgpack:"query"`
	RefCells   int           `msgpack:"ref_cells"`
	QueryCells []string      `msgpack:"query_cells"`
	Anchors    []Anchor      `msgpack:"anchors"`
	Projection *matrixRecord `msgpack:"projection"`
	KWeight    int           `msgpack:"k_weight"`
	SDWeight   float64       `msgpack:"sd_weight"`
}

// writeBundle encodes v into a (possibly gzipped) file
func writeBundle(filename string, v interface{}) error {
	fw, err := xopen.Wopen(filename)
	if err != nil {
		return err
	}
	if err := msgpack.NewEncoder(fw).Encode(v); err != nil {
		fw.Close()
		return fmt.Errorf("encode `%s`: %w", filename, err)
	}
	return fw.Close()
}

// readBundle decodes a file written by writeBundle
func readBundle(filename string, v interface{}) error {
	fh, err := xopen.Ropen(filename)
	if err != nil {
		return err
	}
	defer fh.Close()
	if err := msgpack.NewDecoder(fh).Decode(v); err != nil {
		return fmt.Errorf("decode `%s`: %w", filename, err)
	}
	return nil
}

// SaveReference caches a reference model, including its visualization
// model when it is a fitted LandmarkIsomap
func SaveReference(filename string, ref *ReferenceModel) error {
	rec := referenceRecord{
		Version:   bundleVersion,
		Name:      ref.Name,
		Cells:     ref.Cells,
		Features:  ref.Features,
		Center:    ref.Center,
		Scale:     ref.Scale,
		Loadings:  toRecord(ref.Loadings),
		Embedding: toRecord(ref.Embedding),
		Labels:    ref.Labels,
		Values:    ref.Values,
	}
	switch v := ref.Visual.(type) {
	case nil:
	case *IsomapModel:
		rec.Visual = &isomapRecord{
			K:         v.K,
			Points:    toRecord(v.Points),
			Landmarks: v.Landmarks,
			Geodesic:  toRecord(v.Geodesic),
			Pseudo:    toRecord(v.Pseudo),
			Mean:      v.Mean,
			Layout:    toRecord(v.Layout),
			Refiner:   v.Refiner,
		}
	default:
		log.Warningf("Visualization model %T cannot be saved, skipped", v)
	}
	if err := writeBundle(filename, &rec); err != nil {
		return err
	}
	log.Noticef("Reference `%s` saved to `%s`", ref.Name, filename)
	return nil
}

// LoadReference reads a reference model saved by SaveReference
func LoadReference(filename string) (*ReferenceModel, error) {
	var rec referenceRecord
	if err := readBundle(filename, &rec); err != nil {
		return nil, err
	}
	if rec.Version != bundleVersion {
		return nil, fmt.Errorf("`%s` has bundle version %d, expected %d", filename, rec.Version, bundleVersion)
	}
	ref := &ReferenceModel{
		Name:     rec.Name,
		Cells:    rec.Cells,
		Features: rec.Features,
		Center:   rec.Center,
		Scale:    rec.Scale,
		Labels:   rec.Labels,
		Values:   rec.Values,
	}
	var err error
	if ref.Loadings, err = rec.Loadings.dense(); err != nil {
		return nil, err
	}
	if ref.Embedding, err = rec.Embedding.dense(); err != nil {
		return nil, err
	}
	if v := rec.Visual; v != nil {
		model := &IsomapModel{K: v.K, Landmarks: v.Landmarks, Mean: v.Mean, Refiner: v.Refiner}
		for _, m := range []struct {
			dst **mat.Dense
			src *matrixRecord
		}{
			{&model.Points, v.Points}, {&model.Geodesic, v.Geodesic},
			{&model.Pseudo, v.Pseudo}, {&model.Layout, v.Layout},
		} {
			if *m.dst, err = m.src.dense(); err != nil {
				return nil, err
			}
		}
		ref.Visual = model
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	log.Noticef("Reference `%s` loaded from `%s`", ref.Name, filename)
	return ref, nil
}

// SaveAnchors caches an anchor set together with its merge order
func SaveAnchors(filename string, set *AnchorSet, order *MergeOrder) error {
	rec := anchorRecord{
		Version:  bundleVersion,
		Datasets: set.Datasets,
		Sizes:    set.Sizes,
		Anchors:  set.Anchors,
		Order:    order,
	}
	return writeBundle(filename, &rec)
}

// LoadAnchors reads a bundle saved by SaveAnchors
func LoadAnchors(filename string) (*AnchorSet, *MergeOrder, error) {
	var rec anchorRecord
	if err := readBundle(filename, &rec); err != nil {
		return nil, nil, err
	}
	if rec.Version != bundleVersion {
		return nil, nil, fmt.Errorf("`%s` has bundle version %d, expected %d", filename, rec.Version, bundleVersion)
	}
	if len(rec.Sizes) != len(rec.Datasets) {
		return nil, nil, fmt.Errorf("`%s` has %d sizes for %d datasets", filename, len(rec.Sizes), len(rec.Datasets))
	}
	set := NewAnchorSet(rec.Datasets, rec.Sizes)
	if err := set.Add(rec.Anchors...); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filename, err)
	}
	if err := set.Validate(); err != nil {
		return nil, nil, err
	}
	if rec.Order != nil {
		if err := rec.Order.Validate(); err != nil {
			return nil, nil, err
		}
	}
	log.Noticef("Parse %d anchors from `%s`", set.Len(), filename)
	return set, rec.Order, nil
}

// SaveTransferAnchors caches the anchors between a reference and a query
func SaveTransferAnchors(filename string, ta *TransferAnchors) error {
	rec := transferRecord{
		Version:    bundleVersion,
		Reference:  ta.Reference,
		Query:      ta.Query,
		RefCells:   ta.RefCells,
		QueryCells: ta.QueryCells,
		Anchors:    ta.Anchors,
		Projection: toRecord(ta.Projection),
		KWeight:    ta.KWeight,
		SDWeight:   ta.SDWeight,
	}
	return writeBundle(filename, &rec)
}

// LoadTransferAnchors reads a bundle saved by SaveTransferAnchors, the
// anchor weights are recomputed
func LoadTransferAnchors(filename string) (*TransferAnchors, error) {
	var rec transferRecord
	if err := readBundle(filename, &rec); err != nil {
		return nil, err
	}
	if rec.Version != bundleVersion {
		return nil, fmt.Errorf("`%s` has bundle version %d, expected %d", filename, rec.Version, bundleVersion)
	}
	projection, err := rec.Projection.dense()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	ta := &TransferAnchors{
		Reference:  rec.Reference,
		Query:      rec.Query,
		RefCells:   rec.RefCells,
		QueryCells: rec.QueryCells,
		Anchors:    rec.Anchors,
		Projection: projection,
		KWeight:    rec.KWeight,
		SDWeight:   rec.SDWeight,
	}
	if err := ta.prepare(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	log.Noticef("Parse %d transfer anchors from `%s`", ta.Len(), filename)
	return ta, nil
}
