/*
 *  io.go
 *  scanchor
 *
 *  Created by Haibao Tang on 10/19/26
 *  Copyright © 2026 Haibao Tang. All rights reserved.
 */

package scanchor

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kshedden/gonpy"
	"github.com/shenwei356/xopen"
	"gonum.org/v1/gonum/mat"
)

// readRows parses a tab separated file with a header, skipping blank lines
// and lines starting with #
func readRows(filename string) ([]string, [][]string, error) {
	fh, err := xopen.Ropen(filename)
	if err != nil {
		return nil, nil, err
	}
	defer fh.Close()

	var header []string
	var rows [][]string
	lineno := 0
	for {
		row, err := fh.ReadString('\n')
		lineno++
		line := strings.TrimRight(row, "\r\n")
		if line != "" && line[0] != '#' {
			words := strings.Split(line, "\t")
			if header == nil {
				header = words
			} else if len(words) != len(header) {
				return nil, nil, fmt.Errorf("%s:%d: %d fields, header has %d", filename, lineno, len(words), len(header))
			} else {
				rows = append(rows, words)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
	}
	if header == nil {
		return nil, nil, fmt.Errorf("%s: empty file", filename)
	}
	return header, rows, nil
}

// ReadDataset parses a cells x features matrix. The first column holds the
// cell ids and the header holds the feature names. The dataset is named after
// the file when name is empty.
func ReadDataset(filename, name string) (*Dataset, error) {
	header, rows, err := readRows(filename)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = RemoveExt(filepath.Base(filename))
	}
	features := header[1:]
	if len(rows) == 0 || len(features) == 0 {
		return nil, fmt.Errorf("%s: %d cells and %d features", filename, len(rows), len(features))
	}
	cells := make([]string, len(rows))
	x := mat.NewDense(len(rows), len(features), nil)
	for i, words := range rows {
		cells[i] = words[0]
		for j, w := range words[1:] {
			v, err := strconv.ParseFloat(w, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: cell `%s`, feature `%s`: %w", filename, words[0], features[j], err)
			}
			x.Set(i, j, v)
		}
	}
	log.Noticef("Parse dataset `%s` from `%s`: %d cells, %d features", name, filename, len(cells), len(features))
	return NewDataset(name, cells, features, x)
}

// ReadAnnotations attaches the columns of a cell annotation table to the
// dataset. Columns where every entry is a number become Values, the others
// become Labels. Every cell of the dataset must be annotated.
func ReadAnnotations(filename string, ds *Dataset) error {
	header, rows, err := readRows(filename)
	if err != nil {
		return err
	}
	byCell := make(map[string][]string, len(rows))
	for _, words := range rows {
		byCell[words[0]] = words[1:]
	}
	for j, key := range header[1:] {
		labels := make([]string, ds.Len())
		values := make([]float64, ds.Len())
		numeric := true
		for i, cell := range ds.Cells {
			words, ok := byCell[cell]
			if !ok {
				return fmt.Errorf("%s: no annotation for cell `%s`", filename, cell)
			}
			labels[i] = words[j]
			if v, err := strconv.ParseFloat(words[j], 64); err == nil {
				values[i] = v
			} else {
				numeric = false
			}
		}
		if numeric {
			err = ds.SetValues(key, values)
		} else {
			err = ds.SetLabels(key, labels)
		}
		if err != nil {
			return err
		}
	}
	log.Noticef("Parse %d annotations for `%s` from `%s`", len(header)-1, ds.Name, filename)
	return nil
}

// WriteMatrix writes a matrix with row names and column names
func WriteMatrix(filename string, rows, cols []string, m *mat.Dense) error {
	fw, err := xopen.Wopen(filename)
	if err != nil {
		return err
	}
	r, c := m.Dims()
	fmt.Fprintf(fw, "cell\t%s\n", strings.Join(cols, "\t"))
	atoms := make([]string, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			atoms[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		fmt.Fprintf(fw, "%s\t%s\n", rows[i], strings.Join(atoms, "\t"))
	}
	log.Noticef("Write %dx%d matrix to `%s`", r, c, filename)
	return fw.Close()
}

// ComponentNames returns prefix_1 .. prefix_n
func ComponentNames(prefix string, n int) []string {
	res := make([]string, n)
	for i := range res {
		res[i] = fmt.Sprintf("%s_%d", prefix, i+1)
	}
	return res
}

// WriteAnchors writes one anchor per line:
// dataset1 cell1 dataset2 cell2 score
func WriteAnchors(filename string, set *AnchorSet) error {
	fw, err := xopen.Wopen(filename)
	if err != nil {
		return err
	}
	fmt.Fprintf(fw, "#%s\n", strings.Join([]string{"dataset1", "cell1", "dataset2", "cell2", "score"}, "\t"))
	for i, name := range set.Datasets {
		fmt.Fprintf(fw, "#dataset\t%s\t%d\n", name, set.Sizes[i])
	}
	for _, an := range set.Anchors {
		fmt.Fprintf(fw, "%s\t%d\t%s\t%d\t%.6g\n", set.Datasets[an.Dataset1], an.Cell1,
			set.Datasets[an.Dataset2], an.Cell2, an.Score)
	}
	log.Noticef("Write %d anchors to `%s`", set.Len(), filename)
	return fw.Close()
}

// ReadAnchors parses a file written by WriteAnchors
func ReadAnchors(filename string) (*AnchorSet, error) {
	fh, err := xopen.Ropen(filename)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	var names []string
	var sizes []int
	var anchors []Anchor
	index := map[string]int{}
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		words := strings.Split(scanner.Text(), "\t")
		switch {
		case words[0] == "#dataset" && len(words) == 3:
			size, err := strconv.Atoi(words[2])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", filename, err)
			}
			index[words[1]] = len(names)
			names = append(names, words[1])
			sizes = append(sizes, size)
		case strings.HasPrefix(words[0], "#") || len(words) < 5:
			continue
		default:
			an, err := parseAnchor(words, index)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", filename, err)
			}
			anchors = append(anchors, an)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	set := NewAnchorSet(names, sizes)
	if err := set.Add(anchors...); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	log.Noticef("Parse %d anchors over %d datasets from `%s`", set.Len(), len(names), filename)
	return set, set.Validate()
}

// parseAnchor reads the five anchor fields
func parseAnchor(words []string, index map[string]int) (Anchor, error) {
	d1, ok1 := index[words[0]]
	d2, ok2 := index[words[2]]
	if !ok1 || !ok2 {
		return Anchor{}, fmt.Errorf("anchor between undeclared datasets `%s` and `%s`", words[0], words[2])
	}
	c1, err := strconv.Atoi(words[1])
	if err != nil {
		return Anchor{}, err
	}
	c2, err := strconv.Atoi(words[3])
	if err != nil {
		return Anchor{}, err
	}
	score, err := strconv.ParseFloat(words[4], 64)
	if err != nil {
		return Anchor{}, err
	}
	return Anchor{Dataset1: d1, Cell1: c1, Dataset2: d2, Cell2: c2, Score: score}, nil
}

// WritePredictions writes the transferred labels and class scores
func WritePredictions(filename string, preds []Prediction) error {
	fw, err := xopen.Wopen(filename)
	if err != nil {
		return err
	}
	var classes []string
	for _, p := range preds {
		for c := range p.Scores {
			classes = append(classes, c)
		}
	}
	classes = unique(classes)
	dims := 0
	if len(preds) > 0 {
		dims = len(preds[0].Coords)
	}

	header := append([]string{"cell", "label", "max_score", "value", "degenerate"}, classes...)
	header = append(header, ComponentNames("coord", dims)...)
	fmt.Fprintln(fw, strings.Join(header, "\t"))
	for _, p := range preds {
		atoms := []string{p.Cell, p.Label, fmt.Sprintf("%.4f", p.MaxScore),
			strconv.FormatFloat(p.Value, 'g', 6, 64), strconv.FormatBool(p.Degenerate)}
		for _, c := range classes {
			atoms = append(atoms, fmt.Sprintf("%.4f", p.Scores[c]))
		}
		for _, v := range p.Coords {
			atoms = append(atoms, strconv.FormatFloat(v, 'g', 6, 64))
		}
		fmt.Fprintln(fw, strings.Join(atoms, "\t"))
	}
	log.Noticef("Write %d predictions to `%s`", len(preds), filename)
	return fw.Close()
}

// LabelAgreement counts matching labels, cells missing in truth are ignored
func LabelAgreement(preds []Prediction, truth map[string]string) (int, int) {
	agree, total := 0, 0
	for _, p := range preds {
		t, ok := truth[p.Cell]
		if !ok {
			continue
		}
		total++
		if p.Label == t {
			agree++
		}
	}
	return agree, total
}

// WriteNpy saves a matrix as a row major .npy array
func WriteNpy(filename string, m *mat.Dense) error {
	r, c := m.Dims()
	w, err := gonpy.NewFileWriter(filename)
	if err != nil {
		return err
	}
	w.Shape = []int{r, c}
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	if err := w.WriteFloat64(data); err != nil {
		return err
	}
	log.Noticef("Write %dx%d array to `%s`", r, c, filename)
	return nil
}

// ReadNpy loads a 2D float64 .npy array
func ReadNpy(filename string) (*mat.Dense, error) {
	r, err := gonpy.NewFileReader(filename)
	if err != nil {
		return nil, err
	}
	if len(r.Shape) != 2 {
		return nil, fmt.Errorf("%s: expected a 2D array, got shape %v", filename, r.Shape)
	}
	data, err := r.GetFloat64()
	if err != nil {
		return nil, err
	}
	rows, cols := r.Shape[0], r.Shape[1]
	if r.ColumnMajor {
		m := mat.NewDense(cols, rows, data)
		return mat.DenseCopyOf(m.T()), nil
	}
	return mat.NewDense(rows, cols, data), nil
}
