// Package dataset reads labeled and unlabeled samples from CSV and writes
// predictions back out.
package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"knnmr/knn"
)

// Columns names the columns of interest. An empty Features list selects every
// column other than ID and Label, in header order.
type Columns struct {
	ID       string
	Label    string
	Features []string
}

// DefaultColumns matches the layout of the iris dataset.
var DefaultColumns = Columns{ID: "Id", Label: "Species"}

// Load parses a CSV document with a header row. Rows with an empty label are
// queries. Non-numeric or non-finite feature values and duplicate ids are
// errors.
func Load(r io.Reader, cols Columns) ([]knn.Sample, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty input: missing header row")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	idx, err := resolve(header, cols)
	if err != nil {
		return nil, err
	}

	var samples []knn.Sample
	seen := make(map[int64]int)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}

		s, err := idx.sample(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if prev, dup := seen[s.ID]; dup {
			return nil, errors.Errorf("line %d: duplicate id %d (first on line %d)", line, s.ID, prev)
		}
		seen[s.ID] = line
		samples = append(samples, s)
	}
	return samples, nil
}

type columnIndex struct {
	id, label int
	features  []int
	names     []string
}

func resolve(header []string, cols Columns) (*columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}

	idx := &columnIndex{}
	var ok bool
	if idx.id, ok = pos[cols.ID]; !ok {
		return nil, errors.Errorf("id column %q not in header", cols.ID)
	}
	if idx.label, ok = pos[cols.Label]; !ok {
		return nil, errors.Errorf("label column %q not in header", cols.Label)
	}

	names := cols.Features
	if len(names) == 0 {
		for _, h := range header {
			h = strings.TrimSpace(h)
			if h != cols.ID && h != cols.Label {
				names = append(names, h)
			}
		}
	}
	if len(names) == 0 {
		return nil, errors.New("no feature columns")
	}
	for _, n := range names {
		i, ok := pos[n]
		if !ok {
			return nil, errors.Errorf("feature column %q not in header", n)
		}
		idx.features = append(idx.features, i)
	}
	idx.names = names
	return idx, nil
}

func (c *columnIndex) sample(rec []string) (knn.Sample, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(rec[c.id]), 10, 64)
	if err != nil {
		return knn.Sample{}, errors.Wrap(err, "id")
	}

	s := knn.Sample{
		ID:       id,
		Label:    strings.TrimSpace(rec[c.label]),
		Features: make([]float64, len(c.features)),
	}
	for i, col := range c.features {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
		if err != nil {
			return knn.Sample{}, errors.Wrapf(err, "sample %d, column %s", id, c.names[i])
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return knn.Sample{}, errors.Errorf("sample %d, column %s: non-finite value %v", id, c.names[i], v)
		}
		s.Features[i] = v
	}
	return s, nil
}

// WritePredictions writes predictions as CSV with an Id,Label header.
func WritePredictions(w io.Writer, predictions []knn.Prediction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Id", "Label"}); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, p := range predictions {
		if err := cw.Write([]string{strconv.FormatInt(p.QueryID, 10), p.Label}); err != nil {
			return errors.Wrapf(err, "write prediction %d", p.QueryID)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush predictions")
}
