// Package dataset holds the in-memory feature matrices and label vectors the
// trainer consumes, together with the file formats they are read from.
package dataset

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

var (
	ErrShape        = errors.New("dataset shape mismatch")
	ErrFeatureRange = errors.New("dataset feature outside [0, 1]")
	ErrLabel        = errors.New("dataset label out of range")
)

// Dataset pairs a (rows, features) float64 tensor with one label per row.
// Labels may be nil for sets that are only predicted on.
type Dataset struct {
	features *tensor.Dense
	labels   []int
}

// New wraps data (row-major, rows*cols values) without copying it.
func New(data []float64, rows, cols int, labels []int) (*Dataset, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrShape, rows, cols)
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("%w: %d values for %dx%d", ErrShape, len(data), rows, cols)
	}
	if labels != nil && len(labels) != rows {
		return nil, fmt.Errorf("%w: %d labels for %d rows", ErrShape, len(labels), rows)
	}
	t := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(rows, cols), tensor.WithBacking(data))
	return &Dataset{features: t, labels: labels}, nil
}

// FromRows copies a slice of equally sized rows into a Dataset.
func FromRows(rows [][]float64, labels []int) (*Dataset, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrShape)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrShape, i, len(r), cols)
		}
		data = append(data, r...)
	}
	return New(data, len(rows), cols, labels)
}

func (d *Dataset) Len() int {
	return d.features.Shape()[0]
}

func (d *Dataset) Features() int {
	return d.features.Shape()[1]
}

func (d *Dataset) HasLabels() bool {
	return d.labels != nil
}

func (d *Dataset) Labels() []int {
	return d.labels
}

// Tensor exposes the underlying feature tensor.
func (d *Dataset) Tensor() *tensor.Dense {
	return d.features
}

func (d *Dataset) data() []float64 {
	return d.features.Data().([]float64)
}

// Matrix views the whole feature tensor as a matrix sharing its storage.
func (d *Dataset) Matrix() *mat.Dense {
	return mat.NewDense(d.Len(), d.Features(), d.data())
}

// Slice views rows [start, end) as a matrix sharing storage with the dataset.
func (d *Dataset) Slice(start, end int) (*mat.Dense, []int) {
	cols := d.Features()
	m := mat.NewDense(end-start, cols, d.data()[start*cols:end*cols])
	if d.labels == nil {
		return m, nil
	}
	return m, d.labels[start:end]
}

// Gather copies the given rows, in order, into a new matrix and label slice.
func (d *Dataset) Gather(idx []int) (*mat.Dense, []int) {
	cols := d.Features()
	src := d.data()
	data := make([]float64, len(idx)*cols)
	var labels []int
	if d.labels != nil {
		labels = make([]int, len(idx))
	}
	for i, row := range idx {
		copy(data[i*cols:(i+1)*cols], src[row*cols:(row+1)*cols])
		if labels != nil {
			labels[i] = d.labels[row]
		}
	}
	return mat.NewDense(len(idx), cols, data), labels
}

// Validate checks that the set fits a network with the given input width and
// class count: every feature in [0, 1], every label in [0, classes).
func (d *Dataset) Validate(features, classes int) error {
	if d.Features() != features {
		return fmt.Errorf("%w: %d features, network expects %d", ErrShape, d.Features(), features)
	}
	for i, v := range d.data() {
		if !(v >= 0 && v <= 1) {
			return fmt.Errorf("%w: sample %d feature %d is %v", ErrFeatureRange, i/d.Features(), i%d.Features(), v)
		}
	}
	for i, l := range d.labels {
		if l < 0 || l >= classes {
			return fmt.Errorf("%w: sample %d label %d outside [0, %d)", ErrLabel, i, l, classes)
		}
	}
	return nil
}
