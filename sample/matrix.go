// Copyright 2021 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package sample

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Matrix is a dense row-major float32 matrix holding the feature (or
// probability) columns for consecutive pileup positions.
type Matrix struct {
	Rows, Cols int
	Data       []float32
}

// NewMatrix returns a zero-filled rows x cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{
		Rows: rows,
		Cols: cols,
		Data: make([]float32, rows*cols),
	}
}

// At returns the element at row i, column j.
func (m *Matrix) At(i, j int) float32 {
	return m.Data[i*m.Cols+j]
}

// Set assigns the element at row i, column j.
func (m *Matrix) Set(i, j int, v float32) {
	m.Data[i*m.Cols+j] = v
}

// Row returns row i as a slice sharing the matrix's storage.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// SameShape reports whether m and o have identical dimensions.
func (m *Matrix) SameShape(o *Matrix) bool {
	return m.Rows == o.Rows && m.Cols == o.Cols
}

// Tensor is a stack of n equally shaped matrices backed by one
// contiguous allocation.
type Tensor struct {
	N, Rows, Cols int
	Data          []float32
}

// NewTensor returns a zero-filled n x rows x cols tensor.
func NewTensor(n, rows, cols int) *Tensor {
	return &Tensor{
		N:    n,
		Rows: rows,
		Cols: cols,
		Data: make([]float32, n*rows*cols),
	}
}

// Slice returns the i'th matrix of the stack.  The returned matrix
// shares the tensor's storage; writes through either are visible to
// both.
func (t *Tensor) Slice(i int) *Matrix {
	size := t.Rows * t.Cols
	return &Matrix{
		Rows: t.Rows,
		Cols: t.Cols,
		Data: t.Data[i*size : (i+1)*size],
	}
}

// Stack concatenates the given matrices along a new leading axis,
// preserving order.  All matrices must share one shape; a mismatch is
// reported as an error, never papered over by reshaping or
// truncation.
func Stack(ms []*Matrix) (*Tensor, error) {
	if len(ms) == 0 {
		return nil, errors.E("sample.Stack: empty input")
	}
	first := ms[0]
	t := NewTensor(len(ms), first.Rows, first.Cols)
	size := first.Rows * first.Cols
	for i, m := range ms {
		if !m.SameShape(first) {
			return nil, errors.E(fmt.Sprintf(
				"sample.Stack: matrix %d has shape (%d,%d), want (%d,%d)",
				i, m.Rows, m.Cols, first.Rows, first.Cols))
		}
		copy(t.Data[i*size:(i+1)*size], m.Data)
	}
	return t, nil
}
