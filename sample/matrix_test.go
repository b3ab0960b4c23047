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
package sample_test

import (
	"testing"

	"github.com/grailbio/polish/sample"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func fillMatrix(rows, cols int, base float32) *sample.Matrix {
	m := sample.NewMatrix(rows, cols)
	for i := range m.Data {
		m.Data[i] = base + float32(i)
	}
	return m
}

func TestMatrixAccessors(t *testing.T) {
	m := fillMatrix(2, 3, 0)
	expect.EQ(t, m.At(0, 0), float32(0))
	expect.EQ(t, m.At(1, 2), float32(5))
	m.Set(1, 0, 42)
	expect.EQ(t, m.Row(1), []float32{42, 4, 5})
	expect.True(t, m.SameShape(sample.NewMatrix(2, 3)))
	expect.False(t, m.SameShape(sample.NewMatrix(3, 2)))
}

func TestStack(t *testing.T) {
	ms := []*sample.Matrix{
		fillMatrix(2, 3, 0),
		fillMatrix(2, 3, 100),
		fillMatrix(2, 3, 200),
	}
	stacked, err := sample.Stack(ms)
	assert.NoError(t, err)
	expect.EQ(t, stacked.N, 3)
	expect.EQ(t, stacked.Rows, 2)
	expect.EQ(t, stacked.Cols, 3)
	for i, m := range ms {
		// Slice i must equal input matrix i bit for bit.
		expect.EQ(t, stacked.Slice(i).Data, m.Data, "slice %d", i)
	}

	// Slices share the tensor's storage.
	s := stacked.Slice(1)
	s.Set(0, 0, -7)
	expect.EQ(t, stacked.Data[2*3], float32(-7))
}

func TestStackShapeMismatch(t *testing.T) {
	_, err := sample.Stack([]*sample.Matrix{
		fillMatrix(2, 3, 0),
		fillMatrix(3, 3, 0),
	})
	expect.True(t, err != nil)

	_, err = sample.Stack(nil)
	expect.True(t, err != nil)
}

func TestSampleSpan(t *testing.T) {
	s := &sample.Sample{
		Ref: "chr1",
		Positions: []sample.Position{
			{Major: 10}, {Major: 11}, {Major: 11, Minor: 1}, {Major: 12},
		},
	}
	expect.EQ(t, s.FirstPos(), sample.Position{Major: 10})
	expect.EQ(t, s.LastPos(), sample.Position{Major: 12})
	expect.EQ(t, s.Span(), 3)
}
