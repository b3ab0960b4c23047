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
package model_test

import (
	"context"
	"testing"

	"github.com/grailbio/polish/model"
	"github.com/grailbio/polish/sample"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestConsensus(t *testing.T) {
	// One sample, two positions, count features with 2 columns (fwd,
	// rev) per class.
	feats := sample.NewTensor(1, 2, 2*model.NumClasses)
	in := feats.Slice(0)
	// Position 0: 3 A fwd, 1 A rev, 4 C fwd.
	in.Set(0, 0, 3)
	in.Set(0, 1, 1)
	in.Set(0, 2, 4)
	// Position 1: zero depth.

	probs, err := model.Consensus{}.Predict(context.Background(), feats)
	assert.NoError(t, err)
	expect.EQ(t, probs.N, 1)
	expect.EQ(t, probs.Rows, 2)
	expect.EQ(t, probs.Cols, model.NumClasses)

	out := probs.Slice(0)
	expect.EQ(t, out.Row(0), []float32{0.5, 0.5, 0, 0, 0})
	// Zero depth yields a uniform distribution.
	expect.EQ(t, out.Row(1), []float32{0.2, 0.2, 0.2, 0.2, 0.2})

	// Rows always sum to 1.
	for i := 0; i < out.Rows; i++ {
		var total float32
		for _, v := range out.Row(i) {
			total += v
		}
		expect.EQ(t, total, float32(1), "row %d", i)
	}
}

func TestConsensusBadShape(t *testing.T) {
	feats := sample.NewTensor(1, 2, 3)
	_, err := model.Consensus{}.Predict(context.Background(), feats)
	expect.True(t, err != nil)
}
