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

// Package model provides inference consumers for the polish
// pipeline.  The real sequence model is external; Consensus is the
// in-repo stand-in that turns pileup counts directly into class
// probabilities.
package model

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/polish/sample"
)

// NumClasses is the number of output classes per pileup column:
// A, C, G, T and a catch-all.
const NumClasses = 5

// Consensus predicts per-position class probabilities proportional to
// the strand-collapsed base counts of the feature rows.  Rows with
// zero depth get a uniform distribution.  It implements
// predict.Predictor.
type Consensus struct{}

// Predict implements predict.Predictor.  The input tensor must have
// 2*NumClasses feature columns (one per base and strand, as produced
// by the features package).
func (Consensus) Predict(ctx context.Context, feats *sample.Tensor) (*sample.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if feats.Cols != 2*NumClasses {
		return nil, errors.E(fmt.Sprintf("model: tensor has %d feature columns, want %d", feats.Cols, 2*NumClasses))
	}
	out := sample.NewTensor(feats.N, feats.Rows, NumClasses)
	for n := 0; n < feats.N; n++ {
		in := feats.Slice(n)
		probs := out.Slice(n)
		for i := 0; i < in.Rows; i++ {
			row := in.Row(i)
			outRow := probs.Row(i)
			var total float32
			for c := 0; c < NumClasses; c++ {
				v := row[2*c] + row[2*c+1]
				outRow[c] = v
				total += v
			}
			if total == 0 {
				for c := range outRow {
					outRow[c] = 1.0 / NumClasses
				}
				continue
			}
			for c := range outRow {
				outRow[c] /= total
			}
		}
	}
	return out, nil
}
