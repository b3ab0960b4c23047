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
package predict_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/grailbio/polish/predict"
	"github.com/grailbio/polish/sample"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// doublePredictor returns each feature value doubled, with the same
// shape, so tests can verify which tensor slice a sample was amended
// with.
type doublePredictor struct {
	fail     bool
	nBatches int
}

func (p *doublePredictor) Predict(ctx context.Context, feats *sample.Tensor) (*sample.Tensor, error) {
	if p.fail {
		return nil, fmt.Errorf("synthetic predictor failure")
	}
	p.nBatches++
	out := sample.NewTensor(feats.N, feats.Rows, feats.Cols)
	for i, v := range feats.Data {
		out.Data[i] = 2 * v
	}
	return out, nil
}

// sliceSink collects appended samples.
type sliceSink struct {
	samples []*sample.Sample
	failAt  int // fail on the failAt'th append when > 0
}

func (s *sliceSink) Append(smp *sample.Sample) error {
	if s.failAt > 0 && len(s.samples)+1 == s.failAt {
		return fmt.Errorf("synthetic sink failure")
	}
	s.samples = append(s.samples, smp)
	return nil
}

func TestRun(t *testing.T) {
	regions := testRegions(4)
	gen := &testGenerator{samplesPerRegion: 5, remainderRegions: map[string]bool{"chr2": true}}
	pred := &doublePredictor{}
	sink := &sliceSink{}
	opts := predict.RunOpts{Loader: predict.LoaderOpts{BatchSize: 4, Workers: 2, BatchCache: 2}}
	remainders, err := predict.Run(context.Background(), gen, regions, pred, sink, opts)
	assert.NoError(t, err)

	// 3 producing regions x 5 samples, batch size 4: 4 batches.
	expect.EQ(t, len(sink.samples), 15)
	expect.EQ(t, pred.nBatches, 4)
	assert.EQ(t, len(remainders), 1)
	expect.EQ(t, remainders[0].Region.Name, "chr2")

	// Every persisted sample carries probabilities derived from its
	// own features.
	for _, s := range sink.samples {
		assert.True(t, s.Probs != nil)
		expect.EQ(t, s.Probs.Rows, s.Features.Rows)
		expect.EQ(t, s.Probs.Cols, s.Features.Cols)
		for j, v := range s.Features.Data {
			expect.EQ(t, s.Probs.Data[j], 2*v)
		}
	}
}

func TestRunEmpty(t *testing.T) {
	pred := &doublePredictor{}
	sink := &sliceSink{}
	remainders, err := predict.Run(context.Background(), &testGenerator{}, nil, pred, sink,
		predict.RunOpts{Loader: predict.LoaderOpts{BatchSize: 4, Workers: 2}})
	assert.NoError(t, err)
	expect.EQ(t, len(remainders), 0)
	expect.EQ(t, len(sink.samples), 0)
	expect.EQ(t, pred.nBatches, 0)
}

func TestRunGeneratorError(t *testing.T) {
	gen := &testGenerator{samplesPerRegion: 3, failRegion: "chr1"}
	_, err := predict.Run(context.Background(), gen, testRegions(3), &doublePredictor{}, &sliceSink{},
		predict.RunOpts{Loader: predict.LoaderOpts{BatchSize: 100, Workers: 2}})
	assert.True(t, err != nil)
	expect.HasSubstr(t, err.Error(), "synthetic failure")
}

func TestRunPredictorError(t *testing.T) {
	gen := &testGenerator{samplesPerRegion: 3}
	_, err := predict.Run(context.Background(), gen, testRegions(3), &doublePredictor{fail: true}, &sliceSink{},
		predict.RunOpts{Loader: predict.LoaderOpts{BatchSize: 2, Workers: 2}})
	assert.True(t, err != nil)
	expect.HasSubstr(t, err.Error(), "predictor failure")
}

func TestRunSinkError(t *testing.T) {
	gen := &testGenerator{samplesPerRegion: 3}
	_, err := predict.Run(context.Background(), gen, testRegions(3), &doublePredictor{}, &sliceSink{failAt: 2},
		predict.RunOpts{Loader: predict.LoaderOpts{BatchSize: 2, Workers: 2}})
	assert.True(t, err != nil)
	expect.HasSubstr(t, err.Error(), "sink failure")
}
