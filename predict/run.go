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
package predict

import (
	"context"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/polish/sample"
)

// Predictor is the batched inference consumer.  Predict receives the
// stacked feature tensor of one batch and returns per-position class
// probabilities with the same two leading axes.
type Predictor interface {
	Predict(ctx context.Context, features *sample.Tensor) (*sample.Tensor, error)
}

// Sink persists one predicted sample.  Append is called exactly once
// per sample, from a single goroutine.
type Sink interface {
	Append(s *sample.Sample) error
}

// RunOpts configures Run.
type RunOpts struct {
	Loader LoaderOpts
	// ChunkOverlap is the number of overlapping pileup columns between
	// consecutive samples of one region.  Used for progress accounting
	// only: overlapped columns are not counted twice.
	ChunkOverlap int
	// ProgressInterval is the minimum delay between progress log
	// lines.  Zero means DefaultProgressInterval.
	ProgressInterval time.Duration
}

// DefaultProgressInterval is the default delay between progress logs.
const DefaultProgressInterval = 10 * time.Second

// Run drives one pipeline pass over regions: batches are pulled from
// a Loader, predicted, and every sample is amended with its
// probability slice and appended to the sink.  It returns the regions
// the pipeline reported unsuitable for chunked processing; the caller
// is expected to re-run those through a second pass configured
// without chunking and with batch size 1.
func Run(ctx context.Context, gen Generator, regions []sample.Region, pred Predictor, sink Sink, opts RunOpts) ([]sample.Remainder, error) {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	var totalBases int64
	for _, r := range regions {
		totalBases += int64(r.Size())
	}
	log.Printf("running inference for %.1fM draft bases", float64(totalBases)/1e6)

	loader := NewLoader(gen, regions, opts.Loader)
	defer loader.Close()

	var basesDone int64
	nBatches := 0
	t0 := time.Now()
	tLast := t0
	for {
		batch, ok := loader.Next()
		if !ok {
			break
		}
		nBatches++
		probs, err := pred.Predict(ctx, batch.Features)
		if err != nil {
			return nil, errors.E(err, "predicting batch")
		}
		for i, s := range batch.Samples {
			s.Probs = probs.Slice(i)
			if err := sink.Append(s); err != nil {
				return nil, errors.E(err, "persisting sample")
			}
		}
		// Count bases done net of chunk overlap, so overlapping columns
		// contribute once.
		for _, s := range batch.Samples {
			if opts.ChunkOverlap < len(s.Positions) {
				basesDone += int64(s.LastPos().Major - s.Positions[opts.ChunkOverlap].Major)
			} else {
				basesDone += int64(s.Span())
			}
		}
		if basesDone > totalBases {
			basesDone = totalBases
		}
		if now := time.Now(); totalBases > 0 && now.Sub(tLast) > opts.ProgressInterval {
			tLast = now
			log.Printf("%.1f%% done (%.1f/%.1f Mbases) in %.1fs",
				100*float64(basesDone)/float64(totalBases),
				float64(basesDone)/1e6, float64(totalBases)/1e6,
				now.Sub(t0).Seconds())
		}
	}
	if err := loader.Err(); err != nil {
		return nil, err
	}
	remainders := loader.Remainders()
	log.Printf("processed %d batches", nBatches)
	log.Printf("all done, %d remainder regions", len(remainders))
	return remainders, nil
}
