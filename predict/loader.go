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
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/polish/sample"
)

// Generator produces the samples for one region.  One region yields
// zero or more samples plus zero or more remainders.  Implementations
// must be safe for concurrent use; the loader calls GenerateSamples
// from multiple goroutines.
type Generator interface {
	GenerateSamples(ctx context.Context, region sample.Region) ([]*sample.Sample, []sample.Remainder, error)
}

// Batch is an ordered group of samples plus their feature matrices
// stacked along a new leading axis.  Every sample's Features field
// aliases its slice of the stacked tensor.
type Batch struct {
	Samples  []*sample.Sample
	Features *sample.Tensor
}

// LoaderOpts configures a Loader.
type LoaderOpts struct {
	// BatchSize is the number of samples per batch.  The final batch of
	// a run may be shorter.
	BatchSize int
	// Workers is the number of concurrent region workers.
	Workers int
	// BatchCache bounds producer memory: workers block once
	// BatchCache*BatchSize samples are buffered ahead of the assembler.
	BatchCache int
}

// DefaultLoaderOpts is the default Loader configuration.
var DefaultLoaderOpts = LoaderOpts{
	BatchSize:  200,
	Workers:    2,
	BatchCache: 8,
}

// Loader runs the region -> sample -> batch pipeline.
//
// Regions are distributed over Workers goroutines, each invoking the
// generator and feeding a bounded sample channel.  A single assembler
// goroutine drains that channel, groups samples into batches of
// BatchSize in arrival order, stacks their features and hands
// finished batches to the consumer over a rendezvous channel, so at
// most one batch is in flight at a time.
//
// Per-region sample order is preserved end to end; ordering across
// regions is unspecified.  The first error recorded by any goroutine
// cancels the pipeline; all blocking points observe the cancellation,
// so the consumer is unblocked with Next returning false and Err
// reporting the failure rather than hanging.
type Loader struct {
	opts LoaderOpts
	gen  Generator

	ctx    context.Context
	cancel context.CancelFunc

	regions chan sample.Region
	samples chan *sample.Sample
	batches chan *Batch

	err errors.Once

	mu         sync.Mutex
	remainders []sample.Remainder
}

// NewLoader constructs a Loader and starts its goroutines.  All
// regions are enqueued before any worker starts, so an empty intake
// observed by a worker means the intake is exhausted for good.
// NewLoader returns without waiting; the caller drives the pipeline
// with Next.
func NewLoader(gen Generator, regions []sample.Region, opts LoaderOpts) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultLoaderOpts.BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultLoaderOpts.Workers
	}
	if opts.BatchCache <= 0 {
		opts.BatchCache = DefaultLoaderOpts.BatchCache
	}
	l := &Loader{
		opts:    opts,
		gen:     gen,
		regions: make(chan sample.Region, len(regions)),
		samples: make(chan *sample.Sample, opts.BatchCache*opts.BatchSize),
		// Rendezvous: the assembler blocks until the consumer has
		// retrieved the previous batch.
		batches: make(chan *Batch),
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	for _, r := range regions {
		l.regions <- r
	}
	close(l.regions)

	wg := &sync.WaitGroup{}
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go l.regionWorker(wg)
	}
	// Each worker's wg.Done is its end-of-stream signal; closing the
	// sample channel after all Workers signals is the rendezvous the
	// assembler waits for.
	go func() {
		wg.Wait()
		close(l.samples)
	}()
	go l.assemble()
	log.Debug.Printf("loader: batch size %d, workers %d, sample cache %d",
		opts.BatchSize, opts.Workers, opts.BatchCache*opts.BatchSize)
	return l
}

// regionWorker drains the region intake, generating samples for one
// region at a time.  The deferred wg.Done must fire on every exit
// path, including errors; skipping it would leave the assembler
// waiting forever for the sample channel to close.
func (l *Loader) regionWorker(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		var region sample.Region
		var ok bool
		select {
		case <-l.ctx.Done():
			return
		case region, ok = <-l.regions:
			if !ok {
				// The intake is never replenished: empty means done.
				return
			}
		}
		samples, remain, err := l.gen.GenerateSamples(l.ctx, region)
		if err != nil {
			l.fail(errors.E(err, "generating samples for region "+region.String()))
			return
		}
		for _, s := range samples {
			select {
			case l.samples <- s:
			case <-l.ctx.Done():
				return
			}
		}
		if len(remain) > 0 {
			l.mu.Lock()
			l.remainders = append(l.remainders, remain...)
			l.mu.Unlock()
		}
	}
}

// assemble is the single goroutine draining the sample channel into
// batches.  It owns the batch channel and always closes it on exit,
// normal or not, so the consumer never blocks on a dead pipeline.
func (l *Loader) assemble() {
	defer close(l.batches)
	group := make([]*sample.Sample, 0, l.opts.BatchSize)
	flush := func() bool {
		if len(group) == 0 {
			return true
		}
		feats := make([]*sample.Matrix, len(group))
		for i, s := range group {
			feats[i] = s.Features
		}
		stacked, err := sample.Stack(feats)
		if err != nil {
			l.fail(err)
			return false
		}
		// Rebind each sample's features to its slice of the stacked
		// tensor.  The batch matrix and sample list are thereby tied
		// together without duplicating storage.
		for i, s := range group {
			s.Features = stacked.Slice(i)
		}
		b := &Batch{Samples: group, Features: stacked}
		select {
		case l.batches <- b:
		case <-l.ctx.Done():
			return false
		}
		group = make([]*sample.Sample, 0, l.opts.BatchSize)
		return true
	}
	for {
		select {
		case <-l.ctx.Done():
			return
		case s, ok := <-l.samples:
			if !ok {
				// Stream drained.  Emit the partial final batch, if any;
				// no padding, no dropped samples.
				flush()
				return
			}
			group = append(group, s)
			if len(group) == l.opts.BatchSize {
				if !flush() {
					return
				}
			}
		}
	}
}

func (l *Loader) fail(err error) {
	l.err.Set(err)
	l.cancel()
}

// Next blocks until the next batch is available.  It returns false
// once the stream has ended, either normally or on failure; Err
// distinguishes the two.  At most one batch is in flight at a time.
func (l *Loader) Next() (*Batch, bool) {
	b, ok := <-l.batches
	if !ok {
		l.cancel()
	}
	return b, ok
}

// Err returns the first failure recorded by any pipeline goroutine.
// It is meaningful after Next has returned false.
func (l *Loader) Err() error {
	return l.err.Err()
}

// Remainders returns every region reported unsuitable for chunked
// processing, in unspecified order.  Call it only after Next has
// returned false.
func (l *Loader) Remainders() []sample.Remainder {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sample.Remainder(nil), l.remainders...)
}

// Close cancels the pipeline and waits for the assembler to stop.  It
// is safe to call at any time and more than once; a consumer that
// abandons the stream early must call it to unblock the producers.
func (l *Loader) Close() {
	l.cancel()
	for range l.batches {
	}
}
