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
package main

/*
bio-polish runs batched pileup-feature inference over a BAM: regions
are converted into fixed-shape count samples by a pool of workers,
regrouped into uniform batches, run through the prediction consumer
and persisted as a recordio stream.  Regions too narrow for chunked
processing are re-run in a second, unchunked pass with batch size 1.
*/

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/polish/bamio"
	"github.com/grailbio/polish/features"
	"github.com/grailbio/polish/model"
	"github.com/grailbio/polish/predict"
	"github.com/grailbio/polish/sample"
	"github.com/grailbio/polish/store"
)

var (
	region       = flag.String("region", "", "Comma-separated regions to process, each formatted as <contig ID>:<1-based first pos>-<last pos>, <contig ID>:<1-based pos>, or just <contig ID>. Empty means every reference in the header")
	bamIndexPath = flag.String("index", "", "Input BAM index path. Defaults to bampath + .bai")
	chunkLen     = flag.Int("chunk-len", features.DefaultOpts.ChunkLen, "Width of each feature sample, in pileup columns")
	chunkOvlp    = flag.Int("chunk-ovlp", features.DefaultOpts.ChunkOverlap, "Overlap between consecutive samples of one region")
	batchSize    = flag.Int("batch-size", predict.DefaultLoaderOpts.BatchSize, "Number of samples per inference batch")
	workers      = flag.Int("workers", predict.DefaultLoaderOpts.Workers, "Number of concurrent region workers")
	cacheBatches = flag.Int("cache-batches", predict.DefaultLoaderOpts.BatchCache, "Producer buffer size, in batches' worth of samples")
	bamChunk     = flag.Int("bam-chunk", 1000000, "Regions wider than this are pre-split to bound feature matrix size")
	minMapQ      = flag.Int("min-mapq", features.DefaultOpts.MinMapQ, "Reads with MAPQ below this level are skipped")
	flagExclude  = flag.Int("flag-exclude", features.DefaultOpts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	noChunking   = flag.Bool("no-chunking", false, "Disable chunking; forces batch size 1 since sample shapes vary")
	outPath      = flag.String("out", "bio-polish.rio", "Output datastore path")
)

func bioPolishUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = bioPolishUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		log.Fatalf("Exactly one positional argument (bampath) expected; please check flag syntax: '%s'", strings.Join(flag.Args(), " "))
	}
	ctx := vcontext.Background()
	provider := &bamio.Provider{Path: flag.Arg(0), Index: *bamIndexPath}
	header, err := provider.Header()
	if err != nil {
		log.Fatalf("reading %s: %v", flag.Arg(0), err)
	}
	regions, err := resolveRegions(header, *region)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("processing region(s): %s", regionString(regions))

	// Pre-split overly wide regions so no single pileup matrix gets
	// out of hand.
	var split []sample.Region
	for _, r := range regions {
		split = append(split, r.Split(*bamChunk, *chunkOvlp)...)
	}
	log.Printf("processing %d long region(s) with batching", len(split))

	encOpts := features.Opts{
		ChunkLen:     *chunkLen,
		ChunkOverlap: *chunkOvlp,
		MinMapQ:      *minMapQ,
		FlagExclude:  *flagExclude,
		Chunking:     !*noChunking,
	}
	src := features.NewBAMSource(provider)
	ds, err := store.Create(ctx, *outPath, "pileup-counts", features.NumColumns)
	if err != nil {
		log.Fatal(err)
	}
	pred := model.Consensus{}
	runOpts := predict.RunOpts{
		Loader: predict.LoaderOpts{
			BatchSize:  *batchSize,
			Workers:    *workers,
			BatchCache: *cacheBatches,
		},
		ChunkOverlap: *chunkOvlp,
	}
	if *noChunking {
		// Sample shapes vary with region width; they cannot share a batch.
		runOpts.Loader.BatchSize = 1
	}
	remainders, err := predict.Run(ctx, features.NewEncoder(src, encOpts), split, pred, ds, runOpts)
	if err != nil {
		log.Fatal(err)
	}

	// Remainder regions have pileups narrower than the chunk length, so
	// they are cheap: redo them without chunking, one sample per batch.
	if len(remainders) > 0 {
		log.Printf("processing %d short region(s)", len(remainders))
		shorts := make([]sample.Region, len(remainders))
		for i, rem := range remainders {
			shorts[i] = rem.Region
		}
		encOpts.Chunking = false
		shortOpts := runOpts
		shortOpts.Loader.BatchSize = 1
		left, err := predict.Run(ctx, features.NewEncoder(src, encOpts), shorts, pred, ds, shortOpts)
		if err != nil {
			log.Fatal(err)
		}
		if len(left) > 0 {
			// Shouldn't get here: an unchunked pass defers nothing.
			log.Error.Printf("%d regions were not processed: %s", len(left), remainderString(left))
		}
	}

	n := ds.NumSamples()
	if err := ds.Close(); err != nil {
		log.Fatal(err)
	}
	if err := provider.Close(); err != nil {
		log.Fatal(err)
	}
	log.Printf("finished processing all regions, %d samples written to %s", n, *outPath)
}

// resolveRegions parses the -region flag against the BAM header,
// defaulting to every reference when the flag is empty.
func resolveRegions(header *sam.Header, flagValue string) ([]sample.Region, error) {
	refs := header.Refs()
	if flagValue == "" {
		regions := make([]sample.Region, len(refs))
		for i, ref := range refs {
			regions[i] = sample.Region{Name: ref.Name(), Start: 0, End: ref.Len()}
		}
		return regions, nil
	}
	byName := make(map[string]*sam.Reference, len(refs))
	for _, ref := range refs {
		byName[ref.Name()] = ref
	}
	var regions []sample.Region
	for _, s := range strings.Split(flagValue, ",") {
		r, err := sample.ParseRegion(s)
		if err != nil {
			return nil, err
		}
		ref, ok := byName[r.Name]
		if !ok {
			return nil, fmt.Errorf("region %q: reference not in BAM header", s)
		}
		if r.End < 0 || r.End > ref.Len() {
			r.End = ref.Len()
		}
		regions = append(regions, r)
	}
	return regions, nil
}

func regionString(regions []sample.Region) string {
	strs := make([]string, len(regions))
	for i, r := range regions {
		strs[i] = r.String()
	}
	return strings.Join(strs, " ")
}

func remainderString(remainders []sample.Remainder) string {
	strs := make([]string, len(remainders))
	for i, rem := range remainders {
		strs[i] = rem.Region.String()
	}
	return strings.Join(strs, " ")
}
