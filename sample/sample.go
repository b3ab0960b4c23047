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

// Package sample defines the domain types shared by the polish
// pipeline: genomic regions, pileup-feature samples and the stacked
// tensors that batched inference consumes.
package sample

// Position identifies one pileup column.  Major is the 0-based
// reference coordinate; Minor counts insertion columns following it
// and is zero for match columns.
type Position struct {
	Major int32
	Minor int32
}

// Sample is one feature-bearing unit derived from a region: a window
// of consecutive pileup columns with one feature row per column.
// Samples derived from the same region preserve their generation
// order through the pipeline; samples from different regions may
// interleave.
type Sample struct {
	// Ref is the reference (contig) name the sample was derived from.
	Ref string
	// Positions labels each feature row.  len(Positions) == Features.Rows.
	Positions []Position
	// Features is the feature matrix.  After batching it aliases the
	// sample's slice of the batch tensor.
	Features *Matrix
	// Probs holds per-position class probabilities once the sample has
	// been through inference; nil before that.
	Probs *Matrix
}

// FirstPos returns the position of the first pileup column.
func (s *Sample) FirstPos() Position {
	return s.Positions[0]
}

// LastPos returns the position of the last pileup column.
func (s *Sample) LastPos() Position {
	return s.Positions[len(s.Positions)-1]
}

// Span returns the number of reference bases covered by the sample,
// used for progress accounting.
func (s *Sample) Span() int {
	return int(s.LastPos().Major-s.FirstPos().Major) + 1
}

// Remainder marks a region (or part of one) that a worker judged
// unsuitable for chunked batch processing, typically because its
// pileup is narrower than the chunk length.  Remainders are collected
// during a pipeline run and handed back to the caller for a second,
// unchunked pass.
type Remainder struct {
	Region Region
}
