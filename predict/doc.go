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

// Package predict implements the concurrent region -> sample -> batch
// pipeline feeding batched inference.
//
// A Loader fans a fixed set of genomic regions out to a pool of
// region workers.  Each worker turns its regions into feature samples
// through a Generator and pushes them onto a bounded channel; the
// channel's capacity is the pipeline's backpressure point, limiting
// in-flight samples to BatchCache batches' worth.  A single assembler
// goroutine regroups the merged sample stream into uniform batches,
// stacks their feature matrices into one tensor per batch, and hands
// batches to the consumer one at a time over a rendezvous channel.
//
// Termination is expressed with channel closes rather than in-band
// sentinel values: the region channel is closed at construction, each
// worker signals completion through a WaitGroup (unconditionally, on
// error paths too), a closer goroutine closes the sample channel
// after the last worker, and the assembler closes the batch channel
// after the final (possibly short) batch.  Run layers progress
// accounting, prediction and persistence on top of a Loader.
package predict
