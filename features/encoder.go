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

// Package features converts genomic regions into pileup count
// samples.  The encoder implements predict.Generator: one region
// becomes a per-position base-by-strand count matrix, sliced into
// fixed-width overlapping chunks so every sample has the same shape.
package features

import (
	"context"

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/polish/bamio"
	"github.com/grailbio/polish/sample"
)

// Base enums.  These match the positions of the set bits in the .bam
// seq nibble encoding for A/C/G/T.
const (
	baseA = iota
	baseC
	baseG
	baseT
	// baseX is a catch-all; deletions and ambiguity codes land here.
	baseX
	nBaseEnum
)

// NumColumns is the width of every feature row: one column per
// (base enum, strand) pair.
const NumColumns = 2 * nBaseEnum

// seq8ToEnum is the .bam seq nibble -> A/C/G/T/X enum mapping.
var seq8ToEnum = [16]byte{baseX, baseA, baseC, baseX, baseG, baseX, baseX, baseX, baseT, baseX, baseX, baseX, baseX, baseX, baseX, baseX}

// RecordIterator yields the alignment records of one region.
type RecordIterator interface {
	Scan() bool
	Record() *sam.Record
	Close() error
}

// Source produces the records overlapping a region.  Implementations
// must support concurrent iterators.
type Source interface {
	NewIterator(region sample.Region) RecordIterator
}

type bamSource struct {
	provider *bamio.Provider
}

func (s bamSource) NewIterator(region sample.Region) RecordIterator {
	return s.provider.NewIterator(region)
}

// NewBAMSource adapts a bamio.Provider into a Source.
func NewBAMSource(provider *bamio.Provider) Source {
	return bamSource{provider}
}

// Opts configures feature generation.
type Opts struct {
	// ChunkLen is the width, in pileup columns, of each emitted sample.
	ChunkLen int
	// ChunkOverlap is the number of columns shared by consecutive
	// chunks of one region.
	ChunkOverlap int
	// MinMapQ: reads with a lower mapping quality are skipped.
	MinMapQ int
	// FlagExclude: reads with a FLAG bit intersecting this value are
	// skipped.
	FlagExclude int
	// Chunking disabled emits one full-width sample per region and
	// never defers a region as a remainder; sample shapes then vary
	// with region width, so the caller must use batch size 1.
	Chunking bool
	// Normalise divides each row by its total count.
	Normalise bool
}

// DefaultOpts is the default encoder configuration.
var DefaultOpts = Opts{
	ChunkLen:     10000,
	ChunkOverlap: 1000,
	MinMapQ:      1,
	FlagExclude:  0xf00,
	Chunking:     true,
	Normalise:    false,
}

// Encoder turns regions into pileup count samples.  Safe for
// concurrent use.
type Encoder struct {
	src  Source
	opts Opts
}

// NewEncoder returns an Encoder reading records from src.
func NewEncoder(src Source, opts Opts) *Encoder {
	if opts.ChunkLen <= 0 {
		opts.ChunkLen = DefaultOpts.ChunkLen
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkLen {
		opts.ChunkOverlap = opts.ChunkLen / 10
	}
	return &Encoder{src: src, opts: opts}
}

// GenerateSamples implements predict.Generator.  A region narrower
// than the chunk length yields no samples and one remainder; all
// other regions yield one sample per chunk, in coordinate order.
func (e *Encoder) GenerateSamples(ctx context.Context, region sample.Region) ([]*sample.Sample, []sample.Remainder, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if e.opts.Chunking && region.Size() < e.opts.ChunkLen {
		log.Debug.Printf("features: region %s narrower than chunk length %d, deferring", region, e.opts.ChunkLen)
		return nil, []sample.Remainder{{Region: region}}, nil
	}
	counts, err := e.pileup(region)
	if err != nil {
		return nil, nil, err
	}
	full := &sample.Sample{
		Ref:       region.Name,
		Positions: regionPositions(region),
		Features:  counts,
	}
	if !e.opts.Chunking {
		return []*sample.Sample{full}, nil, nil
	}
	return chunkSample(full, e.opts.ChunkLen, e.opts.ChunkOverlap), nil, nil
}

// pileup builds the region's count matrix: one row per reference
// position, one column per (base, strand).
func (e *Encoder) pileup(region sample.Region) (*sample.Matrix, error) {
	m := sample.NewMatrix(region.Size(), NumColumns)
	iter := e.src.NewIterator(region)
	for iter.Scan() {
		rec := iter.Record()
		if int(rec.MapQ) < e.opts.MinMapQ || int(rec.Flags)&e.opts.FlagExclude != 0 {
			continue
		}
		addRecord(m, region, rec)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	if e.opts.Normalise {
		normaliseRows(m)
	}
	return m, nil
}

// addRecord walks the record's CIGAR, incrementing the (position,
// base, strand) count for every aligned base inside the region.
// Deleted reference positions count toward the catch-all column.
func addRecord(m *sample.Matrix, region sample.Region, rec *sam.Record) {
	strand := 0
	if rec.Flags&sam.Reverse != 0 {
		strand = 1
	}
	pos := rec.Start()
	seqOff := 0
	for _, co := range rec.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for k := 0; k < n; k++ {
				p := pos + k
				if p < region.Start || p >= region.End {
					continue
				}
				base := seq8ToEnum[seqNibble(rec, seqOff+k)]
				col := int(base)*2 + strand
				row := p - region.Start
				m.Set(row, col, m.At(row, col)+1)
			}
			pos += n
			seqOff += n
		case sam.CigarDeletion, sam.CigarSkipped:
			for k := 0; k < n; k++ {
				p := pos + k
				if p < region.Start || p >= region.End {
					continue
				}
				col := baseX*2 + strand
				row := p - region.Start
				m.Set(row, col, m.At(row, col)+1)
			}
			pos += n
		case sam.CigarInsertion, sam.CigarSoftClipped:
			seqOff += n
		}
	}
}

// seqNibble extracts the i'th 4-bit base code from the record's
// packed sequence.
func seqNibble(rec *sam.Record, i int) byte {
	d := byte(rec.Seq.Seq[i>>1])
	if i&1 == 0 {
		return d >> 4
	}
	return d & 0xf
}

func normaliseRows(m *sample.Matrix) {
	for i := 0; i < m.Rows; i++ {
		row := m.Row(i)
		var total float32
		for _, v := range row {
			total += v
		}
		if total == 0 {
			continue
		}
		for j := range row {
			row[j] /= total
		}
	}
}

func regionPositions(region sample.Region) []sample.Position {
	positions := make([]sample.Position, region.Size())
	for i := range positions {
		positions[i] = sample.Position{Major: int32(region.Start + i)}
	}
	return positions
}

// chunkSample slices a full-region sample into windows of chunkLen
// columns advancing chunkLen-overlap at a time.  The final window is
// right-aligned to the region end so no column is dropped; it
// therefore overlaps its predecessor by more than overlap when the
// width is not a multiple of the step.
func chunkSample(full *sample.Sample, chunkLen, overlap int) []*sample.Sample {
	width := full.Features.Rows
	if width == chunkLen {
		return []*sample.Sample{full}
	}
	step := chunkLen - overlap
	var chunks []*sample.Sample
	for start := 0; ; start += step {
		end := start + chunkLen
		if end >= width {
			chunks = append(chunks, window(full, width-chunkLen, width))
			return chunks
		}
		chunks = append(chunks, window(full, start, end))
	}
}

func window(full *sample.Sample, start, end int) *sample.Sample {
	sub := sample.NewMatrix(end-start, full.Features.Cols)
	copy(sub.Data, full.Features.Data[start*full.Features.Cols:end*full.Features.Cols])
	return &sample.Sample{
		Ref:       full.Ref,
		Positions: full.Positions[start:end],
		Features:  sub,
	}
}
