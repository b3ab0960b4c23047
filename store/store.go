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

// Package store persists predicted samples as a zstd-compressed
// recordio stream.
package store

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/polish/sample"
)

const (
	// KeyEncoder names the feature encoder in the recordio header.
	KeyEncoder = "polish/encoder"
	// KeyFeatureCols records the feature row width in the header.
	KeyFeatureCols = "polish/feature_cols"
)

// DataStore writes predicted samples to a recordio file.  Append is
// not thread safe; the pipeline driver appends from one goroutine.
type DataStore struct {
	ctx context.Context
	f   file.File
	w   recordio.Writer
	n   int64
}

// Create opens a datastore for writing.  encoder and featureCols are
// recorded in the file header for readers.
func Create(ctx context.Context, path, encoder string, featureCols int) (*DataStore, error) {
	recordiozstd.Init()
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "creating datastore "+path)
	}
	w := recordio.NewWriter(f.Writer(ctx), recordio.WriterOpts{
		Marshal:      marshalSample,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(KeyEncoder, encoder)
	w.AddHeader(KeyFeatureCols, int64(featureCols))
	w.AddHeader(recordio.KeyTrailer, true)
	return &DataStore{ctx: ctx, f: f, w: w}, nil
}

// Append writes one predicted sample.
func (d *DataStore) Append(s *sample.Sample) error {
	d.w.Append(s)
	d.n++
	return d.w.Err()
}

// NumSamples returns the number of samples appended so far.
func (d *DataStore) NumSamples() int64 {
	return d.n
}

// Close flushes and closes the underlying file.
func (d *DataStore) Close() error {
	trailer := make([]byte, 8)
	binary.LittleEndian.PutUint64(trailer, uint64(d.n))
	d.w.SetTrailer(trailer)
	if err := d.w.Finish(); err != nil {
		return err
	}
	return d.f.Close(d.ctx)
}

// marshalSample encodes, in order: ref name, positions, the feature
// matrix and the probability matrix, all little endian.
func marshalSample(scratch []byte, v interface{}) ([]byte, error) {
	s := v.(*sample.Sample)
	n := 4 + len(s.Ref) + 4 + 8*len(s.Positions) + matrixSize(s.Features) + matrixSize(s.Probs)
	t := scratch
	if len(t) < n {
		t = make([]byte, n)
	}
	t = t[:n]
	off := 0
	binary.LittleEndian.PutUint32(t[off:], uint32(len(s.Ref)))
	off += 4
	copy(t[off:], s.Ref)
	off += len(s.Ref)
	binary.LittleEndian.PutUint32(t[off:], uint32(len(s.Positions)))
	off += 4
	for _, p := range s.Positions {
		binary.LittleEndian.PutUint32(t[off:], uint32(p.Major))
		binary.LittleEndian.PutUint32(t[off+4:], uint32(p.Minor))
		off += 8
	}
	off = putMatrix(t, off, s.Features)
	putMatrix(t, off, s.Probs)
	return t, nil
}

func matrixSize(m *sample.Matrix) int {
	if m == nil {
		return 8
	}
	return 8 + 4*len(m.Data)
}

func putMatrix(t []byte, off int, m *sample.Matrix) int {
	if m == nil {
		binary.LittleEndian.PutUint32(t[off:], 0)
		binary.LittleEndian.PutUint32(t[off+4:], 0)
		return off + 8
	}
	binary.LittleEndian.PutUint32(t[off:], uint32(m.Rows))
	binary.LittleEndian.PutUint32(t[off+4:], uint32(m.Cols))
	off += 8
	for _, v := range m.Data {
		binary.LittleEndian.PutUint32(t[off:], math.Float32bits(v))
		off += 4
	}
	return off
}

// unmarshalSample is the inverse of marshalSample.
func unmarshalSample(in []byte) (interface{}, error) {
	off := 0
	refLen := int(binary.LittleEndian.Uint32(in[off:]))
	off += 4
	s := &sample.Sample{Ref: string(in[off : off+refLen])}
	off += refLen
	nPos := int(binary.LittleEndian.Uint32(in[off:]))
	off += 4
	s.Positions = make([]sample.Position, nPos)
	for i := range s.Positions {
		s.Positions[i].Major = int32(binary.LittleEndian.Uint32(in[off:]))
		s.Positions[i].Minor = int32(binary.LittleEndian.Uint32(in[off+4:]))
		off += 8
	}
	s.Features, off = getMatrix(in, off)
	s.Probs, _ = getMatrix(in, off)
	return s, nil
}

func getMatrix(in []byte, off int) (*sample.Matrix, int) {
	rows := int(binary.LittleEndian.Uint32(in[off:]))
	cols := int(binary.LittleEndian.Uint32(in[off+4:]))
	off += 8
	if rows == 0 && cols == 0 {
		return nil, off
	}
	m := sample.NewMatrix(rows, cols)
	for i := range m.Data {
		m.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[off:]))
		off += 4
	}
	return m, off
}

// Scanner reads a datastore written by DataStore.
type Scanner struct {
	f       file.File
	ctx     context.Context
	scanner recordio.Scanner
}

// Open opens path for scanning.
func Open(ctx context.Context, path string) (*Scanner, error) {
	recordiozstd.Init()
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "opening datastore "+path)
	}
	sc := recordio.NewScanner(f.Reader(ctx), recordio.ScannerOpts{
		Unmarshal: unmarshalSample,
	})
	return &Scanner{f: f, ctx: ctx, scanner: sc}, nil
}

// Header returns the recordio header key/value pairs.
func (s *Scanner) Header() recordio.ParsedHeader {
	return s.scanner.Header()
}

// Scan advances to the next sample.
func (s *Scanner) Scan() bool {
	return s.scanner.Scan()
}

// Sample returns the current sample.
func (s *Scanner) Sample() *sample.Sample {
	return s.scanner.Get().(*sample.Sample)
}

// Err returns the first error encountered while scanning.
func (s *Scanner) Err() error {
	return s.scanner.Err()
}

// Close closes the underlying file.
func (s *Scanner) Close() error {
	err := s.scanner.Err()
	if e := s.f.Close(s.ctx); e != nil && err == nil {
		err = e
	}
	return err
}
