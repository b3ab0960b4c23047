package bamio

import (
	"io"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	htsindex "github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/polish/sample"
)

// Provider reads records from a coordinate-sorted, indexed BAM file.
// Both the BAM and index paths may be S3 URLs.  Provider is safe for
// concurrent use: each iterator owns a BAM reader, and idle readers
// are pooled for reuse so N workers end up sharing N open handles.
type Provider struct {
	// Path of the *.bam file. Must be nonempty.
	Path string
	// Index is the pathname of the *.bam.bai file. If "", Path + ".bai".
	Index string

	err errors.Once

	mu        sync.Mutex
	nActive   int
	freeIters []*Iterator
	header    *sam.Header
}

func (p *Provider) indexPath() string {
	if p.Index == "" {
		return p.Path + ".bai"
	}
	return p.Index
}

// Header returns the BAM header.  The caller must not modify the
// returned object.
func (p *Provider) Header() (*sam.Header, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.header != nil {
		return p.header, nil
	}
	ctx := vcontext.Background()
	in, err := file.Open(ctx, p.Path)
	if err != nil {
		p.err.Set(err)
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	reader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		p.err.Set(err)
		return nil, err
	}
	defer reader.Close() // nolint: errcheck
	p.header = reader.Header()
	return p.header, nil
}

// Close releases the pooled readers.  It must be called exactly once,
// after every iterator has been closed, and returns any error
// encountered by the provider or its iterators.
func (p *Provider) Close() error {
	if p.nActive > 0 {
		log.Panicf("%d iterators still active for %+v", p.nActive, p)
	}
	for _, iter := range p.freeIters {
		iter.internalClose()
	}
	p.freeIters = nil
	return p.err.Err()
}

// NewIterator returns an iterator over the records overlapping
// region.  Errors encountered while opening the file surface through
// the iterator's Err.
func (p *Provider) NewIterator(region sample.Region) *Iterator {
	iter := p.allocate()
	if iter.err != nil {
		return iter
	}
	iter.reset(region)
	return iter
}

// allocate returns an unused iterator, reusing a pooled reader when
// one is free and opening the BAM and its index otherwise.  On error
// the returned iterator carries a non-nil err field.
func (p *Provider) allocate() *Iterator {
	p.mu.Lock()
	p.nActive++
	if n := len(p.freeIters); n > 0 {
		iter := p.freeIters[n-1]
		p.freeIters = p.freeIters[:n-1]
		p.mu.Unlock()
		iter.active = true
		iter.err = nil
		iter.rec = nil
		iter.done = false
		return iter
	}
	p.mu.Unlock()

	iter := &Iterator{provider: p, active: true}
	ctx := vcontext.Background()
	if iter.in, iter.err = file.Open(ctx, p.Path); iter.err != nil {
		return iter
	}
	indexIn, err := file.Open(ctx, p.indexPath())
	if err != nil {
		iter.err = err
		return iter
	}
	defer indexIn.Close(ctx) // nolint: errcheck
	if iter.index, iter.err = bam.ReadIndex(indexIn.Reader(ctx)); iter.err != nil {
		return iter
	}
	iter.reader, iter.err = bam.NewReader(iter.in.Reader(ctx), 1)
	return iter
}

func (p *Provider) free(i *Iterator) {
	if !i.active {
		log.Panicf("freeing inactive iterator %+v", i)
	}
	i.active = false
	if i.Err() != nil {
		// The iter may be invalid. Don't reuse it.
		i.internalClose() // Will set p.err
		i = nil
	}
	p.mu.Lock()
	if i != nil {
		p.freeIters = append(p.freeIters, i)
	}
	p.nActive--
	if p.nActive < 0 {
		log.Panicf("negative active count for %+v", p)
	}
	p.mu.Unlock()
}

// Iterator yields the records of one region in coordinate order.  Not
// thread safe; use one iterator per goroutine.
type Iterator struct {
	provider *Provider
	in       file.File
	reader   *bam.Reader
	index    *bam.Index

	region sample.Region
	refID  int

	active bool
	err    error
	rec    *sam.Record
	done   bool
}

// reset points the iterator at the first chunk overlapping region.
func (i *Iterator) reset(region sample.Region) {
	i.region = region
	i.rec = nil
	i.done = false
	var ref *sam.Reference
	for _, r := range i.reader.Header().Refs() {
		if r.Name() == region.Name {
			ref = r
			break
		}
	}
	if ref == nil {
		i.err = errors.E("bamio: unknown reference " + region.Name)
		return
	}
	i.refID = ref.ID()
	chunks, err := i.index.Chunks(ref, region.Start, region.End)
	if err == htsindex.ErrInvalid || len(chunks) == 0 {
		// No reads indexed for this interval: empty iterator.
		i.done = true
		return
	}
	if err != nil {
		i.err = err
		return
	}
	i.err = i.reader.Seek(chunks[0].Begin)
}

// Scan advances to the next record overlapping the region, returning
// false at the end of the region or on error.
func (i *Iterator) Scan() bool {
	if !i.active {
		log.Panicf("reusing closed iterator %+v", i)
	}
	if i.err != nil || i.done {
		return false
	}
	for {
		rec, err := i.reader.Read()
		if err == io.EOF {
			i.done = true
			return false
		}
		if err != nil {
			i.err = err
			return false
		}
		// Records are coordinate sorted; anything past the region end
		// (or on a later reference) ends the scan.
		if rec.Ref == nil || rec.Ref.ID() != i.refID || rec.Start() >= i.region.End {
			i.done = true
			return false
		}
		if rec.End() <= i.region.Start {
			continue
		}
		i.rec = rec
		return true
	}
}

// Record returns the current record.
func (i *Iterator) Record() *sam.Record {
	return i.rec
}

// Err returns the error that stopped the scan, if any.
func (i *Iterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// Close returns the iterator's reader to the provider pool.  It must
// be called exactly once.
func (i *Iterator) Close() error {
	err := i.Err()
	i.provider.free(i)
	return err
}

func (i *Iterator) internalClose() {
	if i.reader != nil {
		if err := i.reader.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.reader = nil
	}
	if i.in != nil {
		if err := i.in.Close(vcontext.Background()); err != nil && i.err == nil {
			i.err = err
		}
		i.in = nil
	}
	i.provider.err.Set(i.Err())
}
