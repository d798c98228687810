// Package pool provides reusable buffer and batch management using sync.Pool.
package pool

import (
	"sync"

	"github.com/geoflow/geoflow/internal/model"
)

const (
	// DefaultBufferSize is the default capacity for pooled byte buffers.
	DefaultBufferSize = 64 * 1024 // 64KB

	// DefaultBatchRecords is the default record capacity of a pooled batch.
	DefaultBatchRecords = 1024

	// maxRetainedRecords bounds the batch capacity the pool keeps. A batch
	// that grew past this (a transient huge chunk) is dropped rather than
	// pinned in memory for the rest of the run.
	maxRetainedRecords = 64 * 1024
)

// ByteBuffer wraps a byte slice for pooled reuse.
type ByteBuffer struct {
	Data []byte
}

// Reset clears the buffer for reuse.
func (b *ByteBuffer) Reset() {
	b.Data = b.Data[:0]
}

// Grow ensures the buffer has at least n bytes of capacity.
func (b *ByteBuffer) Grow(n int) {
	if cap(b.Data) < n {
		b.Data = make([]byte, 0, n)
	}
}

// BufferPool manages reusable byte buffers. Scanner line buffers come from
// here so re-opening a layer cursor after a retry does not reallocate.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool creates a buffer pool whose buffers start at bufferSize.
func NewBufferPool(bufferSize int) *BufferPool {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	bp := &BufferPool{}
	bp.pool.New = func() any {
		return &ByteBuffer{
			Data: make([]byte, 0, bufferSize),
		}
	}
	return bp
}

// Get retrieves a buffer from the pool.
func (p *BufferPool) Get() *ByteBuffer {
	return p.pool.Get().(*ByteBuffer)
}

// Put returns a buffer to the pool.
func (p *BufferPool) Put(buf *ByteBuffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

// BatchPool manages reusable record batches. Putting a batch resets its
// records but keeps their field maps and geometry buffers, so a recycled
// batch refills without reallocating per record.
type BatchPool struct {
	pool sync.Pool
}

// NewBatchPool creates a batch pool whose batches start with capacity for
// batchRecords records.
func NewBatchPool(batchRecords int) *BatchPool {
	if batchRecords <= 0 {
		batchRecords = DefaultBatchRecords
	}
	bp := &BatchPool{}
	bp.pool.New = func() any {
		return &model.Batch{
			Records: make([]model.RawRecord, 0, batchRecords),
		}
	}
	return bp
}

// Get retrieves an empty batch from the pool.
func (p *BatchPool) Get() *model.Batch {
	return p.pool.Get().(*model.Batch)
}

// Put returns a batch to the pool. The caller must not touch the batch or
// any record in it afterwards.
func (p *BatchPool) Put(b *model.Batch) {
	if b == nil || cap(b.Records) > maxRetainedRecords {
		return
	}
	b.Reset()
	p.pool.Put(b)
}
