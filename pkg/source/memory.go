package source

import (
	"context"
	"sync"

	"github.com/geoflow/geoflow/internal/model"
)

// MemoryReader is an in-memory Reader used by tests and benchmarks. Fault
// hooks allow injecting failures at precise batch boundaries.
type MemoryReader struct {
	mu      sync.Mutex
	descs   []model.LayerDescriptor
	records map[string][]model.RawRecord

	// OnReadBatch, when set, runs before every read and may return an error
	// to inject a failure. batchIndex is offset / maxCount for sequential
	// callers.
	OnReadBatch func(layer string, offset int64) error

	Reads int
}

// NewMemoryReader creates an empty in-memory reader.
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{records: make(map[string][]model.RawRecord)}
}

// AddLayer registers a layer with its records.
func (m *MemoryReader) AddLayer(desc model.LayerDescriptor, records []model.RawRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc.RecordCount = int64(len(records))
	m.descs = append(m.descs, desc)
	m.records[desc.Name] = records
}

// Layers implements Reader.
func (m *MemoryReader) Layers() []model.LayerDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.LayerDescriptor, len(m.descs))
	copy(out, m.descs)
	return out
}

// ReadBatch implements Reader.
func (m *MemoryReader) ReadBatch(ctx context.Context, layer string, offset int64, maxCount int) (*model.Batch, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, offset, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reads++

	if m.OnReadBatch != nil {
		if err := m.OnReadBatch(layer, offset); err != nil {
			return nil, offset, err
		}
	}

	all := m.records[layer]
	if offset >= int64(len(all)) {
		return nil, offset, ErrEndOfLayer
	}

	end := offset + int64(maxCount)
	if end > int64(len(all)) {
		end = int64(len(all))
	}

	batch := &model.Batch{Offset: offset}
	batch.Records = append(batch.Records, all[offset:end]...)
	return batch, end, nil
}

// Close implements Reader.
func (m *MemoryReader) Close() error { return nil }
