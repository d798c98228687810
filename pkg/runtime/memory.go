// Package runtime provides memory budgeting for the conversion engine.
package runtime

import (
	"runtime"
	"runtime/debug"
	"sync/atomic"

	gferrors "github.com/geoflow/geoflow/pkg/errors"
)

// Estimate holds the inputs and result of a batch-size derivation.
type Estimate struct {
	FieldCount    int
	BudgetBytes   int64
	PerFieldBytes int64
	Floor         int
	Ceiling       int
	BatchSize     int
}

// EstimateBatchSize derives a safe batch size from the memory budget and the
// declared per-record field width. Pure function of its inputs: assumes a
// fixed worst-case byte cost per field per record, divides the budget by the
// record width, and clamps to [floor, ceiling]. Never returns zero - the
// floor guarantees forward progress even under a tiny budget.
func EstimateBatchSize(fieldCount int, budgetBytes, perFieldBytes int64, floor, ceiling int) int {
	if fieldCount < 1 {
		fieldCount = 1
	}
	if perFieldBytes <= 0 {
		perFieldBytes = 256
	}
	if floor < 1 {
		floor = 1
	}
	if ceiling < floor {
		ceiling = floor
	}

	rowBytes := int64(fieldCount) * perFieldBytes
	calculated := int(budgetBytes / rowBytes)

	if calculated < floor {
		return floor
	}
	if calculated > ceiling {
		return ceiling
	}
	return calculated
}

// DefaultBudget returns the memory budget used when none is configured:
// half the Go runtime's current system memory, capped at 2GB.
func DefaultBudget() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	budget := int64(m.Sys) / 2
	const cap2GB = 2 * 1024 * 1024 * 1024
	if budget > cap2GB {
		budget = cap2GB
	}
	if budget < 64*1024*1024 {
		budget = 64 * 1024 * 1024
	}
	return budget
}

// MemoryManager tracks working-set allocation against a hard limit. Each
// layer worker acquires its batch buffer up front and releases it when the
// batch is committed, so concurrent layers share one budget.
type MemoryManager struct {
	limit     int64
	softLimit int64
	current   atomic.Int64
	peak      atomic.Int64
	gcCount   atomic.Int64
}

// NewMemoryManager creates a memory manager with the given hard limit.
// A zero limit disables tracking.
func NewMemoryManager(limit int64) *MemoryManager {
	mm := &MemoryManager{limit: limit}
	if limit > 0 {
		mm.softLimit = limit * 80 / 100
		// Tiny limits show up in tests; handing them to the Go runtime
		// would put the GC into a spin.
		if limit >= 32*1024*1024 {
			debug.SetMemoryLimit(limit)
		}
	}
	return mm
}

// Acquire requests memory allocation, returning an error if the allocation
// would exceed the limit.
func (m *MemoryManager) Acquire(size int64) error {
	if m.limit == 0 {
		return nil
	}

	current := m.current.Load()
	newUsage := current + size

	if newUsage > m.limit {
		return gferrors.New(gferrors.CodeMemoryLimit, "memory limit exceeded").
			WithContext("requested", size).
			WithContext("current", current).
			WithContext("limit", m.limit)
	}

	if newUsage > m.softLimit {
		m.gcCount.Add(1)
		runtime.GC()
	}

	m.current.Add(size)

	for {
		peak := m.peak.Load()
		if newUsage <= peak || m.peak.CompareAndSwap(peak, newUsage) {
			break
		}
	}

	return nil
}

// Release returns memory to the budget.
func (m *MemoryManager) Release(size int64) {
	m.current.Add(-size)
}

// AvailableBytes returns how much memory can still be allocated.
func (m *MemoryManager) AvailableBytes() int64 {
	if m.limit == 0 {
		return 1 << 62
	}
	return m.limit - m.current.Load()
}

// Usage returns current memory statistics.
func (m *MemoryManager) Usage() MemoryUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return MemoryUsage{
		TrackedBytes: m.current.Load(),
		PeakBytes:    m.peak.Load(),
		LimitBytes:   m.limit,
		HeapAlloc:    int64(ms.HeapAlloc),
		GCCount:      m.gcCount.Load(),
	}
}

// MemoryUsage holds memory statistics.
type MemoryUsage struct {
	TrackedBytes int64 `json:"tracked_bytes"`
	PeakBytes    int64 `json:"peak_bytes"`
	LimitBytes   int64 `json:"limit_bytes"`
	HeapAlloc    int64 `json:"heap_alloc"`
	GCCount      int64 `json:"gc_count"`
}
