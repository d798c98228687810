package convert

import "time"

// Status is the terminal state of one layer conversion.
type Status int

const (
	// StatusSuccess: every batch materialized and the final artifact exists.
	StatusSuccess Status = iota
	// StatusPartial: some batches committed before a terminal failure. The
	// intermediates are left in the temp directory; no final artifact.
	StatusPartial
	// StatusFailed: no batch committed. No artifact of any kind remains.
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPartial:
		return "partial"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConversionResult is the outcome of one layer conversion. Record-count
// fidelity holds as RecordsWritten + DegradedRecords == RecordsRead: degraded
// records are physically present in the output as fully-null rows, so the
// final artifact's row count always equals RecordsRead on success.
type ConversionResult struct {
	Layer  string
	Status Status

	RecordsRead       int64
	RecordsWritten    int64
	DegradedRecords   int64
	InvalidGeometries int64
	NullGeometries    int64
	LossyCoercions    int64

	Batches      int
	Retries      int
	BatchSize    int // final size, after any memory-pressure halving
	SchemaFields int

	OutputPath  string
	OutputBytes int64
	Duration    time.Duration

	Err error
}

// RunResult aggregates a whole conversion run across layers.
type RunResult struct {
	RunID     string
	Source    string
	OutputDir string

	Layers          []ConversionResult
	LayersConverted int
	LayersFailed    int

	TotalRecords     int64
	TotalOutputBytes int64
	Duration         time.Duration
	Rate             float64 // records per second
}

func summarize(runID, src, outDir string, layers []ConversionResult, elapsed time.Duration) *RunResult {
	run := &RunResult{
		RunID:     runID,
		Source:    src,
		OutputDir: outDir,
		Layers:    layers,
		Duration:  elapsed,
	}
	for _, res := range layers {
		if res.Status == StatusSuccess {
			run.LayersConverted++
		} else {
			run.LayersFailed++
		}
		run.TotalRecords += res.RecordsRead
		run.TotalOutputBytes += res.OutputBytes
	}
	if secs := elapsed.Seconds(); secs > 0 {
		run.Rate = float64(run.TotalRecords) / secs
	}
	return run
}
