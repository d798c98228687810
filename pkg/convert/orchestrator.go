// Package convert drives layer conversions end to end: batch size estimation,
// schema scan, guarded materialization, and final combination.
package convert

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/geoflow/geoflow/internal/model"
	"github.com/geoflow/geoflow/pkg/combine"
	"github.com/geoflow/geoflow/pkg/config"
	gferrors "github.com/geoflow/geoflow/pkg/errors"
	"github.com/geoflow/geoflow/pkg/geometry"
	"github.com/geoflow/geoflow/pkg/materialize"
	"github.com/geoflow/geoflow/pkg/recovery"
	gfruntime "github.com/geoflow/geoflow/pkg/runtime"
	"github.com/geoflow/geoflow/pkg/schema"
	"github.com/geoflow/geoflow/pkg/source"
	"github.com/geoflow/geoflow/pkg/writer"
)

// Orchestrator converts the layers of one source dataset. Layers may run
// concurrently; within a layer batches are strictly sequential because schema
// freezing and artifact sequencing require a total order.
type Orchestrator struct {
	reader   source.Reader
	combiner combine.Combiner
	opts     config.Options

	newWriter func(dir string) (writer.ArtifactWriter, error)
	sleep     func(time.Duration)
	mem       *gfruntime.MemoryManager

	runID string

	// Progress hooks, all optional.
	OnLayerStart func(layer model.LayerDescriptor, batchSize int)
	OnBatch      func(layer string, seq, records int)
	OnTransition func(layer string, from, to recovery.State, cause error)
	Logf         func(format string, args ...interface{})
}

// NewOrchestrator creates an orchestrator over an open source.
func NewOrchestrator(reader source.Reader, combiner combine.Combiner, opts config.Options) *Orchestrator {
	o := &Orchestrator{
		reader:   reader,
		combiner: combiner,
		opts:     opts,
		runID:    uuid.NewString(),
		mem:      gfruntime.NewMemoryManager(opts.MaxMemoryBytes),
	}
	o.newWriter = func(dir string) (writer.ArtifactWriter, error) {
		return writer.NewParquetArtifactWriter(writer.Config{
			Dir:         dir,
			Compression: writer.ParseCompression(opts.Compression),
		})
	}
	return o
}

// WithWriterFactory replaces the artifact writer constructor.
func (o *Orchestrator) WithWriterFactory(fn func(dir string) (writer.ArtifactWriter, error)) *Orchestrator {
	o.newWriter = fn
	return o
}

// WithSleeper replaces the backoff sleep used by recovery controllers.
func (o *Orchestrator) WithSleeper(sleep func(time.Duration)) *Orchestrator {
	o.sleep = sleep
	return o
}

// RunID returns the unique identifier of this run.
func (o *Orchestrator) RunID() string { return o.runID }

// Run converts every layer of the source into outDir, one final artifact per
// layer. A failed layer is reported in its ConversionResult and never aborts
// the remaining layers; only invalid options fail the run as a whole, before
// any I/O.
func (o *Orchestrator) Run(ctx context.Context, src, outDir string) (*RunResult, error) {
	start := time.Now()

	if err := o.opts.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, gferrors.Wrap(err, gferrors.CodeOutputUnwritable, "creating output directory")
	}

	layers := o.reader.Layers()
	results := make([]ConversionResult, len(layers))

	workers := o.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, layer := range layers {
		i, layer := i, layer
		g.Go(func() error {
			results[i] = o.ConvertLayer(ctx, layer, outDir)
			return nil
		})
	}
	g.Wait()

	return summarize(o.runID, src, outDir, results, time.Since(start)), nil
}

// ConvertLayer drives one layer: schema scan, materialization under the
// recovery controller, then combination.
func (o *Orchestrator) ConvertLayer(ctx context.Context, layer model.LayerDescriptor, outDir string) ConversionResult {
	start := time.Now()
	res := o.convertLayer(ctx, layer, outDir)
	res.Duration = time.Since(start)
	return res
}

func (o *Orchestrator) convertLayer(ctx context.Context, layer model.LayerDescriptor, outDir string) ConversionResult {
	res := ConversionResult{Layer: layer.Name, Status: StatusFailed}

	batchSize := o.initialBatchSize(layer)
	if o.opts.WarnLargeChunk() {
		o.logf("layer %s: chunk size %d exceeds %d, expect memory pressure", layer.Name, batchSize, config.LargeChunkWarning)
	}

	floor := config.MinChunkSize
	if batchSize < floor {
		floor = 1
	}
	ctrl := recovery.NewController(batchSize, o.opts.MaxRetries, floor)
	if o.sleep != nil {
		ctrl.WithSleeper(o.sleep)
	}
	ctrl.OnTransition = func(from, to recovery.State, cause error) {
		if to == recovery.StateRetrying {
			res.Retries++
			o.logf("layer %s: retrying after %v (batch size now %d)", layer.Name, cause, ctrl.BatchSize())
		}
		if o.OnTransition != nil {
			o.OnTransition(layer.Name, from, to, cause)
		}
	}

	if o.OnLayerStart != nil {
		o.OnLayerStart(layer, batchSize)
	}

	artifactDir := filepath.Join(o.opts.TempDir, o.runID, layer.Name)
	w, err := o.newWriter(artifactDir)
	if err != nil {
		res.Err = err
		return res
	}

	// Pass 1: schema scan. Only per-field type observations are retained,
	// so memory stays bounded regardless of layer size.
	rec := schema.NewReconciler(layer, o.opts.ForceTextTypes)
	if err := o.scanSchema(ctx, ctrl, &rec, layer); err != nil {
		res.Err = err
		res.BatchSize = ctrl.BatchSize()
		return res
	}
	sch := rec.Freeze()
	res.SchemaFields = sch.Len()

	// Pass 2: materialize from offset 0 against the frozen schema.
	norm := geometry.NewNormalizer(o.opts.ValidateGeometry)
	mat := materialize.New(sch, norm, o.opts.SkipInvalidGeometry)
	mat.OnInvalidGeometry = func(row int64, gerr error) {
		o.logf("layer %s: invalid geometry at row %d: %v", layer.Name, row, gerr)
	}

	var (
		offset    int64
		seq       int
		artifacts []writer.Artifact
		total     materialize.Stats
		poisoned  map[int64]bool
	)

	for {
		done := false
		_, err := ctrl.Run(ctx, recovery.Stage{
			Try: func(ctx context.Context, batchSize int) error {
				batch, next, rerr := o.reader.ReadBatch(ctx, layer.Name, offset, batchSize)
				if stderrors.Is(rerr, source.ErrEndOfLayer) {
					done = true
					return nil
				}
				if rerr != nil {
					return rerr
				}
				// Reserve the batch working set against the shared budget.
				// Exceeding it is memory pressure: the controller halves
				// the batch size and tries again.
				need := int64(batch.Len()) * int64(sch.Len()+1) * config.PerFieldBytes
				if aerr := o.mem.Acquire(need); aerr != nil {
					return aerr
				}
				defer o.mem.Release(need)

				for i := range batch.Records {
					if poisoned[batch.Offset+int64(i)] {
						batch.Records[i].Tombstone = true
					}
				}
				art, stats, werr := mat.MaterializeAndWrite(ctx, batch, seq, w)
				if werr != nil {
					return werr
				}
				artifacts = append(artifacts, art)
				total.Add(stats)
				seq++
				offset = next
				if o.OnBatch != nil {
					o.OnBatch(layer.Name, art.Seq, int(art.Rows))
				}
				return nil
			},
			Degrade: func(ctx context.Context, cause error) error {
				row, ok := rowFromError(cause)
				if !ok {
					return cause
				}
				// A row that fails again after being degraded means the
				// failure is not record-local; give up.
				if poisoned[row] {
					return cause
				}
				if poisoned == nil {
					poisoned = make(map[int64]bool)
				}
				poisoned[row] = true
				o.logf("layer %s: degrading corrupt record at row %d", layer.Name, row)
				return nil
			},
		})
		if err != nil {
			res.Err = err
			res.BatchSize = ctrl.BatchSize()
			fillCounts(&res, total, seq)
			if seq > 0 {
				res.Status = StatusPartial
			}
			return res
		}
		if done {
			break
		}
	}

	// An empty layer still yields a final artifact carrying the schema.
	if seq == 0 {
		art, werr := w.WriteArtifact(ctx, sch, nil, 0)
		if werr != nil {
			res.Err = werr
			return res
		}
		artifacts = append(artifacts, art)
	}

	res.BatchSize = ctrl.BatchSize()
	fillCounts(&res, total, seq)

	finalPath := filepath.Join(outDir, layer.Name+".parquet")
	cres, err := o.combiner.Combine(ctx, artifacts, finalPath)
	if err != nil {
		res.Err = err
		res.Status = StatusPartial
		return res
	}
	os.RemoveAll(artifactDir)

	res.OutputPath = cres.Path
	res.OutputBytes = cres.Bytes
	res.Status = StatusSuccess
	return res
}

// scanSchema reads the layer (or a leading prefix of it) purely to observe
// field types. A schema conflict restarts the scan with a fresh reconciler.
func (o *Orchestrator) scanSchema(ctx context.Context, ctrl *recovery.Controller, rec **schema.Reconciler, layer model.LayerDescriptor) error {
	var offset int64
	batches := 0

	for {
		if o.opts.SchemaSampleBatches > 0 && batches >= o.opts.SchemaSampleBatches {
			return nil
		}
		done := false
		_, err := ctrl.Run(ctx, recovery.Stage{
			Try: func(ctx context.Context, batchSize int) error {
				batch, next, rerr := o.reader.ReadBatch(ctx, layer.Name, offset, batchSize)
				if stderrors.Is(rerr, source.ErrEndOfLayer) {
					done = true
					return nil
				}
				if rerr != nil {
					return rerr
				}
				if oerr := (*rec).Observe(batch); oerr != nil {
					return oerr
				}
				offset = next
				return nil
			},
			Reconcile: func(ctx context.Context) error {
				*rec = schema.NewReconciler(layer, o.opts.ForceTextTypes)
				offset = 0
				batches = 0
				return nil
			},
		})
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		batches++
	}
}

func (o *Orchestrator) initialBatchSize(layer model.LayerDescriptor) int {
	if !o.opts.AutoChunkSize {
		if o.opts.ChunkSize > 0 {
			return o.opts.ChunkSize
		}
		return config.DefaultChunkSize
	}

	budget := o.opts.MaxMemoryBytes
	if budget <= 0 {
		budget = gfruntime.DefaultBudget()
	}
	fields := len(layer.Fields)
	if fields == 0 {
		fields = 16
	}
	// +1 for the geometry column.
	return gfruntime.EstimateBatchSize(fields+1, budget, config.PerFieldBytes, config.MinChunkSize, config.MaxChunkSize)
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.Logf != nil {
		o.Logf(format, args...)
	}
}

func fillCounts(res *ConversionResult, total materialize.Stats, batches int) {
	res.Batches = batches
	res.RecordsRead = int64(total.Records)
	res.DegradedRecords = int64(total.Tombstones)
	res.RecordsWritten = int64(total.Records - total.Tombstones)
	res.InvalidGeometries = int64(total.InvalidGeometries)
	res.NullGeometries = int64(total.NullGeometries)
	res.LossyCoercions = int64(total.LossyCoercions)
}

// rowFromError extracts the absolute source row a data-class error points at.
func rowFromError(err error) (int64, bool) {
	var ge *gferrors.Error
	if !stderrors.As(err, &ge) || ge.Context == nil {
		return 0, false
	}
	switch v := ge.Context["row"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}
