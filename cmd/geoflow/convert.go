package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/geoflow/geoflow/internal/model"
	"github.com/geoflow/geoflow/pkg/combine"
	"github.com/geoflow/geoflow/pkg/config"
	"github.com/geoflow/geoflow/pkg/convert"
	"github.com/geoflow/geoflow/pkg/recovery"
	"github.com/geoflow/geoflow/pkg/source"
	"github.com/geoflow/geoflow/pkg/telemetry"
	"github.com/geoflow/geoflow/pkg/tui"
)

func runConvert(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, finishing current batches...")
		cancel()
	}()

	shutdown, err := initTelemetry(ctx)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	tui.PrintHeader(version)

	run, err := runConversion(ctx, args[0], outputDir, opts)
	if err != nil {
		return err
	}

	for _, res := range run.Layers {
		tui.PrintLayerResult(res)
	}
	tui.PrintRunReport(run)

	if run.LayersFailed > 0 {
		return fmt.Errorf("%d of %d layers did not convert cleanly", run.LayersFailed, len(run.Layers))
	}
	return nil
}

// runConversion drives one full conversion of src into outDir. Shared by the
// convert and watch commands.
func runConversion(ctx context.Context, src, outDir string, opts config.Options) (*convert.RunResult, error) {
	reader, err := source.Open(src)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	combiner, err := combine.NewDuckDBCombiner(opts.Compression)
	if err != nil {
		return nil, err
	}
	defer combiner.Close()

	logFile, err := tui.OpenConversionLog(opts.LogFile)
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	orc := convert.NewOrchestrator(reader, combiner, opts)
	logFile.Printf("run %s: %s -> %s", orc.RunID(), src, outDir)

	attachProgress(orc, opts, logFile)

	run, err := orc.Run(ctx, src, outDir)
	if err != nil {
		return nil, err
	}

	recordRunMetrics(run)
	logFile.Printf("run %s: %d layers converted, %d failed, %d records",
		orc.RunID(), run.LayersConverted, run.LayersFailed, run.TotalRecords)
	return run, nil
}

// attachProgress wires the orchestrator callbacks to the terminal and the
// conversion log. Progress bars are only drawn for single-worker runs;
// concurrent layers would interleave redraws.
func attachProgress(orc *convert.Orchestrator, opts config.Options, logFile *tui.ConversionLog) {
	drawBars := opts.Workers == 1

	var mu sync.Mutex
	bars := make(map[string]*progressbar.ProgressBar)

	orc.OnLayerStart = func(layer model.LayerDescriptor, batchSize int) {
		logFile.Printf("layer %s: %d records, batch size %d", layer.Name, layer.RecordCount, batchSize)
		if drawBars {
			mu.Lock()
			bars[layer.Name] = tui.LayerBar(layer.Name, layer.RecordCount)
			mu.Unlock()
		}
	}
	orc.OnBatch = func(layer string, seq, records int) {
		telemetry.Global().AddRecordsRead(int64(records))
		if drawBars {
			mu.Lock()
			if bar := bars[layer]; bar != nil {
				bar.Add(records)
			}
			mu.Unlock()
		}
	}
	orc.OnTransition = func(layer string, from, to recovery.State, cause error) {
		if to == recovery.StateAttempting {
			return // recovered, back to normal operation
		}
		logFile.Printf("layer %s: %s -> %s (%v)", layer, from, to, cause)
		if verbose && cause != nil {
			fmt.Fprintf(os.Stderr, "  %s: %s: %v\n", layer, to, cause)
		}
	}
	orc.Logf = logFile.Printf
}

func recordRunMetrics(run *convert.RunResult) {
	m := telemetry.Global()
	for _, res := range run.Layers {
		m.RecordLayer(res.Status == convert.StatusSuccess)
		m.AddRecordsWritten(res.RecordsWritten)
		m.AddRecordsDegraded(res.DegradedRecords)
		m.AddBytesWritten(res.OutputBytes)
		m.AddRetries(int64(res.Retries))
	}
}

// initTelemetry starts the tracing exporter when enabled in config. The
// returned shutdown func is always safe to call.
func initTelemetry(ctx context.Context) (func(context.Context) error, error) {
	tcfg := config.Global().Get().Telemetry

	cfg := telemetry.DefaultConfig()
	cfg.Enabled = tcfg.Enabled
	cfg.ServiceVersion = version
	if tcfg.Endpoint != "" {
		cfg.Endpoint = tcfg.Endpoint
	}

	shutdown, err := telemetry.Init(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	return shutdown, nil
}
