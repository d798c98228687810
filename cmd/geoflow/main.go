// GeoFlow - Streaming geospatial container to GeoParquet converter.
// Converts GeoJSON sequence datasets to columnar GeoParquet layer by layer.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/geoflow/geoflow/pkg/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	outputDir       string
	chunkSizeFlag   string
	compressionFlag string
	workersFlag     int
	maxRetriesFlag  int
	maxMemoryFlag   int64
	sampleBatches   int
	tempDirFlag     string
	logFileFlag     string
	skipInvalidGeom bool
	validateGeom    bool
	forceTextTypes  bool
	verbose         bool

	// Watch flags
	debounceFlag string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "geoflow",
	Short: "GeoFlow - Convert geospatial datasets to GeoParquet",
	Long: `GeoFlow is a streaming converter for geospatial container datasets.

Each layer of the source becomes one GeoParquet file, written in bounded
memory no matter how large the layer is.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

var convertCmd = &cobra.Command{
	Use:   "convert <source>",
	Short: "Convert a source dataset to GeoParquet",
	Long: `Convert a GeoJSON sequence dataset to GeoParquet, one output file per
layer. The source is a single .geojsonl/.ndjson file or a directory where
each such file is one layer.

Examples:
  geoflow convert parcels.geojsonl -o out/
  geoflow convert ./city-gdb/ -o out/ --compression zstd
  geoflow convert huge.geojsonl -o out/ --chunk-size auto --max-memory 536870912`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

var infoCmd = &cobra.Command{
	Use:   "info <source>",
	Short: "Display layers and schema of a source dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a directory and re-convert datasets on change",
	Long: `Watch a directory tree for dataset changes and re-run the conversion for
each changed dataset. Change bursts are debounced so a bulk copy triggers
one conversion, not one per file.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration and where it came from",
	RunE:  runConfig,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	convertCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (required)")
	convertCmd.Flags().StringVar(&chunkSizeFlag, "chunk-size", "", `Records per batch, or "auto"`)
	convertCmd.Flags().StringVar(&compressionFlag, "compression", "", "Parquet compression (none, snappy, gzip, zstd, lz4)")
	convertCmd.Flags().IntVar(&workersFlag, "workers", 0, "Concurrent layer conversions (0 = core count)")
	convertCmd.Flags().IntVar(&maxRetriesFlag, "max-retries", -1, "Retries per failure class before giving up")
	convertCmd.Flags().Int64Var(&maxMemoryFlag, "max-memory", 0, "Memory budget in bytes for auto chunk sizing")
	convertCmd.Flags().IntVar(&sampleBatches, "schema-sample-batches", 0, "Schema scan batch prefix (0 = whole layer)")
	convertCmd.Flags().StringVar(&tempDirFlag, "temp-dir", "", "Directory for intermediate artifacts")
	convertCmd.Flags().StringVar(&logFileFlag, "log-file", "", "Append conversion log to this file")
	convertCmd.Flags().BoolVar(&skipInvalidGeom, "skip-invalid-geometries", false, "Do not report invalid geometries (they are nulled either way)")
	convertCmd.Flags().BoolVar(&validateGeom, "validate-geometries", false, "Validate geometry structure during conversion")
	convertCmd.Flags().BoolVar(&forceTextTypes, "force-text-types", false, "Treat every attribute field as text")
	convertCmd.MarkFlagRequired("output")

	watchCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (required)")
	watchCmd.Flags().StringVar(&compressionFlag, "compression", "", "Parquet compression (none, snappy, gzip, zstd, lz4)")
	watchCmd.Flags().StringVar(&debounceFlag, "debounce", "500ms", "Quiet period before a change burst triggers conversion")
	watchCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}

// buildOptions merges config files, environment, and flags in priority order.
// Flags win when explicitly set.
func buildOptions(cmd *cobra.Command) (config.Options, error) {
	cfg := *config.Global().Get()

	if cmd.Flags().Changed("chunk-size") {
		cfg.Conversion.ChunkSize = chunkSizeFlag
	}
	if cmd.Flags().Changed("compression") {
		cfg.Conversion.Compression = compressionFlag
	}
	if cmd.Flags().Changed("workers") {
		cfg.Conversion.Workers = workersFlag
	}
	if cmd.Flags().Changed("max-retries") {
		cfg.Conversion.MaxRetries = maxRetriesFlag
	}
	if cmd.Flags().Changed("max-memory") {
		cfg.Memory.MaxBytes = maxMemoryFlag
	}
	if cmd.Flags().Changed("schema-sample-batches") {
		cfg.Conversion.SchemaSampleBatches = sampleBatches
	}
	if cmd.Flags().Changed("temp-dir") {
		cfg.Conversion.TempDir = tempDirFlag
	}
	if cmd.Flags().Changed("log-file") {
		cfg.Conversion.LogFile = logFileFlag
	}
	if skipInvalidGeom {
		cfg.Conversion.SkipInvalidGeometry = true
	}
	if validateGeom {
		cfg.Conversion.ValidateGeometry = true
	}
	if forceTextTypes {
		cfg.Conversion.ForceTextTypes = true
	}

	return config.OptionsFrom(&cfg)
}

func runConfig(cmd *cobra.Command, args []string) error {
	mgr := config.Global()
	cfg := mgr.Get()

	fmt.Println("Loaded config files:")
	paths := mgr.GetPaths()
	if len(paths) == 0 {
		fmt.Println("  (none, defaults only)")
	}
	for _, p := range paths {
		fmt.Printf("  - %s\n", p)
	}
	fmt.Println()
	fmt.Printf("chunk_size:            %s\n", cfg.Conversion.ChunkSize)
	fmt.Printf("max_retries:           %d\n", cfg.Conversion.MaxRetries)
	fmt.Printf("workers:               %s\n", workersLabel(cfg.Conversion.Workers))
	fmt.Printf("compression:           %s\n", cfg.Conversion.Compression)
	fmt.Printf("schema_sample_batches: %d\n", cfg.Conversion.SchemaSampleBatches)
	fmt.Printf("temp_dir:              %s\n", cfg.Conversion.TempDir)
	fmt.Printf("memory.max_bytes:      %d\n", cfg.Memory.MaxBytes)
	fmt.Printf("telemetry.enabled:     %v\n", cfg.Telemetry.Enabled)
	return nil
}

func workersLabel(n int) string {
	if n <= 0 {
		return "auto"
	}
	return strconv.Itoa(n)
}
