// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	gferrors "github.com/geoflow/geoflow/pkg/errors"
)

// Config holds all GeoFlow configuration.
type Config struct {
	Version int `yaml:"version"`

	Conversion ConversionConfig `yaml:"conversion"`
	Memory     MemoryConfig     `yaml:"memory"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ConversionConfig controls default conversion behavior.
type ConversionConfig struct {
	ChunkSize           string `yaml:"chunk_size"` // positive int or "auto"
	MaxRetries          int    `yaml:"max_retries"`
	Workers             int    `yaml:"workers"` // 0 = core count
	Compression         string `yaml:"compression"`
	SkipInvalidGeometry bool   `yaml:"skip_invalid_geometries"`
	ValidateGeometry    bool   `yaml:"validate_geometries"`
	ForceTextTypes      bool   `yaml:"force_text_types"`
	SchemaSampleBatches int    `yaml:"schema_sample_batches"` // 0 = scan whole layer
	TempDir             string `yaml:"temp_dir"`
	LogFile             string `yaml:"log_file"`
}

// MemoryConfig bounds the conversion working set.
type MemoryConfig struct {
	MaxBytes       int64 `yaml:"max_bytes"` // 0 = default budget
	MinChunkSize   int   `yaml:"min_chunk_size"`
	MaxChunkSize   int   `yaml:"max_chunk_size"`
	PerFieldBytes  int64 `yaml:"per_field_bytes"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Conversion: ConversionConfig{
			ChunkSize:   strconv.Itoa(DefaultChunkSize),
			MaxRetries:  3,
			Workers:     0, // auto
			Compression: "snappy",
			ValidateGeometry:    false,
			SkipInvalidGeometry: false,
			ForceTextTypes:      false,
			SchemaSampleBatches: 0,
			TempDir:             filepath.Join(os.TempDir(), "geoflow"),
		},
		Memory: MemoryConfig{
			MaxBytes:      0,
			MinChunkSize:  MinChunkSize,
			MaxChunkSize:  MaxChunkSize,
			PerFieldBytes: PerFieldBytes,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// Estimator policy constants. The per-field cost is a fixed worst case so the
// batch size derivation stays a pure function of its inputs.
const (
	DefaultChunkSize = 15000
	MinChunkSize     = 500
	MaxChunkSize     = 50000
	PerFieldBytes    = 256

	// LargeChunkWarning is the threshold above which a configured chunk size
	// is accepted but flagged in the conversion log.
	LargeChunkWarning = 100000
)

// Options is the per-conversion option set exposed to the CLI layer.
type Options struct {
	ChunkSize           int  // <= 0 means "auto"
	AutoChunkSize       bool
	MaxRetries          int
	SkipInvalidGeometry bool
	ValidateGeometry    bool
	ForceTextTypes      bool
	MaxMemoryBytes      int64
	Workers             int
	SchemaSampleBatches int
	Compression         string
	TempDir             string
	LogFile             string
}

// OptionsFrom builds Options from a loaded Config.
func OptionsFrom(cfg *Config) (Options, error) {
	opts := Options{
		MaxRetries:          cfg.Conversion.MaxRetries,
		SkipInvalidGeometry: cfg.Conversion.SkipInvalidGeometry,
		ValidateGeometry:    cfg.Conversion.ValidateGeometry,
		ForceTextTypes:      cfg.Conversion.ForceTextTypes,
		MaxMemoryBytes:      cfg.Memory.MaxBytes,
		Workers:             cfg.Conversion.Workers,
		SchemaSampleBatches: cfg.Conversion.SchemaSampleBatches,
		Compression:         cfg.Conversion.Compression,
		TempDir:             cfg.Conversion.TempDir,
		LogFile:             cfg.Conversion.LogFile,
	}

	if cfg.Conversion.ChunkSize == "auto" {
		opts.AutoChunkSize = true
	} else {
		n, err := strconv.Atoi(cfg.Conversion.ChunkSize)
		if err != nil {
			return opts, gferrors.New(gferrors.CodeInvalidOptions, "chunk_size must be a positive integer or \"auto\"").
				WithContext("chunk_size", cfg.Conversion.ChunkSize)
		}
		opts.ChunkSize = n
	}

	return opts, opts.Validate()
}

// Validate rejects invalid option combinations. Validation failures are
// fatal: they abort before any I/O begins.
func (o *Options) Validate() error {
	if !o.AutoChunkSize && o.ChunkSize <= 0 {
		return gferrors.InvalidChunkSize(o.ChunkSize)
	}
	if o.MaxRetries < 0 {
		return gferrors.New(gferrors.CodeInvalidOptions, "max_retries must be >= 0").
			WithContext("max_retries", o.MaxRetries)
	}
	if o.MaxMemoryBytes < 0 {
		return gferrors.New(gferrors.CodeInvalidOptions, "max_memory_bytes must be >= 0").
			WithContext("max_memory_bytes", o.MaxMemoryBytes)
	}
	if o.Workers < 0 {
		return gferrors.New(gferrors.CodeInvalidOptions, "workers must be >= 0").
			WithContext("workers", o.Workers)
	}
	if o.SchemaSampleBatches < 0 {
		return gferrors.New(gferrors.CodeInvalidOptions, "schema_sample_batches must be >= 0").
			WithContext("schema_sample_batches", o.SchemaSampleBatches)
	}
	return nil
}

// WarnLargeChunk reports whether the configured chunk size is accepted but
// large enough to risk memory pressure.
func (o *Options) WarnLargeChunk() bool {
	return !o.AutoChunkSize && o.ChunkSize > LargeChunkWarning
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()

	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	m.loadEnv()
	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/geoflow/config.yaml")
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".geoflow", "config.yaml"))
	}

	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".geoflow.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial fileConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial)
	return nil
}

// fileConfig mirrors Config with pointer fields, so a file can set a field to
// its zero value explicitly. A nil pointer means the file left the field out.
type fileConfig struct {
	Conversion fileConversion `yaml:"conversion"`
	Memory     fileMemory     `yaml:"memory"`
	Telemetry  fileTelemetry  `yaml:"telemetry"`
}

type fileConversion struct {
	ChunkSize           *string `yaml:"chunk_size"`
	MaxRetries          *int    `yaml:"max_retries"`
	Workers             *int    `yaml:"workers"`
	Compression         *string `yaml:"compression"`
	SkipInvalidGeometry *bool   `yaml:"skip_invalid_geometries"`
	ValidateGeometry    *bool   `yaml:"validate_geometries"`
	ForceTextTypes      *bool   `yaml:"force_text_types"`
	SchemaSampleBatches *int    `yaml:"schema_sample_batches"`
	TempDir             *string `yaml:"temp_dir"`
	LogFile             *string `yaml:"log_file"`
}

type fileMemory struct {
	MaxBytes      *int64 `yaml:"max_bytes"`
	MinChunkSize  *int   `yaml:"min_chunk_size"`
	MaxChunkSize  *int   `yaml:"max_chunk_size"`
	PerFieldBytes *int64 `yaml:"per_field_bytes"`
}

type fileTelemetry struct {
	Enabled  *bool   `yaml:"enabled"`
	Endpoint *string `yaml:"endpoint"`
}

// merge applies every field src actually sets, zero values included.
func (m *Manager) merge(src *fileConfig) {
	setString(&m.config.Conversion.ChunkSize, src.Conversion.ChunkSize)
	setInt(&m.config.Conversion.MaxRetries, src.Conversion.MaxRetries)
	setInt(&m.config.Conversion.Workers, src.Conversion.Workers)
	setString(&m.config.Conversion.Compression, src.Conversion.Compression)
	setBool(&m.config.Conversion.SkipInvalidGeometry, src.Conversion.SkipInvalidGeometry)
	setBool(&m.config.Conversion.ValidateGeometry, src.Conversion.ValidateGeometry)
	setBool(&m.config.Conversion.ForceTextTypes, src.Conversion.ForceTextTypes)
	setInt(&m.config.Conversion.SchemaSampleBatches, src.Conversion.SchemaSampleBatches)
	setString(&m.config.Conversion.TempDir, src.Conversion.TempDir)
	setString(&m.config.Conversion.LogFile, src.Conversion.LogFile)
	setInt64(&m.config.Memory.MaxBytes, src.Memory.MaxBytes)
	setInt(&m.config.Memory.MinChunkSize, src.Memory.MinChunkSize)
	setInt(&m.config.Memory.MaxChunkSize, src.Memory.MaxChunkSize)
	setInt64(&m.config.Memory.PerFieldBytes, src.Memory.PerFieldBytes)
	setBool(&m.config.Telemetry.Enabled, src.Telemetry.Enabled)
	setString(&m.config.Telemetry.Endpoint, src.Telemetry.Endpoint)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setInt64(dst *int64, src *int64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("GEOFLOW_CHUNK_SIZE"); v != "" {
		m.config.Conversion.ChunkSize = v
	}
	if v := os.Getenv("GEOFLOW_COMPRESSION"); v != "" {
		m.config.Conversion.Compression = v
	}
	if v := os.Getenv("GEOFLOW_WORKERS"); v != "" {
		var workers int
		if _, err := fmt.Sscanf(v, "%d", &workers); err == nil {
			m.config.Conversion.Workers = workers
		}
	}
	if v := os.Getenv("GEOFLOW_MAX_MEMORY_BYTES"); v != "" {
		var bytes int64
		if _, err := fmt.Sscanf(v, "%d", &bytes); err == nil {
			m.config.Memory.MaxBytes = bytes
		}
	}
	if v := os.Getenv("GEOFLOW_TEMP_DIR"); v != "" {
		m.config.Conversion.TempDir = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".geoflow")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
