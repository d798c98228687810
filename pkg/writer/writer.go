// Package writer persists materialized batches as columnar intermediate
// artifacts.
package writer

import (
	"context"

	"github.com/geoflow/geoflow/internal/model"
	"github.com/geoflow/geoflow/pkg/schema"
)

// Artifact identifies one persisted intermediate file. Sequence numbers are
// assigned per layer in write order; the combiner concatenates artifacts in
// ascending sequence to preserve source record order.
type Artifact struct {
	Layer string
	Seq   int
	Path  string
	Rows  int64
	Bytes int64
}

// ArtifactWriter writes one materialized batch to durable storage. An
// artifact is only visible under its final path once it is complete; a write
// that fails partway leaves no artifact behind.
type ArtifactWriter interface {
	WriteArtifact(ctx context.Context, sch *schema.Unified, records []model.NormalizedRecord, seq int) (Artifact, error)
}

// Config holds artifact writer configuration.
type Config struct {
	// Dir is the directory intermediate artifacts are written into.
	Dir string

	// Compression type for Parquet output.
	Compression CompressionType
}

// CompressionType represents Parquet compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
	CompressionLZ4
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// ParseCompression parses a compression type string.
func ParseCompression(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}
