package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/geoflow/geoflow/internal/model"
	"github.com/geoflow/geoflow/pkg/errors"
	"github.com/geoflow/geoflow/pkg/schema"
)

// GeometryColumn is the reserved name of the WKB geometry column appended
// after the attribute columns of every artifact.
const GeometryColumn = "geometry"

// fingerprintKey stores the frozen schema fingerprint in the Arrow schema
// metadata so artifacts of one layer can be checked for consistency.
const fingerprintKey = "geoflow:schema"

// ParquetArtifactWriter writes batches to Parquet files using Apache Arrow.
type ParquetArtifactWriter struct {
	cfg       Config
	allocator memory.Allocator
}

// NewParquetArtifactWriter creates a Parquet artifact writer. The artifact
// directory is created if it does not exist.
func NewParquetArtifactWriter(cfg Config) (*ParquetArtifactWriter, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, errors.Wrap(err, errors.CodeArtifactWrite, "creating artifact directory")
	}
	return &ParquetArtifactWriter{
		cfg:       cfg,
		allocator: memory.NewGoAllocator(),
	}, nil
}

// arrowSchema maps a frozen unified schema to an Arrow schema. Every column
// is nullable: a record missing a field, or holding a value the frozen type
// cannot represent, materializes as null rather than failing the batch.
func arrowSchema(sch *schema.Unified) *arrow.Schema {
	fields := make([]arrow.Field, 0, sch.Len()+1)
	for _, f := range sch.Fields {
		var dt arrow.DataType
		switch f.Type {
		case schema.TypeInt:
			dt = arrow.PrimitiveTypes.Int64
		case schema.TypeFloat:
			dt = arrow.PrimitiveTypes.Float64
		case schema.TypeBytes:
			dt = arrow.BinaryTypes.Binary
		default:
			dt = arrow.BinaryTypes.String
		}
		fields = append(fields, arrow.Field{Name: f.Name, Type: dt, Nullable: true})
	}
	fields = append(fields, arrow.Field{Name: GeometryColumn, Type: arrow.BinaryTypes.Binary, Nullable: true})

	md := arrow.NewMetadata([]string{fingerprintKey}, []string{sch.Fingerprint()})
	return arrow.NewSchema(fields, &md)
}

// WriteArtifact writes one batch as a standalone Parquet file. The file is
// written under a partial name and renamed into place once the writer has
// been closed cleanly, so a crash mid-write never leaves a readable but
// truncated artifact.
func (w *ParquetArtifactWriter) WriteArtifact(ctx context.Context, sch *schema.Unified, records []model.NormalizedRecord, seq int) (Artifact, error) {
	select {
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	default:
	}

	finalPath := filepath.Join(w.cfg.Dir, fmt.Sprintf("%s_%06d.parquet", sch.Layer, seq))
	partialPath := finalPath + ".partial"

	if err := w.writeFile(partialPath, sch, records); err != nil {
		os.Remove(partialPath)
		return Artifact{}, err
	}

	if err := os.Rename(partialPath, finalPath); err != nil {
		os.Remove(partialPath)
		return Artifact{}, errors.Wrap(err, errors.CodeArtifactWrite, "finalizing artifact")
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return Artifact{}, errors.Wrap(err, errors.CodeArtifactWrite, "stating artifact")
	}

	return Artifact{
		Layer: sch.Layer,
		Seq:   seq,
		Path:  finalPath,
		Rows:  int64(len(records)),
		Bytes: info.Size(),
	}, nil
}

func (w *ParquetArtifactWriter) writeFile(path string, sch *schema.Unified, records []model.NormalizedRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeArtifactWrite, "creating artifact file")
	}

	arrowSch := arrowSchema(sch)

	var codec compress.Compression
	switch w.cfg.Compression {
	case CompressionSnappy:
		codec = compress.Codecs.Snappy
	case CompressionGzip:
		codec = compress.Codecs.Gzip
	case CompressionZstd:
		codec = compress.Codecs.Zstd
	case CompressionLZ4:
		codec = compress.Codecs.Lz4
	default:
		codec = compress.Codecs.Uncompressed
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	pw, err := pqarrow.NewFileWriter(arrowSch, f, writerProps, arrowProps)
	if err != nil {
		f.Close()
		return errors.Wrap(err, errors.CodeArtifactWrite, "creating parquet writer")
	}

	builder := array.NewRecordBuilder(w.allocator, arrowSch)
	defer builder.Release()
	builder.Reserve(len(records))

	geomCol := sch.Len()
	for i := range records {
		rec := &records[i]
		for col, field := range sch.Fields {
			appendValue(builder.Field(col), field.Type, rec.Values[col])
		}
		gb := builder.Field(geomCol).(*array.BinaryBuilder)
		if len(rec.Geometry) > 0 {
			gb.Append(rec.Geometry)
		} else {
			gb.AppendNull()
		}
	}

	batch := builder.NewRecord()
	defer batch.Release()

	if err := pw.Write(batch); err != nil {
		pw.Close()
		return errors.Wrap(err, errors.CodeArtifactWrite, "writing record batch")
	}
	if err := pw.Close(); err != nil {
		return errors.Wrap(err, errors.CodeArtifactWrite, "closing parquet writer")
	}
	return nil
}

// appendValue appends one coerced value to its column builder. The value has
// already been conformed to the frozen type, so a kind mismatch here means
// null.
func appendValue(b array.Builder, t schema.FieldType, v model.Value) {
	if v.IsNull() {
		b.AppendNull()
		return
	}

	switch t {
	case schema.TypeInt:
		if v.Kind == model.KindInt {
			b.(*array.Int64Builder).Append(v.Int)
			return
		}
	case schema.TypeFloat:
		if v.Kind == model.KindFloat {
			b.(*array.Float64Builder).Append(v.Float)
			return
		}
	case schema.TypeBytes:
		if v.Kind == model.KindBytes {
			b.(*array.BinaryBuilder).Append(v.Bytes)
			return
		}
	default:
		b.(*array.StringBuilder).Append(v.AsText())
		return
	}

	b.AppendNull()
}
