// Package materialize conforms raw batches to a frozen unified schema and
// persists them as intermediate artifacts.
package materialize

import (
	"context"

	"github.com/geoflow/geoflow/internal/model"
	"github.com/geoflow/geoflow/pkg/geometry"
	"github.com/geoflow/geoflow/pkg/schema"
	"github.com/geoflow/geoflow/pkg/writer"
)

// Stats counts what happened to one batch during materialization. Output
// record count always equals input record count: degraded records become
// fully-null rows and invalid geometries become geometry nulls, but no row is
// ever dropped.
type Stats struct {
	Records           int
	Tombstones        int
	LossyCoercions    int
	InvalidGeometries int
	NullGeometries    int
}

// Add folds another batch's stats into s.
func (s *Stats) Add(other Stats) {
	s.Records += other.Records
	s.Tombstones += other.Tombstones
	s.LossyCoercions += other.LossyCoercions
	s.InvalidGeometries += other.InvalidGeometries
	s.NullGeometries += other.NullGeometries
}

// Materializer applies a frozen schema and canonical geometry encoding to raw
// batches. One materializer serves one layer for the whole run.
type Materializer struct {
	sch  *schema.Unified
	norm *geometry.Normalizer

	// OnInvalidGeometry is called for each geometry that failed to parse
	// when invalid-skipping is off. The record is retained with a null
	// geometry either way; the hook only surfaces the failure.
	OnInvalidGeometry func(row int64, err error)

	skipInvalid bool
}

// New creates a materializer for one layer's frozen schema.
func New(sch *schema.Unified, norm *geometry.Normalizer, skipInvalid bool) *Materializer {
	return &Materializer{sch: sch, norm: norm, skipInvalid: skipInvalid}
}

// Materialize conforms every record of the batch to the frozen schema.
// The result has exactly one output record per input record, each with
// exactly sch.Len() values in schema field order.
func (m *Materializer) Materialize(batch *model.Batch) ([]model.NormalizedRecord, Stats) {
	out := make([]model.NormalizedRecord, 0, batch.Len())
	var stats Stats
	stats.Records = batch.Len()

	for i := range batch.Records {
		raw := &batch.Records[i]

		if raw.Tombstone {
			stats.Tombstones++
			stats.NullGeometries++
			out = append(out, nullRecord(m.sch.Len()))
			continue
		}

		rec := model.NormalizedRecord{Values: make([]model.Value, m.sch.Len())}
		for col, field := range m.sch.Fields {
			v, ok := raw.Fields[field.Name]
			if !ok {
				rec.Values[col] = model.Null()
				continue
			}
			coerced, lossy := m.sch.Coerce(col, v)
			if lossy {
				stats.LossyCoercions++
			}
			rec.Values[col] = coerced
		}

		geom, err := m.norm.Normalize(raw.Geometry)
		switch {
		case err != nil:
			stats.InvalidGeometries++
			stats.NullGeometries++
			if !m.skipInvalid && m.OnInvalidGeometry != nil {
				m.OnInvalidGeometry(batch.Offset+int64(i), err)
			}
		case geom == nil:
			stats.NullGeometries++
		}
		rec.Geometry = geom

		out = append(out, rec)
	}

	return out, stats
}

// MaterializeAndWrite conforms the batch and persists it as the layer's next
// intermediate artifact.
func (m *Materializer) MaterializeAndWrite(ctx context.Context, batch *model.Batch, seq int, w writer.ArtifactWriter) (writer.Artifact, Stats, error) {
	records, stats := m.Materialize(batch)
	art, err := w.WriteArtifact(ctx, m.sch, records, seq)
	if err != nil {
		return writer.Artifact{}, stats, err
	}
	return art, stats, nil
}

func nullRecord(width int) model.NormalizedRecord {
	rec := model.NormalizedRecord{Values: make([]model.Value, width)}
	for i := range rec.Values {
		rec.Values[i] = model.Null()
	}
	return rec
}
