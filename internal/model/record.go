// Package model defines core data structures for GeoFlow.
package model

import "strconv"

// ValueKind is the tag of a Value variant.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindInt
	KindFloat
	KindText
	KindBytes
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value is a tagged variant for untyped source field values.
// Source records carry heterogeneous field maps; representing each value as
// an explicit variant keeps widening decisions in the schema reconciler
// instead of scattered runtime coercions.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Text  string
	Bytes []byte
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// Int64 wraps an integer value.
func Int64(v int64) Value { return Value{Kind: KindInt, Int: v} }

// Float64 wraps a float value.
func Float64(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// Text wraps a text value.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// Blob wraps a byte slice value.
func Blob(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsText stringifies the value. Used when a frozen text field receives a
// non-text value late in a run: stringifying never loses information.
func (v Value) AsText() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindText:
		return v.Text
	case KindBytes:
		return string(v.Bytes)
	default:
		return ""
	}
}

// RawRecord is one record as produced by the source reader: an untyped field
// map plus an untyped geometry value. Ephemeral; consumed by materialization.
type RawRecord struct {
	Fields map[string]Value

	// Geometry holds the raw geometry payload as the source produced it
	// (GeoJSON object bytes, WKB, or WKT). Nil means no geometry.
	Geometry []byte

	// Tombstone marks a record the source could not decode. Tombstoned
	// records become fully-null output rows so one corrupt record never
	// aborts its batch.
	Tombstone bool
}

// Reset clears the record for reuse from a pool.
func (r *RawRecord) Reset() {
	for k := range r.Fields {
		delete(r.Fields, k)
	}
	r.Geometry = r.Geometry[:0]
	r.Tombstone = false
}

// Batch is an ordered slice of up to chunk-size raw records read in one pass.
// It is owned exclusively by the stage currently processing it.
type Batch struct {
	Records []RawRecord

	// Offset is the source offset of the first record in the batch.
	Offset int64
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int { return len(b.Records) }

// Reset clears the batch for reuse.
func (b *Batch) Reset() {
	for i := range b.Records {
		b.Records[i].Reset()
	}
	b.Records = b.Records[:0]
	b.Offset = 0
}

// FieldDecl is one declared field of a layer.
type FieldDecl struct {
	Name string
	Type string
}

// LayerDescriptor describes a named record collection within a source
// dataset. Discovered once at open time; read-only thereafter.
type LayerDescriptor struct {
	Name         string
	Fields       []FieldDecl
	GeometryType string
	RecordCount  int64 // approximate
}

// NormalizedRecord is a record conforming exactly to a frozen unified schema:
// Values is index-aligned with the schema's field order, and Geometry holds
// the canonical serialized form (nil for an explicit geometry null).
type NormalizedRecord struct {
	Values   []Value
	Geometry []byte
}
