// Package schema reconciles the divergent per-batch field sets of a layer
// into one frozen unified schema.
package schema

import (
	"fmt"
	"strings"

	"github.com/geoflow/geoflow/internal/model"
)

// FieldType is the resolved output type of a unified-schema field.
type FieldType int

const (
	// TypeText is the safe default: textual representation never loses
	// information and is read-compatible with any downstream consumer.
	TypeText FieldType = iota
	TypeInt
	TypeFloat
	TypeBytes
)

// String returns the type name.
func (t FieldType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeInt:
		return "int64"
	case TypeFloat:
		return "float64"
	case TypeBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Field is one resolved field of a unified schema.
type Field struct {
	Name     string
	Type     FieldType
	Position int
}

// Unified is the frozen field/type mapping applied to every materialized
// batch of a layer. Field order is first-seen order and stable for the whole
// run; every output record carries exactly these fields in exactly this
// order.
type Unified struct {
	Layer  string
	Fields []Field

	index map[string]int
}

// NewUnified builds a schema from resolved fields.
func NewUnified(layer string, fields []Field) *Unified {
	u := &Unified{
		Layer:  layer,
		Fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		f.Position = i
		u.Fields[i] = f
		u.index[f.Name] = i
	}
	return u
}

// Len returns the number of fields.
func (u *Unified) Len() int { return len(u.Fields) }

// Index returns the position of a field, or -1 if the schema does not
// contain it.
func (u *Unified) Index(name string) int {
	if i, ok := u.index[name]; ok {
		return i
	}
	return -1
}

// Fingerprint returns a stable textual identity for the schema, used to
// verify that every artifact of a layer was written against the same frozen
// schema.
func (u *Unified) Fingerprint() string {
	var sb strings.Builder
	for i, f := range u.Fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s:%s", f.Name, f.Type)
	}
	return sb.String()
}

// Coerce conforms a raw value to the frozen type of the field at position i.
// The schema is never re-widened mid-run, so a late-arriving incompatible
// value is converted to the frozen type's safe representation instead:
// stringified for text fields, parsed or widened where lossless for numeric
// fields, and nulled when no lossless conversion exists. The second return
// reports whether a lossy coercion (to null) happened.
func (u *Unified) Coerce(i int, v model.Value) (model.Value, bool) {
	if v.IsNull() {
		return model.Null(), false
	}

	switch u.Fields[i].Type {
	case TypeText:
		return model.Text(v.AsText()), false

	case TypeInt:
		switch v.Kind {
		case model.KindInt:
			return v, false
		case model.KindFloat:
			if f := v.Float; f == float64(int64(f)) {
				return model.Int64(int64(f)), false
			}
		}
		return model.Null(), true

	case TypeFloat:
		switch v.Kind {
		case model.KindFloat:
			return v, false
		case model.KindInt:
			return model.Float64(float64(v.Int)), false
		}
		return model.Null(), true

	case TypeBytes:
		if v.Kind == model.KindBytes {
			return v, false
		}
		return model.Blob([]byte(v.AsText())), false
	}

	return model.Null(), true
}

// Reconciler accumulates per-field type observations across batches and
// freezes them into a Unified schema. Observation state is bounded by the
// number of distinct fields, not by record count, so a reconciler can scan an
// unbounded stream under the memory ceiling.
type Reconciler struct {
	layer     string
	forceText bool

	order    []string
	observed map[string]*observation
	frozen   *Unified
}

type observation struct {
	sawInt   bool
	sawFloat bool
	sawText  bool
	sawBytes bool
	nonNull  int64
}

// NewReconciler creates a reconciler seeded with the layer's declared fields.
// Declared fields anchor the front of the first-seen order so an empty layer
// still yields a complete schema.
func NewReconciler(layer model.LayerDescriptor, forceText bool) *Reconciler {
	r := &Reconciler{
		layer:     layer.Name,
		forceText: forceText,
		observed:  make(map[string]*observation),
	}
	for _, decl := range layer.Fields {
		r.touch(decl.Name)
	}
	return r
}

func (r *Reconciler) touch(name string) *observation {
	obs, ok := r.observed[name]
	if !ok {
		obs = &observation{}
		r.observed[name] = obs
		r.order = append(r.order, name)
	}
	return obs
}

// Observe folds one batch's field names and value kinds into the running
// observations. Tombstoned records carry no usable fields and are skipped.
// Returns an error once the schema is frozen: re-widening retroactively
// would require re-processing already-written batches.
func (r *Reconciler) Observe(batch *model.Batch) error {
	if r.frozen != nil {
		return fmt.Errorf("schema for layer %q is frozen", r.layer)
	}

	for i := range batch.Records {
		rec := &batch.Records[i]
		if rec.Tombstone {
			continue
		}
		for name, v := range rec.Fields {
			obs := r.touch(name)
			switch v.Kind {
			case model.KindInt:
				obs.sawInt = true
			case model.KindFloat:
				obs.sawFloat = true
			case model.KindText:
				obs.sawText = true
			case model.KindBytes:
				obs.sawBytes = true
			case model.KindNull:
				continue
			}
			obs.nonNull++
		}
	}
	return nil
}

// Freeze resolves the accumulated observations into a Unified schema.
// Resolution per field:
//   - force_text_types, or no non-null observation at all: text.
//   - exactly one kind observed: that kind's type.
//   - int and float only: widened to float (lossless).
//   - any other disagreement: text.
//
// Idempotent: the first Freeze wins and later calls return the same schema.
func (r *Reconciler) Freeze() *Unified {
	if r.frozen != nil {
		return r.frozen
	}

	fields := make([]Field, 0, len(r.order))
	for _, name := range r.order {
		fields = append(fields, Field{
			Name: name,
			Type: r.resolve(r.observed[name]),
		})
	}

	r.frozen = NewUnified(r.layer, fields)
	return r.frozen
}

// Frozen returns the frozen schema, or nil before Freeze.
func (r *Reconciler) Frozen() *Unified { return r.frozen }

func (r *Reconciler) resolve(obs *observation) FieldType {
	if r.forceText || obs.nonNull == 0 {
		return TypeText
	}

	kinds := 0
	if obs.sawInt {
		kinds++
	}
	if obs.sawFloat {
		kinds++
	}
	if obs.sawText {
		kinds++
	}
	if obs.sawBytes {
		kinds++
	}

	switch {
	case kinds == 1 && obs.sawInt:
		return TypeInt
	case kinds == 1 && obs.sawFloat:
		return TypeFloat
	case kinds == 1 && obs.sawBytes:
		return TypeBytes
	case kinds == 2 && obs.sawInt && obs.sawFloat:
		return TypeFloat
	default:
		return TypeText
	}
}
