package schema

import (
	"testing"

	"github.com/geoflow/geoflow/internal/model"
)

func layerWith(fields ...model.FieldDecl) model.LayerDescriptor {
	return model.LayerDescriptor{Name: "parcels", Fields: fields}
}

func batchOf(records ...map[string]model.Value) *model.Batch {
	b := &model.Batch{}
	for _, fields := range records {
		b.Records = append(b.Records, model.RawRecord{Fields: fields})
	}
	return b
}

func TestReconciler_UnionAcrossBatches(t *testing.T) {
	r := NewReconciler(layerWith(), false)

	r.Observe(batchOf(
		map[string]model.Value{"id": model.Int64(1), "name": model.Text("a")},
	))
	r.Observe(batchOf(
		map[string]model.Value{"id": model.Int64(2), "extra": model.Float64(0.5)},
	))

	u := r.Freeze()

	want := []struct {
		name string
		typ  FieldType
	}{
		{"id", TypeInt},
		{"name", TypeText},
		{"extra", TypeFloat},
	}

	if u.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", u.Len(), len(want))
	}
	for i, w := range want {
		if u.Fields[i].Name != w.name || u.Fields[i].Type != w.typ {
			t.Errorf("field %d = %s:%s, want %s:%s",
				i, u.Fields[i].Name, u.Fields[i].Type, w.name, w.typ)
		}
		if u.Fields[i].Position != i {
			t.Errorf("field %d position = %d", i, u.Fields[i].Position)
		}
	}
}

func TestReconciler_DisagreementWidensToText(t *testing.T) {
	r := NewReconciler(layerWith(), false)

	r.Observe(batchOf(map[string]model.Value{"code": model.Int64(7)}))
	r.Observe(batchOf(map[string]model.Value{"code": model.Text("7A")}))

	u := r.Freeze()
	if got := u.Fields[u.Index("code")].Type; got != TypeText {
		t.Errorf("int+text resolved to %s, want text", got)
	}
}

func TestReconciler_IntFloatWidensToFloat(t *testing.T) {
	r := NewReconciler(layerWith(), false)

	r.Observe(batchOf(
		map[string]model.Value{"area": model.Int64(10)},
		map[string]model.Value{"area": model.Float64(10.5)},
	))

	u := r.Freeze()
	if got := u.Fields[u.Index("area")].Type; got != TypeFloat {
		t.Errorf("int+float resolved to %s, want float64", got)
	}
}

func TestReconciler_NullsDoNotConstrain(t *testing.T) {
	r := NewReconciler(layerWith(), false)

	r.Observe(batchOf(
		map[string]model.Value{"owner": model.Null()},
		map[string]model.Value{"owner": model.Int64(3)},
	))

	u := r.Freeze()
	if got := u.Fields[u.Index("owner")].Type; got != TypeInt {
		t.Errorf("null+int resolved to %s, want int64", got)
	}
}

func TestReconciler_EmptyLayerUsesDeclaredAllText(t *testing.T) {
	r := NewReconciler(layerWith(
		model.FieldDecl{Name: "id", Type: "Integer"},
		model.FieldDecl{Name: "name", Type: "String"},
	), false)

	u := r.Freeze()

	if u.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", u.Len())
	}
	for _, f := range u.Fields {
		if f.Type != TypeText {
			t.Errorf("field %s type = %s, want text", f.Name, f.Type)
		}
	}
	if u.Fields[0].Name != "id" || u.Fields[1].Name != "name" {
		t.Errorf("declared order not preserved: %v", u.Fields)
	}
}

func TestReconciler_ForceTextTypes(t *testing.T) {
	r := NewReconciler(layerWith(), true)
	r.Observe(batchOf(map[string]model.Value{"id": model.Int64(1)}))

	u := r.Freeze()
	if got := u.Fields[u.Index("id")].Type; got != TypeText {
		t.Errorf("force_text_types resolved to %s, want text", got)
	}
}

func TestReconciler_FrozenRejectsObserve(t *testing.T) {
	r := NewReconciler(layerWith(), false)
	r.Observe(batchOf(map[string]model.Value{"id": model.Int64(1)}))
	first := r.Freeze()

	if err := r.Observe(batchOf(map[string]model.Value{"late": model.Text("x")})); err == nil {
		t.Error("Observe after Freeze should fail")
	}
	if again := r.Freeze(); again != first {
		t.Error("Freeze is not idempotent")
	}
}

func TestReconciler_TombstonesSkipped(t *testing.T) {
	r := NewReconciler(layerWith(), false)

	b := &model.Batch{Records: []model.RawRecord{
		{Fields: map[string]model.Value{"id": model.Int64(1)}},
		{Tombstone: true, Fields: map[string]model.Value{"junk": model.Text("?")}},
	}}
	r.Observe(b)

	u := r.Freeze()
	if u.Index("junk") != -1 {
		t.Error("tombstoned record contributed fields to the schema")
	}
}

func TestUnified_Coerce(t *testing.T) {
	u := NewUnified("parcels", []Field{
		{Name: "name", Type: TypeText},
		{Name: "id", Type: TypeInt},
		{Name: "area", Type: TypeFloat},
	})

	tests := []struct {
		name    string
		field   int
		in      model.Value
		want    model.Value
		dropped bool
	}{
		{"int stringified for text field", 0, model.Int64(42), model.Text("42"), false},
		{"float with integral value narrows", 1, model.Float64(7), model.Int64(7), false},
		{"fractional float nulls for int field", 1, model.Float64(7.5), model.Null(), true},
		{"text nulls for int field", 1, model.Text("x"), model.Null(), true},
		{"int widens for float field", 2, model.Int64(3), model.Float64(3), false},
		{"null passes through", 2, model.Null(), model.Null(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped := u.Coerce(tt.field, tt.in)
			if !valueEq(got, tt.want) || dropped != tt.dropped {
				t.Errorf("Coerce() = (%v, %v), want (%v, %v)", got, dropped, tt.want, tt.dropped)
			}
		})
	}
}

func valueEq(a, b model.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case model.KindInt:
		return a.Int == b.Int
	case model.KindFloat:
		return a.Float == b.Float
	case model.KindText:
		return a.Text == b.Text
	case model.KindBytes:
		return string(a.Bytes) == string(b.Bytes)
	default:
		return true
	}
}

func TestUnified_Fingerprint(t *testing.T) {
	a := NewUnified("l", []Field{{Name: "id", Type: TypeInt}, {Name: "name", Type: TypeText}})
	b := NewUnified("l", []Field{{Name: "id", Type: TypeInt}, {Name: "name", Type: TypeText}})
	c := NewUnified("l", []Field{{Name: "name", Type: TypeText}, {Name: "id", Type: TypeInt}})

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical schemas have different fingerprints")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("reordered schema has identical fingerprint")
	}
}
