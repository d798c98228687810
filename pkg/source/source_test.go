package source

import (
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/geoflow/geoflow/internal/model"
)

func writeLayer(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var data []byte
	for _, line := range lines {
		data = append(data, line...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func feature(id int, name string) string {
	return `{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"id":` +
		itoa(id) + `,"name":"` + name + `"}}`
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func TestOpen_SingleLayer(t *testing.T) {
	dir := t.TempDir()
	path := writeLayer(t, dir, "parcels.geojsonl",
		feature(1, "a"), feature(2, "b"), feature(3, "c"))

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	layers := r.Layers()
	if len(layers) != 1 {
		t.Fatalf("Layers() = %d, want 1", len(layers))
	}
	if layers[0].Name != "parcels" {
		t.Errorf("layer name = %q", layers[0].Name)
	}
	if layers[0].RecordCount != 3 {
		t.Errorf("record count = %d, want 3", layers[0].RecordCount)
	}
	if layers[0].GeometryType != "Point" {
		t.Errorf("geometry type = %q, want Point", layers[0].GeometryType)
	}
}

func TestOpen_MissingSource(t *testing.T) {
	if _, err := Open("/nonexistent/path.geojsonl"); err == nil {
		t.Fatal("Open of missing path should fail")
	}
}

func TestReadBatch_SequentialAndEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeLayer(t, dir, "roads.geojsonl",
		feature(1, "a"), feature(2, "b"), feature(3, "c"), feature(4, "d"), feature(5, "e"))

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ctx := context.Background()
	var offset int64
	var sizes []int
	for {
		batch, next, err := r.ReadBatch(ctx, "roads", offset, 2)
		if errors.Is(err, ErrEndOfLayer) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		sizes = append(sizes, batch.Len())
		if batch.Offset != offset {
			t.Errorf("batch offset = %d, want %d", batch.Offset, offset)
		}
		offset = next
	}

	want := []int{2, 2, 1}
	if len(sizes) != len(want) {
		t.Fatalf("batch sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("batch sizes = %v, want %v", sizes, want)
		}
	}
	if offset != 5 {
		t.Errorf("final offset = %d, want 5", offset)
	}
}

func TestReadBatch_RewindOffset(t *testing.T) {
	dir := t.TempDir()
	path := writeLayer(t, dir, "zones.geojsonl",
		feature(1, "a"), feature(2, "b"), feature(3, "c"))

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ctx := context.Background()
	if _, _, err := r.ReadBatch(ctx, "zones", 0, 3); err != nil {
		t.Fatal(err)
	}

	// Re-read from offset 1, as a retry with a halved batch size would.
	batch, next, err := r.ReadBatch(ctx, "zones", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Len() != 1 || next != 2 {
		t.Errorf("rewind read = (%d records, next %d), want (1, 2)", batch.Len(), next)
	}
	if got := batch.Records[0].Fields["name"].Text; got != "b" {
		t.Errorf("record at offset 1 = %q, want b", got)
	}
}

func TestReadBatch_CorruptLineTombstoned(t *testing.T) {
	dir := t.TempDir()
	path := writeLayer(t, dir, "mixed.geojsonl",
		feature(1, "a"),
		`{"type":"Feature","geometry":`, // truncated JSON
		feature(3, "c"))

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	batch, _, err := r.ReadBatch(context.Background(), "mixed", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Len() != 3 {
		t.Fatalf("batch length = %d, want 3 (tombstone preserved)", batch.Len())
	}
	if batch.Records[1].Tombstone != true {
		t.Error("corrupt record not tombstoned")
	}
	if batch.Records[0].Tombstone || batch.Records[2].Tombstone {
		t.Error("healthy records tombstoned")
	}
}

func TestReadBatch_OversizedLineTombstoned(t *testing.T) {
	dir := t.TempDir()
	path := writeLayer(t, dir, "big.geojsonl",
		feature(1, "a"),
		strings.Repeat("x", maxLineBytes+1),
		feature(3, "c"))

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if got := r.Layers()[0].RecordCount; got != 3 {
		t.Fatalf("record count = %d, want 3", got)
	}

	batch, next, err := r.ReadBatch(context.Background(), "big", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Len() != 3 || next != 3 {
		t.Fatalf("read = (%d records, next %d), want (3, 3)", batch.Len(), next)
	}
	if !batch.Records[1].Tombstone {
		t.Error("oversized record not tombstoned")
	}
	if batch.Records[0].Tombstone || batch.Records[2].Tombstone {
		t.Error("healthy records tombstoned")
	}
	if got := batch.Records[2].Fields["name"].Text; got != "c" {
		t.Errorf("record after oversized line = %q, want c", got)
	}
}

func TestReadBatch_NonScalarPropertiesAsJSONText(t *testing.T) {
	dir := t.TempDir()
	path := writeLayer(t, dir, "nested.geojsonl",
		`{"type":"Feature","geometry":null,"properties":{"tags":["a","b"],"meta":{"k":"v"}}}`)

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	batch, _, err := r.ReadBatch(context.Background(), "nested", 0, 1)
	if err != nil {
		t.Fatal(err)
	}

	fields := batch.Records[0].Fields
	if fields["tags"].Kind != model.KindText || fields["tags"].Text != `["a","b"]` {
		t.Errorf("tags = %v %q, want text [\"a\",\"b\"]", fields["tags"].Kind, fields["tags"].Text)
	}
	if fields["meta"].Kind != model.KindText || fields["meta"].Text != `{"k":"v"}` {
		t.Errorf("meta = %v %q, want text {\"k\":\"v\"}", fields["meta"].Kind, fields["meta"].Text)
	}
}

func TestReadBatch_ValueKinds(t *testing.T) {
	dir := t.TempDir()
	path := writeLayer(t, dir, "typed.geojsonl",
		`{"type":"Feature","geometry":null,"properties":{"i":42,"f":1.5,"s":"x","n":null,"b":true}}`)

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	batch, _, err := r.ReadBatch(context.Background(), "typed", 0, 1)
	if err != nil {
		t.Fatal(err)
	}

	fields := batch.Records[0].Fields
	checks := []struct {
		name string
		kind model.ValueKind
	}{
		{"i", model.KindInt},
		{"f", model.KindFloat},
		{"s", model.KindText},
		{"n", model.KindNull},
		{"b", model.KindText},
	}
	for _, c := range checks {
		if fields[c.name].Kind != c.kind {
			t.Errorf("field %s kind = %v, want %v", c.name, fields[c.name].Kind, c.kind)
		}
	}
}

func TestOpen_DirectoryMultiLayer(t *testing.T) {
	dir := t.TempDir()
	writeLayer(t, dir, "b_layer.geojsonl", feature(1, "x"))
	writeLayer(t, dir, "a_layer.geojsonl", feature(1, "y"), feature(2, "z"))

	r, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	layers := r.Layers()
	if len(layers) != 2 {
		t.Fatalf("Layers() = %d, want 2", len(layers))
	}
	if layers[0].Name != "a_layer" || layers[1].Name != "b_layer" {
		t.Errorf("layers not sorted: %v, %v", layers[0].Name, layers[1].Name)
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeLayer(t, root, "alone.geojsonl", feature(1, "a"))

	sub := filepath.Join(root, "multi")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeLayer(t, sub, "one.geojsonl", feature(1, "a"))
	writeLayer(t, sub, "two.geojsonl", feature(1, "b"))

	found, err := Discover(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Fatalf("Discover() = %v, want 2 entries", found)
	}
}

func TestMemoryReader_FaultInjection(t *testing.T) {
	m := NewMemoryReader()
	m.AddLayer(model.LayerDescriptor{Name: "l"}, []model.RawRecord{
		{Fields: map[string]model.Value{"id": model.Int64(1)}},
		{Fields: map[string]model.Value{"id": model.Int64(2)}},
	})

	failures := 1
	m.OnReadBatch = func(layer string, offset int64) error {
		if failures > 0 {
			failures--
			return errors.New("transient")
		}
		return nil
	}

	ctx := context.Background()
	if _, _, err := m.ReadBatch(ctx, "l", 0, 2); err == nil {
		t.Fatal("injected failure not returned")
	}
	batch, next, err := m.ReadBatch(ctx, "l", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Len() != 2 || next != 2 {
		t.Errorf("retry read = (%d, %d), want (2, 2)", batch.Len(), next)
	}
}

func writeGzipLayer(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	for _, line := range lines {
		gz.Write([]byte(line))
		gz.Write([]byte{'\n'})
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpen_GzipLayer(t *testing.T) {
	dir := t.TempDir()
	path := writeGzipLayer(t, dir, "parcels.geojsonl.gz",
		feature(1, "a"), feature(2, "b"))

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	layers := r.Layers()
	if len(layers) != 1 || layers[0].Name != "parcels" {
		t.Fatalf("layers = %+v, want one layer named parcels", layers)
	}
	if layers[0].RecordCount != 2 {
		t.Errorf("record count = %d, want 2", layers[0].RecordCount)
	}

	batch, next, err := r.ReadBatch(context.Background(), "parcels", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Len() != 2 || next != 2 {
		t.Errorf("read = (%d records, next %d), want (2, 2)", batch.Len(), next)
	}
	if got := batch.Records[1].Fields["name"].Text; got != "b" {
		t.Errorf("second record name = %q, want b", got)
	}
}
