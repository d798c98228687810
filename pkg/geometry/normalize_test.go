package geometry

import (
	"bytes"
	"testing"

	gferrors "github.com/geoflow/geoflow/pkg/errors"
)

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer(false)

	inputs := [][]byte{
		[]byte(`{"type":"Point","coordinates":[-122.4,37.7]}`),
		[]byte(`POINT(-122.4 37.7)`),
		[]byte(`{"type":"Polygon","coordinates":[[[0,0],[4,0],[4,4],[0,4],[0,0]]]}`),
		[]byte(`LINESTRING(0 0, 1 1, 2 2)`),
	}

	for _, in := range inputs {
		first, err := n.Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%s): %v", in, err)
		}
		second, err := n.Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%s) second call: %v", in, err)
		}
		if !bytes.Equal(first, second) {
			t.Errorf("Normalize(%s) not byte-identical across calls", in)
		}
	}
}

func TestNormalize_EncodingsConverge(t *testing.T) {
	n := NewNormalizer(false)

	fromJSON, err := n.Normalize([]byte(`{"type":"Point","coordinates":[1,2]}`))
	if err != nil {
		t.Fatal(err)
	}
	fromWKT, err := n.Normalize([]byte(`POINT(1 2)`))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(fromJSON, fromWKT) {
		t.Error("GeoJSON and WKT of the same point produced different canonical bytes")
	}

	// Canonical WKB fed back in must round-trip unchanged.
	again, err := n.Normalize(fromJSON)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(fromJSON, again) {
		t.Error("canonical WKB did not round-trip byte-identically")
	}
}

func TestNormalize_EmptyIsNull(t *testing.T) {
	n := NewNormalizer(false)

	for _, in := range [][]byte{nil, {}, []byte("   ")} {
		out, err := n.Normalize(in)
		if err != nil {
			t.Errorf("Normalize(%q): %v", in, err)
		}
		if out != nil {
			t.Errorf("Normalize(%q) = %v, want nil", in, out)
		}
	}
}

func TestNormalize_UnparsableIsDataError(t *testing.T) {
	n := NewNormalizer(false)

	out, err := n.Normalize([]byte(`not a geometry`))
	if out != nil {
		t.Error("unparsable geometry produced output")
	}
	if gferrors.ClassOf(err) != gferrors.ClassDataCorruption {
		t.Errorf("error class = %v, want data_corruption", gferrors.ClassOf(err))
	}
}

func TestNormalize_RepairClosesRing(t *testing.T) {
	n := NewNormalizer(true)

	// Unclosed square ring.
	out, err := n.Normalize([]byte(`{"type":"Polygon","coordinates":[[[0,0],[4,0],[4,4],[0,4]]]}`))
	if err != nil {
		t.Fatalf("repairable polygon rejected: %v", err)
	}
	if out == nil {
		t.Fatal("repairable polygon nulled")
	}

	closed, err := n.Normalize([]byte(`{"type":"Polygon","coordinates":[[[0,0],[4,0],[4,4],[0,4],[0,0]]]}`))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, closed) {
		t.Error("repaired ring differs from the explicitly closed ring")
	}
}

func TestNormalize_RepairRejectsZeroArea(t *testing.T) {
	n := NewNormalizer(true)

	// All points collinear: zero area after closing.
	out, err := n.Normalize([]byte(`{"type":"Polygon","coordinates":[[[0,0],[1,1],[2,2],[0,0]]]}`))
	if out != nil {
		t.Error("zero-area polygon produced output")
	}
	if gferrors.ClassOf(err) != gferrors.ClassDataCorruption {
		t.Errorf("error class = %v, want data_corruption", gferrors.ClassOf(err))
	}
}

func TestNormalize_RepairDropsDuplicatePoints(t *testing.T) {
	n := NewNormalizer(true)

	withDupes, err := n.Normalize([]byte(`LINESTRING(0 0, 0 0, 1 1, 1 1, 2 2)`))
	if err != nil {
		t.Fatal(err)
	}
	clean, err := n.Normalize([]byte(`LINESTRING(0 0, 1 1, 2 2)`))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(withDupes, clean) {
		t.Error("duplicate points survived repair")
	}
}

func TestNormalize_ValidationOffPassesDegenerate(t *testing.T) {
	n := NewNormalizer(false)

	// Without validation a zero-area polygon is serialized as-is.
	out, err := n.Normalize([]byte(`{"type":"Polygon","coordinates":[[[0,0],[1,1],[2,2],[0,0]]]}`))
	if err != nil {
		t.Fatalf("validation off should not reject: %v", err)
	}
	if out == nil {
		t.Error("validation off nulled a parsable geometry")
	}
}
