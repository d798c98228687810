package combine

import (
	"strings"
	"testing"

	"github.com/geoflow/geoflow/pkg/errors"
	"github.com/geoflow/geoflow/pkg/writer"
)

func TestOrderArtifacts(t *testing.T) {
	arts := []writer.Artifact{
		{Seq: 2, Path: "c.parquet", Rows: 1},
		{Seq: 0, Path: "a.parquet", Rows: 3},
		{Seq: 1, Path: "b.parquet", Rows: 3},
	}

	ordered, rows, err := orderArtifacts(arts)
	if err != nil {
		t.Fatal(err)
	}
	if rows != 7 {
		t.Errorf("rows = %d, want 7", rows)
	}
	for i, art := range ordered {
		if art.Seq != i {
			t.Errorf("position %d holds sequence %d", i, art.Seq)
		}
	}
}

func TestOrderArtifacts_Empty(t *testing.T) {
	if _, _, err := orderArtifacts(nil); !errors.IsCode(err, errors.CodeCombineFailed) {
		t.Errorf("err = %v, want combine failure", err)
	}
}

func TestOrderArtifacts_SequenceGap(t *testing.T) {
	arts := []writer.Artifact{
		{Seq: 0, Path: "a.parquet"},
		{Seq: 2, Path: "c.parquet"},
	}
	if _, _, err := orderArtifacts(arts); err == nil {
		t.Fatal("sequence gap not detected")
	}
}

func TestOrderArtifacts_Duplicate(t *testing.T) {
	arts := []writer.Artifact{
		{Seq: 0, Path: "a.parquet"},
		{Seq: 0, Path: "b.parquet"},
	}
	if _, _, err := orderArtifacts(arts); err == nil {
		t.Fatal("duplicate sequence not detected")
	}
}

func TestCopyQuery(t *testing.T) {
	ordered := []writer.Artifact{
		{Seq: 0, Path: "/tmp/l_000000.parquet"},
		{Seq: 1, Path: "/tmp/l_000001.parquet"},
	}

	q := copyQuery(ordered, "/tmp/final.parquet", "snappy")

	if !strings.Contains(q, "read_parquet(['/tmp/l_000000.parquet', '/tmp/l_000001.parquet'])") {
		t.Errorf("inputs not ordered in query: %s", q)
	}
	if !strings.Contains(q, "TO '/tmp/final.parquet'") {
		t.Errorf("output missing: %s", q)
	}
	if !strings.Contains(q, "COMPRESSION 'snappy'") {
		t.Errorf("compression missing: %s", q)
	}
}

func TestCopyQuery_EscapesQuotes(t *testing.T) {
	ordered := []writer.Artifact{{Seq: 0, Path: "/tmp/o'brien.parquet"}}
	q := copyQuery(ordered, "/tmp/out.parquet", "zstd")
	if !strings.Contains(q, "o''brien") {
		t.Errorf("single quote not escaped: %s", q)
	}
}
