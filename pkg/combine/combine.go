// Package combine concatenates a layer's intermediate artifacts into one
// final artifact.
package combine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/geoflow/geoflow/pkg/errors"
	"github.com/geoflow/geoflow/pkg/writer"
)

// Result describes one completed combination.
type Result struct {
	Path     string
	Rows     int64
	Bytes    int64
	Inputs   int
	Duration time.Duration
}

// Combiner assembles ordered intermediate artifacts into a final artifact.
// Atomic from the caller's perspective: on failure the final path is either
// absent or complete, never truncated. Intermediates are deleted only after
// the final artifact is in place.
type Combiner interface {
	Combine(ctx context.Context, artifacts []writer.Artifact, finalPath string) (Result, error)
	Close() error
}

// DuckDBCombiner concatenates Parquet artifacts with a single DuckDB COPY.
// Reading every intermediate through one query keeps the combination
// streaming: DuckDB never holds more than a row group in memory per input.
type DuckDBCombiner struct {
	db          *sql.DB
	compression string
}

// NewDuckDBCombiner opens an in-memory DuckDB session for combining.
func NewDuckDBCombiner(compression string) (*DuckDBCombiner, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCombineFailed, "initializing duckdb")
	}
	if compression == "" || compression == "none" {
		compression = "uncompressed"
	}
	return &DuckDBCombiner{db: db, compression: compression}, nil
}

// Close releases the DuckDB session.
func (c *DuckDBCombiner) Close() error {
	return c.db.Close()
}

// Combine concatenates the artifacts in ascending sequence order into
// finalPath. Row order within and across artifacts is preserved exactly. The
// result is verified against the expected row count before the intermediates
// are removed.
func (c *DuckDBCombiner) Combine(ctx context.Context, artifacts []writer.Artifact, finalPath string) (Result, error) {
	start := time.Now()

	ordered, expectRows, err := orderArtifacts(artifacts)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return Result{}, errors.Wrap(err, errors.CodeCombineFailed, "creating output directory")
	}

	partialPath := finalPath + ".partial"
	query := copyQuery(ordered, partialPath, c.compression)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		os.Remove(partialPath)
		return Result{}, errors.Wrap(err, errors.CodeCombineFailed, "combining artifacts")
	}

	rows, err := c.rowCount(ctx, partialPath)
	if err != nil {
		os.Remove(partialPath)
		return Result{}, err
	}
	if rows != expectRows {
		os.Remove(partialPath)
		return Result{}, errors.New(errors.CodeCombineFailed, "row count mismatch after combine").
			WithContext("expected", expectRows).
			WithContext("actual", rows)
	}

	if err := os.Rename(partialPath, finalPath); err != nil {
		os.Remove(partialPath)
		return Result{}, errors.Wrap(err, errors.CodeCombineFailed, "finalizing combined artifact")
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return Result{}, errors.Wrap(err, errors.CodeCombineFailed, "stating combined artifact")
	}

	// The final artifact is durable; a failed intermediate delete is not
	// worth failing the layer over.
	for _, art := range ordered {
		os.Remove(art.Path)
	}

	return Result{
		Path:     finalPath,
		Rows:     rows,
		Bytes:    info.Size(),
		Inputs:   len(ordered),
		Duration: time.Since(start),
	}, nil
}

func (c *DuckDBCombiner) rowCount(ctx context.Context, path string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM read_parquet('%s')", escapePath(path))
	if err := c.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, errors.Wrap(err, errors.CodeCombineFailed, "counting combined rows")
	}
	return count, nil
}

// orderArtifacts validates the input set and returns it sorted by sequence
// number along with the expected total row count. Duplicate or missing
// sequence numbers indicate a bookkeeping bug upstream and fail the combine.
func orderArtifacts(artifacts []writer.Artifact) ([]writer.Artifact, int64, error) {
	if len(artifacts) == 0 {
		return nil, 0, errors.New(errors.CodeCombineFailed, "no artifacts to combine")
	}

	ordered := make([]writer.Artifact, len(artifacts))
	copy(ordered, artifacts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	var rows int64
	for i, art := range ordered {
		if art.Seq != i {
			return nil, 0, errors.New(errors.CodeCombineFailed, "artifact sequence gap").
				WithContext("position", i).
				WithContext("sequence", art.Seq)
		}
		rows += art.Rows
	}
	return ordered, rows, nil
}

// copyQuery builds the DuckDB statement that streams the ordered inputs into
// one Parquet file. read_parquet preserves the listed file order, which is
// what carries the layer's record order into the final artifact.
func copyQuery(ordered []writer.Artifact, outputPath, compression string) string {
	inputs := make([]string, len(ordered))
	for i, art := range ordered {
		inputs[i] = fmt.Sprintf("'%s'", escapePath(art.Path))
	}
	return fmt.Sprintf(
		"COPY (SELECT * FROM read_parquet([%s])) TO '%s' (FORMAT PARQUET, COMPRESSION '%s')",
		strings.Join(inputs, ", "),
		escapePath(outputPath),
		compression,
	)
}

func escapePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
