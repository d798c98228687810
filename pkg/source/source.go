// Package source provides access to source datasets: layer discovery and
// bounded batch reads with resume offsets.
package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/geoflow/geoflow/internal/model"
	gferrors "github.com/geoflow/geoflow/pkg/errors"
	"github.com/geoflow/geoflow/pkg/util"
)

// ErrEndOfLayer signals that a layer has no records at or past the requested
// offset.
var ErrEndOfLayer = errors.New("source: end of layer")

// Reader is the source-dataset collaborator. Implementations own the decoding
// of the container format; the engine only sees layers and raw batches.
//
// ReadBatch returns up to maxCount records starting at offset, plus the
// offset to resume from. It must never buffer more than one batch. A record
// the source cannot decode becomes a tombstone entry rather than an error,
// so one corrupt record never aborts its batch. ErrEndOfLayer is returned
// once no records remain.
type Reader interface {
	// Layers lists the dataset's layers, discovered once at open time.
	Layers() []model.LayerDescriptor

	// ReadBatch reads up to maxCount raw records from the named layer,
	// starting at offset.
	ReadBatch(ctx context.Context, layer string, offset int64, maxCount int) (*model.Batch, int64, error)

	Close() error
}

// Open opens a source dataset. Supported inputs: a single GeoJSON sequence
// file (one feature per line), or a directory of such files where each file
// is one layer.
func Open(path string) (Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gferrors.SourceNotFound(path)
		}
		return nil, gferrors.Wrap(err, gferrors.CodeSourceRead, "cannot stat source")
	}

	if info.IsDir() {
		return openDir(path)
	}
	if isSequenceFile(path) {
		return openSequenceFile(path)
	}
	return nil, gferrors.New(gferrors.CodeInvalidOptions, "unsupported source format").
		WithContext("path", path)
}

// Discover finds convertible datasets under dir: GeoJSON sequence files and
// directories containing at least one.
func Discover(dir string) ([]string, error) {
	seen := make(map[string]bool)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !isSequenceFile(path) {
			return nil
		}
		parent := filepath.Dir(path)
		if parent != dir && !seen[parent] {
			// A directory of sequence files is one multi-layer dataset.
			seen[parent] = true
		} else if parent == dir {
			seen[path] = true
		}
		return nil
	})
	if err != nil {
		return nil, gferrors.Wrap(err, gferrors.CodeSourceRead, "source discovery failed")
	}

	found := make([]string, 0, len(seen))
	for p := range seen {
		found = append(found, p)
	}
	sort.Strings(found)
	return found, nil
}

// isSequenceFile accepts plain and gzip-compressed sequence files.
func isSequenceFile(path string) bool {
	switch util.BaseFormat(path) {
	case ".geojsonl", ".ndjson", ".geojsons":
		return true
	default:
		return false
	}
}
