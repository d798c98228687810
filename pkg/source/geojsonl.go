package source

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/geoflow/geoflow/internal/model"
	"github.com/geoflow/geoflow/internal/pool"
	gferrors "github.com/geoflow/geoflow/pkg/errors"
	"github.com/geoflow/geoflow/pkg/util"
)

// maxLineBytes bounds a single feature line. Lines past this are corrupt by
// definition and tombstoned.
const maxLineBytes = 16 * 1024 * 1024

// sequenceReader reads GeoJSON feature-sequence layers. One file is one
// layer; a cursor per layer tracks the underlying scanner so sequential
// ReadBatch calls never re-scan the file.
type sequenceReader struct {
	layers []model.LayerDescriptor
	paths  map[string]string

	buffers *pool.BufferPool
	batches *pool.BatchPool

	mu      sync.Mutex
	cursors map[string]*cursor
}

type cursor struct {
	rc      io.ReadCloser
	scanner *lineScanner
	buf     *pool.ByteBuffer
	offset  int64

	// prev is the last batch handed out from this cursor. It is recycled
	// on the next ReadBatch, by which point the caller has consumed it.
	prev *model.Batch
}

func openSequenceFile(path string) (Reader, error) {
	name := layerName(path)
	desc, err := describeLayer(name, path)
	if err != nil {
		return nil, err
	}
	return &sequenceReader{
		layers:  []model.LayerDescriptor{desc},
		paths:   map[string]string{name: path},
		buffers: pool.NewBufferPool(pool.DefaultBufferSize),
		batches: pool.NewBatchPool(pool.DefaultBatchRecords),
		cursors: make(map[string]*cursor),
	}, nil
}

func openDir(dir string) (Reader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, gferrors.Wrap(err, gferrors.CodeSourceRead, "cannot read source directory")
	}

	r := &sequenceReader{
		paths:   make(map[string]string),
		buffers: pool.NewBufferPool(pool.DefaultBufferSize),
		batches: pool.NewBatchPool(pool.DefaultBatchRecords),
		cursors: make(map[string]*cursor),
	}
	for _, entry := range entries {
		if entry.IsDir() || !isSequenceFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		name := layerName(path)
		desc, err := describeLayer(name, path)
		if err != nil {
			return nil, err
		}
		r.layers = append(r.layers, desc)
		r.paths[name] = path
	}

	if len(r.layers) == 0 {
		return nil, gferrors.New(gferrors.CodeInvalidOptions, "directory contains no layers").
			WithContext("path", dir)
	}
	sort.Slice(r.layers, func(i, j int) bool { return r.layers[i].Name < r.layers[j].Name })
	return r, nil
}

func layerName(path string) string {
	base := filepath.Base(util.StripCompression(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// describeLayer scans a layer once to count records and derive the declared
// schema from the first decodable feature. The declared schema is advisory -
// the reconciler unions what the batches actually carry.
func describeLayer(name, path string) (model.LayerDescriptor, error) {
	f, err := util.OpenMaybeCompressed(path)
	if err != nil {
		return model.LayerDescriptor{}, gferrors.Wrap(err, gferrors.CodeSourceRead, "cannot open layer").
			WithContext("layer", name)
	}
	defer f.Close()

	desc := model.LayerDescriptor{Name: name}

	scanner := newLineScanner(f, make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if scanner.TooLong() {
			// Corrupt by definition; ReadBatch tombstones it.
			desc.RecordCount++
			continue
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		desc.RecordCount++

		if desc.Fields == nil {
			if feat, err := geojson.UnmarshalFeature(line); err == nil {
				desc.Fields = declaredFields(feat)
				if feat.Geometry != nil {
					desc.GeometryType = feat.Geometry.GeoJSONType()
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return model.LayerDescriptor{}, gferrors.Wrap(err, gferrors.CodeSourceRead, "layer scan failed").
			WithContext("layer", name)
	}
	return desc, nil
}

func declaredFields(feat *geojson.Feature) []model.FieldDecl {
	names := make([]string, 0, len(feat.Properties))
	for k := range feat.Properties {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]model.FieldDecl, 0, len(names))
	for _, k := range names {
		fields = append(fields, model.FieldDecl{
			Name: k,
			Type: declaredType(feat.Properties[k]),
		})
	}
	return fields
}

func declaredType(v interface{}) string {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) {
			return "Integer"
		}
		return "Real"
	case string:
		return "String"
	default:
		return "String"
	}
}

// Layers implements Reader.
func (r *sequenceReader) Layers() []model.LayerDescriptor {
	return r.layers
}

// ReadBatch implements Reader. Offsets are record indexes; a non-sequential
// offset rewinds the cursor and skips forward, so resumption after a retry
// works without the reader buffering anything beyond the current batch.
func (r *sequenceReader) ReadBatch(ctx context.Context, layer string, offset int64, maxCount int) (*model.Batch, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, offset, err
	}
	path, ok := r.paths[layer]
	if !ok {
		return nil, offset, gferrors.New(gferrors.CodeSourceRead, "unknown layer").
			WithContext("layer", layer)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.cursorAt(layer, path, offset)
	if err != nil {
		return nil, offset, err
	}

	r.batches.Put(cur.prev)
	cur.prev = nil

	batch := r.batches.Get()
	batch.Offset = offset
	for batch.Len() < maxCount {
		if !cur.scanner.Scan() {
			if err := cur.scanner.Err(); err != nil {
				r.batches.Put(batch)
				return nil, cur.offset, gferrors.Wrap(err, gferrors.CodeSourceRead, "batch read failed").
					WithContext("layer", layer).
					WithContext("offset", cur.offset)
			}
			break // end of file
		}
		if cur.scanner.TooLong() {
			cur.offset++
			pool.AppendRecord(batch).Tombstone = true
			continue
		}
		line := bytes.TrimSpace(cur.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		cur.offset++
		decodeFeature(line, pool.AppendRecord(batch))
	}

	if batch.Len() == 0 {
		r.batches.Put(batch)
		return nil, cur.offset, ErrEndOfLayer
	}
	cur.prev = batch
	return batch, cur.offset, nil
}

// cursorAt positions the layer cursor at the requested record offset.
func (r *sequenceReader) cursorAt(layer, path string, offset int64) (*cursor, error) {
	cur := r.cursors[layer]
	if cur != nil && cur.offset == offset {
		return cur, nil
	}

	if cur != nil {
		r.closeCursor(layer, cur)
	}

	f, err := util.OpenMaybeCompressed(path)
	if err != nil {
		return nil, gferrors.Wrap(err, gferrors.CodeSourceRead, "cannot open layer").
			WithContext("layer", layer)
	}

	cur = &cursor{rc: f, buf: r.buffers.Get(), offset: 0}
	cur.scanner = newLineScanner(f, cur.buf.Data, maxLineBytes)

	for cur.offset < offset && cur.scanner.Scan() {
		if cur.scanner.TooLong() || len(bytes.TrimSpace(cur.scanner.Bytes())) > 0 {
			cur.offset++
		}
	}
	if err := cur.scanner.Err(); err != nil {
		f.Close()
		return nil, gferrors.Wrap(err, gferrors.CodeSourceRead, "cannot seek layer").
			WithContext("layer", layer).
			WithContext("offset", offset)
	}

	r.cursors[layer] = cur
	return cur, nil
}

// closeCursor releases a cursor and returns its pooled resources. Caller
// holds r.mu.
func (r *sequenceReader) closeCursor(layer string, cur *cursor) error {
	err := cur.rc.Close()
	r.buffers.Put(cur.buf)
	r.batches.Put(cur.prev)
	delete(r.cursors, layer)
	return err
}

// decodeFeature fills one record slot from a feature line. Undecodable lines
// become tombstones.
func decodeFeature(line []byte, rec *model.RawRecord) {
	feat, err := geojson.UnmarshalFeature(line)
	if err != nil {
		rec.Tombstone = true
		return
	}

	if rec.Fields == nil {
		rec.Fields = make(map[string]model.Value, len(feat.Properties))
	}
	for k, v := range feat.Properties {
		rec.Fields[k] = toValue(v)
	}

	if feat.Geometry != nil {
		if raw, err := geojson.NewGeometry(feat.Geometry).MarshalJSON(); err == nil {
			rec.Geometry = append(rec.Geometry, raw...)
		}
	}
}

// toValue maps a decoded JSON property to a tagged variant. JSON numbers
// arrive as float64; integral values are narrowed back to int so the
// reconciler can keep integer columns integer.
func toValue(v interface{}) model.Value {
	switch n := v.(type) {
	case nil:
		return model.Null()
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return model.Int64(int64(n))
		}
		return model.Float64(n)
	case string:
		return model.Text(n)
	case bool:
		if n {
			return model.Text("true")
		}
		return model.Text("false")
	default:
		// Arrays and nested objects carry over as JSON text.
		if raw, err := json.Marshal(n); err == nil {
			return model.Text(string(raw))
		}
		return model.Null()
	}
}

// Close implements Reader.
func (r *sequenceReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var merr gferrors.MultiError
	for name, cur := range r.cursors {
		merr.Add(r.closeCursor(name, cur))
	}
	return merr.Combined()
}
