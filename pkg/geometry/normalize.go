// Package geometry converts heterogeneous raw geometry representations into
// one canonical serialized form.
package geometry

import (
	"bytes"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	gferrors "github.com/geoflow/geoflow/pkg/errors"
)

// Normalizer serializes raw geometry values to canonical little-endian WKB.
// Sources emit geometry as GeoJSON objects, WKB, or WKT; output is always
// one encoding so round trips are byte-identical.
type Normalizer struct {
	validate bool
}

// NewNormalizer creates a normalizer. With validate set, degenerate
// geometries are repaired (unclosed rings closed, duplicate consecutive
// points dropped, zero-area rings removed) before serialization.
func NewNormalizer(validate bool) *Normalizer {
	return &Normalizer{validate: validate}
}

// Normalize converts one raw geometry value to canonical WKB. A nil or empty
// input yields (nil, nil): an explicit geometry null. An unparsable or
// irreparable input yields (nil, err) with a data-class error; the caller
// nulls the geometry and keeps the record.
//
// Output is deterministic: the same raw input always produces byte-identical
// WKB.
func (n *Normalizer) Normalize(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	geom, err := n.parse(raw)
	if err != nil {
		return nil, gferrors.Wrap(err, gferrors.CodeGeometryInvalid, "unparsable geometry")
	}
	if geom == nil {
		return nil, nil
	}

	if n.validate {
		geom = repair(geom)
		if geom == nil {
			return nil, gferrors.New(gferrors.CodeGeometryInvalid, "geometry degenerate after repair")
		}
	}

	out, err := wkb.Marshal(geom, wkb.DefaultByteOrder)
	if err != nil {
		return nil, gferrors.Wrap(err, gferrors.CodeGeometryInvalid, "geometry serialization failed")
	}
	return out, nil
}

// parse sniffs the input encoding. GeoJSON objects start with '{', WKB with
// a byte-order marker, anything else is tried as WKT.
func (n *Normalizer) parse(raw []byte) (orb.Geometry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch {
	case trimmed[0] == '{':
		g, err := geojson.UnmarshalGeometry(trimmed)
		if err != nil {
			return nil, err
		}
		return g.Geometry(), nil

	case trimmed[0] == 0x00 || trimmed[0] == 0x01:
		return wkb.Unmarshal(trimmed)

	default:
		return wkt.Unmarshal(strings.TrimSpace(string(trimmed)))
	}
}

// repair applies conservative fixes and returns nil when nothing usable
// remains.
func repair(geom orb.Geometry) orb.Geometry {
	switch g := geom.(type) {
	case orb.Point:
		return g

	case orb.MultiPoint:
		if len(g) == 0 {
			return nil
		}
		return g

	case orb.LineString:
		ls := dedupe(g)
		if len(ls) < 2 {
			return nil
		}
		return ls

	case orb.MultiLineString:
		out := make(orb.MultiLineString, 0, len(g))
		for _, ls := range g {
			if fixed := dedupe(ls); len(fixed) >= 2 {
				out = append(out, fixed)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out

	case orb.Polygon:
		if fixed := repairPolygon(g); fixed != nil {
			return fixed
		}
		return nil

	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(g))
		for _, p := range g {
			if fixed := repairPolygon(p); fixed != nil {
				out = append(out, fixed)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out

	case orb.Collection:
		out := make(orb.Collection, 0, len(g))
		for _, member := range g {
			if fixed := repair(member); fixed != nil {
				out = append(out, fixed)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out

	default:
		return geom
	}
}

// repairPolygon closes unclosed rings, drops duplicate consecutive points,
// and removes zero-area rings. A polygon whose outer ring collapses is
// degenerate.
func repairPolygon(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, len(p))
	for i, ring := range p {
		fixed := repairRing(ring)
		if fixed == nil {
			if i == 0 {
				return nil
			}
			continue // interior ring collapsed, drop it
		}
		out = append(out, fixed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func repairRing(r orb.Ring) orb.Ring {
	ls := dedupe(orb.LineString(r))
	ring := orb.Ring(ls)

	if len(ring) >= 3 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	if len(ring) < 4 {
		return nil
	}
	if area(ring) == 0 {
		return nil
	}
	return ring
}

// dedupe removes consecutive duplicate points.
func dedupe(ls orb.LineString) orb.LineString {
	if len(ls) == 0 {
		return ls
	}
	out := orb.LineString{ls[0]}
	for _, pt := range ls[1:] {
		if pt != out[len(out)-1] {
			out = append(out, pt)
		}
	}
	return out
}

// area computes twice the signed shoelace area; only its zero-ness matters.
func area(r orb.Ring) float64 {
	var sum float64
	for i := 0; i < len(r)-1; i++ {
		sum += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return sum
}
