// Package spatial evaluates spatial relations and runs geometric operations
// on go-geom geometries. Overlay and DE-9IM work is delegated to
// simplefeatures; geometries cross the boundary as WKB.
package spatial

import (
	sf "github.com/peterstace/simplefeatures/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// Empty is the canonical empty result of an operation.
func Empty() geom.T { return geom.NewGeometryCollection() }

// IsEmpty reports whether g is nil or has no coordinates.
func IsEmpty(g geom.T) bool {
	if g == nil {
		return true
	}
	if gc, ok := g.(*geom.GeometryCollection); ok {
		for _, sub := range gc.Geoms() {
			if !IsEmpty(sub) {
				return false
			}
		}
		return true
	}
	return g.Empty()
}

func toSF(g geom.T) (sf.Geometry, error) {
	if IsEmpty(g) {
		return sf.Geometry{}, nil
	}
	data, err := wkb.Marshal(stripSRID(g), wkb.NDR)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "spatial: encode WKB")
	}
	out, err := sf.UnmarshalWKB(data)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "spatial: invalid geometry")
	}
	return out, nil
}

func fromSF(g sf.Geometry) (geom.T, error) {
	if g.IsEmpty() {
		return Empty(), nil
	}
	out, err := wkb.Unmarshal(g.AsBinary())
	if err != nil {
		return nil, eris.Wrap(err, "spatial: decode WKB")
	}
	return out, nil
}

func pair(a, b geom.T) (sf.Geometry, sf.Geometry, error) {
	sa, err := toSF(a)
	if err != nil {
		return sf.Geometry{}, sf.Geometry{}, err
	}
	sb, err := toSF(b)
	if err != nil {
		return sf.Geometry{}, sf.Geometry{}, err
	}
	return sa, sb, nil
}

// stripSRID drops the SRID so plain WKB is produced.
func stripSRID(g geom.T) geom.T {
	if g.SRID() == 0 {
		return g
	}
	switch t := g.(type) {
	case *geom.Point:
		return t.Clone().SetSRID(0)
	case *geom.MultiPoint:
		return t.Clone().SetSRID(0)
	case *geom.LineString:
		return t.Clone().SetSRID(0)
	case *geom.MultiLineString:
		return t.Clone().SetSRID(0)
	case *geom.Polygon:
		return t.Clone().SetSRID(0)
	case *geom.MultiPolygon:
		return t.Clone().SetSRID(0)
	default:
		return g
	}
}
