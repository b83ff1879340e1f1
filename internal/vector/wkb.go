package vector

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// EncodeEWKB encodes g as little-endian EWKB carrying srid. Returns nil, nil
// for a nil geometry.
func EncodeEWKB(g geom.T, srid int) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	g = withSRID(g, srid)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "vector: encode EWKB")
	}
	return data, nil
}

// EncodeWKB encodes g as little-endian ISO WKB. Returns nil, nil for a nil
// geometry.
func EncodeWKB(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "vector: encode WKB")
	}
	return data, nil
}

// DecodeWKB decodes WKB or EWKB. Empty input decodes to a nil geometry.
func DecodeWKB(data []byte) (geom.T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		g, err = wkb.Unmarshal(data)
		if err != nil {
			return nil, eris.Wrap(err, "vector: decode WKB")
		}
	}
	return g, nil
}

// withSRID returns a copy of g carrying srid.
func withSRID(g geom.T, srid int) geom.T {
	switch t := g.(type) {
	case *geom.Point:
		return t.Clone().SetSRID(srid)
	case *geom.MultiPoint:
		return t.Clone().SetSRID(srid)
	case *geom.LineString:
		return t.Clone().SetSRID(srid)
	case *geom.MultiLineString:
		return t.Clone().SetSRID(srid)
	case *geom.Polygon:
		return t.Clone().SetSRID(srid)
	case *geom.MultiPolygon:
		return t.Clone().SetSRID(srid)
	case *geom.GeometryCollection:
		gc := geom.NewGeometryCollection()
		gc.MustPush(t.Geoms()...)
		return gc.SetSRID(srid)
	default:
		return g
	}
}
