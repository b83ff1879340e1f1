package vector

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
)

// featureCollection is a GeoJSON FeatureCollection with the members that
// geojson.FeatureCollection does not model: the layer name and the legacy
// (2008) "crs" member.
type featureCollection struct {
	Type     string             `json:"type"`
	Name     string             `json:"name,omitempty"`
	CRS      *geojson.CRS       `json:"crs,omitempty"`
	Features []*geojson.Feature `json:"features"`
}

// ReadGeoJSON reads a FeatureCollection file. Without a "crs" member the
// layer is in WGS 84.
func ReadGeoJSON(path string) (*layer.Layer, error) {
	return readGeoJSON(path, crs.WGS84)
}

func readGeoJSON(path string, fallback crs.CRS) (*layer.Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open geojson %s", path)
	}
	defer func() { _ = f.Close() }()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	l, err := DecodeGeoJSON(f, name, fallback)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: %s", path)
	}
	return l, nil
}

// DecodeGeoJSON decodes a FeatureCollection. A "name" member overrides
// fallbackName; a "crs" member overrides fallbackCRS.
func DecodeGeoJSON(r io.Reader, fallbackName string, fallbackCRS crs.CRS) (*layer.Layer, error) {
	var fc featureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "vector: decode geojson")
	}
	if fc.Type != "FeatureCollection" {
		return nil, eris.Errorf("vector: geojson type %q, want FeatureCollection", fc.Type)
	}

	name := fallbackName
	if fc.Name != "" {
		name = fc.Name
	}
	c, err := collectionCRS(fc.CRS, fallbackCRS)
	if err != nil {
		return nil, err
	}

	l := layer.New(name, c, inferFields(fc.Features)...)
	types := make(map[string]layer.FieldType, len(l.Fields))
	for _, fd := range l.Fields {
		types[fd.Name] = fd.Type
	}

	for i, gf := range fc.Features {
		if gf.Geometry == nil {
			zap.L().Debug("vector: feature without geometry", zap.String("layer", name), zap.Int("index", i))
		}
		props := make(map[string]any, len(gf.Properties))
		for k, v := range gf.Properties {
			props[k] = normaliseJSON(v, types[k])
		}
		l.Append(&layer.Feature{ID: gf.ID, Props: props, Geom: gf.Geometry})
	}
	return l, nil
}

func collectionCRS(member *geojson.CRS, fallback crs.CRS) (crs.CRS, error) {
	if member == nil {
		return fallback, nil
	}
	name, _ := member.Properties["name"].(string)
	if member.Type != "name" || name == "" {
		return crs.CRS{}, eris.Errorf("vector: unsupported geojson crs member type %q", member.Type)
	}
	c, err := crs.ParseURN(name)
	if err != nil {
		return crs.CRS{}, eris.Wrap(err, "vector: geojson crs member")
	}
	return c, nil
}

// inferFields derives a schema from property values. Columns are sorted by
// name; a column whose numbers are all integral is Int.
func inferFields(features []*geojson.Feature) []layer.Field {
	seen := map[string]layer.FieldType{}
	for _, f := range features {
		for k, v := range f.Properties {
			t, ok := jsonType(v)
			if !ok {
				if _, known := seen[k]; !known {
					seen[k] = ""
				}
				continue
			}
			prev, known := seen[k]
			switch {
			case !known || prev == "":
				seen[k] = t
			case prev == layer.Int && t == layer.Float:
				seen[k] = layer.Float
			case prev == layer.Float && t == layer.Int:
			case prev != t:
				seen[k] = layer.String
			}
		}
	}

	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	slices.Sort(names)

	fields := make([]layer.Field, len(names))
	for i, n := range names {
		t := seen[n]
		if t == "" {
			t = layer.String
		}
		fields[i] = layer.Field{Name: n, Type: t}
	}
	return fields
}

func jsonType(v any) (layer.FieldType, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case bool:
		return layer.Bool, true
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return layer.Int, true
		}
		return layer.Float, true
	case string:
		return layer.String, true
	default:
		return layer.String, true
	}
}

// normaliseJSON converts decoded JSON values to the column's Go type.
func normaliseJSON(v any, t layer.FieldType) any {
	switch x := v.(type) {
	case float64:
		if t == layer.Int {
			return int64(x)
		}
		return x
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return nil
		}
		return string(data)
	default:
		return v
	}
}

// WriteGeoJSON writes l as a FeatureCollection with "name" and, for a known
// EPSG code, a legacy "crs" member.
func WriteGeoJSON(path string, l *layer.Layer) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "vector: create %s", path)
	}
	if err := EncodeGeoJSON(f, l); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "vector: %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "vector: close %s", path)
	}
	return nil
}

// EncodeGeoJSON writes l as a FeatureCollection to w. Geometry-typed columns
// are encoded as GeoJSON geometry objects.
func EncodeGeoJSON(w io.Writer, l *layer.Layer) error {
	fc := featureCollection{
		Type:     "FeatureCollection",
		Name:     l.Name,
		Features: make([]*geojson.Feature, 0, len(l.Features)),
	}
	if urn := l.CRS.URN(); urn != "" && !l.CRS.Equal(crs.WGS84) {
		fc.CRS = &geojson.CRS{Type: "name", Properties: map[string]any{"name": urn}}
	}

	geomCols := map[string]bool{}
	for _, fd := range l.Fields {
		if fd.Type == layer.Geometry {
			geomCols[fd.Name] = true
		}
	}

	for i, f := range l.Features {
		props := make(map[string]any, len(f.Props))
		for k, v := range f.Props {
			if geomCols[k] && v != nil {
				g, err := encodeGeomProp(v)
				if err != nil {
					return eris.Wrapf(err, "vector: %s feature %d column %s", l.Name, i, k)
				}
				props[k] = g
				continue
			}
			props[k] = v
		}
		fc.Features = append(fc.Features, &geojson.Feature{ID: f.ID, Geometry: f.Geom, Properties: props})
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(&fc); err != nil {
		return eris.Wrap(err, "vector: encode geojson")
	}
	return nil
}

func encodeGeomProp(v any) (*geojson.Geometry, error) {
	g, ok := v.(geom.T)
	if !ok {
		return nil, eris.Errorf("vector: %T is not a geometry", v)
	}
	out, err := geojson.Encode(g)
	if err != nil {
		return nil, eris.Wrap(err, "vector: encode geometry column")
	}
	return out, nil
}
