package layer

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// Kind is the broad class of a geometry.
type Kind string

// Geometry kinds.
const (
	KindEmpty   Kind = "empty"
	KindPoint   Kind = "point"
	KindLine    Kind = "line"
	KindPolygon Kind = "polygon"
	KindMixed   Kind = "mixed"
)

// KindOf classifies a single geometry.
func KindOf(g geom.T) Kind {
	if g == nil || g.Empty() {
		return KindEmpty
	}
	switch t := g.(type) {
	case *geom.Point, *geom.MultiPoint:
		return KindPoint
	case *geom.LineString, *geom.MultiLineString, *geom.LinearRing:
		return KindLine
	case *geom.Polygon, *geom.MultiPolygon:
		return KindPolygon
	case *geom.GeometryCollection:
		kind := KindEmpty
		for _, sub := range t.Geoms() {
			k := KindOf(sub)
			switch {
			case k == KindEmpty:
			case kind == KindEmpty:
				kind = k
			case kind != k:
				return KindMixed
			}
		}
		return kind
	default:
		return KindMixed
	}
}

// GeometryKind returns the kind shared by every non-empty feature geometry.
func (l *Layer) GeometryKind() Kind {
	kind := KindEmpty
	for _, f := range l.Features {
		k := KindOf(f.Geom)
		switch {
		case k == KindEmpty:
		case kind == KindEmpty:
			kind = k
		case kind != k:
			return KindMixed
		}
	}
	return kind
}

// CloneGeom deep-copies a geometry.
func CloneGeom(g geom.T) geom.T {
	switch t := g.(type) {
	case nil:
		return nil
	case *geom.Point:
		return t.Clone()
	case *geom.MultiPoint:
		return t.Clone()
	case *geom.LineString:
		return t.Clone()
	case *geom.LinearRing:
		return t.Clone()
	case *geom.MultiLineString:
		return t.Clone()
	case *geom.Polygon:
		return t.Clone()
	case *geom.MultiPolygon:
		return t.Clone()
	case *geom.GeometryCollection:
		gc := geom.NewGeometryCollection()
		for _, sub := range t.Geoms() {
			if err := gc.Push(CloneGeom(sub)); err != nil {
				zap.L().Debug("layer: skipping collection member", zap.Error(err))
			}
		}
		return gc
	default:
		return g
	}
}

// Centroid returns the centroid coordinate of a geometry.
func Centroid(g geom.T) (geom.Coord, error) {
	if g == nil || g.Empty() {
		return nil, eris.New("layer: centroid of empty geometry")
	}
	if gc, ok := g.(*geom.GeometryCollection); ok {
		// Unweighted mean of member centroids.
		var sx, sy float64
		var n int
		for _, sub := range gc.Geoms() {
			c, err := Centroid(sub)
			if err != nil {
				continue
			}
			sx += c.X()
			sy += c.Y()
			n++
		}
		if n == 0 {
			return nil, eris.New("layer: centroid of empty collection")
		}
		return geom.Coord{sx / float64(n), sy / float64(n)}, nil
	}
	c, err := xy.Centroid(g)
	if err != nil {
		return nil, eris.Wrap(err, "layer: centroid")
	}
	return geom.Coord{c.X(), c.Y()}, nil
}

// Centroids returns a point layer with the centroid of every feature and the
// same attributes. Features without geometry keep a nil geometry.
func (l *Layer) Centroids() (*Layer, error) {
	out := l.Empty()
	for i, f := range l.Features {
		nf := &Feature{ID: f.ID, Props: cloneProps(f.Props)}
		if f.Geom != nil && !f.Geom.Empty() {
			c, err := Centroid(f.Geom)
			if err != nil {
				return nil, eris.Wrapf(err, "layer: %s feature %d", l.Name, i)
			}
			nf.Geom = geom.NewPointFlat(geom.XY, []float64{c.X(), c.Y()})
		}
		out.Features = append(out.Features, nf)
	}
	return out, nil
}

// PointCoords returns one coordinate per feature: the point itself for
// point geometries and the centroid otherwise.
func (l *Layer) PointCoords() ([]geom.Coord, error) {
	coords := make([]geom.Coord, len(l.Features))
	for i, f := range l.Features {
		if p, ok := f.Geom.(*geom.Point); ok && !p.Empty() {
			coords[i] = geom.Coord{p.X(), p.Y()}
			continue
		}
		c, err := Centroid(f.Geom)
		if err != nil {
			return nil, eris.Wrapf(err, "layer: %s feature %d", l.Name, i)
		}
		coords[i] = c
	}
	return coords, nil
}

// ToFloat coerces numeric attribute values.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func cloneProps(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// CompareValues orders attribute values: numbers numerically, everything
// else by its text, nil last.
func CompareValues(x, y any) int {
	switch {
	case x == nil && y == nil:
		return 0
	case x == nil:
		return 1
	case y == nil:
		return -1
	}
	sx, xs := x.(string)
	sy, ys := y.(string)
	if !xs && !ys {
		nx, ok1 := ToFloat(x)
		ny, ok2 := ToFloat(y)
		if ok1 && ok2 {
			return cmp.Compare(nx, ny)
		}
	}
	if !xs {
		sx = fmt.Sprint(x)
	}
	if !ys {
		sy = fmt.Sprint(y)
	}
	return cmp.Compare(sx, sy)
}
