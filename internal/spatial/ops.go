package spatial

import (
	"math"

	sf "github.com/peterstace/simplefeatures/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/geolab/internal/layer"
)

type binaryOp func(a, b sf.Geometry) (sf.Geometry, error)

func apply(name string, op binaryOp, a, b geom.T) (geom.T, error) {
	sa, sb, err := pair(a, b)
	if err != nil {
		return nil, err
	}
	out, err := op(sa, sb)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: %s", name)
	}
	return fromSF(out)
}

// Intersection returns the points shared by a and b.
func Intersection(a, b geom.T) (geom.T, error) {
	if IsEmpty(a) || IsEmpty(b) || !boundsIntersect(a, b) {
		return Empty(), nil
	}
	return apply("intersection", sf.Intersection, a, b)
}

// Union returns the points in a or b.
func Union(a, b geom.T) (geom.T, error) {
	switch {
	case IsEmpty(a) && IsEmpty(b):
		return Empty(), nil
	case IsEmpty(a):
		return layer.CloneGeom(b), nil
	case IsEmpty(b):
		return layer.CloneGeom(a), nil
	}
	return apply("union", sf.Union, a, b)
}

// Difference returns the points of a not in b.
func Difference(a, b geom.T) (geom.T, error) {
	switch {
	case IsEmpty(a):
		return Empty(), nil
	case IsEmpty(b) || !boundsIntersect(a, b):
		return layer.CloneGeom(a), nil
	}
	return apply("difference", sf.Difference, a, b)
}

// SymmetricDifference returns the points in exactly one of a and b.
func SymmetricDifference(a, b geom.T) (geom.T, error) {
	switch {
	case IsEmpty(a):
		return Union(Empty(), b)
	case IsEmpty(b):
		return layer.CloneGeom(a), nil
	}
	return apply("symmetric difference", sf.SymmetricDifference, a, b)
}

// UnionAll unions every geometry. Empty input gives an empty geometry.
func UnionAll(gs []geom.T) (geom.T, error) {
	parts := make([]sf.Geometry, 0, len(gs))
	for i, g := range gs {
		if IsEmpty(g) {
			continue
		}
		s, err := toSF(g)
		if err != nil {
			return nil, eris.Wrapf(err, "spatial: union input %d", i)
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return Empty(), nil
	}
	out, err := unionTree(parts)
	if err != nil {
		return nil, err
	}
	return fromSF(out)
}

// unionTree unions pairwise, halving the input each round.
func unionTree(parts []sf.Geometry) (sf.Geometry, error) {
	for len(parts) > 1 {
		next := make([]sf.Geometry, 0, (len(parts)+1)/2)
		for i := 0; i < len(parts); i += 2 {
			if i+1 == len(parts) {
				next = append(next, parts[i])
				continue
			}
			u, err := sf.Union(parts[i], parts[i+1])
			if err != nil {
				return sf.Geometry{}, eris.Wrap(err, "spatial: union")
			}
			next = append(next, u)
		}
		parts = next
	}
	return parts[0], nil
}

// Area returns the planar area of the polygonal parts of g, independent of
// ring orientation.
func Area(g geom.T) float64 {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonArea(t)
	case *geom.MultiPolygon:
		var a float64
		for i := 0; i < t.NumPolygons(); i++ {
			a += polygonArea(t.Polygon(i))
		}
		return a
	case *geom.GeometryCollection:
		var a float64
		for _, sub := range t.Geoms() {
			a += Area(sub)
		}
		return a
	default:
		return 0
	}
}

func polygonArea(p *geom.Polygon) float64 {
	var a float64
	for i := 0; i < p.NumLinearRings(); i++ {
		lr := p.LinearRing(i)
		ring := math.Abs(xy.SignedArea(lr.Layout(), lr.FlatCoords()))
		if i == 0 {
			a += ring
		} else {
			a -= ring
		}
	}
	return a
}

// Length returns the length of linear parts and the perimeter of polygonal
// parts of g.
func Length(g geom.T) float64 {
	switch t := g.(type) {
	case *geom.LineString:
		return t.Length()
	case *geom.MultiLineString:
		return t.Length()
	case *geom.LinearRing:
		return t.Length()
	case *geom.Polygon:
		return t.Length()
	case *geom.MultiPolygon:
		return t.Length()
	case *geom.GeometryCollection:
		var l float64
		for _, sub := range t.Geoms() {
			l += Length(sub)
		}
		return l
	default:
		return 0
	}
}

// Centroid returns the centroid of g as a point.
func Centroid(g geom.T) (*geom.Point, error) {
	c, err := layer.Centroid(g)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: centroid")
	}
	return geom.NewPointFlat(geom.XY, []float64{c.X(), c.Y()}), nil
}

// Envelope returns the bounding rectangle of g as a counter-clockwise
// polygon. A point envelope is the point itself.
func Envelope(g geom.T) (geom.T, error) {
	if IsEmpty(g) {
		return nil, eris.New("spatial: envelope of empty geometry")
	}
	b := g.Bounds()
	x1, y1, x2, y2 := b.Min(0), b.Min(1), b.Max(0), b.Max(1)
	if x1 == x2 && y1 == y2 {
		return geom.NewPointFlat(geom.XY, []float64{x1, y1}), nil
	}
	return geom.NewPolygonFlat(geom.XY, []float64{x1, y1, x2, y1, x2, y2, x1, y2, x1, y1}, []int{10}), nil
}

// ConvexHull returns the smallest convex geometry containing g: a polygon,
// or a line or point for degenerate input.
func ConvexHull(g geom.T) (geom.T, error) {
	if IsEmpty(g) {
		return nil, eris.New("spatial: convex hull of empty geometry")
	}
	return xy.ConvexHullFlat(geom.XY, coordsOf(g)), nil
}

// coordsOf returns a fresh XY copy of every coordinate in g.
func coordsOf(g geom.T) []float64 {
	var flat []float64
	var walk func(geom.T)
	walk = func(t geom.T) {
		if gc, ok := t.(*geom.GeometryCollection); ok {
			for _, s := range gc.Geoms() {
				walk(s)
			}
			return
		}
		if t == nil || t.Empty() {
			return
		}
		flat = append(flat, xyOnly(t.FlatCoords(), t.Stride())...)
	}
	walk(g)
	return flat
}

func xyOnly(flat []float64, stride int) []float64 {
	if stride == 2 {
		return flat
	}
	out := make([]float64, 0, len(flat)/stride*2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

// Polygonal extracts the polygonal parts of g as a Polygon or MultiPolygon.
// Returns an empty geometry when g has none.
func Polygonal(g geom.T) geom.T {
	var polys []*geom.Polygon
	var walk func(geom.T)
	walk = func(t geom.T) {
		switch v := t.(type) {
		case *geom.Polygon:
			if !v.Empty() {
				polys = append(polys, v)
			}
		case *geom.MultiPolygon:
			for i := 0; i < v.NumPolygons(); i++ {
				if p := v.Polygon(i); !p.Empty() {
					polys = append(polys, p)
				}
			}
		case *geom.GeometryCollection:
			for _, s := range v.Geoms() {
				walk(s)
			}
		}
	}
	walk(g)
	switch len(polys) {
	case 0:
		return Empty()
	case 1:
		return polys[0]
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range polys {
		if p.Layout() != geom.XY {
			p = geom.NewPolygonFlat(geom.XY, xyOnly(p.FlatCoords(), p.Stride()), scaleEnds(p.Ends(), p.Stride()))
		}
		_ = mp.Push(p)
	}
	return mp
}

func scaleEnds(ends []int, stride int) []int {
	out := make([]int, len(ends))
	for i, e := range ends {
		out[i] = e / stride * 2
	}
	return out
}
