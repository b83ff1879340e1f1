package spatial

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/layer"
)

// DefaultQuadSegs is the number of segments per quarter circle.
const DefaultQuadSegs = 16

// Buffer returns the region within distance d of g. Points become regular
// polygons of 4*quadSegs vertices; lines and polygon boundaries are swept by
// segment capsules. A negative d erodes polygons and empties points and
// lines. d == 0 returns a copy.
func Buffer(g geom.T, d float64, quadSegs int) (geom.T, error) {
	if IsEmpty(g) {
		return Empty(), nil
	}
	if d == 0 {
		return layer.CloneGeom(g), nil
	}
	if quadSegs <= 0 {
		quadSegs = DefaultQuadSegs
	}
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return nil, eris.Errorf("spatial: invalid buffer distance %v", d)
	}

	if d < 0 {
		return erode(g, -d, quadSegs)
	}

	var pieces []geom.T
	collectBuffer(g, d, quadSegs, &pieces)
	if len(pieces) == 1 {
		return pieces[0], nil
	}
	out, err := UnionAll(pieces)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: buffer")
	}
	return out, nil
}

func collectBuffer(g geom.T, d float64, quadSegs int, pieces *[]geom.T) {
	switch t := g.(type) {
	case *geom.Point:
		if !t.Empty() {
			*pieces = append(*pieces, disc(t.X(), t.Y(), d, quadSegs))
		}
	case *geom.MultiPoint:
		for i := 0; i < t.NumPoints(); i++ {
			collectBuffer(t.Point(i), d, quadSegs, pieces)
		}
	case *geom.LineString:
		*pieces = append(*pieces, sweep(t.FlatCoords(), t.Stride(), d, quadSegs)...)
	case *geom.LinearRing:
		*pieces = append(*pieces, sweep(t.FlatCoords(), t.Stride(), d, quadSegs)...)
	case *geom.MultiLineString:
		for i := 0; i < t.NumLineStrings(); i++ {
			collectBuffer(t.LineString(i), d, quadSegs, pieces)
		}
	case *geom.Polygon:
		*pieces = append(*pieces, t)
		for i := 0; i < t.NumLinearRings(); i++ {
			lr := t.LinearRing(i)
			*pieces = append(*pieces, sweep(lr.FlatCoords(), lr.Stride(), d, quadSegs)...)
		}
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			collectBuffer(t.Polygon(i), d, quadSegs, pieces)
		}
	case *geom.GeometryCollection:
		for _, sub := range t.Geoms() {
			collectBuffer(sub, d, quadSegs, pieces)
		}
	default:
		zap.L().Debug("spatial: buffer skipping unsupported geometry", zap.String("type", fmt.Sprintf("%T", g)))
	}
}

// erode shrinks the polygonal parts of g by d.
func erode(g geom.T, d float64, quadSegs int) (geom.T, error) {
	poly := Polygonal(g)
	if IsEmpty(poly) {
		return Empty(), nil
	}
	var band []geom.T
	var walk func(*geom.Polygon)
	walk = func(p *geom.Polygon) {
		for i := 0; i < p.NumLinearRings(); i++ {
			lr := p.LinearRing(i)
			band = append(band, sweep(lr.FlatCoords(), lr.Stride(), d, quadSegs)...)
		}
	}
	switch t := poly.(type) {
	case *geom.Polygon:
		walk(t)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			walk(t.Polygon(i))
		}
	}
	boundary, err := UnionAll(band)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: erode")
	}
	out, err := Difference(poly, boundary)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: erode")
	}
	return Polygonal(out), nil
}

// disc approximates a circle of radius r around (x, y), counter-clockwise.
func disc(x, y, r float64, quadSegs int) *geom.Polygon {
	n := 4 * quadSegs
	flat := make([]float64, 0, 2*(n+1))
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		flat = append(flat, x+r*math.Cos(a), y+r*math.Sin(a))
	}
	flat = append(flat, flat[0], flat[1])
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
}

// sweep returns one capsule per segment of a coordinate run.
func sweep(flat []float64, stride int, r float64, quadSegs int) []geom.T {
	coords := xyOnly(flat, stride)
	n := len(coords) / 2
	if n == 1 {
		return []geom.T{disc(coords[0], coords[1], r, quadSegs)}
	}
	out := make([]geom.T, 0, n-1)
	for i := 0; i+1 < n; i++ {
		ax, ay := coords[2*i], coords[2*i+1]
		bx, by := coords[2*i+2], coords[2*i+3]
		if ax == bx && ay == by {
			continue
		}
		out = append(out, capsule(ax, ay, bx, by, r, quadSegs))
	}
	if len(out) == 0 {
		out = append(out, disc(coords[0], coords[1], r, quadSegs))
	}
	return out
}

// capsule is the region within r of segment a-b: a half-disc around each end
// joined by the two tangent edges, counter-clockwise. Every vertex lies on a
// circle of radius r.
func capsule(ax, ay, bx, by, r float64, quadSegs int) *geom.Polygon {
	theta := math.Atan2(by-ay, bx-ax)
	steps := 2 * quadSegs
	step := math.Pi / float64(steps)
	flat := make([]float64, 0, 4*(steps+1)+2)
	arc := func(cx, cy, start float64) {
		for k := 0; k <= steps; k++ {
			a := start + float64(k)*step
			flat = append(flat, cx+r*math.Cos(a), cy+r*math.Sin(a))
		}
	}
	arc(bx, by, theta-math.Pi/2)
	arc(ax, ay, theta+math.Pi/2)
	flat = append(flat, flat[0], flat[1])
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
}

// BufferLayer returns a polygon layer with every feature buffered by d and
// its attributes kept.
func BufferLayer(l *layer.Layer, d float64, quadSegs int) (*layer.Layer, error) {
	out := l.Empty()
	out.Name = l.Name + "_buffer"
	for i, f := range l.Features {
		g, err := Buffer(f.Geom, d, quadSegs)
		if err != nil {
			return nil, eris.Wrapf(err, "spatial: buffer %s feature %d", l.Name, i)
		}
		nf := f.Clone()
		nf.Geom = g
		out.Features = append(out.Features, nf)
	}
	zap.L().Debug("spatial: buffered layer",
		zap.String("layer", l.Name),
		zap.Float64("distance", d),
		zap.Int("features", out.Len()),
	)
	return out, nil
}

// AddBufferColumn stores the buffer of every feature in a geometry column,
// leaving the feature geometries untouched.
func AddBufferColumn(l *layer.Layer, column string, d float64, quadSegs int) error {
	bufs := make(map[*layer.Feature]geom.T, len(l.Features))
	for i, f := range l.Features {
		g, err := Buffer(f.Geom, d, quadSegs)
		if err != nil {
			return eris.Wrapf(err, "spatial: buffer %s feature %d", l.Name, i)
		}
		bufs[f] = g
	}
	l.AddColumn(column, layer.Geometry, func(f *layer.Feature) any { return bufs[f] })
	return nil
}
