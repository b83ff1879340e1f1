package vector

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// shapeToGeom converts a go-shp geometry to go-geom. Returns nil for null or
// unsupported shapes.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointM:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.MultiPoint:
		if len(s.Points) == 0 {
			return nil
		}
		return geom.NewMultiPointFlat(geom.XY, flatPoints(s.Points))
	case *shp.PolyLine:
		return polyLineToGeom(s.NumParts, s.Parts, s.Points)
	case *shp.PolyLineZ:
		return polyLineToGeom(s.NumParts, s.Parts, s.Points)
	case *shp.Polygon:
		return polygonToGeom(s.NumParts, s.Parts, s.Points)
	case *shp.PolygonZ:
		return polygonToGeom(s.NumParts, s.Parts, s.Points)
	default:
		return nil
	}
}

// parts splits a shapefile point array into its parts.
func parts(numParts int32, starts []int32, points []shp.Point) [][]shp.Point {
	out := make([][]shp.Point, 0, numParts)
	for i := int32(0); i < numParts && int(i) < len(starts); i++ {
		start := starts[i]
		end := int32(len(points))
		if i+1 < numParts && int(i+1) < len(starts) {
			end = starts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			zap.L().Debug("vector: skipping malformed shape part", zap.Int32("part", i))
			continue
		}
		out = append(out, points[start:end])
	}
	return out
}

func polyLineToGeom(numParts int32, starts []int32, points []shp.Point) geom.T {
	var lines []*geom.LineString
	for i, part := range parts(numParts, starts, points) {
		if len(part) < 2 {
			zap.L().Debug("vector: skipping degenerate linestring part", zap.Int("part", i))
			continue
		}
		lines = append(lines, geom.NewLineStringFlat(geom.XY, flatPoints(part)))
	}
	switch len(lines) {
	case 0:
		return nil
	case 1:
		return lines[0]
	}
	mls := geom.NewMultiLineString(geom.XY)
	for _, ls := range lines {
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("vector: skipping malformed linestring part", zap.Error(err))
		}
	}
	return mls
}

// polygonToGeom groups shapefile rings into polygons. Shapefile shells are
// clockwise and holes counter-clockwise; a hole belongs to the first shell
// that contains its first vertex. Orphan holes become shells. Output rings
// follow RFC 7946: shells counter-clockwise, holes clockwise.
func polygonToGeom(numParts int32, starts []int32, points []shp.Point) geom.T {
	type shell struct {
		ring  []float64
		holes [][]float64
	}
	var shells []*shell
	var holes [][]float64

	for i, part := range parts(numParts, starts, points) {
		if len(part) < 4 {
			zap.L().Debug("vector: skipping degenerate polygon ring", zap.Int("part", i))
			continue
		}
		ring := closeRing(flatPoints(part))
		if xy.IsRingCounterClockwise(geom.XY, ring) {
			holes = append(holes, ring)
		} else {
			shells = append(shells, &shell{ring: reverseRing(ring)})
		}
	}

	for _, h := range holes {
		first := geom.Coord{h[0], h[1]}
		placed := false
		for _, s := range shells {
			if xy.IsPointInRing(geom.XY, first, s.ring) {
				s.holes = append(s.holes, reverseRing(h))
				placed = true
				break
			}
		}
		if !placed {
			shells = append(shells, &shell{ring: h})
		}
	}

	polys := make([]*geom.Polygon, 0, len(shells))
	for _, s := range shells {
		flat := append([]float64(nil), s.ring...)
		ends := []int{len(flat)}
		for _, h := range s.holes {
			flat = append(flat, h...)
			ends = append(ends, len(flat))
		}
		polys = append(polys, geom.NewPolygonFlat(geom.XY, flat, ends))
	}

	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0]
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for i, p := range polys {
		if err := mp.Push(p); err != nil {
			zap.L().Debug("vector: skipping malformed polygon part", zap.Int("part", i), zap.Error(err))
		}
	}
	return mp
}

// geomToShape converts go-geom to a go-shp shape of the given type. Polygon
// rings are re-oriented to the shapefile convention.
func geomToShape(g geom.T, shapeType shp.ShapeType) (shp.Shape, error) {
	if g == nil || g.Empty() {
		return &shp.Null{}, nil
	}
	switch t := g.(type) {
	case *geom.Point:
		if shapeType != shp.POINT {
			break
		}
		return &shp.Point{X: t.X(), Y: t.Y()}, nil
	case *geom.MultiPoint:
		if shapeType != shp.MULTIPOINT {
			break
		}
		pts := toShpPoints(t.FlatCoords(), t.Stride())
		return &shp.MultiPoint{Box: shp.BBoxFromPoints(pts), NumPoints: int32(len(pts)), Points: pts}, nil
	case *geom.LineString:
		if shapeType != shp.POLYLINE {
			break
		}
		return shp.NewPolyLine([][]shp.Point{toShpPoints(t.FlatCoords(), t.Stride())}), nil
	case *geom.MultiLineString:
		if shapeType != shp.POLYLINE {
			break
		}
		var ps [][]shp.Point
		for i := 0; i < t.NumLineStrings(); i++ {
			ls := t.LineString(i)
			ps = append(ps, toShpPoints(ls.FlatCoords(), ls.Stride()))
		}
		return shp.NewPolyLine(ps), nil
	case *geom.Polygon:
		if shapeType != shp.POLYGON {
			break
		}
		return polygonShape(polygonRings(t)), nil
	case *geom.MultiPolygon:
		if shapeType != shp.POLYGON {
			break
		}
		var rings [][]shp.Point
		for i := 0; i < t.NumPolygons(); i++ {
			rings = append(rings, polygonRings(t.Polygon(i))...)
		}
		return polygonShape(rings), nil
	}
	return nil, eris.Errorf("vector: cannot write %T as shape type %d", g, shapeType)
}

func polygonRings(p *geom.Polygon) [][]shp.Point {
	var rings [][]shp.Point
	for i := 0; i < p.NumLinearRings(); i++ {
		lr := p.LinearRing(i)
		ring := closeRing(xyOnly(lr.FlatCoords(), lr.Stride()))
		ccw := xy.IsRingCounterClockwise(geom.XY, ring)
		// Shells clockwise, holes counter-clockwise.
		if (i == 0 && ccw) || (i > 0 && !ccw) {
			ring = reverseRing(ring)
		}
		rings = append(rings, toShpPoints(ring, 2))
	}
	return rings
}

func polygonShape(rings [][]shp.Point) *shp.Polygon {
	pl := shp.NewPolyLine(rings)
	return (*shp.Polygon)(pl)
}

func flatPoints(points []shp.Point) []float64 {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

func toShpPoints(flat []float64, stride int) []shp.Point {
	pts := make([]shp.Point, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		pts = append(pts, shp.Point{X: flat[i], Y: flat[i+1]})
	}
	return pts
}

func xyOnly(flat []float64, stride int) []float64 {
	if stride == 2 {
		return append([]float64(nil), flat...)
	}
	out := make([]float64, 0, len(flat)/stride*2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

func closeRing(flat []float64) []float64 {
	n := len(flat)
	if n >= 4 && (flat[0] != flat[n-2] || flat[1] != flat[n-1]) {
		flat = append(flat, flat[0], flat[1])
	}
	return flat
}

func reverseRing(flat []float64) []float64 {
	out := make([]float64, len(flat))
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		out[2*i] = flat[2*(n-1-i)]
		out[2*i+1] = flat[2*(n-1-i)+1]
	}
	return out
}
