// Package voronoi builds Thiessen polygons: for each seed, the region of the
// plane closer to it than to any other seed.
package voronoi

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/spatial"
)

// DefaultMargin is the fraction of the seed bounds added on each side when no
// extent is given.
const DefaultMargin = 0.1

// SeedIndexColumn holds the position of the seed that owns each region.
const SeedIndexColumn = "seed_index"

// Options control the tessellation window.
type Options struct {
	// Extent bounds the regions. Nil means the seed bounds grown by Margin.
	Extent *geom.Bounds
	// Margin is the growth fraction for the default extent. Zero means
	// DefaultMargin.
	Margin float64
	// Clip, when set, is intersected with every region.
	Clip geom.T
}

// Tessellate returns one region per seed, in seed order. Regions are convex
// polygons unless Clip makes them otherwise. A seed repeating an earlier one
// gets an empty polygon.
func Tessellate(seeds []geom.Coord, opts Options) ([]geom.T, error) {
	if len(seeds) == 0 {
		return nil, eris.New("voronoi: no seeds")
	}
	for i, s := range seeds {
		if len(s) < 2 {
			return nil, eris.Errorf("voronoi: seed %d has no XY coordinate", i)
		}
	}

	ext := opts.Extent
	if ext == nil {
		ext = seedExtent(seeds, opts.Margin)
	}
	window := rect(ext)

	owner := make(map[[2]float64]int, len(seeds))
	unique := make([]int, 0, len(seeds))
	for i, s := range seeds {
		key := [2]float64{s[0], s[1]}
		if first, ok := owner[key]; ok {
			zap.L().Warn("voronoi: duplicate seed gets an empty region",
				zap.Int("seed", i),
				zap.Int("first", first),
			)
			continue
		}
		owner[key] = i
		unique = append(unique, i)
	}

	out := make([]geom.T, len(seeds))
	for i := range out {
		out[i] = geom.NewPolygon(geom.XY)
	}
	for _, i := range unique {
		cell := window
		for _, j := range unique {
			if i == j {
				continue
			}
			cell = clipHalfPlane(cell, seeds[i], seeds[j])
			if len(cell) < 3 {
				break
			}
		}
		if len(cell) < 3 {
			continue
		}
		var region geom.T = polygon(cell)
		if opts.Clip != nil {
			clipped, err := spatial.Intersection(region, opts.Clip)
			if err != nil {
				return nil, eris.Wrapf(err, "voronoi: clip region %d", i)
			}
			region = spatial.Polygonal(clipped)
			if spatial.IsEmpty(region) {
				region = geom.NewPolygon(geom.XY)
			}
		}
		out[i] = region
	}
	return out, nil
}

// seedExtent grows the seed bounds by margin on each side. A degenerate axis
// is centred on the seeds and given the other axis' span, or one unit when
// both are zero.
func seedExtent(seeds []geom.Coord, margin float64) *geom.Bounds {
	if margin <= 0 {
		margin = DefaultMargin
	}
	b := geom.NewBounds(geom.XY)
	for _, s := range seeds {
		b.Extend(geom.NewPointFlat(geom.XY, []float64{s[0], s[1]}))
	}
	x1, y1, x2, y2 := b.Min(0), b.Min(1), b.Max(0), b.Max(1)
	span := max(x2-x1, y2-y1)
	if span == 0 {
		span = 1
	}
	if x2 == x1 {
		x1, x2 = x1-span/2, x2+span/2
	}
	if y2 == y1 {
		y1, y2 = y1-span/2, y2+span/2
	}
	dx, dy := (x2-x1)*margin, (y2-y1)*margin
	return geom.NewBounds(geom.XY).Set(x1-dx, y1-dy, x2+dx, y2+dy)
}

// rect returns the bounds as a counter-clockwise vertex list.
func rect(b *geom.Bounds) [][2]float64 {
	x1, y1, x2, y2 := b.Min(0), b.Min(1), b.Max(0), b.Max(1)
	return [][2]float64{{x1, y1}, {x2, y1}, {x2, y2}, {x1, y2}}
}

// clipHalfPlane keeps the part of the convex polygon closer to a than to b:
// the side of their perpendicular bisector that holds a.
func clipHalfPlane(poly [][2]float64, a, b geom.Coord) [][2]float64 {
	nx, ny := b[0]-a[0], b[1]-a[1]
	mx, my := (a[0]+b[0])/2, (a[1]+b[1])/2
	side := func(p [2]float64) float64 { return (p[0]-mx)*nx + (p[1]-my)*ny }

	out := make([][2]float64, 0, len(poly)+1)
	for k := range poly {
		cur, next := poly[k], poly[(k+1)%len(poly)]
		sc, sn := side(cur), side(next)
		if sc <= 0 {
			out = append(out, cur)
		}
		if (sc < 0 && sn > 0) || (sc > 0 && sn < 0) {
			t := sc / (sc - sn)
			out = append(out, [2]float64{cur[0] + t*(next[0]-cur[0]), cur[1] + t*(next[1]-cur[1])})
		}
	}
	return out
}

func polygon(ring [][2]float64) *geom.Polygon {
	flat := make([]float64, 0, 2*len(ring)+2)
	for _, p := range ring {
		flat = append(flat, p[0], p[1])
	}
	flat = append(flat, ring[0][0], ring[0][1])
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
}

// FromLayer tessellates a point layer. Each region carries its seed's
// attributes plus a seed_index column.
func FromLayer(points *layer.Layer, opts Options) (*layer.Layer, error) {
	if points.Len() == 0 {
		return nil, eris.Errorf("voronoi: %s has no features", points.Name)
	}
	if k := points.GeometryKind(); k != layer.KindPoint {
		return nil, eris.Errorf("voronoi: %s must hold points, has %s", points.Name, k)
	}
	seeds, err := points.PointCoords()
	if err != nil {
		return nil, eris.Wrap(err, "voronoi: seeds")
	}
	regions, err := Tessellate(seeds, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "voronoi: %s", points.Name)
	}

	out := points.Empty()
	out.Name = points.Name + "_voronoi"
	if !out.HasColumn(SeedIndexColumn) {
		out.Fields = append(out.Fields, layer.Field{Name: SeedIndexColumn, Type: layer.Int})
	}
	for i, f := range points.Features {
		nf := f.Clone()
		nf.Geom = regions[i]
		if nf.Props == nil {
			nf.Props = map[string]any{}
		}
		nf.Props[SeedIndexColumn] = int64(i)
		out.Features = append(out.Features, nf)
	}
	zap.L().Debug("voronoi: tessellated",
		zap.String("layer", points.Name),
		zap.Int("regions", out.Len()),
	)
	return out, nil
}
