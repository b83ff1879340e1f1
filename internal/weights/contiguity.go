package weights

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/spatial"
)

// DefaultTolerance is the grid size vertices are snapped to before polygons
// are compared for shared vertices or edges.
const DefaultTolerance = 1e-7

type vertex [2]int64

type edge [2]vertex

// Queen links polygons sharing at least one vertex.
func Queen(l *layer.Layer) (*W, error) { return Contiguity(l, false, DefaultTolerance) }

// Rook links polygons sharing at least one edge.
func Rook(l *layer.Layer) (*W, error) { return Contiguity(l, true, DefaultTolerance) }

// Contiguity builds binary contiguity weights for a polygon layer. Vertices
// are snapped to a grid of size tol; candidate pairs come from an R-tree over
// the polygon envelopes.
func Contiguity(l *layer.Layer, rook bool, tol float64) (*W, error) {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	if k := l.GeometryKind(); k != layer.KindPolygon {
		return nil, eris.Errorf("weights: contiguity needs polygons, %s is %s", l.Name, k)
	}

	verts := make([]map[vertex]bool, l.Len())
	edges := make([]map[edge]bool, l.Len())
	for i, f := range l.Features {
		verts[i], edges[i] = rings(f.Geom, tol)
	}

	ix := spatial.NewIndex(l)
	neighbors := make(map[int][]int, l.Len())
	weights := make(map[int][]float64, l.Len())
	for i, f := range l.Features {
		for _, j := range ix.Candidates(f.Geom, tol) {
			if j <= i {
				continue
			}
			if !shares(verts[i], verts[j], edges[i], edges[j], rook) {
				continue
			}
			neighbors[i] = append(neighbors[i], j)
			neighbors[j] = append(neighbors[j], i)
			weights[i] = append(weights[i], 1)
			weights[j] = append(weights[j], 1)
		}
	}

	w := newW(l.IDs(), neighbors, weights)
	logIslands(w, l.Name, contiguityName(rook))
	return w, nil
}

func contiguityName(rook bool) string {
	if rook {
		return "rook"
	}
	return "queen"
}

func shares(va, vb map[vertex]bool, ea, eb map[edge]bool, rook bool) bool {
	if rook {
		if len(eb) < len(ea) {
			ea, eb = eb, ea
		}
		for e := range ea {
			if eb[e] {
				return true
			}
		}
		return false
	}
	if len(vb) < len(va) {
		va, vb = vb, va
	}
	for v := range va {
		if vb[v] {
			return true
		}
	}
	return false
}

// rings snaps every ring vertex of the polygonal geometry g and returns its
// vertex and undirected edge sets.
func rings(g geom.T, tol float64) (map[vertex]bool, map[edge]bool) {
	verts := map[vertex]bool{}
	edges := map[edge]bool{}
	add := func(lr *geom.LinearRing) {
		flat, stride := lr.FlatCoords(), lr.Stride()
		var prev vertex
		for k := 0; k+1 < len(flat); k += stride {
			v := vertex{int64(math.Round(flat[k] / tol)), int64(math.Round(flat[k+1] / tol))}
			verts[v] = true
			if k > 0 && v != prev {
				edges[undirected(prev, v)] = true
			}
			prev = v
		}
	}
	var walk func(geom.T)
	walk = func(t geom.T) {
		switch p := t.(type) {
		case *geom.Polygon:
			for r := 0; r < p.NumLinearRings(); r++ {
				add(p.LinearRing(r))
			}
		case *geom.MultiPolygon:
			for k := 0; k < p.NumPolygons(); k++ {
				walk(p.Polygon(k))
			}
		case *geom.GeometryCollection:
			for _, sub := range p.Geoms() {
				walk(sub)
			}
		}
	}
	walk(g)
	return verts, edges
}

func undirected(a, b vertex) edge {
	if b[0] < a[0] || (b[0] == a[0] && b[1] < a[1]) {
		a, b = b, a
	}
	return edge{a, b}
}

func logIslands(w *W, name, kind string) {
	islands := w.Islands()
	if len(islands) == 0 {
		zap.L().Debug("weights: built", zap.String("layer", name), zap.String("kind", kind), zap.Int("units", w.N()))
		return
	}
	zap.L().Warn("weights: matrix has islands",
		zap.String("layer", name),
		zap.String("kind", kind),
		zap.Ints("islands", islands),
	)
}
