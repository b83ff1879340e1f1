package weights

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/sells-group/geolab/internal/layer"
)

// bandwidthEps widens kernel bandwidths so the farthest neighbour keeps a
// non-zero weight.
const bandwidthEps = 1.0000001

// place is a unit's representative point in the k-d tree.
type place struct {
	idx  int
	x, y float64
}

func (p place) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(place)
	if d == 0 {
		return p.x - q.x
	}
	return p.y - q.y
}

func (p place) Dims() int { return 2 }

// Distance is squared Euclidean distance, as the k-d tree expects.
func (p place) Distance(c kdtree.Comparable) float64 {
	q := c.(place)
	dx, dy := p.x-q.x, p.y-q.y
	return dx*dx + dy*dy
}

type places []place

func (p places) Index(i int) kdtree.Comparable         { return p[i] }
func (p places) Len() int                              { return len(p) }
func (p places) Pivot(d kdtree.Dim) int                { return plane{places: p, Dim: d}.Pivot() }
func (p places) Slice(start, end int) kdtree.Interface { return p[start:end] }

type plane struct {
	kdtree.Dim
	places
}

func (p plane) Less(i, j int) bool {
	if p.Dim == 0 {
		return p.places[i].x < p.places[j].x
	}
	return p.places[i].y < p.places[j].y
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.places = p.places[start:end]
	return p
}
func (p plane) Swap(i, j int) { p.places[i], p.places[j] = p.places[j], p.places[i] }

// hit is one neighbour found by a query.
type hit struct {
	idx  int
	dist float64
}

// pointSet indexes one representative point per feature: the point itself,
// or the centroid for other geometries.
type pointSet struct {
	pts  []place
	tree *kdtree.Tree
}

func newPointSet(l *layer.Layer) (*pointSet, error) {
	coords, err := l.PointCoords()
	if err != nil {
		return nil, eris.Wrap(err, "weights: representative points")
	}
	return pointSetFromCoords(coords), nil
}

func pointSetFromCoords(coords []geom.Coord) *pointSet {
	pts := make([]place, len(coords))
	for i, c := range coords {
		pts[i] = place{idx: i, x: c.X(), y: c.Y()}
	}
	// kdtree.New reorders its input.
	data := slices.Clone(places(pts))
	return &pointSet{pts: pts, tree: kdtree.New(data, false)}
}

// nearest returns the n points closest to unit i, itself included, ordered
// by distance then index.
func (s *pointSet) nearest(i, n int) []hit {
	keep := kdtree.NewNKeeper(n)
	s.tree.NearestSet(keep, s.pts[i])
	return collect(keep.Heap)
}

// within returns every point within r of unit i, itself included.
func (s *pointSet) within(i int, r float64) []hit {
	keep := kdtree.NewDistKeeper(r * r)
	s.tree.NearestSet(keep, s.pts[i])
	return collect(keep.Heap)
}

func collect(h kdtree.Heap) []hit {
	out := make([]hit, 0, len(h))
	for _, c := range h {
		if c.Comparable == nil {
			continue
		}
		out = append(out, hit{idx: c.Comparable.(place).idx, dist: math.Sqrt(c.Dist)})
	}
	slices.SortFunc(out, func(a, b hit) int {
		if c := cmp.Compare(a.dist, b.dist); c != 0 {
			return c
		}
		return a.idx - b.idx
	})
	return out
}

// withoutSelf drops unit i from hits, or the farthest hit when i is absent
// because coincident points crowded it out.
func withoutSelf(hits []hit, i, k int) []hit {
	out := make([]hit, 0, len(hits))
	for _, h := range hits {
		if h.idx != i {
			out = append(out, h)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// KNN links every unit to its k nearest other units with binary weights.
func KNN(l *layer.Layer, k int) (*W, error) {
	n := l.Len()
	if k < 1 || k >= n {
		return nil, eris.Errorf("weights: knn needs 1 <= k < %d, got %d", n, k)
	}
	ps, err := newPointSet(l)
	if err != nil {
		return nil, err
	}
	neighbors := make(map[int][]int, n)
	weights := make(map[int][]float64, n)
	for i := 0; i < n; i++ {
		for _, h := range withoutSelf(ps.nearest(i, k+1), i, k) {
			neighbors[i] = append(neighbors[i], h.idx)
			weights[i] = append(weights[i], 1)
		}
	}
	w := newW(l.IDs(), neighbors, weights)
	logIslands(w, l.Name, "knn")
	return w, nil
}

// BandOptions configure DistanceBand.
type BandOptions struct {
	// Binary gives every neighbour weight 1; otherwise d^Alpha.
	Binary bool
	// Alpha is the distance-decay exponent; zero means -1.
	Alpha float64
}

// DistanceBand links units whose representative points are at most
// threshold apart.
func DistanceBand(l *layer.Layer, threshold float64, opts BandOptions) (*W, error) {
	if threshold <= 0 || math.IsNaN(threshold) {
		return nil, eris.Errorf("weights: invalid distance band %v", threshold)
	}
	alpha := opts.Alpha
	if alpha == 0 {
		alpha = -1
	}
	ps, err := newPointSet(l)
	if err != nil {
		return nil, err
	}
	n := l.Len()
	neighbors := make(map[int][]int, n)
	weights := make(map[int][]float64, n)
	for i := 0; i < n; i++ {
		for _, h := range ps.within(i, threshold) {
			if h.idx == i {
				continue
			}
			wt := 1.0
			if !opts.Binary {
				if h.dist == 0 && alpha < 0 {
					return nil, eris.Errorf("weights: units %d and %d coincide, inverse distance undefined", i, h.idx)
				}
				wt = math.Pow(h.dist, alpha)
			}
			neighbors[i] = append(neighbors[i], h.idx)
			weights[i] = append(weights[i], wt)
		}
	}
	w := newW(l.IDs(), neighbors, weights)
	logIslands(w, l.Name, "distance_band")
	return w, nil
}

// Kernel functions.
const (
	Triangular = "triangular"
	Uniform    = "uniform"
	Quadratic  = "quadratic"
	Quartic    = "quartic"
	Gaussian   = "gaussian"
)

// KernelOptions configure Kernel.
type KernelOptions struct {
	// K is the number of nearest neighbours that sets the bandwidth; zero
	// means 2.
	K int
	// Function is the kernel; empty means triangular.
	Function string
	// Adaptive gives every unit the bandwidth of its own k-th neighbour
	// distance instead of one fixed bandwidth.
	Adaptive bool
	// Bandwidth, when positive, fixes the bandwidth explicitly.
	Bandwidth float64
	// Diagonal forces every self weight to 1.
	Diagonal bool
}

// Kernel builds kernel weights. Every unit is its own neighbour.
//
// With a fixed bandwidth, the bandwidth is the largest k-th nearest
// neighbour distance over all units (times 1.0000001) and a unit's
// neighbours are the units within it. With an adaptive bandwidth each unit
// uses its own k-th neighbour distance and its k+1 nearest units, itself
// included. Weights are K(d/bandwidth).
func Kernel(l *layer.Layer, opts KernelOptions) (*W, error) {
	n := l.Len()
	k := opts.K
	if k == 0 {
		k = 2
	}
	if k < 1 || k >= n {
		return nil, eris.Errorf("weights: kernel needs 1 <= k < %d, got %d", n, k)
	}
	fn := strings.ToLower(opts.Function)
	if fn == "" {
		fn = Triangular
	}
	kernel, err := kernelFunc(fn)
	if err != nil {
		return nil, err
	}
	if opts.Adaptive && opts.Bandwidth > 0 {
		return nil, eris.New("weights: an explicit bandwidth cannot be adaptive")
	}

	ps, err := newPointSet(l)
	if err != nil {
		return nil, err
	}
	knn := make([][]hit, n)
	for i := 0; i < n; i++ {
		knn[i] = ps.nearest(i, k+1)
	}

	bw := make([]float64, n)
	switch {
	case opts.Bandwidth > 0:
		for i := range bw {
			bw[i] = opts.Bandwidth
		}
	case opts.Adaptive:
		for i, hs := range knn {
			bw[i] = hs[len(hs)-1].dist * bandwidthEps
		}
	default:
		var far float64
		for _, hs := range knn {
			far = max(far, hs[len(hs)-1].dist)
		}
		for i := range bw {
			bw[i] = far * bandwidthEps
		}
	}

	neighbors := make(map[int][]int, n)
	weights := make(map[int][]float64, n)
	for i := 0; i < n; i++ {
		hs := knn[i]
		if !opts.Adaptive {
			hs = ps.within(i, bw[i])
		}
		for _, h := range hs {
			wt := kernel(h.dist / bw[i])
			if opts.Diagonal && h.idx == i {
				wt = 1
			}
			neighbors[i] = append(neighbors[i], h.idx)
			weights[i] = append(weights[i], wt)
		}
	}
	w := newW(l.IDs(), neighbors, weights)
	logIslands(w, l.Name, "kernel_"+fn)
	return w, nil
}

func kernelFunc(name string) (func(z float64) float64, error) {
	switch name {
	case Triangular:
		return func(z float64) float64 { return 1 - z }, nil
	case Uniform:
		return func(float64) float64 { return 0.5 }, nil
	case Quadratic:
		return func(z float64) float64 { return 0.75 * (1 - z*z) }, nil
	case Quartic:
		return func(z float64) float64 { return (15.0 / 16) * (1 - z*z) * (1 - z*z) }, nil
	case Gaussian:
		c := 1 / math.Sqrt(2*math.Pi)
		return func(z float64) float64 { return c * math.Exp(-z*z/2) }, nil
	}
	return nil, eris.Errorf("weights: unknown kernel %q", name)
}
