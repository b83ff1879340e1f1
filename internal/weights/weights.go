// Package weights builds spatial weights matrices: for every spatial unit,
// its neighbours and the strength of each neighbour relation.
package weights

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// Transformations.
const (
	Binary    = "B"
	RowStd    = "R"
	DoubleStd = "D"
	VarStab   = "V"
	Original  = "O"
)

const symmetryTol = 1e-12

// W is a sparse spatial weights matrix. Row i lists the neighbours of unit i
// in ascending order with one weight per neighbour. Units without neighbours
// (islands) have empty rows.
type W struct {
	IDs       []string
	Neighbors map[int][]int
	Weights   map[int][]float64
	Transform string

	original map[int][]float64
}

// newW builds a weights matrix and records its weights as the original ones.
// Rows are sorted by neighbour index.
func newW(ids []string, neighbors map[int][]int, weights map[int][]float64) *W {
	w := &W{
		IDs:       ids,
		Neighbors: make(map[int][]int, len(ids)),
		Weights:   make(map[int][]float64, len(ids)),
		Transform: Original,
	}
	for i := range ids {
		nb, wt := neighbors[i], weights[i]
		order := make([]int, len(nb))
		for k := range order {
			order[k] = k
		}
		slices.SortFunc(order, func(a, b int) int { return nb[a] - nb[b] })
		w.Neighbors[i] = make([]int, len(nb))
		w.Weights[i] = make([]float64, len(nb))
		for k, o := range order {
			w.Neighbors[i][k] = nb[o]
			w.Weights[i][k] = wt[o]
		}
	}
	w.original = cloneRows(w.Weights)
	return w
}

func cloneRows(rows map[int][]float64) map[int][]float64 {
	out := make(map[int][]float64, len(rows))
	for i, r := range rows {
		out[i] = slices.Clone(r)
	}
	return out
}

// N returns the number of units.
func (w *W) N() int { return len(w.IDs) }

// Cardinality returns the number of neighbours of unit i.
func (w *W) Cardinality(i int) int { return len(w.Neighbors[i]) }

// Islands returns the units with no neighbours.
func (w *W) Islands() []int {
	var out []int
	for i := 0; i < w.N(); i++ {
		if len(w.Neighbors[i]) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// Weight returns w_ij, zero when j is not a neighbour of i.
func (w *W) Weight(i, j int) float64 {
	k, ok := slices.BinarySearch(w.Neighbors[i], j)
	if !ok {
		return 0
	}
	return w.Weights[i][k]
}

// S0 is the sum of all weights.
func (w *W) S0() float64 {
	var s float64
	for i := 0; i < w.N(); i++ {
		s += sum(w.Weights[i])
	}
	return s
}

// Transform returns a copy of w with its original weights re-expressed:
// B binary, R row-standardised, D doubly standardised, V variance
// stabilising, O original. Transformations always start from the original
// weights, so they do not compound.
func Transform(w *W, t string) (*W, error) {
	t = strings.ToUpper(strings.TrimSpace(t))
	src := w.original
	if src == nil {
		src = w.Weights
	}
	out := &W{
		IDs:       slices.Clone(w.IDs),
		Neighbors: make(map[int][]int, len(w.Neighbors)),
		Transform: t,
		original:  cloneRows(src),
	}
	for i, nb := range w.Neighbors {
		out.Neighbors[i] = slices.Clone(nb)
	}

	switch t {
	case Original:
		out.Weights = cloneRows(src)
	case Binary:
		out.Weights = mapRows(src, func(float64, []float64) float64 { return 1 })
	case RowStd:
		out.Weights = mapRows(src, func(v float64, row []float64) float64 {
			return v / sum(row)
		})
	case DoubleStd:
		total := rowTotal(src, w.N())
		n := float64(w.N())
		out.Weights = mapRows(src, func(v float64, _ []float64) float64 { return v * n / total })
	case VarStab:
		stab := mapRows(src, func(v float64, row []float64) float64 {
			var q float64
			for _, x := range row {
				q += x * x
			}
			return v / math.Sqrt(q)
		})
		nq := float64(w.N()) / rowTotal(stab, w.N())
		out.Weights = mapRows(stab, func(v float64, _ []float64) float64 { return v * nq })
	default:
		return nil, eris.Errorf("weights: unknown transformation %q", t)
	}
	return out, nil
}

func mapRows(rows map[int][]float64, fn func(v float64, row []float64) float64) map[int][]float64 {
	out := make(map[int][]float64, len(rows))
	for i, row := range rows {
		nr := make([]float64, len(row))
		for k, v := range row {
			nr[k] = fn(v, row)
		}
		out[i] = nr
	}
	return out
}

// rowTotal sums rows 0..n-1 in unit order.
func rowTotal(rows map[int][]float64, n int) float64 {
	var s float64
	for i := 0; i < n; i++ {
		s += sum(rows[i])
	}
	return s
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

// Full returns the dense n×n matrix of w.
func Full(w *W) *mat.Dense {
	n := w.N()
	if n == 0 {
		return &mat.Dense{}
	}
	m := mat.NewDense(n, n, nil)
	for i, nb := range w.Neighbors {
		for k, j := range nb {
			m.Set(i, j, w.Weights[i][k])
		}
	}
	return m
}

// Lag returns the spatial lag W·y.
func Lag(w *W, y []float64) ([]float64, error) {
	if len(y) != w.N() {
		return nil, eris.Errorf("weights: lag of %d values with %d units", len(y), w.N())
	}
	out := make([]float64, len(y))
	for i, nb := range w.Neighbors {
		var s float64
		for k, j := range nb {
			s += w.Weights[i][k] * y[j]
		}
		out[i] = s
	}
	return out, nil
}

// Symmetric reports whether w_ij == w_ji for every pair.
func Symmetric(w *W) bool {
	for i, nb := range w.Neighbors {
		for k, j := range nb {
			if math.Abs(w.Weights[i][k]-w.Weight(j, i)) > symmetryTol {
				return false
			}
		}
	}
	return true
}

// Summary describes a weights matrix.
type Summary struct {
	N          int         `json:"n"`
	Transform  string      `json:"transform"`
	Islands    []int       `json:"islands"`
	MinCard    int         `json:"min_neighbors"`
	MaxCard    int         `json:"max_neighbors"`
	MeanCard   float64     `json:"mean_neighbors"`
	NonZero    int         `json:"nonzero"`
	PctNonzero float64     `json:"pct_nonzero"`
	S0         float64     `json:"s0"`
	Symmetric  bool        `json:"symmetric"`
	Histogram  map[int]int `json:"histogram"`
}

// Summarize computes the Summary of w.
func Summarize(w *W) Summary {
	s := Summary{
		N:         w.N(),
		Transform: w.Transform,
		Islands:   w.Islands(),
		Histogram: map[int]int{},
		S0:        w.S0(),
		Symmetric: Symmetric(w),
	}
	if s.N == 0 {
		return s
	}
	s.MinCard = math.MaxInt
	for i := 0; i < s.N; i++ {
		c := w.Cardinality(i)
		s.NonZero += c
		s.MinCard = min(s.MinCard, c)
		s.MaxCard = max(s.MaxCard, c)
		s.Histogram[c]++
	}
	s.MeanCard = float64(s.NonZero) / float64(s.N)
	s.PctNonzero = 100 * float64(s.NonZero) / float64(s.N*s.N)
	return s
}

// String renders the summary as the short block printed by the CLI.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "units: %d  transform: %s  s0: %.4g  symmetric: %t\n", s.N, s.Transform, s.S0, s.Symmetric)
	fmt.Fprintf(&b, "neighbours: min %d  max %d  mean %.2f  nonzero %.2f%%\n", s.MinCard, s.MaxCard, s.MeanCard, s.PctNonzero)
	if len(s.Islands) > 0 {
		fmt.Fprintf(&b, "islands: %v\n", s.Islands)
	}
	for _, c := range slices.Sorted(maps.Keys(s.Histogram)) {
		fmt.Fprintf(&b, "  %3d neighbours: %d\n", c, s.Histogram[c])
	}
	return b.String()
}

// WriteGAL writes the neighbour lists in GAL format: a header with the unit
// count, then for each unit a line "id count" followed by a line of
// neighbour ids.
func WriteGAL(out io.Writer, w *W) error {
	bw := bufio.NewWriter(out)
	fmt.Fprintf(bw, "%d\n", w.N())
	for i, id := range w.IDs {
		nb := w.Neighbors[i]
		fmt.Fprintf(bw, "%s %d\n", id, len(nb))
		ids := make([]string, len(nb))
		for k, j := range nb {
			ids[k] = w.IDs[j]
		}
		fmt.Fprintln(bw, strings.Join(ids, " "))
	}
	if err := bw.Flush(); err != nil {
		return eris.Wrap(err, "weights: write gal")
	}
	return nil
}

// Row returns the weights of unit i towards every unit, zeros included.
func Row(w *W, i int) ([]float64, error) {
	if i < 0 || i >= w.N() {
		return nil, eris.Errorf("weights: unit %d out of range [0,%d)", i, w.N())
	}
	out := make([]float64, w.N())
	for k, j := range w.Neighbors[i] {
		out[j] = w.Weights[i][k]
	}
	return out, nil
}
