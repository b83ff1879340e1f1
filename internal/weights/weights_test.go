package weights

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
)

// grid returns a 3x3 block of unit squares, row-major from the bottom left,
// with value (row+col)%2.
func grid() *layer.Layer {
	l := layer.New("grid", crs.BritishNatGrid, layer.Field{Name: "v", Type: layer.Int})
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			x, y := float64(c), float64(r)
			l.Append(&layer.Feature{
				Props: map[string]any{"v": int64((r + c) % 2)},
				Geom:  geom.NewPolygonFlat(geom.XY, []float64{x, y, x + 1, y, x + 1, y + 1, x, y + 1, x, y}, []int{10}),
			})
		}
	}
	return l
}

func line() *layer.Layer {
	l := layer.New("pumps", crs.BritishNatGrid)
	for _, x := range []float64{0, 1, 3, 7} {
		l.Append(&layer.Feature{Geom: geom.NewPointFlat(geom.XY, []float64{x, 0})})
	}
	return l
}

func TestQueenRook(t *testing.T) {
	q, err := Queen(grid())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 5, 6, 7, 8}, q.Neighbors[4])
	assert.Equal(t, []int{1, 3, 4}, q.Neighbors[0])
	assert.True(t, Symmetric(q))
	sq := Summarize(q)
	assert.Equal(t, 40, sq.NonZero)
	assert.Equal(t, 3, sq.MinCard)
	assert.Equal(t, 8, sq.MaxCard)
	assert.Equal(t, map[int]int{3: 4, 5: 4, 8: 1}, sq.Histogram)
	assert.Empty(t, sq.Islands)

	r, err := Rook(grid())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5, 7}, r.Neighbors[4])
	assert.Equal(t, []int{1, 3}, r.Neighbors[0])
	assert.Equal(t, 24, Summarize(r).NonZero)
}

func TestContiguity_Islands(t *testing.T) {
	l := grid()
	l.Append(&layer.Feature{Geom: geom.NewPolygonFlat(geom.XY, []float64{10, 10, 11, 10, 11, 11, 10, 10}, []int{8})})
	w, err := Queen(l)
	require.NoError(t, err)
	assert.Equal(t, []int{9}, w.Islands())
	assert.Empty(t, w.Neighbors[9])
	assert.Contains(t, Summarize(w).String(), "islands: [9]")

	_, err = Queen(line())
	require.Error(t, err)
}

func TestKNN(t *testing.T) {
	w, err := KNN(line(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, w.Neighbors[0])
	assert.Equal(t, []int{0}, w.Neighbors[1])
	assert.Equal(t, []int{1}, w.Neighbors[2])
	assert.Equal(t, []int{2}, w.Neighbors[3])
	assert.False(t, Symmetric(w))

	w, err = KNN(line(), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, w.Neighbors[2])
	assert.Equal(t, []int{1, 2}, w.Neighbors[3])
	assert.Equal(t, []float64{1, 1}, w.Weights[3])

	_, err = KNN(line(), 4)
	require.Error(t, err)
	_, err = KNN(line(), 0)
	require.Error(t, err)
}

func TestDistanceBand(t *testing.T) {
	w, err := DistanceBand(line(), 2.5, BandOptions{Binary: true})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, w.Neighbors[0])
	assert.Equal(t, []int{0, 2}, w.Neighbors[1])
	assert.Equal(t, []int{3}, w.Islands())

	w, err = DistanceBand(line(), 2.5, BandOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, w.Weight(1, 2), 1e-12)
	assert.InDelta(t, 1, w.Weight(1, 0), 1e-12)

	w, err = DistanceBand(line(), 2.5, BandOptions{Alpha: -2})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, w.Weight(2, 1), 1e-12)

	_, err = DistanceBand(line(), 0, BandOptions{})
	require.Error(t, err)
}

func TestKernel_Fixed(t *testing.T) {
	w, err := Kernel(line(), KernelOptions{K: 1})
	require.NoError(t, err)
	bw := 4 * bandwidthEps

	assert.Equal(t, []int{0, 1, 2}, w.Neighbors[0])
	assert.InDelta(t, 1, w.Weight(0, 0), 1e-12)
	assert.InDelta(t, 1-1/bw, w.Weight(0, 1), 1e-12)
	assert.InDelta(t, 1-3/bw, w.Weight(0, 2), 1e-12)

	assert.Equal(t, []int{2, 3}, w.Neighbors[3])
	assert.Greater(t, w.Weight(3, 2), 0.0)
	assert.Less(t, w.Weight(3, 2), 1e-6)
}

func TestKernel_Adaptive(t *testing.T) {
	w, err := Kernel(line(), KernelOptions{K: 1, Adaptive: true})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, w.Neighbors[0])
	assert.Equal(t, []int{1, 2}, w.Neighbors[2])
	assert.InDelta(t, 1-2/(2*bandwidthEps), w.Weight(2, 1), 1e-12)
}

func TestKernel_FunctionsAndDiagonal(t *testing.T) {
	tests := []struct {
		fn   string
		self float64
	}{
		{Triangular, 1},
		{Uniform, 0.5},
		{Quadratic, 0.75},
		{Quartic, 15.0 / 16},
		{Gaussian, 0.3989422804014327},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			w, err := Kernel(line(), KernelOptions{K: 2, Function: tt.fn})
			require.NoError(t, err)
			assert.InDelta(t, tt.self, w.Weight(1, 1), 1e-12)
		})
	}

	w, err := Kernel(line(), KernelOptions{K: 2, Function: Gaussian, Diagonal: true})
	require.NoError(t, err)
	assert.Equal(t, 1.0, w.Weight(1, 1))

	w, err = Kernel(line(), KernelOptions{K: 1, Bandwidth: 1.5})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, w.Neighbors[3])

	_, err = Kernel(line(), KernelOptions{Function: "epanechnikov"})
	require.Error(t, err)
	_, err = Kernel(line(), KernelOptions{Adaptive: true, Bandwidth: 2})
	require.Error(t, err)
}

func TestTransform(t *testing.T) {
	q, err := Queen(grid())
	require.NoError(t, err)

	r, err := Transform(q, "r")
	require.NoError(t, err)
	assert.Equal(t, RowStd, r.Transform)
	for i := 0; i < r.N(); i++ {
		assert.InDelta(t, 1, sum(r.Weights[i]), 1e-12)
	}
	assert.Equal(t, 1.0, q.Weights[4][0], "input untouched")

	d, err := Transform(r, DoubleStd)
	require.NoError(t, err)
	assert.InDelta(t, 9, d.S0(), 1e-9)
	assert.InDelta(t, 9.0/40, d.Weights[0][0], 1e-12, "from original weights, not row-standardised ones")

	v, err := Transform(q, VarStab)
	require.NoError(t, err)
	assert.InDelta(t, 9, v.S0(), 1e-9)

	b, err := Transform(r, Binary)
	require.NoError(t, err)
	assert.InDelta(t, 40, b.S0(), 1e-12)

	o, err := Transform(r, Original)
	require.NoError(t, err)
	assert.Equal(t, q.Weights, o.Weights)

	_, err = Transform(q, "X")
	require.Error(t, err)
}

func TestFullLagRow(t *testing.T) {
	rk, err := Rook(grid())
	require.NoError(t, err)
	r, err := Transform(rk, RowStd)
	require.NoError(t, err)

	m := Full(r)
	rows, cols := m.Dims()
	assert.Equal(t, 9, rows)
	assert.Equal(t, 9, cols)
	assert.InDelta(t, 0.25, m.At(4, 1), 1e-12)
	assert.Zero(t, m.At(4, 0))

	y := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8}
	lag, err := Lag(r, y)
	require.NoError(t, err)
	assert.InDelta(t, 4, lag[4], 1e-12)
	assert.InDelta(t, 2, lag[0], 1e-12)

	_, err = Lag(r, y[:3])
	require.Error(t, err)

	row, err := Row(r, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 0, 0.5, 0, 0, 0, 0, 0}, row)
	_, err = Row(r, 9)
	require.Error(t, err)
}

func TestMoran_Checkerboard(t *testing.T) {
	w, err := Rook(grid())
	require.NoError(t, err)
	y, err := grid().Floats("v")
	require.NoError(t, err)

	res, err := Moran(w, y, 99, 42)
	require.NoError(t, err)
	assert.InDelta(t, -1, res.I, 1e-12)
	assert.InDelta(t, -0.125, res.EI, 1e-12)
	assert.Less(t, res.Z, 0.0)
	assert.Less(t, res.PNorm, 0.05)
	assert.Equal(t, 99, res.Permutations)
	assert.LessOrEqual(t, res.PSim, 0.05)

	again, err := Moran(w, y, 99, 42)
	require.NoError(t, err)
	assert.Equal(t, res.PSim, again.PSim)
	assert.Equal(t, res.EISim, again.EISim)
}

func TestMoran_SameSeedSameResult(t *testing.T) {
	w, err := Rook(grid())
	require.NoError(t, err)
	rw, err := Transform(w, RowStd)
	require.NoError(t, err)
	y := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5}

	first, err := Moran(w, y, 99, 7)
	require.NoError(t, err)
	s0 := rw.S0()
	for run := 0; run < 30; run++ {
		res, err := Moran(w, y, 99, 7)
		require.NoError(t, err)
		assert.Equal(t, first.I, res.I)
		assert.Equal(t, first.EISim, res.EISim)
		assert.Equal(t, first.SeISim, res.SeISim)
		assert.Equal(t, first.PSim, res.PSim)
		assert.Equal(t, s0, rw.S0())
	}
}

func TestMoran_Errors(t *testing.T) {
	w, err := Rook(grid())
	require.NoError(t, err)
	_, err = Moran(w, make([]float64, 9), 0, 1)
	require.Error(t, err, "constant variable")
	_, err = Moran(w, []float64{1, 2}, 0, 1)
	require.Error(t, err)
}

func TestWriteGAL(t *testing.T) {
	w, err := KNN(line(), 1)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteGAL(&buf, w))
	assert.Equal(t, "4\n0 1\n1\n1 1\n0\n2 1\n1\n3 1\n2\n", buf.String())
}

func TestBuild(t *testing.T) {
	tests := []struct {
		spec    Spec
		nonzero int
	}{
		{Spec{}, 40},
		{Spec{Kind: "rook"}, 24},
		{Spec{Kind: "KNN", K: 2}, 18},
		{Spec{Kind: "distance-band", Threshold: 1, Binary: true}, 24},
		{Spec{Kind: "kernel", K: 1, Function: Uniform}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.spec.Kind, func(t *testing.T) {
			w, err := Build(grid(), tt.spec)
			require.NoError(t, err)
			if tt.nonzero > 0 {
				assert.Equal(t, tt.nonzero, Summarize(w).NonZero)
			}
		})
	}

	w, err := Build(grid(), Spec{Kind: "queen", Transform: "r"})
	require.NoError(t, err)
	assert.Equal(t, RowStd, w.Transform)

	_, err = Build(grid(), Spec{Kind: "gabriel"})
	require.Error(t, err)
}
