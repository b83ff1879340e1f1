package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
)

func TestEqualInterval(t *testing.T) {
	c, err := EqualInterval([]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6, 8, 10}, c.Bins)
	assert.Equal(t, []int{3, 2, 2, 2, 2}, c.Counts)
	assert.Equal(t, 0, c.Classes[2])
	assert.Equal(t, 1, c.Classes[3])
	assert.Equal(t, 4, c.Classes[10])
	assert.Equal(t, []string{"[0, 2]", "(2, 4]", "(4, 6]", "(6, 8]", "(8, 10]"}, c.Labels())

	c, err = EqualInterval([]float64{3, 3, 3}, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, c.Bins)
	assert.Equal(t, []int{3}, c.Counts)
}

func TestQuantiles(t *testing.T) {
	c, err := Quantiles([]float64{8, 1, 2, 3, 4, 5, 6, 7}, 4)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2.75, 4.5, 6.25, 8}, c.Bins, 1e-12)
	assert.Equal(t, []int{2, 2, 2, 2}, c.Counts)
	assert.Equal(t, 3, c.Classes[0])

	c, err = Quantiles([]float64{0, 0, 0, 0, 1}, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, c.Bins, "repeated bounds collapse")
}

func TestUserDefined(t *testing.T) {
	kernel := []float64{0.05, 0.2, 0.45, 0.7, 1.0}
	c, err := UserDefined(kernel, []float64{0.25, 0.5, 0.75})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.5, 0.75, 1.0}, c.Bins)
	assert.Equal(t, []int{0, 0, 1, 2, 3}, c.Classes)
	assert.Equal(t, "[0.05, 0.25]", c.Labels()[0])

	c, err = UserDefined([]float64{1, 2}, []float64{5})
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, c.Bins)

	_, err = UserDefined(kernel, []float64{0.5, 0.25})
	require.Error(t, err)
	_, err = UserDefined(kernel, nil)
	require.Error(t, err)
}

func TestErrors(t *testing.T) {
	_, err := EqualInterval(nil, 3)
	require.Error(t, err)
	_, err = Quantiles([]float64{1, 2}, 0)
	require.Error(t, err)

	_, err = ParseMethod("jenks")
	require.Error(t, err)
	m, err := ParseMethod("Equal-Interval")
	require.NoError(t, err)
	assert.Equal(t, EqualIntervalMethod, m)
}

func TestColumn(t *testing.T) {
	l := layer.New("deaths", crs.BritishNatGrid, layer.Field{Name: "n", Type: layer.Int})
	for _, n := range []int64{1, 5, 9} {
		l.Append(&layer.Feature{Props: map[string]any{"n": n}})
	}
	l.Append(&layer.Feature{Props: map[string]any{"n": nil}})

	c, err := Column(l, "n", "n_class", Options{Method: UserDefinedMethod, Bins: []float64{2, 6}})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 6, 9}, c.Bins)
	assert.Equal(t, int64(0), l.Features[0].Get("n_class"))
	assert.Equal(t, int64(1), l.Features[1].Get("n_class"))
	assert.Equal(t, int64(2), l.Features[2].Get("n_class"))
	assert.Equal(t, int64(0), l.Features[3].Get("n_class"))

	c, err = Column(l, "n", "", Options{})
	require.NoError(t, err)
	assert.Equal(t, EqualIntervalMethod, c.Method)
	assert.Equal(t, 5, c.K())

	_, err = Column(l, "missing", "", Options{})
	require.Error(t, err)
}
