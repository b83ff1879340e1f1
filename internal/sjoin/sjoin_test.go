package sjoin

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/spatial"
)

func pt(x, y float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{x, y})
}

func square(x, y, size float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{x, y, x + size, y, x + size, y + size, x, y + size, x, y}, []int{10})
}

// deaths: three in block A, one in block B, one outside both.
func deaths() *layer.Layer {
	l := layer.New("deaths", crs.BritishNatGrid,
		layer.Field{Name: "name", Type: layer.String},
		layer.Field{Name: "deaths", Type: layer.Int},
	)
	l.Append(
		&layer.Feature{Props: map[string]any{"name": "d0", "deaths": int64(2)}, Geom: pt(1, 1)},
		&layer.Feature{Props: map[string]any{"name": "d1", "deaths": int64(1)}, Geom: pt(2, 2)},
		&layer.Feature{Props: map[string]any{"name": "d2", "deaths": int64(4)}, Geom: pt(3, 7)},
		&layer.Feature{Props: map[string]any{"name": "d3", "deaths": int64(1)}, Geom: pt(15, 5)},
		&layer.Feature{Props: map[string]any{"name": "d4", "deaths": nil}, Geom: pt(50, 50)},
	)
	return l
}

func blocks() *layer.Layer {
	l := layer.New("blocks", crs.BritishNatGrid,
		layer.Field{Name: "name", Type: layer.String},
		layer.Field{Name: "ward", Type: layer.String},
	)
	l.Append(
		&layer.Feature{Props: map[string]any{"name": "A", "ward": "west"}, Geom: square(0, 0, 10)},
		&layer.Feature{Props: map[string]any{"name": "B", "ward": "east"}, Geom: square(10, 0, 10)},
		&layer.Feature{Props: map[string]any{"name": "C", "ward": "east"}, Geom: square(100, 100, 10)},
	)
	return l
}

func TestJoin_Inner(t *testing.T) {
	out, err := Join(deaths(), blocks(), Options{Predicate: spatial.Within})
	require.NoError(t, err)
	assert.Equal(t, []string{"name_left", "deaths", "name_right", "ward", IndexRight}, out.ColumnNames())
	require.Equal(t, 4, out.Len())

	assert.Equal(t, "d0", out.Features[0].Get("name_left"))
	assert.Equal(t, "A", out.Features[0].Get("name_right"))
	assert.Equal(t, int64(0), out.Features[0].Get(IndexRight))
	assert.Equal(t, "d3", out.Features[3].Get("name_left"))
	assert.Equal(t, "east", out.Features[3].Get("ward"))
	assert.Equal(t, int64(1), out.Features[3].Get(IndexRight))
	assert.Equal(t, layer.KindPoint, out.GeometryKind())
}

func TestJoin_Left(t *testing.T) {
	out, err := Join(deaths(), blocks(), Options{Predicate: spatial.Within, How: Left})
	require.NoError(t, err)
	require.Equal(t, 5, out.Len())
	last := out.Features[4]
	assert.Equal(t, "d4", last.Get("name_left"))
	assert.Nil(t, last.Get("ward"))
	assert.Nil(t, last.Get(IndexRight))
}

func TestJoin_Right(t *testing.T) {
	out, err := Join(deaths(), blocks(), Options{Predicate: spatial.Within, How: Right, LSuffix: "death", RSuffix: "block"})
	require.NoError(t, err)
	assert.Contains(t, out.ColumnNames(), IndexLeft)
	assert.Contains(t, out.ColumnNames(), "name_block")
	require.Equal(t, 5, out.Len(), "three rows for A, one for B, unmatched C")
	assert.Equal(t, layer.KindPolygon, out.GeometryKind())

	c := out.Features[4]
	assert.Equal(t, "C", c.Get("name_block"))
	assert.Nil(t, c.Get("name_death"))
	assert.Nil(t, c.Get(IndexLeft))
}

func TestJoin_IntersectsTouching(t *testing.T) {
	edge := layer.New("edge", crs.BritishNatGrid)
	edge.Append(&layer.Feature{Geom: pt(10, 5)})

	out, err := Join(edge, blocks(), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, int64(0), out.Features[0].Get(IndexRight))
	assert.Equal(t, int64(1), out.Features[1].Get(IndexRight))

	within, err := Join(edge, blocks(), Options{Predicate: spatial.Within})
	require.NoError(t, err)
	assert.Zero(t, within.Len())
}

func TestJoin_Disjoint(t *testing.T) {
	out, err := Join(deaths(), blocks(), Options{Predicate: spatial.Disjoint})
	require.NoError(t, err)
	// d0..d2 miss B and C, d3 misses A and C, d4 misses all three.
	assert.Equal(t, 3*2+2+3, out.Len())
}

func TestJoin_Errors(t *testing.T) {
	other := blocks()
	other.CRS = crs.WGS84
	_, err := Join(deaths(), other, Options{})
	assert.True(t, eris.Is(err, crs.ErrMismatch))

	_, err = Join(deaths(), blocks(), Options{How: "outer"})
	require.Error(t, err)
	_, err = Join(deaths(), blocks(), Options{Predicate: "near"})
	require.Error(t, err)
}

func TestJoin_NilGeometryNeverMatches(t *testing.T) {
	l := layer.New("ghosts", crs.BritishNatGrid)
	l.Append(&layer.Feature{})
	out, err := Join(l, blocks(), Options{How: Left})
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Nil(t, out.Features[0].Get(IndexRight))
}

func pumps() *layer.Layer {
	l := layer.New("pumps", crs.BritishNatGrid, layer.Field{Name: "pump", Type: layer.String})
	l.Append(
		&layer.Feature{Props: map[string]any{"pump": "broad"}, Geom: pt(0, 0)},
		&layer.Feature{Props: map[string]any{"pump": "rupert"}, Geom: pt(20, 0)},
		&layer.Feature{Props: map[string]any{"pump": "twin"}, Geom: pt(0, 0)},
	)
	return l
}

func TestNearest(t *testing.T) {
	out, err := Nearest(deaths(), pumps(), NearestOptions{DistanceColumn: "dist"})
	require.NoError(t, err)
	require.Equal(t, 5, out.Len())
	assert.Contains(t, out.ColumnNames(), "dist")

	assert.Equal(t, "broad", out.Features[0].Get("pump"), "tie goes to lowest index")
	assert.Equal(t, int64(0), out.Features[0].Get(IndexRight))
	assert.InDelta(t, 1.4142135, out.Features[0].Get("dist").(float64), 1e-6)
	assert.Equal(t, "rupert", out.Features[3].Get("pump"))
	assert.InDelta(t, 7.0710678, out.Features[3].Get("dist").(float64), 1e-6)
}

func TestNearest_MaxDistance(t *testing.T) {
	out, err := Nearest(deaths(), pumps(), NearestOptions{MaxDistance: 5, DistanceColumn: "dist"})
	require.NoError(t, err)
	require.Equal(t, 5, out.Len())
	assert.Equal(t, "broad", out.Features[1].Get("pump"))
	assert.Nil(t, out.Features[2].Get("pump"), "d2 is 7.6 from broad")
	assert.Nil(t, out.Features[2].Get("dist"))
	assert.Nil(t, out.Features[4].Get(IndexRight))

	_, err = Nearest(deaths(), pumps(), NearestOptions{MaxDistance: -1})
	require.Error(t, err)
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    Spec
		name    string
		wantErr bool
	}{
		{in: "count", want: Spec{Func: Count}, name: "count"},
		{in: "SUM(deaths)", want: Spec{Func: Sum, Column: "deaths"}, name: "deaths_sum"},
		{in: "mean(deaths) as avg", want: Spec{Func: Mean, Column: "deaths", As: "avg"}, name: "avg"},
		{in: "count(deaths)", want: Spec{Func: Count, Column: "deaths"}, name: "deaths_count"},
		{in: "median(deaths)", wantErr: true},
		{in: "sum", wantErr: true},
		{in: "max(deaths", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSpec(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.name, got.Name())
		})
	}
}

func TestAggregate(t *testing.T) {
	joined, err := Join(deaths(), blocks(), Options{Predicate: spatial.Within, How: Left})
	require.NoError(t, err)

	out, err := Aggregate(joined, "ward", []Spec{
		{Func: Count},
		{Func: Sum, Column: "deaths"},
		{Func: Mean, Column: "deaths"},
		{Func: Min, Column: "deaths"},
		{Func: Max, Column: "deaths", As: "worst"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ward", "count", "deaths_sum", "deaths_mean", "deaths_min", "worst"}, out.ColumnNames())
	require.Equal(t, 3, out.Len())

	east, west, none := out.Features[0], out.Features[1], out.Features[2]
	assert.Equal(t, "east", east.Get("ward"))
	assert.Equal(t, int64(1), east.Get("count"))
	assert.Equal(t, 1.0, east.Get("deaths_sum"))

	assert.Equal(t, "west", west.Get("ward"))
	assert.Equal(t, int64(3), west.Get("count"))
	assert.Equal(t, 7.0, west.Get("deaths_sum"))
	assert.InDelta(t, 7.0/3, west.Get("deaths_mean").(float64), 1e-12)
	assert.Equal(t, 1.0, west.Get("deaths_min"))
	assert.Equal(t, 4.0, west.Get("worst"))

	assert.Nil(t, none.Get("ward"), "nil keys sort last")
	assert.Nil(t, none.Get("deaths_sum"))

	_, err = Aggregate(joined, "borough", nil)
	assert.True(t, eris.Is(err, layer.ErrNoColumn))
	_, err = Aggregate(joined, "ward", []Spec{{Func: Sum, Column: "nope"}})
	assert.True(t, eris.Is(err, layer.ErrNoColumn))
}

func TestCountWithin(t *testing.T) {
	out, err := CountWithin(deaths(), blocks(), "deaths_n", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Features[0].Get("deaths_n"))
	assert.Equal(t, int64(1), out.Features[1].Get("deaths_n"))
	assert.Equal(t, int64(0), out.Features[2].Get("deaths_n"))
	assert.False(t, blocks().HasColumn("deaths_n"))

	d := deaths()
	d.Features[4].Props["deaths"] = int64(9)
	weighted, err := CountWithin(d, blocks(), "deaths_sum", "deaths")
	require.NoError(t, err)
	assert.Equal(t, 7.0, weighted.Features[0].Get("deaths_sum"))
	f, err := weighted.Field("deaths_sum")
	require.NoError(t, err)
	assert.Equal(t, layer.Float, f.Type)

	_, err = CountWithin(deaths(), blocks(), "n", "missing")
	assert.True(t, eris.Is(err, layer.ErrNoColumn))
}
