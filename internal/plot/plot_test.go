package plot

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geolab/internal/classify"
	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
)

func blocks() *layer.Layer {
	l := layer.New("blocks", crs.BritishNatGrid, layer.Field{Name: "deaths", Type: layer.Int})
	for i, n := range []int64{2, 7, 11} {
		x := float64(i * 10)
		l.Append(&layer.Feature{
			Props: map[string]any{"deaths": n},
			Geom: geom.NewPolygonFlat(geom.XY, []float64{
				x, 0, x + 10, 0, x + 10, 10, x, 10, x, 0,
				x + 2, 2, x + 4, 2, x + 4, 4, x + 2, 4, x + 2, 2,
			}, []int{10, 20}),
		})
	}
	return l
}

func pumps() *layer.Layer {
	l := layer.New("pumps", crs.BritishNatGrid, layer.Field{Name: "name", Type: layer.String})
	l.Append(
		&layer.Feature{Props: map[string]any{"name": "Broad St"}, Geom: geom.NewPointFlat(geom.XY, []float64{15, 5})},
		&layer.Feature{Props: map[string]any{"name": nil}, Geom: geom.NewPointFlat(geom.XY, []float64{25, 5})},
	)
	return l
}

func TestProjection(t *testing.T) {
	m := &Map{Width: 300, Height: 200, Margin: 10}
	m.defaults()
	b := geom.NewBounds(geom.XY).Set(0, 0, 30, 10)
	p := m.project(b)

	assert.InDelta(t, 280.0/30, p.scale, 1e-12, "width is the tighter axis")
	x, y := p.xy(0, 10)
	assert.InDelta(t, 10, x, 1e-9)
	ymin := y
	_, y = p.xy(0, 0)
	assert.Greater(t, y, ymin, "y axis points down")
	x, _ = p.xy(30, 0)
	assert.InDelta(t, 290, x, 1e-9)
}

func TestRender(t *testing.T) {
	c, err := classify.UserDefined([]float64{2, 7, 11}, []float64{5, 10})
	require.NoError(t, err)

	m := &Map{
		Title: "Soho, 1854",
		Layers: []Layer{
			{Data: blocks(), Column: "deaths", Classification: c, Palette: Palette("reds", 3)},
			{Data: pumps(), Label: "name", Style: Style{Fill: "#0000ff", Radius: 5}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, m.Render(&buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.Contains(t, out, "<title>Soho, 1854</title>")
	assert.Equal(t, 3, strings.Count(out, "fill-rule:evenodd"))
	assert.Equal(t, 2, strings.Count(out, "<circle"))
	assert.Contains(t, out, "Broad St")
	assert.Contains(t, out, "Deaths")
	assert.Contains(t, out, "[2, 5] (1)")
	for _, color := range Palette("reds", 3) {
		assert.Contains(t, out, "fill:"+color)
	}
	assert.Contains(t, out, `id="blocks"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "</svg>"))
}

func TestRender_DefaultClassification(t *testing.T) {
	ml := Layer{Data: blocks(), Column: "deaths"}
	m := &Map{Layers: []Layer{ml}}
	var buf bytes.Buffer
	require.NoError(t, m.Render(&buf))
	require.NotNil(t, m.Layers[0].Classification)
	assert.Equal(t, 5, m.Layers[0].Classification.K())
	assert.Len(t, m.Layers[0].Palette, 5)
}

func TestRender_GeometryColumn(t *testing.T) {
	l := pumps()
	l.AddColumn("zone", layer.Geometry, func(f *layer.Feature) any {
		p := f.Geom.(*geom.Point)
		x, y := p.X(), p.Y()
		return geom.NewPolygonFlat(geom.XY, []float64{x - 1, y - 1, x + 1, y - 1, x + 1, y + 1, x - 1, y + 1, x - 1, y - 1}, []int{10})
	})
	m := &Map{Layers: []Layer{{Data: l, GeometryColumn: "zone"}}}
	var buf bytes.Buffer
	require.NoError(t, m.Render(&buf))
	assert.Equal(t, 2, strings.Count(buf.String(), "fill-rule:evenodd"))
	assert.NotContains(t, buf.String(), "<circle")
}

func TestRender_Errors(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, (&Map{}).Render(&buf))
	require.Error(t, (&Map{Layers: []Layer{{Data: layer.New("empty", crs.BritishNatGrid)}}}).Render(&buf))
	require.Error(t, (&Map{Layers: []Layer{{Data: pumps(), Label: "missing"}}}).Render(&buf))
	require.Error(t, (&Map{Layers: []Layer{{Data: pumps(), Column: "name"}}}).Render(&buf))
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maps", "pumps.svg")
	m := &Map{Layers: []Layer{{Data: pumps()}}}
	require.NoError(t, m.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
}

func TestPalette(t *testing.T) {
	assert.Equal(t, []string{"#ffffcc", "#fd8d3c", "#800026"}, Palette("YlOrRd", 3))
	assert.Equal(t, Palette(DefaultPalette, 4), Palette("nope", 4))
	assert.Len(t, Palette("blues", 12), 12)
	assert.Nil(t, Palette("blues", 0))
	assert.Equal(t, []string{"#6baed6"}, Palette("blues", 1))
	assert.Contains(t, Palettes(), "greens")
}

func TestHeading(t *testing.T) {
	assert.Equal(t, "Deaths N", Heading("deaths_n"))
}
