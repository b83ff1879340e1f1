package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geolab/internal/config"
	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/vector"
)

func testConfig(dataDir string) *config.Config {
	return &config.Config{
		Data:   config.DataConfig{Dir: dataDir, CRS: "EPSG:27700"},
		Store:  config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dataDir, "geolab.db"), Schema: "geolab"},
		Server: config.ServerConfig{Port: 8080, Source: "files"},
		Plot:   config.PlotConfig{Width: 400, Height: 400, Margin: 20, Palette: "ylorrd"},
		Fetch:  config.FetchConfig{UserAgent: "geolab-test", TimeoutSecs: 5, MaxRetries: 0, RatePerSec: 100},
		Log:    config.LogConfig{Level: "info", Format: "json"},
	}
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	return cmd, &buf
}

func square(x0, y0, size float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		x0, y0, x0 + size, y0, x0 + size, y0 + size, x0, y0 + size, x0, y0,
	}, []int{10})
}

// writeFixtures writes three pumps, five death records and four 50 m blocks
// (two south, two north) plus a central district to dir, and points cfg at
// dir.
func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	pumps := layer.New("pumps", crs.BritishNatGrid, layer.Field{Name: "name", Type: layer.String})
	for _, p := range []struct {
		name string
		x, y float64
	}{{"Broad St", 0, 0}, {"Rupert St", 100, 0}, {"Warwick St", 50, 100}} {
		pumps.Append(&layer.Feature{Props: map[string]any{"name": p.name}, Geom: geom.NewPointFlat(geom.XY, []float64{p.x, p.y})})
	}
	deaths := layer.New("deaths", crs.BritishNatGrid, layer.Field{Name: "deaths", Type: layer.Int})
	for _, d := range []struct {
		x, y float64
		n    int64
	}{{5, 5, 3}, {10, -5, 2}, {-5, 2, 1}, {95, 3, 1}, {52, 90, 2}} {
		deaths.Append(&layer.Feature{Props: map[string]any{"deaths": d.n}, Geom: geom.NewPointFlat(geom.XY, []float64{d.x, d.y})})
	}
	blocks := layer.New("blocks", crs.BritishNatGrid,
		layer.Field{Name: "zone", Type: layer.String},
		layer.Field{Name: "pop", Type: layer.Int},
	)
	for _, b := range []struct {
		zone string
		x, y float64
		pop  int64
	}{{"south", 0, 0, 10}, {"south", 50, 0, 20}, {"north", 0, 50, 30}, {"north", 50, 50, 40}} {
		blocks.Append(&layer.Feature{Props: map[string]any{"zone": b.zone, "pop": b.pop}, Geom: square(b.x, b.y, 50)})
	}
	district := layer.New("district", crs.BritishNatGrid, layer.Field{Name: "district", Type: layer.String})
	district.Append(&layer.Feature{Props: map[string]any{"district": "centre"}, Geom: square(25, 25, 50)})

	for _, l := range []*layer.Layer{pumps, deaths, blocks, district} {
		require.NoError(t, vector.WriteGeoJSON(filepath.Join(dir, l.Name+".geojson"), l))
	}
	cfg = testConfig(dir)
	return dir
}

func TestNewAnalysis_Names(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"a", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, sub, "pumps.geojson"), []byte("{}"), 0o644))
	}

	a := newAnalysis("x", []string{
		filepath.Join(dir, "a", "pumps.geojson"),
		filepath.Join(dir, "b", "pumps.geojson"),
		"deaths",
		"deaths",
	})
	assert.Equal(t, []string{"pumps", "pumps_2", "deaths", "deaths"}, a.layers)
	assert.Equal(t, "deaths", a.inputs["deaths"])
	assert.Len(t, a.inputs, 3)
}

func TestRelateAnalysis(t *testing.T) {
	writeFixtures(t)
	cmd, out := testCommand()

	_, err := relateAnalysis([]string{"pumps", "deaths"}, relateOptions{
		predicates: "intersects, disjoint",
		id:         "name",
		distance:   true,
	}).run(cmd)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "[1] relate: relations pumps vs deaths")
	assert.Contains(t, text, "[2] distance: distance pumps to deaths")
	// 3 pumps x 5 deaths, each disjoint.
	assert.Equal(t, 15, strings.Count(text, "true"))
	assert.Equal(t, 15, strings.Count(text, "false"))
}

func TestRelateAnalysis_SingleLayer(t *testing.T) {
	writeFixtures(t)
	cmd, out := testCommand()

	_, err := relateAnalysis([]string{"blocks"}, relateOptions{predicates: "touches", only: true, matrix: true}).run(cmd)
	require.NoError(t, err)
	// Every pair of the 2x2 grid touches, at an edge or a corner.
	assert.Equal(t, 12, strings.Count(out.String(), "true"))
}

func TestRelateAnalysis_BadPredicate(t *testing.T) {
	writeFixtures(t)
	cmd, _ := testCommand()
	_, err := relateAnalysis([]string{"pumps", "deaths"}, relateOptions{predicates: "near"}).run(cmd)
	require.Error(t, err)
}

func TestBufferAnalysis(t *testing.T) {
	writeFixtures(t)
	cmd, out := testCommand()
	path := filepath.Join(t.TempDir(), "rings.geojson")

	_, err := bufferAnalysis([]string{"pumps"}, bufferOptions{distance: 10, quadSegs: 8, output: path}).run(cmd)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "buffered pumps by 10")

	l, err := vector.Read(path)
	require.NoError(t, err)
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, layer.KindPolygon, l.GeometryKind())
	assert.Equal(t, 27700, l.CRS.EPSG)
}

func TestOverlayAndDissolve(t *testing.T) {
	dir := writeFixtures(t)
	cmd, _ := testCommand()
	out := filepath.Join(dir, "out", "centre.geojson")

	_, err := overlayAnalysis([]string{"blocks", "district"}, overlayOptions{how: "intersection", output: out}).run(cmd)
	require.NoError(t, err)
	l, err := vector.Read(out)
	require.NoError(t, err)
	assert.Equal(t, 4, l.Len())
	assert.True(t, l.HasColumn("district"))

	out = filepath.Join(dir, "out", "zones.geojson")
	_, err = dissolveAnalysis([]string{"blocks"}, dissolveOptions{by: "zone", output: out}).run(cmd)
	require.NoError(t, err)
	l, err = vector.Read(out)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	_, err = overlayAnalysis([]string{"blocks", "district"}, overlayOptions{how: "xor"}).run(cmd)
	require.Error(t, err)
}

func TestVoronoiAnalysis(t *testing.T) {
	dir := writeFixtures(t)
	cmd, out := testCommand()
	path := filepath.Join(dir, "out", "regions.geojson")

	a, err := voronoiAnalysis([]string{"pumps"}, voronoiOptions{count: "deaths", weight: "deaths", output: path})
	require.NoError(t, err)
	_, err = a.run(cmd)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "voronoi of pumps")

	l, err := vector.Read(path)
	require.NoError(t, err)
	require.Equal(t, 3, l.Len())
	counts, err := l.Floats("count")
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 1, 2}, counts)

	_, err = voronoiAnalysis([]string{"pumps"}, voronoiOptions{extent: "0,0,x,1"})
	require.Error(t, err)
}

func TestVoronoiAnalysis_Extent(t *testing.T) {
	dir := writeFixtures(t)
	cmd, _ := testCommand()
	path := filepath.Join(dir, "out", "clipped.geojson")

	a, err := voronoiAnalysis([]string{"pumps"}, voronoiOptions{extent: "-50,-50,150,150", output: path})
	require.NoError(t, err)
	_, err = a.run(cmd)
	require.NoError(t, err)
	l, err := vector.Read(path)
	require.NoError(t, err)
	b := l.Bounds()
	assert.InDelta(t, -50, b.Min(0), 1e-9)
	assert.InDelta(t, 150, b.Max(1), 1e-9)
}

func TestSJoinAnalysis_Aggregate(t *testing.T) {
	dir := writeFixtures(t)
	cmd, _ := testCommand()
	path := filepath.Join(dir, "out", "zones.csv")

	_, err := sjoinAnalysis([]string{"deaths", "blocks"}, sjoinOptions{
		predicate: "within",
		how:       "inner",
		by:        "zone",
		aggs:      "count,sum(deaths)",
		output:    path,
	}).run(cmd)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "zone,count,deaths_sum\nnorth,1,2\nsouth,2,4\n", string(data))
}

func TestSJoinAnalysis_Nearest(t *testing.T) {
	dir := writeFixtures(t)
	cmd, out := testCommand()
	path := filepath.Join(dir, "out", "nearest.geojson")

	_, err := sjoinAnalysis([]string{"deaths", "pumps"}, sjoinOptions{
		nearest:        true,
		distanceColumn: "dist",
		output:         path,
	}).run(cmd)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "nearest pumps to each deaths")

	l, err := vector.Read(path)
	require.NoError(t, err)
	assert.Equal(t, 5, l.Len())
	names, err := l.Column("name")
	require.NoError(t, err)
	assert.Equal(t, []any{"Broad St", "Broad St", "Broad St", "Rupert St", "Warwick St"}, names)
}

func TestWeightsAnalysis(t *testing.T) {
	dir := writeFixtures(t)
	cmd, out := testCommand()
	gal := filepath.Join(dir, "out", "blocks.gal")

	_, err := weightsAnalysis([]string{"blocks"}, weightsOptions{
		kind:         "queen",
		transform:    "R",
		moran:        "pop",
		permutations: 19,
		seed:         1,
		gal:          gal,
		focal:        -1,
	}).run(cmd)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "queen weights blocks")
	assert.Contains(t, text, "units: 4")
	assert.Contains(t, text, "permutations")
	assert.FileExists(t, gal)
}

func TestWeightsAnalysis_KernelFocal(t *testing.T) {
	dir := writeFixtures(t)
	cmd, _ := testCommand()
	path := filepath.Join(dir, "out", "kernel.geojson")

	_, err := weightsAnalysis([]string{"deaths"}, weightsOptions{
		kind:         "kernel",
		k:            2,
		function:     "triangular",
		permutations: 999,
		focal:        0,
		focalColumn:  "w",
		output:       path,
	}).run(cmd)
	require.NoError(t, err)

	l, err := vector.Read(path)
	require.NoError(t, err)
	w, err := l.Floats("w")
	require.NoError(t, err)
	require.Len(t, w, 5)
	assert.Greater(t, w[0], 0.0)
}

func TestWeightsAnalysis_BadKind(t *testing.T) {
	writeFixtures(t)
	cmd, _ := testCommand()
	_, err := weightsAnalysis([]string{"blocks"}, weightsOptions{kind: "bishop", focal: -1}).run(cmd)
	require.Error(t, err)
}

func TestClassifyAnalysis(t *testing.T) {
	writeFixtures(t)
	cmd, out := testCommand()

	a, err := classifyAnalysis([]string{"blocks"}, classifyOptions{column: "pop", bins: "15, 25, 40"})
	require.NoError(t, err)
	_, err = a.run(cmd)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "user_defined classes of blocks.pop")

	_, err = classifyAnalysis([]string{"blocks"}, classifyOptions{column: "pop", bins: "15,abc"})
	require.Error(t, err)

	a, err = classifyAnalysis([]string{"blocks"}, classifyOptions{column: "height", k: 2})
	require.NoError(t, err)
	_, err = a.run(cmd)
	require.Error(t, err)
}

func TestPlotAnalysis(t *testing.T) {
	dir := writeFixtures(t)
	cmd, out := testCommand()
	path := filepath.Join(dir, "out", "soho.svg")

	a, err := plotAnalysis([]string{"blocks", "pumps"}, plotOptions{
		title:  "Soho 1854",
		column: "pop",
		method: "quantiles",
		k:      2,
		labels: map[string]string{"pumps": "name"},
		fills:  map[string]string{"pumps": "#ff0000"},
		output: path,
	})
	require.NoError(t, err)
	_, err = a.run(cmd)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "wrote "+path)

	svg, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "Soho 1854")
	assert.Contains(t, string(svg), ">Broad St</text>")
	assert.Contains(t, string(svg), "#ff0000")
}

func TestInspect(t *testing.T) {
	dir := writeFixtures(t)
	cmd, out := testCommand()

	require.NoError(t, runInspect(cmd, []string{"pumps", filepath.Join(dir, "blocks.geojson")}))
	text := out.String()
	assert.Contains(t, text, "pumps: 3 features, point, crs EPSG:27700 (metre)")
	assert.Contains(t, text, "blocks: 4 features, polygon")
	assert.Contains(t, text, "crs: all layers match")

	wells := layer.New("wells", crs.WebMercator)
	wells.Append(&layer.Feature{Geom: geom.NewPointFlat(geom.XY, []float64{-15140, 6710240})})
	require.NoError(t, vector.WriteGeoJSON(filepath.Join(dir, "wells.geojson"), wells))

	inspectStrict = false
	out.Reset()
	require.NoError(t, runInspect(cmd, []string{"pumps", "wells"}))
	assert.Contains(t, out.String(), "crs: pumps and wells:")

	inspectStrict = true
	t.Cleanup(func() { inspectStrict = false })
	err := runInspect(cmd, []string{"pumps", "wells"})
	require.Error(t, err)
	assert.ErrorIs(t, err, crs.ErrMismatch)

	require.Error(t, runInspect(cmd, []string{"cesspits"}))
}

func TestParseFloatsAndSplitList(t *testing.T) {
	v, err := parseFloats(" 1, 2.5 ,-3")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5, -3}, v)

	v, err = parseFloats("")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parseFloats("1,,2")
	require.Error(t, err)

	assert.Equal(t, []string{"a", "b"}, splitList(" a,, b ,"))
	assert.Nil(t, splitList(""))
}
