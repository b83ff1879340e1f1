package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
)

func pumps() *layer.Layer {
	l := layer.New("pumps", crs.BritishNatGrid,
		layer.Field{Name: "name", Type: layer.String},
		layer.Field{Name: "deaths", Type: layer.Int},
		layer.Field{Name: "dist", Type: layer.Float},
	)
	l.Append(
		&layer.Feature{Props: map[string]any{"name": "Broad St", "deaths": int64(280), "dist": 12.5}, Geom: geom.NewPointFlat(geom.XY, []float64{1, 2})},
		&layer.Feature{Props: map[string]any{"name": "Rupert, St", "deaths": nil, "dist": 0.1}},
	)
	return l
}

func TestFromLayer(t *testing.T) {
	tb := FromLayer(pumps(), true)
	assert.Equal(t, "pumps", tb.Title)
	assert.Equal(t, []string{"name", "deaths", "dist", GeometryColumn}, tb.Columns)
	require.Len(t, tb.Rows, 2)
	assert.Equal(t, "Broad St", tb.Rows[0][0])
	assert.Contains(t, Format(tb.Rows[0][3]), "POINT")

	assert.Len(t, FromLayer(pumps(), false).Columns, 3)
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{0.1, "0.1"},
		{12.0, "12"},
		{int64(7), "7"},
		{true, "true"},
		{"x", "x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.in))
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, FromLayer(pumps(), false)))
	assert.Equal(t, "name,deaths,dist\nBroad St,280,12.5\n\"Rupert, St\",,0.1\n", buf.String())
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, FromLayer(pumps(), false)))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "pumps", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "name"))
	assert.Equal(t, strings.Index(lines[1], "deaths"), strings.Index(lines[2], "280"), "columns aligned")
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "soho.xlsx")
	long := &Table{Title: strings.Repeat("x", 40), Columns: []string{"a"}, Rows: [][]any{{1.5}}}
	require.NoError(t, WriteXLSX(path, FromLayer(pumps(), false), long, long))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 3)
	assert.Equal(t, "pumps", f.Sheets[0].Name)
	assert.Len(t, f.Sheets[1].Name, maxSheetName)
	assert.NotEqual(t, f.Sheets[1].Name, f.Sheets[2].Name)

	rows := f.Sheets[0].Rows
	require.Len(t, rows, 3)
	assert.Equal(t, "name", rows[0].Cells[0].String())
	assert.Equal(t, "Broad St", rows[1].Cells[0].String())
	assert.Equal(t, "280", rows[1].Cells[1].String())

	require.Error(t, WriteXLSX(path))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"t.csv", "t.txt", "t.xlsx"} {
		require.NoError(t, WriteFile(filepath.Join(dir, name), FromLayer(pumps(), true)))
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "t.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "name,deaths,dist,geometry\n"))
}
