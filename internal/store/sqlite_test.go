package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "geolab.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testPumps() *layer.Layer {
	l := layer.New("pumps", crs.BritishNatGrid,
		layer.Field{Name: "name", Type: layer.String},
		layer.Field{Name: "deaths", Type: layer.Int},
		layer.Field{Name: "share", Type: layer.Float},
		layer.Field{Name: "open", Type: layer.Bool},
		layer.Field{Name: "zone", Type: layer.Geometry},
	)
	l.Append(
		&layer.Feature{
			ID: "p1",
			Props: map[string]any{
				"name": "Broad St", "deaths": int64(280), "share": 0.5, "open": false,
				"zone": geom.NewPolygonFlat(geom.XY, []float64{0, 0, 2, 0, 2, 2, 0, 2, 0, 0}, []int{10}),
			},
			Geom: geom.NewPointFlat(geom.XY, []float64{529396.5, 181025.1}),
		},
		&layer.Feature{
			ID:    "p2",
			Props: map[string]any{"name": "Rupert St", "deaths": nil, "share": 0.25, "open": true},
		},
	)
	return l
}

func TestSQLite_SaveLoad(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveLayer(ctx, testPumps()))

	l, err := st.LoadLayer(ctx, "pumps")
	require.NoError(t, err)
	assert.Equal(t, "pumps", l.Name)
	assert.Equal(t, 27700, l.CRS.EPSG)
	assert.Equal(t, testPumps().Fields, l.Fields)
	require.Equal(t, 2, l.Len())

	p1 := l.Features[0]
	assert.Equal(t, "p1", p1.ID)
	assert.Equal(t, "Broad St", p1.Get("name"))
	assert.Equal(t, int64(280), p1.Get("deaths"))
	assert.Equal(t, 0.5, p1.Get("share"))
	assert.Equal(t, false, p1.Get("open"))
	zone, ok := p1.Get("zone").(*geom.Polygon)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0, 2, 0, 2, 2, 0, 2, 0, 0}, zone.FlatCoords())
	pt, ok := p1.Geom.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, []float64{529396.5, 181025.1}, pt.FlatCoords())

	p2 := l.Features[1]
	assert.Nil(t, p2.Get("deaths"))
	assert.Nil(t, p2.Get("zone"))
	assert.Nil(t, p2.Geom)
}

func TestSQLite_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveLayer(ctx, testPumps()))
	smaller := testPumps()
	smaller.Features = smaller.Features[:1]
	require.NoError(t, st.SaveLayer(ctx, smaller))

	l, err := st.LoadLayer(ctx, "pumps")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Len())
}

func TestSQLite_ListDelete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	infos, err := st.ListLayers(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	require.NoError(t, st.SaveLayer(ctx, testPumps()))
	deaths := layer.New("deaths", crs.BritishNatGrid)
	deaths.Append(&layer.Feature{Geom: geom.NewPointFlat(geom.XY, []float64{1, 1})})
	require.NoError(t, st.SaveLayer(ctx, deaths))

	infos, err = st.ListLayers(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "deaths", infos[0].Name)
	assert.Equal(t, 1, infos[0].Features)
	assert.Equal(t, "pumps", infos[1].Name)
	assert.Equal(t, 2, infos[1].Features)
	assert.Equal(t, 27700, infos[1].EPSG)
	assert.Len(t, infos[1].Fields, 5)
	assert.False(t, infos[1].SavedAt.IsZero())

	require.NoError(t, st.DeleteLayer(ctx, "pumps"))
	_, err = st.LoadLayer(ctx, "pumps")
	assert.True(t, eris.Is(err, ErrNotFound))
	err = st.DeleteLayer(ctx, "pumps")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_Errors(t *testing.T) {
	_, err := NewSQLite("")
	require.Error(t, err)

	st := newTestSQLiteStore(t)
	err = st.SaveLayer(context.Background(), layer.New("", crs.BritishNatGrid))
	require.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DatabaseURL: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	infos, err := s.ListLayers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)

	_, err = Open(context.Background(), Config{Driver: "oracle"})
	require.Error(t, err)
}
