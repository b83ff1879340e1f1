package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geolab/internal/vector"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return newPostgresStore(mock, ""), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS postgis`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLayer(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "geolab"."layers" .* ON CONFLICT \("name"\) DO UPDATE`).
		WithArgs("pumps", int32(27700), pgxmock.AnyArg(), "", pgxmock.AnyArg(), int32(2), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM "geolab"."features" WHERE layer = \$1`).
		WithArgs("pumps").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"geolab", "features"}, featureColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, s.SaveLayer(context.Background(), testPumps()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLayer_CopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM`).
		WithArgs("pumps").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"geolab", "features"}, featureColumns).WillReturnError(eris.New("disk full"))
	mock.ExpectRollback()

	err := s.SaveLayer(context.Background(), testPumps())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy features of pumps")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadLayer(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	fields, err := encodeFields(testPumps().Fields)
	require.NoError(t, err)
	p1, err := encodeProps(testPumps().Fields, testPumps().Features[0])
	require.NoError(t, err)
	ewkb, err := vector.EncodeEWKB(geom.NewPointFlat(geom.XY, []float64{1, 2}), 27700)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT epsg, crs_name, crs_wkt, fields, feature_count FROM "geolab"."layers" WHERE name = \$1`).
		WithArgs("pumps").
		WillReturnRows(pgxmock.NewRows([]string{"epsg", "crs_name", "crs_wkt", "fields", "feature_count"}).
			AddRow(int32(27700), "OSGB 1936 / British National Grid", "", fields, int32(1)))
	mock.ExpectQuery(`SELECT fid, props, ST_AsEWKB\(geom\) FROM "geolab"."features"`).
		WithArgs("pumps").
		WillReturnRows(pgxmock.NewRows([]string{"fid", "props", "geom"}).AddRow("p1", p1, ewkb))

	l, err := s.LoadLayer(context.Background(), "pumps")
	require.NoError(t, err)
	assert.Equal(t, 27700, l.CRS.EPSG)
	require.Equal(t, 1, l.Len())
	assert.Equal(t, int64(280), l.Features[0].Get("deaths"))
	pt, ok := l.Features[0].Geom.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, 27700, pt.SRID())
	assert.Equal(t, []float64{1, 2}, pt.FlatCoords())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadLayer_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT epsg`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.LoadLayer(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListLayers(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	saved := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT name, epsg, crs_name, fields, feature_count, saved_at FROM "geolab"."layers" ORDER BY name`).
		WillReturnRows(pgxmock.NewRows([]string{"name", "epsg", "crs_name", "fields", "feature_count", "saved_at"}).
			AddRow("deaths", int32(27700), "OSGB", []byte(`[{"name":"n","type":"int"}]`), int32(489), saved))

	infos, err := s.ListLayers(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "deaths", infos[0].Name)
	assert.Equal(t, 489, infos[0].Features)
	assert.Equal(t, saved, infos[0].SavedAt)
	assert.Equal(t, "n", infos[0].Fields[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteLayer(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM "geolab"."layers"`).
		WithArgs("pumps").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM "geolab"."layers"`).
		WithArgs("pumps").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.DeleteLayer(context.Background(), "pumps"))
	err := s.DeleteLayer(context.Background(), "pumps")
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
