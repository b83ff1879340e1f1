package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/db"
	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/vector"
)

// DefaultSchema holds geolab tables in PostGIS.
const DefaultSchema = "geolab"

// PostgresStore implements Store on PostGIS using pgxpool. Features are
// bulk-loaded with COPY as EWKB carrying the layer SRID.
type PostgresStore struct {
	pool    db.Pool
	schema  string
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var featureColumns = []string{"layer", "idx", "fid", "props", "geom"}

var layerColumns = []string{"name", "epsg", "crs_name", "crs_wkt", "fields", "feature_count", "saved_at"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString, schema string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, schema), nil
}

func newPostgresStore(pool db.Pool, schema string) *PostgresStore {
	if schema == "" {
		schema = DefaultSchema
	}
	return &PostgresStore{pool: pool, schema: schema, closeFn: pool.Close}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) table(name string) string {
	return s.schema + "." + name
}

func (s *PostgresStore) sanitized(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
	name          TEXT PRIMARY KEY,
	epsg          INTEGER NOT NULL DEFAULT 0,
	crs_name      TEXT NOT NULL DEFAULT '',
	crs_wkt       TEXT NOT NULL DEFAULT '',
	fields        JSONB NOT NULL,
	feature_count INTEGER NOT NULL,
	saved_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[3]s (
	layer TEXT NOT NULL REFERENCES %[2]s(name) ON DELETE CASCADE,
	idx   INTEGER NOT NULL,
	fid   TEXT NOT NULL DEFAULT '',
	props JSONB NOT NULL,
	geom  geometry,
	PRIMARY KEY (layer, idx)
);

CREATE INDEX IF NOT EXISTS features_geom_gist ON %[3]s USING GIST (geom);
`

// Migrate enables PostGIS and creates the schema, layer and feature tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	sql := fmt.Sprintf(postgresMigration,
		pgx.Identifier{s.schema}.Sanitize(), s.sanitized("layers"), s.sanitized("features"))
	_, err := s.pool.Exec(ctx, sql)
	return eris.Wrap(err, "postgres: migrate")
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SaveLayer upserts the layer row and replaces its features with one COPY,
// all in one transaction.
func (s *PostgresStore) SaveLayer(ctx context.Context, l *layer.Layer) error {
	if l.Name == "" {
		return eris.New("postgres: save layer without a name")
	}
	fieldsJSON, err := encodeFields(l.Fields)
	if err != nil {
		return err
	}
	rows := make([][]any, len(l.Features))
	for i, f := range l.Features {
		props, err := encodeProps(l.Fields, f)
		if err != nil {
			return err
		}
		ewkb, err := vector.EncodeEWKB(f.Geom, l.CRS.EPSG)
		if err != nil {
			return eris.Wrapf(err, "postgres: feature %d", i)
		}
		rows[i] = []any{l.Name, int32(i), f.ID, props, ewkb}
	}
	upsert, err := db.UpsertSQL(db.UpsertConfig{
		Table:        s.table("layers"),
		Columns:      layerColumns,
		ConflictKeys: []string{"name"},
	})
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, upsert,
		l.Name, int32(l.CRS.EPSG), l.CRS.Name, l.CRS.WKT, fieldsJSON, int32(l.Len()), time.Now().UTC())
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert layer %s", l.Name)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+s.sanitized("features")+` WHERE layer = $1`, l.Name); err != nil {
		return eris.Wrapf(err, "postgres: clear layer %s", l.Name)
	}
	if _, err := db.CopyFrom(ctx, tx, s.table("features"), featureColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: copy features of %s", l.Name)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit tx")
	}
	zap.L().Debug("postgres: saved layer", zap.String("layer", l.Name), zap.Int("features", l.Len()))
	return nil
}

// LoadLayer reads a layer back with its features in saved order.
func (s *PostgresStore) LoadLayer(ctx context.Context, name string) (*layer.Layer, error) {
	var (
		c          crs.CRS
		epsg       int32
		fieldsJSON []byte
		count      int32
	)
	err := s.pool.QueryRow(ctx,
		`SELECT epsg, crs_name, crs_wkt, fields, feature_count FROM `+s.sanitized("layers")+` WHERE name = $1`, name,
	).Scan(&epsg, &c.Name, &c.WKT, &fieldsJSON, &count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: %s", name)
		}
		return nil, eris.Wrapf(err, "postgres: get layer %s", name)
	}
	c.EPSG = int(epsg)
	fields, err := decodeFields(fieldsJSON)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT fid, props, ST_AsEWKB(geom) FROM `+s.sanitized("features")+` WHERE layer = $1 ORDER BY idx`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query features of %s", name)
	}
	defer rows.Close()

	l := layer.New(name, c, fields...)
	l.Features = make([]*layer.Feature, 0, count)
	for rows.Next() {
		var (
			props []byte
			ewkb  []byte
			f     layer.Feature
		)
		if err := rows.Scan(&f.ID, &props, &ewkb); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feature")
		}
		if f.Props, err = decodeProps(fields, props); err != nil {
			return nil, err
		}
		if f.Geom, err = vector.DecodeWKB(ewkb); err != nil {
			return nil, err
		}
		l.Features = append(l.Features, &f)
	}
	return l, eris.Wrap(rows.Err(), "postgres: iterate features")
}

// ListLayers returns the stored layers ordered by name.
func (s *PostgresStore) ListLayers(ctx context.Context) ([]LayerInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, epsg, crs_name, fields, feature_count, saved_at FROM `+s.sanitized("layers")+` ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list layers")
	}
	defer rows.Close()

	var out []LayerInfo
	for rows.Next() {
		var (
			info        LayerInfo
			epsg, count int32
			fieldsJSON  []byte
		)
		if err := rows.Scan(&info.Name, &epsg, &info.CRSName, &fieldsJSON, &count, &info.SavedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan layer")
		}
		info.EPSG, info.Features = int(epsg), int(count)
		if info.Fields, err = decodeFields(fieldsJSON); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate layers")
}

// DeleteLayer removes a layer; its features go with it by cascade.
func (s *PostgresStore) DeleteLayer(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.sanitized("layers")+` WHERE name = $1`, name)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete layer %s", name)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: %s", name)
	}
	return nil
}
