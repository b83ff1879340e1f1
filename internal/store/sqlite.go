package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/vector"
)

// SQLiteStore implements Store using modernc.org/sqlite. Geometries are kept
// as ISO WKB blobs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, eris.New("sqlite: empty database path")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS layers (
	name          TEXT PRIMARY KEY,
	epsg          INTEGER NOT NULL DEFAULT 0,
	crs_name      TEXT NOT NULL DEFAULT '',
	crs_wkt       TEXT NOT NULL DEFAULT '',
	fields        TEXT NOT NULL,
	feature_count INTEGER NOT NULL,
	saved_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS features (
	layer TEXT NOT NULL,
	idx   INTEGER NOT NULL,
	fid   TEXT NOT NULL DEFAULT '',
	props TEXT NOT NULL,
	geom  BLOB,
	PRIMARY KEY (layer, idx)
);
`

// Migrate creates the layer and feature tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveLayer replaces any layer of the same name in one transaction.
func (s *SQLiteStore) SaveLayer(ctx context.Context, l *layer.Layer) error {
	if l.Name == "" {
		return eris.New("sqlite: save layer without a name")
	}
	fieldsJSON, err := encodeFields(l.Fields)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM features WHERE layer = ?`, l.Name); err != nil {
		return eris.Wrapf(err, "sqlite: clear layer %s", l.Name)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO layers (name, epsg, crs_name, crs_wkt, fields, feature_count, saved_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.Name, l.CRS.EPSG, l.CRS.Name, l.CRS.WKT, string(fieldsJSON), l.Len(), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert layer %s", l.Name)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO features (layer, idx, fid, props, geom) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare feature insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, f := range l.Features {
		props, err := encodeProps(l.Fields, f)
		if err != nil {
			return err
		}
		wkb, err := vector.EncodeWKB(f.Geom)
		if err != nil {
			return eris.Wrapf(err, "sqlite: feature %d", i)
		}
		if _, err := stmt.ExecContext(ctx, l.Name, i, f.ID, string(props), wkb); err != nil {
			return eris.Wrapf(err, "sqlite: insert feature %d of %s", i, l.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit tx")
	}
	zap.L().Debug("sqlite: saved layer", zap.String("layer", l.Name), zap.Int("features", l.Len()))
	return nil
}

func (s *SQLiteStore) LoadLayer(ctx context.Context, name string) (*layer.Layer, error) {
	var (
		c          crs.CRS
		fieldsJSON string
		count      int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT epsg, crs_name, crs_wkt, fields, feature_count FROM layers WHERE name = ?`, name,
	).Scan(&c.EPSG, &c.Name, &c.WKT, &fieldsJSON, &count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: %s", name)
		}
		return nil, eris.Wrapf(err, "sqlite: get layer %s", name)
	}
	fields, err := decodeFields([]byte(fieldsJSON))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT fid, props, geom FROM features WHERE layer = ? ORDER BY idx`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query features of %s", name)
	}
	defer rows.Close() //nolint:errcheck

	l := layer.New(name, c, fields...)
	l.Features = make([]*layer.Feature, 0, count)
	for rows.Next() {
		var (
			props string
			wkb   []byte
			f     layer.Feature
		)
		if err := rows.Scan(&f.ID, &props, &wkb); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feature")
		}
		if f.Props, err = decodeProps(fields, []byte(props)); err != nil {
			return nil, err
		}
		if f.Geom, err = vector.DecodeWKB(wkb); err != nil {
			return nil, err
		}
		l.Features = append(l.Features, &f)
	}
	return l, eris.Wrap(rows.Err(), "sqlite: iterate features")
}

func (s *SQLiteStore) ListLayers(ctx context.Context) ([]LayerInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, epsg, crs_name, fields, feature_count, saved_at FROM layers ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list layers")
	}
	defer rows.Close() //nolint:errcheck

	var out []LayerInfo
	for rows.Next() {
		var (
			info       LayerInfo
			fieldsJSON string
		)
		if err := rows.Scan(&info.Name, &info.EPSG, &info.CRSName, &fieldsJSON, &info.Features, &info.SavedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan layer")
		}
		if info.Fields, err = decodeFields([]byte(fieldsJSON)); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate layers")
}

func (s *SQLiteStore) DeleteLayer(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM features WHERE layer = ?`, name); err != nil {
		return eris.Wrapf(err, "sqlite: delete features of %s", name)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM layers WHERE name = ?`, name)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete layer %s", name)
	}
	if err := checkRowsAffected(res, name); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func checkRowsAffected(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s", name)
	}
	return nil
}
