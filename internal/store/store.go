// Package store persists analysis layers in PostGIS or SQLite.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geolab/internal/layer"
)

// ErrNotFound is returned when a named layer is not stored.
var ErrNotFound = eris.New("store: layer not found")

// LayerInfo describes a stored layer without its features.
type LayerInfo struct {
	Name     string        `json:"name"`
	EPSG     int           `json:"epsg"`
	CRSName  string        `json:"crs_name"`
	Fields   []layer.Field `json:"fields"`
	Features int           `json:"features"`
	SavedAt  time.Time     `json:"saved_at"`
}

// Store defines layer persistence.
type Store interface {
	// SaveLayer writes l under l.Name, replacing any stored layer of that name.
	SaveLayer(ctx context.Context, l *layer.Layer) error
	LoadLayer(ctx context.Context, name string) (*layer.Layer, error)
	ListLayers(ctx context.Context) ([]LayerInfo, error)
	DeleteLayer(ctx context.Context, name string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects and configures a store.
type Config struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	Schema      string      `yaml:"schema" mapstructure:"schema"`
	Pool        *PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open connects the configured store and runs its migration.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverPostgres:
		s, err = NewPostgres(ctx, cfg.DatabaseURL, cfg.Schema, cfg.Pool)
	case DriverSQLite, "":
		s, err = NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}
