package server

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/store"
	"github.com/sells-group/geolab/internal/vector"
)

// Source supplies the layers the server publishes. store.Store satisfies it.
type Source interface {
	LoadLayer(ctx context.Context, name string) (*layer.Layer, error)
	ListLayers(ctx context.Context) ([]store.LayerInfo, error)
}

// FileSource publishes the vector files of a data directory.
type FileSource struct {
	loader *vector.DirLoader
}

// NewFileSource serves the datasets under dir. Files without CRS metadata
// get defaultCRS.
func NewFileSource(dir string, defaultCRS crs.CRS) *FileSource {
	return &FileSource{loader: vector.NewDirLoader(dir, defaultCRS)}
}

// LoadLayer reads the named dataset. A missing file is store.ErrNotFound.
func (s *FileSource) LoadLayer(_ context.Context, name string) (*layer.Layer, error) {
	l, err := s.loader.Load(name)
	if eris.Is(err, vector.ErrNotFound) {
		return nil, eris.Wrapf(store.ErrNotFound, "%s", name)
	}
	return l, err
}

// ListLayers reads every dataset in the directory to describe it.
func (s *FileSource) ListLayers(ctx context.Context) ([]store.LayerInfo, error) {
	names, err := s.loader.List()
	if err != nil {
		return nil, err
	}
	infos := make([]store.LayerInfo, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l, err := s.loader.Load(name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, store.LayerInfo{
			Name:     name,
			EPSG:     l.CRS.EPSG,
			CRSName:  l.CRS.Name,
			Fields:   l.Fields,
			Features: l.Len(),
		})
	}
	return infos, nil
}
