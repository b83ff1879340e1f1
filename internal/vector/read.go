// Package vector reads and writes vector datasets: ESRI shapefiles (plain or
// zipped) and GeoJSON, plus WKB/EWKB helpers for the stores.
package vector

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
)

// ErrNotFound is returned by DirLoader when no file matches a dataset name.
var ErrNotFound = eris.New("vector: dataset not found")

// Extensions tried by DirLoader, in order.
var Extensions = []string{".shp", ".geojson", ".zip"}

// Option configures Read.
type Option func(*readOptions)

type readOptions struct {
	defaultCRS crs.CRS
	name       string
}

// WithDefaultCRS sets the CRS for files that do not declare one: shapefiles
// without a .prj and GeoJSON without a "crs" member.
func WithDefaultCRS(c crs.CRS) Option {
	return func(o *readOptions) { o.defaultCRS = c }
}

// WithName overrides the layer name derived from the file name.
func WithName(name string) Option {
	return func(o *readOptions) { o.name = name }
}

// Read loads a vector file, dispatching on its extension.
func Read(path string, opts ...Option) (*layer.Layer, error) {
	o := readOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	var (
		l   *layer.Layer
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".shp":
		l, err = ReadShapefile(path)
	case ".zip":
		l, err = ReadShapefileZip(path)
	case ".geojson", ".json":
		fallback := crs.WGS84
		if !o.defaultCRS.IsZero() {
			fallback = o.defaultCRS
		}
		l, err = readGeoJSON(path, fallback)
	default:
		return nil, eris.Errorf("vector: unsupported file type %q (%s)", ext, path)
	}
	if err != nil {
		return nil, err
	}

	if l.CRS.IsZero() && !o.defaultCRS.IsZero() {
		l.CRS = o.defaultCRS
	}
	if o.name != "" {
		l.Name = o.name
	}
	zap.L().Debug("vector: read layer",
		zap.String("path", path),
		zap.String("layer", l.Name),
		zap.Int("features", l.Len()),
		zap.Stringer("crs", l.CRS),
	)
	return l, nil
}

// Write saves a layer, dispatching on the extension of path.
func Write(path string, l *layer.Layer) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "vector: create directory %s", dir)
		}
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".shp":
		return WriteShapefile(path, l)
	case ".geojson", ".json":
		return WriteGeoJSON(path, l)
	default:
		return eris.Errorf("vector: cannot write file type %q (%s)", ext, path)
	}
}

// DirLoader resolves dataset names to files under a data directory.
type DirLoader struct {
	Dir        string
	DefaultCRS crs.CRS
}

// NewDirLoader returns a loader rooted at dir.
func NewDirLoader(dir string, defaultCRS crs.CRS) *DirLoader {
	return &DirLoader{Dir: dir, DefaultCRS: defaultCRS}
}

// Resolve returns the path of the first existing <dir>/<name><ext>. A name
// that already carries a supported extension is joined as is.
func (d *DirLoader) Resolve(name string) (string, error) {
	if filepath.Ext(name) != "" {
		p := d.join(name)
		if fileExists(p) {
			return p, nil
		}
		return "", eris.Wrapf(ErrNotFound, "%s", p)
	}
	for _, ext := range Extensions {
		p := d.join(name + ext)
		if fileExists(p) {
			return p, nil
		}
	}
	return "", eris.Wrapf(ErrNotFound, "%s in %s", name, d.Dir)
}

func (d *DirLoader) join(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Dir, name)
}

// Load resolves and reads a dataset. The layer is named after name.
func (d *DirLoader) Load(name string) (*layer.Layer, error) {
	p, err := d.Resolve(name)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	return Read(p, WithDefaultCRS(d.DefaultCRS), WithName(base))
}

// List returns the dataset names available under the directory.
func (d *DirLoader) List() ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: list %s", d.Dir)
	}
	seen := map[string]bool{}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range Extensions {
			if ext != want {
				continue
			}
			n := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names, nil
}
