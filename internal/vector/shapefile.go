package vector

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
)

// shapeReader is the read surface shared by shp.Reader and shp.ZipReader.
type shapeReader interface {
	Next() bool
	Shape() (int, shp.Shape)
	Attribute(n int) string
	Fields() []shp.Field
	Err() error
	Close() error
}

// ReadShapefile reads a .shp with its sibling .dbf and .prj.
func ReadShapefile(path string) (*layer.Layer, error) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	c, err := readPRJFile(base + ".prj")
	if err != nil {
		return nil, err
	}
	return readShapes(reader, filepath.Base(base), c, fileExists(base+".dbf"))
}

// ReadShapefileZip reads the single shapefile inside a zip archive.
func ReadShapefileZip(path string) (*layer.Layer, error) {
	reader, err := shp.OpenZip(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open zipped shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	name, c, hasDBF, err := zipSidecars(path)
	if err != nil {
		return nil, err
	}
	return readShapes(reader, name, c, hasDBF)
}

func readShapes(reader shapeReader, name string, c crs.CRS, hasDBF bool) (*layer.Layer, error) {
	var fields []shp.Field
	if hasDBF {
		fields = reader.Fields()
	}
	l := layer.New(name, c)
	for _, f := range fields {
		l.Fields = append(l.Fields, layer.Field{Name: fieldName(f), Type: dbfType(f)})
	}

	var skipped int
	for reader.Next() {
		row, shape := reader.Shape()
		g := shapeToGeom(shape)
		if g == nil {
			skipped++
			zap.L().Debug("vector: skipping null shape", zap.String("layer", name), zap.Int("row", row))
			continue
		}
		props := make(map[string]any, len(fields))
		for i, f := range fields {
			props[l.Fields[i].Name] = parseDBF(f, reader.Attribute(i))
		}
		l.Append(&layer.Feature{Props: props, Geom: g})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "vector: read shapes from %s", name)
	}

	if skipped > 0 {
		zap.L().Debug("vector: skipped shapefile records",
			zap.String("layer", name),
			zap.Int("skipped", skipped),
		)
	}
	return l, nil
}

func fieldName(f shp.Field) string {
	return strings.TrimSpace(strings.TrimRight(f.String(), "\x00"))
}

func dbfType(f shp.Field) layer.FieldType {
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 {
			return layer.Int
		}
		return layer.Float
	case 'F':
		return layer.Float
	case 'L':
		return layer.Bool
	default:
		return layer.String
	}
}

// parseDBF converts a raw DBF value to its Go value. Empty values are nil.
func parseDBF(f shp.Field, raw string) any {
	val := strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	if val == "" {
		return nil
	}
	switch dbfType(f) {
	case layer.Int:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
		if x, err := strconv.ParseFloat(val, 64); err == nil {
			return x
		}
		return nil
	case layer.Float:
		x, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil
		}
		return x
	case layer.Bool:
		switch val[0] {
		case 'T', 't', 'Y', 'y':
			return true
		case 'F', 'f', 'N', 'n':
			return false
		default:
			return nil
		}
	default:
		return val
	}
}

func readPRJFile(path string) (crs.CRS, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		zap.L().Debug("vector: no .prj sidecar", zap.String("path", path))
		return crs.CRS{}, nil
	}
	if err != nil {
		return crs.CRS{}, eris.Wrapf(err, "vector: read %s", path)
	}
	return parsePRJ(path, data), nil
}

// parsePRJ falls back to an unknown CRS on unparseable projection text.
func parsePRJ(path string, data []byte) crs.CRS {
	c, err := crs.ParsePRJ(string(data))
	if err != nil {
		zap.L().Warn("vector: unrecognised .prj", zap.String("path", path), zap.Error(err))
		return crs.CRS{}
	}
	return c
}

// zipSidecars finds the layer name, .prj and .dbf of the shapefile inside a
// zip archive.
func zipSidecars(path string) (string, crs.CRS, bool, error) {
	z, err := zip.OpenReader(path)
	if err != nil {
		return "", crs.CRS{}, false, eris.Wrapf(err, "vector: open zip %s", path)
	}
	defer func() { _ = z.Close() }()

	var base string
	for _, f := range z.File {
		if strings.EqualFold(filepath.Ext(f.Name), ".shp") {
			base = strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
			break
		}
	}
	if base == "" {
		return "", crs.CRS{}, false, eris.Errorf("vector: no .shp in %s", path)
	}

	var c crs.CRS
	var hasDBF bool
	for _, f := range z.File {
		switch f.Name {
		case base + ".dbf":
			hasDBF = true
		case base + ".prj":
			rc, err := f.Open()
			if err != nil {
				return "", crs.CRS{}, false, eris.Wrapf(err, "vector: open %s in %s", f.Name, path)
			}
			data, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return "", crs.CRS{}, false, eris.Wrapf(err, "vector: read %s in %s", f.Name, path)
			}
			c = parsePRJ(f.Name, data)
		}
	}
	return filepath.Base(base), c, hasDBF, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteShapefile writes l as .shp, .shx, .dbf and, when the CRS is known,
// .prj. Every feature needs a geometry of the layer's single kind.
func WriteShapefile(path string, l *layer.Layer) error {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	shapeType, err := shapeTypeFor(l)
	if err != nil {
		return err
	}

	fields, cols := dbfFields(l)

	w, err := shp.Create(base+".shp", shapeType)
	if err != nil {
		return eris.Wrapf(err, "vector: create shapefile %s", path)
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return eris.Wrapf(err, "vector: set dbf fields for %s", path)
	}

	werr := writeFeatures(w, l, shapeType, cols)
	w.Close()
	// go-shp names the table "<base>dbf".
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return eris.Wrapf(err, "vector: finalise dbf for %s", path)
	}
	if werr != nil {
		return werr
	}
	return writePRJ(base+".prj", l.CRS)
}

func writeFeatures(w *shp.Writer, l *layer.Layer, shapeType shp.ShapeType, cols []dbfColumn) error {
	for i, f := range l.Features {
		shape, err := geomToShape(f.Geom, shapeType)
		if err != nil {
			return eris.Wrapf(err, "vector: %s feature %d", l.Name, i)
		}
		row := int(w.Write(shape))
		for j, col := range cols {
			v, ok := dbfValue(f.Get(col.name), col.typ)
			if !ok {
				continue
			}
			if err := w.WriteAttribute(row, j, v); err != nil {
				return eris.Wrapf(err, "vector: %s feature %d column %s", l.Name, i, col.name)
			}
		}
	}
	return nil
}

func shapeTypeFor(l *layer.Layer) (shp.ShapeType, error) {
	for i, f := range l.Features {
		if f.Geom == nil || f.Geom.Empty() {
			return 0, eris.Errorf("vector: %s feature %d has no geometry; shapefiles cannot store null shapes", l.Name, i)
		}
	}
	switch l.GeometryKind() {
	case layer.KindPoint:
		for _, f := range l.Features {
			if _, ok := f.Geom.(*geom.MultiPoint); ok {
				return shp.MULTIPOINT, nil
			}
		}
		return shp.POINT, nil
	case layer.KindLine:
		return shp.POLYLINE, nil
	case layer.KindPolygon:
		return shp.POLYGON, nil
	default:
		return 0, eris.Errorf("vector: %s has %s geometry; a shapefile holds one kind", l.Name, l.GeometryKind())
	}
}

type dbfColumn struct {
	name string
	typ  layer.FieldType
}

// dbfFields maps the layer schema to DBF fields. Names are cut to the DBF
// limit of 10 bytes and made unique; geometry columns are not stored.
func dbfFields(l *layer.Layer) ([]shp.Field, []dbfColumn) {
	var fields []shp.Field
	var cols []dbfColumn
	used := map[string]bool{}
	for _, fd := range l.Fields {
		if fd.Type == layer.Geometry {
			continue
		}
		name := dbfName(fd.Name, used)
		if name != fd.Name {
			zap.L().Debug("vector: truncated dbf field name",
				zap.String("column", fd.Name), zap.String("dbf", name))
		}
		switch fd.Type {
		case layer.Int:
			fields = append(fields, shp.NumberField(name, 18))
		case layer.Float:
			fields = append(fields, shp.FloatField(name, 24, 8))
		case layer.Bool:
			bf := shp.StringField(name, 1)
			bf.Fieldtype = 'L'
			fields = append(fields, bf)
		default:
			fields = append(fields, shp.StringField(name, stringWidth(l, fd.Name)))
		}
		cols = append(cols, dbfColumn{name: fd.Name, typ: fd.Type})
	}
	return fields, cols
}

func dbfName(name string, used map[string]bool) string {
	cut := name
	if len(cut) > 10 {
		cut = cut[:10]
	}
	out := cut
	for n := 1; used[out]; n++ {
		suffix := strconv.Itoa(n)
		out = cut[:min(len(cut), 10-len(suffix))] + suffix
	}
	used[out] = true
	return out
}

func stringWidth(l *layer.Layer, column string) uint8 {
	width := 1
	for _, f := range l.Features {
		if v := f.Get(column); v != nil {
			width = max(width, len(toString(v)))
		}
	}
	return uint8(min(width, 254))
}

// dbfValue converts a value to what shp.Writer.WriteAttribute accepts.
func dbfValue(v any, typ layer.FieldType) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch typ {
	case layer.Int:
		x, ok := layer.ToFloat(v)
		return int(x), ok
	case layer.Float:
		x, ok := layer.ToFloat(v)
		return x, ok
	case layer.Bool:
		if b, ok := v.(bool); ok {
			if b {
				return "T", true
			}
			return "F", true
		}
		return nil, false
	default:
		s := toString(v)
		if len(s) > 254 {
			s = s[:254]
		}
		return s, true
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func writePRJ(path string, c crs.CRS) error {
	wkt, ok := c.PRJ()
	if !ok {
		zap.L().Debug("vector: no projection text for CRS, skipping .prj",
			zap.String("path", path), zap.Stringer("crs", c))
		return nil
	}
	if err := os.WriteFile(path, []byte(wkt), 0o644); err != nil {
		return eris.Wrapf(err, "vector: write %s", path)
	}
	return nil
}
