// Package layer holds in-memory vector feature collections: a schema of named
// attribute columns plus one geometry per feature, all in one CRS.
package layer

import (
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geolab/internal/crs"
)

// ErrNoColumn is returned when an operation names a column the layer lacks.
var ErrNoColumn = eris.New("layer: no such column")

// FieldType is the attribute type of a column.
type FieldType string

// Attribute types.
const (
	String FieldType = "string"
	Int    FieldType = "int"
	Float  FieldType = "float"
	Bool   FieldType = "bool"
	// Geometry columns hold a geom.T, e.g. a buffer polygon kept beside the
	// feature geometry.
	Geometry FieldType = "geometry"
)

// Field is one attribute column.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Feature is one row: attribute values keyed by column name and a geometry.
type Feature struct {
	ID    string         `json:"id,omitempty"`
	Props map[string]any `json:"properties"`
	Geom  geom.T         `json:"-"`
}

// Get returns the value of a column, or nil.
func (f *Feature) Get(name string) any {
	if f.Props == nil {
		return nil
	}
	return f.Props[name]
}

// Clone deep-copies the feature.
func (f *Feature) Clone() *Feature {
	return &Feature{ID: f.ID, Props: maps.Clone(f.Props), Geom: CloneGeom(f.Geom)}
}

// Layer is a named feature collection.
type Layer struct {
	Name     string
	CRS      crs.CRS
	Fields   []Field
	Features []*Feature
}

// New returns an empty layer.
func New(name string, c crs.CRS, fields ...Field) *Layer {
	return &Layer{Name: name, CRS: c, Fields: fields}
}

// Len returns the number of features.
func (l *Layer) Len() int { return len(l.Features) }

// Append adds features. Missing props maps are initialised.
func (l *Layer) Append(fs ...*Feature) {
	for _, f := range fs {
		if f.Props == nil {
			f.Props = map[string]any{}
		}
		l.Features = append(l.Features, f)
	}
}

// HasColumn reports whether the schema contains name.
func (l *Layer) HasColumn(name string) bool {
	return l.fieldIndex(name) >= 0
}

// Field returns the schema entry for name.
func (l *Layer) Field(name string) (Field, error) {
	i := l.fieldIndex(name)
	if i < 0 {
		return Field{}, eris.Wrapf(ErrNoColumn, "%s.%s", l.Name, name)
	}
	return l.Fields[i], nil
}

// ColumnNames returns the column names in schema order.
func (l *Layer) ColumnNames() []string {
	names := make([]string, len(l.Fields))
	for i, f := range l.Fields {
		names[i] = f.Name
	}
	return names
}

func (l *Layer) fieldIndex(name string) int {
	return slices.IndexFunc(l.Fields, func(f Field) bool { return f.Name == name })
}

// Clone returns a deep copy.
func (l *Layer) Clone() *Layer {
	out := &Layer{Name: l.Name, CRS: l.CRS, Fields: slices.Clone(l.Fields)}
	out.Features = make([]*Feature, len(l.Features))
	for i, f := range l.Features {
		out.Features[i] = f.Clone()
	}
	return out
}

// Empty returns a layer with the same name, CRS and schema but no features.
func (l *Layer) Empty() *Layer {
	return &Layer{Name: l.Name, CRS: l.CRS, Fields: slices.Clone(l.Fields)}
}

// Rename renames columns in place. Every old name must exist.
func (l *Layer) Rename(mapping map[string]string) error {
	for old := range mapping {
		if !l.HasColumn(old) {
			return eris.Wrapf(ErrNoColumn, "rename %s.%s", l.Name, old)
		}
	}
	for i, f := range l.Fields {
		if nn, ok := mapping[f.Name]; ok {
			l.Fields[i].Name = nn
		}
	}
	for _, f := range l.Features {
		renamed := make(map[string]any, len(f.Props))
		for k, v := range f.Props {
			if nn, ok := mapping[k]; ok {
				k = nn
			}
			renamed[k] = v
		}
		f.Props = renamed
	}
	return nil
}

// AddColumn appends a derived column computed per feature. An existing
// column with the same name is overwritten.
func (l *Layer) AddColumn(name string, typ FieldType, fn func(*Feature) any) {
	if i := l.fieldIndex(name); i >= 0 {
		l.Fields[i].Type = typ
	} else {
		l.Fields = append(l.Fields, Field{Name: name, Type: typ})
	}
	for _, f := range l.Features {
		if f.Props == nil {
			f.Props = map[string]any{}
		}
		f.Props[name] = fn(f)
	}
}

// DropColumns removes columns from the schema and every feature.
func (l *Layer) DropColumns(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	l.Fields = slices.DeleteFunc(l.Fields, func(f Field) bool { return drop[f.Name] })
	for _, f := range l.Features {
		for n := range drop {
			delete(f.Props, n)
		}
	}
}

// Column returns the raw values of a column in feature order.
func (l *Layer) Column(name string) ([]any, error) {
	if !l.HasColumn(name) {
		return nil, eris.Wrapf(ErrNoColumn, "%s.%s", l.Name, name)
	}
	out := make([]any, len(l.Features))
	for i, f := range l.Features {
		out[i] = f.Get(name)
	}
	return out, nil
}

// Floats returns a column coerced to float64. Nil values become 0.
func (l *Layer) Floats(name string) ([]float64, error) {
	vals, err := l.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		f, ok := ToFloat(v)
		if !ok && v != nil {
			return nil, eris.Errorf("layer: %s.%s row %d: %v is not numeric", l.Name, name, i, v)
		}
		out[i] = f
	}
	return out, nil
}

// AssignIDs writes a fresh UUID into every feature ID and into column.
func (l *Layer) AssignIDs(column string) {
	l.AddColumn(column, String, func(f *Feature) any {
		f.ID = uuid.New().String()
		return f.ID
	})
}

// IDs returns feature IDs, falling back to the row index for unset IDs.
func (l *Layer) IDs() []string {
	ids := make([]string, len(l.Features))
	for i, f := range l.Features {
		if f.ID != "" {
			ids[i] = f.ID
		} else {
			ids[i] = fmt.Sprint(i)
		}
	}
	return ids
}

// Filter returns a new layer sharing the schema with the features for which
// keep returns true. Features are cloned.
func (l *Layer) Filter(keep func(*Feature) bool) *Layer {
	out := l.Empty()
	for _, f := range l.Features {
		if keep(f) {
			out.Features = append(out.Features, f.Clone())
		}
	}
	return out
}

// Bounds returns the envelope of every non-empty geometry, or nil when the
// layer has none.
func (l *Layer) Bounds() *geom.Bounds {
	var b *geom.Bounds
	for _, f := range l.Features {
		if f.Geom == nil || f.Geom.Empty() {
			continue
		}
		if b == nil {
			b = geom.NewBounds(geom.XY)
		}
		b.Extend(f.Geom)
	}
	return b
}
