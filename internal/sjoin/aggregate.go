package sjoin

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/spatial"
)

// Func is an aggregate function.
type Func string

// Aggregate functions.
const (
	Count Func = "count"
	Sum   Func = "sum"
	Mean  Func = "mean"
	Min   Func = "min"
	Max   Func = "max"
)

// Spec is one aggregate output column.
type Spec struct {
	Column string `yaml:"column" json:"column"`
	Func   Func   `yaml:"func" json:"func"`
	As     string `yaml:"as" json:"as"`
}

// Name is the output column name: As, or column_func, or count.
func (s Spec) Name() string {
	switch {
	case s.As != "":
		return s.As
	case s.Func == Count && s.Column == "":
		return string(Count)
	default:
		return s.Column + "_" + string(s.Func)
	}
}

// ParseSpec reads "func(column)" or "count" with an optional " as name".
func ParseSpec(s string) (Spec, error) {
	var spec Spec
	expr := strings.TrimSpace(s)
	if i := strings.Index(strings.ToLower(expr), " as "); i >= 0 {
		spec.As = strings.TrimSpace(expr[i+4:])
		expr = strings.TrimSpace(expr[:i])
	}
	if open := strings.IndexByte(expr, '('); open >= 0 {
		if !strings.HasSuffix(expr, ")") {
			return Spec{}, eris.Errorf("sjoin: malformed aggregate %q", s)
		}
		spec.Func = Func(strings.ToLower(strings.TrimSpace(expr[:open])))
		spec.Column = strings.TrimSpace(expr[open+1 : len(expr)-1])
	} else {
		spec.Func = Func(strings.ToLower(expr))
	}
	if err := spec.validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func (s Spec) validate() error {
	switch s.Func {
	case Count:
		return nil
	case Sum, Mean, Min, Max:
		if s.Column == "" {
			return eris.Errorf("sjoin: %s needs a column", s.Func)
		}
		return nil
	}
	return eris.Errorf("sjoin: unknown aggregate %q", s.Func)
}

// Aggregate groups l by column by and computes specs per group. The result is
// an attribute table (no geometries) with the key column first, rows sorted by
// key. Count with a column counts its non-nil values; sum, mean, min and max
// ignore nil values and give nil for groups with none.
func Aggregate(l *layer.Layer, by string, specs []Spec) (*layer.Layer, error) {
	key, err := l.Field(by)
	if err != nil {
		return nil, eris.Wrap(err, "sjoin: aggregate")
	}
	out := layer.New(l.Name+"_by_"+by, l.CRS, key)
	for _, s := range specs {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if s.Column != "" && !l.HasColumn(s.Column) {
			return nil, eris.Wrapf(layer.ErrNoColumn, "sjoin: aggregate %s.%s", l.Name, s.Column)
		}
		typ := layer.Float
		if s.Func == Count {
			typ = layer.Int
		}
		out.Fields = append(out.Fields, layer.Field{Name: s.Name(), Type: typ})
	}

	type group struct {
		key  any
		rows []*layer.Feature
	}
	groups := map[string]*group{}
	var order []string
	for _, f := range l.Features {
		v := f.Get(by)
		k := fmt.Sprint(v)
		g, ok := groups[k]
		if !ok {
			g = &group{key: v}
			groups[k] = g
			order = append(order, k)
		}
		g.rows = append(g.rows, f)
	}
	slices.SortFunc(order, func(x, y string) int { return layer.CompareValues(groups[x].key, groups[y].key) })

	for _, k := range order {
		g := groups[k]
		props := map[string]any{by: g.key}
		for _, s := range specs {
			v, err := reduce(g.rows, s)
			if err != nil {
				return nil, eris.Wrapf(err, "sjoin: aggregate %s=%s", by, k)
			}
			props[s.Name()] = v
		}
		out.Append(&layer.Feature{Props: props})
	}
	return out, nil
}

func reduce(rows []*layer.Feature, s Spec) (any, error) {
	if s.Func == Count {
		if s.Column == "" {
			return int64(len(rows)), nil
		}
		var n int64
		for _, f := range rows {
			if f.Get(s.Column) != nil {
				n++
			}
		}
		return n, nil
	}

	var vals []float64
	for _, f := range rows {
		raw := f.Get(s.Column)
		if raw == nil {
			continue
		}
		v, ok := layer.ToFloat(raw)
		if !ok {
			return nil, eris.Errorf("sjoin: %s of non-numeric %s value %v", s.Func, s.Column, raw)
		}
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	switch s.Func {
	case Sum, Mean:
		var sum float64
		for _, v := range vals {
			sum += v
		}
		if s.Func == Mean {
			return sum / float64(len(vals)), nil
		}
		return sum, nil
	case Min:
		return slices.Min(vals), nil
	default:
		return slices.Max(vals), nil
	}
}

// CountWithin returns a copy of polygons with column set to the number of
// points within each polygon, or to the sum of the points' weight column
// when weight is set. Points on a polygon boundary are not within it.
func CountWithin(points, polygons *layer.Layer, column, weight string) (*layer.Layer, error) {
	if err := crs.Match(points.CRS, polygons.CRS); err != nil {
		return nil, eris.Wrapf(err, "sjoin: count %s in %s", points.Name, polygons.Name)
	}
	if column == "" {
		return nil, eris.New("sjoin: count column name is empty")
	}
	if weight != "" && !points.HasColumn(weight) {
		return nil, eris.Wrapf(layer.ErrNoColumn, "sjoin: weight %s.%s", points.Name, weight)
	}

	ix := spatial.NewIndex(polygons)
	counts := make([]float64, polygons.Len())
	var unassigned int
	for i, p := range points.Features {
		w := 1.0
		if weight != "" {
			v, ok := layer.ToFloat(p.Get(weight))
			if !ok {
				return nil, eris.Errorf("sjoin: %s[%d].%s is not numeric", points.Name, i, weight)
			}
			w = v
		}
		hit := false
		for _, j := range ix.Candidates(p.Geom, 0) {
			ok, err := spatial.Eval(spatial.Within, p.Geom, polygons.Features[j].Geom)
			if err != nil {
				return nil, eris.Wrapf(err, "sjoin: %s[%d] within %s[%d]", points.Name, i, polygons.Name, j)
			}
			if ok {
				counts[j] += w
				hit = true
			}
		}
		if !hit {
			unassigned++
		}
	}
	if unassigned > 0 {
		zap.L().Warn("sjoin: points outside every polygon",
			zap.String("points", points.Name),
			zap.String("polygons", polygons.Name),
			zap.Int("count", unassigned),
		)
	}

	out := polygons.Clone()
	idx := make(map[*layer.Feature]int, out.Len())
	for j, f := range out.Features {
		idx[f] = j
	}
	if weight == "" {
		out.AddColumn(column, layer.Int, func(f *layer.Feature) any { return int64(counts[idx[f]]) })
	} else {
		out.AddColumn(column, layer.Float, func(f *layer.Feature) any { return counts[idx[f]] })
	}
	return out, nil
}
