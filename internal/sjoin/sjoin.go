// Package sjoin transfers attributes between layers by spatial relation
// instead of key equality, and aggregates the joined rows.
package sjoin

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/spatial"
)

// How selects which unmatched rows a join keeps.
type How string

// Join kinds.
const (
	Inner How = "inner"
	Left  How = "left"
	Right How = "right"
)

// Index columns added by joins.
const (
	IndexRight = "index_right"
	IndexLeft  = "index_left"
)

// ParseHow validates a join kind; empty means inner.
func ParseHow(s string) (How, error) {
	switch h := How(s); h {
	case "":
		return Inner, nil
	case Inner, Left, Right:
		return h, nil
	}
	return "", eris.Errorf("sjoin: unknown join kind %q", s)
}

// Options configure Join.
type Options struct {
	Predicate spatial.Predicate
	How       How
	LSuffix   string
	RSuffix   string
}

func (o *Options) defaults() {
	if o.Predicate == "" {
		o.Predicate = spatial.Intersects
	}
	if o.How == "" {
		o.How = Inner
	}
	if o.LSuffix == "" {
		o.LSuffix = "left"
	}
	if o.RSuffix == "" {
		o.RSuffix = "right"
	}
}

// Join pairs every left feature with every right feature for which
// Predicate(left, right) holds.
//
// Inner and left joins keep the left geometry and add index_right; a left
// join also keeps unmatched left rows with nil right columns. A right join
// keeps the right geometry, adds index_left and keeps unmatched right rows.
// Column names present on both sides get _<suffix>.
func Join(left, right *layer.Layer, opts Options) (*layer.Layer, error) {
	opts.defaults()
	if _, err := ParseHow(string(opts.How)); err != nil {
		return nil, err
	}
	pred, err := spatial.ParsePredicate(string(opts.Predicate))
	if err != nil {
		return nil, eris.Wrap(err, "sjoin")
	}
	opts.Predicate = pred
	if err := crs.Match(left.CRS, right.CRS); err != nil {
		return nil, eris.Wrapf(err, "sjoin: %s with %s", left.Name, right.Name)
	}

	matches, err := match(left, right, opts.Predicate)
	if err != nil {
		return nil, err
	}

	s := newSchema(left, right, opts)
	var out *layer.Layer
	switch opts.How {
	case Right:
		out = s.layer(right.CRS, left.Name+"_sjoin_"+right.Name, IndexLeft)
		byRight := make([][]int, right.Len())
		for i, js := range matches {
			for _, j := range js {
				byRight[j] = append(byRight[j], i)
			}
		}
		for j, fr := range right.Features {
			if len(byRight[j]) == 0 {
				out.Append(s.row(nil, fr, IndexLeft, nil, fr.Geom))
				continue
			}
			for _, i := range byRight[j] {
				out.Append(s.row(left.Features[i], fr, IndexLeft, int64(i), fr.Geom))
			}
		}
	default:
		out = s.layer(left.CRS, left.Name+"_sjoin_"+right.Name, IndexRight)
		for i, fl := range left.Features {
			if len(matches[i]) == 0 {
				if opts.How == Left {
					out.Append(s.row(fl, nil, IndexRight, nil, fl.Geom))
				}
				continue
			}
			for _, j := range matches[i] {
				out.Append(s.row(fl, right.Features[j], IndexRight, int64(j), fl.Geom))
			}
		}
	}

	logJoin(out, left, right, string(opts.Predicate), string(opts.How))
	return out, nil
}

// match returns, per left feature, the ascending indexes of matching right
// features.
func match(left, right *layer.Layer, pred spatial.Predicate) ([][]int, error) {
	ix := spatial.NewIndex(right)
	out := make([][]int, left.Len())

	// Disjoint matches are exactly the pairs the envelope filter would drop.
	if pred == spatial.Disjoint {
		for i, fl := range left.Features {
			if spatial.IsEmpty(fl.Geom) {
				continue
			}
			for j, fr := range right.Features {
				if spatial.IsEmpty(fr.Geom) {
					continue
				}
				ok, err := spatial.Eval(pred, fl.Geom, fr.Geom)
				if err != nil {
					return nil, eris.Wrapf(err, "sjoin: %s[%d] %s %s[%d]", left.Name, i, pred, right.Name, j)
				}
				if ok {
					out[i] = append(out[i], j)
				}
			}
		}
		return out, nil
	}

	for i, fl := range left.Features {
		for _, j := range ix.Candidates(fl.Geom, 0) {
			ok, err := spatial.Eval(pred, fl.Geom, right.Features[j].Geom)
			if err != nil {
				return nil, eris.Wrapf(err, "sjoin: %s[%d] %s %s[%d]", left.Name, i, pred, right.Name, j)
			}
			if ok {
				out[i] = append(out[i], j)
			}
		}
	}
	return out, nil
}

// NearestOptions configure Nearest.
type NearestOptions struct {
	// MaxDistance, when positive, leaves left features with nothing that
	// close unmatched.
	MaxDistance float64
	// DistanceColumn, when set, receives the distance to the match.
	DistanceColumn string
	LSuffix        string
	RSuffix        string
}

// Nearest left-joins every left feature to its nearest right feature. Ties
// go to the lowest right index.
func Nearest(left, right *layer.Layer, opts NearestOptions) (*layer.Layer, error) {
	if err := crs.Match(left.CRS, right.CRS); err != nil {
		return nil, eris.Wrapf(err, "sjoin: nearest %s to %s", left.Name, right.Name)
	}
	if opts.MaxDistance < 0 || math.IsNaN(opts.MaxDistance) {
		return nil, eris.Errorf("sjoin: invalid max distance %v", opts.MaxDistance)
	}
	jo := Options{How: Left, LSuffix: opts.LSuffix, RSuffix: opts.RSuffix}
	jo.defaults()
	s := newSchema(left, right, jo)
	out := s.layer(left.CRS, left.Name+"_nearest_"+right.Name, IndexRight)
	if opts.DistanceColumn != "" {
		out.Fields = append(out.Fields, layer.Field{Name: opts.DistanceColumn, Type: layer.Float})
	}

	ix := spatial.NewIndex(right)
	all := nonEmpty(right)
	for i, fl := range left.Features {
		best, bestDist := -1, math.Inf(1)
		candidates := all
		if opts.MaxDistance > 0 {
			candidates = ix.Candidates(fl.Geom, opts.MaxDistance)
		}
		if !spatial.IsEmpty(fl.Geom) {
			for _, j := range candidates {
				d, err := spatial.Distance(fl.Geom, right.Features[j].Geom)
				if err != nil {
					return nil, eris.Wrapf(err, "sjoin: nearest %s[%d] to %s[%d]", left.Name, i, right.Name, j)
				}
				if d < bestDist {
					best, bestDist = j, d
				}
			}
		}
		if best >= 0 && opts.MaxDistance > 0 && bestDist > opts.MaxDistance {
			best = -1
		}
		if best < 0 {
			row := s.row(fl, nil, IndexRight, nil, fl.Geom)
			if opts.DistanceColumn != "" {
				row.Props[opts.DistanceColumn] = nil
			}
			out.Append(row)
			continue
		}
		row := s.row(fl, right.Features[best], IndexRight, int64(best), fl.Geom)
		if opts.DistanceColumn != "" {
			row.Props[opts.DistanceColumn] = bestDist
		}
		out.Append(row)
	}

	logJoin(out, left, right, "nearest", string(Left))
	return out, nil
}

func nonEmpty(l *layer.Layer) []int {
	out := make([]int, 0, l.Len())
	for i, f := range l.Features {
		if !spatial.IsEmpty(f.Geom) {
			out = append(out, i)
		}
	}
	return out
}

func logJoin(out, left, right *layer.Layer, pred, how string) {
	fields := []zap.Field{
		zap.String("left", left.Name),
		zap.String("right", right.Name),
		zap.String("predicate", pred),
		zap.String("how", how),
		zap.Int("rows", out.Len()),
	}
	if out.Len() == 0 {
		zap.L().Warn("sjoin: join produced no rows", fields...)
		return
	}
	zap.L().Debug("sjoin: joined", fields...)
}

// schema maps each side's columns to output names.
type schema struct {
	left, right *layer.Layer
	namesL      map[string]string
	namesR      map[string]string
	fields      []layer.Field
}

func newSchema(left, right *layer.Layer, opts Options) *schema {
	s := &schema{
		left:   left,
		right:  right,
		namesL: make(map[string]string, len(left.Fields)),
		namesR: make(map[string]string, len(right.Fields)),
	}
	for _, f := range left.Fields {
		n := f.Name
		if right.HasColumn(n) {
			n += "_" + opts.LSuffix
		}
		s.namesL[f.Name] = n
		s.fields = append(s.fields, layer.Field{Name: n, Type: f.Type})
	}
	for _, f := range right.Fields {
		n := f.Name
		if left.HasColumn(n) {
			n += "_" + opts.RSuffix
		}
		s.namesR[f.Name] = n
		s.fields = append(s.fields, layer.Field{Name: n, Type: f.Type})
	}
	return s
}

func (s *schema) layer(c crs.CRS, name, indexCol string) *layer.Layer {
	fields := append([]layer.Field{}, s.fields...)
	fields = append(fields, layer.Field{Name: indexCol, Type: layer.Int})
	return layer.New(name, c, fields...)
}

func (s *schema) row(fl, fr *layer.Feature, indexCol string, index any, g geom.T) *layer.Feature {
	props := make(map[string]any, len(s.fields)+1)
	for _, f := range s.left.Fields {
		var v any
		if fl != nil {
			v = fl.Get(f.Name)
		}
		props[s.namesL[f.Name]] = v
	}
	for _, f := range s.right.Fields {
		var v any
		if fr != nil {
			v = fr.Get(f.Name)
		}
		props[s.namesR[f.Name]] = v
	}
	props[indexCol] = index
	id := ""
	switch {
	case indexCol == IndexRight && fl != nil:
		id = fl.ID
	case indexCol == IndexLeft && fr != nil:
		id = fr.ID
	}
	return &layer.Feature{ID: id, Props: props, Geom: layer.CloneGeom(g)}
}
