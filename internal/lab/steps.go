package lab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/classify"
	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/plot"
	"github.com/sells-group/geolab/internal/report"
	"github.com/sells-group/geolab/internal/sjoin"
	"github.com/sells-group/geolab/internal/spatial"
	"github.com/sells-group/geolab/internal/vector"
	"github.com/sells-group/geolab/internal/voronoi"
	"github.com/sells-group/geolab/internal/weights"
)

type handler func(ctx context.Context, env *Env, st Step) (*Entry, error)

var handlers = map[string]handler{
	StepLoad:        runLoad,
	StepRename:      runRename,
	StepAssignIDs:   runAssignIDs,
	StepCheckCRS:    runCheckCRS,
	StepBuffer:      runBuffer,
	StepRelate:      runRelate,
	StepDistance:    runDistance,
	StepOverlay:     runOverlay,
	StepDissolve:    runDissolve,
	StepVoronoi:     runVoronoi,
	StepSJoin:       runSJoin,
	StepNearest:     runNearest,
	StepCountWithin: runCountWithin,
	StepAggregate:   runAggregate,
	StepWeights:     runWeights,
	StepClassify:    runClassify,
	StepPlot:        runPlot,
	StepExport:      runExport,
	StepSave:        runSave,
}

// Kinds returns the supported step kinds.
func Kinds() []string {
	return []string{
		StepLoad, StepRename, StepAssignIDs, StepCheckCRS, StepBuffer, StepRelate,
		StepDistance, StepOverlay, StepDissolve, StepVoronoi, StepSJoin, StepNearest,
		StepCountWithin, StepAggregate, StepWeights, StepClassify, StepPlot,
		StepExport, StepSave,
	}
}

func describe(l *layer.Layer) string {
	return fmt.Sprintf("%d features, %s, %s", l.Len(), l.GeometryKind(), l.CRS)
}

func runLoad(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Name string `yaml:"name"`
		Path string `yaml:"path"`
		CRS  string `yaml:"crs"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, eris.New("lab: load needs a path")
	}
	l, err := env.loader.Load(p.Path)
	if err != nil {
		return nil, err
	}
	if p.CRS != "" {
		c, err := crs.Parse(p.CRS)
		if err != nil {
			return nil, err
		}
		l.CRS = c
	}
	name := p.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(p.Path), filepath.Ext(p.Path))
	}
	env.put(name, l)
	return &Entry{Title: "loaded " + name, Text: describe(l)}, nil
}

func runRename(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layer   string            `yaml:"layer"`
		Columns map[string]string `yaml:"columns"`
		To      string            `yaml:"to"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	l, err := env.Layer(p.Layer)
	if err != nil {
		return nil, err
	}
	if err := l.Rename(p.Columns); err != nil {
		return nil, err
	}
	if p.To != "" && p.To != p.Layer {
		delete(env.Layers, p.Layer)
		env.put(p.To, l)
	}
	return &Entry{Title: "renamed " + l.Name, Text: "columns: " + strings.Join(l.ColumnNames(), ", ")}, nil
}

func runAssignIDs(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layer  string `yaml:"layer"`
		Column string `yaml:"column"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	l, err := env.Layer(p.Layer)
	if err != nil {
		return nil, err
	}
	if p.Column == "" {
		p.Column = "id"
	}
	l.AssignIDs(p.Column)
	return &Entry{Title: fmt.Sprintf("assigned ids to %s.%s", l.Name, p.Column)}, nil
}

func runCheckCRS(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layers []string `yaml:"layers"`
		// Warn logs a mismatch instead of failing.
		Warn bool `yaml:"warn"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	if len(p.Layers) == 0 {
		p.Layers = env.layerNames()
	}
	t := &report.Table{Title: "crs", Columns: []string{"layer", "crs", "units", "geographic"}}
	var first *layer.Layer
	var mismatch error
	for _, name := range p.Layers {
		l, err := env.Layer(name)
		if err != nil {
			return nil, err
		}
		t.Rows = append(t.Rows, []any{l.Name, l.CRS.String(), l.CRS.Units(), l.CRS.IsGeographic()})
		if first == nil {
			first = l
			continue
		}
		if err := crs.Match(first.CRS, l.CRS); err != nil && mismatch == nil {
			mismatch = eris.Wrapf(err, "%s and %s", first.Name, l.Name)
		}
	}
	e := &Entry{Title: "crs check", Table: t, Text: "all layers share one crs"}
	if mismatch != nil {
		if !p.Warn {
			return nil, mismatch
		}
		zap.L().Warn("lab: crs mismatch", zap.Error(mismatch))
		e.Text = mismatch.Error()
	}
	return e, nil
}

func runBuffer(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layer    string  `yaml:"layer"`
		Distance float64 `yaml:"distance"`
		QuadSegs int     `yaml:"quad_segs"`
		// Column stores buffers in a geometry column of the input instead
		// of producing a new layer.
		Column string `yaml:"column"`
		Output string `yaml:"output"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	l, err := env.Layer(p.Layer)
	if err != nil {
		return nil, err
	}
	if p.QuadSegs == 0 {
		p.QuadSegs = spatial.DefaultQuadSegs
	}
	if p.Column != "" {
		if err := spatial.AddBufferColumn(l, p.Column, p.Distance, p.QuadSegs); err != nil {
			return nil, err
		}
		return &Entry{Title: fmt.Sprintf("buffered %s by %g into %s", l.Name, p.Distance, p.Column)}, nil
	}
	out, err := spatial.BufferLayer(l, p.Distance, p.QuadSegs)
	if err != nil {
		return nil, err
	}
	env.put(firstNonEmpty(p.Output, out.Name), out)
	var area float64
	for _, f := range out.Features {
		area += spatial.Area(f.Geom)
	}
	return &Entry{
		Title: fmt.Sprintf("buffered %s by %g", l.Name, p.Distance),
		Text:  fmt.Sprintf("%s: %s, total area %.2f", out.Name, describe(out), area),
	}, nil
}

// labels names the features of l by column, or by index when column is
// empty.
func labels(l *layer.Layer, column string) ([]string, error) {
	out := make([]string, l.Len())
	if column != "" && !l.HasColumn(column) {
		return nil, eris.Wrapf(layer.ErrNoColumn, "%s.%s", l.Name, column)
	}
	for i, f := range l.Features {
		if column == "" {
			out[i] = strconv.Itoa(i)
			continue
		}
		out[i] = report.Format(f.Get(column))
	}
	return out, nil
}

type pairParams struct {
	Layer   string `yaml:"layer"`
	Other   string `yaml:"other"`
	ID      string `yaml:"id"`
	OtherID string `yaml:"other_id"`
}

func (p pairParams) layers(env *Env) (a, b *layer.Layer, la, lb []string, err error) {
	if a, err = env.Layer(p.Layer); err != nil {
		return
	}
	if p.Other == "" {
		p.Other, p.OtherID = p.Layer, firstNonEmpty(p.OtherID, p.ID)
	}
	if b, err = env.Layer(p.Other); err != nil {
		return
	}
	if err = crs.Match(a.CRS, b.CRS); err != nil {
		return
	}
	if la, err = labels(a, p.ID); err != nil {
		return
	}
	lb, err = labels(b, p.OtherID)
	return
}

func runRelate(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		pairParams `yaml:",inline"`

		Predicates []string `yaml:"predicates"`
		// Matrix adds the DE-9IM intersection matrix of every pair.
		Matrix bool `yaml:"matrix"`
		// Only keeps pairs for which the first predicate holds.
		Only bool `yaml:"only"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	a, b, la, lb, err := p.layers(env)
	if err != nil {
		return nil, err
	}
	preds := spatial.Predicates
	if len(p.Predicates) > 0 {
		preds = nil
		for _, s := range p.Predicates {
			pr, err := spatial.ParsePredicate(s)
			if err != nil {
				return nil, err
			}
			preds = append(preds, pr)
		}
	}

	t := &report.Table{Title: fmt.Sprintf("%s vs %s", a.Name, b.Name), Columns: []string{a.Name, b.Name}}
	for _, pr := range preds {
		t.Columns = append(t.Columns, string(pr))
	}
	if p.Matrix {
		t.Columns = append(t.Columns, "de9im")
	}
	for i, fa := range a.Features {
		for j, fb := range b.Features {
			if fa.Geom == nil || fb.Geom == nil {
				continue
			}
			row := []any{la[i], lb[j]}
			for _, pr := range preds {
				ok, err := spatial.Eval(pr, fa.Geom, fb.Geom)
				if err != nil {
					return nil, eris.Wrapf(err, "lab: %s %s[%d] %s[%d]", pr, a.Name, i, b.Name, j)
				}
				row = append(row, ok)
			}
			if p.Only && !row[2].(bool) {
				continue
			}
			if p.Matrix {
				m, err := spatial.Relate(fa.Geom, fb.Geom)
				if err != nil {
					return nil, err
				}
				row = append(row, m)
			}
			t.Rows = append(t.Rows, row)
		}
	}
	return &Entry{Title: "relations " + t.Title, Table: t}, nil
}

func runDistance(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		pairParams `yaml:",inline"`

		// Column receives each feature's distance to the nearest feature of
		// other.
		Column string `yaml:"column"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	a, b, la, lb, err := p.layers(env)
	if err != nil {
		return nil, err
	}
	dm, err := spatial.DistanceMatrix(a, b)
	if err != nil {
		return nil, err
	}
	t := &report.Table{Title: fmt.Sprintf("distance %s to %s", a.Name, b.Name), Columns: append([]string{a.Name}, lb...)}
	for i, row := range dm {
		r := []any{la[i]}
		for _, d := range row {
			r = append(r, d)
		}
		t.Rows = append(t.Rows, r)
	}
	if p.Column != "" {
		nearest := make(map[*layer.Feature]any, a.Len())
		for i, f := range a.Features {
			best := -1.0
			for _, d := range dm[i] {
				if best < 0 || d < best {
					best = d
				}
			}
			if best >= 0 {
				nearest[f] = best
			}
		}
		a.AddColumn(p.Column, layer.Float, func(f *layer.Feature) any { return nearest[f] })
	}
	return &Entry{Title: t.Title, Table: t}, nil
}

func runOverlay(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layer  string `yaml:"layer"`
		Other  string `yaml:"other"`
		How    string `yaml:"how"`
		Output string `yaml:"output"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	a, err := env.Layer(p.Layer)
	if err != nil {
		return nil, err
	}
	b, err := env.Layer(p.Other)
	if err != nil {
		return nil, err
	}
	how, err := spatial.ParseHow(firstNonEmpty(p.How, string(spatial.OverlayIntersection)))
	if err != nil {
		return nil, err
	}
	out, err := spatial.Overlay(a, b, how)
	if err != nil {
		return nil, err
	}
	env.put(firstNonEmpty(p.Output, a.Name+"_"+string(how)), out)
	var area float64
	for _, f := range out.Features {
		area += spatial.Area(f.Geom)
	}
	return &Entry{
		Title: fmt.Sprintf("%s of %s and %s", how, a.Name, b.Name),
		Text:  fmt.Sprintf("%s: %s, total area %.2f", out.Name, describe(out), area),
	}, nil
}

func runDissolve(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layer  string `yaml:"layer"`
		By     string `yaml:"by"`
		Output string `yaml:"output"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	l, err := env.Layer(p.Layer)
	if err != nil {
		return nil, err
	}
	out, err := spatial.Dissolve(l, p.By)
	if err != nil {
		return nil, err
	}
	env.put(firstNonEmpty(p.Output, out.Name), out)
	return &Entry{Title: "dissolved " + l.Name, Table: report.FromLayer(out, false)}, nil
}

func runVoronoi(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layer  string    `yaml:"layer"`
		Output string    `yaml:"output"`
		Margin float64   `yaml:"margin"`
		Extent []float64 `yaml:"extent"`
		// Clip names a layer whose union bounds the regions.
		Clip string `yaml:"clip"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	l, err := env.Layer(p.Layer)
	if err != nil {
		return nil, err
	}
	opts := voronoi.Options{Margin: p.Margin}
	switch len(p.Extent) {
	case 0:
	case 4:
		opts.Extent = geom.NewBounds(geom.XY).Set(p.Extent...)
	default:
		return nil, eris.Errorf("lab: voronoi extent needs 4 numbers, got %d", len(p.Extent))
	}
	if p.Clip != "" {
		cl, err := env.Layer(p.Clip)
		if err != nil {
			return nil, err
		}
		if err := crs.Match(l.CRS, cl.CRS); err != nil {
			return nil, err
		}
		gs := make([]geom.T, 0, cl.Len())
		for _, f := range cl.Features {
			if f.Geom != nil {
				gs = append(gs, f.Geom)
			}
		}
		if opts.Clip, err = spatial.UnionAll(gs); err != nil {
			return nil, err
		}
	}
	out, err := voronoi.FromLayer(l, opts)
	if err != nil {
		return nil, err
	}
	env.put(firstNonEmpty(p.Output, l.Name+"_voronoi"), out)
	return &Entry{Title: "voronoi of " + l.Name, Text: fmt.Sprintf("%s: %s", out.Name, describe(out))}, nil
}

func runSJoin(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layer     string `yaml:"layer"`
		Other     string `yaml:"other"`
		Predicate string `yaml:"predicate"`
		How       string `yaml:"how"`
		LSuffix   string `yaml:"lsuffix"`
		RSuffix   string `yaml:"rsuffix"`
		Output    string `yaml:"output"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	left, err := env.Layer(p.Layer)
	if err != nil {
		return nil, err
	}
	right, err := env.Layer(p.Other)
	if err != nil {
		return nil, err
	}
	opts := sjoin.Options{LSuffix: p.LSuffix, RSuffix: p.RSuffix}
	if p.Predicate != "" {
		if opts.Predicate, err = spatial.ParsePredicate(p.Predicate); err != nil {
			return nil, err
		}
	}
	if opts.How, err = sjoin.ParseHow(p.How); err != nil {
		return nil, err
	}
	out, err := sjoin.Join(left, right, opts)
	if err != nil {
		return nil, err
	}
	env.put(firstNonEmpty(p.Output, left.Name+"_"+right.Name), out)
	return &Entry{
		Title: fmt.Sprintf("joined %s to %s", left.Name, right.Name),
		Text:  fmt.Sprintf("%s: %d rows", out.Name, out.Len()),
	}, nil
}

func runNearest(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layer          string  `yaml:"layer"`
		Other          string  `yaml:"other"`
		MaxDistance    float64 `yaml:"max_distance"`
		DistanceColumn string  `yaml:"distance_column"`
		Output         string  `yaml:"output"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	left, err := env.Layer(p.Layer)
	if err != nil {
		return nil, err
	}
	right, err := env.Layer(p.Other)
	if err != nil {
		return nil, err
	}
	out, err := sjoin.Nearest(left, right, sjoin.NearestOptions{
		MaxDistance:    p.MaxDistance,
		DistanceColumn: p.DistanceColumn,
	})
	if err != nil {
		return nil, err
	}
	env.put(firstNonEmpty(p.Output, left.Name+"_nearest"), out)
	return &Entry{
		Title: fmt.Sprintf("nearest %s to each %s", right.Name, left.Name),
		Text:  fmt.Sprintf("%s: %d rows", out.Name, out.Len()),
	}, nil
}

func runCountWithin(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Points   string `yaml:"points"`
		Polygons string `yaml:"polygons"`
		Column   string `yaml:"column"`
		Weight   string `yaml:"weight"`
		Output   string `yaml:"output"`
		// ID labels the polygons in the report table.
		ID string `yaml:"id"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	pts, err := env.Layer(p.Points)
	if err != nil {
		return nil, err
	}
	polys, err := env.Layer(p.Polygons)
	if err != nil {
		return nil, err
	}
	column := firstNonEmpty(p.Column, "count")
	out, err := sjoin.CountWithin(pts, polys, column, p.Weight)
	if err != nil {
		return nil, err
	}
	env.put(firstNonEmpty(p.Output, polys.Name), out)

	ids, err := labels(out, p.ID)
	if err != nil {
		return nil, err
	}
	t := &report.Table{Title: fmt.Sprintf("%s per %s", pts.Name, polys.Name), Columns: []string{polys.Name, column}}
	for i, f := range out.Features {
		t.Rows = append(t.Rows, []any{ids[i], f.Get(column)})
	}
	return &Entry{Title: t.Title, Table: t}, nil
}

func runAggregate(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layer  string   `yaml:"layer"`
		By     string   `yaml:"by"`
		Aggs   []string `yaml:"aggs"`
		Output string   `yaml:"output"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	l, err := env.Layer(p.Layer)
	if err != nil {
		return nil, err
	}
	if len(p.Aggs) == 0 {
		p.Aggs = []string{string(sjoin.Count)}
	}
	specs := make([]sjoin.Spec, 0, len(p.Aggs))
	for _, s := range p.Aggs {
		sp, err := sjoin.ParseSpec(s)
		if err != nil {
			return nil, err
		}
		specs = append(specs, sp)
	}
	out, err := sjoin.Aggregate(l, p.By, specs)
	if err != nil {
		return nil, err
	}
	env.put(firstNonEmpty(p.Output, l.Name+"_by_"+p.By), out)
	t := report.FromLayer(out, false)
	return &Entry{Title: fmt.Sprintf("%s by %s", l.Name, p.By), Table: t}, nil
}

func runWeights(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layer string `yaml:"layer"`
		Name  string `yaml:"name"`
		// Type is the weights kind; the kind key names the step.
		Type         string `yaml:"type"`
		weights.Spec `yaml:",inline"`

		// Moran names a column to test for spatial autocorrelation.
		Moran        string `yaml:"moran"`
		Permutations *int   `yaml:"permutations"`
		Seed         uint64 `yaml:"seed"`
		// GAL writes the neighbour lists to a file.
		GAL string `yaml:"gal"`
		// Focal writes the weights of one unit towards every unit into
		// FocalColumn, for plotting kernel or distance decay.
		Focal       *int   `yaml:"focal"`
		FocalColumn string `yaml:"focal_column"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	l, err := env.Layer(p.Layer)
	if err != nil {
		return nil, err
	}
	p.Spec.Kind = p.Type
	w, err := weights.Build(l, p.Spec)
	if err != nil {
		return nil, err
	}
	name := firstNonEmpty(p.Name, l.Name)
	env.Weights[name] = w

	sum := weights.Summarize(w)
	e := &Entry{
		Title: fmt.Sprintf("%s weights %s", firstNonEmpty(p.Type, weights.KindQueen), name),
		Text:  sum.String(),
	}

	if p.Focal != nil {
		row, err := weights.Row(w, *p.Focal)
		if err != nil {
			return nil, err
		}
		col := firstNonEmpty(p.FocalColumn, fmt.Sprintf("w_%d", *p.Focal))
		vals := make(map[*layer.Feature]any, l.Len())
		for i, f := range l.Features {
			vals[f] = row[i]
		}
		l.AddColumn(col, layer.Float, func(f *layer.Feature) any { return vals[f] })
	}

	if p.GAL != "" {
		path := env.outPath(p.GAL)
		if err := writeGAL(path, w); err != nil {
			return nil, err
		}
		e.Files = append(e.Files, path)
	}

	if p.Moran != "" {
		y, err := l.Floats(p.Moran)
		if err != nil {
			return nil, err
		}
		perms := 999
		if p.Permutations != nil {
			perms = *p.Permutations
		}
		m, err := weights.Moran(w, y, perms, p.Seed)
		if err != nil {
			return nil, err
		}
		e.Table = &report.Table{
			Title:   fmt.Sprintf("moran %s.%s", l.Name, p.Moran),
			Columns: []string{"statistic", "value"},
			Rows: [][]any{
				{"I", m.I},
				{"E[I]", m.EI},
				{"z (normal)", m.Z},
				{"p (normal)", m.PNorm},
				{"permutations", m.Permutations},
				{"p (simulated)", m.PSim},
			},
		}
	}
	return e, nil
}

func writeGAL(path string, w *weights.W) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "lab: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "lab: create %s", path)
	}
	if err := weights.WriteGAL(f, w); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "lab: close %s", path)
}

func runClassify(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layer            string `yaml:"layer"`
		Column           string `yaml:"column"`
		classify.Options `yaml:",inline"`

		// Output receives each feature's class index.
		Output string `yaml:"output"`
		Name   string `yaml:"name"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	l, err := env.Layer(p.Layer)
	if err != nil {
		return nil, err
	}
	if p.Method != "" {
		if p.Method, err = classify.ParseMethod(string(p.Method)); err != nil {
			return nil, err
		}
	} else if len(p.Bins) > 0 {
		p.Method = classify.UserDefinedMethod
	}
	c, err := classify.Column(l, p.Column, p.Output, p.Options)
	if err != nil {
		return nil, err
	}
	name := firstNonEmpty(p.Name, l.Name+"."+p.Column)
	env.Classifications[name] = c

	t := &report.Table{Title: name, Columns: []string{"class", "range", "count"}}
	for i, lbl := range c.Labels() {
		t.Rows = append(t.Rows, []any{i, lbl, c.Counts[i]})
	}
	return &Entry{Title: fmt.Sprintf("%s classes of %s", c.Method, name), Table: t}, nil
}

type plotLayerParams struct {
	Layer          string     `yaml:"layer"`
	Style          plot.Style `yaml:"style"`
	GeometryColumn string     `yaml:"geometry_column"`
	Label          string     `yaml:"label"`
	Column         string     `yaml:"column"`
	// Classification names one produced by a classify step; otherwise
	// Method, K and Bins classify Column here.
	Classification string    `yaml:"classification"`
	Method         string    `yaml:"method"`
	K              int       `yaml:"k"`
	Bins           []float64 `yaml:"bins"`
	Palette        string    `yaml:"palette"`
	Legend         string    `yaml:"legend"`
}

func runPlot(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Path       string            `yaml:"path"`
		Title      string            `yaml:"title"`
		Width      int               `yaml:"width"`
		Height     int               `yaml:"height"`
		Margin     int               `yaml:"margin"`
		Background string            `yaml:"background"`
		Layers     []plotLayerParams `yaml:"layers"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, eris.New("lab: plot needs a path")
	}
	m := &plot.Map{Title: p.Title, Width: p.Width, Height: p.Height, Margin: p.Margin, Background: p.Background}
	env.run.Plot.apply(m)

	var first *layer.Layer
	for _, lp := range p.Layers {
		l, err := env.Layer(lp.Layer)
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = l
		} else if err := crs.Match(first.CRS, l.CRS); err != nil {
			return nil, eris.Wrapf(err, "lab: plot %s with %s", first.Name, l.Name)
		}
		ml := plot.Layer{
			Data:           l,
			Style:          lp.Style,
			GeometryColumn: lp.GeometryColumn,
			Label:          lp.Label,
			Column:         lp.Column,
			Legend:         lp.Legend,
		}
		if lp.Column != "" {
			c, err := env.classificationFor(l, lp)
			if err != nil {
				return nil, err
			}
			ml.Classification = c
			ml.Palette = plot.Palette(firstNonEmpty(lp.Palette, env.run.Plot.Palette), c.K())
		}
		m.Layers = append(m.Layers, ml)
	}

	path := env.outPath(p.Path)
	if err := m.WriteFile(path); err != nil {
		return nil, err
	}
	return &Entry{Title: firstNonEmpty(p.Title, "map"), Files: []string{path}}, nil
}

func (e *Env) classificationFor(l *layer.Layer, lp plotLayerParams) (*classify.Classification, error) {
	if lp.Classification != "" {
		c, ok := e.Classifications[lp.Classification]
		if !ok {
			return nil, eris.Errorf("lab: no classification %q", lp.Classification)
		}
		return c, nil
	}
	opts := classify.Options{K: lp.K, Bins: lp.Bins}
	switch {
	case lp.Method != "":
		m, err := classify.ParseMethod(lp.Method)
		if err != nil {
			return nil, err
		}
		opts.Method = m
	case len(lp.Bins) > 0:
		opts.Method = classify.UserDefinedMethod
	}
	return classify.Column(l, lp.Column, "", opts)
}

func runExport(_ context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layer string `yaml:"layer"`
		Path  string `yaml:"path"`
		// Geometry adds WKT geometries to tabular exports.
		Geometry bool `yaml:"geometry"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	l, err := env.Layer(p.Layer)
	if err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, eris.New("lab: export needs a path")
	}
	path := env.outPath(p.Path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp", ".geojson", ".json":
		err = vector.Write(path, l)
	default:
		if err = os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			err = report.WriteFile(path, report.FromLayer(l, p.Geometry))
		}
	}
	if err != nil {
		return nil, err
	}
	return &Entry{Title: "exported " + l.Name, Files: []string{path}}, nil
}

func runSave(ctx context.Context, env *Env, st Step) (*Entry, error) {
	var p struct {
		Layer string `yaml:"layer"`
		As    string `yaml:"as"`
	}
	if err := st.decode(&p); err != nil {
		return nil, err
	}
	if env.run.Store == nil {
		return nil, eris.New("lab: save needs a store")
	}
	l, err := env.Layer(p.Layer)
	if err != nil {
		return nil, err
	}
	if p.As != "" && p.As != l.Name {
		l = l.Clone()
		l.Name = p.As
	}
	if err := env.run.Store.SaveLayer(ctx, l); err != nil {
		return nil, err
	}
	return &Entry{Title: "saved " + l.Name, Text: describe(l)}, nil
}
