package lab

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geolab/internal/classify"
	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/plot"
	"github.com/sells-group/geolab/internal/store"
	"github.com/sells-group/geolab/internal/vector"
	"github.com/sells-group/geolab/internal/weights"
)

// DefaultOutDir holds outputs when neither the recipe nor the runner names
// one.
const DefaultOutDir = "out"

// Runner executes recipes.
type Runner struct {
	// DataDir is used when a recipe names none.
	DataDir string
	// OutDir is used when a recipe names none.
	OutDir string
	// DefaultCRS is assigned to inputs without CRS metadata when the recipe
	// names none.
	DefaultCRS crs.CRS
	// Store receives save steps; nil makes them fail.
	Store store.Store
	// Plot sizes maps whose step leaves width and height unset.
	Plot PlotDefaults
	// Concurrency bounds parallel input loading; zero means 4.
	Concurrency int
}

// PlotDefaults apply to plot steps.
type PlotDefaults struct {
	Width   int    `yaml:"width" mapstructure:"width"`
	Height  int    `yaml:"height" mapstructure:"height"`
	Margin  int    `yaml:"margin" mapstructure:"margin"`
	Palette string `yaml:"palette" mapstructure:"palette"`
}

// Env is the state steps read and write: named layers, weights and
// classifications.
type Env struct {
	Layers          map[string]*layer.Layer
	Weights         map[string]*weights.W
	Classifications map[string]*classify.Classification

	loader *vector.DirLoader
	outDir string
	run    *Runner
}

func newEnv(run *Runner, loader *vector.DirLoader, outDir string) *Env {
	return &Env{
		Layers:          map[string]*layer.Layer{},
		Weights:         map[string]*weights.W{},
		Classifications: map[string]*classify.Classification{},
		loader:          loader,
		outDir:          outDir,
		run:             run,
	}
}

// Layer returns the named layer.
func (e *Env) Layer(name string) (*layer.Layer, error) {
	if name == "" {
		return nil, eris.New("lab: no layer named in step")
	}
	l, ok := e.Layers[name]
	if !ok {
		return nil, eris.Errorf("lab: no layer %q (have %v)", name, e.layerNames())
	}
	return l, nil
}

func (e *Env) layerNames() []string {
	names := make([]string, 0, len(e.Layers))
	for n := range e.Layers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// put stores l under name, renaming it.
func (e *Env) put(name string, l *layer.Layer) {
	l.Name = name
	e.Layers[name] = l
}

func (e *Env) outPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.outDir, p)
}

// Run loads the recipe inputs concurrently, then applies its steps in order.
// The returned report is partial when an error is returned.
func (r *Runner) Run(ctx context.Context, rec *Recipe) (*Report, error) {
	dataDir := firstNonEmpty(rec.DataDir, r.DataDir, ".")
	outDir := firstNonEmpty(rec.OutDir, r.OutDir, DefaultOutDir)
	defaultCRS := r.DefaultCRS
	if rec.CRS != "" {
		c, err := crs.Parse(rec.CRS)
		if err != nil {
			return nil, eris.Wrap(err, "lab: recipe crs")
		}
		defaultCRS = c
	}

	env := newEnv(r, vector.NewDirLoader(dataDir, defaultCRS), outDir)
	rep := &Report{Recipe: rec.Name}
	start := time.Now()
	log := zap.L().With(zap.String("recipe", rec.Name))

	if err := r.loadInputs(ctx, env, rec.Inputs); err != nil {
		return rep, err
	}
	log.Info("lab: inputs loaded", zap.Strings("layers", env.layerNames()))

	for i, st := range rec.Steps {
		if err := ctx.Err(); err != nil {
			return rep, eris.Wrap(err, "lab: cancelled")
		}
		h, ok := handlers[st.Kind]
		if !ok {
			return rep, eris.Errorf("lab: step %d: unknown kind %q", i+1, st.Kind)
		}
		stepStart := time.Now()
		entry, err := h(ctx, env, st)
		if err != nil {
			return rep, eris.Wrapf(err, "lab: step %d (%s)", i+1, st.Kind)
		}
		if entry != nil {
			entry.Step = i + 1
			entry.Kind = st.Kind
			rep.Entries = append(rep.Entries, *entry)
		}
		log.Debug("lab: step done",
			zap.Int("step", i+1),
			zap.String("kind", st.Kind),
			zap.Duration("elapsed", time.Since(stepStart)),
		)
	}
	rep.Layers = env.layerNames()
	log.Info("lab: recipe complete",
		zap.Int("steps", len(rec.Steps)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rep, nil
}

func (r *Runner) loadInputs(ctx context.Context, env *Env, inputs map[string]string) error {
	names := make([]string, 0, len(inputs))
	for n := range inputs {
		names = append(names, n)
	}
	slices.Sort(names)

	limit := r.Concurrency
	if limit <= 0 {
		limit = 4
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			l, err := env.loader.Load(inputs[name])
			if err != nil {
				return eris.Wrapf(err, "lab: input %s", name)
			}
			mu.Lock()
			env.put(name, l)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (p PlotDefaults) apply(m *plot.Map) {
	if m.Width == 0 {
		m.Width = p.Width
	}
	if m.Height == 0 {
		m.Height = p.Height
	}
	if m.Margin == 0 {
		m.Margin = p.Margin
	}
}
