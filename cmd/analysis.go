package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geolab/internal/lab"
	"github.com/sells-group/geolab/internal/store"
)

// analysis is a one-off recipe built from command arguments: the input
// layers, then the steps the command adds.
type analysis struct {
	name   string
	inputs map[string]string
	// layers holds the layer name of each input argument, in order.
	layers []string
	steps  []stepParams
}

type stepParams struct {
	kind   string
	params map[string]any
}

func newAnalysis(name string, args []string) *analysis {
	a := &analysis{name: name, inputs: map[string]string{}}
	for _, arg := range args {
		path := inputPath(arg)
		n := inputName(arg)
		if prev, ok := a.inputs[n]; ok && prev != path {
			for i := 2; ; i++ {
				cand := n + "_" + strconv.Itoa(i)
				if _, taken := a.inputs[cand]; !taken {
					n = cand
					break
				}
			}
		}
		a.inputs[n] = path
		a.layers = append(a.layers, n)
	}
	return a
}

func (a *analysis) add(kind string, params map[string]any) *analysis {
	a.steps = append(a.steps, stepParams{kind: kind, params: params})
	return a
}

// export adds an export step when path is set.
func (a *analysis) export(layerName, path string) *analysis {
	if path == "" {
		return a
	}
	return a.add(lab.StepExport, map[string]any{"layer": layerName, "path": path})
}

func (a *analysis) recipe() (*lab.Recipe, error) {
	rec := &lab.Recipe{Name: a.name, Inputs: a.inputs}
	for _, sp := range a.steps {
		st, err := lab.NewStep(sp.kind, sp.params)
		if err != nil {
			return nil, err
		}
		rec.Steps = append(rec.Steps, st)
	}
	return rec, nil
}

// run executes the analysis and prints its report.
func (a *analysis) run(cmd *cobra.Command) (*lab.Report, error) {
	if err := cfg.Validate("analysis"); err != nil {
		return nil, err
	}
	rec, err := a.recipe()
	if err != nil {
		return nil, err
	}
	runner, err := newRunner(".", nil)
	if err != nil {
		return nil, err
	}
	rep, err := runner.Run(commandContext(cmd), rec)
	if err != nil {
		return rep, err
	}
	return rep, rep.WriteText(cmd.OutOrStdout())
}

func newRunner(outDir string, st store.Store) (*lab.Runner, error) {
	def, err := cfg.DefaultCRS()
	if err != nil {
		return nil, eris.Wrap(err, "data crs")
	}
	return &lab.Runner{
		DataDir:    cfg.Data.Dir,
		OutDir:     outDir,
		DefaultCRS: def,
		Store:      st,
		Plot: lab.PlotDefaults{
			Width:   cfg.Plot.Width,
			Height:  cfg.Plot.Height,
			Margin:  cfg.Plot.Margin,
			Palette: cfg.Plot.Palette,
		},
	}, nil
}

// inputName is the layer name for a command argument: its base name without
// extension.
func inputName(arg string) string {
	base := filepath.Base(arg)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// inputPath makes arg absolute when it names an existing file, so that paths
// relative to the working directory are preferred over dataset names in the
// data directory.
func inputPath(arg string) string {
	fi, err := os.Stat(arg)
	if err != nil || fi.IsDir() {
		return arg
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return arg
	}
	return abs
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseFloats reads a comma-separated list such as "0,0.5,1".
func parseFloats(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "parse number %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
