// Package lab runs analysis recipes: YAML files naming input datasets and an
// ordered list of steps (load, buffer, overlay, voronoi, sjoin, weights,
// classify, plot, export, ...) applied to a set of named layers.
package lab

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Step kinds.
const (
	StepLoad        = "load"
	StepRename      = "rename"
	StepAssignIDs   = "assign_ids"
	StepCheckCRS    = "check_crs"
	StepBuffer      = "buffer"
	StepRelate      = "relate"
	StepDistance    = "distance"
	StepOverlay     = "overlay"
	StepDissolve    = "dissolve"
	StepVoronoi     = "voronoi"
	StepSJoin       = "sjoin"
	StepNearest     = "nearest"
	StepCountWithin = "count_within"
	StepAggregate   = "aggregate"
	StepWeights     = "weights"
	StepClassify    = "classify"
	StepPlot        = "plot"
	StepExport      = "export"
	StepSave        = "save"
)

// Recipe is a named analysis: inputs to load, then steps to apply.
type Recipe struct {
	Name string `yaml:"name"`
	// DataDir resolves input paths; relative to the recipe file when loaded
	// with LoadRecipe.
	DataDir string `yaml:"data_dir"`
	// CRS is assigned to inputs that carry no CRS metadata.
	CRS string `yaml:"crs"`
	// OutDir resolves relative output paths of plot and export steps.
	OutDir string            `yaml:"out_dir"`
	Inputs map[string]string `yaml:"inputs"`
	Steps  []Step            `yaml:"steps"`
}

// Step is one recipe step. Its parameters depend on Kind and are decoded
// when the step runs.
type Step struct {
	Kind string
	node yaml.Node
}

// UnmarshalYAML keeps the step node for kind-specific decoding.
func (s *Step) UnmarshalYAML(n *yaml.Node) error {
	var head struct {
		Kind string `yaml:"kind"`
	}
	if err := n.Decode(&head); err != nil {
		return err
	}
	if head.Kind == "" {
		return eris.Errorf("lab: step at line %d has no kind", n.Line)
	}
	s.Kind = head.Kind
	s.node = *n
	return nil
}

// NewStep builds a step of kind from params, a struct or map shaped like the
// step's YAML.
func NewStep(kind string, params any) (Step, error) {
	if _, ok := handlers[kind]; !ok {
		return Step{}, eris.Errorf("lab: unknown step kind %q", kind)
	}
	s := Step{Kind: kind}
	if params != nil {
		if err := s.node.Encode(params); err != nil {
			return Step{}, eris.Wrapf(err, "lab: encode %s parameters", kind)
		}
	}
	return s, nil
}

func (s Step) decode(v any) error {
	if s.node.Kind == 0 {
		return nil
	}
	return eris.Wrapf(s.node.Decode(v), "lab: %s parameters", s.Kind)
}

// Parse reads a recipe from YAML.
func Parse(data []byte) (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "lab: parse recipe")
	}
	if len(r.Steps) == 0 && len(r.Inputs) == 0 {
		return nil, eris.New("lab: recipe has no inputs and no steps")
	}
	for i, st := range r.Steps {
		if _, ok := handlers[st.Kind]; !ok {
			return nil, eris.Errorf("lab: step %d: unknown kind %q", i+1, st.Kind)
		}
	}
	return &r, nil
}

// LoadRecipe reads a recipe file. Relative data_dir and out_dir are taken
// relative to the file.
func LoadRecipe(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "lab: read %s", path)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "%s", path)
	}
	base := filepath.Dir(path)
	if r.DataDir != "" && !filepath.IsAbs(r.DataDir) {
		r.DataDir = filepath.Join(base, r.DataDir)
	}
	if r.OutDir != "" && !filepath.IsAbs(r.OutDir) {
		r.OutDir = filepath.Join(base, r.OutDir)
	}
	if r.Name == "" {
		r.Name = filepath.Base(path)
	}
	return r, nil
}
