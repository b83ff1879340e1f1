package weights

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geolab/internal/layer"
)

// Weight kinds accepted by Build.
const (
	KindQueen        = "queen"
	KindRook         = "rook"
	KindKNN          = "knn"
	KindDistanceBand = "distance_band"
	KindKernel       = "kernel"
)

// Spec describes a weights matrix by kind and parameters, as written in
// recipes and passed on the command line.
type Spec struct {
	Kind      string  `yaml:"kind" json:"kind"`
	K         int     `yaml:"k" json:"k,omitempty"`
	Threshold float64 `yaml:"threshold" json:"threshold,omitempty"`
	Binary    bool    `yaml:"binary" json:"binary,omitempty"`
	Alpha     float64 `yaml:"alpha" json:"alpha,omitempty"`
	Function  string  `yaml:"function" json:"function,omitempty"`
	Adaptive  bool    `yaml:"adaptive" json:"adaptive,omitempty"`
	Bandwidth float64 `yaml:"bandwidth" json:"bandwidth,omitempty"`
	Diagonal  bool    `yaml:"diagonal" json:"diagonal,omitempty"`
	// Transform is applied after construction; empty keeps the original
	// weights.
	Transform string `yaml:"transform" json:"transform,omitempty"`
}

// Build constructs the weights described by spec over l.
func Build(l *layer.Layer, spec Spec) (*W, error) {
	var (
		w   *W
		err error
	)
	switch strings.ToLower(strings.ReplaceAll(spec.Kind, "-", "_")) {
	case KindQueen, "":
		w, err = Queen(l)
	case KindRook:
		w, err = Rook(l)
	case KindKNN:
		k := spec.K
		if k == 0 {
			k = 4
		}
		w, err = KNN(l, k)
	case KindDistanceBand, "band":
		w, err = DistanceBand(l, spec.Threshold, BandOptions{Binary: spec.Binary, Alpha: spec.Alpha})
	case KindKernel:
		w, err = Kernel(l, KernelOptions{
			K:         spec.K,
			Function:  spec.Function,
			Adaptive:  spec.Adaptive,
			Bandwidth: spec.Bandwidth,
			Diagonal:  spec.Diagonal,
		})
	default:
		return nil, eris.Errorf("weights: unknown kind %q", spec.Kind)
	}
	if err != nil {
		return nil, err
	}
	if spec.Transform == "" {
		return w, nil
	}
	return Transform(w, spec.Transform)
}
