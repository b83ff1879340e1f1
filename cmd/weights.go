package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/geolab/internal/lab"
	"github.com/sells-group/geolab/internal/weights"
)

type weightsOptions struct {
	kind         string
	k            int
	threshold    float64
	alpha        float64
	binary       bool
	function     string
	adaptive     bool
	bandwidth    float64
	diagonal     bool
	transform    string
	moran        string
	permutations int
	seed         uint64
	gal          string
	focal        int
	focalColumn  string
	output       string
}

var weightsFlags weightsOptions

var weightsCmd = &cobra.Command{
	Use:   "weights <layer>",
	Short: "Build a spatial weights matrix and summarise it",
	Long: "Builds queen or rook contiguity, k-nearest-neighbour, distance band or kernel weights. " +
		"--moran tests a column for spatial autocorrelation; --focal writes one unit's weights " +
		"towards every unit into a column for plotting.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := weightsAnalysis(args, weightsFlags).run(cmd)
		return err
	},
}

func weightsAnalysis(args []string, o weightsOptions) *analysis {
	a := newAnalysis("weights", args)
	l := a.layers[0]
	params := map[string]any{
		"layer":        l,
		"type":         o.kind,
		"k":            o.k,
		"threshold":    o.threshold,
		"alpha":        o.alpha,
		"binary":       o.binary,
		"function":     o.function,
		"adaptive":     o.adaptive,
		"bandwidth":    o.bandwidth,
		"diagonal":     o.diagonal,
		"transform":    o.transform,
		"moran":        o.moran,
		"permutations": o.permutations,
		"seed":         o.seed,
		"gal":          o.gal,
	}
	if o.focal >= 0 {
		params["focal"] = o.focal
		params["focal_column"] = o.focalColumn
	}
	a.add(lab.StepWeights, params)
	return a.export(l, o.output)
}

func init() {
	f := weightsCmd.Flags()
	f.StringVar(&weightsFlags.kind, "type", weights.KindQueen, "queen, rook, knn, distance_band or kernel")
	f.IntVar(&weightsFlags.k, "k", 0, "neighbours for knn and kernel weights")
	f.Float64Var(&weightsFlags.threshold, "threshold", 0, "distance band threshold")
	f.Float64Var(&weightsFlags.alpha, "alpha", 0, "distance decay exponent for non-binary distance bands (default -1)")
	f.BoolVar(&weightsFlags.binary, "binary", false, "binary distance band weights")
	f.StringVar(&weightsFlags.function, "function", "", "kernel function: triangular, uniform, quadratic, quartic or gaussian")
	f.BoolVar(&weightsFlags.adaptive, "adaptive", false, "adaptive kernel bandwidth")
	f.Float64Var(&weightsFlags.bandwidth, "bandwidth", 0, "fixed kernel bandwidth")
	f.BoolVar(&weightsFlags.diagonal, "diagonal", false, "set kernel self weights to 1")
	f.StringVar(&weightsFlags.transform, "transform", "", "B, R, D, V or O")
	f.StringVar(&weightsFlags.moran, "moran", "", "column to test with Moran's I")
	f.IntVar(&weightsFlags.permutations, "permutations", 999, "Moran permutations")
	f.Uint64Var(&weightsFlags.seed, "seed", 1, "permutation seed")
	f.StringVar(&weightsFlags.gal, "gal", "", "write the neighbour lists to a GAL file")
	f.IntVar(&weightsFlags.focal, "focal", -1, "index of a unit whose weights are written to a column")
	f.StringVar(&weightsFlags.focalColumn, "focal-column", "", "column for --focal (default w_<index>)")
	f.StringVarP(&weightsFlags.output, "output", "o", "", "write the layer, with any focal column, to a file")
	rootCmd.AddCommand(weightsCmd)
}
