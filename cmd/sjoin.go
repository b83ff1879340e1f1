package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/geolab/internal/lab"
)

type sjoinOptions struct {
	predicate      string
	how            string
	lsuffix        string
	rsuffix        string
	nearest        bool
	maxDistance    float64
	distanceColumn string
	by             string
	aggs           string
	output         string
}

var sjoinFlags sjoinOptions

var sjoinCmd = &cobra.Command{
	Use:   "sjoin <left> <right>",
	Short: "Join the attributes of two layers by a spatial predicate or by nearest feature",
	Long: "Joins every left feature to the right features satisfying --predicate (intersects, within, " +
		"contains, ...), or with --nearest to its single nearest right feature. --by aggregates the " +
		"joined rows with --aggs such as count,sum(deaths),mean(deaths).",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := sjoinAnalysis(args, sjoinFlags).run(cmd)
		return err
	},
}

func sjoinAnalysis(args []string, o sjoinOptions) *analysis {
	a := newAnalysis("sjoin", args)
	left, right := a.layers[0], a.layers[1]
	out := left + "_" + right

	if o.nearest {
		a.add(lab.StepNearest, map[string]any{
			"layer":           left,
			"other":           right,
			"max_distance":    o.maxDistance,
			"distance_column": o.distanceColumn,
			"output":          out,
		})
	} else {
		a.add(lab.StepSJoin, map[string]any{
			"layer":     left,
			"other":     right,
			"predicate": o.predicate,
			"how":       o.how,
			"lsuffix":   o.lsuffix,
			"rsuffix":   o.rsuffix,
			"output":    out,
		})
	}

	if o.by == "" {
		return a.export(out, o.output)
	}
	agg := out + "_by_" + o.by
	a.add(lab.StepAggregate, map[string]any{
		"layer":  out,
		"by":     o.by,
		"aggs":   splitList(o.aggs),
		"output": agg,
	})
	return a.export(agg, o.output)
}

func init() {
	f := sjoinCmd.Flags()
	f.StringVar(&sjoinFlags.predicate, "predicate", "intersects", "spatial predicate")
	f.StringVar(&sjoinFlags.how, "how", "inner", "inner, left or right")
	f.StringVar(&sjoinFlags.lsuffix, "lsuffix", "left", "suffix for clashing left columns")
	f.StringVar(&sjoinFlags.rsuffix, "rsuffix", "right", "suffix for clashing right columns")
	f.BoolVar(&sjoinFlags.nearest, "nearest", false, "join each left feature to its nearest right feature")
	f.Float64Var(&sjoinFlags.maxDistance, "max-distance", 0, "with --nearest, leave features farther than this unmatched")
	f.StringVar(&sjoinFlags.distanceColumn, "distance-column", "", "with --nearest, column receiving the distance")
	f.StringVar(&sjoinFlags.by, "by", "", "aggregate the joined rows by this column")
	f.StringVar(&sjoinFlags.aggs, "aggs", "count", "aggregations for --by, e.g. count,sum(deaths)")
	f.StringVarP(&sjoinFlags.output, "output", "o", "", "write the result to a .shp, .geojson, .csv or .xlsx file")
	rootCmd.AddCommand(sjoinCmd)
}
