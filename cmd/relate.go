package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/geolab/internal/lab"
)

type relateOptions struct {
	predicates string
	id         string
	otherID    string
	matrix     bool
	only       bool
	distance   bool
}

var relateFlags relateOptions

var relateCmd = &cobra.Command{
	Use:   "relate <layer> [other]",
	Short: "Evaluate spatial predicates and distances between the features of two layers",
	Long: "Tabulates intersects, within, contains, overlaps and the other DE-9IM predicates for every " +
		"pair of features. With one layer, its features are related to each other.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := relateAnalysis(args, relateFlags).run(cmd)
		return err
	},
}

func relateAnalysis(args []string, o relateOptions) *analysis {
	a := newAnalysis("relate", args)
	pair := map[string]any{"layer": a.layers[0], "id": o.id, "other_id": o.otherID}
	if len(a.layers) > 1 {
		pair["other"] = a.layers[1]
	}

	params := map[string]any{"predicates": splitList(o.predicates), "matrix": o.matrix, "only": o.only}
	for k, v := range pair {
		params[k] = v
	}
	a.add(lab.StepRelate, params)

	if o.distance {
		a.add(lab.StepDistance, pair)
	}
	return a
}

func init() {
	f := relateCmd.Flags()
	f.StringVar(&relateFlags.predicates, "predicates", "", "comma-separated predicates (default all)")
	f.StringVar(&relateFlags.id, "id", "", "column labelling features of the first layer")
	f.StringVar(&relateFlags.otherID, "other-id", "", "column labelling features of the second layer")
	f.BoolVar(&relateFlags.matrix, "matrix", false, "add the DE-9IM intersection matrix")
	f.BoolVar(&relateFlags.only, "only", false, "keep only pairs for which the first predicate holds")
	f.BoolVar(&relateFlags.distance, "distance", false, "add the distance matrix")
	rootCmd.AddCommand(relateCmd)
}
