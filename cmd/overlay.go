package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/geolab/internal/lab"
	"github.com/sells-group/geolab/internal/spatial"
)

type overlayOptions struct {
	how    string
	output string
}

var overlayFlags overlayOptions

var overlayCmd = &cobra.Command{
	Use:   "overlay <layer> <other>",
	Short: "Intersect, union or difference two polygon layers",
	Long:  "Overlays two layers sharing a CRS. --how is one of intersection, union, difference, symmetric_difference or identity.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := overlayAnalysis(args, overlayFlags).run(cmd)
		return err
	},
}

func overlayAnalysis(args []string, o overlayOptions) *analysis {
	a := newAnalysis("overlay", args)
	out := a.layers[0] + "_" + o.how
	a.add(lab.StepOverlay, map[string]any{
		"layer":  a.layers[0],
		"other":  a.layers[1],
		"how":    o.how,
		"output": out,
	})
	return a.export(out, o.output)
}

type dissolveOptions struct {
	by     string
	output string
}

var dissolveFlags dissolveOptions

var dissolveCmd = &cobra.Command{
	Use:   "dissolve <layer>",
	Short: "Union the features of a layer, grouped by a column",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := dissolveAnalysis(args, dissolveFlags).run(cmd)
		return err
	},
}

func dissolveAnalysis(args []string, o dissolveOptions) *analysis {
	a := newAnalysis("dissolve", args)
	out := a.layers[0] + "_dissolved"
	a.add(lab.StepDissolve, map[string]any{"layer": a.layers[0], "by": o.by, "output": out})
	return a.export(out, o.output)
}

func init() {
	f := overlayCmd.Flags()
	f.StringVar(&overlayFlags.how, "how", string(spatial.OverlayIntersection), "overlay operation")
	f.StringVarP(&overlayFlags.output, "output", "o", "", "write the result to a .shp, .geojson, .csv or .xlsx file")
	rootCmd.AddCommand(overlayCmd)

	f = dissolveCmd.Flags()
	f.StringVar(&dissolveFlags.by, "by", "", "group column (default: dissolve everything)")
	f.StringVarP(&dissolveFlags.output, "output", "o", "", "write the result to a .shp, .geojson, .csv or .xlsx file")
	rootCmd.AddCommand(dissolveCmd)
}
