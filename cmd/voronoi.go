package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/geolab/internal/lab"
)

type voronoiOptions struct {
	clip   string
	margin float64
	extent string
	count  string
	weight string
	output string
}

var voronoiFlags voronoiOptions

var voronoiCmd = &cobra.Command{
	Use:   "voronoi <points>",
	Short: "Build Voronoi (Thiessen) regions around a point layer",
	Long: "Builds one region per point, bounded by the points' extent grown by --margin, by --extent, " +
		"or by the union of a --clip layer. --count tallies the points of another layer in each region.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := voronoiAnalysis(args, voronoiFlags)
		if err != nil {
			return err
		}
		_, err = a.run(cmd)
		return err
	},
}

func voronoiAnalysis(args []string, o voronoiOptions) (*analysis, error) {
	extent, err := parseFloats(o.extent)
	if err != nil {
		return nil, err
	}
	inputs := append([]string{}, args...)
	if o.clip != "" {
		inputs = append(inputs, o.clip)
	}
	if o.count != "" {
		inputs = append(inputs, o.count)
	}
	a := newAnalysis("voronoi", inputs)

	seeds := a.layers[0]
	out := seeds + "_voronoi"
	params := map[string]any{"layer": seeds, "output": out, "margin": o.margin, "extent": extent}
	next := 1
	if o.clip != "" {
		params["clip"] = a.layers[next]
		next++
	}
	a.add(lab.StepVoronoi, params)

	if o.count != "" {
		a.add(lab.StepCountWithin, map[string]any{
			"points":   a.layers[next],
			"polygons": out,
			"weight":   o.weight,
		})
	}
	return a.export(out, o.output), nil
}

func init() {
	f := voronoiCmd.Flags()
	f.StringVar(&voronoiFlags.clip, "clip", "", "layer whose union bounds the regions")
	f.Float64Var(&voronoiFlags.margin, "margin", 0, "growth of the points' extent as a fraction (default 0.1)")
	f.StringVar(&voronoiFlags.extent, "extent", "", "explicit extent as minx,miny,maxx,maxy")
	f.StringVar(&voronoiFlags.count, "count", "", "point layer to count in each region")
	f.StringVar(&voronoiFlags.weight, "weight", "", "numeric column of --count points to sum instead of counting")
	f.StringVarP(&voronoiFlags.output, "output", "o", "", "write the regions to a .shp, .geojson, .csv or .xlsx file")
	rootCmd.AddCommand(voronoiCmd)
}
