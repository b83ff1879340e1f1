package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/geolab/internal/lab"
	"github.com/sells-group/geolab/internal/spatial"
)

type bufferOptions struct {
	distance float64
	quadSegs int
	output   string
}

var bufferFlags bufferOptions

var bufferCmd = &cobra.Command{
	Use:   "buffer <layer>",
	Short: "Buffer every feature of a layer by a distance in CRS units",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := bufferAnalysis(args, bufferFlags).run(cmd)
		return err
	},
}

func bufferAnalysis(args []string, o bufferOptions) *analysis {
	a := newAnalysis("buffer", args)
	out := a.layers[0] + "_buffer"
	a.add(lab.StepBuffer, map[string]any{
		"layer":     a.layers[0],
		"distance":  o.distance,
		"quad_segs": o.quadSegs,
		"output":    out,
	})
	return a.export(out, o.output)
}

func init() {
	f := bufferCmd.Flags()
	f.Float64VarP(&bufferFlags.distance, "distance", "d", 0, "buffer distance; negative erodes polygons")
	f.IntVar(&bufferFlags.quadSegs, "quad-segs", spatial.DefaultQuadSegs, "segments per quarter circle")
	f.StringVarP(&bufferFlags.output, "output", "o", "", "write the buffers to a .shp, .geojson, .csv or .xlsx file")
	rootCmd.AddCommand(bufferCmd)
}
