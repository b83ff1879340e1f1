package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/geolab/internal/lab"
)

type plotOptions struct {
	title   string
	column  string
	method  string
	k       int
	bins    string
	palette string
	labels  map[string]string
	fills   map[string]string
	width   int
	height  int
	output  string
}

var plotFlags plotOptions

var plotCmd = &cobra.Command{
	Use:   "plot <layer>...",
	Short: "Render layers to an SVG map",
	Long: "Draws the layers in order, first at the bottom. --column colours the first layer by class; " +
		"--label and --fill take layer=value pairs.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := plotAnalysis(args, plotFlags)
		if err != nil {
			return err
		}
		_, err = a.run(cmd)
		return err
	},
}

func plotAnalysis(args []string, o plotOptions) (*analysis, error) {
	bins, err := parseFloats(o.bins)
	if err != nil {
		return nil, err
	}
	a := newAnalysis("plot", args)
	layers := make([]map[string]any, 0, len(a.layers))
	for i, name := range a.layers {
		lp := map[string]any{"layer": name}
		if i == 0 && o.column != "" {
			lp["column"] = o.column
			lp["method"] = o.method
			lp["k"] = o.k
			lp["bins"] = bins
			lp["palette"] = o.palette
		}
		if col, ok := o.labels[name]; ok {
			lp["label"] = col
		}
		if fill, ok := o.fills[name]; ok {
			lp["style"] = map[string]any{"fill": fill}
		}
		layers = append(layers, lp)
	}
	path := o.output
	if path == "" {
		path = a.layers[0] + ".svg"
	}
	a.add(lab.StepPlot, map[string]any{
		"path":   path,
		"title":  o.title,
		"width":  o.width,
		"height": o.height,
		"layers": layers,
	})
	return a, nil
}

func init() {
	f := plotCmd.Flags()
	f.StringVar(&plotFlags.title, "title", "", "map title")
	f.StringVar(&plotFlags.column, "column", "", "numeric column of the first layer to colour by")
	f.StringVar(&plotFlags.method, "method", "", "classification method for --column")
	f.IntVar(&plotFlags.k, "k", 0, "number of classes for --column")
	f.StringVar(&plotFlags.bins, "bins", "", "comma-separated class upper bounds for --column")
	f.StringVar(&plotFlags.palette, "palette", "", "colour palette (default from config)")
	f.StringToStringVar(&plotFlags.labels, "label", nil, "layer=column pairs naming label columns")
	f.StringToStringVar(&plotFlags.fills, "fill", nil, "layer=colour pairs")
	f.IntVar(&plotFlags.width, "width", 0, "canvas width in pixels (default from config)")
	f.IntVar(&plotFlags.height, "height", 0, "canvas height in pixels (default from config)")
	f.StringVarP(&plotFlags.output, "output", "o", "", "SVG file to write (default <layer>.svg)")
	rootCmd.AddCommand(plotCmd)
}
