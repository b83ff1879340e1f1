package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/report"
	"github.com/sells-group/geolab/internal/vector"
)

var inspectStrict bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <layer>...",
	Short: "Describe layers and check that their coordinate reference systems match",
	Long: "Prints feature counts, geometry kind, CRS, bounds and fields of each layer. " +
		"A layer is a file path or a dataset name in the data directory.",
	Args: cobra.MinimumNArgs(1),
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate("analysis"); err != nil {
		return err
	}
	def, err := cfg.DefaultCRS()
	if err != nil {
		return err
	}
	loader := vector.NewDirLoader(cfg.Data.Dir, def)
	out := cmd.OutOrStdout()

	layers := make([]*layer.Layer, 0, len(args))
	for _, arg := range args {
		l, err := loader.Load(inputPath(arg))
		if err != nil {
			return err
		}
		layers = append(layers, l)

		fmt.Fprintf(out, "%s: %d features, %s, crs %s (%s)\n", l.Name, l.Len(), l.GeometryKind(), l.CRS, l.CRS.Units())
		if b := l.Bounds(); b != nil {
			fmt.Fprintf(out, "bounds: %g %g %g %g\n", b.Min(0), b.Min(1), b.Max(0), b.Max(1))
		}
		t := &report.Table{Columns: []string{"field", "type"}}
		for _, f := range l.Fields {
			t.Rows = append(t.Rows, []any{f.Name, string(f.Type)})
		}
		if err := report.WriteText(out, t); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}

	if len(layers) < 2 {
		return nil
	}
	var mismatch error
	for _, l := range layers[1:] {
		if err := crs.Match(layers[0].CRS, l.CRS); err != nil {
			fmt.Fprintf(out, "crs: %s and %s: %v\n", layers[0].Name, l.Name, err)
			if mismatch == nil {
				mismatch = err
			}
		}
	}
	if mismatch == nil {
		fmt.Fprintln(out, "crs: all layers match")
		return nil
	}
	if inspectStrict {
		return mismatch
	}
	return nil
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectStrict, "strict", false, "fail when coordinate reference systems differ")
	rootCmd.AddCommand(inspectCmd)
}
