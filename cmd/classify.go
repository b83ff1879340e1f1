package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/geolab/internal/lab"
)

type classifyOptions struct {
	column string
	method string
	k      int
	bins   string
	class  string
	output string
}

var classifyFlags classifyOptions

var classifyCmd = &cobra.Command{
	Use:   "classify <layer>",
	Short: "Bucket a numeric column into display classes",
	Long: "Classifies a column by equal intervals, quantiles, or user-defined upper bounds given with " +
		"--bins, and prints the class ranges and counts.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := classifyAnalysis(args, classifyFlags)
		if err != nil {
			return err
		}
		_, err = a.run(cmd)
		return err
	},
}

func classifyAnalysis(args []string, o classifyOptions) (*analysis, error) {
	bins, err := parseFloats(o.bins)
	if err != nil {
		return nil, err
	}
	a := newAnalysis("classify", args)
	a.add(lab.StepClassify, map[string]any{
		"layer":  a.layers[0],
		"column": o.column,
		"method": o.method,
		"k":      o.k,
		"bins":   bins,
		"output": o.class,
	})
	return a.export(a.layers[0], o.output), nil
}

func init() {
	f := classifyCmd.Flags()
	f.StringVar(&classifyFlags.column, "column", "", "numeric column to classify")
	f.StringVar(&classifyFlags.method, "method", "", "equal_interval (default), quantiles or user_defined")
	f.IntVar(&classifyFlags.k, "k", 5, "number of classes")
	f.StringVar(&classifyFlags.bins, "bins", "", "comma-separated upper bounds for user-defined classes")
	f.StringVar(&classifyFlags.class, "class-column", "", "column receiving each feature's class")
	f.StringVarP(&classifyFlags.output, "output", "o", "", "write the layer to a file")
	_ = classifyCmd.MarkFlagRequired("column")
	rootCmd.AddCommand(classifyCmd)
}
