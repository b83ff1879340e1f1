package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/lab"
	"github.com/sells-group/geolab/internal/report"
	"github.com/sells-group/geolab/internal/store"
)

type runOptions struct {
	outDir string
	xlsx   string
	json   bool
}

var runFlags runOptions

var runCmd = &cobra.Command{
	Use:   "run <recipe.yaml>...",
	Short: "Run analysis recipes",
	Long: "Runs YAML recipes: inputs are loaded concurrently, then steps apply in order. " +
		"Recipes with save steps write to the configured layer store.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecipes(cmd, args, runFlags)
	},
}

func runRecipes(cmd *cobra.Command, paths []string, o runOptions) error {
	if err := cfg.Validate("analysis"); err != nil {
		return err
	}
	ctx := commandContext(cmd)

	recipes := make([]*lab.Recipe, 0, len(paths))
	needStore := false
	for _, p := range paths {
		rec, err := lab.LoadRecipe(p)
		if err != nil {
			return err
		}
		recipes = append(recipes, rec)
		for _, st := range rec.Steps {
			needStore = needStore || st.Kind == lab.StepSave
		}
	}

	var st store.Store
	if needStore {
		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck
		st = s
	}

	runner, err := newRunner(o.outDir, st)
	if err != nil {
		return err
	}

	var (
		tables  []*report.Table
		reports []*lab.Report
	)
	for _, rec := range recipes {
		rep, err := runner.Run(ctx, rec)
		if err != nil {
			return eris.Wrapf(err, "recipe %s", rec.Name)
		}
		zap.L().Info("recipe finished",
			zap.String("recipe", rec.Name),
			zap.Int("steps", len(rep.Entries)),
			zap.Strings("files", rep.Files()),
		)
		reports = append(reports, rep)
		tables = append(tables, rep.Tables()...)
	}

	if o.xlsx != "" && len(tables) > 0 {
		if err := report.WriteXLSX(o.xlsx, tables...); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if o.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(reports), "encode reports")
	}
	for _, rep := range reports {
		if err := rep.WriteText(out); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.outDir, "out", lab.DefaultOutDir, "output directory for recipes that name none")
	f.StringVar(&runFlags.xlsx, "xlsx", "", "also write every result table to one workbook")
	f.BoolVar(&runFlags.json, "json", false, "print the reports as JSON")
	rootCmd.AddCommand(runCmd)
}
