package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geolab/internal/report"
	"github.com/sells-group/geolab/internal/store"
	"github.com/sells-group/geolab/internal/vector"
)

func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	return store.Open(ctx, storeConfig())
}

func storeConfig() store.Config {
	sc := store.Config{
		Driver:      cfg.Store.Driver,
		DatabaseURL: cfg.Store.DatabaseURL,
		Schema:      cfg.Store.Schema,
	}
	if cfg.Store.MaxConns > 0 || cfg.Store.MinConns > 0 {
		sc.Pool = &store.PoolConfig{MaxConns: cfg.Store.MaxConns, MinConns: cfg.Store.MinConns}
	}
	return sc
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Save, list, load and delete layers in the PostGIS or SQLite layer store",
}

var storeSaveAs string

var storeSaveCmd = &cobra.Command{
	Use:   "save <layer>...",
	Short: "Save layers to the store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if storeSaveAs != "" && len(args) > 1 {
			return eris.New("--as needs exactly one layer")
		}
		ctx := commandContext(cmd)
		def, err := cfg.DefaultCRS()
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		loader := vector.NewDirLoader(cfg.Data.Dir, def)
		for _, arg := range args {
			l, err := loader.Load(inputPath(arg))
			if err != nil {
				return err
			}
			if storeSaveAs != "" {
				l.Name = storeSaveAs
			}
			if err := st.SaveLayer(ctx, l); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d features, %s)\n", l.Name, l.Len(), l.CRS)
		}
		return nil
	},
}

var storeListJSON bool

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored layers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		infos, err := st.ListLayers(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if storeListJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return eris.Wrap(enc.Encode(infos), "encode layers")
		}
		t := &report.Table{Columns: []string{"name", "crs", "features", "fields", "saved_at"}}
		for _, li := range infos {
			crsName := li.CRSName
			if li.EPSG != 0 {
				crsName = fmt.Sprintf("EPSG:%d", li.EPSG)
			}
			t.Rows = append(t.Rows, []any{li.Name, crsName, li.Features, len(li.Fields), li.SavedAt.Format("2006-01-02 15:04:05")})
		}
		return report.WriteText(out, t)
	},
}

var storeLoadOutput string

var storeLoadCmd = &cobra.Command{
	Use:   "load <name>",
	Short: "Load a stored layer and write it to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		l, err := st.LoadLayer(ctx, args[0])
		if err != nil {
			return err
		}
		if storeLoadOutput == "" {
			return vector.EncodeGeoJSON(cmd.OutOrStdout(), l)
		}
		if err := vector.Write(storeLoadOutput, l); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d features)\n", storeLoadOutput, l.Len())
		return nil
	},
}

var storeDeleteCmd = &cobra.Command{
	Use:   "delete <name>...",
	Short: "Delete stored layers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, name := range args {
			if err := st.DeleteLayer(ctx, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
		}
		return nil
	},
}

func init() {
	storeSaveCmd.Flags().StringVar(&storeSaveAs, "as", "", "store the layer under this name")
	storeListCmd.Flags().BoolVar(&storeListJSON, "json", false, "print as JSON")
	storeLoadCmd.Flags().StringVarP(&storeLoadOutput, "output", "o", "", "file to write (default GeoJSON on stdout)")

	storeCmd.AddCommand(storeSaveCmd, storeListCmd, storeLoadCmd, storeDeleteCmd)
	rootCmd.AddCommand(storeCmd)
}
