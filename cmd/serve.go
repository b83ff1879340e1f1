package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/server"
)

var (
	servePort   int
	serveSource string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve layers, SVG maps and spatial weights over HTTP",
	Long: "Serves the datasets of the data directory, or the layers of the store with --source store, " +
		"as GeoJSON, choropleth SVG maps and weights summaries with Moran's I.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if serveSource != "" {
			cfg.Server.Source = serveSource
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		var src server.Source
		if cfg.Server.Source == "store" {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			src = st
		} else {
			def, err := cfg.DefaultCRS()
			if err != nil {
				return err
			}
			src = server.NewFileSource(cfg.Data.Dir, def)
		}

		srv := server.New(src, server.Options{
			CORSOrigins: cfg.Server.CORSOrigins,
			Plot: server.PlotDefaults{
				Width:   cfg.Plot.Width,
				Height:  cfg.Plot.Height,
				Margin:  cfg.Plot.Margin,
				Palette: cfg.Plot.Palette,
			},
		})

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.String("source", cfg.Server.Source),
		)
		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveSource, "source", "", "files or store (default from config)")
	rootCmd.AddCommand(serveCmd)
}
