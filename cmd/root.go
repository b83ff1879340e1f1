package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "geolab",
	Short: "Vector GIS analysis toolkit",
	Long: "Loads shapefiles and GeoJSON, checks coordinate reference systems, evaluates spatial relations, " +
		"buffers, overlays, Voronoi regions, spatial joins and spatial weights, and renders SVG maps. " +
		"Analyses can be scripted as YAML recipes.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
