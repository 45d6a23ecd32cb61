package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CU-BIC/S3/internal/app"
	"github.com/CU-BIC/S3/internal/sampler"
)

func newSampleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Runs a collection over a region",
		Long: `Walks the region grid, filters points, snaps full batches to roads, and
looks up Street View panoramas. In images mode the panorama images are
downloaded for each configured heading. Committed batches and the final
artifacts go to the configured storage and sinks.`,
		RunE: runSample,
	}

	f := cmd.Flags()
	f.String("region", "", "boundary file (Nominatim JSON array or GeoJSON)")
	f.Int("region-index", 0, "Nominatim result to use")
	f.StringSlice("exclude", nil, "GeoJSON polygons to exclude (repeatable)")
	f.String("keys", "", "comma separated API keys")
	f.String("keys-file", "", "JSON file with API keys")
	f.Float64("resolution", 100, "grid step in metres")
	f.Int("batch-capacity", 100, "points per snap request")
	f.Float64("radius", 50, "panorama search radius in metres")
	f.Int("headings", 1, "images per panorama: 1, 2, or 4")
	f.String("mode", string(sampler.ModeImages), "images or panoramas")
	f.String("prefix", "s3", "image path and file name prefix")
	f.String("destination", "output", "local output directory")
	f.Bool("pipelined", false, "overlap traversal with the previous batch's enrichment")
	f.Float64("start-lat", 0, "resume from this grid latitude")
	f.Float64("start-lng", 0, "resume from this grid longitude")
	f.Bool("serve", false, "serve /healthz, /status, and /metrics while running")
	f.Int("port", 8080, "status server port")
	cmd.MarkFlagsRequiredTogether("start-lat", "start-lng")
	return cmd
}

func runSample(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}
	logger := loggerFrom(ctx)

	if cmd.Flags().Changed("start-lat") {
		lat, _ := cmd.Flags().GetFloat64("start-lat")
		lng, _ := cmd.Flags().GetFloat64("start-lng")
		cfg.Sampler.Start = strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lng, 'f', -1, 64)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	summary, runErr := a.Run(ctx)
	if summary.RunID != "" {
		fmt.Fprintf(cmd.OutOrStdout(),
			"run %s %s: %d processed, %d rejected, %d visited, %d batches, %d rotations\n",
			summary.RunID, summary.Status, len(summary.Processed), len(summary.Rejected),
			summary.TotalVisited, summary.Batches, summary.Rotations,
		)
	}
	if runErr != nil {
		return fmt.Errorf("run sampler: %w", runErr)
	}
	return nil
}
