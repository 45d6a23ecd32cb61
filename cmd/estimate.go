package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CU-BIC/S3/internal/app"
)

func newEstimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Prints the grid size of a region",
		Long: `Counts the grid points a collection would visit for the configured region
and step distance, and the snap requests needed at the configured batch size.`,
		RunE: runEstimate,
	}
	f := cmd.Flags()
	f.String("region", "", "boundary file (Nominatim JSON array or GeoJSON)")
	f.Int("region-index", 0, "Nominatim result to use")
	f.Float64("resolution", 100, "grid step in metres")
	f.Int("batch-capacity", 100, "points per snap request")
	return cmd
}

func runEstimate(cmd *cobra.Command, _ []string) error {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return err
	}
	region, err := app.LoadRegion(cfg.Region)
	if err != nil {
		return err
	}
	est, err := app.EstimateGrid(region, cfg.Sampler.StepDistance)
	if err != nil {
		return err
	}
	requests := (est.GridPoints + cfg.Sampler.BatchCapacity - 1) / cfg.Sampler.BatchCapacity
	b := est.BoundingBox
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "bounding box: %.6f,%.6f to %.6f,%.6f\n", b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)
	fmt.Fprintf(out, "step: %g m\n", est.StepDistance)
	fmt.Fprintf(out, "grid points: %d\n", est.GridPoints)
	fmt.Fprintf(out, "snap requests (at most): %d\n", requests)
	return nil
}
