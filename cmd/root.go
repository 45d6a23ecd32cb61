// Package cmd defines and implements the CLI commands of the s3 executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CU-BIC/S3/internal/config"
	"github.com/CU-BIC/S3/internal/logging"
)

var (
	cfgFile string
	envFile string
)

type ctxKey string

const (
	configKey ctxKey = "config"
	loggerKey ctxKey = "logger"
)

// flagBindings maps config keys to the flags that override them. Only flags
// defined on the running command are bound.
var flagBindings = map[string]string{
	"region.boundary":         "region",
	"region.index":            "region-index",
	"region.exclusions":       "exclude",
	"credentials.keys":        "keys",
	"credentials.file":        "keys-file",
	"sampler.step_distance_m": "resolution",
	"sampler.batch_capacity":  "batch-capacity",
	"sampler.search_radius_m": "radius",
	"sampler.headings":        "headings",
	"sampler.mode":            "mode",
	"sampler.prefix":          "prefix",
	"sampler.pipelined":       "pipelined",
	"storage.destination":     "destination",
	"server.enabled":          "serve",
	"server.port":             "port",
	"logging.level":           "log-level",
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "s3",
		Short: "Street-level imagery sampler",
		Long: `s3 walks a regular grid over a region, keeps the points that fall inside
its boundary and off water, snaps them to roads, and collects the Street View
panoramas (and optionally images) found nearby.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile, cmd.Flags(), bindingsFor(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			ctx = context.WithValue(ctx, loggerKey, logger)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json, or toml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	cmd.PersistentFlags().String("log-level", "", "minimum log level (debug, info, warn, error)")

	cmd.AddCommand(newSampleCmd())
	cmd.AddCommand(newEstimateCmd())
	return cmd
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func bindingsFor(cmd *cobra.Command) map[string]string {
	out := make(map[string]string, len(flagBindings))
	for key, name := range flagBindings {
		if cmd.Flags().Lookup(name) != nil {
			out[key] = name
		}
	}
	return out
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

func loggerFrom(ctx context.Context) *zap.Logger {
	logger, _ := ctx.Value(loggerKey).(*zap.Logger)
	return logging.OrNop(logger)
}
