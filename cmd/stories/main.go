package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"earthquake-stories-go/internal/config"
	"earthquake-stories-go/internal/inference"
	"earthquake-stories-go/internal/logger"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "stories",
		Short:         "Batch tools for the earthquake story corpus",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (defaults to $CONFIG_FILE)")

	root.AddCommand(
		newQueueCmd(),
		newAnalyzeCmd(&configPath),
		newGeocodeCmd(&configPath),
	)
	return root
}

// setup loads config and builds the logger and inference client shared by
// the batch commands.
func setup(configPath string, needChat bool) (*config.Config, *logger.Logger, *inference.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if needChat {
		if err := cfg.Validate(); err != nil {
			return nil, nil, nil, err
		}
	}
	// Batch geocoding asks Photon for English names.
	if cfg.Geocoder.Lang == "" {
		cfg.Geocoder.Lang = "en"
	}
	log := logger.NewWithOptions(logger.Options{Environment: cfg.Environment, Level: cfg.LogLevel})
	client := inference.New(cfg.Inference(), inference.WithLogger(log.Entry))
	return cfg, log, client, nil
}
