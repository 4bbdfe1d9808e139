package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"earthquake-stories-go/internal/api"
	"earthquake-stories-go/internal/config"
	"earthquake-stories-go/internal/inference"
	"earthquake-stories-go/internal/logger"
	"earthquake-stories-go/internal/stories"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (defaults to $CONFIG_FILE)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New().WithError(err).Fatal("failed to load config")
	}

	log := logger.NewWithOptions(logger.Options{Environment: cfg.Environment, Level: cfg.LogLevel})
	log.WithField("service", "earthquake-stories-go").Info("starting service")

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	// Stories are optional: without them /api/stories answers 500.
	log.WithField("stories_path", cfg.StoriesPath).Info("loading geocoded stories")
	records, err := stories.ReadJSON(cfg.StoriesPath)
	if err != nil {
		log.WithError(err).Warn("story data unavailable")
	} else {
		log.WithField("stories", len(records)).Info("story data loaded")
	}

	client := inference.New(cfg.Inference(), inference.WithLogger(log.Entry))
	defer client.Close()

	handler := api.NewHandler(client, client, records, log.Entry)
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown failed")
	}

	stats := client.Cache().Stats()
	log.WithField("entries", stats.Entries).
		WithField("hits", stats.Hits).
		WithField("misses", stats.Misses).
		Info("server stopped")
}
