// Command collect runs one collection cycle of the Dresden COVID-19 feed:
// fetch, compare with the cached copy, and write the derived series if the
// feed changed.
//
// Usage:
//
//	collect [-archive] [-pretty] [-force] [-date T | -auto-date -file F]
//	        [-file F] [-endpoint NAME] [-output-dir DIR] [-no-cache] [-skip-sink] [-v]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/corona-dd-collector/internal/adapter/arcgis"
	"github.com/couchcryptid/corona-dd-collector/internal/adapter/influx"
	kafkaadapter "github.com/couchcryptid/corona-dd-collector/internal/adapter/kafka"
	"github.com/couchcryptid/corona-dd-collector/internal/adapter/snapshot"
	"github.com/couchcryptid/corona-dd-collector/internal/config"
	"github.com/couchcryptid/corona-dd-collector/internal/domain"
	"github.com/couchcryptid/corona-dd-collector/internal/observability"
	"github.com/couchcryptid/corona-dd-collector/internal/pipeline"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger, logCloser := observability.NewLogger(cfg)
	defer logCloser.Close()
	logger = logger.With("run_id", uuid.NewString())
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := collect(ctx, cfg, logger, metrics)

	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := metrics.Push(pushCtx, cfg.PushgatewayURL, cfg.PushgatewayJob); err != nil {
			logger.Error("metrics push failed", "error", err)
		}
	}
	return code
}

func collect(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) int {
	schema, err := domain.LookupSchema(cfg.SchemaVersion)
	if err != nil {
		logger.Error("invalid schema version", "error", err)
		return 1
	}

	store, err := snapshot.NewStore(cfg.OutputDir, cfg.Pretty, logger)
	if err != nil {
		logger.Error("cannot use output directory", "output_dir", cfg.OutputDir, "error", err)
		return 1
	}

	source, err := newSource(cfg, logger)
	if err != nil {
		logger.Error("invalid feed source", "error", err)
		return 1
	}

	sinks, closers, err := newSinks(cfg, logger)
	defer closeAll(closers, logger)
	if err != nil {
		logger.Error("failed to create sinks", "error", err)
		return 1
	}

	opts := pipeline.Options{
		Schema: schema,
		Series: cfg.SeriesNames(),
		Publication: domain.PublicationOptions{
			Override:     cfg.Date,
			InputFile:    cfg.File,
			FromFileName: cfg.AutoDate,
		},
		Force:    cfg.Force,
		Archive:  cfg.Archive,
		NoCache:  cfg.NoCache,
		SkipSink: cfg.SkipSink,
	}

	logger.Info("collector starting",
		"source", source.Source(),
		"output_dir", store.Dir(),
		"schema_version", schema.Version,
		"sinks", cfg.Sinks,
		"skip_sink", cfg.SkipSink,
		"force", cfg.Force,
	)

	c := pipeline.New(source, store, sinks, opts, clockwork.NewRealClock(), logger, metrics)
	res, err := c.Run(ctx)
	switch {
	case errors.Is(err, domain.ErrInvalidPublicationDate):
		logger.Error("cannot determine publication date; pass -date in a format like 2020-10-22T09:30:00Z", "error", err)
		return 1
	case err != nil:
		logger.Error("collection failed", "error", err)
		return 1
	}

	logger.Info("collection finished",
		"decision", res.Decision.Kind.String(),
		"records", res.Records,
		"batches", res.Batches,
		"points", res.Points,
		"archived", res.Archived,
		"cache_updated", res.CacheUpdated,
	)
	return 0
}

func newSource(cfg *config.Config, logger *slog.Logger) (pipeline.FeedSource, error) {
	if cfg.File != "" {
		return arcgis.NewFileSource(cfg.File), nil
	}
	url, err := cfg.EndpointURL()
	if err != nil {
		return nil, err
	}
	return arcgis.NewClient(url, cfg.FetchTimeout, cfg.FetchRetries, logger), nil
}

func newSinks(cfg *config.Config, logger *slog.Logger) ([]pipeline.Sink, []io.Closer, error) {
	if cfg.SkipSink {
		return nil, nil, nil
	}

	var (
		sinks   []pipeline.Sink
		closers []io.Closer
	)
	if cfg.HasSink(config.SinkInflux) {
		w, err := influx.NewWriter(influx.Config{
			Addr:     cfg.InfluxAddr,
			Database: cfg.InfluxDatabase,
			Username: cfg.InfluxUsername,
			Password: cfg.InfluxPassword,
			Timeout:  cfg.InfluxTimeout,
		}, logger)
		if err != nil {
			return nil, closers, fmt.Errorf("influx sink: %w", err)
		}
		sinks = append(sinks, w)
		closers = append(closers, w)
	}
	if cfg.HasSink(config.SinkKafka) {
		w := kafkaadapter.NewWriter(cfg.KafkaBrokers(), cfg.KafkaTopic, logger)
		sinks = append(sinks, w)
		closers = append(closers, w)
	}
	return sinks, closers, nil
}

func closeAll(closers []io.Closer, logger *slog.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("sink close error", "error", err)
		}
	}
}
