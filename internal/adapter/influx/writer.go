package influx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/corona-dd-collector/internal/domain"
	client "github.com/influxdata/influxdb1-client/v2"
)

// Precision of every written timestamp. Points carry UNIX seconds.
const Precision = "s"

// Config selects the InfluxDB 1.x server and database.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

// Writer writes series batches to an InfluxDB 1.x database.
// It implements pipeline.Sink.
type Writer struct {
	client   client.Client
	database string
	logger   *slog.Logger
}

// NewWriter creates an HTTP client for the server. No request is made until
// EnsureDatabase or Write is called.
func NewWriter(cfg Config, logger *slog.Logger) (*Writer, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("influx client: %w", err)
	}
	return &Writer{client: c, database: cfg.Database, logger: logger}, nil
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "influx" }

// EnsureDatabase creates the database if it does not exist yet.
func (w *Writer) EnsureDatabase(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := w.client.Query(client.NewQuery(fmt.Sprintf("CREATE DATABASE %q", w.database), "", ""))
	if err != nil {
		return fmt.Errorf("create database %s: %w", w.database, err)
	}
	if err := resp.Error(); err != nil {
		return fmt.Errorf("create database %s: %w", w.database, err)
	}
	return nil
}

// Prepare is called by the pipeline once before the first write.
func (w *Writer) Prepare(ctx context.Context) error { return w.EnsureDatabase(ctx) }

// Write sends all points of batch in one request.
func (w *Writer) Write(ctx context.Context, batch domain.Batch) error {
	if len(batch.Points) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  w.database,
		Precision: Precision,
	})
	if err != nil {
		return fmt.Errorf("influx batch: %w", err)
	}
	for _, p := range batch.Points {
		pt, err := NewPoint(p)
		if err != nil {
			return err
		}
		bp.AddPoint(pt)
	}

	if err := w.client.Write(bp); err != nil {
		return fmt.Errorf("influx write %s: %w", batch.Series, err)
	}
	w.logger.Debug("influx batch written", "series", batch.Series, "points", len(batch.Points))
	return nil
}

// Close releases idle connections.
func (w *Writer) Close() error {
	return w.client.Close()
}

// NewPoint converts a series point into an InfluxDB point.
func NewPoint(p domain.SeriesPoint) (*client.Point, error) {
	pt, err := client.NewPoint(p.Series, p.Tags, p.Fields, time.Unix(p.Time, 0).UTC())
	if err != nil {
		return nil, fmt.Errorf("build point %s@%d: %w", p.Series, p.Time, err)
	}
	return pt, nil
}
