package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/corona-dd-collector/internal/domain"
	"github.com/couchcryptid/corona-dd-collector/internal/observability"
	"github.com/jonboulle/clockwork"
)

// FeedSource returns the raw feed document.
type FeedSource interface {
	Fetch(ctx context.Context) ([]byte, error)
	Source() string
}

// SnapshotStore persists the last processed document and archive copies.
// Load returns domain.ErrNoSnapshot when nothing has been cached yet.
type SnapshotStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, raw []byte) error
	Archive(ctx context.Context, raw []byte, publishedAt time.Time) ([]string, error)
}

// Sink writes one batch of points per call.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch domain.Batch) error
}

// Preparer is implemented by sinks that need setup before the first write,
// such as creating a database.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Options parameterizes a run.
type Options struct {
	Schema      domain.Schema
	Series      domain.SeriesNames
	Publication domain.PublicationOptions

	Force    bool
	Archive  bool
	NoCache  bool
	SkipSink bool
}

// Result summarizes a finished run.
type Result struct {
	Decision     domain.ChangeDecision
	Records      int
	Batches      int
	Points       int
	Archived     []string
	CacheUpdated bool
}

// Collector runs one fetch, compare and write cycle.
type Collector struct {
	source  FeedSource
	store   SnapshotStore
	sinks   []Sink
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Collector with the given collaborators and observability.
func New(source FeedSource, store SnapshotStore, sinks []Sink, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Collector {
	return &Collector{
		source:  source,
		store:   store,
		sinks:   sinks,
		opts:    opts,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Run executes the cycle once. An unchanged feed is a successful run with
// no writes. The cache is replaced only after every batch reached every sink,
// so a failed run is repeated in full by the next invocation.
func (c *Collector) Run(ctx context.Context) (Result, error) {
	res, err := c.run(ctx)
	if err != nil {
		c.metrics.Runs.WithLabelValues("failed").Inc()
		return res, err
	}
	c.metrics.Runs.WithLabelValues(res.Decision.Kind.String()).Inc()
	c.metrics.LastSuccess.Set(float64(c.clock.Now().Unix()))
	return res, nil
}

func (c *Collector) run(ctx context.Context) (Result, error) {
	var res Result
	now := c.clock.Now()

	// Resolved before fetching so a bad override fails without side effects.
	publishedAt, err := domain.ResolvePublication(c.opts.Publication, now)
	if err != nil {
		return res, err
	}

	feed, err := c.fetch(ctx)
	if err != nil {
		return res, err
	}
	res.Records = len(feed.Records)

	cached, err := c.loadCache(ctx)
	if err != nil {
		return res, err
	}

	decision := domain.Detect(feed, cached, c.opts.Force, now, publishedAt)
	res.Decision = decision
	c.logger.Info("change detected",
		"decision", decision.Kind.String(),
		"reason", decision.Reason,
		"latest_date", decision.LatestDate.Format(time.DateOnly),
		"cached_latest_date", decision.CachedLatestDate.Format(time.DateOnly),
		"pub_date", decision.PublishedAt.Format(time.RFC3339),
	)
	if !decision.Changed() {
		return res, nil
	}

	records, err := domain.NormalizeFeed(feed, c.opts.Schema)
	if err != nil {
		return res, err
	}
	batches := domain.Project(records, decision, c.opts.Series)
	res.Batches = len(batches)
	for _, b := range batches {
		res.Points += len(b.Points)
	}

	if c.opts.Archive {
		paths, err := c.store.Archive(ctx, feed.Raw, decision.PublishedAt)
		res.Archived = paths
		if err != nil {
			return res, err
		}
	}

	if c.opts.SkipSink {
		c.logger.Info("sink skipped", "batches", len(batches), "points", res.Points)
	} else if err := c.write(ctx, batches); err != nil {
		return res, err
	}

	if !c.opts.NoCache {
		if err := c.store.Save(ctx, feed.Raw); err != nil {
			return res, err
		}
		res.CacheUpdated = true
	}
	return res, nil
}

func (c *Collector) fetch(ctx context.Context) (domain.FeedSnapshot, error) {
	start := c.clock.Now()
	raw, err := c.source.Fetch(ctx)
	c.metrics.FetchDuration.Observe(c.clock.Since(start).Seconds())
	if err != nil {
		return domain.FeedSnapshot{}, fmt.Errorf("fetch %s: %w", c.source.Source(), err)
	}

	feed, err := domain.ParseFeed(raw)
	if err != nil {
		return domain.FeedSnapshot{}, fmt.Errorf("fetch %s: %w", c.source.Source(), err)
	}
	c.metrics.FeedRecords.Set(float64(len(feed.Records)))
	c.logger.Info("feed fetched", "source", c.source.Source(), "records", len(feed.Records), "bytes", len(raw))
	return feed, nil
}

// loadCache returns nil when there is no usable cached document. A cache
// that no longer parses is treated like a missing one and replaced.
// NoCache does not apply here; it only suppresses the overwrite.
func (c *Collector) loadCache(ctx context.Context) (*domain.FeedSnapshot, error) {
	raw, err := c.store.Load(ctx)
	if errors.Is(err, domain.ErrNoSnapshot) {
		c.logger.Info("no cached snapshot, treating feed as new")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cached, err := domain.ParseFeed(raw)
	if err != nil {
		c.logger.Warn("cached snapshot unreadable, ignoring it", "error", err)
		return nil, nil
	}
	return &cached, nil
}

// write sends every batch to every sink in order. Earlier successful writes
// are not undone when a later one fails.
func (c *Collector) write(ctx context.Context, batches []domain.Batch) error {
	for _, s := range c.sinks {
		if p, ok := s.(Preparer); ok {
			if err := p.Prepare(ctx); err != nil {
				c.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
				return fmt.Errorf("prepare %s sink: %w", s.Name(), err)
			}
		}
	}

	for _, b := range batches {
		for _, s := range c.sinks {
			if err := s.Write(ctx, b); err != nil {
				c.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
				c.logger.Error("sink write failed", "sink", s.Name(), "series", b.Series, "points", len(b.Points), "error", err)
				return fmt.Errorf("write %s to %s: %w", b.Series, s.Name(), err)
			}
			c.metrics.PointsWritten.WithLabelValues(s.Name(), b.Series).Add(float64(len(b.Points)))
		}
	}
	c.logger.Info("series written", "batches", len(batches), "sinks", len(c.sinks))
	return nil
}
