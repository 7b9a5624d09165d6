package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/corona-dd-collector/internal/adapter/snapshot"
	"github.com/couchcryptid/corona-dd-collector/internal/domain"
	"github.com/couchcryptid/corona-dd-collector/internal/observability"
	"github.com/couchcryptid/corona-dd-collector/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockSource struct {
	data  []byte
	err   error
	calls int
}

func (m *mockSource) Fetch(context.Context) ([]byte, error) {
	m.calls++
	return m.data, m.err
}

func (m *mockSource) Source() string { return "mock" }

type mockSink struct {
	name     string
	batches  []domain.Batch
	failOn   int // 1-based write call that fails; 0 never fails
	calls    int
	prepared int
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Write(_ context.Context, b domain.Batch) error {
	m.calls++
	if m.failOn != 0 && m.calls == m.failOn {
		return errors.New("connection refused")
	}
	m.batches = append(m.batches, b)
	return nil
}

func (m *mockSink) Prepare(context.Context) error {
	m.prepared++
	return nil
}

func (m *mockSink) points(series string) int {
	n := 0
	for _, b := range m.batches {
		if b.Series == series {
			n += len(b.Points)
		}
	}
	return n
}

// --- fixtures ---

var now = time.Date(2020, time.October, 18, 12, 0, 0, 0, time.UTC)

func record(datum string, datumNeu, fallzahl, zuwachs int64) map[string]any {
	return map[string]any{
		"Datum":            datum,
		"Datum_neu":        datumNeu,
		"Fallzahl":         fallzahl,
		"Zuwachs_Fallzahl": zuwachs,
	}
}

func feed(t *testing.T, records ...map[string]any) []byte {
	t.Helper()
	features := make([]map[string]any, 0, len(records))
	for _, r := range records {
		features = append(features, map[string]any{"attributes": r})
	}
	data, err := json.Marshal(map[string]any{"features": features})
	require.NoError(t, err)
	return data
}

func feedA(t *testing.T) []byte {
	return feed(t,
		record("16.10.2020", 1602806400000, 100, 5),
		record("17.10.2020", 1602892800000, 110, 10),
	)
}

// feedB is feedA plus a record for today.
func feedB(t *testing.T) []byte {
	return feed(t,
		record("16.10.2020", 1602806400000, 100, 5),
		record("17.10.2020", 1602892800000, 110, 10),
		record("18.10.2020", 1602979200000, 125, 15),
	)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newStore(t *testing.T) *snapshot.Store {
	t.Helper()
	s, err := snapshot.NewStore(t.TempDir(), false, discard())
	require.NoError(t, err)
	return s
}

func defaultOptions(t *testing.T) pipeline.Options {
	t.Helper()
	schema, err := domain.LookupSchema(domain.DefaultSchemaVersion)
	require.NoError(t, err)
	return pipeline.Options{Schema: schema, Series: domain.DefaultSeriesNames()}
}

func newCollector(src pipeline.FeedSource, store pipeline.SnapshotStore, sink *mockSink, opts pipeline.Options, metrics *observability.Metrics) *pipeline.Collector {
	return pipeline.New(src, store, []pipeline.Sink{sink}, opts, clockwork.NewFakeClockAt(now), discard(), metrics)
}

func readCache(t *testing.T, s *snapshot.Store) []byte {
	t.Helper()
	data, err := os.ReadFile(s.CachePath())
	require.NoError(t, err)
	return data
}

// --- tests ---

func TestCollector_Run_NewDayAdded(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Save(ctx, feedA(t)))

	sink := &mockSink{name: "influx"}
	c := newCollector(&mockSource{data: feedB(t)}, store, sink, defaultOptions(t), observability.NewMetricsForTesting())

	res, err := c.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.Added, res.Decision.Kind)
	assert.Equal(t, 3, res.Records)
	assert.True(t, res.CacheUpdated)

	names := domain.DefaultSeriesNames()
	require.NotEmpty(t, sink.batches)
	assert.Equal(t, names.Latest, sink.batches[0].Series)
	assert.Len(t, sink.batches[0].Points, 3, "one primary point per record")

	var series []string
	for _, b := range sink.batches {
		series = append(series, b.Series)
	}
	want := []string{names.Latest, names.Latest, names.Archive, names.Archive, names.Summary, names.Lag}
	if diff := cmp.Diff(want, series); diff != "" {
		t.Errorf("batch order mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, feedB(t), readCache(t, store))
	assert.Equal(t, 1, sink.prepared)
}

func TestCollector_Run_UnchangedTwice(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	src := &mockSource{data: feedB(t)}
	metrics := observability.NewMetricsForTesting()

	first := &mockSink{name: "influx"}
	res, err := newCollector(src, store, first, defaultOptions(t), metrics).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.Added, res.Decision.Kind)
	cached := readCache(t, store)

	second := &mockSink{name: "influx"}
	res, err = newCollector(src, store, second, defaultOptions(t), metrics).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.Unchanged, res.Decision.Kind)
	assert.Zero(t, second.calls)
	assert.Zero(t, second.prepared)
	assert.False(t, res.CacheUpdated)
	assert.Equal(t, cached, readCache(t, store))
}

func TestCollector_Run_Forced(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Save(ctx, feedB(t)))

	opts := defaultOptions(t)
	opts.Force = true
	sink := &mockSink{name: "influx"}

	res, err := newCollector(&mockSource{data: feedB(t)}, store, sink, opts, observability.NewMetricsForTesting()).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.Updated, res.Decision.Kind)
	assert.Equal(t, "forced re-collection of unchanged feed", res.Decision.Reason)
	assert.Len(t, sink.batches, res.Batches)
}

func TestCollector_Run_SkipSinkArchives(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	opts := defaultOptions(t)
	opts.SkipSink = true
	opts.Archive = true
	opts.Publication = domain.PublicationOptions{Override: "2020-10-22T09:30:00Z"}
	sink := &mockSink{name: "influx"}

	res, err := newCollector(&mockSource{data: feedB(t)}, store, sink, opts, observability.NewMetricsForTesting()).Run(ctx)
	require.NoError(t, err)

	assert.Zero(t, sink.calls)
	require.Len(t, res.Archived, 1)
	assert.Equal(t, "2020-10-22T09-30-00Z.json", filepath.Base(res.Archived[0]))
	assert.Positive(t, res.Points)
	assert.True(t, res.CacheUpdated)
	assert.Equal(t, feedB(t), readCache(t, store))
}

func TestCollector_Run_SkipSinkWithNoCache(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Save(ctx, feedA(t)))

	opts := defaultOptions(t)
	opts.SkipSink = true
	opts.NoCache = true
	sink := &mockSink{name: "influx"}

	res, err := newCollector(&mockSource{data: feedB(t)}, store, sink, opts, observability.NewMetricsForTesting()).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.Added, res.Decision.Kind)
	assert.Zero(t, sink.calls)
	assert.False(t, res.CacheUpdated)
	assert.Equal(t, feedA(t), readCache(t, store))
}

func TestCollector_Run_SinkFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Save(ctx, feedA(t)))

	sink := &mockSink{name: "influx", failOn: 3}
	res, err := newCollector(&mockSource{data: feedB(t)}, store, sink, defaultOptions(t), observability.NewMetricsForTesting()).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dresden_official_all")
	assert.Contains(t, err.Error(), "connection refused")

	assert.Len(t, sink.batches, 2, "earlier batches stay written")
	assert.False(t, res.CacheUpdated)
	assert.Equal(t, feedA(t), readCache(t, store))
}

func TestCollector_Run_InvalidDateFailsBeforeFetch(t *testing.T) {
	opts := defaultOptions(t)
	opts.Publication = domain.PublicationOptions{Override: "tomorrow"}
	src := &mockSource{data: feedB(t)}

	_, err := newCollector(src, newStore(t), &mockSink{name: "influx"}, opts, observability.NewMetricsForTesting()).Run(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidPublicationDate)
	assert.Zero(t, src.calls)
}

func TestCollector_Run_FetchError(t *testing.T) {
	src := &mockSource{err: errors.New("dial tcp: i/o timeout")}
	sink := &mockSink{name: "influx"}

	_, err := newCollector(src, newStore(t), sink, defaultOptions(t), observability.NewMetricsForTesting()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch mock")
	assert.Zero(t, sink.calls)
}

func TestCollector_Run_MalformedFeed(t *testing.T) {
	_, err := newCollector(&mockSource{data: []byte("<html>")}, newStore(t), &mockSink{name: "influx"}, defaultOptions(t), observability.NewMetricsForTesting()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse feed")
}

func TestCollector_Run_NoCacheStillDetects(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Save(ctx, feedB(t)))

	opts := defaultOptions(t)
	opts.NoCache = true
	sink := &mockSink{name: "influx"}

	res, err := newCollector(&mockSource{data: feedB(t)}, store, sink, opts, observability.NewMetricsForTesting()).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.Unchanged, res.Decision.Kind)
	assert.Zero(t, sink.calls)
	assert.Zero(t, sink.prepared)
	assert.False(t, res.CacheUpdated)
	assert.Equal(t, feedB(t), readCache(t, store))
}

func TestCollector_Run_NoCacheKeepsOldCache(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Save(ctx, feedA(t)))

	opts := defaultOptions(t)
	opts.NoCache = true
	sink := &mockSink{name: "influx"}

	res, err := newCollector(&mockSource{data: feedB(t)}, store, sink, opts, observability.NewMetricsForTesting()).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.Added, res.Decision.Kind)
	assert.Equal(t, time.Date(2020, time.October, 17, 0, 0, 0, 0, time.UTC), res.Decision.CachedLatestDate)
	assert.Len(t, sink.batches, res.Batches)
	assert.False(t, res.CacheUpdated)
	assert.Equal(t, feedA(t), readCache(t, store))
}

func TestCollector_Run_CorruptCacheReplaced(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Save(ctx, []byte(`{"features":[`)))

	res, err := newCollector(&mockSource{data: feedB(t)}, store, &mockSink{name: "influx"}, defaultOptions(t), observability.NewMetricsForTesting()).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.Added, res.Decision.Kind)
	assert.Equal(t, feedB(t), readCache(t, store))
}

func TestCollector_Run_MultipleSinks(t *testing.T) {
	ctx := context.Background()
	influxSink := &mockSink{name: "influx"}
	kafkaSink := &mockSink{name: "kafka"}

	c := pipeline.New(&mockSource{data: feedB(t)}, newStore(t), []pipeline.Sink{influxSink, kafkaSink},
		defaultOptions(t), clockwork.NewFakeClockAt(now), discard(), observability.NewMetricsForTesting())

	res, err := c.Run(ctx)
	require.NoError(t, err)

	if diff := cmp.Diff(influxSink.batches, kafkaSink.batches); diff != "" {
		t.Errorf("sinks received different batches (-influx +kafka):\n%s", diff)
	}
	assert.Equal(t, res.Points, influxSink.points("dresden_official")+influxSink.points("dresden_official_all")+
		influxSink.points("dresden_official_summary")+influxSink.points("dresden_official_lag"))
}
