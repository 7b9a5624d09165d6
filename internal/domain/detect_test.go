package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ms16Oct = int64(1602806400000)
	ms17Oct = int64(1602892800000)
	ms18Oct = int64(1602979200000)
)

var (
	noon18Oct = time.Date(2020, time.October, 18, 12, 0, 0, 0, time.UTC)
	pub18Oct  = time.Date(2020, time.October, 18, 9, 30, 0, 0, time.UTC)
)

func TestDetect_Unchanged(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"populated feed", testFeed(testRecord("16.10.2020", ms16Oct, 100, 5), testRecord("17.10.2020", ms17Oct, 110, 10))},
		{"empty feed", testFeed()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := mustParseFeed(t, tt.data)
			cached := mustParseFeed(t, tt.data)

			d := Detect(current, &cached, false, noon18Oct, pub18Oct)
			assert.Equal(t, Unchanged, d.Kind)
			assert.False(t, d.Changed())

			forced := Detect(current, &cached, true, noon18Oct, pub18Oct)
			assert.NotEqual(t, Unchanged, forced.Kind)
			assert.True(t, forced.Changed())
		})
	}
}

func TestDetect_DecisionTable(t *testing.T) {
	day16 := testRecord("16.10.2020", ms16Oct, 100, 5)
	day17 := testRecord("17.10.2020", ms17Oct, 110, 10)
	day18 := testRecord("18.10.2020", ms18Oct, 125, 15)
	day18Revised := testRecord("18.10.2020", ms18Oct, 127, 17)
	day16Revised := testRecord("16.10.2020", ms16Oct, 101, 6)

	tests := []struct {
		name       string
		current    []byte
		cached     []byte
		noCache    bool
		force      bool
		now        time.Time
		wantKind   ChangeKind
		wantReason string
	}{
		{
			name:       "new day today",
			current:    testFeed(day16, day17, day18),
			cached:     testFeed(day16, day17),
			now:        noon18Oct,
			wantKind:   Added,
			wantReason: "new day added",
		},
		{
			name:       "today revised",
			current:    testFeed(day16, day17, day18Revised),
			cached:     testFeed(day16, day17, day18),
			now:        noon18Oct,
			wantKind:   Updated,
			wantReason: "today's figures revised",
		},
		{
			name:       "past day appeared late",
			current:    testFeed(day16, day17),
			cached:     testFeed(day16),
			now:        noon18Oct,
			wantKind:   Added,
			wantReason: "missing past day added",
		},
		{
			name:       "past day corrected",
			current:    testFeed(day16Revised, day17),
			cached:     testFeed(day16, day17),
			now:        noon18Oct,
			wantKind:   Updated,
			wantReason: "past day corrected",
		},
		{
			name:       "no cache",
			current:    testFeed(day16, day17, day18),
			noCache:    true,
			now:        noon18Oct,
			wantKind:   Added,
			wantReason: "new day added",
		},
		{
			name:       "forced unchanged",
			current:    testFeed(day16, day17),
			cached:     testFeed(day16, day17),
			force:      true,
			now:        noon18Oct,
			wantKind:   Updated,
			wantReason: "forced re-collection of unchanged feed",
		},
		{
			name:       "forced changed follows table",
			current:    testFeed(day16, day17, day18),
			cached:     testFeed(day16, day17),
			force:      true,
			now:        noon18Oct,
			wantKind:   Added,
			wantReason: "new day added",
		},
		{
			name:       "latest exactly at midnight counts as today",
			current:    testFeed(day16, day17, day18),
			cached:     testFeed(day16, day17),
			now:        time.Date(2020, time.October, 18, 0, 0, 0, 0, time.UTC),
			wantKind:   Added,
			wantReason: "new day added",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := mustParseFeed(t, tt.current)
			var cached *FeedSnapshot
			if !tt.noCache {
				c := mustParseFeed(t, tt.cached)
				cached = &c
			}

			d := Detect(current, cached, tt.force, tt.now, pub18Oct)
			assert.Equal(t, tt.wantKind, d.Kind)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestDetect_DecisionDates(t *testing.T) {
	current := mustParseFeed(t, testFeed(testRecord("17.10.2020", ms17Oct, 110, 10), testRecord("18.10.2020", ms18Oct, 125, 15)))
	cached := mustParseFeed(t, testFeed(testRecord("17.10.2020", ms17Oct, 110, 10)))

	d := Detect(current, &cached, false, noon18Oct, pub18Oct.In(time.FixedZone("CEST", 2*3600)))
	require.Equal(t, Added, d.Kind)
	assert.Equal(t, time.UTC, d.PublishedAt.Location())
	assert.True(t, d.PublishedAt.Equal(pub18Oct))
	assert.Equal(t, time.Date(2020, time.October, 18, 0, 0, 0, 0, time.UTC), d.LatestDate)
	assert.Equal(t, time.Date(2020, time.October, 17, 0, 0, 0, 0, time.UTC), d.CachedLatestDate)

	noCache := Detect(current, nil, false, noon18Oct, pub18Oct)
	assert.Equal(t, time.Unix(0, 0).UTC(), noCache.CachedLatestDate)
}

func TestChangeKind_String(t *testing.T) {
	assert.Equal(t, "unchanged", Unchanged.String())
	assert.Equal(t, "added", Added.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "ChangeKind(9)", ChangeKind(9).String())
}
