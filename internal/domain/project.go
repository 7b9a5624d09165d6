package domain

import (
	"maps"
	"time"
)

// Derived field and tag names.
const (
	FieldPubDate        = "pub_date"
	FieldLatestDateUnix = "latest_date_unix"
	FieldMidnight       = "Fallzahl_Mitternacht"
	FieldReportLag      = "Fallzahl_Meldeverzug"

	TagLatestDate = "latest_date"
	TagVersion    = "version"
	TagPubDate    = "pub_date"
	TagSnapshot   = "snapshot"
)

// SeriesPoint is one timestamped, tagged, multi-field point.
type SeriesPoint struct {
	Series string
	Tags   map[string]string
	Fields map[string]any
	// Time is in UNIX seconds.
	Time int64
}

// Batch is the unit of one sink write: points of a single series.
type Batch struct {
	Series string
	Points []SeriesPoint
}

// SeriesNames configures the measurement names written per run.
type SeriesNames struct {
	// Latest holds the current state; a day's point is overwritten by corrections.
	Latest string
	// Archive keeps every revision, distinguished by the pub_date tag.
	Archive string
	Summary string
	Lag     string
}

// DefaultSeriesNames returns the measurement names used by the collector.
func DefaultSeriesNames() SeriesNames {
	return SeriesNames{
		Latest:  "dresden_official",
		Archive: "dresden_official_all",
		Summary: "dresden_official_summary",
		Lag:     "dresden_official_lag",
	}
}

// Project turns the ordered canonical records of one feed into the batches
// to write for decision d. It returns nil for an empty feed.
func Project(records []CanonicalRecord, d ChangeDecision, names SeriesNames) []Batch {
	if len(records) == 0 {
		return nil
	}

	version := records[0].SchemaVersion()
	baseTags := map[string]string{
		TagLatestDate: d.LatestDate.Format("2006-01-02"),
		TagVersion:    version,
	}
	archiveTags := maps.Clone(baseTags)
	archiveTags[TagPubDate] = d.PublishedAt.Format(time.RFC3339)

	targets := []struct {
		series string
		tags   map[string]string
	}{
		{names.Latest, baseTags},
		{names.Archive, archiveTags},
	}

	batches := make([]Batch, 0, 2*len(targets)+2)
	var primary Batch
	for i, target := range targets {
		recs := recordBatch(target.series, records, target.tags, d)
		if i == 0 {
			primary = recs
		}
		batches = append(batches, recs, backdatedBatch(target.series, records, target.tags))
	}

	last := primary.Points[len(primary.Points)-1]
	batches = append(batches, Batch{
		Series: names.Summary,
		Points: []SeriesPoint{newSummaryPoint(names.Summary, last)},
	})

	if len(records) >= 2 {
		latest := records[len(records)-1]
		previous := records[len(records)-2]
		batches = append(batches, Batch{
			Series: names.Lag,
			Points: []SeriesPoint{newLagPoint(names.Lag, previous, latest, baseTags)},
		})
	}

	return batches
}

func recordBatch(series string, records []CanonicalRecord, tags map[string]string, d ChangeDecision) Batch {
	points := make([]SeriesPoint, 0, len(records))
	for _, rec := range records {
		points = append(points, newRecordPoint(series, rec, tags, d))
	}
	return Batch{Series: series, Points: points}
}

// backdatedBatch attributes each record's cutoff figure to the previous
// calendar day: Fallzahl minus the increment reported at the cutoff is the
// count known by that day's midnight. The final day keeps its unshifted total.
func backdatedBatch(series string, records []CanonicalRecord, tags map[string]string) Batch {
	points := make([]SeriesPoint, 0, len(records)+1)
	for _, rec := range records {
		points = append(points, newMidnightPoint(series, rec.Time.AddDate(0, 0, -1), casesByMidnight(rec), tags))
	}
	last := records[len(records)-1]
	points = append(points, newMidnightPoint(series, last.Time, last.Int(FieldFallzahl), tags))
	return Batch{Series: series, Points: points}
}

func casesByMidnight(rec CanonicalRecord) int64 {
	return rec.Int(FieldFallzahl) - rec.Int(FieldMeldedatumOrZuwachs)
}

func newRecordPoint(series string, rec CanonicalRecord, tags map[string]string, d ChangeDecision) SeriesPoint {
	fields := rec.Fields()
	fields[FieldPubDate] = d.PublishedAt.Format(PubDateLayout)
	fields[FieldLatestDateUnix] = d.LatestDate.Unix()
	return SeriesPoint{
		Series: series,
		Tags:   maps.Clone(tags),
		Fields: fields,
		Time:   rec.Time.Unix(),
	}
}

func newMidnightPoint(series string, day time.Time, cases int64, tags map[string]string) SeriesPoint {
	return SeriesPoint{
		Series: series,
		Tags:   maps.Clone(tags),
		Fields: map[string]any{FieldMidnight: cases},
		Time:   day.Unix(),
	}
}

// newSummaryPoint copies src under another series. The summary series is
// tagged only as the noon snapshot, so src's tags become plain fields.
func newSummaryPoint(series string, src SeriesPoint) SeriesPoint {
	fields := maps.Clone(src.Fields)
	for k, v := range src.Tags {
		fields[k] = v
	}
	return SeriesPoint{
		Series: series,
		Tags:   map[string]string{TagSnapshot: "noon"},
		Fields: fields,
		Time:   src.Time,
	}
}

// newLagPoint records, for the day before the latest, how many cases
// attributable to that day were not yet visible at its cutoff and only
// surfaced with the next day's publication.
func newLagPoint(series string, previous, latest CanonicalRecord, tags map[string]string) SeriesPoint {
	attributable := casesByMidnight(latest)
	visible := previous.Int(FieldFallzahl)
	return SeriesPoint{
		Series: series,
		Tags:   maps.Clone(tags),
		Fields: map[string]any{
			FieldReportLag: attributable - visible,
			FieldMidnight:  attributable,
			FieldFallzahl:  visible,
		},
		Time: previous.Time.Unix(),
	}
}
