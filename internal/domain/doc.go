// Package domain models the official COVID-19 statistics feed published by
// the city of Dresden and the time series derived from it.
//
// # Data Source
//
// The city publishes its daily figures as an ArcGIS FeatureServer layer
// (corona_DD_7_Sicht). A query with f=json returns a document whose
// "features" array holds one object per reporting day; each feature's
// "attributes" map is a [RawRecord]. Records are ordered by day, so the last
// record is the most recent day covered by the feed.
//
// # Feed Conventions
//
// Dates:
//
//	Datum      "18.10.2020"      day-first, no offset; interpreted as UTC midnight.
//	Datum_neu  1603065600000     epoch milliseconds of the same day.
//
// Datum places each record on the time axis. Datum_neu of the last record
// decides which day the feed covers. They are read independently and agree
// for well-formed feeds. Parsing Datum month-first shifts every point by
// months without any error, so [ParseDatum] accepts day-first layouts only.
//
// Counts:
//
//	Fallzahl           cumulative cases confirmed by the daily reporting cutoff.
//	Zuwachs_Fallzahl   increase of Fallzahl over the previous publication.
//	Fälle_Meldedatum   cases by report date, counted on the day itself
//	                   (added in a later revision of the layer).
//
// Null values are common, especially for fields added after the layer was
// first published. Stored series need a stable type per field, so nulls are
// replaced by the declared default rather than omitted.
//
// # Schema Revisions
//
// The attribute set changed over time. Each revision is an entry in the
// schema table (see [LookupSchema]) listing every canonical field with the
// raw attribute names it may be read from, newest first. Adding a revision is
// a change to that table only.
//
// # Change Detection
//
// A run compares the whole fetched document to the cached one. Any
// difference, including reordering, triggers a write; [Detect] classifies it
// as a newly added day or an update of an already known day.
//
// # Derived Series
//
// Besides one point per record, [Project] derives the cases known by
// midnight (Fallzahl_Mitternacht, backdated by one day), a noon summary of
// the newest record, and the report lag of the day before the newest.
package domain
