package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// CanonicalRecord is a raw record mapped onto a fixed, typed field set.
// Every declared field is present; missing or null source values carry the
// default for the field's kind.
type CanonicalRecord struct {
	// Time is the record's Datum, interpreted as a UTC calendar day.
	Time time.Time

	ints    map[string]int64
	floats  map[string]float64
	strings map[string]string
	schema  Schema
}

// datumLayouts are tried in order. The feed writes day before month.
var datumLayouts = []string{
	"2.1.2006",
	"2.1.2006 15:04",
	"2.1.2006 15:04:05",
	"2/1/2006",
	"2/1/2006 15:04",
	"2/1/2006 15:04:05",
}

// ParseDatum parses a day-first date string as UTC.
func ParseDatum(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range datumLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse Datum %q: expected DD.MM.YYYY", s)
}

// Normalize maps one raw record onto the schema's canonical field set.
func Normalize(raw RawRecord, schema Schema) (CanonicalRecord, error) {
	attrs := nfcKeys(raw)

	rec := CanonicalRecord{
		ints:    make(map[string]int64),
		floats:  make(map[string]float64),
		strings: make(map[string]string),
		schema:  schema,
	}

	for _, f := range schema.Fields {
		v := lookup(attrs, f.lookupNames())
		switch f.Kind {
		case KindInt:
			n, _ := intValue(v)
			rec.ints[f.Name] = n
		case KindFloat:
			x, _ := floatValue(v)
			rec.floats[f.Name] = x
		case KindString:
			rec.strings[f.Name] = stringValue(v, schema.LegacyNone)
		}
	}

	t, err := recordTime(attrs)
	if err != nil {
		return CanonicalRecord{}, fmt.Errorf("%w (ObjectId %d)", err, rec.ints[attrObjectID])
	}
	rec.Time = t

	return rec, nil
}

// NormalizeFeed normalizes every record of a snapshot, preserving order.
func NormalizeFeed(feed FeedSnapshot, schema Schema) ([]CanonicalRecord, error) {
	out := make([]CanonicalRecord, 0, len(feed.Records))
	for i, raw := range feed.Records {
		rec, err := Normalize(raw, schema)
		if err != nil {
			return nil, fmt.Errorf("normalize record %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func recordTime(attrs map[string]any) (time.Time, error) {
	if v, ok := attrs[attrDatum]; ok && v != nil {
		return ParseDatum(fmt.Sprint(v))
	}
	if ms, ok := intValue(attrs[attrDatumNeu]); ok {
		return time.UnixMilli(ms).UTC().Truncate(24 * time.Hour), nil
	}
	return time.Time{}, ErrMissingDate
}

// nfcKeys returns raw with every attribute name in Unicode NFC, so umlauts
// match regardless of how the publisher composed them.
func nfcKeys(raw RawRecord) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[norm.NFC.String(k)] = v
	}
	return out
}

// lookup returns the first non-null value found under names.
func lookup(attrs map[string]any, names []string) any {
	for _, name := range names {
		if v, ok := attrs[name]; ok && v != nil {
			return v
		}
	}
	return nil
}

func intValue(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return truncate(f)
		}
	case float64:
		return truncate(n)
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return truncate(f)
		}
	}
	return 0, false
}

func truncate(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func stringValue(v any, legacyNone bool) string {
	if v == nil {
		if legacyNone {
			return "None"
		}
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns an integer field, 0 if the schema does not declare it.
func (r CanonicalRecord) Int(name string) int64 { return r.ints[name] }

// Float returns a float field, 0 if the schema does not declare it.
func (r CanonicalRecord) Float(name string) float64 { return r.floats[name] }

// String returns a string field, "" if the schema does not declare it.
func (r CanonicalRecord) String(name string) string { return r.strings[name] }

// SchemaVersion is the version of the schema the record was built with.
func (r CanonicalRecord) SchemaVersion() string { return r.schema.Version }

// Fields returns a fresh map of every canonical field with its typed value.
func (r CanonicalRecord) Fields() map[string]any {
	out := make(map[string]any, len(r.ints)+len(r.floats)+len(r.strings))
	for k, v := range r.ints {
		out[k] = v
	}
	for k, v := range r.floats {
		out[k] = v
	}
	for k, v := range r.strings {
		out[k] = v
	}
	return out
}

// Raw renders the record back into attributes under canonical names.
func (r CanonicalRecord) Raw() RawRecord {
	raw := RawRecord(r.Fields())
	if r.Time.Equal(r.Time.Truncate(24 * time.Hour)) {
		raw[attrDatum] = r.Time.Format("02.01.2006")
	} else {
		raw[attrDatum] = r.Time.Format("02.01.2006 15:04:05")
	}
	return raw
}
