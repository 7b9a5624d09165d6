package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"
)

// Sentinel errors shared by the pipeline and its adapters.
var (
	// ErrNoSnapshot is returned by a snapshot store that has no cached feed yet.
	ErrNoSnapshot = errors.New("no cached snapshot")

	// ErrInvalidPublicationDate marks a user-supplied or file-name-derived
	// publication date that could not be parsed.
	ErrInvalidPublicationDate = errors.New("invalid publication date")

	// ErrOutputPath marks an output directory that cannot be resolved or created.
	ErrOutputPath = errors.New("unresolvable output path")

	// ErrMissingDate is returned for a record that carries neither Datum nor Datum_neu.
	ErrMissingDate = errors.New("record has no date")
)

// RawRecord is the attribute map of one feature as published by the feed.
type RawRecord map[string]any

// FeedSnapshot is the complete feed document as fetched at one instant.
type FeedSnapshot struct {
	// Raw holds the document bytes exactly as received.
	Raw []byte

	// Records are the feature attribute maps in feed order.
	Records []RawRecord

	document any
}

type arcgisDocument struct {
	Features []struct {
		Attributes RawRecord `json:"attributes"`
	} `json:"features"`
}

// ParseFeed decodes an ArcGIS FeatureServer query response.
func ParseFeed(data []byte) (FeedSnapshot, error) {
	var doc any
	if err := decodeNumbers(data, &doc); err != nil {
		return FeedSnapshot{}, fmt.Errorf("parse feed: %w", err)
	}

	var feed arcgisDocument
	if err := decodeNumbers(data, &feed); err != nil {
		return FeedSnapshot{}, fmt.Errorf("parse feed features: %w", err)
	}

	records := make([]RawRecord, 0, len(feed.Features))
	for _, f := range feed.Features {
		if f.Attributes == nil {
			f.Attributes = RawRecord{}
		}
		records = append(records, f.Attributes)
	}

	return FeedSnapshot{Raw: data, Records: records, document: doc}, nil
}

// decodeNumbers keeps numeric literals as json.Number so epoch milliseconds
// and integer counts survive without float rounding.
func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Equal reports whether two snapshots carry structurally identical documents.
// Record order is significant; object key order is not.
func (s FeedSnapshot) Equal(other FeedSnapshot) bool {
	return reflect.DeepEqual(s.document, other.document)
}

// Latest returns the last record of the feed, or false for an empty feed.
func (s FeedSnapshot) Latest() (RawRecord, bool) {
	if len(s.Records) == 0 {
		return nil, false
	}
	return s.Records[len(s.Records)-1], true
}

// LatestDate reads Datum_neu (epoch milliseconds) of the last record.
// An empty feed or a missing attribute yields the Unix epoch.
func (s FeedSnapshot) LatestDate() time.Time {
	latest, ok := s.Latest()
	if !ok {
		return time.Unix(0, 0).UTC()
	}
	ms, ok := intValue(latest[attrDatumNeu])
	if !ok {
		return time.Unix(0, 0).UTC()
	}
	return time.Unix(ms/1000, 0).UTC()
}
