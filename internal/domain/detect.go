package domain

import (
	"fmt"
	"time"
)

// ChangeKind classifies a fetched feed against the cached one.
type ChangeKind int

const (
	Unchanged ChangeKind = iota
	Added
	Updated
)

func (k ChangeKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Updated:
		return "updated"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// ChangeDecision is the outcome of comparing the current feed to the cache.
type ChangeDecision struct {
	Kind   ChangeKind
	Reason string

	// PublishedAt is the resolved publication instant of the current feed.
	PublishedAt time.Time

	// LatestDate is the day covered by the newest record (from Datum_neu).
	LatestDate time.Time

	// CachedLatestDate is the same for the cached feed, or the Unix epoch.
	CachedLatestDate time.Time
}

// Changed reports whether the decision requires a write.
func (d ChangeDecision) Changed() bool { return d.Kind != Unchanged }

// Detect compares current with cached (nil when there is no cache) and
// classifies the change. now supplies the wall clock used for midnight.
//
//	equal,   !force                         -> Unchanged
//	equal,   force                          -> Updated (forced)
//	changed, latest >= midnight, differs    -> Added   (new day)
//	changed, latest >= midnight, same       -> Updated (today revised)
//	changed, latest <  midnight, differs    -> Added   (past day appeared)
//	changed, latest <  midnight, same       -> Updated (past day corrected)
func Detect(current FeedSnapshot, cached *FeedSnapshot, force bool, now, publishedAt time.Time) ChangeDecision {
	d := ChangeDecision{
		PublishedAt:      publishedAt.UTC(),
		LatestDate:       current.LatestDate(),
		CachedLatestDate: time.Unix(0, 0).UTC(),
	}
	if cached != nil {
		d.CachedLatestDate = cached.LatestDate()
	}

	if cached != nil && current.Equal(*cached) {
		if !force {
			d.Kind = Unchanged
			d.Reason = "feed unchanged"
			return d
		}
		d.Kind = Updated
		d.Reason = "forced re-collection of unchanged feed"
		return d
	}

	midnight := now.UTC().Truncate(24 * time.Hour)
	today := !d.LatestDate.Before(midnight)
	sameDay := d.LatestDate.Equal(d.CachedLatestDate)

	switch {
	case today && !sameDay:
		d.Kind, d.Reason = Added, "new day added"
	case today && sameDay:
		d.Kind, d.Reason = Updated, "today's figures revised"
	case !today && !sameDay:
		d.Kind, d.Reason = Added, "missing past day added"
	default:
		d.Kind, d.Reason = Updated, "past day corrected"
	}
	return d
}
