package domain

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ArchiveLayout names archive files after their publication instant. It is
// also recognized when inferring a publication date from an input file name.
const ArchiveLayout = "2006-01-02T15-04-05Z"

// PubDateLayout is the human-readable form stored in the pub_date field.
const PubDateLayout = "2006-01-02T15:04:05"

var overrideLayouts = []string{
	time.RFC3339,
	PubDateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	ArchiveLayout,
}

// fileStampRe finds a timestamp like 2020-10-22T09-30-00 or 2020-10-22_09:30:00.
var fileStampRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})[T_ ](\d{2})[-:](\d{2})[-:](\d{2})`)

// PublicationOptions selects how the publication timestamp is resolved.
type PublicationOptions struct {
	// Override is an explicit date given by the operator.
	Override string

	// InputFile is the local file the feed was read from, if any.
	InputFile string

	// FromFileName enables inferring the date from InputFile.
	FromFileName bool
}

// ResolvePublication returns the publication instant in UTC: the override if
// given, else a timestamp found in the input file name when enabled, else now.
// Parse failures wrap ErrInvalidPublicationDate and are never defaulted.
func ResolvePublication(opts PublicationOptions, now time.Time) (time.Time, error) {
	if opts.Override != "" {
		return parseOverride(opts.Override)
	}
	if opts.FromFileName && opts.InputFile != "" {
		return parseFileName(opts.InputFile)
	}
	return now.UTC().Truncate(time.Second), nil
}

func parseOverride(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range overrideLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPublicationDate, s)
}

func parseFileName(path string) (time.Time, error) {
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if t, err := time.ParseInLocation(ArchiveLayout, stem, time.UTC); err == nil {
		return t, nil
	}

	m := fileStampRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: no timestamp in file name %q", ErrInvalidPublicationDate, name)
	}
	stamp := fmt.Sprintf("%sT%s:%s:%s", m[1], m[2], m[3], m[4])
	t, err := time.ParseInLocation(PubDateLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: file name %q: %v", ErrInvalidPublicationDate, name, err)
	}
	return t, nil
}

// ArchiveName is the file name of the archive copy for a publication instant.
func ArchiveName(publishedAt time.Time) string {
	return publishedAt.UTC().Format(ArchiveLayout) + ".json"
}
