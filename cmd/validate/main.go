// Command validate checks a directory of archived feed documents before they
// are replayed with collect -file -auto-date. It verifies that every file
// parses, that record dates are consistent, that the records normalize and
// project cleanly under the chosen schema, and that the archive is
// chronologically coherent.
//
// Usage:
//
//	go run ./cmd/validate -dir archive/compact -schema 3
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/corona-dd-collector/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// archived is one parsed archive file.
type archived struct {
	path        string
	publishedAt time.Time
	feed        domain.FeedSnapshot
}

func main() {
	dir := flag.String("dir", filepath.Join("archive", "compact"), "directory of archived feed documents")
	version := flag.String("schema", domain.DefaultSchemaVersion, "schema version to normalize with")
	flag.Parse()

	schema, err := domain.LookupSchema(*version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(*dir, schema))
}

func run(dir string, schema domain.Schema) int {
	fmt.Println("=== Feed Archive Validation ===")
	fmt.Println()

	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil || len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "FATAL: no archive files in %s\n", dir)
		return 1
	}

	files, loadPhase := loadArchive(paths)
	phases := []*phase{
		loadPhase,
		validateRecordDates(files, schema),
		validateNormalization(files, schema),
		validateChronology(files),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Files: %d found, %d parsed, schema %s\n", len(paths), len(files), schema.Version)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// loadArchive parses every file and resolves its publication date from the
// file name, as collect -auto-date would. Files are returned oldest first.
func loadArchive(paths []string) ([]archived, *phase) {
	p := &phase{name: "Archive files parse"}
	var files []archived
	for _, path := range paths {
		name := filepath.Base(path)
		pub, err := domain.ResolvePublication(domain.PublicationOptions{InputFile: path, FromFileName: true}, time.Time{})
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		feed, err := domain.ParseFeed(data)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		if len(feed.Records) == 0 {
			p.errorf("%s: no records", name)
			continue
		}
		files = append(files, archived{path: path, publishedAt: pub, feed: feed})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].publishedAt.Before(files[j].publishedAt) })
	return files, p
}

// validateRecordDates checks that Datum and Datum_neu name the same day and
// that days strictly increase within a document.
func validateRecordDates(files []archived, schema domain.Schema) *phase {
	p := &phase{name: "Record dates consistent"}
	for _, f := range files {
		name := filepath.Base(f.path)
		var prev time.Time
		for i, raw := range f.feed.Records {
			rec, err := domain.Normalize(raw, schema)
			if err != nil {
				p.errorf("%s record %d: %v", name, i, err)
				continue
			}
			if ms := rec.Int("Datum_neu"); ms != 0 {
				neu := time.UnixMilli(ms).UTC().Truncate(24 * time.Hour)
				if !neu.Equal(rec.Time.Truncate(24 * time.Hour)) {
					p.errorf("%s record %d: Datum %s but Datum_neu %s", name, i,
						rec.Time.Format(time.DateOnly), neu.Format(time.DateOnly))
				}
			}
			if i > 0 && !rec.Time.After(prev) {
				p.errorf("%s record %d: %s does not follow %s", name, i,
					rec.Time.Format(time.DateOnly), prev.Format(time.DateOnly))
			}
			prev = rec.Time
		}
	}
	return p
}

// validateNormalization projects every document and checks that each field
// keeps one type within a batch, which the time-series store requires.
func validateNormalization(files []archived, schema domain.Schema) *phase {
	p := &phase{name: "Schema " + schema.Version + " normalization"}
	for _, f := range files {
		name := filepath.Base(f.path)
		records, err := domain.NormalizeFeed(f.feed, schema)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		d := domain.Detect(f.feed, nil, true, f.publishedAt, f.publishedAt)
		for _, b := range domain.Project(records, d, domain.DefaultSeriesNames()) {
			checkFieldTypes(p, name, b)
		}
	}
	return p
}

func checkFieldTypes(p *phase, name string, b domain.Batch) {
	kinds := map[string]reflect.Type{}
	for _, pt := range b.Points {
		for field, v := range pt.Fields {
			typ := reflect.TypeOf(v)
			if prev, ok := kinds[field]; ok && prev != typ {
				p.errorf("%s %s.%s: %v then %v", name, b.Series, field, prev, typ)
			}
			kinds[field] = typ
		}
	}
}

// validateChronology checks that a later publication never covers an earlier
// day than the one before it and was not published before its own data.
func validateChronology(files []archived) *phase {
	p := &phase{name: "Archive chronology"}
	var prev *archived
	for i := range files {
		f := &files[i]
		latest := f.feed.LatestDate()
		if f.publishedAt.Before(latest) {
			p.errorf("%s: published %s before its latest day %s", filepath.Base(f.path),
				f.publishedAt.Format(time.RFC3339), latest.Format(time.DateOnly))
		}
		if prev != nil && latest.Before(prev.feed.LatestDate()) {
			p.errorf("%s: latest day %s regresses from %s in %s", filepath.Base(f.path),
				latest.Format(time.DateOnly), prev.feed.LatestDate().Format(time.DateOnly),
				strings.TrimSuffix(filepath.Base(prev.path), ".json"))
		}
		prev = f
	}
	return p
}
