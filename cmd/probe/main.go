// Command probe fetches the feed once and prints it, without touching the
// cache or any sink. It is meant for checking an endpoint after the
// publisher changed the layer.
//
// Usage:
//
//	go run ./cmd/probe -endpoint ordered
//	go run ./cmd/probe -latest
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/couchcryptid/corona-dd-collector/internal/adapter/arcgis"
	"github.com/couchcryptid/corona-dd-collector/internal/config"
	"github.com/couchcryptid/corona-dd-collector/internal/domain"
	"github.com/joho/godotenv"
)

func main() {
	loadEnv(slog.Default())

	cfg, err := config.Load(nil, os.Stderr)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	endpoint := flag.String("endpoint", cfg.Endpoint, "named feed endpoint")
	latest := flag.Bool("latest", false, "print only the record count and the newest record")
	flag.Parse()

	cfg.Endpoint = *endpoint
	url, err := cfg.EndpointURL()
	if err != nil {
		slog.Error("invalid endpoint", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	body, err := arcgis.NewClient(url, cfg.FetchTimeout, cfg.FetchRetries, logger).Fetch(context.Background())
	if err != nil {
		logger.Error("fetch failed", "error", err)
		os.Exit(1)
	}

	if !*latest {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err != nil {
			logger.Error("response is not JSON", "error", err)
			os.Exit(1)
		}
		fmt.Println(buf.String())
		return
	}

	feed, err := domain.ParseFeed(body)
	if err != nil {
		logger.Error("parse failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("records:     %d\n", len(feed.Records))
	fmt.Printf("latest date: %s\n", feed.LatestDate().Format("2006-01-02"))
	rec, ok := feed.Latest()
	if !ok {
		return
	}
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-32s %v\n", k, rec[k])
	}
}

// loadEnv reads .env (or the given files) into the environment. A missing
// file is fine; anything else is reported and otherwise ignored.
func loadEnv(logger *slog.Logger, filenames ...string) {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env", "error", err)
	}
}
