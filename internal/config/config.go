package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/corona-dd-collector/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Sink names accepted in Sinks.
const (
	SinkInflux = "influx"
	SinkKafka  = "kafka"
)

// DefaultEndpoint is the endpoint name used when none is configured.
const DefaultEndpoint = "default"

const (
	envPrefix  = "CORONA_"
	envConfig  = "CORONA_CONFIG"
	arcgisBase = "https://services.arcgis.com/ORpvigFPJUhb8RDF/arcgis/rest/services/corona_DD_7_Sicht/FeatureServer/0/query"
)

// Config holds all collector settings. It is built once by Load and not
// modified afterwards.
type Config struct {
	// Feed source.
	Endpoint     string            `koanf:"endpoint"`
	Endpoints    map[string]string `koanf:"endpoints"`
	File         string            `koanf:"file"`
	FetchTimeout time.Duration     `koanf:"fetch_timeout"`
	FetchRetries int               `koanf:"fetch_retries"`

	// Snapshot store.
	OutputDir string `koanf:"output_dir"`
	Archive   bool   `koanf:"archive"`
	Pretty    bool   `koanf:"pretty"`
	NoCache   bool   `koanf:"no_cache"`

	// Change detection and publication date.
	Force    bool   `koanf:"force"`
	Date     string `koanf:"date"`
	AutoDate bool   `koanf:"auto_date"`

	SchemaVersion string `koanf:"schema_version"`

	// Series names.
	SeriesLatest  string `koanf:"series_latest"`
	SeriesArchive string `koanf:"series_archive"`
	SeriesSummary string `koanf:"series_summary"`
	SeriesLag     string `koanf:"series_lag"`

	// Sinks.
	Sinks           []string      `koanf:"sinks"`
	SkipSink        bool          `koanf:"skip_sink"`
	InfluxAddr      string        `koanf:"influx_addr"`
	InfluxDatabase  string        `koanf:"influx_database"`
	InfluxUsername  string        `koanf:"influx_username"`
	InfluxPassword  string        `koanf:"influx_password"`
	InfluxTimeout   time.Duration `koanf:"influx_timeout"`
	KafkaBrokerList string        `koanf:"kafka_brokers"`
	KafkaTopic      string        `koanf:"kafka_topic"`

	// Observability.
	LogLevel         string `koanf:"log_level"`
	LogFormat        string `koanf:"log_format"`
	LogFile          string `koanf:"log_file"`
	LogFileMaxSizeMB int    `koanf:"log_file_max_size_mb"`
	LogFileBackups   int    `koanf:"log_file_backups"`
	LogFileMaxAgeDay int    `koanf:"log_file_max_age_days"`
	PushgatewayURL   string `koanf:"pushgateway_url"`
	PushgatewayJob   string `koanf:"pushgateway_job"`

	// ShutdownTimeout bounds flushing sinks and pushing metrics at exit.
	ShutdownTimeout time.Duration `koanf:"-"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Endpoints: map[string]string{
			DefaultEndpoint: arcgisBase + "?f=json&where=ObjectId>=0&outFields=*",
			"ordered":       arcgisBase + "?f=json&where=ObjectId>=0&outFields=*&orderByFields=Datum_neu",
		},
		FetchTimeout: 30 * time.Second,

		OutputDir: ".",

		SchemaVersion: domain.DefaultSchemaVersion,

		SeriesLatest:  domain.DefaultSeriesNames().Latest,
		SeriesArchive: domain.DefaultSeriesNames().Archive,
		SeriesSummary: domain.DefaultSeriesNames().Summary,
		SeriesLag:     domain.DefaultSeriesNames().Lag,

		Sinks:           []string{SinkInflux},
		InfluxAddr:      "http://localhost:8086",
		InfluxDatabase:  "corona_dd",
		InfluxTimeout:   10 * time.Second,
		KafkaBrokerList: "localhost:9092",
		KafkaTopic:      "corona-dd-series",

		LogLevel:         "info",
		LogFormat:        "json",
		LogFileMaxSizeMB: 10,
		LogFileBackups:   5,
		LogFileMaxAgeDay: 30,
		PushgatewayJob:   "corona_dd_collector",

		ShutdownTimeout: 10 * time.Second,
	}
}

// Load builds a Config by layering, from lowest to highest precedence:
//  1. defaults (New)
//  2. YAML file, if CORONA_CONFIG is set
//  3. environment (prefix CORONA_)
//  4. command-line args
//
// It returns flag.ErrHelp when args ask for usage.
func Load(args []string, output io.Writer) (*Config, error) {
	base := New()
	k := koanf.New(".")

	if path := sharedcfg.EnvOrDefault(envConfig, ""); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// CORONA_INFLUX_ADDR -> influx_addr. Keys stay flat to match the koanf tags.
	envProvider := env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		if key == "sinks" {
			return key, splitList(value)
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	cfg.ShutdownTimeout = shutdownTimeout

	if err := cfg.parseFlags(args, output); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) parseFlags(args []string, output io.Writer) error {
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}

	fs.BoolVar(&c.Archive, "archive", c.Archive, "write a dated archive copy of the fetched feed")
	fs.BoolVar(&c.Pretty, "pretty", c.Pretty, "also write an indented archive copy (implies -archive)")
	fs.BoolVar(&c.Force, "force", c.Force, "write series even if the feed is unchanged")
	fs.StringVar(&c.Date, "date", c.Date, "publication date override, e.g. 2020-10-22T09:30:00Z")
	fs.BoolVar(&c.AutoDate, "auto-date", c.AutoDate, "derive the publication date from the -file name")
	fs.StringVar(&c.File, "file", c.File, "read the feed from a local JSON file instead of fetching it")
	fs.StringVar(&c.Endpoint, "endpoint", c.Endpoint, "named feed endpoint ("+strings.Join(c.endpointNames(), ", ")+")")
	fs.StringVar(&c.OutputDir, "output-dir", c.OutputDir, "directory holding the cache file and archive")
	fs.BoolVar(&c.NoCache, "no-cache", c.NoCache, "compare with the cached snapshot but do not update it")
	fs.BoolVar(&c.SkipSink, "skip-sink", c.SkipSink, "do everything except writing series to the sinks")
	verbose := fs.Bool("v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if *verbose {
		c.LogLevel = "debug"
	}
	if c.Pretty {
		c.Archive = true
	}
	return nil
}

func (c *Config) validate() error {
	if c.AutoDate && c.Date != "" {
		return errors.New("-auto-date and -date are mutually exclusive")
	}
	if c.AutoDate && c.File == "" {
		return errors.New("-auto-date requires -file")
	}
	if c.File == "" {
		if _, err := c.EndpointURL(); err != nil {
			return err
		}
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is required")
	}
	if _, err := domain.LookupSchema(c.SchemaVersion); err != nil {
		return err
	}
	if c.FetchTimeout <= 0 {
		return errors.New("fetch_timeout must be positive")
	}
	if c.FetchRetries < 0 {
		return errors.New("fetch_retries must not be negative")
	}
	if c.SeriesLatest == "" || c.SeriesArchive == "" || c.SeriesSummary == "" || c.SeriesLag == "" {
		return errors.New("series names must not be empty")
	}

	for _, s := range c.Sinks {
		switch s {
		case SinkInflux:
			if c.InfluxAddr == "" || c.InfluxDatabase == "" {
				return errors.New("influx sink requires influx_addr and influx_database")
			}
			if c.InfluxTimeout <= 0 {
				return errors.New("influx_timeout must be positive")
			}
		case SinkKafka:
			if len(c.KafkaBrokers()) == 0 {
				return errors.New("kafka sink requires kafka_brokers")
			}
			if c.KafkaTopic == "" {
				return errors.New("kafka sink requires kafka_topic")
			}
		default:
			return fmt.Errorf("unknown sink %q (known: %s, %s)", s, SinkInflux, SinkKafka)
		}
	}
	if len(c.Sinks) == 0 && !c.SkipSink {
		return errors.New("at least one sink is required unless -skip-sink is set")
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// EndpointURL resolves the configured endpoint name.
func (c *Config) EndpointURL() (string, error) {
	url, ok := c.Endpoints[c.Endpoint]
	if !ok || url == "" {
		return "", fmt.Errorf("unknown endpoint %q (known: %s)", c.Endpoint, strings.Join(c.endpointNames(), ", "))
	}
	return url, nil
}

// KafkaBrokers splits the configured broker list.
func (c *Config) KafkaBrokers() []string {
	return sharedcfg.ParseBrokers(c.KafkaBrokerList)
}

// HasSink reports whether name is among the enabled sinks.
func (c *Config) HasSink(name string) bool {
	return slices.Contains(c.Sinks, name)
}

// SeriesNames returns the configured measurement names.
func (c *Config) SeriesNames() domain.SeriesNames {
	return domain.SeriesNames{
		Latest:  c.SeriesLatest,
		Archive: c.SeriesArchive,
		Summary: c.SeriesSummary,
		Lag:     c.SeriesLag,
	}
}

func (c *Config) endpointNames() []string {
	names := make([]string, 0, len(c.Endpoints))
	for name := range c.Endpoints {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// splitList never returns nil, so an empty value clears the default list.
func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
