// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported db.driver values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Supported archive.backend values.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveMemory = "memory"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	DB       DBConfig       `mapstructure:"db"`
	Registry RegistryConfig `mapstructure:"registry"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Parser   ParserConfig   `mapstructure:"parser"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Importer ImporterConfig `mapstructure:"importer"`
	Repair   RepairConfig   `mapstructure:"repair"`
	API      APIConfig      `mapstructure:"api"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                     int `mapstructure:"port"`
	ReadHeaderTimeoutSeconds int `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig selects and tunes the record store backend.
type DBConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// RegistryConfig describes the remote ratings registry search endpoint.
type RegistryConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// CrawlerConfig governs the incremental crawl loop.
type CrawlerConfig struct {
	DelayMs         int `mapstructure:"delay_ms"`
	StartYear       int `mapstructure:"start_year"`
	MaxPagesPerYear int `mapstructure:"max_pages_per_year"`
}

// ParserConfig holds the CSS selectors that couple the parser to the
// registry's markup.
type ParserConfig struct {
	Selectors SelectorConfig `mapstructure:"selectors"`
}

// SelectorConfig names the elements of one registry listing.
type SelectorConfig struct {
	Item        string `mapstructure:"item"`
	Title       string `mapstructure:"title"`
	Studio      string `mapstructure:"studio"`
	RatingBadge string `mapstructure:"rating_badge"`
	Detail      string `mapstructure:"detail"`
	Label       string `mapstructure:"label"`
	Value       string `mapstructure:"value"`
}

// ArchiveConfig controls where raw fetched pages are kept.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ImporterConfig points at the bulk CSV seed file.
type ImporterConfig struct {
	CSVPath string `mapstructure:"csv_path"`
}

// RepairConfig shapes the audit preview.
type RepairConfig struct {
	PreviewLimit int `mapstructure:"preview_limit"`
	PreviewChars int `mapstructure:"preview_chars"`
}

// APIConfig bounds pagination on the query API.
type APIConfig struct {
	DefaultPerPage int `mapstructure:"default_per_page"`
	MaxPerPage     int `mapstructure:"max_per_page"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FILMRATINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout_seconds", 5)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.dsn", "mpaa_ratings.db")
	v.SetDefault("db.table", "ratings")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 3600)
	v.SetDefault("registry.base_url", "https://www.filmratings.com/Search")
	v.SetDefault("registry.user_agent", "filmratings-crawler/0.1")
	v.SetDefault("registry.timeout_seconds", 15)
	v.SetDefault("registry.respect_robots", false)
	v.SetDefault("crawler.delay_ms", 1000)
	v.SetDefault("crawler.start_year", 0)
	v.SetDefault("crawler.max_pages_per_year", 500)
	v.SetDefault("parser.selectors.item", "div.result-item")
	v.SetDefault("parser.selectors.title", ".film-title")
	v.SetDefault("parser.selectors.studio", ".film-studio")
	v.SetDefault("parser.selectors.rating_badge", ".rating-badge img")
	v.SetDefault("parser.selectors.detail", ".result-body .detail")
	v.SetDefault("parser.selectors.label", ".detail-label")
	v.SetDefault("parser.selectors.value", ".detail-value")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.dir", "data/pages")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("importer.csv_path", "output/mpaa_db.csv")
	v.SetDefault("repair.preview_limit", 10)
	v.SetDefault("repair.preview_chars", 80)
	v.SetDefault("api.default_per_page", 50)
	v.SetDefault("api.max_per_page", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.DB.Driver {
	case DriverSQLite, DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for driver %q", c.DB.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}
	if c.Registry.BaseURL == "" {
		return fmt.Errorf("registry.base_url is required")
	}
	if c.Registry.TimeoutSeconds <= 0 {
		return fmt.Errorf("registry.timeout_seconds must be > 0")
	}
	if c.Crawler.DelayMs < 0 {
		return fmt.Errorf("crawler.delay_ms must be >= 0")
	}
	if c.Crawler.MaxPagesPerYear <= 0 {
		return fmt.Errorf("crawler.max_pages_per_year must be > 0")
	}
	if c.Parser.Selectors.Item == "" || c.Parser.Selectors.Title == "" {
		return fmt.Errorf("parser.selectors.item and parser.selectors.title are required")
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir is required for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.API.DefaultPerPage <= 0 || c.API.MaxPerPage < c.API.DefaultPerPage {
		return fmt.Errorf("api.default_per_page must be > 0 and <= api.max_per_page")
	}
	return nil
}

// CrawlDelay converts crawler.delay_ms into a duration.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}

// RegistryTimeout converts registry.timeout_seconds into a duration.
func (c Config) RegistryTimeout() time.Duration {
	return time.Duration(c.Registry.TimeoutSeconds) * time.Second
}
