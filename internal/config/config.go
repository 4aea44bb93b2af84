// Package config holds the immutable runtime configuration. A Config is
// loaded once at startup and handed to components by value.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"recordmanager/internal/core/apperror"
)

// Config is the top-level configuration.
type Config struct {
	Database DatabaseConfig    `yaml:"database"`
	Log      LogConfig         `yaml:"log"`
	HTTP     HTTPConfig        `yaml:"http"`
	Dedup    DedupConfig       `yaml:"dedup"`
	Sources  map[string]Source `yaml:"sources"`
}

// DatabaseConfig configures the record store connection.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// HTTPConfig configures the admin API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DedupConfig holds matching thresholds.
type DedupConfig struct {
	// MinTitleLength is the shortest normalized title that yields a title key.
	MinTitleLength int `yaml:"min_title_length"`

	// TitleKeyMaxLength truncates long normalized titles.
	TitleKeyMaxLength int `yaml:"title_key_max_length"`

	// TitleKeyWithFormat prefixes title keys with the format family.
	TitleKeyWithFormat bool `yaml:"title_key_with_format"`

	// Articles are stripped from the beginning of titles. Entries ending
	// with an apostrophe (l', d') are matched without a following space.
	Articles []string `yaml:"articles"`

	// YearTolerance is the largest publication year difference accepted
	// for title-only matches.
	YearTolerance int `yaml:"year_tolerance"`

	// MaxCandidates limits the index lookup per record.
	MaxCandidates int `yaml:"max_candidates"`

	// AllowSameSource lets records of one source share a cluster.
	AllowSameSource bool `yaml:"allow_same_source"`

	// VerifyExpression is an optional CEL expression evaluated after the
	// built-in rules. Variables: a, b (record attributes) and match.
	VerifyExpression string `yaml:"verify_expression"`

	// ProgressInterval is the number of records between progress lines.
	ProgressInterval int `yaml:"progress_interval"`

	// MaxConflictRetries bounds re-read and retry on concurrent cluster updates.
	MaxConflictRetries int `yaml:"max_conflict_retries"`
}

// Source describes one harvested data source.
type Source struct {
	Format string `yaml:"format"`
	Dedup  bool   `yaml:"dedup"`

	// HostSources lists sources whose records may act as hosts for this
	// source's component parts. Defaults to the source itself.
	HostSources []string `yaml:"host_sources"`
}

// DefaultArticles is the default leading article list.
var DefaultArticles = []string{
	"the", "a", "an",
	"der", "die", "das", "ein", "eine",
	"le", "la", "les", "l'", "un", "une",
	"el", "los", "las",
	"il", "lo", "gli",
	"den", "det",
}

// Default returns the defaults used before file and environment overrides.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			MaxConns: 10,
			MinConns: 1,
		},
		Log: LogConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Dedup: DedupConfig{
			MinTitleLength:     4,
			TitleKeyMaxLength:  100,
			Articles:           append([]string(nil), DefaultArticles...),
			YearTolerance:      1,
			MaxCandidates:      100,
			ProgressInterval:   1000,
			MaxConflictRetries: 3,
		},
		Sources: map[string]Source{},
	}
}

// Load builds the configuration: defaults, then the YAML file (if path is
// set), then .env and environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}

	// .env is optional
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML file on top of the defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, apperror.NewConfig(fmt.Sprintf("read config %s", path)).WithCause(err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, apperror.NewConfig("parse config").WithCause(err)
	}
	if cfg.Sources == nil {
		cfg.Sources = map[string]Source{}
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RECMAN_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Log.Development = v == "development"
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("RECMAN_MAX_CANDIDATES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dedup.MaxCandidates = n
		}
	}
}

// Validate checks value ranges and source references.
func (c Config) Validate() error {
	d := c.Dedup
	if d.MinTitleLength < 1 {
		return apperror.NewConfig(fmt.Sprintf("dedup.min_title_length must be positive (got %d)", d.MinTitleLength))
	}
	if d.TitleKeyMaxLength < d.MinTitleLength {
		return apperror.NewConfig(fmt.Sprintf("dedup.title_key_max_length must be >= min_title_length (got %d)", d.TitleKeyMaxLength))
	}
	if d.YearTolerance < 0 {
		return apperror.NewConfig(fmt.Sprintf("dedup.year_tolerance must not be negative (got %d)", d.YearTolerance))
	}
	if d.MaxCandidates <= 0 {
		return apperror.NewConfig(fmt.Sprintf("dedup.max_candidates must be positive (got %d)", d.MaxCandidates))
	}
	if d.ProgressInterval <= 0 {
		return apperror.NewConfig(fmt.Sprintf("dedup.progress_interval must be positive (got %d)", d.ProgressInterval))
	}
	if d.MaxConflictRetries < 0 {
		return apperror.NewConfig(fmt.Sprintf("dedup.max_conflict_retries must not be negative (got %d)", d.MaxConflictRetries))
	}
	for id, src := range c.Sources {
		if id == "" || strings.Contains(id, ".") {
			return apperror.NewConfig(fmt.Sprintf("invalid source id %q", id))
		}
		if src.Format == "" {
			return apperror.NewConfig(fmt.Sprintf("source %s has no format", id))
		}
		for _, host := range src.HostSources {
			if _, ok := c.Sources[host]; !ok {
				return apperror.NewConfig(fmt.Sprintf("source %s references unknown host source %s", id, host))
			}
		}
	}
	return nil
}

// DedupSources returns the ids of sources with dedup enabled, sorted.
func (c Config) DedupSources() []string {
	ids := make([]string, 0, len(c.Sources))
	for id, src := range c.Sources {
		if src.Dedup {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// DedupEnabled reports whether records of sourceID take part in matching.
// Sources missing from the configuration are treated as enabled.
func (c Config) DedupEnabled(sourceID string) bool {
	src, ok := c.Sources[sourceID]
	if !ok {
		return true
	}
	return src.Dedup
}

// HostSourcesFor returns the sources that may host component parts of sourceID.
func (c Config) HostSourcesFor(sourceID string) []string {
	if src, ok := c.Sources[sourceID]; ok && len(src.HostSources) > 0 {
		return append([]string(nil), src.HostSources...)
	}
	return []string{sourceID}
}
