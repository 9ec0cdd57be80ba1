package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/umputun/paperscope/pkg/collector"
	"github.com/umputun/paperscope/pkg/domain"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:paperscope.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Run struct {
		Timeout         time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=10m,description=Wall-clock budget for one full run"`
		MaxWorkers      int           `yaml:"max_workers" json:"max_workers" jsonschema:"default=5,description=Maximum concurrent source collectors"`
		MaxPerSource    int           `yaml:"max_per_source" json:"max_per_source" jsonschema:"default=50,description=Cap on articles contributed by one source"`
		MaxPerRun       int           `yaml:"max_per_run" json:"max_per_run" jsonschema:"default=200,description=Cap on the final batch of one run"`
		RequestTimeout  time.Duration `yaml:"request_timeout" json:"request_timeout" jsonschema:"default=30s,description=Per-request HTTP timeout"`
		UserAgent       string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=Paperscope/1.0,description=User agent for HTTP requests"`
		FreshnessWindow time.Duration `yaml:"freshness_window" json:"freshness_window" jsonschema:"description=Drop articles published before now minus window (0 disables)"`
	} `yaml:"run" json:"run" jsonschema:"description=Run budgets and concurrency"`

	Keywords KeywordsConfig `yaml:"keywords" json:"keywords" jsonschema:"description=Keyword matching configuration"`

	Retention struct {
		Days int `yaml:"days" json:"days" jsonschema:"default=90,description=Days a seen record is kept before the retention sweep removes it"`
	} `yaml:"retention" json:"retention" jsonschema:"description=Seen-record retention"`

	Email EmailConfig `yaml:"email" json:"email" jsonschema:"description=Email notification configuration"`

	Sources []SourceConfig `yaml:"sources" json:"sources" jsonschema:"required,description=Configured article sources, declaration order defines priority"`
}

// KeywordsConfig holds the matching policy applied to every collected article
type KeywordsConfig struct {
	Terms         []string `yaml:"terms" json:"terms" jsonschema:"required,description=Keywords to match articles against"`
	Mode          string   `yaml:"mode" json:"mode" jsonschema:"default=any,enum=any,enum=all,description=Whether one or all keywords must match"`
	CaseSensitive bool     `yaml:"case_sensitive" json:"case_sensitive" jsonschema:"default=false,description=Match keywords case-sensitively"`
	WholeWord     bool     `yaml:"whole_word" json:"whole_word" jsonschema:"default=false,description=Require non-alphanumeric boundaries around matches"`
	SearchFields  []string `yaml:"search_fields" json:"search_fields" jsonschema:"description=Article fields to search (title, abstract, keywords)"`
}

// EmailConfig holds SMTP delivery settings for run digests
type EmailConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Enable email notifications"`
	Host     string        `yaml:"host" json:"host" jsonschema:"description=SMTP server host"`
	Port     int           `yaml:"port" json:"port" jsonschema:"default=587,description=SMTP server port"`
	Username string        `yaml:"username" json:"username" jsonschema:"description=SMTP username"`
	Password string        `yaml:"password" json:"password" jsonschema:"description=SMTP password (can use environment variable)"`
	From     string        `yaml:"from" json:"from" jsonschema:"description=Sender address"`
	To       []string      `yaml:"to" json:"to" jsonschema:"description=Recipient addresses"`
	Subject  string        `yaml:"subject" json:"subject" jsonschema:"default=Paperscope digest,description=Subject prefix for digest emails"`
	STARTTLS bool          `yaml:"starttls" json:"starttls" jsonschema:"default=true,description=Use STARTTLS when connecting"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=SMTP dial and send timeout"`
}

// SourceConfig describes one source entry in the registry
type SourceConfig struct {
	ID            string            `yaml:"id" json:"id" jsonschema:"required,description=Unique source identifier"`
	Name          string            `yaml:"name" json:"name" jsonschema:"description=Human-readable source name"`
	Protocol      string            `yaml:"protocol" json:"protocol" jsonschema:"required,enum=api,enum=feed,enum=web,description=Collection protocol"`
	Endpoint      string            `yaml:"endpoint" json:"endpoint" jsonschema:"required,description=Base URL of the source"`
	QueryTemplate string            `yaml:"query_template" json:"query_template" jsonschema:"description=Query expression template with a {keywords} placeholder"`
	Parser        string            `yaml:"parser" json:"parser" jsonschema:"description=Payload parser for api sources (arxiv-atom, springer-json, elsevier-json, crossref-json)"`
	RateLimit     float64           `yaml:"rate_limit" json:"rate_limit" jsonschema:"description=Requests per second, 0 means unlimited"`
	MaxResults    int               `yaml:"max_results" json:"max_results" jsonschema:"default=100,description=Hard cap on articles fetched per run"`
	PageSize      int               `yaml:"page_size" json:"page_size" jsonschema:"default=25,description=Results per page for paginated api sources"`
	StartParam    string            `yaml:"start_param" json:"start_param" jsonschema:"description=Query parameter carrying the page offset"`
	SizeParam     string            `yaml:"size_param" json:"size_param" jsonschema:"description=Query parameter carrying the page size"`
	Headers       map[string]string `yaml:"headers" json:"headers" jsonschema:"description=Extra request headers for this source"`
	Selectors     SelectorsConfig   `yaml:"selectors" json:"selectors" jsonschema:"description=CSS selectors for web sources"`
	Enabled       *bool             `yaml:"enabled" json:"enabled" jsonschema:"default=true,description=Include this source in runs"`
}

// SelectorsConfig holds the CSS selectors of a web source
type SelectorsConfig struct {
	Container string `yaml:"container" json:"container" jsonschema:"description=Selector matching one article block"`
	Title     string `yaml:"title" json:"title" jsonschema:"description=Selector for the title inside a block"`
	Link      string `yaml:"link" json:"link" jsonschema:"description=Selector for the article link inside a block"`
	Abstract  string `yaml:"abstract" json:"abstract" jsonschema:"description=Selector for the abstract inside a block"`
	Date      string `yaml:"date" json:"date" jsonschema:"description=Selector for the publication date inside a block"`
	Authors   string `yaml:"authors" json:"authors" jsonschema:"description=Selector for the author list inside a block"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// set defaults for database
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:paperscope.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	// set defaults for run budgets
	if cfg.Run.Timeout == 0 {
		cfg.Run.Timeout = 10 * time.Minute
	}
	if cfg.Run.MaxWorkers == 0 {
		cfg.Run.MaxWorkers = 5
	}
	if cfg.Run.MaxPerSource == 0 {
		cfg.Run.MaxPerSource = 50
	}
	if cfg.Run.MaxPerRun == 0 {
		cfg.Run.MaxPerRun = 200
	}
	if cfg.Run.RequestTimeout == 0 {
		cfg.Run.RequestTimeout = 30 * time.Second
	}
	if cfg.Run.UserAgent == "" {
		cfg.Run.UserAgent = "Paperscope/1.0"
	}

	// set defaults for keywords
	if cfg.Keywords.Mode == "" {
		cfg.Keywords.Mode = string(domain.MatchAny)
	}
	if len(cfg.Keywords.SearchFields) == 0 {
		cfg.Keywords.SearchFields = []string{string(domain.FieldTitle), string(domain.FieldAbstract), string(domain.FieldKeywords)}
	}

	// set defaults for retention
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = 90
	}

	// set defaults for email
	if cfg.Email.Port == 0 {
		cfg.Email.Port = 587
	}
	if cfg.Email.Subject == "" {
		cfg.Email.Subject = "Paperscope digest"
	}
	if cfg.Email.Timeout == 0 {
		cfg.Email.Timeout = 30 * time.Second
	}

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// validate checks configuration for correctness
func validate(cfg *Config) error {

	// validate keywords
	if len(cfg.Keywords.Terms) == 0 {
		return fmt.Errorf("keywords.terms is required")
	}
	if cfg.Keywords.Mode != string(domain.MatchAny) && cfg.Keywords.Mode != string(domain.MatchAll) {
		return fmt.Errorf("keywords.mode must be %q or %q", domain.MatchAny, domain.MatchAll)
	}
	for _, f := range cfg.Keywords.SearchFields {
		switch domain.SearchField(f) {
		case domain.FieldTitle, domain.FieldAbstract, domain.FieldKeywords:
		default:
			return fmt.Errorf("keywords.search_fields: unknown field %q", f)
		}
	}

	// validate retention
	if cfg.Retention.Days < 1 {
		return fmt.Errorf("retention.days must be at least 1")
	}

	// validate sources
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	seen := make(map[string]bool, len(cfg.Sources))
	for i, src := range cfg.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if src.Endpoint == "" {
			return fmt.Errorf("source %s: endpoint is required", src.ID)
		}
		switch domain.ProtocolKind(src.Protocol) {
		case domain.ProtocolAPI:
			if !collector.KnownAPIParser(src.Parser) {
				return fmt.Errorf("source %s: unknown parser %q", src.ID, src.Parser)
			}
		case domain.ProtocolFeed:
		case domain.ProtocolWeb:
			if src.Selectors.Container == "" || src.Selectors.Title == "" || src.Selectors.Link == "" {
				return fmt.Errorf("source %s: web sources need container, title and link selectors", src.ID)
			}
		default:
			return fmt.Errorf("source %s: unknown protocol %q", src.ID, src.Protocol)
		}
		if src.RateLimit < 0 {
			return fmt.Errorf("source %s: rate_limit must be non-negative", src.ID)
		}
	}

	// validate email
	if cfg.Email.Enabled {
		if cfg.Email.Host == "" {
			return fmt.Errorf("email.host is required when email is enabled")
		}
		if cfg.Email.From == "" {
			return fmt.Errorf("email.from is required when email is enabled")
		}
		if len(cfg.Email.To) == 0 {
			return fmt.Errorf("email.to is required when email is enabled")
		}
	}

	return nil
}

// SourceSpecs converts enabled source entries into domain specs. Declaration
// order becomes the source priority.
func (c *Config) SourceSpecs() []domain.SourceSpec {
	specs := make([]domain.SourceSpec, 0, len(c.Sources))
	for i, src := range c.Sources {
		enabled := src.Enabled == nil || *src.Enabled
		if !enabled {
			continue
		}
		specs = append(specs, domain.SourceSpec{
			ID:            src.ID,
			Name:          src.Name,
			Protocol:      domain.ProtocolKind(src.Protocol),
			Endpoint:      src.Endpoint,
			QueryTemplate: src.QueryTemplate,
			ParserID:      src.Parser,
			RateLimit:     src.RateLimit,
			MaxResults:    src.MaxResults,
			PageSize:      src.PageSize,
			StartParam:    src.StartParam,
			SizeParam:     src.SizeParam,
			Headers:       src.Headers,
			Selectors: domain.SelectorSet{
				Container: src.Selectors.Container,
				Title:     src.Selectors.Title,
				Link:      src.Selectors.Link,
				Abstract:  src.Selectors.Abstract,
				Date:      src.Selectors.Date,
				Authors:   src.Selectors.Authors,
			},
			Priority: i,
			Enabled:  true,
		})
	}
	return specs
}

// Policy returns the keyword matching policy
func (c *Config) Policy() domain.KeywordPolicy {
	fields := make([]domain.SearchField, len(c.Keywords.SearchFields))
	for i, f := range c.Keywords.SearchFields {
		fields[i] = domain.SearchField(f)
	}
	return domain.KeywordPolicy{
		Keywords:      c.Keywords.Terms,
		CaseSensitive: c.Keywords.CaseSensitive,
		WholeWord:     c.Keywords.WholeWord,
		Mode:          domain.MatchMode(c.Keywords.Mode),
		SearchFields:  fields,
	}
}

// RunOptions returns the per-run budgets and caps
func (c *Config) RunOptions() domain.RunOptions {
	return domain.RunOptions{
		MaxPerSource:    c.Run.MaxPerSource,
		MaxPerRun:       c.Run.MaxPerRun,
		MaxWorkers:      c.Run.MaxWorkers,
		Timeout:         c.Run.Timeout,
		FreshnessWindow: c.Run.FreshnessWindow,
	}
}

// RetentionHorizon returns the retention period as a duration
func (c *Config) RetentionHorizon() time.Duration {
	return time.Duration(c.Retention.Days) * 24 * time.Hour
}
