package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ryabkov82/target-notion/internal/client"
)

// EnvPrefix prefixes environment overrides, e.g. TARGET_NOTION_API_KEY
const EnvPrefix = "TARGET_NOTION"

// Destination routes one stream to a database
type Destination struct {
	ExtractorNamespace string `mapstructure:"extractor_namespace" json:"extractor_namespace,omitempty"`
	StreamName         string `mapstructure:"stream_name" json:"stream_name"`
	DatabaseID         string `mapstructure:"database_id" json:"database_id"`
}

// Config is the target configuration
type Config struct {
	APIKey         string        `mapstructure:"api_key"`
	DatabaseID     string        `mapstructure:"database_id"`
	Databases      []Destination `mapstructure:"databases"`
	BatchSize      int           `mapstructure:"batch_size"`
	Dedupe         bool          `mapstructure:"dedupe"`
	APIBaseURL     string        `mapstructure:"api_base_url"`
	NotionVersion  string        `mapstructure:"notion_version"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`

	MaxAttempts     int     `mapstructure:"max_attempts"`
	RetryDelayMs    int     `mapstructure:"retry_delay_ms"`
	RetryBackoff    float64 `mapstructure:"retry_backoff"`
	RetryMaxDelayMs int     `mapstructure:"retry_max_delay_ms"`

	StatusListen string `mapstructure:"status_listen"`
	StatusAPIKey string `mapstructure:"status_api_key"`
}

// Setting describes one configuration key for --about
type Setting struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Secret      bool   `json:"secret,omitempty" yaml:"secret,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description" yaml:"description"`
}

// Settings lists every configuration key with its default
var Settings = []Setting{
	{Name: "api_key", Type: "string", Required: true, Secret: true, Description: "Notion integration token"},
	{Name: "database_id", Type: "string", Description: "Database receiving every stream without a routing entry"},
	{Name: "databases", Type: "array", Description: "Routing entries: {extractor_namespace, stream_name, database_id}"},
	{Name: "batch_size", Type: "integer", Default: 100, Description: "Maximum records per batch"},
	{Name: "dedupe", Type: "boolean", Default: true, Description: "Skip records whose key already exists in the database; false writes every record immediately"},
	{Name: "api_base_url", Type: "string", Default: client.DefaultBaseURL, Description: "Notion API base URL"},
	{Name: "notion_version", Type: "string", Default: client.DefaultNotionVersion, Description: "Value of the Notion-Version header"},
	{Name: "timeout_seconds", Type: "integer", Default: 30, Description: "Per-request HTTP timeout"},
	{Name: "max_attempts", Type: "integer", Default: 3, Description: "Attempts per page creation"},
	{Name: "retry_delay_ms", Type: "integer", Default: 1000, Description: "Delay before the first retry"},
	{Name: "retry_backoff", Type: "number", Default: 4.0, Description: "Delay multiplier per retry"},
	{Name: "retry_max_delay_ms", Type: "integer", Default: 10000, Description: "Maximum delay between retries"},
	{Name: "status_listen", Type: "string", Description: "Address of the status server, e.g. :9108; disabled when empty"},
	{Name: "status_api_key", Type: "string", Secret: true, Description: "X-API-Key required by the status server"},
}

// Load reads the configuration file (JSON or YAML, by extension) and applies
// TARGET_NOTION_* environment overrides. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	for _, s := range Settings {
		if s.Default != nil {
			v.SetDefault(s.Name, s.Default)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, s := range Settings {
		if s.Type != "array" {
			if err := v.BindEnv(s.Name); err != nil {
				return nil, fmt.Errorf("bind env for %s: %w", s.Name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if !strings.HasSuffix(path, ".yml") && !strings.HasSuffix(path, ".yaml") {
			v.SetConfigType("json")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks required keys and value ranges
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, errors.New("api_key is required"))
	}
	if c.DatabaseID == "" && len(c.Databases) == 0 {
		errs = append(errs, errors.New("database_id or databases is required"))
	}
	for i, d := range c.Databases {
		if d.StreamName == "" {
			errs = append(errs, fmt.Errorf("databases[%d].stream_name is required", i))
		}
		if d.DatabaseID == "" {
			errs = append(errs, fmt.Errorf("databases[%d].database_id is required", i))
		}
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch_size must be > 0"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("max_attempts must be >= 1"))
	}
	if c.RetryDelayMs < 0 || c.RetryMaxDelayMs < 0 {
		errs = append(errs, errors.New("retry delays must be >= 0"))
	}
	if c.RetryBackoff < 1 {
		errs = append(errs, errors.New("retry_backoff must be >= 1"))
	}
	if c.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("timeout_seconds must be > 0"))
	}

	return errors.Join(errs...)
}

// DatabaseFor returns the database receiving stream. A routing entry matches the
// bare stream name or "<extractor_namespace>-<stream_name>"; database_id is the fallback.
func (c *Config) DatabaseFor(stream string) (string, error) {
	for _, d := range c.Databases {
		if d.StreamName == stream {
			return d.DatabaseID, nil
		}
		if d.ExtractorNamespace != "" && d.ExtractorNamespace+"-"+d.StreamName == stream {
			return d.DatabaseID, nil
		}
	}
	if c.DatabaseID != "" {
		return c.DatabaseID, nil
	}
	return "", fmt.Errorf("no database configured for stream %s", stream)
}

// RetryPolicy returns the page creation retry policy
func (c *Config) RetryPolicy() client.RetryPolicy {
	p := client.DefaultCreatePolicy()
	p.MaxAttempts = c.MaxAttempts
	p.InitialDelay = time.Duration(c.RetryDelayMs) * time.Millisecond
	p.BackoffFactor = c.RetryBackoff
	p.MaxDelay = time.Duration(c.RetryMaxDelayMs) * time.Millisecond
	return p
}

// Redacted returns a copy safe for logging
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = "****"
	}
	if c.StatusAPIKey != "" {
		c.StatusAPIKey = "****"
	}
	return c
}
