// Package config handles Hayden configuration loading.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // timezone must load on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./config.yaml, ~/.config/hayden/config.yaml, /etc/hayden/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hayden", "config.yaml"))
	}

	paths = append(paths, "/etc/hayden/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Hayden configuration.
type Config struct {
	// BotName is the bot's own display name. Messages from it are
	// ignored so the bot never answers itself.
	BotName        string     `yaml:"bot_name"`
	RoomWhitelist  StringList `yaml:"room_whitelist"`
	AliasWhitelist StringList `yaml:"alias_whitelist"`

	// Timezone is the IANA zone used for prompts, reminder replies and
	// cron schedules.
	Timezone string `yaml:"timezone"`

	Model       ModelConfig       `yaml:"model"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Digest      DigestConfig      `yaml:"digest"`
	Holidays    HolidaysConfig    `yaml:"holidays"`
	Signal      SignalConfig      `yaml:"signal"`
	Listen      ListenConfig      `yaml:"listen"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json
}

// ModelConfig selects and configures the language-model backend.
type ModelConfig struct {
	Provider string       `yaml:"provider"` // spark or ollama
	Spark    SparkConfig  `yaml:"spark"`
	Ollama   OllamaConfig `yaml:"ollama"`
}

// SparkConfig holds iFlytek Spark websocket credentials and generation
// parameters.
type SparkConfig struct {
	URL         string  `yaml:"url"`
	AppID       string  `yaml:"app_id"`
	APIKey      string  `yaml:"api_key"`
	APISecret   string  `yaml:"api_secret"`
	Domain      string  `yaml:"domain"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// TimeoutSec bounds one request/response cycle.
	TimeoutSec int `yaml:"timeout_sec"`
	// CloseGraceMs is the pause between the final chunk and closing
	// the connection.
	CloseGraceMs int `yaml:"close_grace_ms"`
}

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	URL        string `yaml:"url"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// PersistenceConfig points at the persistence HTTP service.
type PersistenceConfig struct {
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// DigestConfig controls the daily article digest.
type DigestConfig struct {
	// Schedule is a standard five-field cron expression.
	Schedule string `yaml:"schedule"`
	// Source is "persistence" (default) or "scrape".
	Source      string     `yaml:"source"`
	ScrapeURL   string     `yaml:"scrape_url"`
	TargetUsers StringList `yaml:"target_users"`
	TargetRooms StringList `yaml:"target_rooms"`
}

// HolidaysConfig lists calendar overrides in YYYY-MM-DD form. Dates
// are days off even if they fall on a weekday; Workdays are make-up
// working days even if they fall on a weekend.
type HolidaysConfig struct {
	Dates    StringList `yaml:"dates"`
	Workdays StringList `yaml:"workdays"`
}

// SignalConfig configures the signal-cli subprocess used as chat
// transport.
type SignalConfig struct {
	Enabled bool     `yaml:"enabled"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// Account is the bot's own number; mentions of it address the bot.
	Account   string `yaml:"account"`
	RateLimit int    `yaml:"rate_limit"`
}

// ListenConfig defines the operator API server settings.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// StringList decodes either a YAML sequence or a comma-separated
// scalar, so lists can be fed from a single environment variable such
// as ROOM_WHITELIST=a,b.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = splitTrim(items)
		return nil
	case yaml.ScalarNode:
		*l = splitTrim(strings.Split(node.Value, ","))
		return nil
	default:
		return fmt.Errorf("line %d: expected list or comma-separated string", node.Line)
	}
}

// Contains reports whether s is in the list.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

func splitTrim(items []string) StringList {
	out := make(StringList, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load reads configuration from a YAML file. A .env file next to the
// config is loaded into the process environment first (existing
// variables win), then ${VAR} references in the YAML are expanded.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero values after decoding so that a YAML file
// setting only some fields of a section keeps the remaining defaults.
func (c *Config) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = "Asia/Shanghai"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = "spark"
	}
	s := &c.Model.Spark
	if s.URL == "" {
		s.URL = "wss://spark-api.xf-yun.com/v4.0/chat"
	}
	if s.Domain == "" {
		s.Domain = "4.0Ultra"
	}
	if s.Temperature == 0 {
		s.Temperature = 0.5
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = 8192
	}
	if s.TimeoutSec == 0 {
		s.TimeoutSec = 60
	}
	if s.CloseGraceMs == 0 {
		s.CloseGraceMs = 1000
	}
	if c.Model.Ollama.URL == "" {
		c.Model.Ollama.URL = "http://localhost:11434"
	}
	if c.Model.Ollama.TimeoutSec == 0 {
		c.Model.Ollama.TimeoutSec = 300
	}
	if c.Persistence.URL == "" {
		c.Persistence.URL = "http://localhost:5000/api"
	}
	if c.Persistence.TimeoutSec == 0 {
		c.Persistence.TimeoutSec = 15
	}
	if c.Digest.Schedule == "" {
		c.Digest.Schedule = "0 8 * * *"
	}
	if c.Digest.Source == "" {
		c.Digest.Source = "persistence"
	}
	if c.Digest.ScrapeURL == "" {
		c.Digest.ScrapeURL = "https://www.36kr.com/search/articles/8%E7%82%B91%E6%B0%AA"
	}
	if c.Signal.Command == "" {
		c.Signal.Command = "signal-cli"
	}
	if c.Listen.Address == "" {
		c.Listen.Address = "127.0.0.1"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format: unknown format %q (valid: text, json)", c.LogFormat)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	switch c.Model.Provider {
	case "spark", "ollama":
	default:
		return fmt.Errorf("model.provider: unknown provider %q (valid: spark, ollama)", c.Model.Provider)
	}
	if c.Model.Provider == "ollama" && c.Model.Ollama.Model == "" {
		return fmt.Errorf("model.ollama.model is required when provider is ollama")
	}
	if _, err := cron.ParseStandard(c.Digest.Schedule); err != nil {
		return fmt.Errorf("digest.schedule: %w", err)
	}
	switch c.Digest.Source {
	case "persistence", "scrape":
	default:
		return fmt.Errorf("digest.source: unknown source %q (valid: persistence, scrape)", c.Digest.Source)
	}
	for _, d := range append(append([]string{}, c.Holidays.Dates...), c.Holidays.Workdays...) {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return fmt.Errorf("holidays: invalid date %q", d)
		}
	}
	return nil
}

// SparkCredentialsSet reports whether all three Spark credentials are
// present.
func (c *Config) SparkCredentialsSet() bool {
	s := c.Model.Spark
	return s.AppID != "" && s.APIKey != "" && s.APISecret != ""
}

// Location loads the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
