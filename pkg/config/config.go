// Package config provides configuration handling for the domain watcher application
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mallocator/domain-watch/pkg/logger"
)

// First check notification modes
const (
	FirstCheckAlways    = "always"
	FirstCheckAvailable = "available"
	FirstCheckNever     = "never"
)

// Store drivers
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds application settings
type Config struct {
	// List of domains to monitor
	Domains []string `mapstructure:"domains"`

	// Scheduling
	CheckInterval time.Duration `mapstructure:"check_interval"`
	CheckDelay    time.Duration `mapstructure:"check_delay"` // pause between two domain checks

	// Notification rules
	ExpiryThresholds []int         `mapstructure:"expiry_thresholds"` // days before expiry, descending
	RepeatInterval   time.Duration `mapstructure:"repeat_interval"`   // reminder for domains that stay available
	FirstCheckNotify string        `mapstructure:"first_check_notify"`

	// History
	HistoryLimit int    `mapstructure:"history_limit"`
	StoreDriver  string `mapstructure:"store_driver"`
	StoreDSN     string `mapstructure:"store_dsn"`
	StateDir     string `mapstructure:"state_dir"` // directory of the file store

	// DNS hint used when WHOIS gives no answer
	DNSFallback bool   `mapstructure:"dns_fallback"`
	DNSServer   string `mapstructure:"dns_server"`

	// Telegram configuration
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`
	TelegramAPI    string `mapstructure:"telegram_api"`

	// SMTP configuration for email notifications
	SMTPHost  string `mapstructure:"smtp_host"`
	SMTPPort  int    `mapstructure:"smtp_port"`
	SMTPUser  string `mapstructure:"smtp_user"`
	SMTPPass  string `mapstructure:"smtp_pass"`
	EmailFrom string `mapstructure:"email_from"`
	EmailTo   string `mapstructure:"email_to"`

	// Retry configuration
	Retries int           `mapstructure:"retries"`
	Backoff time.Duration `mapstructure:"backoff"` // initial backoff duration

	Timeout time.Duration `mapstructure:"timeout"` // per lookup and per send timeout

	// Web viewer and metrics, disabled when empty
	ListenAddr string `mapstructure:"listen_addr"`

	Debug bool `mapstructure:"debug"`

	// Logger instance
	Log *logger.Logger `mapstructure:"-"`
}

// New creates a new configuration with default values
func New(log *logger.Logger) *Config {
	cfg := &Config{
		CheckInterval:    time.Hour,
		CheckDelay:       2 * time.Second,
		ExpiryThresholds: []int{30, 14, 7, 3, 1},
		RepeatInterval:   24 * time.Hour,
		FirstCheckNotify: FirstCheckAlways,
		HistoryLimit:     50,
		StoreDriver:      StoreFile,
		StateDir:         "/data",
		DNSFallback:      true,
		Retries:          3,
		Backoff:          2 * time.Second,
		Timeout:          15 * time.Second,
		Log:              log,
	}

	return cfg
}

// LoadFromFile loads configuration from a JSON, YAML or TOML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	return nil
}

// LoadDotEnv loads variables from an env file without overriding ones already set.
// A missing file is not an error.
func (c *Config) LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// LoadFromEnv overrides configuration with environment variables
func (c *Config) LoadFromEnv() {
	setStringList(&c.Domains, "DOMAINS", ",")
	setDuration(&c.CheckInterval, "CHECK_INTERVAL")
	setDuration(&c.CheckDelay, "CHECK_DELAY")
	setIntList(&c.ExpiryThresholds, "EXPIRY_THRESHOLDS", ",")
	setDuration(&c.RepeatInterval, "REPEAT_INTERVAL")
	setString(&c.FirstCheckNotify, "FIRST_CHECK_NOTIFY")
	setInt(&c.HistoryLimit, "HISTORY_LIMIT")
	setString(&c.StoreDriver, "STORE_DRIVER")
	setString(&c.StoreDSN, "STORE_DSN")
	setString(&c.StateDir, "STATE_DIR")
	setBool(&c.DNSFallback, "DNS_FALLBACK")
	setString(&c.DNSServer, "DNS_SERVER")
	setString(&c.TelegramToken, "TELEGRAM_TOKEN")
	setString(&c.TelegramChatID, "TELEGRAM_CHAT_ID")
	setString(&c.TelegramAPI, "TELEGRAM_API")
	setString(&c.SMTPHost, "SMTP_HOST")
	setInt(&c.SMTPPort, "SMTP_PORT")
	setString(&c.SMTPUser, "SMTP_USER")
	setString(&c.SMTPPass, "SMTP_PASS")
	setString(&c.EmailFrom, "EMAIL_FROM")
	setString(&c.EmailTo, "EMAIL_TO")
	setInt(&c.Retries, "RETRIES")
	setDuration(&c.Backoff, "BACKOFF")
	setDuration(&c.Timeout, "TIMEOUT")
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setBool(&c.Debug, "DEBUG")
}

// Normalize cleans the domain list and sorts thresholds in descending order
func (c *Config) Normalize() {
	c.Domains = NormalizeDomains(c.Domains)

	seen := make(map[int]struct{}, len(c.ExpiryThresholds))
	thresholds := make([]int, 0, len(c.ExpiryThresholds))
	for _, t := range c.ExpiryThresholds {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		thresholds = append(thresholds, t)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(thresholds)))
	c.ExpiryThresholds = thresholds

	c.FirstCheckNotify = strings.ToLower(strings.TrimSpace(c.FirstCheckNotify))
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
}

// ErrNoDomains is returned by Validate when the watch list is empty. It is checked last,
// so commands that only read the store can ignore it.
var ErrNoDomains = errors.New("no domains configured")

// Validate reports the first setting that prevents the watcher from starting
func (c *Config) Validate() error {
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be positive, got %s", c.CheckInterval)
	}
	if c.CheckDelay < 0 {
		return fmt.Errorf("check_delay must not be negative, got %s", c.CheckDelay)
	}
	for _, t := range c.ExpiryThresholds {
		if t <= 0 {
			return fmt.Errorf("expiry threshold must be positive, got %d", t)
		}
	}
	if c.RepeatInterval <= 0 {
		return fmt.Errorf("repeat_interval must be positive, got %s", c.RepeatInterval)
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be at least 1, got %d", c.HistoryLimit)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	switch c.FirstCheckNotify {
	case FirstCheckAlways, FirstCheckAvailable, FirstCheckNever:
	default:
		return fmt.Errorf("unknown first_check_notify mode %q", c.FirstCheckNotify)
	}
	switch c.StoreDriver {
	case StoreFile:
		if c.StateDir == "" {
			return errors.New("state_dir is required for the file store")
		}
	case StoreSQLite, StorePostgres:
		if c.StoreDSN == "" {
			return fmt.Errorf("store_dsn is required for the %s store", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown store_driver %q", c.StoreDriver)
	}
	if len(c.Domains) == 0 {
		return ErrNoDomains
	}
	return nil
}

// NormalizeDomain lowercases and trims a domain name, dropping any scheme, path and trailing dot
func NormalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "https://")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return strings.TrimSuffix(d, ".")
}

// NormalizeDomains normalizes every entry, dropping empty and duplicate names while keeping order
func NormalizeDomains(domains []string) []string {
	seen := make(map[string]struct{}, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = NormalizeDomain(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// setStringList sets a []string from env split by sep
func setStringList(field *[]string, env, sep string) {
	if v := os.Getenv(env); v != "" {
		*field = strings.Split(v, sep)
	}
}

// setIntList sets a []int from env split by sep, ignoring the variable if any item is not a number
func setIntList(field *[]int, env, sep string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	var out []int
	for _, part := range strings.Split(v, sep) {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return
		}
		out = append(out, i)
	}
	*field = out
}

// setString sets a string field from env
func setString(field *string, env string) {
	if v := os.Getenv(env); v != "" {
		*field = strings.TrimSpace(v)
	}
}

// setInt sets an int field from env
func setInt(field *int, env string) {
	if v := os.Getenv(env); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*field = i
		}
	}
}

// setBool sets a bool field from env
func setBool(field *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*field = b
		}
	}
}

// setDuration sets a time.Duration field from env
func setDuration(field *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*field = d
		}
	}
}
