package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mallocator/domain-watch/pkg/logger"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	log := logger.New()
	cfgFile := writeFile(t, "cfg.json", `{
		"history_limit": 3,
		"state_dir": "/tmp",
		"check_interval": "10m",
		"expiry_thresholds": [60, 7],
		"domains": ["example.com"]
	}`)

	cfg := New(log)
	if err := cfg.LoadFromFile(cfgFile); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.HistoryLimit != 3 || cfg.StateDir != "/tmp" {
		t.Errorf("Config LoadFromFile error: got HistoryLimit=%d, StateDir=%s, want HistoryLimit=3, StateDir=/tmp",
			cfg.HistoryLimit, cfg.StateDir)
	}
	if cfg.CheckInterval != 10*time.Minute {
		t.Errorf("CheckInterval = %s, want 10m", cfg.CheckInterval)
	}
	if !reflect.DeepEqual(cfg.ExpiryThresholds, []int{60, 7}) {
		t.Errorf("ExpiryThresholds = %v, want [60 7]", cfg.ExpiryThresholds)
	}
	// Untouched keys keep their defaults
	if cfg.RepeatInterval != 24*time.Hour {
		t.Errorf("RepeatInterval = %s, want default 24h", cfg.RepeatInterval)
	}
	if cfg.Log != log {
		t.Errorf("Expected logger to survive decoding")
	}
}

func TestLoadFromYAML(t *testing.T) {
	cfgFile := writeFile(t, "cfg.yaml", "domains:\n  - a.com\n  - b.org\ntelegram_chat_id: \"@alerts\"\ncheck_delay: 5s\n")

	cfg := New(logger.New())
	if err := cfg.LoadFromFile(cfgFile); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if !reflect.DeepEqual(cfg.Domains, []string{"a.com", "b.org"}) {
		t.Errorf("Domains = %v", cfg.Domains)
	}
	if cfg.TelegramChatID != "@alerts" || cfg.CheckDelay != 5*time.Second {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := New(logger.New())
	if err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Errorf("Expected error for missing config file")
	}
	if err := cfg.LoadFromFile(""); err != nil {
		t.Errorf("Expected empty path to be ignored, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HISTORY_LIMIT", "5")
	t.Setenv("STATE_DIR", "/var/data")
	t.Setenv("EXPIRY_THRESHOLDS", "10, 5")
	t.Setenv("DNS_FALLBACK", "false")
	t.Setenv("DOMAINS", "a.com,b.com")
	t.Setenv("REPEAT_INTERVAL", "12h")

	cfg := New(logger.New())
	cfg.LoadFromEnv()

	if cfg.HistoryLimit != 5 || cfg.StateDir != "/var/data" {
		t.Errorf("Config LoadFromEnv error: got HistoryLimit=%d, StateDir=%s, want HistoryLimit=5, StateDir=/var/data",
			cfg.HistoryLimit, cfg.StateDir)
	}
	if !reflect.DeepEqual(cfg.ExpiryThresholds, []int{10, 5}) {
		t.Errorf("ExpiryThresholds = %v, want [10 5]", cfg.ExpiryThresholds)
	}
	if cfg.DNSFallback {
		t.Errorf("DNSFallback = true, want false")
	}
	if len(cfg.Domains) != 2 || cfg.RepeatInterval != 12*time.Hour {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoadFromEnvInvalidList(t *testing.T) {
	t.Setenv("EXPIRY_THRESHOLDS", "10,soon")

	cfg := New(logger.New())
	cfg.LoadFromEnv()
	if !reflect.DeepEqual(cfg.ExpiryThresholds, []int{30, 14, 7, 3, 1}) {
		t.Errorf("ExpiryThresholds = %v, want defaults", cfg.ExpiryThresholds)
	}
}

func TestLoadPriority(t *testing.T) {
	cfgFile := writeFile(t, "cfg.json", `{"history_limit":3,"state_dir":"/tmp"}`)
	t.Setenv("HISTORY_LIMIT", "5")

	cfg := New(logger.New())
	if err := cfg.LoadFromFile(cfgFile); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	cfg.LoadFromEnv()

	// Environment variables override the file config
	if cfg.HistoryLimit != 5 || cfg.StateDir != "/tmp" {
		t.Errorf("Config priority error: got HistoryLimit=%d, StateDir=%s, want HistoryLimit=5, StateDir=/tmp",
			cfg.HistoryLimit, cfg.StateDir)
	}
}

func TestLoadDotEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "TELEGRAM_TOKEN=from-dotenv\n")
	if err := os.Unsetenv("TELEGRAM_TOKEN"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("TELEGRAM_TOKEN") })

	cfg := New(logger.New())
	if err := cfg.LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	cfg.LoadFromEnv()
	if cfg.TelegramToken != "from-dotenv" {
		t.Errorf("TelegramToken = %q, want from-dotenv", cfg.TelegramToken)
	}

	if err := cfg.LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Expected missing env file to be ignored, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	cfg := New(logger.New())
	cfg.Domains = []string{" Example.COM ", "https://example.com/path", "", "other.org."}
	cfg.ExpiryThresholds = []int{7, 30, 7, 1}
	cfg.FirstCheckNotify = " Available "

	cfg.Normalize()

	if !reflect.DeepEqual(cfg.Domains, []string{"example.com", "other.org"}) {
		t.Errorf("Domains = %v", cfg.Domains)
	}
	if !reflect.DeepEqual(cfg.ExpiryThresholds, []int{30, 7, 1}) {
		t.Errorf("ExpiryThresholds = %v, want [30 7 1]", cfg.ExpiryThresholds)
	}
	if cfg.FirstCheckNotify != FirstCheckAvailable {
		t.Errorf("FirstCheckNotify = %q", cfg.FirstCheckNotify)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := New(logger.New())
		cfg.Domains = []string{"example.com"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"no domains", func(c *Config) { c.Domains = nil }, true},
		{"zero interval", func(c *Config) { c.CheckInterval = 0 }, true},
		{"negative delay", func(c *Config) { c.CheckDelay = -time.Second }, true},
		{"zero delay", func(c *Config) { c.CheckDelay = 0 }, false},
		{"bad threshold", func(c *Config) { c.ExpiryThresholds = []int{7, 0} }, true},
		{"no thresholds", func(c *Config) { c.ExpiryThresholds = nil }, false},
		{"history limit", func(c *Config) { c.HistoryLimit = 0 }, true},
		{"first check mode", func(c *Config) { c.FirstCheckNotify = "sometimes" }, true},
		{"unknown store", func(c *Config) { c.StoreDriver = "mongo" }, true},
		{"sqlite without dsn", func(c *Config) { c.StoreDriver = StoreSQLite }, true},
		{"sqlite with dsn", func(c *Config) { c.StoreDriver = StoreSQLite; c.StoreDSN = "state.db" }, false},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, true},
	}
	for _, tc := range tests {
		cfg := valid()
		tc.mutate(cfg)
		err := cfg.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: Validate() err = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestValidateNoDomainsLast(t *testing.T) {
	cfg := New(logger.New())
	if err := cfg.Validate(); !errors.Is(err, ErrNoDomains) {
		t.Errorf("Validate() = %v, want ErrNoDomains", err)
	}

	cfg.StoreDriver = "mongo"
	if err := cfg.Validate(); errors.Is(err, ErrNoDomains) {
		t.Errorf("Validate() = %v, want the store error first", err)
	}
}
