package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config holds every recognised option. Keys are flat so the file, the
// environment (RWAF_ prefix), and the defaults all describe the same names.
type Config struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port" validate:"min=1,max=65535"`
	APIKey string `koanf:"api_key" validate:"required"`

	// BaseDir anchors every derived path. The empty path options below are
	// resolved against it by Finalize.
	BaseDir        string `koanf:"base_dir" validate:"required"`
	RulesDir       string `koanf:"rules_dir"`
	BansFile       string `koanf:"bans_file"`
	WhitelistFile  string `koanf:"whitelist_file"`
	BannedPageFile string `koanf:"banned_page_file"`

	ModuleThreads   int     `koanf:"module_threads" validate:"min=1,max=64"`
	DelayBanMinutes float64 `koanf:"delay_ban_minutes" validate:"gt=0"`

	WindowSeconds     int `koanf:"window_seconds" validate:"min=1"`
	WindowMaxRequests int `koanf:"window_max_requests" validate:"min=1"`

	CacheMaxSize    int    `koanf:"cache_maxsize" validate:"min=1"`
	CacheBackend    string `koanf:"cache_backend" validate:"oneof=memory valkey"`
	CacheTTLSeconds int    `koanf:"cache_ttl_seconds" validate:"min=1"`
	ValkeyAddr      string `koanf:"valkey_addr"`

	AntiHTTPGenericBF       bool `koanf:"anti_http_generic_bf"`
	EnableResponseFilter    bool `koanf:"enable_response_filter"`
	EnableRequestBodyCheck  bool `koanf:"enable_request_body_check"`
	EnableResponseBodyCheck bool `koanf:"enable_response_body_check"`

	LogLevel  string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `koanf:"log_format" validate:"oneof=json text"`

	WatchRules bool `koanf:"watch_rules"`

	// CustomRules holds operator-supplied CEL predicates evaluated by the
	// custom-rule detection module. Entries that fail to compile are warned
	// about and dropped at startup.
	CustomRules []string `koanf:"custom_rules"`
}

// DefaultConfig returns the baseline values the service boots with when no
// file or environment overrides are present.
func DefaultConfig() Config {
	return Config{
		Host:                    "0.0.0.0",
		Port:                    5000,
		APIKey:                  "incrustwerush.org",
		BaseDir:                 "./data",
		ModuleThreads:           10,
		DelayBanMinutes:         15,
		WindowSeconds:           10,
		WindowMaxRequests:       5,
		CacheMaxSize:            32,
		CacheBackend:            "memory",
		CacheTTLSeconds:         300,
		AntiHTTPGenericBF:       true,
		EnableResponseFilter:    true,
		EnableRequestBodyCheck:  true,
		EnableResponseBodyCheck: false,
		LogLevel:                "info",
		LogFormat:               "json",
		WatchRules:              true,
	}
}

// Finalize resolves the derived paths that default relative to base_dir.
// Explicitly configured paths win.
func (c *Config) Finalize() {
	if c.RulesDir == "" {
		c.RulesDir = filepath.Join(c.BaseDir, "rules")
	}
	if c.BansFile == "" {
		c.BansFile = filepath.Join(c.BaseDir, "bans.json")
	}
	if c.WhitelistFile == "" {
		c.WhitelistFile = filepath.Join(c.BaseDir, "whitelist.json")
	}
	if c.BannedPageFile == "" {
		c.BannedPageFile = filepath.Join(c.BaseDir, "banned.html")
	}
}

// AlertsDir is where the alert journal partitions its date files.
func (c Config) AlertsDir() string { return filepath.Join(c.BaseDir, "alerts") }

// TrafficDir is where the traffic journal partitions its date files.
func (c Config) TrafficDir() string { return filepath.Join(c.BaseDir, "traffic") }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate enforces the invariants that keep the runtime predictable before
// serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	backend := strings.TrimSpace(strings.ToLower(c.CacheBackend))
	if backend == "valkey" && strings.TrimSpace(c.ValkeyAddr) == "" {
		return errors.New("config: valkey_addr required for valkey cache backend")
	}
	return nil
}
