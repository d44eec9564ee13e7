package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting
// env > file > default precedence.
type Loader struct {
	envPrefix string
	path      string
}

// NewLoader prepares a config hydrator. The file path may be empty, in which
// case only defaults and environment overrides apply.
func NewLoader(envPrefix, path string) *Loader {
	return &Loader{envPrefix: envPrefix, path: path}
}

// Load assembles the effective snapshot using the documented precedence rules,
// resolves derived paths, and validates the result.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if l.path != "" {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(l.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", l.path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", l.path, err)
		}
		parser, err := parserForFile(l.path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(l.path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", l.path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// RWAF_API_KEY maps straight onto api_key; option names are flat.
			return strings.ToLower(strings.TrimPrefix(s, l.envPrefix+"_"))
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parserForFile picks the koanf parser matching the file extension.
func parserForFile(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported config format %q", filepath.Ext(path))
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"host":                       cfg.Host,
		"port":                       cfg.Port,
		"api_key":                    cfg.APIKey,
		"base_dir":                   cfg.BaseDir,
		"rules_dir":                  cfg.RulesDir,
		"bans_file":                  cfg.BansFile,
		"whitelist_file":             cfg.WhitelistFile,
		"banned_page_file":           cfg.BannedPageFile,
		"module_threads":             cfg.ModuleThreads,
		"delay_ban_minutes":          cfg.DelayBanMinutes,
		"window_seconds":             cfg.WindowSeconds,
		"window_max_requests":        cfg.WindowMaxRequests,
		"cache_maxsize":              cfg.CacheMaxSize,
		"cache_backend":              cfg.CacheBackend,
		"cache_ttl_seconds":          cfg.CacheTTLSeconds,
		"valkey_addr":                cfg.ValkeyAddr,
		"anti_http_generic_bf":       cfg.AntiHTTPGenericBF,
		"enable_response_filter":     cfg.EnableResponseFilter,
		"enable_request_body_check":  cfg.EnableRequestBodyCheck,
		"enable_response_body_check": cfg.EnableResponseBodyCheck,
		"log_level":                  cfg.LogLevel,
		"log_format":                 cfg.LogFormat,
		"watch_rules":                cfg.WatchRules,
		"custom_rules":               cfg.CustomRules,
	}
}
