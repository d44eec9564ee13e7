package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/incrustwerush/rwaf/internal/bans"
	"github.com/incrustwerush/rwaf/internal/config"
	"github.com/incrustwerush/rwaf/internal/expr"
	"github.com/incrustwerush/rwaf/internal/journal"
	"github.com/incrustwerush/rwaf/internal/logging"
	"github.com/incrustwerush/rwaf/internal/metrics"
	"github.com/incrustwerush/rwaf/internal/pool"
	"github.com/incrustwerush/rwaf/internal/rules"
	"github.com/incrustwerush/rwaf/internal/runtime"
	"github.com/incrustwerush/rwaf/internal/runtime/cache"
	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
	"github.com/incrustwerush/rwaf/internal/server"
	"github.com/incrustwerush/rwaf/internal/templates"
)

const flushInterval = 2 * time.Second

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file")
		envPrefix  = flag.String("env-prefix", "RWAF", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("service terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	decisionCache := buildDecisionCache(cfg, logger)

	banStore, err := bans.NewStore(
		cfg.BansFile, cfg.WhitelistFile,
		banTTL(cfg), flushInterval, logger)
	if err != nil {
		return fmt.Errorf("ban store: %w", err)
	}
	defer func() {
		if err := banStore.Close(); err != nil {
			logger.Error("ban store close failed", slog.Any("error", err))
		}
	}()
	recorder.SetActiveBans(banStore.ActiveCount())

	ruleStore := rules.NewStore(cfg.RulesDir, logger)
	if err := ruleStore.Load(); err != nil {
		return fmt.Errorf("rule store: %w", err)
	}

	alerts, err := journal.New[journal.Alert](cfg.AlertsDir(), "alerts", flushInterval, logger)
	if err != nil {
		return fmt.Errorf("alert journal: %w", err)
	}
	alerts.OnFlush(func(err error) { recorder.ObserveJournalFlush("alerts", err) })
	defer func() {
		if err := alerts.Close(); err != nil {
			logger.Error("alert journal close failed", slog.Any("error", err))
		}
	}()

	traffic, err := journal.New[journal.Traffic](cfg.TrafficDir(), "traffic", flushInterval, logger)
	if err != nil {
		return fmt.Errorf("traffic journal: %w", err)
	}
	traffic.OnFlush(func(err error) { recorder.ObserveJournalFlush("traffic", err) })
	defer func() {
		if err := traffic.Close(); err != nil {
			logger.Error("traffic journal close failed", slog.Any("error", err))
		}
	}()

	celEnv, err := expr.NewEnvironment()
	if err != nil {
		return fmt.Errorf("custom rule environment: %w", err)
	}
	programs := expr.CompileRules(celEnv, cfg.CustomRules, logger)

	pipe := runtime.New(runtime.Options{
		Rules:   ruleStore,
		Bans:    banStore,
		Cache:   decisionCache,
		Alerts:  alerts,
		Traffic: traffic,
		Pool:    pool.New(cfg.ModuleThreads),
		Metrics: recorder,
		Settings: pipeline.Settings{
			WindowSeconds:          cfg.WindowSeconds,
			WindowMaxRequests:      cfg.WindowMaxRequests,
			AntiHTTPGenericBF:      cfg.AntiHTTPGenericBF,
			EnableRequestBodyCheck: cfg.EnableRequestBodyCheck,
		},
		BanTTL:               banTTL(cfg),
		EnableResponseFilter: cfg.EnableResponseFilter,
		CustomRules:          programs,
	}, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := pipe.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	bannedPage, err := buildBannedPage(cfg, logger)
	if err != nil {
		return fmt.Errorf("banned page: %w", err)
	}

	if cfg.WatchRules {
		watcher, err := config.WatchRules(ctx, cfg.RulesDir, func() {
			logger.Info("rules directory changed, reloading")
			if err := ruleStore.Reload(); err != nil {
				logger.Error("rules reload failed", slog.Any("error", err))
				return
			}
			if err := pipe.CacheClear(ctx); err != nil {
				logger.Error("cache clear after rules reload failed", slog.Any("error", err))
			}
		}, func(err error) {
			logger.Error("rules watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("rules watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	router := server.NewRouter(server.RouterOptions{
		APIKey:     cfg.APIKey,
		Pipeline:   pipe,
		Bans:       banStore,
		Alerts:     alerts,
		BannedPage: bannedPage,
		Metrics:    recorder.Handler(),
		Toggles: server.Toggles{
			EnableRequestBodyCheck:  cfg.EnableRequestBodyCheck,
			EnableResponseBodyCheck: cfg.EnableResponseBodyCheck,
			EnableResponseFilter:    cfg.EnableResponseFilter,
		},
		BanTTL: banTTL(cfg),
	}, logger)

	srv, err := server.New(cfg.Host, cfg.Port, logger, router.Handler())
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return srv.Run(ctx)
}

func banTTL(cfg config.Config) time.Duration {
	return time.Duration(cfg.DelayBanMinutes * float64(time.Minute))
}

// buildDecisionCache picks the configured backend and falls back to memory
// when valkey cannot be reached, since an advisory service degraded to a
// local cache beats one that refuses to start.
func buildDecisionCache(cfg config.Config, logger *slog.Logger) cache.DecisionCache {
	switch strings.TrimSpace(strings.ToLower(cfg.CacheBackend)) {
	case "valkey":
		valkeyCache, err := cache.NewValkey(cache.ValkeyConfig{
			Address: cfg.ValkeyAddr,
			TTL:     time.Duration(cfg.CacheTTLSeconds) * time.Second,
		})
		if err != nil {
			logger.Error("valkey cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory decision cache")
			break
		}
		logger.Info("using valkey decision cache", slog.String("address", cfg.ValkeyAddr))
		return valkeyCache
	}
	memory, err := cache.NewMemory(cfg.CacheMaxSize)
	if err != nil {
		// cache_maxsize is validated >= 1, so this cannot fire in practice.
		logger.Error("memory cache initialization failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("using memory decision cache", slog.Int("maxsize", cfg.CacheMaxSize))
	return memory
}

func buildBannedPage(cfg config.Config, logger *slog.Logger) (*templates.BannedPage, error) {
	pageDir := filepath.Dir(cfg.BannedPageFile)
	if err := os.MkdirAll(pageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", pageDir, err)
	}
	var renderer *templates.Renderer
	sandbox, err := templates.NewSandbox(pageDir)
	if err != nil {
		logger.Warn("template sandbox setup failed, .tmpl pages disabled", slog.Any("error", err))
	} else {
		renderer = templates.NewRenderer(sandbox)
	}
	return templates.NewBannedPage(cfg.BannedPageFile, renderer)
}
