package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/incrustwerush/rwaf/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBanTTLFractionalMinutes(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DelayBanMinutes = 0.5
	require.Equal(t, 30*time.Second, banTTL(cfg))

	cfg.DelayBanMinutes = 15
	require.Equal(t, 15*time.Minute, banTTL(cfg))
}

func TestBuildDecisionCacheMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	c := buildDecisionCache(cfg, discardLogger())
	require.NotNil(t, c)
}

func TestBuildDecisionCacheValkeyFallsBack(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CacheBackend = "valkey"
	cfg.ValkeyAddr = "127.0.0.1:1" // nothing listens here

	c := buildDecisionCache(cfg, discardLogger())
	require.NotNil(t, c, "expected memory fallback when valkey is unreachable")
}

func TestBuildBannedPageSeedsFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BaseDir = t.TempDir()
	cfg.Finalize()

	page, err := buildBannedPage(cfg, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, page)

	_, err = os.Stat(filepath.Join(cfg.BaseDir, "banned.html"))
	require.NoError(t, err)
}
