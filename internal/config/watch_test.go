package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchRulesFiresOnJSONChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	changeCh := make(chan struct{}, 4)
	errCh := make(chan error, 1)

	watcher, err := WatchRules(ctx, dir, func() {
		changeCh <- struct{}{}
	}, func(err error) {
		errCh <- err
	})
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	defer watcher.Stop()

	path := filepath.Join(dir, "paths.json")
	if err := os.WriteFile(path, []byte(`["/wp-admin"]`), 0o600); err != nil {
		t.Fatalf("failed to write rule file: %v", err)
	}

	select {
	case <-changeCh:
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for change event")
	}
}

func TestWatchRulesIgnoresOtherFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	changeCh := make(chan struct{}, 4)

	watcher, err := WatchRules(ctx, dir, func() {
		changeCh <- struct{}{}
	}, nil)
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	select {
	case <-changeCh:
		t.Fatal("unexpected change event for non-json file")
	case <-time.After(time.Second):
	}
}

func TestWatchRulesRequiresCallback(t *testing.T) {
	if _, err := WatchRules(context.Background(), t.TempDir(), nil, nil); err == nil {
		t.Fatal("expected error for nil callback")
	}
}

func TestWatchRulesStopIsIdempotent(t *testing.T) {
	watcher, err := WatchRules(context.Background(), t.TempDir(), func() {}, nil)
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	watcher.Stop()
	watcher.Stop()
}
