// Package journal buffers alert and traffic entries in memory and flushes
// them to per-date JSON array files. Within a date's file, entry order is the
// order entries were accepted into the buffer; readers that need event order
// sort by the embedded timestamps.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// Journal accumulates entries of one type and persists them to
// <dir>/<date>-<suffix>.json. Flushes merge with the file's existing contents
// so restarts and external writers are not clobbered.
type Journal[T any] struct {
	log    *slog.Logger
	dir    string
	suffix string

	mu      sync.Mutex
	pending map[string][]T
	onFlush func(error)

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates the journal directory if needed and starts the background
// flusher.
func New[T any](dir, suffix string, flushInterval time.Duration, log *slog.Logger) (*Journal[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir %s: %w", dir, err)
	}
	j := &Journal[T]{
		log:     log,
		dir:     dir,
		suffix:  suffix,
		pending: make(map[string][]T),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go j.runFlusher(flushInterval)
	return j, nil
}

// OnFlush registers a callback invoked with the outcome of every flush
// attempt. Set it before the first flush fires.
func (j *Journal[T]) OnFlush(fn func(error)) {
	j.mu.Lock()
	j.onFlush = fn
	j.mu.Unlock()
}

// Append buffers an entry under today's date. It never blocks on I/O.
func (j *Journal[T]) Append(entry T) {
	date := time.Now().UTC().Format(dateLayout)
	j.mu.Lock()
	j.pending[date] = append(j.pending[date], entry)
	j.mu.Unlock()
}

// Flush writes all buffered entries to their date files. Entries whose write
// fails are re-queued so the next flush retries them.
func (j *Journal[T]) Flush() error {
	j.mu.Lock()
	if len(j.pending) == 0 {
		j.mu.Unlock()
		return nil
	}
	batches := j.pending
	j.pending = make(map[string][]T)
	j.mu.Unlock()

	var firstErr error
	for date, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		if err := j.flushDate(date, batch); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			j.mu.Lock()
			j.pending[date] = append(batch, j.pending[date]...)
			j.mu.Unlock()
		}
	}
	j.mu.Lock()
	notify := j.onFlush
	j.mu.Unlock()
	if notify != nil {
		notify(firstErr)
	}
	return firstErr
}

func (j *Journal[T]) flushDate(date string, batch []T) error {
	path := j.file(date)
	existing := j.readFile(path)
	merged := append(existing, batch...)
	raw, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("journal: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("journal: rename %s: %w", path, err)
	}
	return nil
}

func (j *Journal[T]) file(date string) string {
	return filepath.Join(j.dir, fmt.Sprintf("%s-%s.json", date, j.suffix))
}

func (j *Journal[T]) readFile(path string) []T {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			j.log.Warn("journal file unreadable, treating as empty", slog.String("path", path), slog.Any("error", err))
		}
		return nil
	}
	var entries []T
	if err := json.Unmarshal(raw, &entries); err != nil {
		j.log.Warn("journal file malformed, treating as empty", slog.String("path", path), slog.Any("error", err))
		return nil
	}
	return entries
}

// Recent returns the last limit entries for today, flushed and buffered alike,
// so admin reads observe entries before the flusher has run. A non-positive
// limit returns everything.
func (j *Journal[T]) Recent(limit int) []T {
	return j.RecentMatching(limit, nil)
}

// RecentMatching is Recent with an optional filter.
func (j *Journal[T]) RecentMatching(limit int, keep func(T) bool) []T {
	date := time.Now().UTC().Format(dateLayout)
	entries := j.readFile(j.file(date))
	j.mu.Lock()
	entries = append(entries, j.pending[date]...)
	j.mu.Unlock()

	if keep != nil {
		filtered := entries[:0:0]
		for _, e := range entries {
			if keep(e) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// ClearToday removes today's file and drops today's buffered entries.
func (j *Journal[T]) ClearToday() error {
	date := time.Now().UTC().Format(dateLayout)
	j.mu.Lock()
	delete(j.pending, date)
	j.mu.Unlock()
	if err := os.Remove(j.file(date)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("journal: clear %s: %w", j.file(date), err)
	}
	return nil
}

func (j *Journal[T]) runFlusher(interval time.Duration) {
	defer close(j.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			if err := j.Flush(); err != nil {
				j.log.Warn("journal flush failed, will retry", slog.String("journal", j.suffix), slog.Any("error", err))
			}
		}
	}
}

// Close stops the flusher and drains the buffer.
func (j *Journal[T]) Close() error {
	j.closeOnce.Do(func() {
		close(j.stop)
	})
	<-j.done
	return j.Flush()
}
