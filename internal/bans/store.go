// Package bans holds the authoritative map of banned client addresses. The
// in-memory map is the source of truth; a background flusher persists it to a
// JSON file, which serves as a recovery log across restarts. Whitelisted
// addresses can never be banned.
package bans

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Ban is one active or expired ban entry.
type Ban struct {
	Until  time.Time
	Reason string
}

// Record is a ban entry annotated for listing.
type Record struct {
	IP     string    `json:"ip"`
	Until  time.Time `json:"until"`
	Reason string    `json:"reason"`
	Active bool      `json:"active"`
}

// banRecord is the persisted wire form: {"until": RFC 3339 UTC, "reason": ...}.
type banRecord struct {
	Until  string `json:"until"`
	Reason string `json:"reason"`
}

// Store serialises all ban-state access behind one mutex. Mutations mark the
// store dirty; the flusher writes dirty state out on a short interval and
// Close performs a final flush.
type Store struct {
	log           *slog.Logger
	path          string
	whitelistPath string
	defaultTTL    time.Duration

	mu        sync.Mutex
	bans      map[string]Ban
	whitelist map[string]struct{}
	dirty     bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewStore loads ban and whitelist state from disk and starts the background
// flusher. Missing files are seeded empty; unreadable content is logged and
// treated as empty, since the in-memory map is authoritative from here on.
func NewStore(bansPath, whitelistPath string, defaultTTL time.Duration, flushInterval time.Duration, log *slog.Logger) (*Store, error) {
	s := &Store{
		log:           log,
		path:          bansPath,
		whitelistPath: whitelistPath,
		defaultTTL:    defaultTTL,
		bans:          make(map[string]Ban),
		whitelist:     make(map[string]struct{}),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	if err := s.seedFiles(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.loadBansLocked()
	s.loadWhitelistLocked()
	s.mu.Unlock()

	go s.runFlusher(flushInterval)
	return s, nil
}

func (s *Store) seedFiles() error {
	for _, path := range []string{s.path, s.whitelistPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("bans: create dir for %s: %w", path, err)
		}
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err := os.WriteFile(s.path, []byte("{}"), 0o644); err != nil {
			return fmt.Errorf("bans: seed %s: %w", s.path, err)
		}
	}
	if _, err := os.Stat(s.whitelistPath); os.IsNotExist(err) {
		if err := os.WriteFile(s.whitelistPath, []byte("[]"), 0o644); err != nil {
			return fmt.Errorf("bans: seed %s: %w", s.whitelistPath, err)
		}
	}
	return nil
}

func (s *Store) loadBansLocked() {
	s.bans = make(map[string]Ban)
	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Warn("bans file unreadable, starting fresh", slog.String("path", s.path), slog.Any("error", err))
		return
	}
	var wire map[string]banRecord
	if err := json.Unmarshal(raw, &wire); err != nil {
		s.log.Warn("bans file malformed, starting fresh", slog.String("path", s.path), slog.Any("error", err))
		return
	}
	for ip, rec := range wire {
		until, err := time.Parse(time.RFC3339Nano, rec.Until)
		if err != nil {
			s.log.Warn("dropping ban with unparseable expiry",
				slog.String("ip", ip), slog.String("until", rec.Until), slog.Any("error", err))
			continue
		}
		reason := rec.Reason
		if reason == "" {
			reason = "banned"
		}
		s.bans[ip] = Ban{Until: until.UTC(), Reason: reason}
	}
	s.log.Info("bans loaded", slog.Int("entries", len(s.bans)), slog.String("path", s.path))
}

func (s *Store) loadWhitelistLocked() {
	s.whitelist = make(map[string]struct{})
	raw, err := os.ReadFile(s.whitelistPath)
	if err != nil {
		s.log.Warn("whitelist unreadable, treating as empty", slog.String("path", s.whitelistPath), slog.Any("error", err))
		return
	}
	var addrs []string
	if err := json.Unmarshal(raw, &addrs); err != nil {
		s.log.Warn("whitelist malformed, treating as empty", slog.String("path", s.whitelistPath), slog.Any("error", err))
		return
	}
	for _, a := range addrs {
		s.whitelist[a] = struct{}{}
	}
}

// IsBanned reports whether the address is currently banned and, if so, why.
// Whitelisted addresses are never banned. An entry whose expiry has passed is
// evicted before returning.
func (s *Store) IsBanned(ip string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.whitelist[ip]; ok {
		return false, ""
	}
	ban, ok := s.bans[ip]
	if !ok {
		return false, ""
	}
	if !time.Now().UTC().Before(ban.Until) {
		delete(s.bans, ip)
		s.dirty = true
		return false, ""
	}
	return true, ban.Reason
}

// Add bans an address for the given duration, or the store default when ttl
// is not positive. Attempts to ban a whitelisted address are ignored; the
// second return reports whether the ban was recorded.
func (s *Store) Add(ip string, ttl time.Duration, reason string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.whitelist[ip]; ok {
		s.log.Info("ignoring ban for whitelisted address", slog.String("ip", ip))
		return time.Time{}, false
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	until := time.Now().UTC().Add(ttl)
	s.bans[ip] = Ban{Until: until, Reason: reason}
	s.dirty = true
	s.log.Info("ban added", slog.String("ip", ip), slog.Time("until", until), slog.String("reason", reason))
	return until, true
}

// Delete removes a ban and reports whether one existed.
func (s *Store) Delete(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bans[ip]; !ok {
		return false
	}
	delete(s.bans, ip)
	s.dirty = true
	s.log.Info("ban deleted", slog.String("ip", ip))
	return true
}

// ListActive returns a snapshot of the bans whose expiry is still in the
// future, keyed by address.
func (s *Store) ListActive() map[string]Ban {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	out := make(map[string]Ban)
	for ip, ban := range s.bans {
		if now.Before(ban.Until) {
			out[ip] = ban
		}
	}
	return out
}

// All returns every entry, expired ones included, newest expiry first.
func (s *Store) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	out := make([]Record, 0, len(s.bans))
	for ip, ban := range s.bans {
		out = append(out, Record{IP: ip, Until: ban.Until, Reason: ban.Reason, Active: now.Before(ban.Until)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Until.After(out[j].Until) })
	return out
}

// ActiveCount reports how many bans are currently in force.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, ban := range s.bans {
		if now.Before(ban.Until) {
			n++
		}
	}
	return n
}

// ReloadFromDisk replaces in-memory state with the files' contents, picking up
// external edits. Unflushed in-memory changes are discarded.
func (s *Store) ReloadFromDisk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadBansLocked()
	s.loadWhitelistLocked()
	s.dirty = false
}

// Flush persists the ban map when it has changed since the last write. The
// file is written to a temporary sibling, synced, and renamed into place so
// readers and crashes never observe a torn file.
func (s *Store) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	wire := make(map[string]banRecord, len(s.bans))
	for ip, ban := range s.bans {
		wire[ip] = banRecord{Until: ban.Until.UTC().Format(time.RFC3339Nano), Reason: ban.Reason}
	}
	s.dirty = false
	s.mu.Unlock()

	raw, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return fmt.Errorf("bans: encode: %w", err)
	}
	if err := writeFileAtomic(s.path, raw); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("bans: create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("bans: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("bans: sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("bans: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("bans: rename %s: %w", path, err)
	}
	return nil
}

func (s *Store) runFlusher(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				s.log.Warn("ban flush failed, will retry", slog.Any("error", err))
			}
		}
	}
}

// Close stops the flusher and writes any remaining dirty state.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
	return s.Flush()
}
