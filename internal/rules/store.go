// Package rules loads and serves the JSON rule files that drive the basic
// attack checks. A rule file is a JSON array of strings; the substrings in its
// filename decide which detection passes consult it, so one file may feed
// several passes.
package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/incrustwerush/rwaf/internal/normalize"
)

// Category names double as the filename substrings that bind a rule file to a
// detection pass.
const (
	CategoryIPBlocklist = "ip_blocklist"
	CategoryUserAgents  = "user_agents"
	CategoryHeaders     = "headers"
	CategoryPaths       = "paths"
	CategoryBody        = "body"
)

// CategoryOrder fixes the evaluation order of the basic attack passes. The
// first matching rule wins, so the order is part of the decision contract.
var CategoryOrder = []string{
	CategoryIPBlocklist,
	CategoryUserAgents,
	CategoryHeaders,
	CategoryPaths,
	CategoryBody,
}

// File is one loaded rule file with its patterns precompiled for
// case-insensitive regex matching. Patterns is parallel to Rules; a nil entry
// marks a rule that does not compile as a regular expression, which still
// participates in the exact and containment passes.
type File struct {
	Name     string
	Rules    []string
	Patterns []*regexp.Regexp
}

// Store holds the currently loaded rule files. Load and Reload swap the whole
// set atomically so in-flight evaluations always see a consistent snapshot.
type Store struct {
	log *slog.Logger
	dir string

	mu    sync.RWMutex
	files []File
}

// NewStore prepares a store over the given rules directory. Nothing is read
// until Load is called.
func NewStore(dir string, log *slog.Logger) *Store {
	return &Store{log: log, dir: dir}
}

// Load seeds any missing default rule files, then reads every .json file in
// the directory in lexical order. Files that fail to read or decode are logged
// and skipped rather than failing the load.
func (s *Store) Load() error {
	if err := s.ensureDefaults(); err != nil {
		return err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("rules: read dir %s: %w", s.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		file, err := s.loadFile(name)
		if err != nil {
			s.log.Warn("skipping rules file", slog.String("file", name), slog.Any("error", err))
			continue
		}
		files = append(files, file)
	}

	s.mu.Lock()
	s.files = files
	s.mu.Unlock()
	s.log.Info("rules loaded", slog.Int("files", len(files)), slog.String("dir", s.dir))
	return nil
}

// Reload re-reads the rules directory. It is the hook wired to the filesystem
// watcher and the /reload endpoint.
func (s *Store) Reload() error { return s.Load() }

func (s *Store) loadFile(name string) (File, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return File{}, fmt.Errorf("rules: read %s: %w", name, err)
	}
	var ruleList []string
	if err := json.Unmarshal(raw, &ruleList); err != nil {
		return File{}, fmt.Errorf("rules: decode %s: %w", name, err)
	}
	patterns := make([]*regexp.Regexp, len(ruleList))
	for i, rule := range ruleList {
		re, err := normalize.CompilePattern(rule)
		if err != nil {
			s.log.Warn("rule is not a valid pattern, regex passes will skip it",
				slog.String("file", name), slog.String("rule", rule), slog.Any("error", err))
			continue
		}
		patterns[i] = re
	}
	return File{Name: name, Rules: ruleList, Patterns: patterns}, nil
}

// Files returns a snapshot of every loaded rule file.
func (s *Store) Files() []File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]File, len(s.files))
	copy(out, s.files)
	return out
}

// FilesFor returns the rule files bound to a category, selected by filename
// substring. A file named user_agents_paths.json feeds both the user_agents
// and paths passes.
func (s *Store) FilesFor(category string) []File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []File
	for _, f := range s.files {
		if strings.Contains(f.Name, category) {
			out = append(out, f)
		}
	}
	return out
}

// Len reports how many rule files are loaded.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// defaultRules seeds a fresh installation with a small, conservative rule set.
var defaultRules = map[string][]string{
	"ip_blocklist.json": {
		"192.168.1.100",
		"10.0.0.2",
	},
	"user_agents.json": {
		"sqlmap",
		"nikto",
		"fuzz",
		"curl",
	},
	"headers_patterns.json": {
		`(?i)union\s+select`,
		`(?i)or\s+1=1`,
		`(?i)drop\s+table`,
		`<\?php`,
		`base64_decode`,
	},
	"paths.json": {
		`/wp-admin`,
		`/phpmyadmin`,
		`/\.env`,
		`../etc/passwd`,
		`<script>`,
		`<\?php`,
		`eval\(`,
		`(?i)union\s+select`,
		`(?i)or\s+1=1`,
		`(?i)drop\s+table`,
		`/\.git`,
		`.*\.bak`,
	},
	"body_patterns.json": {
		`(?i)union\s+select`,
		`(?i)or\s+1=1`,
		`(?i)drop\s+table`,
		`<script>`,
		`<\?php`,
		`base64_decode`,
	},
}

// ensureDefaults creates the rules directory and writes each default rule file
// that does not exist yet. Existing files are never touched.
func (s *Store) ensureDefaults() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("rules: create dir %s: %w", s.dir, err)
	}
	for name, ruleList := range defaultRules {
		path := filepath.Join(s.dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("rules: stat %s: %w", path, err)
		}
		raw, err := json.MarshalIndent(ruleList, "", "  ")
		if err != nil {
			return fmt.Errorf("rules: encode defaults for %s: %w", name, err)
		}
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return fmt.Errorf("rules: write %s: %w", path, err)
		}
		s.log.Info("seeded default rules file", slog.String("file", name))
	}
	return nil
}
