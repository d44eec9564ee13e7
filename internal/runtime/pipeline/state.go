// Package pipeline defines the contracts shared between the orchestrator and
// the detection modules: the verdict type, the module interface, and the
// per-module scratch state used by the sliding-window detectors.
package pipeline

import (
	"sync"
	"time"

	"github.com/incrustwerush/rwaf/internal/normalize"
)

// Verdict actions.
const (
	ActionAllow = "allow"
	ActionBlock = "block"
)

// Skip results reported by modules that do not apply to the current phase.
const (
	SkippedResponsePhase = "skipped_response_phase"
	SkippedRequestPhase  = "skipped_request_phase"
)

// Decision is the verdict a module or the whole pipeline returns. Result
// carries an opaque diagnostic payload that ends up in the /check response.
type Decision struct {
	Action      string `json:"action"`
	Reason      string `json:"reason,omitempty"`
	MatchedRule string `json:"matched_rule,omitempty"`
	Result      any    `json:"result,omitempty"`
}

// Allow builds an allow decision with an optional diagnostic.
func Allow(result any) Decision {
	return Decision{Action: ActionAllow, Result: result}
}

// Block builds a block decision attributed to a matched rule.
func Block(reason, matchedRule string, result any) Decision {
	return Decision{Action: ActionBlock, Reason: reason, MatchedRule: matchedRule, Result: result}
}

// Blocked reports whether the decision is a block verdict.
func (d Decision) Blocked() bool { return d.Action == ActionBlock }

// Settings carries the configuration knobs the modules consult. The
// orchestrator derives it once from the service configuration.
type Settings struct {
	WindowSeconds          int
	WindowMaxRequests      int
	AntiHTTPGenericBF      bool
	EnableRequestBodyCheck bool
}

// Input is everything a single module invocation may touch: the normalised
// request, the module's own scratch slot, and the shared settings. Modules
// must not reach outside it.
type Input struct {
	Req      *normalize.Request
	Slot     *Slot
	Settings Settings
}

// ResponsePhase reports whether the descriptor describes an HTTP response.
// A zero status code marks the request phase.
func (in Input) ResponsePhase() bool { return in.Req.StatusCode != 0 }

// Module is one detection unit. Run must be pure over (request, slot): all
// observable effects flow through the returned decision.
type Module interface {
	Name() string
	Run(in Input) Decision
}

// Slot is a module's private scratch state. Each rate-based detector keeps
// named series of per-address timestamp windows in it. Concurrent requests
// may hit the same slot, so every update happens under the slot mutex.
type Slot struct {
	mu     sync.Mutex
	series map[string]map[string][]time.Time
}

// NewSlot returns an empty scratch slot.
func NewSlot() *Slot {
	return &Slot{series: make(map[string]map[string][]time.Time)}
}

// Observe trims timestamps older than the window from the (series, ip)
// deque, appends now, and returns the resulting count. Trim, append, and
// count happen atomically so concurrent requests never tear a window.
func (s *Slot) Observe(series, ip string, now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIP, ok := s.series[series]
	if !ok {
		byIP = make(map[string][]time.Time)
		s.series[series] = byIP
	}
	kept := trimWindow(byIP[ip], now, window)
	kept = append(kept, now)
	byIP[ip] = kept
	return len(kept)
}

// Len trims and counts without recording a new timestamp.
func (s *Slot) Len(series, ip string, now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIP, ok := s.series[series]
	if !ok {
		return 0
	}
	kept := trimWindow(byIP[ip], now, window)
	byIP[ip] = kept
	return len(kept)
}

// trimWindow drops timestamps that fell out of the window. Entries are
// appended in time order, so the first retained index bounds the rest.
func trimWindow(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[i:]...)
}
