// Package modules holds the closed set of detection modules the pipeline
// fans out to. Each module is a pure check over the normalised request and
// its own scratch slot; the orchestrator owns every other side effect.
package modules

import (
	"strings"

	"github.com/incrustwerush/rwaf/internal/normalize"
	"github.com/incrustwerush/rwaf/internal/rules"
	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
)

// BasicAttackRules applies the rule-file store against the normalised
// request: exact address matches, user-agent substrings, and the
// decoding-invariant regex passes over headers, path, and body.
type BasicAttackRules struct {
	store *rules.Store
}

// NewBasicAttackRules binds the module to the live rule store so reloads are
// picked up without re-registration.
func NewBasicAttackRules(store *rules.Store) *BasicAttackRules {
	return &BasicAttackRules{store: store}
}

func (m *BasicAttackRules) Name() string { return "BasicAttackRules" }

// Run walks the rule categories in their fixed priority order and blocks on
// the first matching rule.
func (m *BasicAttackRules) Run(in pipeline.Input) pipeline.Decision {
	if in.ResponsePhase() {
		return pipeline.Allow(pipeline.SkippedResponsePhase)
	}
	req := in.Req
	loweredUA := strings.ToLower(req.UserAgent)

	for _, category := range rules.CategoryOrder {
		if category == rules.CategoryBody && !in.Settings.EnableRequestBodyCheck {
			continue
		}
		target := ""
		switch category {
		case rules.CategoryHeaders:
			target = req.HeaderText
		case rules.CategoryPaths:
			target = req.Path
		case rules.CategoryBody:
			target = string(req.Body)
		}
		for _, file := range m.store.FilesFor(category) {
			for i, rule := range file.Rules {
				switch category {
				case rules.CategoryIPBlocklist:
					if req.IP == rule {
						return pipeline.Block("ip_blocklist", rule, map[string]any{"matched_rule": rule})
					}
				case rules.CategoryUserAgents:
					if rule != "" && strings.Contains(loweredUA, strings.ToLower(rule)) {
						return pipeline.Block("bad_user_agent", rule, map[string]any{"matched_rule": rule})
					}
				default:
					if normalize.MatchesPattern(file.Patterns[i], target) {
						return pipeline.Block(category+"_blocked", rule, map[string]any{"matched_rule": rule})
					}
				}
			}
		}
	}
	return pipeline.Allow("no_match")
}
