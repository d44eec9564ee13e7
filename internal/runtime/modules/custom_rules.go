package modules

import (
	"log/slog"

	"github.com/incrustwerush/rwaf/internal/expr"
	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
)

// CustomRuleExpressions evaluates operator-supplied CEL predicates over the
// decoded request. Any predicate returning true blocks; evaluation errors
// count as non-matches so a brittle rule cannot take traffic down.
type CustomRuleExpressions struct {
	programs []expr.Program
	log      *slog.Logger
}

func NewCustomRuleExpressions(programs []expr.Program, log *slog.Logger) *CustomRuleExpressions {
	return &CustomRuleExpressions{programs: programs, log: log}
}

func (m *CustomRuleExpressions) Name() string { return "CustomRuleExpressions" }

func (m *CustomRuleExpressions) Run(in pipeline.Input) pipeline.Decision {
	if in.ResponsePhase() {
		return pipeline.Allow(pipeline.SkippedResponsePhase)
	}
	if len(m.programs) == 0 {
		return pipeline.Allow("no_custom_rules")
	}

	req := in.Req
	activation := map[string]any{
		"ip":         req.IP,
		"method":     req.Method,
		"path":       req.Path,
		"user_agent": req.UserAgent,
		"header":     req.HeaderText,
		"body_size":  req.BodySize(),
	}
	for _, program := range m.programs {
		matched, err := program.EvalBool(activation)
		if err != nil {
			m.log.Warn("custom rule evaluation failed",
				slog.String("rule", program.Source()), slog.Any("error", err))
			continue
		}
		if matched {
			return pipeline.Block("custom_rule", program.Source(),
				map[string]any{"matched_rule": program.Source()})
		}
	}
	return pipeline.Allow(map[string]any{"custom_rules": "passed"})
}
