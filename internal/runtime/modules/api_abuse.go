package modules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
)

const (
	maxAPIPayloadSize = 1 << 20
	maxAPIArrayLength = 1000
	maxAPIJSONDepth   = 10
)

var apiInjectionPatterns = compileAll([]string{
	`<script`, `javascript:`, `onerror=`, `onload=`,
	`\$\(`, `eval\(`, `function\s*\(`,
})

// Prototype-pollution and NoSQL operator tokens checked against the raw
// decoded path.
var suspiciousAPIParams = []string{"__proto__", "constructor", "prototype", "$where", "$ne"}

// APIAbuseDetection validates JSON API traffic: content type, payload size,
// structural limits, and injection patterns inside the payload, plus operator
// tokens in the path.
type APIAbuseDetection struct{}

func NewAPIAbuseDetection() *APIAbuseDetection { return &APIAbuseDetection{} }

func (m *APIAbuseDetection) Name() string { return "APIAbuseDetection" }

func (m *APIAbuseDetection) Run(in pipeline.Input) pipeline.Decision {
	if in.ResponsePhase() {
		return pipeline.Allow(pipeline.SkippedResponsePhase)
	}
	req := in.Req
	loweredPath := strings.ToLower(req.Path)
	if !strings.Contains(loweredPath, "/api") && !strings.HasSuffix(loweredPath, ".json") {
		return pipeline.Allow("not_api_endpoint")
	}

	method := strings.ToUpper(req.Method)
	if method == "POST" || method == "PUT" || method == "PATCH" {
		if d, blocked := m.checkPayload(in); blocked {
			return d
		}
	}

	for _, param := range suspiciousAPIParams {
		if strings.Contains(req.Path, param) {
			return pipeline.Block(
				fmt.Sprintf("Suspicious API parameter detected: %s", param),
				param,
				map[string]any{"parameter": param},
			)
		}
	}
	return pipeline.Allow(map[string]any{"validation": "passed"})
}

func (m *APIAbuseDetection) checkPayload(in pipeline.Input) (pipeline.Decision, bool) {
	req := in.Req
	if !strings.Contains(strings.ToLower(req.HeaderText), "application/json") {
		return pipeline.Block("Invalid Content-Type for API endpoint", "",
			map[string]any{"expected": "application/json"}), true
	}
	if !in.Settings.EnableRequestBodyCheck {
		return pipeline.Decision{}, false
	}
	if len(req.Body) > maxAPIPayloadSize {
		return pipeline.Block(
			fmt.Sprintf("API payload too large: %d bytes", len(req.Body)),
			"",
			map[string]any{"size": len(req.Body), "limit": maxAPIPayloadSize},
		), true
	}
	if len(req.Body) == 0 {
		return pipeline.Decision{}, false
	}

	var payload any
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return pipeline.Block("Malformed JSON payload", "",
			map[string]any{"error": clip(err.Error(), 100)}), true
	}
	if depth := jsonDepth(payload, 0); depth > maxAPIJSONDepth {
		return pipeline.Block(
			fmt.Sprintf("JSON too deeply nested: %d levels", depth),
			"",
			map[string]any{"depth": depth, "limit": maxAPIJSONDepth},
		), true
	}
	if arr, ok := payload.([]any); ok && len(arr) > maxAPIArrayLength {
		return pipeline.Block(
			fmt.Sprintf("JSON array too large: %d elements", len(arr)),
			"",
			map[string]any{"array_size": len(arr), "limit": maxAPIArrayLength},
		), true
	}

	canonical, err := json.Marshal(payload)
	if err != nil {
		return pipeline.Decision{}, false
	}
	if rule, ok := firstMatchBytes(apiInjectionPatterns, canonical); ok {
		return pipeline.Block("Code injection detected in JSON payload", rule,
			map[string]any{"matched_pattern": rule}), true
	}
	return pipeline.Decision{}, false
}

// jsonDepth measures nesting, capping the walk one level past the limit so
// hostile payloads cannot force a full deep traversal.
func jsonDepth(v any, depth int) int {
	if depth > maxAPIJSONDepth {
		return depth
	}
	max := depth
	switch val := v.(type) {
	case map[string]any:
		for _, child := range val {
			if d := jsonDepth(child, depth+1); d > max {
				max = d
			}
		}
	case []any:
		for _, child := range val {
			if d := jsonDepth(child, depth+1); d > max {
				max = d
			}
		}
	}
	return max
}

func firstMatchBytes(patterns []*regexp.Regexp, value []byte) (string, bool) {
	for _, re := range patterns {
		if re.Match(value) {
			return patternSource(re), true
		}
	}
	return "", false
}
