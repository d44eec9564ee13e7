package modules

import (
	"fmt"
	"time"

	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
)

// Response codes that count toward the brute-force window.
var suspiciousStatusCodes = map[int]bool{401: true, 403: true, 429: true}

// AntiHTTPGenericBruteforce watches the response phase for repeated
// authentication failures and rate-limit hits from one address. Window length
// and threshold come from the shared settings.
type AntiHTTPGenericBruteforce struct{}

func NewAntiHTTPGenericBruteforce() *AntiHTTPGenericBruteforce {
	return &AntiHTTPGenericBruteforce{}
}

func (m *AntiHTTPGenericBruteforce) Name() string { return "AntiHTTPGenericBruteforce" }

func (m *AntiHTTPGenericBruteforce) Run(in pipeline.Input) pipeline.Decision {
	if !in.Settings.AntiHTTPGenericBF {
		return pipeline.Allow("module_disabled")
	}
	if !in.ResponsePhase() {
		return pipeline.Allow(pipeline.SkippedRequestPhase)
	}

	status := in.Req.StatusCode
	if !suspiciousStatusCodes[status] {
		return pipeline.Allow(map[string]any{"response_pattern": "normal"})
	}

	window := time.Duration(in.Settings.WindowSeconds) * time.Second
	hits := in.Slot.Observe("response_hits", in.Req.IP, time.Now().UTC(), window)
	if hits > in.Settings.WindowMaxRequests {
		return pipeline.Block(
			fmt.Sprintf("Suspicious response pattern: %d x %d", hits, status),
			"",
			map[string]any{"response_hits": hits, "status_code": status},
		)
	}
	return pipeline.Allow(map[string]any{"response_hits": hits, "status_code": status})
}
