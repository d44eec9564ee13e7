package modules

import (
	"fmt"
	"strings"
	"time"

	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
)

const (
	slowLorisConnectionWindow = 60 * time.Second
	slowLorisSlowWindow       = 300 * time.Second
	maxConcurrentConnections  = 15
	maxSlowRequests           = 5
	slowBodyThreshold         = 10
)

// SlowLorisProtection tracks two per-address sliding windows over
// body-bearing methods: overall request arrivals and requests with
// suspiciously tiny bodies. Exceeding either window blocks.
type SlowLorisProtection struct{}

func NewSlowLorisProtection() *SlowLorisProtection { return &SlowLorisProtection{} }

func (m *SlowLorisProtection) Name() string { return "SlowLorisProtection" }

func (m *SlowLorisProtection) Run(in pipeline.Input) pipeline.Decision {
	if in.ResponsePhase() {
		return pipeline.Allow(pipeline.SkippedResponsePhase)
	}
	method := strings.ToUpper(in.Req.Method)
	if method != "POST" && method != "PUT" && method != "PATCH" {
		return pipeline.Allow("not_applicable")
	}

	now := time.Now().UTC()
	ip := in.Req.IP

	connections := in.Slot.Observe("connection_tracker", ip, now, slowLorisConnectionWindow)
	if connections > maxConcurrentConnections {
		return pipeline.Block(
			fmt.Sprintf("Too many concurrent connections: %d", connections),
			"",
			map[string]any{
				"concurrent_connections": connections,
				"limit":                  maxConcurrentConnections,
			},
		)
	}

	slowCount := in.Slot.Len("slow_requests", ip, now, slowLorisSlowWindow)
	if size := in.Req.BodySize(); size > 0 && size < slowBodyThreshold {
		slowCount = in.Slot.Observe("slow_requests", ip, now, slowLorisSlowWindow)
		if slowCount > maxSlowRequests {
			return pipeline.Block(
				"Slow HTTP attack pattern detected",
				"",
				map[string]any{
					"slow_requests": slowCount,
					"pattern":       "incomplete_post",
				},
			)
		}
	}

	return pipeline.Allow(map[string]any{
		"concurrent_connections": connections,
		"slow_requests":          slowCount,
	})
}
