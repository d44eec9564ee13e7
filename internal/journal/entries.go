package journal

import "time"

// Alert is one block event attributed to a detection module. Field order
// matches the persisted JSON layout.
type Alert struct {
	Timestamp   string `json:"timestamp"`
	Module      string `json:"module"`
	Action      string `json:"action"`
	Reason      string `json:"reason"`
	IP          string `json:"ip"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	UserAgent   string `json:"user_agent"`
	MatchedRule string `json:"matched_rule"`
	StatusCode  *int   `json:"status_code"`
}

// Traffic is one pipeline verdict, allow or block.
type Traffic struct {
	Timestamp   string `json:"timestamp"`
	IP          string `json:"ip"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	UserAgent   string `json:"user_agent"`
	Action      string `json:"action"`
	Reason      string `json:"reason"`
	StatusCode  *int   `json:"status_code"`
	Module      string `json:"module"`
	MatchedRule string `json:"matched_rule"`
}

// NewAlert stamps a block alert. The path, user agent, and matched rule are
// truncated to keep journal files bounded.
func NewAlert(module, reason, ip, method, path, userAgent, matchedRule string, statusCode *int) Alert {
	return Alert{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Module:      module,
		Action:      "block",
		Reason:      reason,
		IP:          ip,
		Method:      method,
		Path:        truncate(path, 500),
		UserAgent:   truncate(userAgent, 100),
		MatchedRule: truncate(matchedRule, 200),
		StatusCode:  statusCode,
	}
}

// NewTraffic stamps a traffic entry with the decoded path capped at 500 bytes.
func NewTraffic(ip, method, path, userAgent, action, reason, module, matchedRule string, statusCode *int) Traffic {
	return Traffic{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		IP:          ip,
		Method:      method,
		Path:        truncate(path, 500),
		UserAgent:   truncate(userAgent, 200),
		Action:      action,
		Reason:      reason,
		StatusCode:  statusCode,
		Module:      module,
		MatchedRule: truncate(matchedRule, 200),
	}
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
