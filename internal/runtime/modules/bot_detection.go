package modules

import (
	"regexp"
	"strings"

	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
)

// The three embedded user-agent pattern categories, checked in order against
// the lower-cased user agent. Scanner signatures are anchored; the other two
// lists match anywhere in the string.
var (
	maliciousBotPatterns = compileAll([]string{
		`sqlmap`, `nikto`, `nmap`, `masscan`, `nessus`,
		`acunetix`, `metasploit`, `burpsuite`, `w3af`,
		`dirbuster`, `gobuster`, `wfuzz`, `commix`,
		`havij`, `pangolin`, `jsql`, `sqlninja`,
		`grabber`, `paros`, `webscarab`, `vega`,
		`httrack`, `wget`, `curl.*bot`, `python-requests`,
		`zgrab`, `shodan`, `censys`,
		`nuclei`, `subfinder`, `amass`, `ffuf`,
	})

	suspiciousBotPatterns = compileAll([]string{
		`bot.*scan`, `exploit`, `hack`, `inject`,
		`attack`, `vulnerability`, `penetration`,
	})

	scannerSignaturePatterns = compileAll([]string{
		`^-$`,
		`^mozilla/4\.0$`,
		`^java/`,
		`^libwww-perl`,
		`^python-`,
		`^go-http-client`,
	})
)

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// BotDetection blocks requests whose user agent identifies an attack tool or
// looks like a headless scanner. An absent user agent blocks outright.
type BotDetection struct{}

func NewBotDetection() *BotDetection { return &BotDetection{} }

func (m *BotDetection) Name() string { return "BotDetection" }

func (m *BotDetection) Run(in pipeline.Input) pipeline.Decision {
	if in.ResponsePhase() {
		return pipeline.Allow(pipeline.SkippedResponsePhase)
	}
	ua := in.Req.UserAgent
	if ua == "" {
		return pipeline.Block("Missing User-Agent (possible bot)", "empty_user_agent",
			map[string]any{"matched_rule": "empty_user_agent"})
	}

	if rule, ok := firstMatch(maliciousBotPatterns, ua); ok {
		return pipeline.Block("Malicious bot/scanner detected", rule,
			map[string]any{"matched_rule": rule, "user_agent": clip(ua, 100)})
	}
	if rule, ok := firstMatch(suspiciousBotPatterns, ua); ok {
		return pipeline.Block("Suspicious bot pattern detected", rule,
			map[string]any{"matched_rule": rule, "user_agent": clip(ua, 100)})
	}
	if rule, ok := firstMatch(scannerSignaturePatterns, ua); ok {
		return pipeline.Block("Scanner signature detected", rule,
			map[string]any{"matched_rule": rule, "user_agent": clip(ua, 100)})
	}
	return pipeline.Allow(map[string]any{"user_agent_check": "passed"})
}

func firstMatch(patterns []*regexp.Regexp, value string) (string, bool) {
	for _, re := range patterns {
		if re.MatchString(value) {
			return patternSource(re), true
		}
	}
	return "", false
}

// patternSource strips the case-folding flag so alerts report the pattern as
// it appears in the embedded lists.
func patternSource(re *regexp.Regexp) string {
	return strings.TrimPrefix(re.String(), `(?i)`)
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
