package modules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBotDetectionEmptyUserAgent(t *testing.T) {
	m := NewBotDetection()

	d := m.Run(input(descriptor{ip: "203.0.113.9", method: "GET", path: b64("/")}))
	require.True(t, d.Blocked())
	require.Equal(t, "Missing User-Agent (possible bot)", d.Reason)
	require.Equal(t, "empty_user_agent", d.MatchedRule)
}

func TestBotDetectionMaliciousScanner(t *testing.T) {
	m := NewBotDetection()

	for _, ua := range []string{"sqlmap/1.7.2#stable", "Nikto/2.5.0", "nuclei - fast scanner"} {
		d := m.Run(input(descriptor{ip: "203.0.113.9", method: "GET", userAgent: ua, path: b64("/")}))
		require.True(t, d.Blocked(), ua)
		require.Equal(t, "Malicious bot/scanner detected", d.Reason, ua)
	}
}

func TestBotDetectionSuspiciousKeyword(t *testing.T) {
	m := NewBotDetection()

	d := m.Run(input(descriptor{ip: "203.0.113.9", method: "GET", userAgent: "super exploit kit", path: b64("/")}))
	require.True(t, d.Blocked())
	require.Equal(t, "Suspicious bot pattern detected", d.Reason)
}

func TestBotDetectionScannerSignature(t *testing.T) {
	m := NewBotDetection()

	for _, ua := range []string{"-", "Mozilla/4.0", "Java/17.0.1", "Go-http-client/2.0"} {
		d := m.Run(input(descriptor{ip: "203.0.113.9", method: "GET", userAgent: ua, path: b64("/")}))
		require.True(t, d.Blocked(), ua)
		require.Equal(t, "Scanner signature detected", d.Reason, ua)
	}

	// Anchored signatures must not fire on browser strings that merely
	// contain the prefix.
	d := m.Run(input(descriptor{
		ip: "203.0.113.9", method: "GET",
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", path: b64("/"),
	}))
	require.False(t, d.Blocked())
}

func TestBotDetectionFirstCategoryWins(t *testing.T) {
	m := NewBotDetection()

	// "sqlmap hack" matches both the malicious and suspicious lists; the
	// malicious category is reported because it is checked first.
	d := m.Run(input(descriptor{ip: "203.0.113.9", method: "GET", userAgent: "sqlmap hack", path: b64("/")}))
	require.True(t, d.Blocked())
	require.Equal(t, "Malicious bot/scanner detected", d.Reason)
}

func TestBotDetectionSkipsResponsePhase(t *testing.T) {
	m := NewBotDetection()

	d := m.Run(input(descriptor{ip: "203.0.113.9", statusCode: 403}))
	require.False(t, d.Blocked())
	require.Equal(t, "skipped_response_phase", d.Result)
}
