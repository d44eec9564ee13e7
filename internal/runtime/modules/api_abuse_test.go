package modules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func jsonAPIHeader(t *testing.T) string {
	t.Helper()
	return headerB64(t, map[string]string{"Content-Type": "application/json"})
}

func TestAPIAbuseIgnoresNonAPIPaths(t *testing.T) {
	m := NewAPIAbuseDetection()

	d := m.Run(input(descriptor{ip: "203.0.113.9", method: "POST", userAgent: "x", path: b64("/login"), body: b64("not json")}))
	require.False(t, d.Blocked())
	require.Equal(t, "not_api_endpoint", d.Result)
}

func TestAPIAbuseContentType(t *testing.T) {
	m := NewAPIAbuseDetection()

	d := m.Run(input(descriptor{
		ip: "203.0.113.9", method: "POST", userAgent: "x",
		header: headerB64(t, map[string]string{"Content-Type": "text/plain"}),
		path:   b64("/api/users"), body: b64(`{}`),
	}))
	require.True(t, d.Blocked())
	require.Equal(t, "Invalid Content-Type for API endpoint", d.Reason)
}

func TestAPIAbuseOversizedPayload(t *testing.T) {
	m := NewAPIAbuseDetection()

	big := `["` + strings.Repeat("a", maxAPIPayloadSize+16) + `"]`
	d := m.Run(input(descriptor{
		ip: "203.0.113.9", method: "POST", userAgent: "x",
		header: jsonAPIHeader(t), path: b64("/api/users"), body: b64(big),
	}))
	require.True(t, d.Blocked())
	require.Contains(t, d.Reason, "API payload too large")
}

func TestAPIAbuseMalformedJSON(t *testing.T) {
	m := NewAPIAbuseDetection()

	d := m.Run(input(descriptor{
		ip: "203.0.113.9", method: "POST", userAgent: "x",
		header: jsonAPIHeader(t), path: b64("/api/users"), body: b64(`{"broken":`),
	}))
	require.True(t, d.Blocked())
	require.Equal(t, "Malformed JSON payload", d.Reason)
}

func TestAPIAbuseNestingDepth(t *testing.T) {
	m := NewAPIAbuseDetection()

	deep := strings.Repeat(`{"a":`, 12) + `1` + strings.Repeat(`}`, 12)
	d := m.Run(input(descriptor{
		ip: "203.0.113.9", method: "POST", userAgent: "x",
		header: jsonAPIHeader(t), path: b64("/api/users"), body: b64(deep),
	}))
	require.True(t, d.Blocked())
	require.Contains(t, d.Reason, "JSON too deeply nested")

	shallow := `{"a":{"b":{"c":1}}}`
	d = m.Run(input(descriptor{
		ip: "203.0.113.9", method: "POST", userAgent: "x",
		header: jsonAPIHeader(t), path: b64("/api/users"), body: b64(shallow),
	}))
	require.False(t, d.Blocked())
}

func TestAPIAbuseArrayLength(t *testing.T) {
	m := NewAPIAbuseDetection()

	huge := "[" + strings.Repeat("1,", maxAPIArrayLength) + "1]"
	d := m.Run(input(descriptor{
		ip: "203.0.113.9", method: "POST", userAgent: "x",
		header: jsonAPIHeader(t), path: b64("/api/users"), body: b64(huge),
	}))
	require.True(t, d.Blocked())
	require.Contains(t, d.Reason, "JSON array too large")
}

func TestAPIAbuseInjectionInPayload(t *testing.T) {
	m := NewAPIAbuseDetection()

	d := m.Run(input(descriptor{
		ip: "203.0.113.9", method: "POST", userAgent: "x",
		header: jsonAPIHeader(t), path: b64("/api/users"),
		body: b64(`{"bio":"<script>alert(1)</script>"}`),
	}))
	require.True(t, d.Blocked())
	require.Equal(t, "Code injection detected in JSON payload", d.Reason)
}

func TestAPIAbusePathTokens(t *testing.T) {
	m := NewAPIAbuseDetection()

	d := m.Run(input(descriptor{
		ip: "203.0.113.9", method: "GET", userAgent: "x",
		path: b64("/api/users?__proto__[admin]=1"),
	}))
	require.True(t, d.Blocked())
	require.Contains(t, d.Reason, "__proto__")

	// Path tokens are checked even when body inspection is disabled.
	in := input(descriptor{
		ip: "203.0.113.9", method: "POST", userAgent: "x",
		header: jsonAPIHeader(t), path: b64("/api/items?filter[$ne]=1"), body: b64(`{"broken":`),
	})
	in.Settings.EnableRequestBodyCheck = false
	d = m.Run(in)
	require.True(t, d.Blocked())
	require.Contains(t, d.Reason, "$ne")
}

func TestAPIAbuseGetRequestsSkipPayloadChecks(t *testing.T) {
	m := NewAPIAbuseDetection()

	d := m.Run(input(descriptor{
		ip: "203.0.113.9", method: "GET", userAgent: "x", path: b64("/api/users"),
	}))
	require.False(t, d.Blocked())
}

func TestAPIAbuseSkipsResponsePhase(t *testing.T) {
	m := NewAPIAbuseDetection()

	d := m.Run(input(descriptor{ip: "203.0.113.9", statusCode: 401}))
	require.False(t, d.Blocked())
	require.Equal(t, "skipped_response_phase", d.Result)
}
