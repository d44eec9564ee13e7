package normalize

import (
	"encoding/base64"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestDecodeTransport(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "valid base64", in: b64("/admin?id=1"), want: "/admin?id=1"},
		{name: "not base64 falls back to identity", in: "/plain/path", want: "/plain/path"},
		{name: "empty", in: "", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DecodeTransport(tc.in))
		})
	}
}

func TestNewRequestDecodesFields(t *testing.T) {
	req := NewRequest(
		"203.0.113.9",
		"POST",
		"curl/8.0",
		b64(`{"content-type": "application/json"}`),
		b64("/api/login"),
		b64(`{"user":"admin"}`),
		0,
	)

	require.Equal(t, "203.0.113.9", req.IP)
	require.Equal(t, "POST", req.Method)
	require.Equal(t, "/api/login", req.Path)
	require.Equal(t, "Content-Type: application/json", req.HeaderText)
	require.Equal(t, []byte(`{"user":"admin"}`), req.Body)
	require.Equal(t, len(`{"user":"admin"}`), req.BodySize())
	require.Zero(t, req.StatusCode)
}

func TestNewRequestKeepsStatusCode(t *testing.T) {
	req := NewRequest("203.0.113.9", "GET", "ua", "", b64("/"), "", 403)
	require.Equal(t, 403, req.StatusCode)
}

func TestReflowHeader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "titles keys and joins with crlf",
			in:   b64(`{"content-type": "text/html", "x-api-key": "abc"}`),
			want: "Content-Type: text/html\r\nX-Api-Key: abc",
		},
		{
			name: "preserves document order",
			in:   b64(`{"zulu": "1", "alpha": "2"}`),
			want: "Zulu: 1\r\nAlpha: 2",
		},
		{
			name: "renders scalar value types",
			in:   b64(`{"retries": 3, "secure": true, "trace": null}`),
			want: "Retries: 3\r\nSecure: true\r\nTrace: null",
		},
		{
			name: "renders composite values as compact json",
			in:   b64(`{"accept": ["a", "b"]}`),
			want: `Accept: ["a","b"]`,
		},
		{
			name: "upper-cases acronym keys like python title",
			in:   b64(`{"X-API-Key": "v"}`),
			want: "X-Api-Key: v",
		},
		{
			name: "non-object payload stays decoded",
			in:   b64("Host: example.com"),
			want: "Host: example.com",
		},
		{
			name: "truncated json stays decoded",
			in:   b64(`{"content-type": "tex`),
			want: `{"content-type": "tex`,
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ReflowHeader(tc.in))
		})
	}
}

func TestVariants(t *testing.T) {
	got := Variants("%3Cscript%3E")
	require.Equal(t, "%3Cscript%3E", got[0])
	require.Equal(t, "<script>", got[1])

	got = Variants(b64("union select"))
	require.Equal(t, "union select", got[2])

	got = Variants("plain")
	require.Equal(t, [3]string{"plain", "plain", "plain"}, got)
}

func TestCompilePatternLowersRule(t *testing.T) {
	re, err := CompilePattern("UNION\\s+SELECT")
	require.NoError(t, err)
	require.True(t, re.MatchString("union select"))
	require.False(t, re.MatchString("UNION SELECT"))
}

func TestCompilePatternRejectsInvalidRegex(t *testing.T) {
	_, err := CompilePattern("((")
	require.Error(t, err)
}

func TestMatchesPattern(t *testing.T) {
	re, err := CompilePattern("union\\s+select")
	require.NoError(t, err)

	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{name: "direct match ignores case", value: "UNION SELECT * FROM users", want: true},
		{name: "url-encoded payload", value: "union%20select", want: true},
		{name: "base64-encoded payload", value: b64("UNION  SELECT"), want: true},
		{name: "benign value", value: "/healthz", want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, MatchesPattern(re, tc.value))
		})
	}
}

func TestMatchesPatternNilPattern(t *testing.T) {
	var re *regexp.Regexp
	require.False(t, MatchesPattern(re, "anything"))
}
