// Package normalize unwraps the transport encoding of check descriptors and
// provides the decoding-invariant pattern matching used by the detection
// modules. Every path, header, and body field arrives base64-encoded; headers
// additionally decode to a JSON object that is reflowed into canonical
// "Title-Case-Key: value" CRLF lines before matching.
package normalize

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Request carries both the transport-encoded fields (which key the decision
// cache) and their decoded forms (which the modules evaluate). Construction is
// deterministic: identical inputs always produce identical Requests.
type Request struct {
	IP        string
	Method    string
	UserAgent string

	RawHeader string
	RawPath   string
	RawBody   string

	Path       string
	HeaderText string
	Body       []byte

	// StatusCode is set only for response-phase descriptors.
	StatusCode int
}

// NewRequest decodes the transport-encoded fields of a descriptor. Undecodable
// base64 falls back to the identity so opaque inputs are still matchable.
func NewRequest(ip, method, userAgent, header, path, body string, statusCode int) *Request {
	return &Request{
		IP:         ip,
		Method:     method,
		UserAgent:  userAgent,
		RawHeader:  header,
		RawPath:    path,
		RawBody:    body,
		Path:       DecodeTransport(path),
		HeaderText: ReflowHeader(header),
		Body:       decodeTransportBytes(body),
		StatusCode: statusCode,
	}
}

// BodySize returns the decoded body length in bytes.
func (r *Request) BodySize() int { return len(r.Body) }

// DecodeTransport interprets s as standard base64 and returns the decoded
// string, or s unchanged when it is not valid base64.
func DecodeTransport(s string) string {
	if s == "" {
		return s
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	return string(b)
}

func decodeTransportBytes(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return []byte(s)
	}
	return b
}

// ReflowHeader decodes the transport-encoded header field and, when it parses
// as a JSON object, rewrites it into "Title-Case-Key: value" lines joined by
// CRLF. Key order follows the JSON document so the output is deterministic.
// Anything that does not parse as a JSON object is returned decoded as-is.
func ReflowHeader(header string) string {
	decoded := DecodeTransport(header)
	trimmed := strings.TrimSpace(decoded)
	if !strings.HasPrefix(trimmed, "{") {
		return decoded
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return decoded
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return decoded
	}

	var lines []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return decoded
		}
		key, ok := keyTok.(string)
		if !ok {
			return decoded
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return decoded
		}
		lines = append(lines, titleCase(key)+": "+valueString(value))
	}
	return strings.Join(lines, "\r\n")
}

// titleCase upper-cases every letter that follows a non-letter and folds the
// rest to lowercase, so "content-type" becomes "Content-Type" and "X-API-Key"
// becomes "X-Api-Key".
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		isLetter := unicode.IsLetter(r)
		switch {
		case isLetter && !prevLetter:
			b.WriteRune(unicode.ToUpper(r))
		case isLetter:
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
		prevLetter = isLetter
	}
	return b.String()
}

func valueString(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// Variants returns the three candidate decodings a rule is matched against:
// the string itself, its URL-form-decoded variant, and its strict-base64
// decoding (or the original when the string is not valid base64).
func Variants(s string) [3]string {
	urlDecoded := s
	if u, err := url.QueryUnescape(s); err == nil {
		urlDecoded = u
	}
	b64 := s
	if s != "" {
		if b, err := base64.StdEncoding.DecodeString(s); err == nil {
			b64 = string(b)
		}
	}
	return [3]string{s, urlDecoded, b64}
}

// CompilePattern compiles a rule string for case-insensitive matching. The
// pattern is folded to lowercase and matched against lowercased candidates.
func CompilePattern(rule string) (*regexp.Regexp, error) {
	return regexp.Compile(strings.ToLower(rule))
}

// MatchesPattern reports whether any decoding variant of value matches the
// compiled rule pattern.
func MatchesPattern(re *regexp.Regexp, value string) bool {
	if re == nil {
		return false
	}
	for _, v := range Variants(value) {
		if re.MatchString(strings.ToLower(v)) {
			return true
		}
	}
	return false
}
