package templates

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBannedPageSeedsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banned.html")
	page, err := NewBannedPage(path, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "$IP")
	require.Contains(t, string(raw), "{{REASON}}")

	html, err := page.Render("203.0.113.1", "ip_blocklist", time.Now().Add(time.Minute), true)
	require.NoError(t, err)
	require.Contains(t, html, "203.0.113.1")
	require.Contains(t, html, "ip_blocklist")
	require.NotContains(t, html, "$IP")
	require.NotContains(t, html, "{{REASON}}")
}

func TestBannedPageSubstitutesBothTokenForms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "banned.html")
	custom := "a=$IP b={{IP}} c=$EXPIRY d={{EXPIRY}} e=$REMAIN f={{REMAIN}} g={{REASON}}"
	require.NoError(t, os.WriteFile(path, []byte(custom), 0o644))

	page, err := NewBannedPage(path, nil)
	require.NoError(t, err)

	until := time.Now().Add(90 * time.Second)
	out, err := page.Render("198.51.100.7", "manual", until, true)
	require.NoError(t, err)

	expiry := strconv.FormatInt(until.UnixMilli(), 10)
	require.Contains(t, out, "a=198.51.100.7 b=198.51.100.7")
	require.Contains(t, out, "c="+expiry+" d="+expiry)
	require.Contains(t, out, "g=manual")
	// Remaining seconds land just under 90 depending on clock progress.
	for _, token := range []string{"$REMAIN", "{{REMAIN}}"} {
		require.NotContains(t, out, token)
	}
}

func TestBannedPageUnknownAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banned.html")
	require.NoError(t, os.WriteFile(path, []byte("ip=$IP exp=$EXPIRY rem=$REMAIN why={{REASON}}"), 0o644))

	page, err := NewBannedPage(path, nil)
	require.NoError(t, err)

	out, err := page.Render("203.0.113.9", "", time.Time{}, false)
	require.NoError(t, err)
	require.Equal(t, "ip=203.0.113.9 exp=0 rem=0 why=Unknown", out)
}

func TestBannedPageClampsExpiredRemain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banned.html")
	require.NoError(t, os.WriteFile(path, []byte("rem=$REMAIN"), 0o644))

	page, err := NewBannedPage(path, nil)
	require.NoError(t, err)

	out, err := page.Render("203.0.113.9", "old", time.Now().Add(-time.Hour), true)
	require.NoError(t, err)
	require.Equal(t, "rem=0", out)
}

func TestBannedPageEscapesHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banned.html")
	require.NoError(t, os.WriteFile(path, []byte("ip=$IP why={{REASON}}"), 0o644))

	page, err := NewBannedPage(path, nil)
	require.NoError(t, err)

	out, err := page.Render("<script>alert(1)</script>", "<b>x</b>", time.Now().Add(time.Minute), true)
	require.NoError(t, err)
	require.NotContains(t, out, "<script>")
	require.NotContains(t, out, "<b>")
	require.Contains(t, out, "&lt;script&gt;")
}

func TestBannedPageTemplateExtensionUsesRenderer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "banned.tmpl")
	source := "{{ .IP }} blocked until {{ .Expiry }} ({{ .Reason | upper }})"
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))

	sandbox, err := NewSandbox(dir)
	require.NoError(t, err)
	page, err := NewBannedPage(path, NewRenderer(sandbox))
	require.NoError(t, err)

	until := time.Now().Add(time.Minute)
	out, err := page.Render("203.0.113.2", "manual", until, true)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "203.0.113.2 blocked until "))
	require.Contains(t, out, "MANUAL")
}
