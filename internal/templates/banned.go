package templates

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// defaultBannedPage seeds a fresh installation. Operators replace the file
// to customise the page; the substitution tokens keep working.
const defaultBannedPage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Access Denied</title>
</head>
<body>
  <h1>Access Denied</h1>
  <p>Your address $IP has been blocked.</p>
  <p>Reason: {{REASON}}</p>
  <p>The block lifts in {{REMAIN}} seconds (expiry epoch: {{EXPIRY}} ms).</p>
</body>
</html>
`

// BannedPage renders the page shown to blocked visitors. The file is read on
// every render so operator edits take effect immediately. Plain pages use
// token substitution; a .tmpl page additionally runs through the sandboxed
// sprig renderer.
type BannedPage struct {
	path     string
	renderer *Renderer
}

// NewBannedPage seeds the page file when missing and returns the renderer
// bound to it.
func NewBannedPage(path string, renderer *Renderer) (*BannedPage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("templates: create dir for %s: %w", path, err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(defaultBannedPage), 0o644); err != nil {
			return nil, fmt.Errorf("templates: seed %s: %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("templates: stat %s: %w", path, err)
	}
	return &BannedPage{path: path, renderer: renderer}, nil
}

// bannedPageData feeds the template path; the fields mirror the tokens.
type bannedPageData struct {
	IP     string
	Reason string
	Expiry int64
	Remain int64
}

// Render substitutes the ban details into the page. The address and reason
// are HTML-escaped, the expiry is milliseconds since epoch, and the
// remaining seconds are clamped at zero. found=false renders the page for an
// address with no ban entry.
func (b *BannedPage) Render(ip, reason string, until time.Time, found bool) (string, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		return "", fmt.Errorf("templates: read banned page %s: %w", b.path, err)
	}

	var expiry, remain int64
	escapedReason := "Unknown"
	if found {
		expiry = until.UnixMilli()
		remain = int64(time.Until(until).Seconds())
		if remain < 0 {
			remain = 0
		}
		if reason != "" {
			escapedReason = html.EscapeString(reason)
		}
	}
	escapedIP := html.EscapeString(ip)

	content := string(raw)
	content = strings.ReplaceAll(content, "$IP", escapedIP)
	content = strings.ReplaceAll(content, "{{IP}}", escapedIP)
	content = strings.ReplaceAll(content, "$EXPIRY", strconv.FormatInt(expiry, 10))
	content = strings.ReplaceAll(content, "{{EXPIRY}}", strconv.FormatInt(expiry, 10))
	content = strings.ReplaceAll(content, "$REMAIN", strconv.FormatInt(remain, 10))
	content = strings.ReplaceAll(content, "{{REMAIN}}", strconv.FormatInt(remain, 10))
	content = strings.ReplaceAll(content, "{{REASON}}", escapedReason)

	if filepath.Ext(b.path) != ".tmpl" || b.renderer == nil {
		return content, nil
	}
	tmpl, err := b.renderer.CompileInline(filepath.Base(b.path), content)
	if err != nil {
		return "", err
	}
	if tmpl == nil {
		return content, nil
	}
	return tmpl.Render(bannedPageData{IP: escapedIP, Reason: escapedReason, Expiry: expiry, Remain: remain})
}
