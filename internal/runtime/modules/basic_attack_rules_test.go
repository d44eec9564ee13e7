package modules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/incrustwerush/rwaf/internal/rules"
)

func loadedStore(t *testing.T) *rules.Store {
	t.Helper()
	store := rules.NewStore(t.TempDir()+"/rules", quietLogger())
	require.NoError(t, store.Load())
	return store
}

func TestBasicAttackRulesIPBlocklist(t *testing.T) {
	m := NewBasicAttackRules(loadedStore(t))

	d := m.Run(input(descriptor{ip: "192.168.1.100", method: "GET", userAgent: "Mozilla/5.0", path: b64("/")}))
	require.True(t, d.Blocked())
	require.Equal(t, "ip_blocklist", d.Reason)
	require.Equal(t, "192.168.1.100", d.MatchedRule)

	d = m.Run(input(descriptor{ip: "203.0.113.9", method: "GET", userAgent: "Mozilla/5.0", path: b64("/")}))
	require.False(t, d.Blocked())
}

func TestBasicAttackRulesUserAgentSubstring(t *testing.T) {
	m := NewBasicAttackRules(loadedStore(t))

	d := m.Run(input(descriptor{ip: "203.0.113.9", method: "GET", userAgent: "SQLMap/1.7", path: b64("/")}))
	require.True(t, d.Blocked())
	require.Equal(t, "bad_user_agent", d.Reason)
	require.Equal(t, "sqlmap", d.MatchedRule)
}

func TestBasicAttackRulesPathPattern(t *testing.T) {
	m := NewBasicAttackRules(loadedStore(t))

	d := m.Run(input(descriptor{
		ip: "203.0.113.9", method: "GET", userAgent: "Mozilla/5.0",
		path: b64("/search?q=' UNION SELECT 1--"),
	}))
	require.True(t, d.Blocked())
	require.Equal(t, "paths_blocked", d.Reason)
}

func TestBasicAttackRulesDecodingVariants(t *testing.T) {
	m := NewBasicAttackRules(loadedStore(t))

	// URL-encoded exploit must still match through the decoded variant.
	d := m.Run(input(descriptor{
		ip: "203.0.113.9", method: "GET", userAgent: "Mozilla/5.0",
		path: b64("/search?q=%27%20UNION%20SELECT%201--"),
	}))
	require.True(t, d.Blocked())
	require.Equal(t, "paths_blocked", d.Reason)
}

func TestBasicAttackRulesHeaderPattern(t *testing.T) {
	m := NewBasicAttackRules(loadedStore(t))

	d := m.Run(input(descriptor{
		ip: "203.0.113.9", method: "GET", userAgent: "Mozilla/5.0",
		header: headerB64(t, map[string]string{"X-Payload": "<?php system('id');"}),
		path:   b64("/"),
	}))
	require.True(t, d.Blocked())
	require.Equal(t, "headers_blocked", d.Reason)
}

func TestBasicAttackRulesBodyToggle(t *testing.T) {
	m := NewBasicAttackRules(loadedStore(t))

	in := input(descriptor{
		ip: "203.0.113.9", method: "POST", userAgent: "Mozilla/5.0",
		path: b64("/submit"), body: b64("x=1 UNION SELECT password FROM users"),
	})
	d := m.Run(in)
	require.True(t, d.Blocked())
	require.Equal(t, "body_blocked", d.Reason)

	in.Settings.EnableRequestBodyCheck = false
	d = m.Run(in)
	require.False(t, d.Blocked())
}

func TestBasicAttackRulesSkipsResponsePhase(t *testing.T) {
	m := NewBasicAttackRules(loadedStore(t))

	d := m.Run(input(descriptor{ip: "192.168.1.100", statusCode: 401}))
	require.False(t, d.Blocked())
	require.Equal(t, "skipped_response_phase", d.Result)
}
