package modules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
)

func TestSlowLorisIgnoresBodylessMethods(t *testing.T) {
	m := NewSlowLorisProtection()

	d := m.Run(input(descriptor{ip: "203.0.113.9", method: "GET", userAgent: "x", path: b64("/")}))
	require.Equal(t, "not_applicable", d.Result)
}

func TestSlowLorisConnectionFlood(t *testing.T) {
	m := NewSlowLorisProtection()
	slot := pipeline.NewSlot()

	var last pipeline.Decision
	for i := 0; i < maxConcurrentConnections+1; i++ {
		in := input(descriptor{ip: "203.0.113.9", method: "POST", userAgent: "x", path: b64("/form"), body: b64("a=1234567890")})
		in.Slot = slot
		last = m.Run(in)
	}
	require.True(t, last.Blocked())
	require.Contains(t, last.Reason, "Too many concurrent connections")
}

func TestSlowLorisTinyBodies(t *testing.T) {
	m := NewSlowLorisProtection()
	slot := pipeline.NewSlot()

	var last pipeline.Decision
	for i := 0; i < maxSlowRequests+1; i++ {
		in := input(descriptor{ip: "203.0.113.9", method: "POST", userAgent: "x", path: b64("/form"), body: b64("ab")})
		in.Slot = slot
		last = m.Run(in)
	}
	require.True(t, last.Blocked())
	require.Equal(t, "Slow HTTP attack pattern detected", last.Reason)
}

func TestSlowLorisNormalBodiesDoNotCountAsSlow(t *testing.T) {
	m := NewSlowLorisProtection()
	slot := pipeline.NewSlot()

	for i := 0; i < maxSlowRequests+1; i++ {
		in := input(descriptor{
			ip: "203.0.113.9", method: "POST", userAgent: "x",
			path: b64("/form"), body: b64("a reasonable sized body payload"),
		})
		in.Slot = slot
		d := m.Run(in)
		require.False(t, d.Blocked())
	}
}

func TestSlowLorisAddressesAreIndependent(t *testing.T) {
	m := NewSlowLorisProtection()
	slot := pipeline.NewSlot()

	for i := 0; i < maxConcurrentConnections; i++ {
		in := input(descriptor{ip: "203.0.113.9", method: "POST", userAgent: "x", path: b64("/form"), body: b64("payload-data")})
		in.Slot = slot
		m.Run(in)
	}
	in := input(descriptor{ip: "198.51.100.7", method: "POST", userAgent: "x", path: b64("/form"), body: b64("payload-data")})
	in.Slot = slot
	d := m.Run(in)
	require.False(t, d.Blocked())
}

func TestSlowLorisSkipsResponsePhase(t *testing.T) {
	m := NewSlowLorisProtection()

	d := m.Run(input(descriptor{ip: "203.0.113.9", statusCode: 200}))
	require.Equal(t, "skipped_response_phase", d.Result)
}
