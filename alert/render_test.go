package alert

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/velzox/apimon/core"
)

func TestTitlePrefixes(t *testing.T) {
	tests := []struct {
		kind core.AlertKind
		want string
	}{
		{core.AlertEndpointDown, "🔴 API Down: checkout"},
		{core.AlertEndpointRecovered, "✅ Recovered: checkout"},
		{core.AlertAuthFailure, "🔐 Auth Failed: checkout"},
		{core.AlertTimeout, "⏱️ Timeout: checkout"},
		{core.AlertSSLError, "🔒 SSL Error: checkout"},
		{core.AlertLatencyBreach, "🐢 Slow Response: checkout"},
		{core.AlertConnectionError, "🔌 Connection Failed: checkout"},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.want, Title(tc.kind, "checkout"))
		})
	}
}

func TestTitleTruncatesByCharacters(t *testing.T) {
	long := strings.Repeat("я", 300)
	title := Title(core.AlertEndpointDown, long)
	assert.Equal(t, 120, len([]rune(title)))
	assert.True(t, strings.HasPrefix(title, "🔴 API Down: "))
}

func TestFailureMessage(t *testing.T) {
	e := &core.Endpoint{Name: "orders-api", URL: "https://api.example.com/health"}
	r := core.NewFailureResult(1, core.ResultTimeout, 0, 10, "request timed out after 5000 ms")

	msg := FailureMessage(e, &r, 4)
	assert.Equal(t, "orders-api (https://api.example.com/health) has failed 4 consecutive checks. Last error: request timed out after 5000 ms", msg)
}

func TestRecoveryMessageDurations(t *testing.T) {
	e := &core.Endpoint{Name: "orders-api", URL: "https://api.example.com/health"}
	r := core.NewSuccessResult(1, 200, 42)

	tests := []struct {
		down time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m30s"},
		{150 * time.Minute, "2h30m"},
	}
	for _, tc := range tests {
		msg := RecoveryMessage(e, &r, tc.down)
		assert.Contains(t, msg, "after being down for "+tc.want)
		assert.Contains(t, msg, "(42 ms)")
	}
}
