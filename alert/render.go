// Package alert turns incident lifecycle events into delivered notifications.
//
// The engine applies two gates to failure events (a consecutive-failure
// threshold and a per-endpoint, per-kind dedup window), persists every alert
// before attempting delivery, and fans deliveries out to channel sinks
// through a bounded worker pool. Recovery events bypass both gates.
package alert

import (
	"fmt"
	"time"

	"github.com/velzox/apimon/core"
)

const maxTitleChars = 120

var titlePrefixes = map[core.AlertKind]string{
	core.AlertEndpointDown:      "🔴 API Down",
	core.AlertEndpointRecovered: "✅ Recovered",
	core.AlertAuthFailure:       "🔐 Auth Failed",
	core.AlertTimeout:           "⏱️ Timeout",
	core.AlertSSLError:          "🔒 SSL Error",
	core.AlertLatencyBreach:     "🐢 Slow Response",
	core.AlertConnectionError:   "🔌 Connection Failed",
}

// Title renders the notification headline, capped at 120 characters.
func Title(kind core.AlertKind, endpointName string) string {
	prefix, ok := titlePrefixes[kind]
	if !ok {
		prefix = "🔴 API Down"
	}
	return truncateChars(fmt.Sprintf("%s: %s", prefix, endpointName), maxTitleChars)
}

// FailureMessage renders the notification body for a failure alert.
func FailureMessage(e *core.Endpoint, r *core.CheckResult, streak int) string {
	return fmt.Sprintf("%s (%s) has failed %d consecutive checks. Last error: %s",
		e.Name, e.URL, streak, r.ErrorMessage)
}

// RecoveryMessage renders the notification body for a recovery alert.
func RecoveryMessage(e *core.Endpoint, r *core.CheckResult, downFor time.Duration) string {
	return fmt.Sprintf("%s (%s) is responding again (%d ms) after being down for %s.",
		e.Name, e.URL, r.LatencyMs, formatDuration(downFor))
}

// truncateChars caps s at n characters, not bytes, so multi-byte emoji and
// endpoint names survive intact.
func truncateChars(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
