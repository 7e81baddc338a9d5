// Package store persists the monitoring core's state: endpoints, credentials,
// check results, incidents, and alerts.
//
// Purpose:
// - Supplies the "due now" query driving the scheduler
// - Owns every write to endpoint runtime fields after admission
// - Provides the transactional incident primitives the incident engine needs
// - Serves aggregate statistics for the admin API, optionally through a
//   Redis-backed cache
//
// The production implementation is PostgreSQL (pgx driver, sqlx mapping) with
// embedded goose migrations. The schema enforces the single-open-incident
// invariant with a partial unique index, so the store stays correct even if a
// second writer ever appears.
package store

import (
	"context"
	"time"

	"github.com/velzox/apimon/core"
)

// HourlyStat is one bucket of the hourly check rollup used by dashboards.
type HourlyStat struct {
	Hour         time.Time `db:"hour" json:"hour"`
	TotalChecks  int64     `db:"total_checks" json:"total_checks"`
	SuccessCount int64     `db:"success_count" json:"success_count"`
	AvgLatencyMs float64   `db:"avg_latency_ms" json:"avg_latency_ms"`
}

// EndpointStats bundles the dashboard aggregates for one endpoint.
type EndpointStats struct {
	UptimePct       float64                   `json:"uptime_pct"`
	AvgLatencyMs    float64                   `json:"avg_latency_ms"`
	Breakdown       map[core.ResultKind]int64 `json:"failure_breakdown"`
	DowntimeMinutes int64                     `json:"downtime_minutes"`
	LastFailureAt   *time.Time                `json:"last_failure_at,omitempty"`
}

// Store is the persistence boundary of the monitoring core. All methods are
// safe for concurrent use. Implementations translate backend failures into
// errors wrapping core.ErrStoreUnavailable so callers can treat them as
// transient.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, name string, plan core.Plan) (int64, error)
	ProjectPlan(ctx context.Context, projectID int64) (core.Plan, error)

	// Endpoints (configuration provider surface)
	CreateEndpoint(ctx context.Context, e *core.Endpoint) error
	UpdateEndpoint(ctx context.Context, e *core.Endpoint) error
	DeleteEndpoint(ctx context.Context, id int64) error
	SetEndpointEnabled(ctx context.Context, id int64, enabled bool) error
	GetEndpoint(ctx context.Context, id int64) (*core.Endpoint, error)
	ListEndpoints(ctx context.Context, projectID int64) ([]core.Endpoint, error)

	// Endpoints (scheduler / incident engine surface)
	DueEndpoints(ctx context.Context, now time.Time) ([]core.Endpoint, error)
	UpdateEndpointCheckStatus(ctx context.Context, id int64, status core.EndpointStatus,
		lastCheckAt, nextCheckAt time.Time, consecutiveFailures int) error

	// Credentials
	CreateCredential(ctx context.Context, c *core.Credential) error
	GetCredential(ctx context.Context, id int64) (*core.Credential, error)
	ListCredentials(ctx context.Context, projectID int64) ([]core.Credential, error)
	DeleteCredential(ctx context.Context, id int64) error
	CredentialInUse(ctx context.Context, id int64) (bool, error)

	// Check results
	AppendCheckResult(ctx context.Context, r *core.CheckResult) error
	LatestResult(ctx context.Context, endpointID int64) (*core.CheckResult, error)
	ListResults(ctx context.Context, endpointID int64, limit int) ([]core.CheckResult, error)
	UptimePct(ctx context.Context, endpointID int64, since time.Time) (float64, error)
	AvgLatency(ctx context.Context, endpointID int64, since time.Time) (float64, error)
	FailureBreakdown(ctx context.Context, endpointID int64, since time.Time) (map[core.ResultKind]int64, error)
	HourlyStats(ctx context.Context, endpointID int64, since time.Time) ([]HourlyStat, error)
	DowntimeMinutes(ctx context.Context, endpointID int64, since time.Time) (int64, error)
	LastFailureAt(ctx context.Context, endpointID int64) (*time.Time, error)

	// Incidents
	FindOpenIncident(ctx context.Context, endpointID int64) (*core.Incident, error)
	OpenIncident(ctx context.Context, endpointID int64, kind core.ResultKind, errorMessage string) (*core.Incident, error)
	IncrementIncidentFailures(ctx context.Context, incidentID int64, errorMessage string) error
	ResolveOpenIncident(ctx context.Context, endpointID int64, now time.Time) (bool, error)
	AcknowledgeIncident(ctx context.Context, incidentID int64) error
	ListIncidents(ctx context.Context, endpointID int64, limit int) ([]core.Incident, error)

	// Alerts
	CreateAlert(ctx context.Context, a *core.Alert) error
	MarkAlertDelivery(ctx context.Context, alertID int64, delivered bool, deliveryError string) error
	RecentAlertExists(ctx context.Context, endpointID int64, kind core.AlertKind, since time.Time) (bool, error)
	ListAlerts(ctx context.Context, endpointID int64, limit int) ([]core.Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID int64, now time.Time) error
	AcknowledgeAllForEndpoint(ctx context.Context, endpointID int64, now time.Time) (int64, error)

	// Retention
	DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteResultsForPlanBefore(ctx context.Context, plan core.Plan, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
