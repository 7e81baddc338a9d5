package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/velzox/apimon/core"
)

// Postgres implements Store on PostgreSQL via the pgx driver and sqlx.
type Postgres struct {
	db     *sqlx.DB
	logger core.Logger
}

// PostgresOptions configures the Postgres store.
type PostgresOptions struct {
	Config core.DatabaseConfig
	Logger core.Logger
}

// NewPostgres connects to PostgreSQL, optionally runs embedded migrations,
// and verifies the connection. A handshake failure here is fatal to startup.
func NewPostgres(ctx context.Context, opts PostgresOptions) (*Postgres, error) {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}

	db, err := sqlx.Open("pgx", opts.Config.URL)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(opts.Config.MaxOpenConns)
	db.SetMaxIdleConns(opts.Config.MaxIdleConns)
	db.SetConnMaxLifetime(opts.Config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: database handshake: %w", err)
	}

	if opts.Config.Migrate {
		if err := Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	opts.Logger.Info("State store connected", map[string]interface{}{
		"max_open_conns": opts.Config.MaxOpenConns,
		"migrated":       opts.Config.Migrate,
	})
	return &Postgres{db: db, logger: opts.Logger}, nil
}

// NewPostgresFromDB wraps an existing connection. Used by tests.
func NewPostgresFromDB(db *sql.DB, driverName string, logger core.Logger) *Postgres {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Postgres{db: sqlx.NewDb(db, driverName), logger: logger}
}

func storeErr(op string, err error) error {
	return &core.MonitorError{
		Op:   op,
		Kind: "store",
		Err:  fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err),
	}
}

// Projects

func (p *Postgres) CreateProject(ctx context.Context, name string, plan core.Plan) (int64, error) {
	var id int64
	err := p.db.GetContext(ctx, &id,
		`INSERT INTO projects (name, plan) VALUES ($1, $2) RETURNING id`, name, plan)
	if err != nil {
		return 0, storeErr("store.CreateProject", err)
	}
	return id, nil
}

func (p *Postgres) ProjectPlan(ctx context.Context, projectID int64) (core.Plan, error) {
	var plan core.Plan
	err := p.db.GetContext(ctx, &plan, `SELECT plan FROM projects WHERE id = $1`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrEndpointNotFound
	}
	if err != nil {
		return "", storeErr("store.ProjectPlan", err)
	}
	return plan, nil
}

// Endpoints

const endpointColumns = `id, project_id, name, url, method, headers, request_body,
	expected_status, interval_sec, timeout_ms, max_latency_ms, credential_id,
	enabled, status, last_check_at, next_check_at, consecutive_failures,
	created_at, updated_at`

func (p *Postgres) CreateEndpoint(ctx context.Context, e *core.Endpoint) error {
	query := `INSERT INTO endpoints
		(project_id, name, url, method, headers, request_body, expected_status,
		 interval_sec, timeout_ms, max_latency_ms, credential_id, enabled,
		 status, next_check_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`
	row := p.db.QueryRowxContext(ctx, query,
		e.ProjectID, e.Name, e.URL, e.Method, e.Headers, e.RequestBody,
		e.ExpectedStatus, e.IntervalSec, e.TimeoutMs, e.MaxLatencyMs,
		e.CredentialID, e.Enabled, e.Status, e.NextCheckAt)
	if err := row.Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return storeErr("store.CreateEndpoint", err)
	}
	return nil
}

func (p *Postgres) UpdateEndpoint(ctx context.Context, e *core.Endpoint) error {
	query := `UPDATE endpoints SET
		name = $2, url = $3, method = $4, headers = $5, request_body = $6,
		expected_status = $7, interval_sec = $8, timeout_ms = $9,
		max_latency_ms = $10, credential_id = $11, enabled = $12,
		updated_at = now()
		WHERE id = $1`
	res, err := p.db.ExecContext(ctx, query,
		e.ID, e.Name, e.URL, e.Method, e.Headers, e.RequestBody,
		e.ExpectedStatus, e.IntervalSec, e.TimeoutMs, e.MaxLatencyMs,
		e.CredentialID, e.Enabled)
	if err != nil {
		return storeErr("store.UpdateEndpoint", err)
	}
	return requireRow(res, core.ErrEndpointNotFound)
}

func (p *Postgres) DeleteEndpoint(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = $1`, id)
	if err != nil {
		return storeErr("store.DeleteEndpoint", err)
	}
	return requireRow(res, core.ErrEndpointNotFound)
}

func (p *Postgres) SetEndpointEnabled(ctx context.Context, id int64, enabled bool) error {
	// Re-enabling schedules an immediate check.
	query := `UPDATE endpoints SET enabled = $2,
		next_check_at = CASE WHEN $2 THEN now() ELSE next_check_at END,
		updated_at = now()
		WHERE id = $1`
	res, err := p.db.ExecContext(ctx, query, id, enabled)
	if err != nil {
		return storeErr("store.SetEndpointEnabled", err)
	}
	return requireRow(res, core.ErrEndpointNotFound)
}

func (p *Postgres) GetEndpoint(ctx context.Context, id int64) (*core.Endpoint, error) {
	var e core.Endpoint
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE id = $1`
	err := p.db.GetContext(ctx, &e, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrEndpointNotFound
	}
	if err != nil {
		return nil, storeErr("store.GetEndpoint", err)
	}
	return &e, nil
}

func (p *Postgres) ListEndpoints(ctx context.Context, projectID int64) ([]core.Endpoint, error) {
	var out []core.Endpoint
	query := `SELECT ` + endpointColumns + ` FROM endpoints
		WHERE project_id = $1 ORDER BY created_at DESC`
	if err := p.db.SelectContext(ctx, &out, query, projectID); err != nil {
		return nil, storeErr("store.ListEndpoints", err)
	}
	return out, nil
}

func (p *Postgres) DueEndpoints(ctx context.Context, now time.Time) ([]core.Endpoint, error) {
	var out []core.Endpoint
	query := `SELECT ` + endpointColumns + ` FROM endpoints
		WHERE enabled AND (next_check_at IS NULL OR next_check_at <= $1)
		ORDER BY next_check_at NULLS FIRST, id`
	if err := p.db.SelectContext(ctx, &out, query, now); err != nil {
		return nil, storeErr("store.DueEndpoints", err)
	}
	return out, nil
}

func (p *Postgres) UpdateEndpointCheckStatus(ctx context.Context, id int64, status core.EndpointStatus,
	lastCheckAt, nextCheckAt time.Time, consecutiveFailures int) error {
	query := `UPDATE endpoints SET status = $2, last_check_at = $3,
		next_check_at = $4, consecutive_failures = $5, updated_at = now()
		WHERE id = $1`
	res, err := p.db.ExecContext(ctx, query, id, status, lastCheckAt, nextCheckAt, consecutiveFailures)
	if err != nil {
		return storeErr("store.UpdateEndpointCheckStatus", err)
	}
	return requireRow(res, core.ErrEndpointNotFound)
}

// Credentials

const credentialColumns = `id, project_id, name, type, sealed_value,
	sealed_username, header_name, created_at, updated_at`

func (p *Postgres) CreateCredential(ctx context.Context, c *core.Credential) error {
	query := `INSERT INTO credentials
		(project_id, name, type, sealed_value, sealed_username, header_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	row := p.db.QueryRowxContext(ctx, query,
		c.ProjectID, c.Name, c.Type, c.SealedValue, c.SealedUsername, c.HeaderName)
	if err := row.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return core.ErrDuplicateName
		}
		return storeErr("store.CreateCredential", err)
	}
	return nil
}

func (p *Postgres) GetCredential(ctx context.Context, id int64) (*core.Credential, error) {
	var c core.Credential
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1`
	err := p.db.GetContext(ctx, &c, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrCredentialNotFound
	}
	if err != nil {
		return nil, storeErr("store.GetCredential", err)
	}
	return &c, nil
}

func (p *Postgres) ListCredentials(ctx context.Context, projectID int64) ([]core.Credential, error) {
	var out []core.Credential
	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE project_id = $1 ORDER BY created_at DESC`
	if err := p.db.SelectContext(ctx, &out, query, projectID); err != nil {
		return nil, storeErr("store.ListCredentials", err)
	}
	return out, nil
}

func (p *Postgres) DeleteCredential(ctx context.Context, id int64) error {
	inUse, err := p.CredentialInUse(ctx, id)
	if err != nil {
		return err
	}
	if inUse {
		return core.ErrCredentialInUse
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return storeErr("store.DeleteCredential", err)
	}
	return requireRow(res, core.ErrCredentialNotFound)
}

func (p *Postgres) CredentialInUse(ctx context.Context, id int64) (bool, error) {
	var inUse bool
	err := p.db.GetContext(ctx, &inUse,
		`SELECT EXISTS (SELECT 1 FROM endpoints WHERE credential_id = $1)`, id)
	if err != nil {
		return false, storeErr("store.CredentialInUse", err)
	}
	return inUse, nil
}

// Check results

func (p *Postgres) AppendCheckResult(ctx context.Context, r *core.CheckResult) error {
	query := `INSERT INTO check_results
		(endpoint_id, status_code, latency_ms, success, kind, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	row := p.db.QueryRowxContext(ctx, query,
		r.EndpointID, r.StatusCode, r.LatencyMs, r.Success, r.Kind, r.ErrorMessage)
	if err := row.Scan(&r.ID, &r.CreatedAt); err != nil {
		return storeErr("store.AppendCheckResult", err)
	}
	return nil
}

func (p *Postgres) LatestResult(ctx context.Context, endpointID int64) (*core.CheckResult, error) {
	var r core.CheckResult
	query := `SELECT id, endpoint_id, status_code, latency_ms, success, kind,
		error_message, created_at
		FROM check_results WHERE endpoint_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`
	err := p.db.GetContext(ctx, &r, query, endpointID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("store.LatestResult", err)
	}
	return &r, nil
}

func (p *Postgres) ListResults(ctx context.Context, endpointID int64, limit int) ([]core.CheckResult, error) {
	var out []core.CheckResult
	query := `SELECT id, endpoint_id, status_code, latency_ms, success, kind,
		error_message, created_at
		FROM check_results WHERE endpoint_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`
	if err := p.db.SelectContext(ctx, &out, query, endpointID, limit); err != nil {
		return nil, storeErr("store.ListResults", err)
	}
	return out, nil
}

func (p *Postgres) UptimePct(ctx context.Context, endpointID int64, since time.Time) (float64, error) {
	var pct sql.NullFloat64
	query := `SELECT SUM(CASE WHEN success THEN 1 ELSE 0 END)::float / COUNT(*)::float * 100
		FROM check_results WHERE endpoint_id = $1 AND created_at >= $2`
	if err := p.db.GetContext(ctx, &pct, query, endpointID, since); err != nil {
		return 0, storeErr("store.UptimePct", err)
	}
	if !pct.Valid {
		return 100, nil // no checks yet
	}
	return pct.Float64, nil
}

func (p *Postgres) AvgLatency(ctx context.Context, endpointID int64, since time.Time) (float64, error) {
	var avg sql.NullFloat64
	query := `SELECT AVG(latency_ms) FROM check_results
		WHERE endpoint_id = $1 AND created_at >= $2 AND success`
	if err := p.db.GetContext(ctx, &avg, query, endpointID, since); err != nil {
		return 0, storeErr("store.AvgLatency", err)
	}
	return avg.Float64, nil
}

func (p *Postgres) FailureBreakdown(ctx context.Context, endpointID int64, since time.Time) (map[core.ResultKind]int64, error) {
	rows := []struct {
		Kind  core.ResultKind `db:"kind"`
		Count int64           `db:"count"`
	}{}
	query := `SELECT kind, COUNT(*) AS count FROM check_results
		WHERE endpoint_id = $1 AND NOT success AND created_at >= $2
		GROUP BY kind`
	if err := p.db.SelectContext(ctx, &rows, query, endpointID, since); err != nil {
		return nil, storeErr("store.FailureBreakdown", err)
	}
	out := make(map[core.ResultKind]int64, len(rows))
	for _, r := range rows {
		out[r.Kind] = r.Count
	}
	return out, nil
}

func (p *Postgres) HourlyStats(ctx context.Context, endpointID int64, since time.Time) ([]HourlyStat, error) {
	var out []HourlyStat
	query := `SELECT date_trunc('hour', created_at) AS hour,
		COUNT(*) AS total_checks,
		SUM(CASE WHEN success THEN 1 ELSE 0 END) AS success_count,
		COALESCE(AVG(latency_ms), 0) AS avg_latency_ms
		FROM check_results
		WHERE endpoint_id = $1 AND created_at >= $2
		GROUP BY 1 ORDER BY 1`
	if err := p.db.SelectContext(ctx, &out, query, endpointID, since); err != nil {
		return nil, storeErr("store.HourlyStats", err)
	}
	return out, nil
}

func (p *Postgres) DowntimeMinutes(ctx context.Context, endpointID int64, since time.Time) (int64, error) {
	var minutes sql.NullInt64
	// Open incidents count up to now; incident spans are clipped to the
	// window start.
	query := `SELECT SUM(CEIL(EXTRACT(EPOCH FROM
			COALESCE(resolved_at, now()) - GREATEST(started_at, $2)) / 60))::bigint
		FROM incidents
		WHERE endpoint_id = $1 AND COALESCE(resolved_at, now()) >= $2`
	if err := p.db.GetContext(ctx, &minutes, query, endpointID, since); err != nil {
		return 0, storeErr("store.DowntimeMinutes", err)
	}
	return minutes.Int64, nil
}

func (p *Postgres) LastFailureAt(ctx context.Context, endpointID int64) (*time.Time, error) {
	var ts sql.NullTime
	query := `SELECT MAX(created_at) FROM check_results
		WHERE endpoint_id = $1 AND NOT success`
	if err := p.db.GetContext(ctx, &ts, query, endpointID); err != nil {
		return nil, storeErr("store.LastFailureAt", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.Time, nil
}

// Incidents

const incidentColumns = `id, endpoint_id, state, failure_kind, started_at,
	resolved_at, failed_check_count, last_error_message, created_at, updated_at`

func (p *Postgres) FindOpenIncident(ctx context.Context, endpointID int64) (*core.Incident, error) {
	var i core.Incident
	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE endpoint_id = $1 AND state <> 'RESOLVED'`
	err := p.db.GetContext(ctx, &i, query, endpointID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("store.FindOpenIncident", err)
	}
	return &i, nil
}

func (p *Postgres) OpenIncident(ctx context.Context, endpointID int64, kind core.ResultKind, errorMessage string) (*core.Incident, error) {
	i := core.Incident{
		EndpointID:       endpointID,
		State:            core.IncidentOpen,
		FailureKind:      kind,
		FailedCheckCount: 1,
		LastErrorMessage: errorMessage,
	}
	query := `INSERT INTO incidents (endpoint_id, state, failure_kind, started_at, failed_check_count, last_error_message)
		VALUES ($1, 'OPEN', $2, now(), 1, $3)
		RETURNING id, started_at, created_at, updated_at`
	row := p.db.QueryRowxContext(ctx, query, endpointID, kind, errorMessage)
	if err := row.Scan(&i.ID, &i.StartedAt, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, storeErr("store.OpenIncident", err)
	}
	return &i, nil
}

func (p *Postgres) IncrementIncidentFailures(ctx context.Context, incidentID int64, errorMessage string) error {
	query := `UPDATE incidents SET failed_check_count = failed_check_count + 1,
		last_error_message = $2, updated_at = now()
		WHERE id = $1`
	res, err := p.db.ExecContext(ctx, query, incidentID, errorMessage)
	if err != nil {
		return storeErr("store.IncrementIncidentFailures", err)
	}
	return requireRow(res, core.ErrIncidentNotFound)
}

func (p *Postgres) ResolveOpenIncident(ctx context.Context, endpointID int64, now time.Time) (bool, error) {
	query := `UPDATE incidents SET state = 'RESOLVED', resolved_at = $2, updated_at = now()
		WHERE endpoint_id = $1 AND state <> 'RESOLVED'`
	res, err := p.db.ExecContext(ctx, query, endpointID, now)
	if err != nil {
		return false, storeErr("store.ResolveOpenIncident", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("store.ResolveOpenIncident", err)
	}
	return n > 0, nil
}

func (p *Postgres) AcknowledgeIncident(ctx context.Context, incidentID int64) error {
	query := `UPDATE incidents SET state = 'ACKNOWLEDGED', updated_at = now()
		WHERE id = $1 AND state = 'OPEN'`
	res, err := p.db.ExecContext(ctx, query, incidentID)
	if err != nil {
		return storeErr("store.AcknowledgeIncident", err)
	}
	return requireRow(res, core.ErrIncidentNotFound)
}

func (p *Postgres) ListIncidents(ctx context.Context, endpointID int64, limit int) ([]core.Incident, error) {
	var out []core.Incident
	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE endpoint_id = $1 ORDER BY started_at DESC LIMIT $2`
	if err := p.db.SelectContext(ctx, &out, query, endpointID, limit); err != nil {
		return nil, storeErr("store.ListIncidents", err)
	}
	return out, nil
}

// Alerts

const alertColumns = `id, endpoint_id, incident_id, kind, severity, channel,
	title, message, delivered, delivery_error, acknowledged, acknowledged_at,
	created_at`

func (p *Postgres) CreateAlert(ctx context.Context, a *core.Alert) error {
	query := `INSERT INTO alerts
		(endpoint_id, incident_id, kind, severity, channel, title, message, delivered, delivery_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`
	row := p.db.QueryRowxContext(ctx, query,
		a.EndpointID, a.IncidentID, a.Kind, a.Severity, a.Channel,
		a.Title, a.Message, a.Delivered, a.DeliveryError)
	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		return storeErr("store.CreateAlert", err)
	}
	return nil
}

func (p *Postgres) MarkAlertDelivery(ctx context.Context, alertID int64, delivered bool, deliveryError string) error {
	query := `UPDATE alerts SET delivered = $2, delivery_error = $3 WHERE id = $1`
	res, err := p.db.ExecContext(ctx, query, alertID, delivered, deliveryError)
	if err != nil {
		return storeErr("store.MarkAlertDelivery", err)
	}
	return requireRow(res, core.ErrAlertNotFound)
}

func (p *Postgres) RecentAlertExists(ctx context.Context, endpointID int64, kind core.AlertKind, since time.Time) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM alerts
		WHERE endpoint_id = $1 AND kind = $2 AND created_at >= $3)`
	if err := p.db.GetContext(ctx, &exists, query, endpointID, kind, since); err != nil {
		return false, storeErr("store.RecentAlertExists", err)
	}
	return exists, nil
}

func (p *Postgres) ListAlerts(ctx context.Context, endpointID int64, limit int) ([]core.Alert, error) {
	var out []core.Alert
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE endpoint_id = $1 ORDER BY created_at DESC LIMIT $2`
	if err := p.db.SelectContext(ctx, &out, query, endpointID, limit); err != nil {
		return nil, storeErr("store.ListAlerts", err)
	}
	return out, nil
}

func (p *Postgres) AcknowledgeAlert(ctx context.Context, alertID int64, now time.Time) error {
	// Acknowledgement is monotonic: an acknowledged alert is left untouched.
	query := `UPDATE alerts SET acknowledged = TRUE, acknowledged_at = $2
		WHERE id = $1 AND NOT acknowledged`
	if _, err := p.db.ExecContext(ctx, query, alertID, now); err != nil {
		return storeErr("store.AcknowledgeAlert", err)
	}
	return nil
}

func (p *Postgres) AcknowledgeAllForEndpoint(ctx context.Context, endpointID int64, now time.Time) (int64, error) {
	query := `UPDATE alerts SET acknowledged = TRUE, acknowledged_at = $2
		WHERE endpoint_id = $1 AND NOT acknowledged`
	res, err := p.db.ExecContext(ctx, query, endpointID, now)
	if err != nil {
		return 0, storeErr("store.AcknowledgeAllForEndpoint", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("store.AcknowledgeAllForEndpoint", err)
	}
	return n, nil
}

// Retention

func (p *Postgres) DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM check_results WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, storeErr("store.DeleteResultsBefore", err)
	}
	return res.RowsAffected()
}

func (p *Postgres) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM alerts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, storeErr("store.DeleteAlertsBefore", err)
	}
	return res.RowsAffected()
}

func (p *Postgres) DeleteResultsForPlanBefore(ctx context.Context, plan core.Plan, cutoff time.Time) (int64, error) {
	query := `DELETE FROM check_results cr
		USING endpoints e, projects pr
		WHERE cr.endpoint_id = e.id AND e.project_id = pr.id
		AND pr.plan = $1 AND cr.created_at < $2`
	res, err := p.db.ExecContext(ctx, query, plan, cutoff)
	if err != nil {
		return 0, storeErr("store.DeleteResultsForPlanBefore", err)
	}
	return res.RowsAffected()
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return storeErr("store.Ping", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("store.rowsAffected", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	type sqlState interface{ SQLState() string }
	var s sqlState
	return errors.As(err, &s) && s.SQLState() == "23505"
}
