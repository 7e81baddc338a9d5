package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velzox/apimon/core"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresFromDB(db, "sqlmock", nil), mock
}

func TestDueEndpointsQuery(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "project_id", "name", "url", "method", "headers", "request_body",
		"expected_status", "interval_sec", "timeout_ms", "max_latency_ms",
		"credential_id", "enabled", "status", "last_check_at", "next_check_at",
		"consecutive_failures", "created_at", "updated_at",
	}).AddRow(
		int64(7), int64(1), "orders-api", "https://api.example.com/health",
		"GET", "", "", 200, 60, 5000, nil, nil, true, "UP",
		nil, nil, 0, now, now,
	)
	mock.ExpectQuery(`SELECT .+ FROM endpoints\s+WHERE enabled AND \(next_check_at IS NULL OR next_check_at <= \$1\)`).
		WithArgs(now).
		WillReturnRows(rows)

	due, err := s.DueEndpoints(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(7), due[0].ID)
	assert.Equal(t, "orders-api", due[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEndpointNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM endpoints WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetEndpoint(context.Background(), 404)
	assert.ErrorIs(t, err, core.ErrEndpointNotFound)
}

func TestUpdateEndpointNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE endpoints SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateEndpoint(context.Background(), &core.Endpoint{ID: 99, Method: core.MethodGet})
	assert.ErrorIs(t, err, core.ErrEndpointNotFound)
}

func TestStoreErrorWrapsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM endpoints WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetEndpoint(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)

	var me *core.MonitorError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "store.GetEndpoint", me.Op)
}

func TestResolveOpenIncident(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE incidents SET state = 'RESOLVED'`).
		WithArgs(int64(5), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resolved, err := s.ResolveOpenIncident(context.Background(), 5, now)
	require.NoError(t, err)
	assert.True(t, resolved)

	// Second resolve finds nothing open.
	mock.ExpectExec(`UPDATE incidents SET state = 'RESOLVED'`).
		WithArgs(int64(5), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	resolved, err = s.ResolveOpenIncident(context.Background(), 5, now)
	require.NoError(t, err)
	assert.False(t, resolved)
}

func TestFindOpenIncidentNone(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM incidents\s+WHERE endpoint_id = \$1 AND state <> 'RESOLVED'`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	incident, err := s.FindOpenIncident(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, incident)
}

func TestOpenIncident(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO incidents`).
		WithArgs(int64(3), core.ResultTimeout, "request timed out after 5000 ms").
		WillReturnRows(sqlmock.NewRows([]string{"id", "started_at", "created_at", "updated_at"}).
			AddRow(int64(11), now, now, now))

	incident, err := s.OpenIncident(context.Background(), 3, core.ResultTimeout, "request timed out after 5000 ms")
	require.NoError(t, err)
	assert.Equal(t, int64(11), incident.ID)
	assert.Equal(t, core.IncidentOpen, incident.State)
	assert.Equal(t, 1, incident.FailedCheckCount)
	assert.Equal(t, core.ResultTimeout, incident.FailureKind)
}

func TestDeleteCredentialInUse(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM endpoints WHERE credential_id = \$1\)`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.DeleteCredential(context.Background(), 2)
	assert.ErrorIs(t, err, core.ErrCredentialInUse)
}

func TestDeleteCredentialFree(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM endpoints WHERE credential_id = \$1\)`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`DELETE FROM credentials WHERE id = \$1`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, s.DeleteCredential(context.Background(), 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentAlertExists(t *testing.T) {
	s, mock := newMockStore(t)
	since := time.Now().Add(-15 * time.Minute)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM alerts`).
		WithArgs(int64(4), core.AlertEndpointDown, since).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.RecentAlertExists(context.Background(), 4, core.AlertEndpointDown, since)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUptimePctNoChecks(t *testing.T) {
	s, mock := newMockStore(t)
	since := time.Now().Add(-24 * time.Hour)

	mock.ExpectQuery(`SELECT SUM`).
		WithArgs(int64(1), since).
		WillReturnRows(sqlmock.NewRows([]string{"pct"}).AddRow(nil))

	pct, err := s.UptimePct(context.Background(), 1, since)
	require.NoError(t, err)
	assert.Equal(t, float64(100), pct)
}

func TestDowntimeMinutes(t *testing.T) {
	s, mock := newMockStore(t)
	since := time.Now().Add(-24 * time.Hour)

	mock.ExpectQuery(`SELECT SUM\(CEIL`).
		WithArgs(int64(1), since).
		WillReturnRows(sqlmock.NewRows([]string{"minutes"}).AddRow(17))

	minutes, err := s.DowntimeMinutes(context.Background(), 1, since)
	require.NoError(t, err)
	assert.Equal(t, int64(17), minutes)
}

func TestDowntimeMinutesNoIncidents(t *testing.T) {
	s, mock := newMockStore(t)
	since := time.Now().Add(-24 * time.Hour)

	mock.ExpectQuery(`SELECT SUM\(CEIL`).
		WithArgs(int64(1), since).
		WillReturnRows(sqlmock.NewRows([]string{"minutes"}).AddRow(nil))

	minutes, err := s.DowntimeMinutes(context.Background(), 1, since)
	require.NoError(t, err)
	assert.Zero(t, minutes)
}

func TestLatestResultNone(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM check_results WHERE endpoint_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	r, err := s.LatestResult(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestDeleteResultsForPlanBefore(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := time.Now().Add(-24 * time.Hour)

	mock.ExpectExec(`DELETE FROM check_results cr\s+USING endpoints e, projects pr`).
		WithArgs(core.PlanFree, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := s.DeleteResultsForPlanBefore(context.Background(), core.PlanFree, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestAcknowledgeAllForEndpoint(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE alerts SET acknowledged = TRUE`).
		WithArgs(int64(9), now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.AcknowledgeAllForEndpoint(context.Background(), 9, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
