package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velzox/apimon/core"
	"github.com/velzox/apimon/resilience"
	"github.com/velzox/apimon/store"
)

type alertStore struct {
	store.Store

	mu        sync.Mutex
	alerts    []core.Alert
	delivered map[int64]bool
	failures  map[int64]string
	recent    bool
	nextID    int64
	incidents []core.Incident
}

func newAlertStore() *alertStore {
	return &alertStore{
		delivered: make(map[int64]bool),
		failures:  make(map[int64]string),
		nextID:    1,
	}
}

func (s *alertStore) CreateAlert(_ context.Context, a *core.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextID
	s.nextID++
	a.CreatedAt = time.Now()
	s.alerts = append(s.alerts, *a)
	return nil
}

func (s *alertStore) MarkAlertDelivery(_ context.Context, alertID int64, delivered bool, deliveryError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[alertID] = delivered
	s.failures[alertID] = deliveryError
	return nil
}

func (s *alertStore) RecentAlertExists(context.Context, int64, core.AlertKind, time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent, nil
}

func (s *alertStore) ListIncidents(context.Context, int64, int) ([]core.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incidents, nil
}

func (s *alertStore) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// memorySink records deliveries and can be told to fail.
type memorySink struct {
	channel core.AlertChannel

	mu        sync.Mutex
	delivered []core.Alert
	fail      bool
}

func (m *memorySink) Channel() core.AlertChannel { return m.channel }

func (m *memorySink) Deliver(_ context.Context, a *core.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink unavailable")
	}
	m.delivered = append(m.delivered, *a)
	return nil
}

func (m *memorySink) deliveredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivered)
}

func alertingConfig() core.AlertingConfig {
	return core.AlertingConfig{
		FailureThreshold: 3,
		DedupWindow:      15 * time.Minute,
		DeliveryWorkers:  2,
		DeliveryGrace:    2 * time.Second,
	}
}

func fastRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
}

func startedEngine(t *testing.T, s *alertStore, sinks ...core.Sink) *Engine {
	t.Helper()
	en := NewEngine(EngineOptions{
		Store:  s,
		Sinks:  sinks,
		Config: alertingConfig(),
		Retry:  fastRetry(),
	})
	require.NoError(t, en.Start(context.Background()))
	t.Cleanup(func() { _ = en.Stop() })
	return en
}

func alertEndpoint() *core.Endpoint {
	return &core.Endpoint{ID: 1, Name: "orders-api", URL: "https://api.example.com/health"}
}

func timeoutResult() *core.CheckResult {
	r := core.NewFailureResult(1, core.ResultTimeout, 0, 10, "request timed out after 5000 ms")
	return &r
}

func openIncident() *core.Incident {
	return &core.Incident{ID: 9, EndpointID: 1, State: core.IncidentOpen, StartedAt: time.Now().Add(-3 * time.Minute)}
}

func TestFailureBelowThresholdIsSilent(t *testing.T) {
	s := newAlertStore()
	sink := &memorySink{channel: core.ChannelSlack}
	en := startedEngine(t, s, sink)

	en.NotifyFailure(context.Background(), alertEndpoint(), timeoutResult(), openIncident(), 1)
	en.NotifyFailure(context.Background(), alertEndpoint(), timeoutResult(), openIncident(), 2)

	assert.Zero(t, s.alertCount())
}

func TestFailureAtThresholdRaisesAlert(t *testing.T) {
	s := newAlertStore()
	sink := &memorySink{channel: core.ChannelSlack}
	en := startedEngine(t, s, sink)

	en.NotifyFailure(context.Background(), alertEndpoint(), timeoutResult(), openIncident(), 3)

	require.Equal(t, 1, s.alertCount())
	a := s.alerts[0]
	assert.Equal(t, core.AlertTimeout, a.Kind)
	assert.Equal(t, core.ChannelSlack, a.Channel)
	assert.Equal(t, "⏱️ Timeout: orders-api", a.Title)
	assert.Contains(t, a.Message, "failed 3 consecutive checks")
	require.NotNil(t, a.IncidentID)
	assert.Equal(t, int64(9), *a.IncidentID)

	assert.Eventually(t, func() bool { return sink.deliveredCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDedupWindowSuppressesRepeatAlert(t *testing.T) {
	s := newAlertStore()
	s.recent = true
	sink := &memorySink{channel: core.ChannelSlack}
	en := startedEngine(t, s, sink)

	en.NotifyFailure(context.Background(), alertEndpoint(), timeoutResult(), openIncident(), 3)

	assert.Zero(t, s.alertCount())
}

func TestRecoveryBypassesGates(t *testing.T) {
	s := newAlertStore()
	s.recent = true // would suppress a failure alert
	resolvedAt := time.Now()
	s.incidents = []core.Incident{{
		ID: 9, EndpointID: 1, State: core.IncidentResolved,
		StartedAt: resolvedAt.Add(-10 * time.Minute), ResolvedAt: &resolvedAt,
	}}
	sink := &memorySink{channel: core.ChannelEmail}
	en := startedEngine(t, s, sink)

	ok := core.NewSuccessResult(1, 200, 42)
	en.NotifyRecovery(context.Background(), alertEndpoint(), &ok)

	require.Equal(t, 1, s.alertCount())
	a := s.alerts[0]
	assert.Equal(t, core.AlertEndpointRecovered, a.Kind)
	assert.Equal(t, core.SeverityInfo, a.Severity)
	assert.Equal(t, "✅ Recovered: orders-api", a.Title)
	assert.Contains(t, a.Message, "responding again")
	assert.Contains(t, a.Message, "10m0s")
	assert.Nil(t, a.IncidentID)
}

func TestOneAlertPerSink(t *testing.T) {
	s := newAlertStore()
	slack := &memorySink{channel: core.ChannelSlack}
	email := &memorySink{channel: core.ChannelEmail}
	en := startedEngine(t, s, slack, email)

	en.NotifyFailure(context.Background(), alertEndpoint(), timeoutResult(), openIncident(), 3)

	require.Equal(t, 2, s.alertCount())
	channels := map[core.AlertChannel]bool{}
	for _, a := range s.alerts {
		channels[a.Channel] = true
	}
	assert.True(t, channels[core.ChannelSlack])
	assert.True(t, channels[core.ChannelEmail])
}

func TestFailedDeliveryIsRecordedOnAlert(t *testing.T) {
	s := newAlertStore()
	sink := &memorySink{channel: core.ChannelSlack, fail: true}
	en := startedEngine(t, s, sink)

	en.NotifyFailure(context.Background(), alertEndpoint(), timeoutResult(), openIncident(), 3)

	// The alert row exists despite the delivery failure.
	require.Equal(t, 1, s.alertCount())
	alertID := s.alerts[0].ID

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, marked := s.delivered[alertID]
		return marked
	}, time.Second, 5*time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.False(t, s.delivered[alertID])
	assert.Contains(t, s.failures[alertID], "sink unavailable")
}

func TestEngineLifecycle(t *testing.T) {
	en := NewEngine(EngineOptions{Store: newAlertStore(), Config: alertingConfig()})
	assert.ErrorIs(t, en.Stop(), core.ErrNotStarted)
	require.NoError(t, en.Start(context.Background()))
	assert.ErrorIs(t, en.Start(context.Background()), core.ErrAlreadyStarted)
	require.NoError(t, en.Stop())
}

func TestAlertKindCollapse(t *testing.T) {
	s := newAlertStore()
	sink := &memorySink{channel: core.ChannelSlack}
	en := startedEngine(t, s, sink)

	r := core.NewFailureResult(1, core.ResultServerError, 503, 10, "server error: status 503")
	en.NotifyFailure(context.Background(), alertEndpoint(), &r, openIncident(), 3)

	require.Equal(t, 1, s.alertCount())
	assert.Equal(t, core.AlertEndpointDown, s.alerts[0].Kind)
	assert.Equal(t, "🔴 API Down: orders-api", s.alerts[0].Title)
}
