package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velzox/apimon/core"
	"github.com/velzox/apimon/store"
)

// fakeStore implements the slice of the Store interface the monitor package
// touches, backed by maps.
type fakeStore struct {
	store.Store

	mu        sync.Mutex
	results   []core.CheckResult
	incidents map[int64]*core.Incident
	nextID    int64

	statusByEndpoint map[int64]core.EndpointStatus
	streakByEndpoint map[int64]int

	due []core.Endpoint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		incidents:        make(map[int64]*core.Incident),
		statusByEndpoint: make(map[int64]core.EndpointStatus),
		streakByEndpoint: make(map[int64]int),
		nextID:           1,
	}
}

func (f *fakeStore) AppendCheckResult(_ context.Context, r *core.CheckResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = f.nextID
	f.nextID++
	f.results = append(f.results, *r)
	return nil
}

func (f *fakeStore) FindOpenIncident(_ context.Context, endpointID int64) (*core.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.incidents {
		if i.EndpointID == endpointID && i.State != core.IncidentResolved {
			cp := *i
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) OpenIncident(_ context.Context, endpointID int64, kind core.ResultKind, msg string) (*core.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := &core.Incident{
		ID:               f.nextID,
		EndpointID:       endpointID,
		State:            core.IncidentOpen,
		FailureKind:      kind,
		StartedAt:        time.Now(),
		FailedCheckCount: 1,
		LastErrorMessage: msg,
	}
	f.nextID++
	f.incidents[i.ID] = i
	cp := *i
	return &cp, nil
}

func (f *fakeStore) IncrementIncidentFailures(_ context.Context, incidentID int64, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.incidents[incidentID]
	if !ok {
		return core.ErrIncidentNotFound
	}
	i.FailedCheckCount++
	i.LastErrorMessage = msg
	return nil
}

func (f *fakeStore) ResolveOpenIncident(_ context.Context, endpointID int64, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.incidents {
		if i.EndpointID == endpointID && i.State != core.IncidentResolved {
			i.State = core.IncidentResolved
			i.ResolvedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) UpdateEndpointCheckStatus(_ context.Context, id int64, status core.EndpointStatus,
	_, _ time.Time, consecutiveFailures int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusByEndpoint[id] = status
	f.streakByEndpoint[id] = consecutiveFailures
	return nil
}

func (f *fakeStore) DueEndpoints(_ context.Context, _ time.Time) ([]core.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Endpoint, len(f.due))
	copy(out, f.due)
	return out, nil
}

func (f *fakeStore) resultCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

// recordingNotifier captures lifecycle events.
type recordingNotifier struct {
	mu         sync.Mutex
	failures   []int // streak per failure event
	recoveries int
}

func (n *recordingNotifier) NotifyFailure(_ context.Context, _ *core.Endpoint, _ *core.CheckResult, _ *core.Incident, streak int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, streak)
}

func (n *recordingNotifier) NotifyRecovery(_ context.Context, _ *core.Endpoint, _ *core.CheckResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recoveries++
}

func newTestEngine(fs *fakeStore, n Notifier) *Engine {
	return NewEngine(EngineOptions{Store: fs, Notifier: n})
}

func endpointFixture() *core.Endpoint {
	return &core.Endpoint{
		ID:             1,
		Name:           "orders-api",
		ExpectedStatus: 200,
		IntervalSec:    60,
		TimeoutMs:      5000,
		Status:         core.StatusUnknown,
	}
}

func failure(kind core.ResultKind, msg string) *core.CheckResult {
	r := core.NewFailureResult(1, kind, 0, 10, msg)
	return &r
}

func success() *core.CheckResult {
	r := core.NewSuccessResult(1, 200, 42)
	return &r
}

func TestFirstFailureOpensIncident(t *testing.T) {
	fs := newFakeStore()
	n := &recordingNotifier{}
	en := newTestEngine(fs, n)
	e := endpointFixture()

	require.NoError(t, en.ProcessResult(context.Background(), e, failure(core.ResultTimeout, "request timed out after 5000 ms"), time.Now()))

	assert.Equal(t, core.StatusDown, fs.statusByEndpoint[1])
	assert.Equal(t, 1, fs.streakByEndpoint[1])
	assert.Len(t, fs.incidents, 1)
	assert.Equal(t, []int{1}, n.failures)
}

func TestRepeatedFailuresIncrementOneIncident(t *testing.T) {
	fs := newFakeStore()
	n := &recordingNotifier{}
	en := newTestEngine(fs, n)
	e := endpointFixture()

	for i := 0; i < 3; i++ {
		require.NoError(t, en.ProcessResult(context.Background(), e, failure(core.ResultTimeout, "request timed out after 5000 ms"), time.Now()))
	}

	require.Len(t, fs.incidents, 1)
	for _, inc := range fs.incidents {
		assert.Equal(t, 3, inc.FailedCheckCount)
	}
	assert.Equal(t, []int{1, 2, 3}, n.failures)
	assert.Equal(t, 3, fs.streakByEndpoint[1])
}

func TestLatencyBreachMarksDegraded(t *testing.T) {
	fs := newFakeStore()
	en := newTestEngine(fs, nil)
	e := endpointFixture()

	require.NoError(t, en.ProcessResult(context.Background(), e, failure(core.ResultLatencyBreach, "latency 900 ms exceeded threshold 500 ms"), time.Now()))

	assert.Equal(t, core.StatusDegraded, fs.statusByEndpoint[1])
	assert.Len(t, fs.incidents, 1)
}

func TestSuccessWithoutIncidentIsQuiet(t *testing.T) {
	fs := newFakeStore()
	n := &recordingNotifier{}
	en := newTestEngine(fs, n)
	e := endpointFixture()

	require.NoError(t, en.ProcessResult(context.Background(), e, success(), time.Now()))

	assert.Equal(t, core.StatusUp, fs.statusByEndpoint[1])
	assert.Equal(t, 0, fs.streakByEndpoint[1])
	assert.Zero(t, n.recoveries)
}

func TestRecoveryFiresOncePerIncident(t *testing.T) {
	fs := newFakeStore()
	n := &recordingNotifier{}
	en := newTestEngine(fs, n)
	e := endpointFixture()

	require.NoError(t, en.ProcessResult(context.Background(), e, failure(core.ResultConnectionError, "connection failed"), time.Now()))
	require.NoError(t, en.ProcessResult(context.Background(), e, success(), time.Now()))
	require.NoError(t, en.ProcessResult(context.Background(), e, success(), time.Now()))

	assert.Equal(t, 1, n.recoveries)
	for _, inc := range fs.incidents {
		assert.Equal(t, core.IncidentResolved, inc.State)
		assert.NotNil(t, inc.ResolvedAt)
	}
}

func TestStreakResetAfterRecovery(t *testing.T) {
	fs := newFakeStore()
	n := &recordingNotifier{}
	en := newTestEngine(fs, n)
	e := endpointFixture()

	require.NoError(t, en.ProcessResult(context.Background(), e, failure(core.ResultTimeout, "t"), time.Now()))
	require.NoError(t, en.ProcessResult(context.Background(), e, failure(core.ResultTimeout, "t"), time.Now()))
	require.NoError(t, en.ProcessResult(context.Background(), e, success(), time.Now()))
	require.NoError(t, en.ProcessResult(context.Background(), e, failure(core.ResultTimeout, "t"), time.Now()))

	// The new incident starts a fresh streak.
	assert.Equal(t, []int{1, 2, 1}, n.failures)
	assert.Len(t, fs.incidents, 2)
}

func TestEveryResultIsPersisted(t *testing.T) {
	fs := newFakeStore()
	en := newTestEngine(fs, nil)
	e := endpointFixture()

	require.NoError(t, en.ProcessResult(context.Background(), e, failure(core.ResultTimeout, "t"), time.Now()))
	require.NoError(t, en.ProcessResult(context.Background(), e, success(), time.Now()))

	assert.Equal(t, 2, fs.resultCount())
}
