// Package core provides the domain model and fundamental abstractions for the
// apimon monitoring engine.
//
// Purpose:
// - Defines the persistent entities (Endpoint, Credential, CheckResult, Incident, Alert)
// - Defines the closed result and alert taxonomies used across components
// - Provides derivation rules (alert kind, severity, titles) shared by the
//   incident and alert engines
//
// Scope:
// - Pure data types and pure functions only; no I/O happens in this package
// - Persistence tags target sqlx; JSON tags target the admin API
package core

import (
	"time"
)

// HTTPMethod is the request method used for a probe.
type HTTPMethod string

const (
	MethodGet    HTTPMethod = "GET"
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodDelete HTTPMethod = "DELETE"
	MethodPatch  HTTPMethod = "PATCH"
	MethodHead   HTTPMethod = "HEAD"
)

// Valid reports whether m is one of the supported probe methods.
func (m HTTPMethod) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch, MethodHead:
		return true
	}
	return false
}

// HasBody reports whether the method carries a request body when one is configured.
func (m HTTPMethod) HasBody() bool {
	return m == MethodPost || m == MethodPut || m == MethodPatch
}

// EndpointStatus is the derived health state of an endpoint.
type EndpointStatus string

const (
	StatusUp       EndpointStatus = "UP"
	StatusDown     EndpointStatus = "DOWN"
	StatusDegraded EndpointStatus = "DEGRADED"
	StatusUnknown  EndpointStatus = "UNKNOWN"
)

// Endpoint is the unit of monitoring: one HTTP resource probed on a schedule.
//
// Configuration fields are owned by the configuration provider; the runtime
// fields (Status, LastCheckAt, NextCheckAt, ConsecutiveFailures) are owned by
// the incident engine once the endpoint is admitted.
type Endpoint struct {
	ID        int64  `db:"id" json:"id"`
	ProjectID int64  `db:"project_id" json:"project_id"`
	Name      string `db:"name" json:"name"`
	URL       string `db:"url" json:"url"`

	Method HTTPMethod `db:"method" json:"method"`

	// Headers is an opaque JSON object of header name to value. Parse errors
	// are tolerated at probe time; the check proceeds without custom headers.
	Headers     string `db:"headers" json:"headers,omitempty"`
	RequestBody string `db:"request_body" json:"request_body,omitempty"`

	ExpectedStatus int    `db:"expected_status" json:"expected_status"`
	IntervalSec    int    `db:"interval_sec" json:"interval_sec"`
	TimeoutMs      int    `db:"timeout_ms" json:"timeout_ms"`
	MaxLatencyMs   *int   `db:"max_latency_ms" json:"max_latency_ms,omitempty"`
	CredentialID   *int64 `db:"credential_id" json:"credential_id,omitempty"`

	Enabled bool `db:"enabled" json:"enabled"`

	Status              EndpointStatus `db:"status" json:"status"`
	LastCheckAt         *time.Time     `db:"last_check_at" json:"last_check_at,omitempty"`
	NextCheckAt         *time.Time     `db:"next_check_at" json:"next_check_at,omitempty"`
	ConsecutiveFailures int            `db:"consecutive_failures" json:"consecutive_failures"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Interval returns the configured check interval as a duration.
func (e *Endpoint) Interval() time.Duration {
	return time.Duration(e.IntervalSec) * time.Second
}

// Timeout returns the per-probe total deadline as a duration.
func (e *Endpoint) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// CredentialType identifies how a credential is projected into a request header.
type CredentialType string

const (
	CredentialBearerToken CredentialType = "BEARER_TOKEN"
	CredentialAPIKey      CredentialType = "API_KEY"
	CredentialBasicAuth   CredentialType = "BASIC_AUTH"
)

// Valid reports whether t is a known credential type.
func (t CredentialType) Valid() bool {
	switch t {
	case CredentialBearerToken, CredentialAPIKey, CredentialBasicAuth:
		return true
	}
	return false
}

// Credential is an encrypted secret plus its binding metadata. SealedValue and
// SealedUsername hold AES-256-GCM ciphertext and never leave the process; API
// responses carry only the mask.
type Credential struct {
	ID        int64          `db:"id" json:"id"`
	ProjectID int64          `db:"project_id" json:"project_id"`
	Name      string         `db:"name" json:"name"`
	Type      CredentialType `db:"type" json:"type"`

	SealedValue    string  `db:"sealed_value" json:"-"`
	SealedUsername *string `db:"sealed_username" json:"-"`

	// HeaderName is the header used for API_KEY credentials. Empty means the
	// default "X-API-Key".
	HeaderName *string `db:"header_name" json:"header_name,omitempty"`

	MaskedValue string `db:"-" json:"masked_value,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ResultKind classifies one probe outcome.
type ResultKind string

const (
	ResultSuccess         ResultKind = "SUCCESS"
	ResultStatusMismatch  ResultKind = "STATUS_MISMATCH"
	ResultTimeout         ResultKind = "TIMEOUT"
	ResultConnectionError ResultKind = "CONNECTION_ERROR"
	ResultSSLError        ResultKind = "SSL_ERROR"
	ResultAuthFailure     ResultKind = "AUTH_FAILURE"
	ResultLatencyBreach   ResultKind = "LATENCY_BREACH"
	ResultServerError     ResultKind = "SERVER_ERROR"
	ResultUnknownError    ResultKind = "UNKNOWN_ERROR"
)

// CheckResult is the append-only record of one probe. StatusCode is zero if
// and only if the transport failed before a response line was read. Response
// bodies are never stored.
type CheckResult struct {
	ID         int64 `db:"id" json:"id"`
	EndpointID int64 `db:"endpoint_id" json:"endpoint_id"`

	StatusCode int   `db:"status_code" json:"status_code"`
	LatencyMs  int64 `db:"latency_ms" json:"latency_ms"`

	Success bool       `db:"success" json:"success"`
	Kind    ResultKind `db:"kind" json:"kind"`

	ErrorMessage string `db:"error_message" json:"error_message,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// maxErrorMessageLen bounds the stored error text.
const maxErrorMessageLen = 1000

// NewSuccessResult builds a successful check record.
func NewSuccessResult(endpointID int64, statusCode int, latencyMs int64) CheckResult {
	return CheckResult{
		EndpointID: endpointID,
		StatusCode: statusCode,
		LatencyMs:  latencyMs,
		Success:    true,
		Kind:       ResultSuccess,
	}
}

// NewFailureResult builds a failed check record, truncating overlong error text.
func NewFailureResult(endpointID int64, kind ResultKind, statusCode int, latencyMs int64, errMsg string) CheckResult {
	if runes := []rune(errMsg); len(runes) > maxErrorMessageLen {
		errMsg = string(runes[:maxErrorMessageLen])
	}
	return CheckResult{
		EndpointID:   endpointID,
		StatusCode:   statusCode,
		LatencyMs:    latencyMs,
		Success:      false,
		Kind:         kind,
		ErrorMessage: errMsg,
	}
}

// IncidentState is the lifecycle state of an incident. RESOLVED is terminal.
type IncidentState string

const (
	IncidentOpen         IncidentState = "OPEN"
	IncidentAcknowledged IncidentState = "ACKNOWLEDGED"
	IncidentResolved     IncidentState = "RESOLVED"
)

// Incident groups a contiguous run of failures for one endpoint. At most one
// non-RESOLVED incident exists per endpoint at any instant.
type Incident struct {
	ID         int64 `db:"id" json:"id"`
	EndpointID int64 `db:"endpoint_id" json:"endpoint_id"`

	State       IncidentState `db:"state" json:"state"`
	FailureKind ResultKind    `db:"failure_kind" json:"failure_kind"`

	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`

	FailedCheckCount int    `db:"failed_check_count" json:"failed_check_count"`
	LastErrorMessage string `db:"last_error_message" json:"last_error_message,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Duration returns how long the incident has been (or was) open.
func (i *Incident) Duration(now time.Time) time.Duration {
	end := now
	if i.ResolvedAt != nil {
		end = *i.ResolvedAt
	}
	return end.Sub(i.StartedAt)
}

// AlertKind is the notification taxonomy derived from probe failures.
type AlertKind string

const (
	AlertEndpointDown      AlertKind = "ENDPOINT_DOWN"
	AlertEndpointRecovered AlertKind = "ENDPOINT_RECOVERED"
	AlertAuthFailure       AlertKind = "AUTH_FAILURE"
	AlertTimeout           AlertKind = "TIMEOUT"
	AlertSSLError          AlertKind = "SSL_ERROR"
	AlertLatencyBreach     AlertKind = "LATENCY_BREACH"
	AlertConnectionError   AlertKind = "CONNECTION_ERROR"
)

// Severity grades a notification.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// AlertChannel addresses a notifier sink.
type AlertChannel string

const (
	ChannelEmail   AlertChannel = "EMAIL"
	ChannelSlack   AlertChannel = "SLACK"
	ChannelWebhook AlertChannel = "WEBHOOK"
)

// Alert is one externally delivered notification. IncidentID is nil only for
// recovery alerts. Acknowledgement is monotonic.
type Alert struct {
	ID         int64  `db:"id" json:"id"`
	EndpointID int64  `db:"endpoint_id" json:"endpoint_id"`
	IncidentID *int64 `db:"incident_id" json:"incident_id,omitempty"`

	Kind     AlertKind    `db:"kind" json:"kind"`
	Severity Severity     `db:"severity" json:"severity"`
	Channel  AlertChannel `db:"channel" json:"channel"`

	Title   string `db:"title" json:"title"`
	Message string `db:"message" json:"message"`

	Delivered     bool   `db:"delivered" json:"delivered"`
	DeliveryError string `db:"delivery_error" json:"delivery_error,omitempty"`

	Acknowledged   bool       `db:"acknowledged" json:"acknowledged"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AlertKindForResult maps a failure classification to its alert kind. Status
// mismatches, server errors and unknown errors collapse into ENDPOINT_DOWN.
func AlertKindForResult(kind ResultKind) AlertKind {
	switch kind {
	case ResultTimeout:
		return AlertTimeout
	case ResultAuthFailure:
		return AlertAuthFailure
	case ResultSSLError:
		return AlertSSLError
	case ResultLatencyBreach:
		return AlertLatencyBreach
	case ResultConnectionError:
		return AlertConnectionError
	default:
		return AlertEndpointDown
	}
}

// SeverityFor derives the notification severity for an alert kind.
func SeverityFor(kind AlertKind) Severity {
	switch kind {
	case AlertEndpointRecovered:
		return SeverityInfo
	case AlertLatencyBreach:
		return SeverityWarning
	case AlertAuthFailure, AlertSSLError:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// Plan is the subscription tier owning an endpoint's project. It bounds
// check-result retention and the minimum check interval.
type Plan string

const (
	PlanFree    Plan = "FREE"
	PlanStarter Plan = "STARTER"
	PlanPro     Plan = "PRO"
)

// ResultRetention returns the plan's check-result retention horizon.
func (p Plan) ResultRetention() time.Duration {
	switch p {
	case PlanFree:
		return 24 * time.Hour
	case PlanStarter:
		return 7 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}
