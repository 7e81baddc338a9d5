package server

import (
	"github.com/go-playground/validator/v10"

	"github.com/velzox/apimon/core"
)

var validate = validator.New()

// createProjectRequest is the admission payload for a project.
type createProjectRequest struct {
	Name string    `json:"name" validate:"required,max=200"`
	Plan core.Plan `json:"plan" validate:"omitempty,oneof=FREE STARTER PRO"`
}

// endpointRequest is the admission payload for creating or updating an
// endpoint. The bounds mirror what the monitoring core can actually honor:
// sub-30s intervals would outrun the scheduler tick, and sub-second timeouts
// misclassify slow-but-healthy endpoints as down.
type endpointRequest struct {
	ProjectID      int64  `json:"project_id" validate:"required,gt=0"`
	Name           string `json:"name" validate:"required,max=200"`
	URL            string `json:"url" validate:"required,url,max=2000"`
	Method         string `json:"method" validate:"omitempty,oneof=GET POST PUT DELETE PATCH HEAD"`
	Headers        string `json:"headers" validate:"omitempty,json"`
	RequestBody    string `json:"request_body" validate:"omitempty,max=10000"`
	ExpectedStatus int    `json:"expected_status" validate:"omitempty,gte=100,lte=599"`
	IntervalSec    int    `json:"interval_sec" validate:"omitempty,gte=30,lte=3600"`
	TimeoutMs      int    `json:"timeout_ms" validate:"omitempty,gte=1000,lte=60000"`
	MaxLatencyMs   *int   `json:"max_latency_ms" validate:"omitempty,gt=0"`
	CredentialID   *int64 `json:"credential_id" validate:"omitempty,gt=0"`
	Enabled        *bool  `json:"enabled"`
}

// apply copies the request onto an endpoint, filling defaults for omitted
// optional fields.
func (r *endpointRequest) apply(e *core.Endpoint) {
	e.ProjectID = r.ProjectID
	e.Name = r.Name
	e.URL = r.URL
	e.Method = core.MethodGet
	if r.Method != "" {
		e.Method = core.HTTPMethod(r.Method)
	}
	e.Headers = r.Headers
	e.RequestBody = r.RequestBody
	e.ExpectedStatus = 200
	if r.ExpectedStatus != 0 {
		e.ExpectedStatus = r.ExpectedStatus
	}
	e.IntervalSec = 300
	if r.IntervalSec != 0 {
		e.IntervalSec = r.IntervalSec
	}
	e.TimeoutMs = 30000
	if r.TimeoutMs != 0 {
		e.TimeoutMs = r.TimeoutMs
	}
	e.MaxLatencyMs = r.MaxLatencyMs
	e.CredentialID = r.CredentialID
	e.Enabled = true
	if r.Enabled != nil {
		e.Enabled = *r.Enabled
	}
}

// credentialRequest is the admission payload for a credential. Value and
// Username arrive in plaintext over the admin API and are sealed before they
// touch the store.
type credentialRequest struct {
	ProjectID  int64  `json:"project_id" validate:"required,gt=0"`
	Name       string `json:"name" validate:"required,max=200"`
	Type       string `json:"type" validate:"required,oneof=BEARER_TOKEN API_KEY BASIC_AUTH"`
	Value      string `json:"value" validate:"required,max=4000"`
	Username   string `json:"username" validate:"omitempty,max=500"`
	HeaderName string `json:"header_name" validate:"omitempty,max=100"`
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
