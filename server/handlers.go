package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/velzox/apimon/core"
	"github.com/velzox/apimon/secrets"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultStatsSpan = 24 * time.Hour
)

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	plan := req.Plan
	if plan == "" {
		plan = core.PlanFree
	}
	id, err := s.store.CreateProject(r.Context(), req.Name, plan)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id": id, "name": req.Name, "plan": plan,
	})
}

// Endpoints

func (s *Server) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.CredentialID != nil {
		if _, err := s.store.GetCredential(r.Context(), *req.CredentialID); err != nil {
			s.writeStoreError(w, r, err)
			return
		}
	}

	var e core.Endpoint
	req.apply(&e)
	e.Status = core.StatusUnknown
	now := time.Now()
	e.NextCheckAt = &now // first check on the next tick

	if err := s.store.CreateEndpoint(r.Context(), &e); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, &e)
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)
	if err != nil || projectID <= 0 {
		s.writeError(w, r, http.StatusBadRequest, "project_id query parameter is required")
		return
	}
	endpoints, err := s.store.ListEndpoints(r.Context(), projectID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, endpoints)
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	e, err := s.store.GetEndpoint(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req endpointRequest
	if !s.decode(w, r, &req) {
		return
	}

	e, err := s.store.GetEndpoint(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	req.apply(e)
	if err := s.store.UpdateEndpoint(r.Context(), e); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteEndpoint(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if s.stats != nil {
		s.stats.Invalidate(r.Context(), id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req setEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.store.SetEndpointEnabled(r.Context(), id, req.Enabled); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "enabled": req.Enabled})
}

// Results and statistics

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	results, err := s.store.ListResults(r.Context(), id, s.limit(r))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleEndpointStats(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	stats, err := s.stats.EndpointStats(r.Context(), id, s.window(r))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHourlyStats(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	buckets, err := s.stats.HourlyStats(r.Context(), id, s.window(r))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, buckets)
}

// Credentials

func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !s.decode(w, r, &req) {
		return
	}
	credType := core.CredentialType(req.Type)
	if credType == core.CredentialBasicAuth && req.Username == "" {
		s.writeError(w, r, http.StatusBadRequest, "username is required for BASIC_AUTH credentials")
		return
	}

	sealedValue, err := s.box.Seal(req.Value)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "credential sealing failed")
		return
	}
	c := core.Credential{
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Type:        credType,
		SealedValue: sealedValue,
	}
	if req.Username != "" {
		sealedUser, err := s.box.Seal(req.Username)
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, "credential sealing failed")
			return
		}
		c.SealedUsername = &sealedUser
	}
	if req.HeaderName != "" {
		c.HeaderName = &req.HeaderName
	}

	if err := s.store.CreateCredential(r.Context(), &c); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	c.MaskedValue = secrets.Mask(req.Value)
	s.writeJSON(w, http.StatusCreated, &c)
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)
	if err != nil || projectID <= 0 {
		s.writeError(w, r, http.StatusBadRequest, "project_id query parameter is required")
		return
	}
	creds, err := s.store.ListCredentials(r.Context(), projectID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	// List responses carry the mask of the decrypted value, never the sealed
	// ciphertext.
	for i := range creds {
		if value, err := s.box.Open(creds[i].SealedValue); err == nil {
			creds[i].MaskedValue = secrets.Mask(value)
		} else {
			creds[i].MaskedValue = "****"
		}
	}
	s.writeJSON(w, http.StatusOK, creds)
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteCredential(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Incidents and alerts

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	incidents, err := s.store.ListIncidents(r.Context(), id, s.limit(r))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleAckIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.AcknowledgeIncident(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "state": core.IncidentAcknowledged})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	alerts, err := s.store.ListAlerts(r.Context(), id, s.limit(r))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.AcknowledgeAlert(r.Context(), id, time.Now()); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAckAllAlerts(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	n, err := s.store.AcknowledgeAllForEndpoint(r.Context(), id, time.Now())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": n})
}

// Helpers

// decode parses and validates a JSON request body. On failure it writes the
// error response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "validation failed: "+err.Error())
		return false
	}
	return true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) limit(r *http.Request) int {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

func (s *Server) window(r *http.Request) time.Duration {
	if v := r.URL.Query().Get("window"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultStatsSpan
}
