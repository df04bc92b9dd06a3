package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/tenant"
	"github.com/nicofx/widu-factory/internal/tenantconfig"
)

// configView is the JSON form of a resolved configuration.
type configView struct {
	Tenant         string                           `json:"tenant"`
	SchemaVersion  string                           `json:"schemaVersion,omitempty"`
	Phases         []string                         `json:"phases"`
	PhaseSpecs     map[string]domain.PhaseSpec      `json:"phaseSpecs"`
	DisabledPhases []string                         `json:"disabledPhases"`
	DisabledSteps  []string                         `json:"disabledSteps"`
	Pipelines      map[string]domain.LegacyPipeline `json:"pipelines,omitempty"`
}

type stepView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type errorBody struct {
	Error  string               `json:"error"`
	Issues []tenantconfig.Issue `json:"issues,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.backend.(StepLister)
	if !ok {
		s.writeJSON(w, http.StatusNotImplemented, errorBody{Error: "step listing not supported"})
		return
	}
	factories := lister.Steps()
	out := make([]stepView, 0, len(factories))
	for _, f := range factories {
		out = append(out, stepView{Name: f.Name, Description: f.Description})
	}
	s.writeJSON(w, http.StatusOK, map[string][]stepView{"steps": out})
}

func (s *Server) handleTenantConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenant.FromContext(r.Context())

	cfg, err := s.backend.Resolve(r.Context(), tenantID)
	if err != nil {
		s.writeConfigError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, configView{
		Tenant:         tenantID,
		SchemaVersion:  cfg.SchemaVersion,
		Phases:         cfg.Phases,
		PhaseSpecs:     cfg.PhaseSpecs,
		DisabledPhases: cfg.DisabledPhaseList(),
		DisabledSteps:  cfg.DisabledStepList(),
		Pipelines:      cfg.Pipelines,
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenant.FromContext(r.Context())
	if !s.backend.Invalidate(tenantID) {
		s.writeJSON(w, http.StatusNotImplemented, errorBody{Error: "configuration source has no cache"})
		return
	}
	s.logger.Info("tenant configuration invalidated",
		slog.String("tenant", tenantID),
		slog.String("request_id", GetRequestID(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequestLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.backend.Store().StepLogs(r.Context(), chi.URLParam(r, "id"))
	s.writeRecords(w, "logs", logs, len(logs), err)
}

func (s *Server) handleRequestEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.backend.Store().AuditEvents(r.Context(), chi.URLParam(r, "id"))
	s.writeRecords(w, "events", events, len(events), err)
}

func (s *Server) handleRequestErrors(w http.ResponseWriter, r *http.Request) {
	errs, err := s.backend.Store().Errors(r.Context(), chi.URLParam(r, "id"))
	s.writeRecords(w, "errors", errs, len(errs), err)
}

func (s *Server) writeRecords(w http.ResponseWriter, key string, records any, n int, err error) {
	if err != nil {
		s.logger.Error("audit query failed", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "audit query failed"})
		return
	}
	if n == 0 {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "no records for request"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{key: records})
}

func (s *Server) writeConfigError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	var ce *tenantconfig.ConfigError
	if errors.As(err, &ce) {
		body.Issues = ce.Issues
		status = http.StatusUnprocessableEntity
	}
	switch {
	case errors.Is(err, tenantconfig.ErrInvalidTenant):
		status = http.StatusBadRequest
	case errors.Is(err, tenantconfig.ErrNoConfiguration):
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}
