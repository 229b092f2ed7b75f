package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/bher20/rentledger/internal/auth"
	"github.com/bher20/rentledger/internal/billing"
	"github.com/bher20/rentledger/internal/storage"
)

type loginRequest struct {
	Username  string `json:"username" validate:"required"`
	Password  string `json:"password" validate:"required"`
	ExpiresIn string `json:"expiresIn"`
}

type loginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Role      string     `json:"role"`
}

type createUserRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=ADMIN MANAGER TENANT"`
	TenantID string `json:"tenantId" validate:"required_if=Role TENANT"`
}

const defaultTokenLifetime = "30d"

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.ExpiresIn == "" {
		req.ExpiresIn = defaultTokenLifetime
	}
	user, err := s.auth.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	tok, raw, err := s.auth.IssueToken(r.Context(), user, "login", req.ExpiresIn)
	if errors.Is(err, auth.ErrInvalidExpiry) {
		s.writeServiceError(w, r, &billing.ValidationError{Field: "expiresIn", Msg: err.Error()})
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: raw, ExpiresAt: tok.ExpiresAt, Role: user.Role})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.TenantID != "" {
		t, err := s.store.GetTenant(r.Context(), req.TenantID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if t == nil {
			s.writeServiceError(w, r, &billing.NotFoundError{Entity: "tenant", ID: req.TenantID})
			return
		}
	}
	u, err := s.auth.Register(r.Context(), req.Username, req.Password, req.Role, req.TenantID)
	if errors.Is(err, auth.ErrUserExists) {
		writeError(w, http.StatusConflict, "DUPLICATE", err.Error())
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) getEmailSettings(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "EMAIL_NOT_CONFIGURED", "notifications are not enabled")
		return
	}
	cfg, err := s.notifier.GetConfig(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if cfg == nil {
		cfg = &storage.EmailConfig{}
	}
	// Secrets are write-only.
	cfg.Password = ""
	cfg.APIKey = ""
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) putEmailSettings(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "EMAIL_NOT_CONFIGURED", "notifications are not enabled")
		return
	}
	var req storage.EmailConfig
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	switch req.Provider {
	case "smtp", "sendgrid", "resend":
	default:
		s.writeServiceError(w, r, &billing.ValidationError{Field: "provider", Msg: "must be one of smtp sendgrid resend"})
		return
	}
	if req.FromAddress == "" {
		s.writeServiceError(w, r, &billing.ValidationError{Field: "fromAddress", Msg: "is required"})
		return
	}
	// Blank secrets keep the stored values since GET never returns them.
	if current, err := s.notifier.GetConfig(r.Context()); err == nil && current != nil {
		if req.Password == "" {
			req.Password = current.Password
		}
		if req.APIKey == "" {
			req.APIKey = current.APIKey
		}
		req.CreatedAt = current.CreatedAt
	}
	if err := s.notifier.SaveConfig(r.Context(), req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email settings saved"})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListScheduledJobs(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []storage.ScheduledJob{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "JOBS_DISABLED", "scheduler is not enabled")
		return
	}
	name := r.PathValue("name")
	if !s.scheduler.Has(name) {
		s.writeServiceError(w, r, &billing.NotFoundError{Entity: "job", ID: name})
		return
	}
	if err := s.scheduler.Run(r.Context(), name); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Job " + name + " completed"})
}
