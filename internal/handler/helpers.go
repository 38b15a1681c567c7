package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/MalfuncEddie/ansible-ui/internal/config"
	"github.com/MalfuncEddie/ansible-ui/internal/hubapi"
	"github.com/MalfuncEddie/ansible-ui/internal/middleware"
	"github.com/MalfuncEddie/ansible-ui/internal/model"
	"github.com/MalfuncEddie/ansible-ui/internal/roleform"
)

// HealthChecker is a dependency probed by the readiness endpoint.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Handler holds shared dependencies injected into all route handlers.
type Handler struct {
	Config *config.Config
	// Roles is nil unless the hub application is served.
	Roles  *roleform.Controller
	Checks map[string]HealthChecker
	Logger *zap.Logger
}

// NewHandler creates a Handler with all dependencies.
func NewHandler(cfg *config.Config, roles *roleform.Controller, checks map[string]HealthChecker, logger *zap.Logger) *Handler {
	return &Handler{
		Config: cfg,
		Roles:  roles,
		Checks: checks,
		Logger: logger.Named("handler"),
	}
}

// decodeJSON reads and decodes a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	model.WriteJSON(w, status, v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	model.WriteError(w, status, code, message)
}

// validationResponse is the 422 body of a blocked submission.
type validationResponse struct {
	model.ErrorResponse
	Fields roleform.FieldErrors `json:"fields"`
}

// writeFormError maps a role form error to a response. Validation failures
// are 422 with per-field messages; everything else came from the upstream.
func (h *Handler) writeFormError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if ve, ok := roleform.AsValidationError(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{
			ErrorResponse: model.ErrorResponse{Error: "validation failed", Code: "VALIDATION_FAILED"},
			Fields:        ve.Fields,
		})
		return
	}

	h.Logger.Error(op+" failed",
		zap.Error(err),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
	)

	var apiErr *hubapi.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		writeError(w, http.StatusNotFound, "ROLE_NOT_FOUND", "role not found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "upstream did not respond in time")
	default:
		writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", op+" failed")
	}
}

// actor names the authenticated user for audit log lines.
func actor(ctx context.Context) string {
	if c := middleware.GetClaims(ctx); c != nil {
		return c.PreferredUsername
	}
	return ""
}
