package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/MalfuncEddie/ansible-ui/internal/middleware"
	"github.com/MalfuncEddie/ansible-ui/internal/roleform"
)

type navigateResponse struct {
	Navigate *roleform.Navigation `json:"navigate"`
}

type fieldsRequest struct {
	Values             roleform.FormValues `json:"values"`
	DisableContentType bool                `json:"disableContentType"`
}

type fieldsResponse struct {
	Fields []roleform.Field     `json:"fields"`
	Values *roleform.FormValues `json:"values"`
}

// CreateRolePage handles GET /console/roles/create
func (h *Handler) CreateRolePage(w http.ResponseWriter, r *http.Request) {
	page, err := h.Roles.CreatePage(r.Context())
	if err != nil {
		h.writeFormError(w, r, "load role form", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// SubmitCreateRole handles POST /console/roles/create
func (h *Handler) SubmitCreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var values roleform.FormValues
	if err := decodeJSON(r, &values); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	nav, err := h.Roles.SubmitCreate(ctx, values)
	if err != nil {
		h.writeFormError(w, r, "create role", err)
		return
	}
	h.Roles.Teardown(context.WithoutCancel(ctx))

	h.Logger.Info("role created via console",
		zap.String("name", values.Name),
		zap.String("admin", actor(ctx)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusCreated, navigateResponse{Navigate: nav})
}

// EditRolePage handles GET /console/roles/{id}/edit
//
// The role is waited for at most FormLoadTimeout; after that the loading
// shell is returned and the browser polls again.
func (h *Handler) EditRolePage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Config.FormLoadTimeout)
	defer cancel()

	page, err := h.Roles.EditPage(ctx, r.PathValue("id"))
	if err != nil {
		h.writeFormError(w, r, "load role", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// SubmitEditRole handles POST /console/roles/{id}/edit
func (h *Handler) SubmitEditRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idParam := r.PathValue("id")

	var values roleform.FormValues
	if err := decodeJSON(r, &values); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	nav, err := h.Roles.SubmitEdit(ctx, idParam, values)
	if err != nil {
		h.writeFormError(w, r, "save role", err)
		return
	}
	h.Roles.Teardown(context.WithoutCancel(ctx))

	status := http.StatusOK
	if _, isID := roleform.ParseID(idParam); !isID {
		status = http.StatusCreated
	}

	h.Logger.Info("role saved via console",
		zap.String("id", idParam),
		zap.String("name", values.Name),
		zap.String("admin", actor(ctx)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, status, navigateResponse{Navigate: nav})
}

// CloseRoleForm handles POST /console/roles/close
//
// Sent when the user cancels or leaves a role form.
func (h *Handler) CloseRoleForm(w http.ResponseWriter, r *http.Request) {
	h.Roles.Teardown(context.WithoutCancel(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// RoleFields handles POST /console/roles/fields
func (h *Handler) RoleFields(w http.ResponseWriter, r *http.Request) {
	var req fieldsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	fields, values, err := h.Roles.Fields(r.Context(), req.Values, req.DisableContentType)
	if err != nil {
		h.writeFormError(w, r, "render role fields", err)
		return
	}
	writeJSON(w, http.StatusOK, fieldsResponse{Fields: fields, Values: values})
}

// ValidateRoleName handles GET /console/roles/validate-name
func (h *Handler) ValidateRoleName(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msg, err := h.Roles.ValidateName(r.Context(), q.Get("name"), q.Get("current"))
	if err != nil {
		h.writeFormError(w, r, "validate role name", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}
