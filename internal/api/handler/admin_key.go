package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/pacgate/internal/api/request"
	"github.com/edvin/pacgate/internal/api/response"
	"github.com/edvin/pacgate/internal/core"
)

// AdminKey handles admin key management endpoints.
type AdminKey struct {
	svc *core.AdminKeyService
}

func NewAdminKey(svc *core.AdminKeyService) *AdminKey {
	return &AdminKey{svc: svc}
}

// Create generates a new admin key. The raw key is returned once in the
// response.
func (h *AdminKey) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateAdminKey
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	key, rawKey, err := h.svc.Create(r.Context(), req.Name)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"id":         key.ID,
		"name":       key.Name,
		"key":        rawKey,
		"key_prefix": key.KeyPrefix,
		"created_at": key.CreatedAt,
	}
	response.WriteJSON(w, http.StatusCreated, resp)
}

// List lists all admin keys with cursor-based pagination.
func (h *AdminKey) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	keys, hasMore, err := h.svc.List(r.Context(), pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(keys) > 0 {
		nextCursor = keys[len(keys)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, keys, nextCursor, hasMore)
}

// Get retrieves an admin key by ID.
func (h *AdminKey) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	key, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, key)
}

// Revoke soft-deletes an admin key.
func (h *AdminKey) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Revoke(r.Context(), id); err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
