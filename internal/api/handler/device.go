package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/pacgate/internal/api/request"
	"github.com/edvin/pacgate/internal/api/response"
	"github.com/edvin/pacgate/internal/core"
	"github.com/edvin/pacgate/internal/model"
	"github.com/edvin/pacgate/internal/pac"
)

// Device handles device management endpoints.
type Device struct {
	svc   *core.DeviceService
	rules *core.RuleService
	cache *pac.Cache
}

func NewDevice(svc *core.DeviceService, rules *core.RuleService, cache *pac.Cache) *Device {
	return &Device{svc: svc, rules: rules, cache: cache}
}

// Create registers a new device. The raw access token is returned once in the
// response and never again.
func (h *Device) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateDevice
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !model.ValidDeviceType(model.DeviceType(req.Type)) {
		response.WriteError(w, http.StatusBadRequest, "invalid device type")
		return
	}

	device, rawToken, err := h.svc.Create(r.Context(), req.Name, model.DeviceType(req.Type), req.AllowedIPs)
	if err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}

	resp := map[string]any{
		"id":           device.ID,
		"name":         device.Name,
		"type":         device.Type,
		"token":        rawToken,
		"token_prefix": device.TokenPrefix,
		"allowed_ips":  device.AllowedIPs,
		"enabled":      device.Enabled,
		"created_at":   device.CreatedAt,
	}
	response.WriteJSON(w, http.StatusCreated, resp)
}

// List lists devices with cursor-based pagination.
func (h *Device) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	devices, hasMore, err := h.svc.List(r.Context(), pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(devices) > 0 {
		nextCursor = devices[len(devices)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, devices, nextCursor, hasMore)
}

// Get retrieves a device by ID.
func (h *Device) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	device, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, device)
}

// Update modifies a device's name and type.
func (h *Device) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpdateDevice
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !model.ValidDeviceType(model.DeviceType(req.Type)) {
		response.WriteError(w, http.StatusBadRequest, "invalid device type")
		return
	}

	device, err := h.svc.Update(r.Context(), id, req.Name, model.DeviceType(req.Type))
	if err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, device)
}

// Delete removes a device along with its rule scope and cached PAC document.
func (h *Device) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	if err := h.rules.DeleteScope(r.Context(), id); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.cache.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// RotateToken replaces the device's access token, invalidating the old one.
// The new raw token is returned once.
func (h *Device) RotateToken(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rawToken, err := h.svc.RotateToken(r.Context(), id)
	if err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"token": rawToken})
}

// SetAllowList replaces the device's IP allow-list.
func (h *Device) SetAllowList(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.SetAllowList
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	device, err := h.svc.SetAllowedIPs(r.Context(), id, req.AllowedIPs)
	if err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, device)
}

// Enable re-enables a disabled device.
func (h *Device) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// Disable disables a device; all its PAC fetches fail until re-enabled.
func (h *Device) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *Device) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.SetEnabled(r.Context(), id, enabled); err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	default:
		var conflict *core.RuleConflictError
		if errors.As(err, &conflict) {
			return http.StatusConflict
		}
		return http.StatusInternalServerError
	}
}
