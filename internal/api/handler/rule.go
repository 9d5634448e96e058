package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/pacgate/internal/api/request"
	"github.com/edvin/pacgate/internal/api/response"
	"github.com/edvin/pacgate/internal/core"
	"github.com/edvin/pacgate/internal/model"
)

// Rule handles rule management endpoints for the global scope and for
// individual devices.
type Rule struct {
	rules   *core.RuleService
	devices *core.DeviceService
}

func NewRule(rules *core.RuleService, devices *core.DeviceService) *Rule {
	return &Rule{rules: rules, devices: devices}
}

// GetGlobal returns the global rule set in definition order.
func (h *Rule) GetGlobal(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"scope": model.ScopeGlobal,
		"rules": h.rules.GetRules(model.ScopeGlobal),
	})
}

// SetGlobal atomically replaces the global rule set.
func (h *Rule) SetGlobal(w http.ResponseWriter, r *http.Request) {
	h.setScope(w, r, model.ScopeGlobal)
}

// GetForDevice returns a device's own rules in definition order.
func (h *Rule) GetForDevice(w http.ResponseWriter, r *http.Request) {
	device, ok := h.requireDevice(w, r)
	if !ok {
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"scope": device.ID,
		"rules": h.rules.GetRules(device.ID),
	})
}

// SetForDevice atomically replaces a device's rule set.
func (h *Rule) SetForDevice(w http.ResponseWriter, r *http.Request) {
	device, ok := h.requireDevice(w, r)
	if !ok {
		return
	}
	h.setScope(w, r, device.ID)
}

// GetEffective returns the merged device+global rules in evaluation order,
// exactly as the PAC compiler will see them.
func (h *Rule) GetEffective(w http.ResponseWriter, r *http.Request) {
	device, ok := h.requireDevice(w, r)
	if !ok {
		return
	}
	rules, version := h.rules.Effective(device.ID)
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"version": version,
		"rules":   rules,
	})
}

// Resolve evaluates the effective rules against a hostname, answering what
// the compiled PAC document would return. Debug aid for administrators.
func (h *Rule) Resolve(w http.ResponseWriter, r *http.Request) {
	device, ok := h.requireDevice(w, r)
	if !ok {
		return
	}

	host := r.URL.Query().Get("host")
	if host == "" {
		response.WriteError(w, http.StatusBadRequest, "host query parameter is required")
		return
	}

	action, target := core.Match(h.rules.ResolveRules(device.ID), host)
	resp := map[string]any{"host": host, "action": action}
	if target != "" {
		resp["target"] = target
	}
	response.WriteJSON(w, http.StatusOK, resp)
}

func (h *Rule) setScope(w http.ResponseWriter, r *http.Request, scope string) {
	var req request.SetRules
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	inputs := make([]core.RuleInput, len(req.Rules))
	for i, re := range req.Rules {
		inputs[i] = core.RuleInput{
			Priority: re.Priority,
			Pattern:  re.Pattern,
			Action:   model.RuleAction(re.Action),
			Target:   re.Target,
		}
	}

	version, err := h.rules.SetRules(r.Context(), scope, inputs)
	if err != nil {
		response.WriteError(w, statusForRuleErr(err), err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"scope": scope, "version": version})
}

func (h *Rule) requireDevice(w http.ResponseWriter, r *http.Request) (*model.Device, bool) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	device, err := h.devices.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return nil, false
	}
	return device, true
}

func statusForRuleErr(err error) int {
	var conflict *core.RuleConflictError
	if errors.As(err, &conflict) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}
