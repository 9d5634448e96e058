package handler

import (
	"net/http"
	"time"

	"github.com/edvin/pacgate/internal/api/response"
	"github.com/edvin/pacgate/internal/core"
)

// Dashboard aggregates the headline numbers for the dashboard home view.
type Dashboard struct {
	devices *core.DeviceService
	usage   *core.UsageService
}

func NewDashboard(devices *core.DeviceService, usage *core.UsageService) *Dashboard {
	return &Dashboard{devices: devices, usage: usage}
}

// Stats returns device counts and the last 24 hours of fetch activity.
func (h *Dashboard) Stats(w http.ResponseWriter, r *http.Request) {
	total, enabled, err := h.devices.Counts(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	usage, err := h.usage.Stats(r.Context(), time.Now().Add(-24*time.Hour), "hour")
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"devices": map[string]int64{
			"total":   total,
			"enabled": enabled,
		},
		"usage_24h": usage,
	})
}
