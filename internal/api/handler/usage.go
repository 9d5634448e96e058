package handler

import (
	"net/http"
	"time"

	"github.com/edvin/pacgate/internal/api/request"
	"github.com/edvin/pacgate/internal/api/response"
	"github.com/edvin/pacgate/internal/core"
	"github.com/edvin/pacgate/internal/model"
)

// Usage exposes usage records and aggregates to the monitoring dashboard.
type Usage struct {
	svc *core.UsageService
}

func NewUsage(svc *core.UsageService) *Usage {
	return &Usage{svc: svc}
}

// ListRecords lists usage records, newest first, with optional device and
// outcome filters.
func (h *Usage) ListRecords(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)
	deviceID := r.URL.Query().Get("device_id")
	outcome := model.Outcome(r.URL.Query().Get("outcome"))

	records, hasMore, err := h.svc.ListRecords(r.Context(), pg.Limit, pg.Cursor, deviceID, outcome)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(records) > 0 {
		nextCursor = records[len(records)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, records, nextCursor, hasMore)
}

// Stats returns aggregated usage since a given duration, bucketed by minute,
// hour, or day.
func (h *Usage) Stats(w http.ResponseWriter, r *http.Request) {
	since, bucket, ok := parseStatsParams(w, r)
	if !ok {
		return
	}

	stats, err := h.svc.Stats(r.Context(), since, bucket)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, stats)
}

func parseStatsParams(w http.ResponseWriter, r *http.Request) (time.Time, string, bool) {
	window := 24 * time.Hour
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			response.WriteError(w, http.StatusBadRequest, "since must be a positive duration")
			return time.Time{}, "", false
		}
		window = d
	}

	bucket := r.URL.Query().Get("bucket")
	if bucket == "" {
		bucket = "hour"
	}

	return time.Now().Add(-window), bucket, true
}
