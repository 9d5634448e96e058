package handler

import (
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/pacgate/internal/core"
	"github.com/edvin/pacgate/internal/gate"
	"github.com/edvin/pacgate/internal/metrics"
	"github.com/edvin/pacgate/internal/model"
	"github.com/edvin/pacgate/internal/pac"
)

// PAC serves compiled PAC documents to devices. This is the hot path: one
// token lookup, a cache read, and an async usage record.
type PAC struct {
	gate   *gate.Gate
	rules  *core.RuleService
	cache  *pac.Cache
	usage  *core.UsageService
	maxAge int
}

func NewPAC(g *gate.Gate, rules *core.RuleService, cache *pac.Cache, usage *core.UsageService, maxAge int) *PAC {
	return &PAC{gate: g, rules: rules, cache: cache, usage: usage, maxAge: maxAge}
}

// Serve handles GET /pac/{token} and GET /pac?device_token=. All denials get
// the same opaque not-found response; the specific reason is only logged and
// recorded.
func (h *PAC) Serve(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		token = r.URL.Query().Get("device_token")
	}
	sourceIP := clientIP(r)
	userAgent := headerPtr(r, "User-Agent")

	device, err := h.gate.Authorize(r.Context(), token, sourceIP)
	if err != nil {
		reason := core.DenialReason(err)
		metrics.PACRequests.WithLabelValues(string(model.OutcomeDenied), reason).Inc()
		h.usage.Record(deviceIDPtr(device), sourceIP, userAgent, model.OutcomeDenied, reason)
		zerolog.Ctx(r.Context()).Info().
			Str("ip", sourceIP).
			Str("reason", reason).
			Msg("pac fetch denied")

		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	rules, version := h.rules.Effective(device.ID)
	doc := h.cache.Get(device.ID, version, func() []model.Rule {
		return rules
	})

	metrics.PACRequests.WithLabelValues(string(model.OutcomeServed), "ok").Inc()
	h.usage.Record(&device.ID, sourceIP, userAgent, model.OutcomeServed, "ok")

	w.Header().Set("Content-Type", pac.ContentType)
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", h.maxAge))
	w.Write([]byte(doc.Body))
}

// clientIP strips the port from RemoteAddr if present. The RealIP middleware
// has already substituted forwarding headers where configured.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func headerPtr(r *http.Request, name string) *string {
	if v := r.Header.Get(name); v != "" {
		return &v
	}
	return nil
}

func deviceIDPtr(device *model.Device) *string {
	if device == nil {
		return nil
	}
	return &device.ID
}
