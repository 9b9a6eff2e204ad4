package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ignite/giftscout-telemetry/internal/affiliate"
	"github.com/ignite/giftscout-telemetry/internal/engine"
	"github.com/ignite/giftscout-telemetry/internal/pkg/httputil"
	"github.com/ignite/giftscout-telemetry/internal/vitals"
)

// maxVitalsBatch caps observations per beacon.
const maxVitalsBatch = 50

// Handlers contains the HTTP handlers for the telemetry API
type Handlers struct {
	engine *engine.Engine
	source *vitals.BeaconSource
}

// NewHandlers creates a new Handlers instance
func NewHandlers(eng *engine.Engine, source *vitals.BeaconSource) *Handlers {
	return &Handlers{engine: eng, source: source}
}

// TrackRequest is the body of POST /v1/track.
type TrackRequest struct {
	Event      string                 `json:"event"`
	Properties map[string]interface{} `json:"properties"`
}

// HealthCheck reports the engine's session and transport state.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status":     "ok",
		"session_id": h.engine.SessionID(),
		"sampled":    h.engine.Sampled(),
		"transport":  h.engine.TransportState().String(),
	})
}

// Track forwards a custom event.
//
//	POST /v1/track
func (h *Handlers) Track(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := engine.ValidateEventName(req.Event); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	h.engine.Track(req.Event, req.Properties)
	httputil.Accepted(w, map[string]string{"status": "accepted"})
}

// TrackClick records an affiliate click. Referrer and user agent default
// to the request's own headers.
//
//	POST /v1/affiliate/click
func (h *Handlers) TrackClick(w http.ResponseWriter, r *http.Request) {
	var c affiliate.ClickEvent
	if !httputil.Decode(w, r, &c) {
		return
	}
	if c.Referrer == "" {
		c.Referrer = r.Referer()
	}
	if c.UserAgent == "" {
		c.UserAgent = r.UserAgent()
	}

	recorded, err := h.engine.TrackAffiliateClick(r.Context(), c)
	if err != nil {
		h.validationError(w, err)
		return
	}
	httputil.Accepted(w, recorded)
}

// TrackConversion records an affiliate conversion.
//
//	POST /v1/affiliate/conversion
func (h *Handlers) TrackConversion(w http.ResponseWriter, r *http.Request) {
	var c affiliate.ConversionEvent
	if !httputil.Decode(w, r, &c) {
		return
	}

	recorded, err := h.engine.TrackAffiliateConversion(r.Context(), c)
	if err != nil {
		h.validationError(w, err)
		return
	}
	httputil.Accepted(w, recorded)
}

// ObserveVitals accepts one observation or an array of them. Web vitals go
// through the beacon source so subscribers see them; anything the source
// has no subscriber for is handed to the engine directly.
//
//	POST /v1/vitals
func (h *Handlers) ObserveVitals(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !httputil.Decode(w, r, &raw) {
		return
	}

	var batch []vitals.Observation
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			httputil.BadRequest(w, "invalid observations: "+err.Error())
			return
		}
	} else {
		var o vitals.Observation
		if err := json.Unmarshal(trimmed, &o); err != nil {
			httputil.BadRequest(w, "invalid observation: "+err.Error())
			return
		}
		batch = append(batch, o)
	}

	if len(batch) > maxVitalsBatch {
		httputil.BadRequest(w, "too many observations")
		return
	}
	for _, o := range batch {
		if o.Name == "" {
			httputil.BadRequest(w, "observation name is required")
			return
		}
	}

	for _, o := range batch {
		if h.source == nil || !h.source.Publish(o) {
			h.engine.ObserveMetric(o)
		}
	}
	httputil.Accepted(w, map[string]int{"accepted": len(batch)})
}

// PerformanceSummary returns the latest value per metric.
//
//	GET /v1/performance
func (h *Handlers) PerformanceSummary(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.engine.GetPerformanceSummary())
}

// PerformanceRollup returns per-metric aggregates.
//
//	GET /v1/performance/rollup
func (h *Handlers) PerformanceRollup(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.engine.SessionRollup())
}

// ClearMetrics drops every recorded observation.
//
//	DELETE /v1/metrics
func (h *Handlers) ClearMetrics(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearMetrics()
	httputil.NoContent(w)
}

// Analytics aggregates the affiliate ledger.
//
//	GET /v1/analytics?window=day|week|month|year|all
func (h *Handlers) Analytics(w http.ResponseWriter, r *http.Request) {
	window, err := affiliate.ParseTimeWindow(r.URL.Query().Get("window"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, h.engine.GetAnalytics(window))
}

func (h *Handlers) validationError(w http.ResponseWriter, err error) {
	if errors.Is(err, affiliate.ErrInvalidEvent) {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.InternalError(w, err)
}
