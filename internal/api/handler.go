package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/affix/internal/carrier"
	"github.com/gyaneshwarpardhi/affix/internal/config"
	"github.com/gyaneshwarpardhi/affix/internal/engine"
	"github.com/gyaneshwarpardhi/affix/internal/event"
	"github.com/gyaneshwarpardhi/affix/internal/metrics"
	"github.com/gyaneshwarpardhi/affix/internal/operation"
	"github.com/gyaneshwarpardhi/affix/internal/rules"
)

const maxBatchSize = 100

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng    *engine.Engine
	loader *config.Loader
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes. loader may be nil,
// in which case config reloads are unavailable.
func New(eng *engine.Engine, loader *config.Loader) http.Handler {
	h := &Handler{eng: eng, loader: loader, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/events", h.ingestEvent)
	h.mux.HandleFunc("POST /v1/events/batch", h.ingestBatch)
	h.mux.HandleFunc("POST /v1/carriers", h.createCarrier)
	h.mux.HandleFunc("GET /v1/carriers/{name}", h.getCarrier)
	h.mux.HandleFunc("GET /v1/carriers/{name}/affixes", h.listAffixes)
	h.mux.HandleFunc("POST /v1/carriers/{name}/affixes", h.addAffix)
	h.mux.HandleFunc("DELETE /v1/carriers/{name}/affixes", h.clearAffixes)
	h.mux.HandleFunc("DELETE /v1/carriers/{name}/affixes/{index}", h.removeAffix)
	h.mux.HandleFunc("POST /v1/carriers/{name}/detach", h.detach)
	h.mux.HandleFunc("GET /v1/actors/{id}", h.getActor)
	h.mux.HandleFunc("POST /v1/expressions/evaluate", h.evaluate)
	h.mux.HandleFunc("POST /v1/expressions/cache/clear", h.clearExpressions)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// errStatus maps engine errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrNoTriggers):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, engine.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, carrier.ErrNotFound), errors.Is(err, rules.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, carrier.ErrExists):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidAffix):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return false
	}
	return true
}

// POST /v1/events: synchronous single-event dispatch.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if !decode(w, r, &ev) {
		return
	}
	ev.ReceivedAt = time.Now()

	res, err := h.eng.ProcessSync(r.Context(), &ev)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/events/batch: async batch ingestion (up to 100 events).
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var events []*event.Event
	if !decode(w, r, &events) {
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(events), maxBatchSize))
		return
	}

	now := time.Now()
	jobID := uuid.New().String()
	queued := 0
	for _, ev := range events {
		if ev == nil {
			continue
		}
		ev.ReceivedAt = now
		if h.eng.ProcessAsync(ev) {
			queued++
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   jobID,
		"total":    len(events),
		"queued":   queued,
		"rejected": len(events) - queued,
	})
}

type createCarrierRequest struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Owner       string                 `json:"owner"`
	Attachments map[string]interface{} `json:"attachments"`
	Affixes     []operation.Record     `json:"affixes"`
}

// POST /v1/carriers
func (h *Handler) createCarrier(w http.ResponseWriter, r *http.Request) {
	var req createCarrierRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "carrier name and type are required")
		return
	}
	view, err := h.eng.CreateCarrier(req.Name, req.Type, req.Owner, req.Attachments, req.Affixes)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GET /v1/carriers/{name}
func (h *Handler) getCarrier(w http.ResponseWriter, r *http.Request) {
	view, err := h.eng.Carrier(r.PathValue("name"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GET /v1/carriers/{name}/affixes
func (h *Handler) listAffixes(w http.ResponseWriter, r *http.Request) {
	list, err := h.eng.Affixes(r.PathValue("name"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"affixes": list})
}

// POST /v1/carriers/{name}/affixes
func (h *Handler) addAffix(w http.ResponseWriter, r *http.Request) {
	var rec operation.Record
	if !decode(w, r, &rec) {
		return
	}
	idx, err := h.eng.AddAffix(r.PathValue("name"), rec)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"index": idx})
}

// DELETE /v1/carriers/{name}/affixes removes every affix without undoing it.
func (h *Handler) clearAffixes(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.ClearAffixes(r.PathValue("name")); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

// DELETE /v1/carriers/{name}/affixes/{index}?actor_id=
func (h *Handler) removeAffix(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid index %q", r.PathValue("index")))
		return
	}
	if err := h.eng.RemoveAffix(r.PathValue("name"), idx, r.URL.Query().Get("actor_id")); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": idx})
}

type detachRequest struct {
	Slot    string `json:"slot"`
	ActorID string `json:"actor_id"`
}

// POST /v1/carriers/{name}/detach undoes every affix, as on unequip. The
// body is optional.
func (h *Handler) detach(w http.ResponseWriter, r *http.Request) {
	var req detachRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	res, err := h.eng.Detach(r.PathValue("name"), req.Slot, req.ActorID)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /v1/actors/{id}
func (h *Handler) getActor(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.eng.Actor(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("actor %q not found", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type evaluateRequest struct {
	Expression string                 `json:"expression"`
	ActorID    string                 `json:"actor_id"`
	Vars       map[string]interface{} `json:"vars"`
}

// POST /v1/expressions/evaluate reports expression errors instead of
// swallowing them.
func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := h.eng.Evaluate(req.Expression, req.ActorID, req.Vars)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"value": v.Interface(),
		"kind":  v.Kind().String(),
	})
}

// POST /v1/expressions/cache/clear
func (h *Handler) clearExpressions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": h.eng.ClearExpressionCache()})
}

// POST /v1/config/reload re-reads the config file. Registered OnChange
// callbacks seed what it adds.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusServiceUnavailable, "config reload is not configured")
		return
	}
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": true,
		"version":  cfg.Version,
		"actors":   len(cfg.Actors),
		"carriers": len(cfg.Carriers),
	})
}

// GET /healthz is always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz is 503 while the event queue is more than 80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
			"tick":              h.eng.Tick(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
		"tick":              h.eng.Tick(),
	})
}
