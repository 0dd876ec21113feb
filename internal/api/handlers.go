package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/registry"
	"github.com/sells-group/reconcile-cli/internal/resolve"
	"github.com/sells-group/reconcile-cli/internal/review"
)

// resolveRequest is the POST /api/resolve payload.
type resolveRequest struct {
	MetricName   string               `json:"metric_name"`
	EntityID     string               `json:"entity_id"`
	Period       string               `json:"period"`
	Observations []observationPayload `json:"observations"`
}

type observationPayload struct {
	SourceID   string    `json:"source_id"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MetricName == "" || req.EntityID == "" || req.Period == "" {
		respondError(w, http.StatusBadRequest, "metric_name, entity_id, and period are required")
		return
	}
	if len(req.Observations) == 0 {
		respondError(w, http.StatusBadRequest, "at least one observation is required")
		return
	}

	key := model.MetricKey{
		MetricName: req.MetricName,
		EntityID:   req.EntityID,
		Period:     req.Period,
	}
	obs := make([]model.Observation, 0, len(req.Observations))
	for _, o := range req.Observations {
		obs = append(obs, model.Observation{
			MetricName: req.MetricName,
			EntityID:   req.EntityID,
			Period:     req.Period,
			SourceID:   o.SourceID,
			Value:      o.Value,
			ObservedAt: o.ObservedAt,
		})
	}

	result, err := s.engine.Resolve(r.Context(), key, obs)
	if err != nil {
		var empty *resolve.EmptyObservationSetError
		if errors.As(err, &empty) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		zap.L().Error("api: resolve failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "resolution failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListResolved(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	out, err := s.engine.ListResolved(r.Context(), limit)
	if err != nil {
		zap.L().Error("api: list resolved failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	key := model.MetricKey{
		EntityID:   chi.URLParam(r, "entityID"),
		MetricName: chi.URLParam(r, "metricName"),
		Period:     chi.URLParam(r, "period"),
	}
	rm, err := s.engine.Latest(r.Context(), key)
	if err != nil {
		zap.L().Error("api: latest lookup failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if rm == nil {
		respondError(w, http.StatusNotFound, "no resolved metric for unit")
		return
	}
	respondJSON(w, http.StatusOK, rm)
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	priority := model.ReviewPriority(r.URL.Query().Get("priority"))
	limit := queryInt(r, "limit", 100)

	tasks, err := s.engine.PendingReviews(r.Context(), priority, limit)
	if err != nil {
		zap.L().Error("api: list reviews failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

// decisionRequest is the POST /api/reviews/{taskID}/decision payload.
type decisionRequest struct {
	Decision       model.ReviewDecision `json:"decision"`
	Notes          string               `json:"notes,omitempty"`
	CorrectedValue *float64             `json:"corrected_value,omitempty"`
}

func (s *Server) handleReviewDecision(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.engine.SubmitReviewDecision(r.Context(), taskID, review.Decision{
		Verdict:        req.Decision,
		Notes:          req.Notes,
		CorrectedValue: req.CorrectedValue,
	})
	if err != nil {
		switch {
		case contains(err, "not found"):
			respondError(w, http.StatusNotFound, err.Error())
		case contains(err, "already decided"), contains(err, "unknown decision"):
			respondError(w, http.StatusConflict, err.Error())
		default:
			zap.L().Error("api: review decision failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "decision failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Sources())
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.engine.SourceTrust(chi.URLParam(r, "sourceID"))
	if err != nil {
		var unknown *registry.UnknownSourceError
		if errors.As(err, &unknown) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		zap.L().Error("api: source lookup failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, src)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.metrics.Collect(r.Context(), queryInt(r, "sample", 1000))
	if err != nil {
		zap.L().Error("api: stats collection failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "stats collection failed")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func contains(err error, substr string) bool {
	return err != nil && strings.Contains(err.Error(), substr)
}
