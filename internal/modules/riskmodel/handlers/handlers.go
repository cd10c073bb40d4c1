// Package handlers provides HTTP handlers for risk scoring operations.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/riskscore/internal/modules/explain"
	"github.com/aristath/riskscore/internal/modules/riskmodel"
	"github.com/aristath/riskscore/internal/modules/scoring"
	"github.com/aristath/riskscore/internal/modules/training"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ModelService is the scoring surface the handlers need.
type ModelService interface {
	Score(ctx context.Context, app *scoring.Application) (*riskmodel.ScoreOutput, error)
	Record(ctx context.Context, ref string, out *riskmodel.ScoreOutput)
	History(ctx context.Context, ref string, limit int) ([]scoring.ScoreRecord, error)
	Simulate(ctx context.Context, base scoring.Application, scenarios []scoring.Scenario) (*riskmodel.Simulation, error)
	Stats() riskmodel.Stats
	GlobalImportance(ctx context.Context) ([]explain.FeatureImportance, error)
	LoadAsync(forceRetrain bool)
}

// Handler handles risk scoring HTTP requests
type Handler struct {
	service ModelService
	log     zerolog.Logger
}

// NewHandler creates a new risk scoring handler
func NewHandler(service ModelService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "risk").Logger(),
	}
}

// ScoreRequest is the body of POST /api/risk/score.
type ScoreRequest struct {
	ApplicationID string               `json:"application_id,omitempty"`
	Application   *scoring.Application `json:"application"`
}

// SimulateRequest is the body of POST /api/risk/simulate.
type SimulateRequest struct {
	Base      *scoring.Application `json:"base"`
	Scenarios []scoring.Scenario   `json:"scenarios"`
}

// HandleScore handles POST /api/risk/score
func (h *Handler) HandleScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Application == nil {
		h.writeError(w, http.StatusBadRequest, "application is required")
		return
	}

	out, err := h.service.Score(r.Context(), req.Application)
	if err != nil {
		h.handleServiceError(w, err, "Failed to score application")
		return
	}
	if req.ApplicationID != "" {
		h.service.Record(r.Context(), req.ApplicationID, out)
	}

	h.writeData(w, http.StatusOK, out)
}

// HandleSimulate handles POST /api/risk/simulate
func (h *Handler) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Base == nil {
		h.writeError(w, http.StatusBadRequest, "base is required")
		return
	}

	sim, err := h.service.Simulate(r.Context(), *req.Base, req.Scenarios)
	if err != nil {
		h.handleServiceError(w, err, "Failed to simulate scenarios")
		return
	}

	h.writeData(w, http.StatusOK, sim)
}

// HandleGetStats handles GET /api/risk/model/stats
func (h *Handler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, http.StatusOK, h.service.Stats())
}

// HandleGetImportance handles GET /api/risk/model/importance
func (h *Handler) HandleGetImportance(w http.ResponseWriter, r *http.Request) {
	importance, err := h.service.GlobalImportance(r.Context())
	if err != nil {
		h.handleServiceError(w, err, "Failed to compute global importance")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"features": importance,
	})
}

// HandleLoad handles POST /api/risk/model/load
func (h *Handler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "force must be true or false")
			return
		}
		force = parsed
	}

	h.service.LoadAsync(force)
	h.writeData(w, http.StatusAccepted, map[string]interface{}{
		"status":        "loading",
		"force_retrain": force,
	})
}

// HandleTrain handles POST /api/risk/model/train
func (h *Handler) HandleTrain(w http.ResponseWriter, r *http.Request) {
	h.service.LoadAsync(true)
	h.writeData(w, http.StatusAccepted, map[string]interface{}{
		"status": "training",
	})
}

// HandleGetScores handles GET /api/risk/scores
func (h *Handler) HandleGetScores(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("application_id")
	if ref == "" {
		h.writeError(w, http.StatusBadRequest, "application_id is required")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := h.service.History(r.Context(), ref, limit)
	if err != nil {
		h.handleServiceError(w, err, "Failed to list scores")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"application_id": ref,
		"scores":         records,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

// handleServiceError maps domain errors to status codes.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, scoring.ErrInvalidApplication):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, riskmodel.ErrNotReady), errors.Is(err, explain.ErrExplanation):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusServiceUnavailable, "request cancelled before the model was ready")
	case errors.Is(err, training.ErrTraining):
		h.log.Error().Err(err).Msg(msg)
		h.writeError(w, http.StatusInternalServerError, "model training failed")
	default:
		h.log.Error().Err(err).Msg(msg)
		h.writeError(w, http.StatusInternalServerError, msg)
	}
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
