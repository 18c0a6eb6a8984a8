// Package handlers provides HTTP handlers for dominance-constrained
// optimisation and run history.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/hosd/internal/modules/dominance"
	"github.com/aristath/hosd/internal/modules/runs"
	"github.com/aristath/hosd/internal/modules/scenarios"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds request bodies; scenario matrices can be large
const maxBodyBytes = 32 << 20

// RunService executes optimisation runs
type RunService interface {
	Run(ctx context.Context, p dominance.Problem, initial *dominance.Components) (*runs.Run, error)
	RunBatch(ctx context.Context, problems []dominance.Problem, initial []*dominance.Components) ([]runs.BatchItem, error)
}

// RunStore reads persisted runs
type RunStore interface {
	Get(ctx context.Context, id string) (*runs.Run, error)
	Rounds(ctx context.Context, id string) ([]runs.Round, error)
	List(ctx context.Context, opts runs.ListOptions) ([]runs.Run, error)
}

// Handler handles optimisation HTTP requests
type Handler struct {
	service  RunService
	store    RunStore
	maxBatch int
	log      zerolog.Logger
}

// NewHandler creates a new optimisation handler. maxBatch limits the number
// of problems in one batch request (unlimited when <= 0).
func NewHandler(service RunService, store RunStore, maxBatch int, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		store:    store,
		maxBatch: maxBatch,
		log:      log.With().Str("handler", "dominance").Logger(),
	}
}

// OptimizeRequest is the body of POST /optimize
type OptimizeRequest struct {
	Problem      dominance.Problem     `json:"problem"`
	InitialGuess *dominance.Components `json:"initial_guess,omitempty"`
}

// BatchRequest is the body of POST /optimize/batch. InitialGuesses is
// optional; when given it holds one entry per problem, null for the default.
type BatchRequest struct {
	Problems       []dominance.Problem     `json:"problems"`
	InitialGuesses []*dominance.Components `json:"initial_guesses,omitempty"`
}

// HandleOptimize handles POST /api/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if !h.decode(w, r, &req) {
		return
	}

	run, err := h.service.Run(r.Context(), req.Problem, req.InitialGuess)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(run))
}

// HandleOptimizeBatch handles POST /api/optimize/batch
func (h *Handler) HandleOptimizeBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Problems) == 0 {
		http.Error(w, "No problems given", http.StatusBadRequest)
		return
	}
	if h.maxBatch > 0 && len(req.Problems) > h.maxBatch {
		http.Error(w, "Too many problems in batch (max "+strconv.Itoa(h.maxBatch)+")", http.StatusBadRequest)
		return
	}

	if len(req.InitialGuesses) != 0 && len(req.InitialGuesses) != len(req.Problems) {
		http.Error(w, "initial_guesses must have one entry per problem", http.StatusBadRequest)
		return
	}

	items, err := h.service.RunBatch(r.Context(), req.Problems, req.InitialGuesses)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"items": items,
		"count": len(items),
	}))
}

// HandleBuildProblem handles POST /api/scenarios/problem. It converts price
// histories into a problem and returns it with summary statistics so it can
// be inspected before optimising.
func (h *Handler) HandleBuildProblem(w http.ResponseWriter, r *http.Request) {
	var req scenarios.Request
	if !h.decode(w, r, &req) {
		return
	}

	p, err := scenarios.Build(req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"problem": p,
		"summary": scenarios.Summarize(p),
	}))
}

// HandleListRuns handles GET /api/runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := runs.ListOptions{Status: runs.Status(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}

	list, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"runs":  list,
		"count": len(list),
	}))
}

// HandleGetRun handles GET /api/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	rounds, err := h.store.Rounds(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"run":    run,
		"rounds": rounds,
	}))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.log.Debug().Err(err).Msg("Invalid request body")
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps domain errors to status codes
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dominance.ErrInvalidProblem), errors.Is(err, scenarios.ErrInsufficientData):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, runs.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
	default:
		h.log.Error().Err(err).Msg("Request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}
