package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"newspulse/aggregator/internal/process"
)

const (
	maxAnalyzeBody = 64 << 10
	// maxRefreshDuration bounds a cycle started over HTTP.
	maxRefreshDuration = 30 * time.Minute
)

// Pipeline is the trigger and scoring surface of the orchestrator.
type Pipeline interface {
	TriggerRefresh(ctx context.Context) (process.RefreshResult, error)
	AnalyzeText(text string) process.TextAnalysis
	Running() bool
	LastResult() (process.RefreshResult, bool)
}

// StatusResponse describes the refresh state.
type StatusResponse struct {
	Running    bool                   `json:"running"`
	LastResult *process.RefreshResult `json:"last_result,omitempty"`
}

// AnalyzeRequest is the body of POST /v1/analyze.
type AnalyzeRequest struct {
	Text string `json:"text"`
}

// PipelineHandler serves the refresh and analyze endpoints.
type PipelineHandler struct {
	pipeline Pipeline
}

// NewPipelineHandler creates a handler over p.
func NewPipelineHandler(p Pipeline) *PipelineHandler {
	return &PipelineHandler{pipeline: p}
}

// Refresh runs a cycle synchronously. Partial failures still answer 200 with
// the error summary.
func (h *PipelineHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Info().Msg("Manual refresh requested")

	// The cycle is not tied to the connection: a client that goes away does
	// not cut it short.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), maxRefreshDuration)
	defer cancel()

	res, err := h.pipeline.TriggerRefresh(ctx)
	switch {
	case errors.Is(err, process.ErrRefreshInProgress):
		writeError(w, log, http.StatusConflict, err.Error())
	case errors.Is(err, process.ErrStoreUnavailable):
		log.Error().Err(err).Msg("Refresh aborted")
		writeError(w, log, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		log.Error().Err(err).Str("run_id", res.RunID).Msg("Refresh failed")
		writeError(w, log, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, log, http.StatusOK, res)
	}
}

// Status reports whether a cycle runs and the last summary.
func (h *PipelineHandler) Status(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	resp := StatusResponse{Running: h.pipeline.Running()}
	if last, ok := h.pipeline.LastResult(); ok {
		resp.LastResult = &last
	}
	writeJSON(w, log, http.StatusOK, resp)
}

// Analyze scores the posted text.
func (h *PipelineHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	var req AnalyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalyzeBody))
	if err := dec.Decode(&req); err != nil {
		log.Warn().Err(err).Msg("Invalid analyze request body")
		writeError(w, log, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, log, http.StatusBadRequest, "'text' is required")
		return
	}

	writeJSON(w, log, http.StatusOK, h.pipeline.AnalyzeText(req.Text))
}
