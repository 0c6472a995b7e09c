package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/animus-labs/propensity/internal/model"
	"github.com/animus-labs/propensity/internal/pipeline"
	"github.com/animus-labs/propensity/internal/platform/httpserver"
	"github.com/animus-labs/propensity/internal/prediction"
	"github.com/animus-labs/propensity/internal/registry"
	repopg "github.com/animus-labs/propensity/internal/repo/postgres"
)

const maxRecordBytes = 64 << 10

type pipelineRunner interface {
	Run(ctx context.Context) (pipeline.Result, error)
}

type recordPredictor interface {
	Predict(ctx context.Context, rec prediction.Record) (prediction.Label, error)
}

type modelStore interface {
	Exists(ctx context.Context, key string) bool
	Load(ctx context.Context, key string) (*model.Bundle, error)
	Evict(key string)
	Version(ctx context.Context, key string) (registry.Version, error)
}

type runLister interface {
	ListRuns(ctx context.Context, limit int) ([]repopg.RunSummary, error)
}

type propensityAPI struct {
	logger    *slog.Logger
	runner    pipelineRunner
	predictor recordPredictor
	models    modelStore
	modelKey  string
	runs      runLister
}

func (api *propensityAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/train", api.handleTrain)
	mux.HandleFunc("POST /v1/predict", api.handlePredict)
	mux.HandleFunc("GET /v1/model", api.handleModel)
	mux.HandleFunc("GET /v1/model/status", api.handleModelStatus)
	mux.HandleFunc("POST /v1/model/reload", api.handleReload)
	mux.HandleFunc("GET /v1/runs", api.handleListRuns)
}

// handleTrain runs the pipeline detached from the request, so a client that
// disconnects does not abort the run.
func (api *propensityAPI) handleTrain(w http.ResponseWriter, r *http.Request) {
	res, err := api.runner.Run(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		httpserver.WriteError(w, r, http.StatusConflict, "run_in_progress", "")
		return
	case err != nil:
		api.logger.Error("training run failed", "run_id", res.RunID, "error", err)
		httpserver.WriteJSON(w, http.StatusInternalServerError, summarize(res, err))
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, summarize(res, nil))
}

type predictResponse struct {
	Prediction prediction.Label `json:"prediction"`
	ModelKey   string           `json:"model_key"`
}

func (api *propensityAPI) handlePredict(w http.ResponseWriter, r *http.Request) {
	var rec prediction.Record
	if err := httpserver.DecodeJSON(r, maxRecordBytes, &rec); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	label, err := api.predictor.Predict(r.Context(), rec)
	switch {
	case errors.Is(err, prediction.ErrInvalidRecord):
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_record", err.Error())
		return
	case errors.Is(err, prediction.ErrModelNotDeployed):
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, "model_not_deployed", "")
		return
	case err != nil:
		api.logger.Error("prediction failed", "model_key", api.modelKey, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "prediction_failed", "")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, predictResponse{Prediction: label, ModelKey: api.modelKey})
}

type modelResponse struct {
	Key          string             `json:"key"`
	ETag         string             `json:"etag,omitempty"`
	Size         int64              `json:"size"`
	LastModified time.Time          `json:"last_modified"`
	RunID        string             `json:"run_id,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	Metrics      map[string]float64 `json:"metrics"`
}

func (api *propensityAPI) handleModel(w http.ResponseWriter, r *http.Request) {
	api.writeModel(w, r)
}

func (api *propensityAPI) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"key":      api.modelKey,
		"deployed": api.models.Exists(r.Context(), api.modelKey),
	})
}

// handleReload drops the cached bundle and loads whatever is currently
// published.
func (api *propensityAPI) handleReload(w http.ResponseWriter, r *http.Request) {
	api.models.Evict(api.modelKey)
	api.writeModel(w, r)
}

func (api *propensityAPI) writeModel(w http.ResponseWriter, r *http.Request) {
	v, err := api.models.Version(r.Context(), api.modelKey)
	if err != nil {
		api.writeRegistryError(w, r, err)
		return
	}
	b, err := api.models.Load(r.Context(), api.modelKey)
	if err != nil {
		api.writeRegistryError(w, r, err)
		return
	}
	meta := b.Meta()
	httpserver.WriteJSON(w, http.StatusOK, modelResponse{
		Key:          v.Key,
		ETag:         v.ETag,
		Size:         v.Size,
		LastModified: v.LastModified,
		RunID:        meta.RunID,
		CreatedAt:    meta.CreatedAt,
		Metrics:      meta.Metrics,
	})
}

func (api *propensityAPI) writeRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, "model_not_deployed", "")
	case errors.Is(err, registry.ErrCorrupt):
		api.logger.Error("published model is corrupt", "model_key", api.modelKey, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "model_corrupt", "")
	default:
		api.logger.Error("model registry unavailable", "model_key", api.modelKey, "error", err)
		httpserver.WriteError(w, r, http.StatusBadGateway, "registry_unavailable", "")
	}
}

func (api *propensityAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if api.runs == nil {
		httpserver.WriteError(w, r, http.StatusNotFound, "run_ledger_disabled", "")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_limit", "")
			return
		}
		limit = n
	}
	runs, err := api.runs.ListRuns(r.Context(), limit)
	if err != nil {
		api.logger.Error("list runs failed", "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", "")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
