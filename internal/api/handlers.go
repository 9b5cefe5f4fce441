package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"

	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/repository"
	"assetstore/extractor/internal/state"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
)

const defaultJobListLimit = 50

// JobRunner starts a pass in the background.
type JobRunner interface {
	StartJob(ctx context.Context, pass domain.Pass) (domain.Job, error)
}

type Handlers struct {
	runCtx  context.Context
	records repository.RecordRepository
	trees   *repository.TreeStore
	jobs    state.JobTracker
	runner  JobRunner
}

// NewHandlers builds the API handlers. Jobs started through the API run on
// runCtx rather than on the request context.
func NewHandlers(runCtx context.Context, records repository.RecordRepository, trees *repository.TreeStore, jobs state.JobTracker, runner JobRunner) *Handlers {
	return &Handlers{
		runCtx:  runCtx,
		records: records,
		trees:   trees,
		jobs:    jobs,
		runner:  runner,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) ListRecords(w http.ResponseWriter, _ *http.Request) {
	records, err := h.records.List()
	if err != nil {
		log.Errorf("❌ Failed to list records: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []domain.AssetRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	sourceFile, err := url.PathUnescape(chi.URLParam(r, "sourceFile"))
	if err != nil || sourceFile == "" || filepath.Base(sourceFile) != sourceFile || sourceFile == ".." {
		respondError(w, http.StatusBadRequest, "invalid source file")
		return
	}

	record, err := h.records.Load(sourceFile)
	if err != nil {
		var parseErr *repository.ParseError
		if errors.As(err, &parseErr) {
			respondError(w, http.StatusUnprocessableEntity, "stored record is corrupt")
			return
		}
		log.Errorf("❌ Failed to load record %s: %v", sourceFile, err)
		respondError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	if record == nil {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}

	respondJSON(w, http.StatusOK, record)
}

func (h *Handlers) GetCategories(w http.ResponseWriter, _ *http.Request) {
	tree, err := h.trees.Load()
	if err != nil {
		log.Errorf("❌ Failed to load category tree: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load category tree")
		return
	}
	respondJSON(w, http.StatusOK, tree)
}

type createJobRequest struct {
	Pass string `json:"pass"`
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pass, err := domain.ParsePass(req.Pass)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.runner.StartJob(h.runCtx, pass)
	if err != nil {
		log.Errorf("❌ Failed to start %s job: %v", pass, err)
		respondError(w, http.StatusInternalServerError, "failed to start job")
		return
	}

	log.Infof("🚀 Started job %s (%s)", job.ID, job.Pass)
	respondJSON(w, http.StatusAccepted, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := h.jobs.List(r.Context(), limit)
	if err != nil {
		log.Errorf("❌ Failed to list jobs: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, state.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		log.Errorf("❌ Failed to load job: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
