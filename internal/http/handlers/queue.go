package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/domain"
)

type enqueueRequest struct {
	PromptIDs []string         `json:"prompt_ids"`
	JobType   string           `json:"job_type"`
	Config    domain.JobConfig `json:"config"`
	Priority  int              `json:"priority"`
}

// JobEnqueue adds a job to the queue.
func (a *App) JobEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	jobID, err := a.Queue.AddJob(r.Context(), req.PromptIDs, domain.JobType(req.JobType), req.Config, req.Priority)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidJobType), errors.Is(err, domain.ErrInvalidConfig):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", err.Error())
		default:
			a.error(w, http.StatusInternalServerError, "internal", "failed to enqueue job")
		}
		return
	}
	a.json(w, http.StatusCreated, map[string]string{"id": jobID, "status": string(domain.JobStatusQueued)})
}

// JobGet returns a job's current record. Successfully completed jobs are
// deleted on completion, so they report not found here.
func (a *App) JobGet(w http.ResponseWriter, r *http.Request) {
	job, err := a.Queue.GetJobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, job)
}

// JobCancel cancels a queued job; running and finished jobs are not
// cancellable.
func (a *App) JobCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := a.Queue.CancelJob(r.Context(), id)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		return
	}
	if !ok {
		a.error(w, http.StatusConflict, "conflict", "job is not queued")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.JobStatusCancelled)})
}

// QueueStatus returns the queue snapshot.
func (a *App) QueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.Queue.GetQueueStatus(r.Context())
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load queue status")
		return
	}
	a.json(w, http.StatusOK, status)
}

// QueuePause stops claims; in-flight work continues.
func (a *App) QueuePause(w http.ResponseWriter, r *http.Request) {
	a.Queue.SetPaused(true)
	a.json(w, http.StatusOK, map[string]bool{"paused": true})
}

// QueueResume re-enables claims.
func (a *App) QueueResume(w http.ResponseWriter, r *http.Request) {
	a.Queue.SetPaused(false)
	a.json(w, http.StatusOK, map[string]bool{"paused": false})
}

// QueueClear removes finished (completed/failed/cancelled) rows.
func (a *App) QueueClear(w http.ResponseWriter, r *http.Request) {
	n, err := a.Queue.ClearCompletedJobs(r.Context())
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to clear queue")
		return
	}
	a.json(w, http.StatusOK, map[string]int64{"cleared": n})
}

type batchAnalyzeRequest struct {
	MixControls bool `json:"mix_controls"`
}

// BatchAnalyze plans a queue rewrite without mutating anything.
func (a *App) BatchAnalyze(w http.ResponseWriter, r *http.Request) {
	var req batchAnalyzeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
	}
	analysis, err := a.Batch.Analyze(r.Context(), req.MixControls)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "analysis failed")
		return
	}
	if analysis == nil {
		a.json(w, http.StatusOK, map[string]any{"analysis": nil, "message": "no batchable jobs queued"})
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"mode":    analysis.Mode,
		"batches": len(analysis.Batches),
		"speedup": analysis.Speedup,
		"preview": analysis.Preview,
	})
}

// BatchExecute applies the most recent analysis. A stale analysis (queue
// changed since) is rejected with 409 and nothing is mutated.
func (a *App) BatchExecute(w http.ResponseWriter, r *http.Request) {
	result, err := a.Batch.Execute(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrStaleAnalysis) {
			a.error(w, http.StatusConflict, "stale_analysis", err.Error())
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	a.json(w, http.StatusOK, result)
}
