package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/batch"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/domain"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/http/handlers"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/http/httpapi"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/queue"
)

type stubQueue struct {
	addErr    error
	addedID   string
	cancelOK  bool
	cancelErr error
	status    *queue.Status
	job       *domain.Job
	jobErr    error
	cleared   int64
	paused    bool
}

func (s *stubQueue) AddJob(ctx context.Context, promptIDs []string, jobType domain.JobType, config domain.JobConfig, priority int) (string, error) {
	if s.addErr != nil {
		return "", s.addErr
	}
	return s.addedID, nil
}

func (s *stubQueue) CancelJob(ctx context.Context, jobID string) (bool, error) {
	return s.cancelOK, s.cancelErr
}

func (s *stubQueue) GetJobStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.job, s.jobErr
}

func (s *stubQueue) GetQueueStatus(ctx context.Context) (*queue.Status, error) {
	return s.status, nil
}

func (s *stubQueue) ClearCompletedJobs(ctx context.Context) (int64, error) {
	return s.cleared, nil
}

func (s *stubQueue) SetPaused(paused bool) { s.paused = paused }
func (s *stubQueue) IsPaused() bool        { return s.paused }

type stubBatch struct {
	analysis   *batch.Analysis
	analyzeErr error
	result     *batch.ExecuteResult
	execErr    error
}

func (s *stubBatch) Analyze(ctx context.Context, mixControls bool) (*batch.Analysis, error) {
	return s.analysis, s.analyzeErr
}

func (s *stubBatch) Execute(ctx context.Context) (*batch.ExecuteResult, error) {
	return s.result, s.execErr
}

type stubReader struct {
	run *domain.Run
	err error
}

func (s *stubReader) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return s.run, s.err
}

func (s *stubReader) GetRunWithSync(ctx context.Context, runID string) (*domain.Run, error) {
	return s.run, s.err
}

func (s *stubReader) ListRunsWithSync(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.run == nil {
		return nil, nil
	}
	return []domain.Run{*s.run}, nil
}

type stubRunsRepo struct {
	domain.RunRepository
	ratingErr error
}

func (s *stubRunsRepo) SetRating(ctx context.Context, runID string, rating int) error {
	return s.ratingErr
}

func (s *stubRunsRepo) Delete(ctx context.Context, runID string) error { return nil }

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

func newServer(app *handlers.App) http.Handler {
	return httpapi.NewRouter(app, zerolog.Nop(), nil)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	h := newServer(&handlers.App{Log: zerolog.Nop(), DB: okPinger{}})
	rec, body := doJSON(t, h, http.MethodGet, "/v1/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status ok", body)
	}
}

func TestJobEnqueue(t *testing.T) {
	q := &stubQueue{addedID: "job_123"}
	h := newServer(&handlers.App{Log: zerolog.Nop(), Queue: q})

	rec, body := doJSON(t, h, http.MethodPost, "/v1/queue/jobs", map[string]any{
		"prompt_ids": []string{"ps_1"},
		"job_type":   "inference",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if body["id"] != "job_123" || body["status"] != "queued" {
		t.Errorf("body = %v, want job_123 queued", body)
	}
}

func TestJobEnqueueRejectsBadType(t *testing.T) {
	q := &stubQueue{addErr: domain.ErrInvalidJobType}
	h := newServer(&handlers.App{Log: zerolog.Nop(), Queue: q})

	rec, body := doJSON(t, h, http.MethodPost, "/v1/queue/jobs", map[string]any{"job_type": "transcode"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body["error"] != "bad_request" {
		t.Errorf("body = %v, want bad_request", body)
	}
}

func TestJobEnqueueUnknownPrompt(t *testing.T) {
	q := &stubQueue{addErr: domain.ErrNotFound}
	h := newServer(&handlers.App{Log: zerolog.Nop(), Queue: q})

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/queue/jobs", map[string]any{
		"prompt_ids": []string{"ps_missing"}, "job_type": "inference",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestJobCancelConflict(t *testing.T) {
	q := &stubQueue{cancelOK: false}
	h := newServer(&handlers.App{Log: zerolog.Nop(), Queue: q})

	rec, body := doJSON(t, h, http.MethodPost, "/v1/queue/jobs/job_1/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if body["error"] != "conflict" {
		t.Errorf("body = %v, want conflict", body)
	}
}

func TestQueuePauseResume(t *testing.T) {
	q := &stubQueue{}
	h := newServer(&handlers.App{Log: zerolog.Nop(), Queue: q})

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/queue/pause", nil)
	if rec.Code != http.StatusOK || !q.paused {
		t.Fatalf("pause: status=%d paused=%v", rec.Code, q.paused)
	}
	rec, _ = doJSON(t, h, http.MethodPost, "/v1/queue/resume", nil)
	if rec.Code != http.StatusOK || q.paused {
		t.Fatalf("resume: status=%d paused=%v", rec.Code, q.paused)
	}
}

func TestQueueStatus(t *testing.T) {
	q := &stubQueue{status: &queue.Status{
		TotalQueued: 1,
		Queued:      []queue.QueuedJobInfo{{ID: "job_1", Position: 1, Type: "inference", PromptCount: 1}},
	}}
	h := newServer(&handlers.App{Log: zerolog.Nop(), Queue: q})

	rec, body := doJSON(t, h, http.MethodGet, "/v1/queue/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["total_queued"] != float64(1) {
		t.Errorf("body = %v, want total_queued 1", body)
	}
}

func TestBatchAnalyzeEmptyQueue(t *testing.T) {
	h := newServer(&handlers.App{Log: zerolog.Nop(), Batch: &stubBatch{}})

	rec, body := doJSON(t, h, http.MethodPost, "/v1/queue/batch/analyze", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["message"] != "no batchable jobs queued" {
		t.Errorf("body = %v, want no-batchable message", body)
	}
}

func TestBatchExecuteStale(t *testing.T) {
	h := newServer(&handlers.App{Log: zerolog.Nop(), Batch: &stubBatch{execErr: domain.ErrStaleAnalysis}})

	rec, body := doJSON(t, h, http.MethodPost, "/v1/queue/batch/execute", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if body["error"] != "stale_analysis" {
		t.Errorf("body = %v, want stale_analysis", body)
	}
}

func TestBatchExecuteSuccess(t *testing.T) {
	h := newServer(&handlers.App{Log: zerolog.Nop(), Batch: &stubBatch{
		result: &batch.ExecuteResult{JobsDeleted: 3, BatchesCreated: 1, Speedup: 2.85},
	}})

	rec, body := doJSON(t, h, http.MethodPost, "/v1/queue/batch/execute", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["jobs_deleted"] != float64(3) || body["batches_created"] != float64(1) {
		t.Errorf("body = %v, want 3 deleted / 1 created", body)
	}
}

func TestRunGet(t *testing.T) {
	run := &domain.Run{ID: "rs_1", Status: domain.RunStatusCompleted, CreatedAt: time.Now()}
	h := newServer(&handlers.App{Log: zerolog.Nop(), Reader: &stubReader{run: run}})

	rec, _ := doJSON(t, h, http.MethodGet, "/v1/runs/rs_1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRunGetNotFound(t *testing.T) {
	h := newServer(&handlers.App{Log: zerolog.Nop(), Reader: &stubReader{err: domain.ErrNotFound}})

	rec, _ := doJSON(t, h, http.MethodGet, "/v1/runs/rs_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRunRateInvalid(t *testing.T) {
	h := newServer(&handlers.App{
		Log:  zerolog.Nop(),
		Runs: &stubRunsRepo{ratingErr: domain.ErrInvalidRating},
	})

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/runs/rs_1/rating", map[string]int{"rating": 9})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
