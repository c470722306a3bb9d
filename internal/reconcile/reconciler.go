// Package reconcile bridges persisted run status and the true state of
// execution on the remote GPU host. Reads of non-terminal runs pull the
// authoritative state lazily; the backend never pushes updates.
package reconcile

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/cosmos"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/domain"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/storage"
)

// checkTTL is how long a reconciliation check is trusted before the next
// read may probe the backend again. Keeps a polling UI from hammering the
// remote host.
const checkTTL = 10 * time.Second

// Service reconciles run rows against the backend. Reconciliation is
// best-effort: any backend error leaves the stored snapshot untouched and
// is never surfaced to the read path that triggered it.
type Service struct {
	runs    domain.RunRepository
	backend cosmos.Backend
	store   *storage.FileStore
	log     zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	checked map[string]time.Time
}

// NewService builds a reconciler writing downloaded artifacts into store.
func NewService(runs domain.RunRepository, backend cosmos.Backend, store *storage.FileStore, logger zerolog.Logger) *Service {
	return &Service{
		runs:    runs,
		backend: backend,
		store:   store,
		log:     logger,
		now:     time.Now,
		checked: make(map[string]time.Time),
	}
}

// GetRun fetches a run without touching the backend.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return s.runs.GetByID(ctx, runID)
}

// GetRunWithSync fetches a run and reconciles it when its stored status is
// non-terminal. The read can mutate the row; the name makes the side
// effect explicit.
func (s *Service) GetRunWithSync(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.SyncRunStatus(ctx, run), nil
}

// ListRunsWithSync returns a page of runs, each reconciled independently.
// One row's reconciliation problem never affects the rest of the page.
func (s *Service) ListRunsWithSync(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	runs, err := s.runs.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		runs[i] = *s.SyncRunStatus(ctx, &runs[i])
	}
	return runs, nil
}

// SyncRunStatus folds the backend's view of the run into the snapshot.
// Terminal runs short-circuit, recently checked runs hit the cache, and
// any backend error returns the snapshot unchanged.
func (s *Service) SyncRunStatus(ctx context.Context, run *domain.Run) *domain.Run {
	if run.Status.Terminal() {
		return run
	}
	if !s.shouldCheck(run.ID) {
		return run
	}

	state, err := s.backend.ContainerState(ctx, s.containerName(run))
	if err != nil {
		s.log.Debug().Err(err).Str("run_id", run.ID).Msg("reconcile: container probe failed")
		return run
	}
	if state.Running {
		return run
	}

	// The container wrapper can exit 0 while the inner job failed (and
	// vice versa); the log marker is authoritative when present.
	exitCode, found, err := s.backend.ReadCompletionMarker(ctx, run.LogPath)
	if err != nil {
		s.log.Debug().Err(err).Str("run_id", run.ID).Msg("reconcile: log read failed")
		return run
	}
	if !found {
		exitCode = state.ExitCode
	}

	if exitCode == 0 {
		return s.complete(ctx, run)
	}
	return s.fail(ctx, run, fmt.Sprintf("execution exited with code %d", exitCode))
}

func (s *Service) complete(ctx context.Context, run *domain.Run) *domain.Run {
	files, err := s.backend.DownloadOutputs(ctx, run.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("run_id", run.ID).Msg("reconcile: output download failed")
		return run
	}
	outputs := make(map[string]any, len(files))
	for name, data := range files {
		key, err := s.store.Write(ctx, path.Join("run_"+run.ID, name), data)
		if err != nil {
			s.log.Warn().Err(err).Str("run_id", run.ID).Str("file", name).Msg("reconcile: persist output failed")
			return run
		}
		outputs[name] = key
	}
	run.Outputs = outputs
	run.MarkCompleted(s.now())
	if err := s.runs.Update(ctx, run); err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("reconcile: persist completion failed")
		return run
	}
	s.log.Info().Str("run_id", run.ID).Int("outputs", len(outputs)).Msg("reconcile: run completed")
	return run
}

func (s *Service) fail(ctx context.Context, run *domain.Run, msg string) *domain.Run {
	run.MarkFailed(s.now(), msg)
	if err := s.runs.Update(ctx, run); err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("reconcile: persist failure failed")
		return run
	}
	s.log.Info().Str("run_id", run.ID).Str("error", msg).Msg("reconcile: run failed")
	return run
}

// shouldCheck records the probe attempt and reports whether the TTL since
// the previous one has elapsed.
func (s *Service) shouldCheck(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if last, ok := s.checked[runID]; ok && now.Sub(last) < checkTTL {
		return false
	}
	s.checked[runID] = now
	return true
}

func (s *Service) containerName(run *domain.Run) string {
	if run.Metadata != nil {
		if name, ok := run.Metadata["container_name"].(string); ok && name != "" {
			return name
		}
	}
	return run.ID
}
