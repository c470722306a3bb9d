// Package batch regroups queued inference jobs into GPU-efficient batches.
// Analysis is a pure read over the queue; Execute rewrites the queue in a
// single transaction, guarded by a staleness check so that jobs submitted
// between the two phases are never dropped or duplicated.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/domain"
)

const (
	// strictOverhead is the fixed per-batch cost applied to the strict
	// mode speedup estimate.
	strictOverhead = 0.95
	// mixedControlPenalty is the estimated overhead added per control
	// channel beyond the second in a mixed batch. Heuristic, advisory
	// only; tune freely.
	mixedControlPenalty = 0.1

	ModeStrict = "strict"
	ModeMixed  = "mixed"
)

// JobStore is the slice of job persistence the engine needs.
type JobStore interface {
	ListQueued(ctx context.Context) ([]domain.Job, error)
	ReplaceWithBatches(ctx context.Context, deleteIDs []string, batches []*domain.Job) error
}

// Engine plans and applies queue rewrites. The cached analysis is
// process-local: one engine instance per database.
type Engine struct {
	jobs         JobStore
	maxBatchSize int
	log          zerolog.Logger

	mu       sync.Mutex
	analysis *Analysis
}

// NewEngine builds an engine bounded by maxBatchSize run units per batch.
func NewEngine(jobs JobStore, maxBatchSize int, logger zerolog.Logger) *Engine {
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	return &Engine{jobs: jobs, maxBatchSize: maxBatchSize, log: logger}
}

// runUnit is one prompt's worth of work. A batch_inference job contributes
// one unit per prompt id, each carrying that prompt's own weights.
type runUnit struct {
	promptID   string
	weights    map[string]float64
	params     domain.ExecutionParams
	execSig    string
	controlSig string
	jobID      string
}

// PlannedBatch is one output batch. WeightsList is order-aligned with
// PromptIDs, preserving per-run control distinctness inside the batch.
// Controls is the union of the members' active channels.
type PlannedBatch struct {
	PromptIDs   []string
	WeightsList []map[string]float64
	Params      domain.ExecutionParams
	Controls    []string
}

// Analysis is the result of one planning pass.
type Analysis struct {
	Mode    string
	Batches []PlannedBatch
	Speedup float64
	Preview string

	snapshotCount int
	sourceJobIDs  []string
}

// ExecuteResult reports what a queue rewrite changed.
type ExecuteResult struct {
	JobsDeleted    int     `json:"jobs_deleted"`
	BatchesCreated int     `json:"batches_created"`
	Speedup        float64 `json:"speedup"`
}

// Analyze plans batches over the current queued inference jobs without
// mutating anything. Returns nil when no batchable job is queued. The plan
// is cached for a subsequent Execute.
func (e *Engine) Analyze(ctx context.Context, mixControls bool) (*Analysis, error) {
	jobs, err := e.batchableQueued(ctx)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		e.mu.Lock()
		e.analysis = nil
		e.mu.Unlock()
		return nil, nil
	}

	units := make([]runUnit, 0, len(jobs))
	jobIDs := make([]string, 0, len(jobs))
	for _, job := range jobs {
		jobIDs = append(jobIDs, job.ID)
		expanded, err := expandJob(job)
		if err != nil {
			return nil, fmt.Errorf("batch: job %s: %w", job.ID, err)
		}
		units = append(units, expanded...)
	}

	mode := ModeStrict
	if mixControls {
		mode = ModeMixed
	}
	groups := groupUnits(units, mixControls)
	batches := make([]PlannedBatch, 0, len(groups))
	for _, group := range groups {
		batches = append(batches, chunk(group, e.maxBatchSize)...)
	}

	analysis := &Analysis{
		Mode:          mode,
		Batches:       batches,
		Speedup:       estimateSpeedup(mode, len(units), batches),
		snapshotCount: len(jobs),
		sourceJobIDs:  jobIDs,
	}
	analysis.Preview = preview(analysis, len(units))

	e.mu.Lock()
	e.analysis = analysis
	e.mu.Unlock()
	e.log.Info().Str("mode", mode).Int("jobs", len(jobs)).Int("batches", len(batches)).Float64("speedup", analysis.Speedup).Msg("batch: analysis complete")
	return analysis, nil
}

// Execute applies the cached analysis: deletes the analyzed jobs and
// enqueues one batch_inference job per planned batch, all in one
// transaction. If the queued batchable job count changed since Analyze,
// domain.ErrStaleAnalysis is returned and nothing is mutated.
func (e *Engine) Execute(ctx context.Context) (*ExecuteResult, error) {
	e.mu.Lock()
	analysis := e.analysis
	e.mu.Unlock()
	if analysis == nil {
		return nil, fmt.Errorf("batch: no analysis to execute, call analyze first")
	}

	live, err := e.batchableQueued(ctx)
	if err != nil {
		return nil, err
	}
	if len(live) != analysis.snapshotCount {
		return nil, domain.ErrStaleAnalysis
	}

	newJobs := make([]*domain.Job, 0, len(analysis.Batches))
	for _, b := range analysis.Batches {
		newJobs = append(newJobs, &domain.Job{
			ID:        domain.NewJobID(),
			PromptIDs: b.PromptIDs,
			Type:      domain.JobTypeBatchInference,
			Status:    domain.JobStatusQueued,
			Config:    batchConfig(b),
		})
	}
	if err := e.jobs.ReplaceWithBatches(ctx, analysis.sourceJobIDs, newJobs); err != nil {
		return nil, fmt.Errorf("batch: rewrite queue: %w", err)
	}

	e.mu.Lock()
	e.analysis = nil
	e.mu.Unlock()
	e.log.Info().Int("deleted", len(analysis.sourceJobIDs)).Int("created", len(newJobs)).Msg("batch: queue rewritten")
	return &ExecuteResult{
		JobsDeleted:    len(analysis.sourceJobIDs),
		BatchesCreated: len(newJobs),
		Speedup:        analysis.Speedup,
	}, nil
}

func (e *Engine) batchableQueued(ctx context.Context) ([]domain.Job, error) {
	queued, err := e.jobs.ListQueued(ctx)
	if err != nil {
		return nil, err
	}
	out := queued[:0]
	for _, job := range queued {
		if job.Type.Batchable() {
			out = append(out, job)
		}
	}
	return out, nil
}

// expandJob turns a job into independent run units, one per prompt id.
func expandJob(job domain.Job) ([]runUnit, error) {
	params := domain.ParseExecutionParams(job.Config)
	execSig, err := executionSignature(params)
	if err != nil {
		return nil, err
	}

	var weightsFor func(i int) (map[string]float64, error)
	if job.Type == domain.JobTypeBatchInference {
		cfg, err := domain.ParseBatchInferenceConfig(job.Config, len(job.PromptIDs))
		if err != nil {
			return nil, err
		}
		weightsFor = func(i int) (map[string]float64, error) { return cfg.WeightsList[i], nil }
	} else {
		cfg, err := domain.ParseInferenceConfig(job.Config)
		if err != nil {
			return nil, err
		}
		weightsFor = func(int) (map[string]float64, error) { return cfg.Weights, nil }
	}

	units := make([]runUnit, 0, len(job.PromptIDs))
	for i, promptID := range job.PromptIDs {
		weights, err := weightsFor(i)
		if err != nil {
			return nil, err
		}
		units = append(units, runUnit{
			promptID:   promptID,
			weights:    weights,
			params:     params,
			execSig:    execSig,
			controlSig: controlSignature(weights),
			jobID:      job.ID,
		})
	}
	return units, nil
}

// executionSignature canonicalizes the non-weight execution parameters.
// Defaults are already filled in, so an omitted value and an explicit
// default produce the same signature.
func executionSignature(p domain.ExecutionParams) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// controlSignature is the sorted tuple of active control channels
// (weight > 0).
func controlSignature(weights map[string]float64) string {
	active := activeControls(weights)
	if len(active) == 0 {
		return "none"
	}
	return strings.Join(active, "+")
}

func activeControls(weights map[string]float64) []string {
	active := make([]string, 0, len(weights))
	for name, w := range weights {
		if w > 0 {
			active = append(active, name)
		}
	}
	sort.Strings(active)
	return active
}

// groupUnits buckets run units by grouping key: execution signature plus
// control signature in strict mode, execution signature alone in mixed
// mode. Group order is deterministic.
func groupUnits(units []runUnit, mixControls bool) [][]runUnit {
	byKey := make(map[string][]runUnit)
	keys := make([]string, 0)
	for _, u := range units {
		key := u.execSig
		if !mixControls {
			key += "|" + u.controlSig
		}
		if _, seen := byKey[key]; !seen {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], u)
	}
	sort.Strings(keys)
	groups := make([][]runUnit, 0, len(keys))
	for _, key := range keys {
		groups = append(groups, byKey[key])
	}
	return groups
}

// chunk splits a group into batches of at most maxBatchSize units.
func chunk(group []runUnit, maxBatchSize int) []PlannedBatch {
	batches := make([]PlannedBatch, 0, (len(group)+maxBatchSize-1)/maxBatchSize)
	for start := 0; start < len(group); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(group) {
			end = len(group)
		}
		members := group[start:end]
		b := PlannedBatch{
			PromptIDs:   make([]string, 0, len(members)),
			WeightsList: make([]map[string]float64, 0, len(members)),
			Params:      members[0].params,
		}
		union := map[string]float64{}
		for _, u := range members {
			b.PromptIDs = append(b.PromptIDs, u.promptID)
			b.WeightsList = append(b.WeightsList, u.weights)
			for name, w := range u.weights {
				if w > union[name] {
					union[name] = w
				}
			}
		}
		b.Controls = activeControls(union)
		batches = append(batches, b)
	}
	return batches
}

// estimateSpeedup is the advisory efficiency estimate: run count over
// batch count, discounted by the fixed strict overhead or by the average
// control-diversity overhead in mixed mode. When nothing merged the
// estimate is exactly 1.0.
func estimateSpeedup(mode string, totalUnits int, batches []PlannedBatch) float64 {
	if len(batches) == 0 || totalUnits == len(batches) {
		return 1.0
	}
	speedup := float64(totalUnits) / float64(len(batches))
	if mode == ModeStrict {
		return speedup * strictOverhead
	}
	var totalOverhead float64
	for _, b := range batches {
		overhead := 1.0
		if extra := len(b.Controls) - 2; extra > 0 {
			overhead += mixedControlPenalty * float64(extra)
		}
		totalOverhead += overhead
	}
	return speedup / (totalOverhead / float64(len(batches)))
}

func batchConfig(b PlannedBatch) domain.JobConfig {
	weightsList := make([]any, len(b.WeightsList))
	for i, w := range b.WeightsList {
		weightsList[i] = w
	}
	return domain.JobConfig{
		"steps":           b.Params.Steps,
		"guidance":        b.Params.Guidance,
		"seed":            b.Params.Seed,
		"fps":             b.Params.FPS,
		"sigma_max":       b.Params.SigmaMax,
		"blur_strength":   b.Params.BlurStrength,
		"canny_threshold": b.Params.CannyThreshold,
		"weights_list":    weightsList,
		"batch_size":      len(b.PromptIDs),
		"controls":        b.Controls,
	}
}

func preview(a *Analysis, totalUnits int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s mode: %d runs -> %d batches (est. %.2fx)\n", a.Mode, totalUnits, len(a.Batches), a.Speedup)
	for i, b := range a.Batches {
		controls := strings.Join(b.Controls, "+")
		if controls == "" {
			controls = "none"
		}
		fmt.Fprintf(&sb, "  batch %d: %d runs, controls [%s]\n", i+1, len(b.PromptIDs), controls)
	}
	return sb.String()
}
