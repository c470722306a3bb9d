package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType enumerates the supported GPU job categories. The set is closed:
// adding a variant requires a matching case in the queue dispatcher.
type JobType string

const (
	JobTypeInference      JobType = "inference"
	JobTypeBatchInference JobType = "batch_inference"
	JobTypeEnhancement    JobType = "enhancement"
	JobTypeUpscale        JobType = "upscale"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeInference, JobTypeBatchInference, JobTypeEnhancement, JobTypeUpscale:
		return true
	}
	return false
}

// Batchable reports whether jobs of this type may be regrouped by the
// smart batching engine. Enhancement and upscale work is not GPU-batchable.
func (t JobType) Batchable() bool {
	return t == JobTypeInference || t == JobTypeBatchInference
}

// JobStatus enumerates queue entry lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobConfig is the open configuration blob persisted with a queue entry.
// It stays schemaless at the storage boundary; the dispatcher destructures
// it into the typed config structs below before any execution logic runs.
type JobConfig map[string]any

// Job is a single queue entry. Jobs reference prompts and runs by id only;
// deleting a job never cascades into either.
type Job struct {
	ID        string
	PromptIDs []string
	Type      JobType
	Status    JobStatus
	Config    JobConfig
	// Priority is stored and surfaced in status output but does not
	// influence claim order; the queue is FIFO by created_at. Reserved.
	Priority    int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      map[string]any
}

// NewJobID returns a fresh prefixed job identifier.
func NewJobID() string {
	return "job_" + uuid.NewString()
}

// Execution parameter defaults. Missing config keys are filled with these
// so that two configs differing only by an omitted-vs-default value are
// treated as identical by the batching engine.
const (
	DefaultSteps          = 35
	DefaultGuidance       = 7.0
	DefaultSeed           = 1
	DefaultFPS            = 24
	DefaultSigmaMax       = 70.0
	DefaultBlurStrength   = "medium"
	DefaultCannyThreshold = "medium"
	DefaultBatchSize      = 4
	DefaultEnhanceModel   = "pixtral"
	DefaultControlWeight  = 0.5
)

// ExecutionParams are the non-weight parameters shared by inference and
// batch inference jobs.
type ExecutionParams struct {
	Steps          int
	Guidance       float64
	Seed           int
	FPS            int
	SigmaMax       float64
	BlurStrength   string
	CannyThreshold string
}

// InferenceConfig is the typed form of a single-prompt inference job config.
type InferenceConfig struct {
	Weights map[string]float64
	ExecutionParams
}

// BatchInferenceConfig is the typed form of a batch inference job config.
// WeightsList is order-aligned with the job's prompt ids.
type BatchInferenceConfig struct {
	WeightsList []map[string]float64
	BatchSize   int
	ExecutionParams
}

// EnhancementConfig is the typed form of a prompt enhancement job config.
type EnhancementConfig struct {
	Model          string
	CreateNew      bool
	ForceOverwrite bool
}

// UpscaleConfig is the typed form of an upscale job config. VideoSource is
// either a filesystem path or a run id (rs_ prefix).
type UpscaleConfig struct {
	VideoSource   string
	ControlWeight float64
	Prompt        string
}

// ParseExecutionParams extracts the shared execution parameters from an
// open config blob, filling defaults for anything missing.
func ParseExecutionParams(cfg JobConfig) ExecutionParams {
	return ExecutionParams{
		Steps:          cfg.Int("steps", DefaultSteps),
		Guidance:       cfg.Float("guidance", DefaultGuidance),
		Seed:           cfg.Int("seed", DefaultSeed),
		FPS:            cfg.Int("fps", DefaultFPS),
		SigmaMax:       cfg.Float("sigma_max", DefaultSigmaMax),
		BlurStrength:   cfg.String("blur_strength", DefaultBlurStrength),
		CannyThreshold: cfg.String("canny_threshold", DefaultCannyThreshold),
	}
}

// ParseInferenceConfig destructures cfg for a single-prompt inference job.
func ParseInferenceConfig(cfg JobConfig) (*InferenceConfig, error) {
	weights, err := cfg.Weights("weights")
	if err != nil {
		return nil, err
	}
	return &InferenceConfig{Weights: weights, ExecutionParams: ParseExecutionParams(cfg)}, nil
}

// ParseBatchInferenceConfig destructures cfg for a batch inference job over
// promptCount prompts. A weights_list must match the prompt count; a legacy
// shared weights map is broadcast to every prompt instead.
func ParseBatchInferenceConfig(cfg JobConfig, promptCount int) (*BatchInferenceConfig, error) {
	out := &BatchInferenceConfig{
		BatchSize:       cfg.Int("batch_size", DefaultBatchSize),
		ExecutionParams: ParseExecutionParams(cfg),
	}
	if raw, ok := cfg["weights_list"]; ok {
		list, err := toWeightsList(raw)
		if err != nil {
			return nil, err
		}
		if len(list) != promptCount {
			return nil, fmt.Errorf("%w: weights_list has %d entries for %d prompts", ErrInvalidConfig, len(list), promptCount)
		}
		out.WeightsList = list
		return out, nil
	}
	shared, err := cfg.Weights("weights")
	if err != nil {
		return nil, err
	}
	out.WeightsList = make([]map[string]float64, promptCount)
	for i := range out.WeightsList {
		out.WeightsList[i] = shared
	}
	return out, nil
}

// ParseEnhancementConfig destructures cfg for an enhancement job.
func ParseEnhancementConfig(cfg JobConfig) (*EnhancementConfig, error) {
	return &EnhancementConfig{
		Model:          cfg.String("model", DefaultEnhanceModel),
		CreateNew:      cfg.Bool("create_new", false),
		ForceOverwrite: cfg.Bool("force_overwrite", false),
	}, nil
}

// ParseUpscaleConfig destructures cfg for an upscale job. video_source is
// mandatory; upscale jobs carry no prompt references.
func ParseUpscaleConfig(cfg JobConfig) (*UpscaleConfig, error) {
	src := cfg.String("video_source", "")
	if src == "" {
		return nil, fmt.Errorf("%w: no video_source in upscale config", ErrInvalidConfig)
	}
	return &UpscaleConfig{
		VideoSource:   src,
		ControlWeight: cfg.Float("control_weight", DefaultControlWeight),
		Prompt:        cfg.String("prompt", ""),
	}, nil
}

// Int reads an integer key, tolerating the float64 shape JSON decoding
// produces for numbers.
func (c JobConfig) Int(key string, fallback int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// Float reads a float key.
func (c JobConfig) Float(key string, fallback float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

// String reads a string key.
func (c JobConfig) String(key, fallback string) string {
	if v, ok := c[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Bool reads a boolean key.
func (c JobConfig) Bool(key string, fallback bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return fallback
}

// Weights reads a control-weight map under key. Missing key yields an
// empty map; a malformed value is an error.
func (c JobConfig) Weights(key string) (map[string]float64, error) {
	raw, ok := c[key]
	if !ok || raw == nil {
		return map[string]float64{}, nil
	}
	return toWeights(raw)
}

func toWeights(raw any) (map[string]float64, error) {
	switch m := raw.(type) {
	case map[string]float64:
		out := make(map[string]float64, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, nil
	case map[string]any:
		out := make(map[string]float64, len(m))
		for k, v := range m {
			switch n := v.(type) {
			case float64:
				out[k] = n
			case int:
				out[k] = float64(n)
			default:
				return nil, fmt.Errorf("%w: weight %q is not numeric", ErrInvalidConfig, k)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: weights is not a map", ErrInvalidConfig)
	}
}

func toWeightsList(raw any) ([]map[string]float64, error) {
	switch l := raw.(type) {
	case []map[string]float64:
		out := make([]map[string]float64, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, nil
	case []any:
		out := make([]map[string]float64, len(l))
		for i, item := range l {
			w, err := toWeights(item)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: weights_list is not a list", ErrInvalidConfig)
	}
}
