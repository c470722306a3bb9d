package cosmos

import "context"

// QuickInferenceRequest carries everything a single-prompt generation needs.
type QuickInferenceRequest struct {
	PromptID       string
	Weights        map[string]float64
	Steps          int
	Guidance       float64
	Seed           int
	FPS            int
	SigmaMax       float64
	BlurStrength   string
	CannyThreshold string
}

// BatchInferenceRequest carries a multi-prompt generation. WeightsList is
// order-aligned with PromptIDs.
type BatchInferenceRequest struct {
	PromptIDs   []string
	WeightsList []map[string]float64
	Steps       int
	Guidance    float64
	Seed        int
	BatchSize   int
}

// EnhanceRequest asks the backend to rewrite a prompt with an upsampler
// model. PromptText is passed along so the offline fallback can operate
// without store access.
type EnhanceRequest struct {
	PromptID       string
	PromptText     string
	CreateNew      bool
	Model          string
	ForceOverwrite bool
}

// UpscaleRequest targets either an existing run's output or a raw video
// path. Exactly one of RunID and VideoPath is set.
type UpscaleRequest struct {
	RunID         string
	VideoPath     string
	ControlWeight float64
	Prompt        string
}

type InferenceResult struct {
	Status          string
	OutputPath      string
	DurationSeconds float64
}

type BatchResult struct {
	Status        string
	OutputMapping map[string]string
}

type EnhanceResult struct {
	Status           string
	EnhancedPromptID string
	EnhancedText     string
	RunID            string
}

type UpscaleResult struct {
	Status     string
	OutputPath string
	RunID      string
}

// Container describes one active execution container on the GPU host.
type Container struct {
	ID     string
	Status string
}

// ContainerState is the probe result for a named container.
type ContainerState struct {
	Running  bool
	ExitCode int
}

// Backend is the execution capability consumed by the queue service and
// the status reconciler. Implementations talk to the remote GPU host; the
// orchestrator treats it as a black box.
type Backend interface {
	QuickInference(ctx context.Context, req QuickInferenceRequest) (*InferenceResult, error)
	BatchInference(ctx context.Context, req BatchInferenceRequest) (*BatchResult, error)
	EnhancePrompt(ctx context.Context, req EnhanceRequest) (*EnhanceResult, error)
	Upscale(ctx context.Context, req UpscaleRequest) (*UpscaleResult, error)
	GetActiveContainers(ctx context.Context) ([]Container, error)

	// ContainerState probes a single container by name.
	ContainerState(ctx context.Context, name string) (*ContainerState, error)
	// ReadCompletionMarker scans the remote log at logPath for the
	// completion sentinel and returns the inner exit code when present.
	ReadCompletionMarker(ctx context.Context, logPath string) (exitCode int, found bool, err error)
	// DownloadOutputs fetches the run's output artifacts keyed by file name.
	DownloadOutputs(ctx context.Context, runID string) (map[string][]byte, error)
}
