package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/cosmos"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/domain"
)

// dispatch routes a claimed job to the matching backend call, after
// destructuring its open config blob into the typed form for its variant.
// The switch is exhaustive over domain.JobType; rows written with an
// unknown type (the column is free-form at the SQL level) fail here rather
// than at enqueue.
func (s *Service) dispatch(ctx context.Context, job *domain.Job) (map[string]any, error) {
	switch job.Type {
	case domain.JobTypeInference:
		return s.dispatchInference(ctx, job)
	case domain.JobTypeBatchInference:
		return s.dispatchBatchInference(ctx, job)
	case domain.JobTypeEnhancement:
		return s.dispatchEnhancement(ctx, job)
	case domain.JobTypeUpscale:
		return s.dispatchUpscale(ctx, job)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidJobType, job.Type)
	}
}

func (s *Service) dispatchInference(ctx context.Context, job *domain.Job) (map[string]any, error) {
	if len(job.PromptIDs) == 0 {
		return nil, fmt.Errorf("%w: inference job has no prompt ids", domain.ErrInvalidConfig)
	}
	cfg, err := domain.ParseInferenceConfig(job.Config)
	if err != nil {
		return nil, err
	}
	res, err := s.backend.QuickInference(ctx, cosmos.QuickInferenceRequest{
		PromptID:       job.PromptIDs[0],
		Weights:        cfg.Weights,
		Steps:          cfg.Steps,
		Guidance:       cfg.Guidance,
		Seed:           cfg.Seed,
		FPS:            cfg.FPS,
		SigmaMax:       cfg.SigmaMax,
		BlurStrength:   cfg.BlurStrength,
		CannyThreshold: cfg.CannyThreshold,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":           res.Status,
		"output_path":      res.OutputPath,
		"duration_seconds": res.DurationSeconds,
	}, nil
}

func (s *Service) dispatchBatchInference(ctx context.Context, job *domain.Job) (map[string]any, error) {
	if len(job.PromptIDs) == 0 {
		return nil, fmt.Errorf("%w: batch inference job has no prompt ids", domain.ErrInvalidConfig)
	}
	cfg, err := domain.ParseBatchInferenceConfig(job.Config, len(job.PromptIDs))
	if err != nil {
		return nil, err
	}
	res, err := s.backend.BatchInference(ctx, cosmos.BatchInferenceRequest{
		PromptIDs:   job.PromptIDs,
		WeightsList: cfg.WeightsList,
		Steps:       cfg.Steps,
		Guidance:    cfg.Guidance,
		Seed:        cfg.Seed,
		BatchSize:   cfg.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":         res.Status,
		"output_mapping": res.OutputMapping,
	}, nil
}

func (s *Service) dispatchEnhancement(ctx context.Context, job *domain.Job) (map[string]any, error) {
	if len(job.PromptIDs) == 0 {
		return nil, fmt.Errorf("%w: enhancement job has no prompt ids", domain.ErrInvalidConfig)
	}
	cfg, err := domain.ParseEnhancementConfig(job.Config)
	if err != nil {
		return nil, err
	}
	prompt, err := s.prompts.GetByID(ctx, job.PromptIDs[0])
	if err != nil {
		return nil, fmt.Errorf("load prompt %s: %w", job.PromptIDs[0], err)
	}
	res, err := s.backend.EnhancePrompt(ctx, cosmos.EnhanceRequest{
		PromptID:       prompt.ID,
		PromptText:     prompt.Text,
		CreateNew:      cfg.CreateNew,
		Model:          cfg.Model,
		ForceOverwrite: cfg.ForceOverwrite,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":             res.Status,
		"enhanced_prompt_id": res.EnhancedPromptID,
		"run_id":             res.RunID,
	}, nil
}

func (s *Service) dispatchUpscale(ctx context.Context, job *domain.Job) (map[string]any, error) {
	cfg, err := domain.ParseUpscaleConfig(job.Config)
	if err != nil {
		return nil, err
	}
	req := cosmos.UpscaleRequest{
		ControlWeight: cfg.ControlWeight,
		Prompt:        cfg.Prompt,
	}
	if strings.HasPrefix(cfg.VideoSource, "rs_") {
		if _, err := s.runs.GetByID(ctx, cfg.VideoSource); err != nil {
			return nil, fmt.Errorf("upscale source run %s: %w", cfg.VideoSource, err)
		}
		req.RunID = cfg.VideoSource
	} else {
		req.VideoPath = cfg.VideoSource
	}
	res, err := s.backend.Upscale(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":      res.Status,
		"output_path": res.OutputPath,
		"run_id":      res.RunID,
	}, nil
}
