package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samcharles93/textgen/internal/inference"
	"github.com/samcharles93/textgen/internal/logger"
)

// DefaultMaxTokens applies when a request sets no max_tokens.
const DefaultMaxTokens = 256

type StreamWriter interface {
	Begin(g Generation) error
	EmitDelta(delta string) error
	Complete(g Generation) error
	Failed(g Generation, err error) error
	Incomplete(g Generation, reason string) error
}

type GenerationService struct {
	provider         EngineProvider
	defaultMaxTokens int
	clock            func() time.Time
	log              logger.Logger
}

func NewGenerationService(provider EngineProvider, log logger.Logger) *GenerationService {
	if log == nil {
		log = logger.Discard()
	}
	return &GenerationService{
		provider:         provider,
		defaultMaxTokens: DefaultMaxTokens,
		clock:            time.Now,
		log:              log,
	}
}

func (s *GenerationService) SetDefaultMaxTokens(n int) {
	if n > 0 {
		s.defaultMaxTokens = n
	}
}

// Generate runs one request. When stream is non-nil, deltas are written as
// they are produced and the terminal event is written before returning.
// A non-nil Generation is returned whenever the run got as far as starting.
func (s *GenerationService) Generate(ctx context.Context, req *GenerateRequest, stream StreamWriter) (*Generation, error) {
	if req == nil || req.Prompt == nil {
		return nil, newInvalidRequest("prompt is required")
	}

	gen := Generation{
		ID:        newGenerationID(),
		Object:    "generation",
		CreatedAt: s.clock().Unix(),
		Model:     req.Model,
		Status:    StatusInProgress,
	}
	log := s.log.With("id", gen.ID, "model", req.Model)

	var (
		result    *inference.Result
		begun     bool
		delivered strings.Builder
	)
	err := s.provider.WithEngine(ctx, req.Model, func(engine inference.Engine, defaults inference.GenDefaults) error {
		ireq := s.toInferenceRequest(req, defaults)
		if err := ireq.Validate(); err != nil {
			return newInvalidRequest(err.Error())
		}
		if stream != nil {
			if err := stream.Begin(gen); err != nil {
				return err
			}
			begun = true
		}

		var streamErr error
		var cb inference.StreamFunc
		if stream != nil {
			cb = func(delta string) {
				if streamErr == nil {
					streamErr = stream.EmitDelta(delta)
					if streamErr == nil {
						delivered.WriteString(delta)
					}
				}
			}
		}
		res, err := engine.Generate(ctx, &ireq, cb)
		if err != nil {
			return err
		}
		result = res
		return streamErr
	})

	if err != nil {
		if errors.Is(err, inference.ErrInvalidRequest) {
			err = newInvalidRequest(err.Error())
		}
		if !begun {
			return nil, err
		}
		gen.Text = delivered.String()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			gen.Status = StatusIncomplete
			gen.IncompleteDetails = &IncompleteDetails{Reason: "cancelled"}
			log.Info("generation cancelled")
			_ = stream.Incomplete(gen, "cancelled")
			return &gen, err
		}
		gen.Status = StatusFailed
		gen.Error = &APIError{Message: err.Error(), Type: "server_error"}
		log.Error("generation failed", "error", err)
		_ = stream.Failed(gen, err)
		return &gen, err
	}

	s.finish(&gen, result)
	log.Debug("generation finished", "status", gen.Status, "tokens", result.Stats.TokensGenerated)
	if stream != nil {
		if err := stream.Complete(gen); err != nil {
			return &gen, err
		}
	}
	return &gen, nil
}

func (s *GenerationService) finish(gen *Generation, res *inference.Result) {
	now := s.clock().Unix()
	gen.CompletedAt = &now
	gen.Text = res.Text
	gen.PromptText = res.PromptText
	gen.StopReason = res.StopReason
	gen.Usage = &Usage{
		PromptTokens:     res.Stats.PromptTokens,
		CompletionTokens: res.Stats.TokensGenerated,
		TotalTokens:      res.Stats.PromptTokens + res.Stats.TokensGenerated,
		TokensPerSecond:  res.Stats.TPS,
	}
	if res.StopReason == inference.StopReasonMaxTokens {
		gen.Status = StatusIncomplete
		gen.IncompleteDetails = &IncompleteDetails{Reason: inference.StopReasonMaxTokens}
		return
	}
	gen.Status = StatusCompleted
}

func (s *GenerationService) toInferenceRequest(req *GenerateRequest, defaults inference.GenDefaults) inference.Request {
	steps := s.defaultMaxTokens
	if req.MaxTokens != nil {
		steps = *req.MaxTokens
	}
	return inference.ResolveRequest(inference.RequestOptions{
		Prompt:        *req.Prompt,
		Steps:         &steps,
		Seed:          req.Seed,
		Greedy:        req.Greedy,
		Temperature:   req.Temperature,
		TopK:          req.TopK,
		TopP:          req.TopP,
		MinP:          req.MinP,
		RepeatPenalty: req.RepeatPenalty,
		RepeatLastN:   req.RepeatLastN,
		EndMarker:     req.EndMarker,
		SkipEndMarker: req.SkipEndMarker,
		CapToPrompt:   req.CapToPrompt,
		EchoPrompt:    req.EchoPrompt,
	}, defaults)
}
