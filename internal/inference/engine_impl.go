package inference

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/samcharles93/textgen/internal/logger"
	"github.com/samcharles93/textgen/internal/logits"
	"github.com/samcharles93/textgen/internal/tokenizer"
)

// EngineImpl binds one Model to one Tokenizer. Generate calls are
// serialised because the model's incremental state is shared.
type EngineImpl struct {
	mu        sync.Mutex
	model     Model
	tokenizer tokenizer.Tokenizer
	defaults  GenDefaults
	log       logger.Logger
}

// NewEngine wraps an already loaded model and tokenizer.
func NewEngine(m Model, tok tokenizer.Tokenizer, defaults GenDefaults, log logger.Logger) *EngineImpl {
	return &EngineImpl{model: m, tokenizer: tok, defaults: defaults, log: log}
}

func (e *EngineImpl) Tokenizer() tokenizer.Tokenizer { return e.tokenizer }
func (e *EngineImpl) Defaults() GenDefaults          { return e.defaults }

func (e *EngineImpl) Close() error {
	if e == nil {
		return nil
	}
	if closer, ok := e.model.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (e *EngineImpl) Generate(ctx context.Context, req *Request, stream StreamFunc) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.log
	if log == nil {
		log = logger.FromContext(ctx)
	}

	gen := e.newGenerator(req, log)
	res, err := gen.Run(ctx, req.Prompt, req.Steps, stream)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *EngineImpl) newGenerator(req *Request, log logger.Logger) *Generator {
	return &Generator{
		Model: e.model,
		Sampler: logits.NewSampler(logits.SamplerConfig{
			Seed:        req.Seed,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			TopK:        req.TopK,
			MinP:        float32(req.MinP),
		}),
		Stream: tokenizer.NewOutputStream(e.tokenizer),
		Config: Config{
			EndMarker:     req.EndMarker,
			SkipEndMarker: req.SkipEndMarker,
			RepeatPenalty: float32(req.RepeatPenalty),
			RepeatLastN:   req.RepeatLastN,
			CapToPrompt:   req.CapToPrompt,
		},
		EchoPrompt: req.EchoPrompt,
		Logger:     log,
	}
}
