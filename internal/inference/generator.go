package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samcharles93/textgen/internal/logger"
	"github.com/samcharles93/textgen/internal/logits"
	"github.com/samcharles93/textgen/internal/tokenizer"
)

var tracer = otel.Tracer("github.com/samcharles93/textgen/internal/inference")

// DefaultEndMarker is appended to prompts and used as the stop token.
const DefaultEndMarker = "<eos>"

// Stop reasons reported in Result.StopReason.
const (
	StopReasonEOS       = "eos"
	StopReasonMaxTokens = "max_tokens"
)

// State is the lifecycle position of a Generator run.
type State int

const (
	StateIdle State = iota
	StatePromptEncoded
	StateGenerating
	StateStopped
	StateBudgetExhausted
	StateFlushed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePromptEncoded:
		return "prompt_encoded"
	case StateGenerating:
		return "generating"
	case StateStopped:
		return "stopped"
	case StateBudgetExhausted:
		return "budget_exhausted"
	case StateFlushed:
		return "flushed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the per-run policy that is not part of sampling.
type Config struct {
	// EndMarker closes the prompt and names the stop token.
	EndMarker string
	// SkipEndMarker encodes the prompt as-is. The marker is still used to
	// resolve the stop token.
	SkipEndMarker bool
	// RepeatPenalty of 1 (or the zero value) disables the penalty.
	RepeatPenalty float32
	RepeatLastN   int
	// CapToPrompt limits the budget to min(prompt tokens, max new tokens).
	CapToPrompt bool
}

func DefaultConfig() Config {
	return Config{
		EndMarker:     DefaultEndMarker,
		RepeatPenalty: 1,
		RepeatLastN:   64,
	}
}

type Stats struct {
	PromptTokens    int
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

type Result struct {
	// Text is the generated continuation, excluding the prompt echo.
	Text       string
	PromptText string
	Tokens     []int
	State      State
	StopReason string
	Stats      Stats
}

// Generator drives one autoregressive run at a time. The Model, the
// OutputStream and the token history are mutated in strict sequence, so a
// Generator must not be used from more than one goroutine.
type Generator struct {
	Model   Model
	Sampler TokenSampler
	Stream  *tokenizer.OutputStream
	Config  Config
	// EchoPrompt forwards prompt fragments to the stream callback as well.
	EchoPrompt bool
	Logger     logger.Logger

	tokens []int
	primed bool
	state  State
	work   []float32
}

// State reports where the last (or current) run stands.
func (g *Generator) State() State { return g.state }

// Primed reports whether the model has consumed the full prompt, after
// which each step feeds a single token.
func (g *Generator) Primed() bool { return g.primed }

// Tokens is the prompt plus every sampled token of the last run.
func (g *Generator) Tokens() []int { return g.tokens }

// Run encodes prompt, replays it through the output stream and samples up
// to maxNew tokens. Answer fragments go to stream as soon as they are
// complete. A forward or sampling failure aborts the run with an
// ErrInference error; fragments already delivered are not retracted.
func (g *Generator) Run(ctx context.Context, prompt string, maxNew int, stream StreamFunc) (res *Result, err error) {
	if g.Model == nil || g.Sampler == nil || g.Stream == nil {
		return nil, fmt.Errorf("%w: generator requires a model, sampler and output stream", ErrInvalidRequest)
	}
	if maxNew < 0 {
		return nil, fmt.Errorf("%w: max new tokens must be >= 0, got %d", ErrInvalidRequest, maxNew)
	}
	log := g.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}
	endMarker := g.Config.EndMarker
	if endMarker == "" {
		endMarker = DefaultEndMarker
	}

	ctx, span := tracer.Start(ctx, "generate", trace.WithAttributes(
		attribute.Int("generate.max_new_tokens", maxNew),
		attribute.String("generate.end_marker", endMarker),
	))
	defer func() {
		if err != nil {
			g.state = StateAborted
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	g.state = StateIdle
	g.primed = false
	if err := safeReset(g.Model); err != nil {
		return nil, err
	}

	text := prompt
	if !g.Config.SkipEndMarker {
		text += endMarker
	}
	ids, err := safeEncode(g.Stream.Tokenizer(), text)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: prompt encodes to zero tokens", ErrInvalidRequest)
	}
	g.tokens = append(g.tokens[:0], ids...)
	g.state = StatePromptEncoded

	var promptText strings.Builder
	g.Stream.Reset()
	for _, id := range ids {
		if frag, ok := g.Stream.Next(id); ok {
			promptText.WriteString(frag)
			if g.EchoPrompt && stream != nil {
				stream(frag)
			}
		}
	}

	eosID, haveEOS := g.Stream.TokenID(endMarker)
	if !haveEOS {
		log.Warn("end marker is not a single vocabulary token, generation is limited by the token budget only", "marker", endMarker)
	}

	budget := maxNew
	if g.Config.CapToPrompt {
		budget = min(budget, len(ids))
	}
	span.SetAttributes(attribute.Int("generate.prompt_tokens", len(ids)), attribute.Int("generate.budget", budget))
	log.Debug("generation started", "prompt_tokens", len(ids), "budget", budget, "eos_id", eosID, "eos_resolved", haveEOS)

	var answer strings.Builder
	emit := func(s string) {
		answer.WriteString(s)
		if stream != nil {
			stream(s)
		}
	}

	res = &Result{Stats: Stats{PromptTokens: len(ids)}}
	g.state = StateGenerating
	start := time.Now()
	stopped := false
	for step := 0; step < budget; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		window, pos := g.contextWindow()
		raw, err := safeForward(g.Model, window, pos)
		if err != nil {
			log.Error("forward pass failed", "step", step, "position", pos, "error", err)
			return nil, err
		}
		g.primed = true
		if len(raw) == 0 {
			return nil, inferenceError("model returned empty logits at step %d", step)
		}

		next, err := safeSample(g.Sampler, g.adjustLogits(raw))
		if err != nil {
			return nil, err
		}
		if next < 0 || next >= len(raw) {
			return nil, inferenceError("sampled id %d outside vocabulary of %d", next, len(raw))
		}

		g.tokens = append(g.tokens, next)
		res.Stats.TokensGenerated++
		if haveEOS && next == eosID {
			stopped = true
			break
		}
		if frag, ok := g.Stream.Next(next); ok {
			emit(frag)
		}
	}
	res.Stats.Duration = time.Since(start)

	if stopped {
		g.state = StateStopped
		res.StopReason = StopReasonEOS
	} else {
		g.state = StateBudgetExhausted
		res.StopReason = StopReasonMaxTokens
	}
	res.State = g.state

	if rest, ok := g.Stream.Rest(); ok {
		emit(rest)
	}
	g.state = StateFlushed

	if secs := res.Stats.Duration.Seconds(); secs > 0 {
		res.Stats.TPS = float64(res.Stats.TokensGenerated) / secs
	}
	res.Text = answer.String()
	res.PromptText = promptText.String()
	res.Tokens = append([]int(nil), g.tokens...)

	span.SetAttributes(
		attribute.Int("generate.tokens_generated", res.Stats.TokensGenerated),
		attribute.String("generate.stop_reason", res.StopReason),
		attribute.Float64("generate.tps", res.Stats.TPS),
	)
	log.Debug("generation finished", "tokens", res.Stats.TokensGenerated, "reason", res.StopReason, "duration", res.Stats.Duration)
	return res, nil
}

// contextWindow feeds the whole history until the model is primed, then
// only the newest token at the position it occupies.
func (g *Generator) contextWindow() ([]int, int) {
	if !g.primed {
		return g.tokens, 0
	}
	n := len(g.tokens)
	return g.tokens[n-1:], n - 1
}

// adjustLogits applies the repeat penalty to a working copy of raw. When
// the penalty is disabled raw itself is returned.
func (g *Generator) adjustLogits(raw []float32) []float32 {
	p := g.Config.RepeatPenalty
	if p == 1 || p == 0 {
		return raw
	}
	if cap(g.work) < len(raw) {
		g.work = make([]float32, len(raw))
	}
	work := g.work[:len(raw)]
	copy(work, raw)
	logits.ApplyRepeatPenalty(work, p, logits.LastN(g.tokens, g.Config.RepeatLastN))
	return work
}
