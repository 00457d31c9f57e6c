package inference

import (
	"fmt"
	"math"
)

// Built-in sampling defaults, overridden by generation_config.json and then
// by explicit options.
const (
	DefaultSeed          uint64  = 299792458
	DefaultSteps                 = 10000
	DefaultTemperature   float64 = 1.0
	DefaultRepeatPenalty float64 = 1.0
	DefaultRepeatLastN           = 64
	DefaultPrompt                = "Hello! What's your name?"
)

type RequestOptions struct {
	Prompt string

	Steps *int
	Seed  *uint64

	// Greedy forces argmax decoding regardless of Temperature.
	Greedy        *bool
	Temperature   *float64
	TopK          *int
	TopP          *float64
	MinP          *float64
	RepeatPenalty *float64
	RepeatLastN   *int

	EndMarker     *string
	SkipEndMarker *bool
	CapToPrompt   *bool
	EchoPrompt    *bool
}

// GenDefaults mirrors the fields of a HuggingFace generation_config.json.
type GenDefaults struct {
	DoSample          *bool    `json:"do_sample"`
	Temperature       *float64 `json:"temperature"`
	TopK              *int     `json:"top_k"`
	TopP              *float64 `json:"top_p"`
	RepetitionPenalty *float64 `json:"repetition_penalty"`
	// EndMarker comes from the tokenizer's eos_token, not the json file.
	EndMarker string `json:"-"`
}

func ResolveRequest(opts RequestOptions, defaults GenDefaults) Request {
	temp := DefaultTemperature
	req := Request{
		Prompt:        opts.Prompt,
		Steps:         DefaultSteps,
		Seed:          DefaultSeed,
		Temperature:   &temp,
		RepeatPenalty: DefaultRepeatPenalty,
		RepeatLastN:   DefaultRepeatLastN,
		EndMarker:     DefaultEndMarker,
	}

	if defaults.Temperature != nil && *defaults.Temperature > 0 {
		t := *defaults.Temperature
		req.Temperature = &t
	}
	if defaults.DoSample != nil && !*defaults.DoSample {
		req.Temperature = nil
	}
	if defaults.TopK != nil && *defaults.TopK > 0 {
		req.TopK = *defaults.TopK
	}
	if defaults.TopP != nil && *defaults.TopP > 0 && *defaults.TopP < 1 {
		p := *defaults.TopP
		req.TopP = &p
	}
	if defaults.RepetitionPenalty != nil && *defaults.RepetitionPenalty > 0 {
		req.RepeatPenalty = *defaults.RepetitionPenalty
	}
	if defaults.EndMarker != "" {
		req.EndMarker = defaults.EndMarker
	}

	if opts.Steps != nil {
		req.Steps = *opts.Steps
	}
	if opts.Seed != nil {
		req.Seed = *opts.Seed
	}
	if opts.Temperature != nil {
		t := *opts.Temperature
		req.Temperature = &t
	}
	if opts.Greedy != nil && *opts.Greedy {
		req.Temperature = nil
	}
	if opts.TopK != nil {
		req.TopK = *opts.TopK
	}
	if opts.TopP != nil {
		p := *opts.TopP
		req.TopP = &p
	}
	if opts.MinP != nil {
		req.MinP = *opts.MinP
	}
	if opts.RepeatPenalty != nil {
		req.RepeatPenalty = *opts.RepeatPenalty
	}
	if opts.RepeatLastN != nil {
		req.RepeatLastN = *opts.RepeatLastN
	}
	if opts.EndMarker != nil && *opts.EndMarker != "" {
		req.EndMarker = *opts.EndMarker
	}
	if opts.SkipEndMarker != nil {
		req.SkipEndMarker = *opts.SkipEndMarker
	}
	if opts.CapToPrompt != nil {
		req.CapToPrompt = *opts.CapToPrompt
	}
	if opts.EchoPrompt != nil {
		req.EchoPrompt = *opts.EchoPrompt
	}
	return req
}

// Validate rejects values the generation loop cannot honour.
func (r *Request) Validate() error {
	switch {
	case r.Steps < 0:
		return fmt.Errorf("%w: steps must be >= 0, got %d", ErrInvalidRequest, r.Steps)
	case r.Temperature != nil && (math.IsNaN(*r.Temperature) || *r.Temperature < 0):
		return fmt.Errorf("%w: temperature must be >= 0", ErrInvalidRequest)
	case r.TopK < 0:
		return fmt.Errorf("%w: top_k must be >= 0, got %d", ErrInvalidRequest, r.TopK)
	case r.MinP < 0 || r.MinP > 1:
		return fmt.Errorf("%w: min_p must be in [0, 1], got %v", ErrInvalidRequest, r.MinP)
	case r.RepeatPenalty < 0 || math.IsNaN(r.RepeatPenalty):
		return fmt.Errorf("%w: repeat penalty must be >= 0, got %v", ErrInvalidRequest, r.RepeatPenalty)
	case r.RepeatLastN < 0:
		return fmt.Errorf("%w: repeat_last_n must be >= 0, got %d", ErrInvalidRequest, r.RepeatLastN)
	}
	return nil
}
