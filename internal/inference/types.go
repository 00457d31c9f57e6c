package inference

import "context"

type StreamFunc func(token string)

type Engine interface {
	Generate(ctx context.Context, req *Request, stream StreamFunc) (*Result, error)
	Close() error
}

// Request is a fully resolved generation request. Build one with
// ResolveRequest so model defaults are applied.
type Request struct {
	Prompt string

	Steps int
	Seed  uint64

	// Temperature nil means greedy decoding.
	Temperature *float64
	TopP        *float64
	TopK        int
	MinP        float64

	RepeatPenalty float64
	RepeatLastN   int

	EndMarker     string
	SkipEndMarker bool
	CapToPrompt   bool
	EchoPrompt    bool
}
