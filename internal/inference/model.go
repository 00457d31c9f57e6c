package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrInference marks failures that abort a run mid-generation: a forward
	// pass error, malformed logits, or a sampler failure.
	ErrInference = errors.New("inference failed")
	// ErrInvalidRequest marks requests rejected before any work starts.
	ErrInvalidRequest = errors.New("invalid generation request")
)

// Model produces next-token logits. Implementations keep their own
// incremental (key/value) state: Forward is called once with the whole
// prompt at position 0, then with one token at a time at the position
// that token occupies. Reset discards that state.
type Model interface {
	Forward(tokens []int, pos int) ([]float32, error)
	Reset()
}

// TokenSampler chooses the next token from a logits vector.
type TokenSampler interface {
	Sample(logits []float32) (int, error)
}

func inferenceError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInference, fmt.Sprintf(format, args...))
}

func safeForward(m Model, tokens []int, pos int) (out []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = inferenceError("panic in Forward: %v", rec)
		}
	}()
	out, err = m.Forward(tokens, pos)
	if err != nil {
		return nil, fmt.Errorf("%w: forward at position %d: %w", ErrInference, pos, err)
	}
	return out, nil
}

func safeSample(s TokenSampler, logits []float32) (id int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = inferenceError("panic in Sample: %v", rec)
		}
	}()
	id, err = s.Sample(logits)
	if err != nil {
		return 0, fmt.Errorf("%w: sample: %w", ErrInference, err)
	}
	return id, nil
}

func safeReset(m Model) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Reset: %v", rec)
		}
	}()
	m.Reset()
	return nil
}

func safeEncode(tok interface{ Encode(string) ([]int, error) }, prompt string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.Encode(prompt)
}
