package inference

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/textgen/internal/logits"
	"github.com/samcharles93/textgen/internal/tokenizer"
)

// pieceTokenizer encodes by greedy longest match over a fixed vocabulary.
// Entries listed in silent decode to nothing, like skipped special tokens.
type pieceTokenizer struct {
	vocab  []string
	silent map[string]bool
}

func newPieceTokenizer(silent []string, vocab ...string) pieceTokenizer {
	s := make(map[string]bool, len(silent))
	for _, v := range silent {
		s[v] = true
	}
	return pieceTokenizer{vocab: vocab, silent: s}
}

// helloVocab puts "<eos>" at id 2 and " world" at id 7.
func helloVocab() pieceTokenizer {
	return newPieceTokenizer([]string{"<eos>", "<pad>"},
		"<pad>", "Hello", "<eos>", "a", "b", "c", "!", " world", " again")
}

func (p pieceTokenizer) Encode(text string) ([]int, error) {
	var ids []int
	for len(text) > 0 {
		best, bestLen := -1, 0
		for id, v := range p.vocab {
			if len(v) > bestLen && strings.HasPrefix(text, v) {
				best, bestLen = id, len(v)
			}
		}
		if best < 0 {
			return nil, fmt.Errorf("cannot encode %q", text)
		}
		ids = append(ids, best)
		text = text[bestLen:]
	}
	return ids, nil
}

func (p pieceTokenizer) Decode(ids []int) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(p.vocab) {
			return "", fmt.Errorf("id %d out of range", id)
		}
		if p.silent[p.vocab[id]] {
			continue
		}
		sb.WriteString(p.vocab[id])
	}
	return sb.String(), nil
}

func (p pieceTokenizer) TokenID(text string) (int, bool) {
	for id, v := range p.vocab {
		if v == text {
			return id, true
		}
	}
	return 0, false
}

func (p pieceTokenizer) VocabSize() int { return len(p.vocab) }

type forwardCall struct {
	tokens []int
	pos    int
}

// scriptedModel returns a one-hot style logits vector favouring
// pick(step) on every call and records each call it receives.
type scriptedModel struct {
	vocab  int
	pick   func(step int) int
	failAt int // 1-based step that fails; 0 never fails
	delay  time.Duration
	calls  []forwardCall
	resets int
	last   []float32
}

var errForcedForward = errors.New("forced forward failure")

func (m *scriptedModel) Forward(tokens []int, pos int) ([]float32, error) {
	step := len(m.calls) + 1
	m.calls = append(m.calls, forwardCall{tokens: append([]int(nil), tokens...), pos: pos})
	if m.failAt == step {
		return nil, errForcedForward
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	out := make([]float32, m.vocab)
	for i := range out {
		out[i] = -1
	}
	out[m.pick(step)] = 5
	m.last = out
	return out, nil
}

func (m *scriptedModel) Reset() {
	m.resets++
	m.calls = m.calls[:0]
}

func always(id int) func(int) int { return func(int) int { return id } }

// recordingSampler returns argmax and keeps every slice it was handed.
type recordingSampler struct {
	seen [][]float32
}

func (r *recordingSampler) Sample(l []float32) (int, error) {
	r.seen = append(r.seen, l)
	return logits.NewSampler(logits.SamplerConfig{}).Sample(l)
}

type fixedSampler int

func (f fixedSampler) Sample([]float32) (int, error) { return int(f), nil }

type panicSampler struct{}

func (panicSampler) Sample([]float32) (int, error) { panic("sampler boom") }

type panicModel struct{}

func (panicModel) Forward([]int, int) ([]float32, error) { panic("boom") }
func (panicModel) Reset()                                {}

type panicResetModel struct{}

func (panicResetModel) Forward([]int, int) ([]float32, error) { return []float32{1, 0}, nil }
func (panicResetModel) Reset()                                { panic("reset boom") }

type panicEncodeTokenizer struct{ pieceTokenizer }

func (panicEncodeTokenizer) Encode(string) ([]int, error) { panic("encode boom") }

func newGreedySampler() *logits.Sampler {
	return logits.NewSampler(logits.SamplerConfig{Seed: 1})
}

func newGenerator(m Model, tok tokenizer.Tokenizer) *Generator {
	return &Generator{
		Model:   m,
		Sampler: newGreedySampler(),
		Stream:  tokenizer.NewOutputStream(tok),
		Config:  DefaultConfig(),
	}
}

// collect returns a StreamFunc appending into *out.
func collect(out *[]string) StreamFunc {
	return func(s string) { *out = append(*out, s) }
}
