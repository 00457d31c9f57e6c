package toy

import (
	"fmt"
	"math/rand/v2"
)

// ToyLM is a tiny deterministic language model used for smoke runs, the
// benchmark command and tests. It has an embedding matrix, a projection back
// to vocabulary logits and a running hidden state that plays the role of a
// key/value cache: every consumed token is folded into it, so logits depend
// on the whole context while each call only processes the new tokens.
type ToyLM struct {
	Vocab  int
	Hidden int
	// MaxContext bounds the number of positions; 0 means unbounded.
	MaxContext int

	Emb  []float32 // [Vocab x Hidden] row-major
	W    []float32 // [Hidden x Vocab] row-major
	Bias []float32 // [Vocab]

	decay float32
	state []float32 // [Hidden]
	pos   int
}

// NewToyLM fills the weights deterministically from seed.
func NewToyLM(vocab, hidden int, seed uint64) (*ToyLM, error) {
	if vocab <= 0 || hidden <= 0 {
		return nil, fmt.Errorf("toy: vocab and hidden must be positive (got %d, %d)", vocab, hidden)
	}
	m := &ToyLM{
		Vocab:  vocab,
		Hidden: hidden,
		Emb:    make([]float32, vocab*hidden),
		W:      make([]float32, hidden*vocab),
		Bias:   make([]float32, vocab),
		decay:  0.5,
		state:  make([]float32, hidden),
	}
	fillRand(m.Emb, seed+11)
	fillRand(m.W, seed+23)
	return m, nil
}

func fillRand(dst []float32, seed uint64) {
	r := rand.New(rand.NewPCG(seed, seed*0x9e3779b97f4a7c15+1))
	for i := range dst {
		dst[i] = r.Float32()*2 - 1
	}
}

// Pos is the number of positions consumed since the last Reset.
func (m *ToyLM) Pos() int { return m.pos }

func (m *ToyLM) Reset() {
	clear(m.state)
	m.pos = 0
}

func (m *ToyLM) VocabSize() int { return m.Vocab }

// Forward folds tokens into the running state and returns logits for the
// next position. pos must equal the number of positions already consumed;
// anything else means the caller's view of the cache is out of sync.
func (m *ToyLM) Forward(tokens []int, pos int) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("toy: empty token window")
	}
	if pos != m.pos {
		return nil, fmt.Errorf("toy: position %d does not match cache length %d", pos, m.pos)
	}
	if m.MaxContext > 0 && pos+len(tokens) > m.MaxContext {
		return nil, fmt.Errorf("toy: context of %d exceeds max %d", pos+len(tokens), m.MaxContext)
	}
	for _, tok := range tokens {
		if tok < 0 || tok >= m.Vocab {
			return nil, fmt.Errorf("toy: token %d outside vocabulary of %d", tok, m.Vocab)
		}
		row := m.Emb[tok*m.Hidden : (tok+1)*m.Hidden]
		for i := range m.state {
			m.state[i] = m.decay*m.state[i] + row[i]
		}
		m.pos++
	}

	logits := make([]float32, m.Vocab)
	copy(logits, m.Bias)
	for i, h := range m.state {
		wrow := m.W[i*m.Vocab : (i+1)*m.Vocab]
		for j, w := range wrow {
			logits[j] += h * w
		}
	}
	return logits, nil
}
