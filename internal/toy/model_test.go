package toy

import (
	"math"
	"testing"
)

// TestForwardMatchesNaive compares Forward against a hand-computed
// reference for a single token from a fresh state.
func TestForwardMatchesNaive(t *testing.T) {
	vocab, hidden := 8, 6
	model, err := NewToyLM(vocab, hidden, 5)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	tok := 3
	logits, err := model.Forward([]int{tok}, 0)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	h := model.Emb[tok*hidden : (tok+1)*hidden]
	for j := 0; j < vocab; j++ {
		var sum float32
		for i := 0; i < hidden; i++ {
			sum += h[i] * model.W[i*vocab+j]
		}
		ref := sum + model.Bias[j]
		if math.Abs(float64(logits[j]-ref)) > 1e-4 {
			t.Fatalf("logit mismatch at %d: got %f, want %f", j, logits[j], ref)
		}
	}
}

// TestIncrementalMatchesFullContext checks that feeding a prompt at once and
// then one token at a time gives the same logits as a single full pass.
func TestIncrementalMatchesFullContext(t *testing.T) {
	a, _ := NewToyLM(16, 4, 9)
	b, _ := NewToyLM(16, 4, 9)

	if _, err := a.Forward([]int{1, 2, 3}, 0); err != nil {
		t.Fatalf("prefill: %v", err)
	}
	inc, err := a.Forward([]int{4}, 3)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	full, err := b.Forward([]int{1, 2, 3, 4}, 0)
	if err != nil {
		t.Fatalf("full: %v", err)
	}
	for i := range full {
		if math.Abs(float64(full[i]-inc[i])) > 1e-5 {
			t.Fatalf("logit %d: incremental %f vs full %f", i, inc[i], full[i])
		}
	}
	if a.Pos() != 4 {
		t.Fatalf("expected 4 cached positions, got %d", a.Pos())
	}
}

func TestForwardRejectsOutOfSyncPosition(t *testing.T) {
	m, _ := NewToyLM(8, 2, 1)
	if _, err := m.Forward([]int{1}, 3); err == nil {
		t.Fatalf("expected position mismatch error")
	}
	if _, err := m.Forward([]int{9}, 0); err == nil {
		t.Fatalf("expected out of vocabulary error")
	}
	m.MaxContext = 2
	if _, err := m.Forward([]int{1, 2, 3}, 0); err == nil {
		t.Fatalf("expected max context error")
	}
}

func TestResetClearsState(t *testing.T) {
	m, _ := NewToyLM(8, 3, 2)
	first, _ := m.Forward([]int{1, 2}, 0)
	m.Reset()
	again, err := m.Forward([]int{1, 2}, 0)
	if err != nil {
		t.Fatalf("forward after reset: %v", err)
	}
	for i := range first {
		if first[i] != again[i] {
			t.Fatalf("logit %d differs after reset: %f vs %f", i, first[i], again[i])
		}
	}
}

// TestForwardAllocs expects one allocation: the returned logits slice.
func TestForwardAllocs(t *testing.T) {
	m, _ := NewToyLM(5, 3, 2)
	window := []int{1}
	allocs := testing.AllocsPerRun(100, func() {
		m.Reset()
		_, _ = m.Forward(window, 0)
	})
	if allocs != 1 {
		t.Fatalf("expected 1 allocation, got %v", allocs)
	}
}
