package logits

// ApplyRepeatPenalty discourages every distinct id in context: positive
// logits are divided by penalty, negative ones multiplied. Ids outside the
// vocabulary are ignored. logits is modified in place; a penalty of 1 or 0
// leaves it untouched.
func ApplyRepeatPenalty(logits []float32, penalty float32, context []int) {
	if penalty == 1 || penalty == 0 || len(context) == 0 {
		return
	}
	seen := make(map[int]struct{}, len(context))
	for _, id := range context {
		if id < 0 || id >= len(logits) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if logits[id] >= 0 {
			logits[id] /= penalty
		} else {
			logits[id] *= penalty
		}
	}
}

// LastN returns the trailing window of at most n tokens. n <= 0 yields nil.
func LastN(tokens []int, n int) []int {
	if n <= 0 {
		return nil
	}
	start := max(len(tokens)-n, 0)
	return tokens[start:]
}
