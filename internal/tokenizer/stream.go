package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// OutputStream turns an append-only token stream into text fragments that
// never split a character. Every call re-decodes the full history and only
// the suffix past the already-emitted text is returned, so the fragments
// concatenated with Rest equal Decode(all tokens), or its lossy rendering
// when the history ends up ill-formed.
//
// An OutputStream is not safe for concurrent use.
type OutputStream struct {
	tok     Tokenizer
	tokens  []int
	emitted string
}

func NewOutputStream(tok Tokenizer) *OutputStream {
	return &OutputStream{tok: tok}
}

// Tokenizer returns the wrapped tokenizer.
func (s *OutputStream) Tokenizer() Tokenizer { return s.tok }

// Reset clears the history. The wrapped tokenizer is kept.
func (s *OutputStream) Reset() {
	s.tokens = s.tokens[:0]
	s.emitted = ""
}

// Tokens returns the history fed so far.
func (s *OutputStream) Tokens() []int { return s.tokens }

// Next appends id and returns the newly completed text, if any. Decode
// failures and incomplete tails are deferred to a later call.
func (s *OutputStream) Next(id int) (string, bool) {
	s.tokens = append(s.tokens, id)
	full, err := s.tok.Decode(s.tokens)
	if err != nil {
		return "", false
	}
	if len(full) <= len(s.emitted) || !strings.HasPrefix(full, s.emitted) {
		return "", false
	}
	tail := full[len(s.emitted):]
	if !completeText(tail) {
		return "", false
	}
	s.emitted = full
	return tail, true
}

// Rest returns whatever the full history decodes to beyond what Next
// already emitted. It is meant to be called once, after the last token.
// When a strict tokenizer cannot decode the history, Rest falls back to
// its LossyDecoder so the remainder is still flushed.
func (s *OutputStream) Rest() (string, bool) {
	full, err := s.tok.Decode(s.tokens)
	if err != nil {
		lossy, ok := s.tok.(LossyDecoder)
		if !ok {
			return "", false
		}
		full = lossy.DecodeLossy(s.tokens)
	}
	if len(full) <= len(s.emitted) || !strings.HasPrefix(full, s.emitted) {
		return "", false
	}
	tail := full[len(s.emitted):]
	s.emitted = full
	return tail, true
}

func (s *OutputStream) TokenID(text string) (int, bool) {
	return s.tok.TokenID(text)
}

// completeText rejects ill-formed UTF-8 and a trailing U+FFFD, which lossy
// decoders produce for a truncated multi-byte sequence.
func completeText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return r != utf8.RuneError
}
