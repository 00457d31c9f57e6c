package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TikTokenPrefix selects a tiktoken encoding in tokenizer paths,
// e.g. "tiktoken:cl100k_base".
const TikTokenPrefix = "tiktoken:"

var allSpecial = []string{"all"}

// vocabSizes includes the special tokens of each encoding.
var vocabSizes = map[string]int{
	"o200k_base":  200019,
	"cl100k_base": 100277,
	"p50k_base":   50281,
	"p50k_edit":   50284,
	"r50k_base":   50257,
}

// TikToken adapts an OpenAI BPE encoding from pkoukk/tiktoken-go.
type TikToken struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// NewTikToken loads a named encoding such as "cl100k_base".
func NewTikToken(encodingName string) (*TikToken, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encodingName, err)
	}
	return &TikToken{encoding: enc, name: encodingName}, nil
}

// IsTikTokenPath reports whether path names a tiktoken encoding and returns it.
func IsTikTokenPath(path string) (string, bool) {
	name, ok := strings.CutPrefix(path, TikTokenPrefix)
	return name, ok && name != ""
}

// Encode allows special tokens so a trailing "<|endoftext|>" maps to one id.
func (t *TikToken) Encode(text string) ([]int, error) {
	return t.encoding.Encode(text, allSpecial, nil), nil
}

func (t *TikToken) Decode(ids []int) (string, error) {
	text := t.encoding.Decode(ids)
	if !utf8.ValidString(text) {
		return "", ErrDecode
	}
	return text, nil
}

func (t *TikToken) DecodeLossy(ids []int) string {
	return strings.ToValidUTF8(t.encoding.Decode(ids), "\uFFFD")
}

// TokenID succeeds only when text encodes to exactly one token.
func (t *TikToken) TokenID(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	ids := t.encoding.Encode(text, allSpecial, nil)
	if len(ids) != 1 {
		return 0, false
	}
	return ids[0], true
}

func (t *TikToken) Name() string { return t.name }

// VocabSize is looked up by encoding name, since tiktoken-go does not expose
// it. Unknown encodings report 0.
func (t *TikToken) VocabSize() int { return vocabSizes[t.name] }
