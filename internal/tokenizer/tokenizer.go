package tokenizer

import "errors"

// ErrDecode is returned by Decode when the ids map to a byte sequence that
// is not well-formed UTF-8. Callers streaming output treat it as "not yet".
var ErrDecode = errors.New("tokenizer: invalid utf-8 in decoded bytes")

// Tokenizer is the text <-> token id capability the generation loop needs.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	// TokenID looks up text as a single vocabulary entry.
	TokenID(text string) (int, bool)
}

// LossyDecoder is implemented by tokenizers that can render any id sequence,
// replacing ill-formed bytes with U+FFFD instead of failing.
type LossyDecoder interface {
	DecodeLossy(ids []int) string
}

// VocabSizer is implemented by tokenizers that know their vocabulary size.
type VocabSizer interface {
	VocabSize() int
}
