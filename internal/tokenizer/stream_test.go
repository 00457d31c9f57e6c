package tokenizer

import (
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const byteEOS = 256

// byteTokenizer maps ids 0..255 to single bytes and 256 to "<eos>".
// Strict mode fails on ill-formed UTF-8, lossy mode substitutes U+FFFD.
type byteTokenizer struct {
	lossy bool
}

func (b byteTokenizer) Encode(text string) ([]int, error) {
	var ids []int
	for _, part := range splitSpecials(text, []string{"<eos>"}) {
		if part.isSpecial {
			ids = append(ids, byteEOS)
			continue
		}
		for _, c := range []byte(part.text) {
			ids = append(ids, int(c))
		}
	}
	return ids, nil
}

func (b byteTokenizer) Decode(ids []int) (string, error) {
	buf := make([]byte, 0, len(ids))
	for _, id := range ids {
		if id == byteEOS {
			continue
		}
		buf = append(buf, byte(id))
	}
	if utf8.Valid(buf) {
		return string(buf), nil
	}
	if b.lossy {
		return strings.ToValidUTF8(string(buf), "�"), nil
	}
	return "", ErrDecode
}

func (b byteTokenizer) TokenID(text string) (int, bool) {
	if text == "<eos>" {
		return byteEOS, true
	}
	if len(text) == 1 {
		return int(text[0]), true
	}
	return 0, false
}

func streamAll(s *OutputStream, ids []int) (fragments []string, rest string) {
	for _, id := range ids {
		if frag, ok := s.Next(id); ok {
			fragments = append(fragments, frag)
		}
	}
	rest, _ = s.Rest()
	return fragments, rest
}

func TestOutputStreamDefersSplitCharacters(t *testing.T) {
	t.Parallel()

	s := NewOutputStream(byteTokenizer{})
	ids, err := s.Tokenizer().Encode("a€b")
	require.NoError(t, err)
	require.Len(t, ids, 5)

	frag, ok := s.Next(ids[0])
	require.True(t, ok)
	assert.Equal(t, "a", frag)

	for _, id := range ids[1:3] {
		_, ok := s.Next(id)
		assert.False(t, ok, "partial euro sign must not be emitted")
	}

	frag, ok = s.Next(ids[3])
	require.True(t, ok)
	assert.Equal(t, "€", frag)

	frag, ok = s.Next(ids[4])
	require.True(t, ok)
	assert.Equal(t, "b", frag)

	_, ok = s.Rest()
	assert.False(t, ok, "nothing left to flush")
}

func TestOutputStreamLossyTrailingReplacementIsDeferred(t *testing.T) {
	t.Parallel()

	s := NewOutputStream(byteTokenizer{lossy: true})
	_, ok := s.Next(0xC3)
	assert.False(t, ok)

	frag, ok := s.Next(0xA9)
	require.True(t, ok)
	assert.Equal(t, "é", frag)
}

func TestOutputStreamRestFlushesIncompleteTail(t *testing.T) {
	t.Parallel()

	s := NewOutputStream(byteTokenizer{lossy: true})
	frags, rest := streamAll(s, []int{'o', 'k', 0xE2, 0x82})
	assert.Equal(t, []string{"o", "k"}, frags)
	assert.Equal(t, "�", rest)
}

func TestOutputStreamSkipsSilentTokens(t *testing.T) {
	t.Parallel()

	s := NewOutputStream(byteTokenizer{})
	frags, rest := streamAll(s, []int{'h', byteEOS, 'i'})
	assert.Equal(t, []string{"h", "i"}, frags)
	assert.Empty(t, rest)
}

func TestOutputStreamReset(t *testing.T) {
	t.Parallel()

	s := NewOutputStream(byteTokenizer{})
	streamAll(s, []int{'x', 'y'})
	s.Reset()
	assert.Empty(t, s.Tokens())

	frag, ok := s.Next('z')
	require.True(t, ok)
	assert.Equal(t, "z", frag, "emitted index must restart at zero")

	id, ok := s.TokenID("<eos>")
	require.True(t, ok)
	assert.Equal(t, byteEOS, id)
}

func TestOutputStreamSegmentationEquivalence(t *testing.T) {
	t.Parallel()

	alphabet := []string{"a", " ", "é", "€", "日", "𝄞", "\n", "<eos>", "z"}
	rng := rand.New(rand.NewPCG(1, 2))

	for _, lossy := range []bool{false, true} {
		tok := byteTokenizer{lossy: lossy}
		for trial := 0; trial < 200; trial++ {
			var ids []int
			if lossy && trial%2 == 1 {
				// arbitrary bytes, including ill-formed sequences
				for n := rng.IntN(24); n > 0; n-- {
					ids = append(ids, rng.IntN(256))
				}
			} else {
				var sb strings.Builder
				for n := rng.IntN(12); n > 0; n-- {
					sb.WriteString(alphabet[rng.IntN(len(alphabet))])
				}
				var err error
				ids, err = tok.Encode(sb.String())
				require.NoError(t, err)
			}

			want, err := tok.Decode(ids)
			require.NoError(t, err)

			frags, rest := streamAll(NewOutputStream(tok), ids)
			got := strings.Join(frags, "") + rest
			require.Equal(t, want, got, "lossy=%v ids=%v", lossy, ids)
		}
	}
}
