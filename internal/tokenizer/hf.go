package tokenizer

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

const metaspace = "▁"

type decodeMode int

const (
	modeByteLevel decodeMode = iota
	modeMetaspace
)

// HFTokenizer implements the BPE subset of the HuggingFace tokenizer.json
// format. Both GPT-2 style byte-level vocabularies and SentencePiece style
// vocabularies (metaspace plus <0xNN> byte fallback) are supported.
type HFTokenizer struct {
	encoder      map[string]int
	decoder      []string
	special      map[int]bool
	bpeRanks     map[Pair]int
	cache        map[string][]string
	byteEncoder  map[byte]string
	byteDecoder  map[rune]byte
	pattern      *regexp.Regexp
	mode         decodeMode
	byteFallback bool
	prependSpace bool
	stripLeading bool
	skipSpecial  bool
	ignoreMerges bool
	addBOS       bool
	addEOS       bool
	bosID        int
	eosID        int
	unkID        int
	specials     []string
}

// hfComponent is the union of the normalizer, pre_tokenizer and decoder
// shapes we care about. Sequence types nest through the slice fields.
type hfComponent struct {
	Type           string `json:"type"`
	Prepend        string `json:"prepend"`
	Content        string `json:"content"`
	Replacement    string `json:"replacement"`
	PrependScheme  string `json:"prepend_scheme"`
	AddPrefixSpace *bool  `json:"add_prefix_space"`
	Start          int    `json:"start"`
	Pattern        struct {
		Regex  string `json:"Regex"`
		String string `json:"String"`
	} `json:"pattern"`
	Normalizers   []hfComponent `json:"normalizers"`
	Pretokenizers []hfComponent `json:"pretokenizers"`
	Decoders      []hfComponent `json:"decoders"`
}

func (c *hfComponent) flatten() []hfComponent {
	if c == nil {
		return nil
	}
	out := []hfComponent{*c}
	for _, group := range [][]hfComponent{c.Normalizers, c.Pretokenizers, c.Decoders} {
		for i := range group {
			out = append(out, group[i].flatten()...)
		}
	}
	return out
}

type hfAddedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

type hfTokenizerJSON struct {
	Model struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		ByteFallback bool           `json:"byte_fallback"`
		UnkToken     string         `json:"unk_token"`
	} `json:"model"`
	Normalizer    *hfComponent `json:"normalizer"`
	PreTokenizer  *hfComponent `json:"pre_tokenizer"`
	Decoder       *hfComponent `json:"decoder"`
	PostProcessor struct {
		Type       string `json:"type"`
		Processors []struct {
			Type          string `json:"type"`
			SpecialTokens map[string]struct {
				IDs []int `json:"ids"`
			} `json:"special_tokens"`
		} `json:"processors"`
	} `json:"post_processor"`
	AddedTokens []hfAddedToken `json:"added_tokens"`
}

// LoadHFTokenizer reads tokenizer.json and, when tokConfig is non-empty,
// tokenizer_config.json.
func LoadHFTokenizer(tokJSON, tokConfig string) (*HFTokenizer, error) {
	data, err := os.ReadFile(tokJSON)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}
	var cfg []byte
	if tokConfig != "" {
		if raw, err := os.ReadFile(tokConfig); err == nil {
			cfg = raw
		}
	}
	return LoadHFTokenizerBytes(data, cfg)
}

func LoadHFTokenizerBytes(tokJSON []byte, tokConfig []byte) (*HFTokenizer, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, fmt.Errorf("unsupported tokenizer model: %s", tj.Model.Type)
	}

	encoder := make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens))
	maxID := -1
	for tok, id := range tj.Model.Vocab {
		encoder[tok] = id
		maxID = max(maxID, id)
	}
	for _, at := range tj.AddedTokens {
		encoder[at.Content] = at.ID
		maxID = max(maxID, at.ID)
	}
	if maxID < 0 {
		return nil, fmt.Errorf("tokenizer has an empty vocabulary")
	}
	decoder := make([]string, maxID+1)
	for tok, id := range tj.Model.Vocab {
		if id >= 0 {
			decoder[id] = tok
		}
	}

	special := make(map[int]bool)
	var specials []string
	for _, at := range tj.AddedTokens {
		if at.ID < 0 {
			continue
		}
		decoder[at.ID] = at.Content
		specials = append(specials, at.Content)
		if at.Special {
			special[at.ID] = true
		}
	}
	for tok := range tj.Model.Vocab {
		if looksSpecial(tok) {
			specials = append(specials, tok)
		}
	}

	bpeRanks := make(map[Pair]int, len(tj.Model.Merges))
	rank := 0
	for _, raw := range tj.Model.Merges {
		p, ok := parseMerge(raw)
		if !ok {
			continue
		}
		if _, dup := bpeRanks[p]; !dup {
			bpeRanks[p] = rank
			rank++
		}
	}

	byteEncoder, byteDecoder := bytesToUnicode()
	tok := &HFTokenizer{
		encoder:      encoder,
		decoder:      decoder,
		special:      special,
		bpeRanks:     bpeRanks,
		cache:        make(map[string][]string),
		byteEncoder:  byteEncoder,
		byteDecoder:  byteDecoder,
		pattern:      buildHFPattern(tj.PreTokenizer),
		byteFallback: tj.Model.ByteFallback,
		skipSpecial:  true,
		ignoreMerges: tj.Model.IgnoreMerges,
		specials:     sortSpecials(specials),
		bosID:        -1,
		eosID:        -1,
		unkID:        -1,
	}
	tok.mode = detectMode(&tj)
	tok.configureMetaspace(&tj)

	cfg, err := parseTokenizerConfig(&tj, encoder, tokConfig)
	if err != nil {
		return nil, err
	}
	tok.addBOS = cfg.AddBOS
	tok.addEOS = cfg.AddEOS
	tok.bosID = cfg.BOSTokenID
	tok.eosID = cfg.EOSTokenID
	tok.unkID = cfg.UNKTokenID
	return tok, nil
}

func detectMode(tj *hfTokenizerJSON) decodeMode {
	for _, c := range tj.Decoder.flatten() {
		switch c.Type {
		case "ByteLevel":
			return modeByteLevel
		case "Metaspace", "ByteFallback":
			return modeMetaspace
		case "Replace":
			if c.Pattern.String == metaspace {
				return modeMetaspace
			}
		}
	}
	for _, c := range tj.PreTokenizer.flatten() {
		switch c.Type {
		case "ByteLevel":
			return modeByteLevel
		case "Metaspace":
			return modeMetaspace
		}
	}
	if tj.Model.ByteFallback {
		return modeMetaspace
	}
	return modeByteLevel
}

func (t *HFTokenizer) configureMetaspace(tj *hfTokenizerJSON) {
	if t.mode != modeMetaspace {
		return
	}
	for _, c := range tj.Normalizer.flatten() {
		if c.Type == "Prepend" && c.Prepend == metaspace {
			t.prependSpace = true
		}
	}
	for _, c := range tj.PreTokenizer.flatten() {
		if c.Type != "Metaspace" {
			continue
		}
		if c.PrependScheme == "always" || c.PrependScheme == "first" || (c.AddPrefixSpace != nil && *c.AddPrefixSpace) {
			t.prependSpace = true
		}
	}
	for _, c := range tj.Decoder.flatten() {
		switch c.Type {
		case "Strip":
			if c.Content == " " && c.Start > 0 {
				t.stripLeading = true
			}
		case "Metaspace":
			if c.PrependScheme == "always" || c.PrependScheme == "first" || (c.AddPrefixSpace != nil && *c.AddPrefixSpace) {
				t.stripLeading = true
			}
		}
	}
}

// SetSkipSpecial controls whether Decode drops special tokens (default true).
func (t *HFTokenizer) SetSkipSpecial(skip bool) { t.skipSpecial = skip }

func (t *HFTokenizer) Encode(text string) ([]int, error) {
	var ids []int
	if t.addBOS && t.bosID >= 0 {
		ids = append(ids, t.bosID)
	}
	first := true
	for _, part := range splitSpecials(text, t.specials) {
		if part.isSpecial {
			id, ok := t.encoder[part.text]
			if !ok {
				return nil, fmt.Errorf("unknown special token: %q", part.text)
			}
			ids = append(ids, id)
			continue
		}
		var err error
		if t.mode == modeMetaspace {
			ids, err = t.encodeMetaspace(ids, part.text, first)
		} else {
			ids, err = t.encodeByteLevel(ids, part.text)
		}
		if err != nil {
			return nil, err
		}
		first = false
	}
	if t.addEOS && t.eosID >= 0 {
		ids = append(ids, t.eosID)
	}
	return ids, nil
}

func (t *HFTokenizer) encodeByteLevel(ids []int, text string) ([]int, error) {
	for _, word := range t.pattern.FindAllString(text, -1) {
		for _, piece := range t.bpe(t.byteEncode(word)) {
			id, ok := t.encoder[piece]
			if !ok {
				if t.unkID < 0 {
					return nil, fmt.Errorf("unknown token: %q", piece)
				}
				id = t.unkID
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (t *HFTokenizer) encodeMetaspace(ids []int, text string, first bool) ([]int, error) {
	text = strings.ReplaceAll(text, " ", metaspace)
	if first && t.prependSpace && !strings.HasPrefix(text, metaspace) {
		text = metaspace + text
	}
	for _, word := range splitMetaspace(text) {
		for _, piece := range t.bpe(word) {
			if id, ok := t.encoder[piece]; ok {
				ids = append(ids, id)
				continue
			}
			if t.byteFallback {
				for _, b := range []byte(piece) {
					id, ok := t.encoder[byteToken(b)]
					if !ok {
						return nil, fmt.Errorf("missing byte fallback token %s", byteToken(b))
					}
					ids = append(ids, id)
				}
				continue
			}
			if t.unkID < 0 {
				return nil, fmt.Errorf("unknown token: %q", piece)
			}
			ids = append(ids, t.unkID)
		}
	}
	return ids, nil
}

// splitMetaspace cuts text in front of every metaspace rune after the first.
func splitMetaspace(text string) []string {
	var out []string
	start := 0
	for i := range text {
		if i > start && strings.HasPrefix(text[i:], metaspace) {
			out = append(out, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// Decode returns ErrDecode when the concatenated bytes are not valid UTF-8,
// which happens whenever ids end in the middle of a multi-byte character.
func (t *HFTokenizer) Decode(ids []int) (string, error) {
	b, err := t.decodeBytes(ids)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrDecode
	}
	return string(b), nil
}

// DecodeLossy skips out-of-range ids and replaces each ill-formed byte run
// with U+FFFD.
func (t *HFTokenizer) DecodeLossy(ids []int) string {
	kept := make([]int, 0, len(ids))
	for _, id := range ids {
		if id >= 0 && id < len(t.decoder) {
			kept = append(kept, id)
		}
	}
	b, _ := t.decodeBytes(kept)
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func (t *HFTokenizer) decodeBytes(ids []int) ([]byte, error) {
	b := make([]byte, 0, len(ids)*4)
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return nil, fmt.Errorf("token id out of range: %d", id)
		}
		tok := t.decoder[id]
		if t.special[id] {
			if !t.skipSpecial {
				b = append(b, tok...)
			}
			continue
		}
		if t.mode == modeMetaspace {
			if by, ok := parseByteToken(tok); ok {
				b = append(b, by)
				continue
			}
			b = append(b, strings.ReplaceAll(tok, metaspace, " ")...)
			continue
		}
		for _, r := range tok {
			if by, ok := t.byteDecoder[r]; ok {
				b = append(b, by)
			} else {
				b = utf8.AppendRune(b, r)
			}
		}
	}
	if t.stripLeading && len(b) > 0 && b[0] == ' ' {
		b = b[1:]
	}
	return b, nil
}

func (t *HFTokenizer) TokenID(text string) (int, bool) {
	id, ok := t.encoder[text]
	return id, ok
}

func (t *HFTokenizer) VocabSize() int { return len(t.decoder) }
func (t *HFTokenizer) BOSID() int     { return t.bosID }
func (t *HFTokenizer) EOSID() int     { return t.eosID }

func (t *HFTokenizer) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

func (t *HFTokenizer) byteEncode(s string) string {
	var b strings.Builder
	for _, by := range []byte(s) {
		b.WriteString(t.byteEncoder[by])
	}
	return b.String()
}

func (t *HFTokenizer) bpe(token string) []string {
	if v, ok := t.cache[token]; ok {
		return v
	}
	if t.ignoreMerges {
		if _, ok := t.encoder[token]; ok {
			out := []string{token}
			t.cache[token] = out
			return out
		}
	}
	word := splitRunes(token)
	pairs := getPairs(word)
	for len(pairs) > 0 {
		bestRank := int(^uint(0) >> 1)
		bestPair := Pair{}
		found := false
		for p := range pairs {
			if rank, ok := t.bpeRanks[p]; ok && rank < bestRank {
				bestRank = rank
				bestPair = p
				found = true
			}
		}
		if !found {
			break
		}
		word = mergePair(word, bestPair)
		if len(word) == 1 {
			break
		}
		pairs = getPairs(word)
	}
	t.cache[token] = word
	return word
}

func buildHFPattern(pre *hfComponent) *regexp.Regexp {
	// GPT-2 default.
	pat := `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`
	for _, c := range pre.flatten() {
		if c.Type == "Split" && c.Pattern.Regex != "" {
			pat = c.Pattern.Regex
			break
		}
	}
	// Llama-3 style patterns use lookahead, which RE2 lacks.
	if strings.Contains(pat, "(?!\\S)") || strings.Contains(pat, "(?i:") {
		pat = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)
	}
	return re
}
