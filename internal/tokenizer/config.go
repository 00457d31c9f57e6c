package tokenizer

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// TokenizerConfig is the subset of tokenizer.json + tokenizer_config.json
// the loader needs for defaults.
type TokenizerConfig struct {
	Model      string
	AddBOS     bool
	AddEOS     bool
	BOSToken   string
	EOSToken   string
	BOSTokenID int
	EOSTokenID int
	UNKTokenID int
	VocabSize  int
}

type hfTokenizerConfig struct {
	AddBOS bool `json:"add_bos_token"`
	AddEOS bool `json:"add_eos_token"`
	BOS    any  `json:"bos_token"`
	EOS    any  `json:"eos_token"`
}

// ParseHFTokenizerConfigBytes extracts special token settings without
// building the full tokenizer.
func ParseHFTokenizerConfigBytes(tokJSON []byte, tokConfig []byte) (TokenizerConfig, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return TokenizerConfig{}, fmt.Errorf("parse tokenizer json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return TokenizerConfig{}, fmt.Errorf("unsupported tokenizer model: %s", tj.Model.Type)
	}
	encoder := make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens))
	for tok, id := range tj.Model.Vocab {
		encoder[tok] = id
	}
	for _, at := range tj.AddedTokens {
		encoder[at.Content] = at.ID
	}
	return parseTokenizerConfig(&tj, encoder, tokConfig)
}

func parseTokenizerConfig(tj *hfTokenizerJSON, encoder map[string]int, tokConfig []byte) (TokenizerConfig, error) {
	var raw hfTokenizerConfig
	if len(tokConfig) > 0 {
		if err := json.Unmarshal(tokConfig, &raw); err != nil {
			return TokenizerConfig{}, fmt.Errorf("parse tokenizer config: %w", err)
		}
	}
	cfg := TokenizerConfig{
		Model:      strings.ToUpper(tj.Model.Type),
		AddBOS:     raw.AddBOS,
		AddEOS:     raw.AddEOS,
		BOSToken:   tokenText(raw.BOS),
		EOSToken:   tokenText(raw.EOS),
		BOSTokenID: -1,
		EOSTokenID: -1,
		UNKTokenID: -1,
	}
	for _, id := range encoder {
		cfg.VocabSize = max(cfg.VocabSize, id+1)
	}
	if id, ok := encoder[cfg.BOSToken]; ok && cfg.BOSToken != "" {
		cfg.BOSTokenID = id
	}
	if id, ok := encoder[cfg.EOSToken]; ok && cfg.EOSToken != "" {
		cfg.EOSTokenID = id
	}
	if id, ok := encoder[tj.Model.UnkToken]; ok && tj.Model.UnkToken != "" {
		cfg.UNKTokenID = id
	}
	// A TemplateProcessing post-processor that injects a token implies BOS.
	for _, proc := range tj.PostProcessor.Processors {
		if proc.Type != "TemplateProcessing" {
			continue
		}
		for _, st := range proc.SpecialTokens {
			if len(st.IDs) > 0 {
				cfg.BOSTokenID = st.IDs[0]
				cfg.AddBOS = true
				break
			}
		}
	}
	return cfg, nil
}

// tokenText handles both "eos_token": "</s>" and the AddedToken object form.
func tokenText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["content"].(string); ok {
			return s
		}
	}
	return ""
}
