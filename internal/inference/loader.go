package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/textgen/internal/logger"
	"github.com/samcharles93/textgen/internal/tokenizer"
	"github.com/samcharles93/textgen/internal/toy"
)

// Standard file names inside a model directory.
const (
	TokenizerFile        = "tokenizer.json"
	TokenizerConfigFile  = "tokenizer_config.json"
	GenerationConfigFile = "generation_config.json"
	ModelConfigFile      = "config.json"
)

// ModelOptions is what a ModelFactory receives.
type ModelOptions struct {
	VocabSize  int
	Hidden     int
	MaxContext int
	Seed       uint64
}

type ModelFactory func(opts ModelOptions) (Model, error)

var modelRegistry = map[string]ModelFactory{
	"toy": func(opts ModelOptions) (Model, error) {
		hidden := opts.Hidden
		if hidden <= 0 {
			hidden = 32
		}
		m, err := toy.NewToyLM(opts.VocabSize, hidden, opts.Seed)
		if err != nil {
			return nil, err
		}
		m.MaxContext = opts.MaxContext
		return m, nil
	},
}

// RegisterModel makes a model kind available to Loader.
func RegisterModel(kind string, f ModelFactory) {
	modelRegistry[kind] = f
}

// ModelKinds lists the registered model kinds.
func ModelKinds() []string {
	kinds := make([]string, 0, len(modelRegistry))
	for k := range modelRegistry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

type Loader struct {
	// TokenizerPath is a tokenizer.json file or "tiktoken:<encoding>".
	TokenizerPath        string
	TokenizerConfigPath  string
	GenerationConfigPath string

	ModelKind  string
	Hidden     int
	MaxContext int
	// VocabSize overrides the size reported by the tokenizer.
	VocabSize int
	Seed      uint64

	Logger logger.Logger
}

type LoadResult struct {
	Engine             *EngineImpl
	Model              Model
	Tokenizer          tokenizer.Tokenizer
	TokenizerConfig    tokenizer.TokenizerConfig
	GenerationDefaults GenDefaults
	ModelKind          string
	VocabSize          int
}

// LoaderFromDir fills the file paths of l from a model directory, keeping
// paths that were already set.
func LoaderFromDir(dir string, l Loader) Loader {
	if l.TokenizerPath == "" {
		l.TokenizerPath = filepath.Join(dir, TokenizerFile)
	}
	if l.TokenizerConfigPath == "" {
		if p := filepath.Join(dir, TokenizerConfigFile); fileExists(p) {
			l.TokenizerConfigPath = p
		}
	}
	if l.GenerationConfigPath == "" {
		if p := filepath.Join(dir, GenerationConfigFile); fileExists(p) {
			l.GenerationConfigPath = p
		}
	}
	return l
}

func (l Loader) Load() (*LoadResult, error) {
	if strings.TrimSpace(l.TokenizerPath) == "" {
		return nil, fmt.Errorf("tokenizer path is required")
	}
	kind := l.ModelKind
	if kind == "" {
		kind = "toy"
	}
	factory, ok := modelRegistry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown model kind %q (available: %s)", kind, strings.Join(ModelKinds(), ", "))
	}

	tok, tokCfg, err := l.loadTokenizer()
	if err != nil {
		return nil, err
	}

	genDefaults, err := l.loadGenerationDefaults()
	if err != nil {
		return nil, err
	}
	if tokCfg.EOSToken != "" {
		genDefaults.EndMarker = tokCfg.EOSToken
	}

	vocab := l.VocabSize
	if vocab <= 0 {
		if vs, ok := tok.(tokenizer.VocabSizer); ok {
			vocab = vs.VocabSize()
		}
	}
	if vocab <= 0 {
		vocab = tokCfg.VocabSize
	}
	if vocab <= 0 {
		return nil, fmt.Errorf("cannot determine vocabulary size for %s (set it explicitly)", l.TokenizerPath)
	}

	m, err := factory(ModelOptions{
		VocabSize:  vocab,
		Hidden:     l.Hidden,
		MaxContext: l.MaxContext,
		Seed:       l.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s model: %w", kind, err)
	}

	return &LoadResult{
		Engine:             NewEngine(m, tok, genDefaults, l.Logger),
		Model:              m,
		Tokenizer:          tok,
		TokenizerConfig:    tokCfg,
		GenerationDefaults: genDefaults,
		ModelKind:          kind,
		VocabSize:          vocab,
	}, nil
}

func (l Loader) loadTokenizer() (tokenizer.Tokenizer, tokenizer.TokenizerConfig, error) {
	if name, ok := tokenizer.IsTikTokenPath(l.TokenizerPath); ok {
		tok, err := tokenizer.NewTikToken(name)
		if err != nil {
			return nil, tokenizer.TokenizerConfig{}, err
		}
		cfg := tokenizer.TokenizerConfig{
			Model:      "tiktoken",
			BOSTokenID: -1,
			EOSTokenID: -1,
			UNKTokenID: -1,
			VocabSize:  tok.VocabSize(),
		}
		if id, ok := tok.TokenID("<|endoftext|>"); ok {
			cfg.EOSToken = "<|endoftext|>"
			cfg.EOSTokenID = id
		}
		return tok, cfg, nil
	}

	tokJSON, err := os.ReadFile(l.TokenizerPath)
	if err != nil {
		return nil, tokenizer.TokenizerConfig{}, fmt.Errorf("load tokenizer.json: %w", err)
	}
	var tokCfgBytes []byte
	if l.TokenizerConfigPath != "" {
		tokCfgBytes, err = os.ReadFile(l.TokenizerConfigPath)
		if err != nil {
			return nil, tokenizer.TokenizerConfig{}, fmt.Errorf("load tokenizer_config.json: %w", err)
		}
	}
	hfTok, err := tokenizer.LoadHFTokenizerBytes(tokJSON, tokCfgBytes)
	if err != nil {
		return nil, tokenizer.TokenizerConfig{}, err
	}
	cfg, err := tokenizer.ParseHFTokenizerConfigBytes(tokJSON, tokCfgBytes)
	if err != nil {
		return nil, tokenizer.TokenizerConfig{}, err
	}
	return hfTok, cfg, nil
}

func (l Loader) loadGenerationDefaults() (GenDefaults, error) {
	if l.GenerationConfigPath == "" {
		return GenDefaults{}, nil
	}
	raw, err := os.ReadFile(l.GenerationConfigPath)
	if err != nil {
		return GenDefaults{}, fmt.Errorf("load generation_config.json: %w", err)
	}
	return ParseGenerationDefaults(raw)
}

// ParseGenerationDefaults reads the sampling fields of generation_config.json.
func ParseGenerationDefaults(raw []byte) (GenDefaults, error) {
	if len(raw) == 0 {
		return GenDefaults{}, nil
	}
	var cfg GenDefaults
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return GenDefaults{}, fmt.Errorf("parse generation config: %w", err)
	}
	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
