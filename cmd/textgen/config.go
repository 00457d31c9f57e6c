package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/textgen/internal/inference"
)

const envCacheDir = "TEXTGEN_CACHE_DIR"

// Config represents the textgen configuration file (~/.config/textgen/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	ModelsDir string `yaml:"models_dir"`
	CacheDir  string `yaml:"cache_dir"`
	ModelKind string `yaml:"model_kind"`
	Hidden    *int   `yaml:"hidden"`

	// Sampling defaults
	Temperature   *float64 `yaml:"temperature"`
	TopK          *int     `yaml:"top_k"`
	TopP          *float64 `yaml:"top_p"`
	MinP          *float64 `yaml:"min_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`
	RepeatLastN   *int     `yaml:"repeat_last_n"`
	MaxContext    *int     `yaml:"max_context"`
	Steps         *int     `yaml:"steps"`
	Seed          *uint64  `yaml:"seed"`
	EndMarker     string   `yaml:"end_marker"`

	// Output
	StreamMode string `yaml:"stream_mode"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "textgen", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or can't be parsed.
func LoadConfig() Config {
	cfg, err := loadConfigFile(configPath())
	if err != nil {
		return Config{}
	}
	return cfg
}

func loadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyGlobalConfig fills logging and tracing settings the user left unset.
func applyGlobalConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	if cfg.OTLPEndpoint != "" && !c.IsSet("otlp-endpoint") {
		otlpEndpoint = cfg.OTLPEndpoint
	}
}

// applyModelConfig applies config file defaults to the model flags.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.ModelKind != "" && !c.IsSet("model-kind") {
		modelKind = cfg.ModelKind
	}
	if cfg.Hidden != nil && !c.IsSet("hidden") {
		hidden = *cfg.Hidden
	}
	if cfg.MaxContext != nil && !c.IsSet("max-context") {
		maxContext = *cfg.MaxContext
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyModelConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// samplingFlags holds the sampling flag destinations shared by run and bench.
type samplingFlags struct {
	steps         int
	seed          int64
	temp          float64
	greedy        bool
	topK          int
	topP          float64
	minP          float64
	repeatPenalty float64
	repeatLastN   int
	endMarker     string
	skipEndMarker bool
	capToPrompt   bool
}

func (s *samplingFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "steps",
			Aliases:     []string{"n", "num-tokens", "max-tokens"},
			Usage:       "maximum number of tokens to generate",
			Value:       inference.DefaultSteps,
			Destination: &s.steps,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling RNG seed (-1 = random)",
			Value:       int64(inference.DefaultSeed),
			Destination: &s.seed,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature",
			Value:       inference.DefaultTemperature,
			Destination: &s.temp,
		},
		&cli.BoolFlag{
			Name:        "greedy",
			Usage:       "always pick the most likely token",
			Destination: &s.greedy,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Aliases:     []string{"top_k", "topk"},
			Usage:       "top-k sampling parameter (0 = disabled)",
			Destination: &s.topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p", "topp"},
			Usage:       "top_p sampling parameter (1.0 = disabled)",
			Value:       1.0,
			Destination: &s.topP,
		},
		&cli.Float64Flag{
			Name:        "min-p",
			Aliases:     []string{"min_p", "minp"},
			Usage:       "min_p sampling parameter (0.0 = disabled)",
			Destination: &s.minP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Aliases:     []string{"repeat_penalty"},
			Usage:       "repetition penalty (1.0 = disabled)",
			Value:       inference.DefaultRepeatPenalty,
			Destination: &s.repeatPenalty,
		},
		&cli.IntFlag{
			Name:        "repeat-last-n",
			Aliases:     []string{"repeat_last_n"},
			Usage:       "last n tokens to penalize",
			Value:       inference.DefaultRepeatLastN,
			Destination: &s.repeatLastN,
		},
		&cli.StringFlag{
			Name:        "end-marker",
			Usage:       "text that closes the prompt and ends generation",
			Destination: &s.endMarker,
		},
		&cli.BoolFlag{
			Name:        "skip-end-marker",
			Usage:       "do not append the end marker to the prompt",
			Destination: &s.skipEndMarker,
		},
		&cli.BoolFlag{
			Name:        "cap-to-prompt",
			Usage:       "limit generated tokens to the prompt length",
			Destination: &s.capToPrompt,
		},
	}
}

// options turns flags into request options. A flag is only forwarded when
// the user set it, otherwise the config file value is used, so
// generation_config.json defaults still apply underneath both.
func (s *samplingFlags) options(c *cli.Command, cfg Config, prompt string) inference.RequestOptions {
	opts := inference.RequestOptions{Prompt: prompt}

	opts.Steps = pick(c.IsSet("steps"), s.steps, cfg.Steps)
	opts.Temperature = pick(c.IsSet("temp"), s.temp, cfg.Temperature)
	opts.TopK = pick(c.IsSet("top-k"), s.topK, cfg.TopK)
	opts.TopP = pick(c.IsSet("top-p"), s.topP, cfg.TopP)
	opts.MinP = pick(c.IsSet("min-p"), s.minP, cfg.MinP)
	opts.RepeatPenalty = pick(c.IsSet("repeat-penalty"), s.repeatPenalty, cfg.RepeatPenalty)
	opts.RepeatLastN = pick(c.IsSet("repeat-last-n"), s.repeatLastN, cfg.RepeatLastN)

	switch {
	case c.IsSet("seed"):
		seed := uint64(s.seed)
		if s.seed < 0 {
			seed = randomSeed()
		}
		opts.Seed = &seed
	case cfg.Seed != nil:
		seed := *cfg.Seed
		opts.Seed = &seed
	}

	marker := strings.TrimSpace(s.endMarker)
	if marker == "" {
		marker = cfg.EndMarker
	}
	if marker != "" {
		opts.EndMarker = &marker
	}
	if s.greedy {
		opts.Greedy = &s.greedy
	}
	if s.skipEndMarker {
		opts.SkipEndMarker = &s.skipEndMarker
	}
	if s.capToPrompt {
		opts.CapToPrompt = &s.capToPrompt
	}
	return opts
}

func pick[T any](set bool, flag T, fromConfig *T) *T {
	if set {
		return &flag
	}
	if fromConfig != nil {
		v := *fromConfig
		return &v
	}
	return nil
}

// cacheDir resolves the hub cache: flag, then TEXTGEN_CACHE_DIR, then the
// config file, then the user cache directory.
func cacheDir(flag string, cfg Config) (string, error) {
	if v := strings.TrimSpace(flag); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(os.Getenv(envCacheDir)); v != "" {
		return v, nil
	}
	if cfg.CacheDir != "" {
		return cfg.CacheDir, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache dir (set --cache-dir or %s): %w", envCacheDir, err)
	}
	return filepath.Join(dir, "textgen", "hub"), nil
}
