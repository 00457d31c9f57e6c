package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/textgen/internal/inference"
	"github.com/samcharles93/textgen/internal/logger"
)

var (
	modelPath         string
	modelsPath        string
	modelKind         string
	hidden            int
	maxContext        int
	vocabSize         int
	modelSeed         int64
	tokenizerJSONPath string
	tokenizerConfig   string
	generationConfig  string
	logLevel          string
	logFormat         string
	debug             bool
	otlpEndpoint      string
	otlpInsecure      bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a model directory containing tokenizer.json",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "path to a directory of model directories",
			Destination: &modelsPath,
		},
		&cli.StringFlag{
			Name:        "model-kind",
			Usage:       "model implementation to build",
			Value:       "toy",
			Destination: &modelKind,
		},
		&cli.IntFlag{
			Name:        "hidden",
			Usage:       "hidden size of the model",
			Value:       64,
			Destination: &hidden,
		},
		&cli.IntFlag{
			Name:        "max-context",
			Aliases:     []string{"max-ctx", "ctx", "c"},
			Usage:       "max context length (0 = unbounded)",
			Destination: &maxContext,
		},
		&cli.IntFlag{
			Name:        "vocab-size",
			Usage:       "override the vocabulary size reported by the tokenizer",
			Destination: &vocabSize,
		},
		&cli.Int64Flag{
			Name:        "model-seed",
			Usage:       "seed for model weight initialisation",
			Value:       1,
			Destination: &modelSeed,
		},
	}
}

func commonTokenizerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "tokenizer-json",
			Aliases:     []string{"tokenizer"},
			Usage:       "override path to tokenizer.json, or tiktoken:<encoding>",
			Destination: &tokenizerJSONPath,
		},
		&cli.StringFlag{
			Name:        "tokenizer-config",
			Usage:       "override path to tokenizer_config.json",
			Destination: &tokenizerConfig,
		},
		&cli.StringFlag{
			Name:        "generation-config",
			Usage:       "override path to generation_config.json",
			Destination: &generationConfig,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       logger.FormatPretty,
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func tracingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "otlp-endpoint",
			Usage:       "OTLP/gRPC collector address; enables tracing",
			Sources:     cli.EnvVars("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Destination: &otlpEndpoint,
		},
		&cli.BoolFlag{
			Name:        "otlp-insecure",
			Usage:       "disable TLS for the OTLP exporter",
			Destination: &otlpInsecure,
		},
	}
}

// modelLoader builds a Loader from the model flags. dir may be empty when
// the tokenizer is given explicitly.
func modelLoader(dir string, log logger.Logger) inference.Loader {
	l := inference.Loader{
		TokenizerPath:        tokenizerJSONPath,
		TokenizerConfigPath:  tokenizerConfig,
		GenerationConfigPath: generationConfig,
		ModelKind:            modelKind,
		Hidden:               hidden,
		MaxContext:           maxContext,
		VocabSize:            vocabSize,
		Seed:                 uint64(modelSeed),
		Logger:               log,
	}
	if dir == "" {
		return l
	}
	return inference.LoaderFromDir(dir, l)
}
