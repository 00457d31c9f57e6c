package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/textgen/internal/inference"
	"github.com/samcharles93/textgen/internal/logger"
)

func runCmd() *cli.Command {
	var (
		prompts     []string
		interactive bool
		echoPrompt  bool
		streamMode  string
		rawOutput   bool
		showConfig  bool
		showTokens  bool
		sampling    samplingFlags

		cpuProfile string
		memProfile string
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, commonTokenizerFlags()...)
	flags = append(flags, sampling.flags()...)
	flags = append(flags,
		&cli.StringSliceFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text; repeat to run several prompts in order",
			Destination: &prompts,
		},
		&cli.BoolFlag{
			Name:        "interactive",
			Aliases:     []string{"i"},
			Usage:       "read prompts from the terminal until /exit",
			Destination: &interactive,
		},
		&cli.BoolFlag{
			Name:        "echo-prompt",
			Usage:       "print prompt text before generation",
			Value:       true,
			Destination: &echoPrompt,
		},
		&cli.StringFlag{
			Name:        "stream-mode",
			Usage:       "output mode (instant, smooth, typewriter, quiet)",
			Value:       string(StreamInstant),
			Destination: &streamMode,
		},
		&cli.BoolFlag{
			Name:        "raw",
			Usage:       "escape control characters in the output",
			Destination: &rawOutput,
		},
		&cli.BoolFlag{
			Name:        "show-config",
			Usage:       "print model + tokenizer summary",
			Destination: &showConfig,
		},
		&cli.BoolFlag{
			Name:        "show-tokens",
			Usage:       "print prompt token ids",
			Destination: &showTokens,
		},
		&cli.StringFlag{
			Name:        "cpuprofile",
			Usage:       "write cpu profile to file",
			Destination: &cpuProfile,
		},
		&cli.StringFlag{
			Name:        "memprofile",
			Usage:       "write memory profile to file",
			Destination: &memProfile,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate text from one or more prompts",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(c, appConfig)
			if appConfig.StreamMode != "" && !c.IsSet("stream-mode") {
				streamMode = appConfig.StreamMode
			}
			mode, err := parseStreamMode(streamMode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			if cpuProfile != "" {
				f, err := os.Create(cpuProfile)
				if err != nil {
					return cli.Exit(fmt.Sprintf("could not create CPU profile: %v", err), 1)
				}
				defer func() { _ = f.Close() }()
				if err := pprof.StartCPUProfile(f); err != nil {
					return cli.Exit(fmt.Sprintf("could not start CPU profile: %v", err), 1)
				}
				defer pprof.StopCPUProfile()
			}
			if memProfile != "" {
				defer writeHeapProfile(memProfile, log)
			}

			loaded, err := loadModel(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = loaded.Engine.Close() }()

			if showConfig {
				printConfig(os.Stderr, loaded)
			}

			generate := func(prompt string) error {
				opts := sampling.options(c, appConfig, prompt)
				opts.EchoPrompt = &echoPrompt
				req := inference.ResolveRequest(opts, loaded.GenerationDefaults)
				if err := req.Validate(); err != nil {
					return err
				}
				if showTokens {
					if ids, err := loaded.Tokenizer.Encode(prompt); err == nil {
						fmt.Fprintf(os.Stderr, "Input tokens (%d): %s\n", len(ids), joinInts(ids))
					}
				}

				out := NewStreamWriter(os.Stdout, mode, rawOutput)
				res, err := loaded.Engine.Generate(ctx, &req, out.Write)
				out.Close()
				fmt.Println()
				if err != nil {
					return err
				}
				printStats(os.Stderr, res)
				log.Debug("prompt finished", "stop_reason", res.StopReason, "tokens", res.Stats.TokensGenerated)
				return nil
			}

			if len(prompts) == 0 && !interactive {
				prompts = []string{inference.DefaultPrompt}
			}
			for i, p := range prompts {
				if len(prompts) > 1 {
					fmt.Fprintf(os.Stderr, "--- prompt %d/%d ---\n", i+1, len(prompts))
				}
				if err := generate(p); err != nil {
					return cli.Exit(fmt.Sprintf("error: generation: %v", err), 1)
				}
			}
			if !interactive {
				return nil
			}

			fmt.Fprintln(os.Stderr, "Interactive mode. Type /exit to quit.")
			for {
				line, err := readInteractiveLine("> ")
				if err != nil {
					if errors.Is(err, io.EOF) {
						return nil
					}
					return cli.Exit(fmt.Sprintf("error: read input: %v", err), 1)
				}
				input := strings.TrimSpace(line)
				if input == "/exit" {
					return nil
				}
				if input == "" {
					continue
				}
				if err := generate(line); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					fmt.Fprintln(os.Stderr, "error: generation:", err)
				}
			}
		},
	}
}

// loadModel resolves the model directory from the flags and loads it.
func loadModel(ctx context.Context) (*inference.LoadResult, error) {
	log := logger.FromContext(ctx)
	dir, err := resolveRunModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: resolve model: %v", err), 1)
	}
	if dir != "" {
		st, err := os.Stat(dir)
		if err != nil {
			return nil, cli.Exit(fmt.Sprintf("error: stat model path %q: %v", dir, err), 1)
		}
		if !st.IsDir() {
			return nil, cli.Exit(fmt.Sprintf("error: model path %q is not a directory", dir), 1)
		}
	}

	loadStart := time.Now()
	loaded, err := modelLoader(dir, log).Load()
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
	}
	log.Info("model loaded", "path", dir, "kind", loaded.ModelKind, "vocab", loaded.VocabSize, "duration", time.Since(loadStart).Round(time.Millisecond))
	return loaded, nil
}

func printConfig(w io.Writer, loaded *inference.LoadResult) {
	d := loaded.GenerationDefaults
	fmt.Fprintf(w, "model: kind=%s vocab=%d hidden=%d max_context=%d\n", loaded.ModelKind, loaded.VocabSize, hidden, maxContext)
	fmt.Fprintf(w, "tokenizer: bos=%d eos=%d add_bos=%t\n", loaded.TokenizerConfig.BOSTokenID, loaded.TokenizerConfig.EOSTokenID, loaded.TokenizerConfig.AddBOS)
	fmt.Fprintf(w, "generation_config: do_sample=%s temperature=%s top_k=%s top_p=%s repetition_penalty=%s end_marker=%q\n",
		optString(d.DoSample), optString(d.Temperature), optString(d.TopK), optString(d.TopP), optString(d.RepetitionPenalty), d.EndMarker)
}

func optString[T any](v *T) string {
	if v == nil {
		return "unset"
	}
	return fmt.Sprint(*v)
}

func printStats(w io.Writer, res *inference.Result) {
	fmt.Fprintf(w, "Stats: %.2f TPS (%d tokens in %s, prompt %d tokens, stop=%s)\n",
		res.Stats.TPS, res.Stats.TokensGenerated, res.Stats.Duration.Round(time.Millisecond), res.Stats.PromptTokens, res.StopReason)
}

func writeHeapProfile(path string, log logger.Logger) {
	f, err := os.Create(path)
	if err != nil {
		log.Error("could not create memory profile", "error", err)
		return
	}
	defer func() { _ = f.Close() }()
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Error("could not write memory profile", "error", err)
	}
}

func randomSeed() uint64 {
	return uint64(time.Now().UnixNano())
}

func joinInts(ids []int) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, id := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", id)
	}
	b.WriteByte(']')
	return b.String()
}
