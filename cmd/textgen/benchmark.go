package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/textgen/internal/inference"
	"github.com/samcharles93/textgen/internal/logger"
)

type benchRun struct {
	TPS      float64
	Duration time.Duration
	Tokens   int
	Stop     string
}

func benchmarkCmd() *cli.Command {
	var (
		warmupRuns int
		benchRuns  int
		prompt     string
		sampling   samplingFlags
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, commonTokenizerFlags()...)
	flags = append(flags, sampling.flags()...)
	flags = append(flags,
		&cli.IntFlag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.IntFlag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       3,
			Destination: &benchRuns,
		},
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text for benchmarking",
			Value:       inference.DefaultPrompt,
			Destination: &prompt,
		},
	)

	return &cli.Command{
		Name:    "bench",
		Aliases: []string{"benchmark"},
		Usage:   "Measure generation throughput",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(c, appConfig)
			if benchRuns < 1 {
				return cli.Exit("error: --runs must be at least 1", 1)
			}

			loadStart := time.Now()
			loaded, err := loadModel(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = loaded.Engine.Close() }()
			loadDuration := time.Since(loadStart)

			opts := sampling.options(c, appConfig, prompt)
			if !c.IsSet("steps") {
				steps := 128
				opts.Steps = &steps
			}
			req := inference.ResolveRequest(opts, loaded.GenerationDefaults)
			if err := req.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			fmt.Println("=== textgen benchmark ===")
			fmt.Printf("Model:      %s (vocab %d)\n", loaded.ModelKind, loaded.VocabSize)
			fmt.Printf("CPUs:       %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Load:       %s\n", loadDuration.Round(time.Millisecond))
			fmt.Printf("Steps:      %d tokens\n", req.Steps)
			fmt.Printf("Warmup:     %d runs\n", warmupRuns)
			fmt.Printf("Runs:       %d\n", benchRuns)
			fmt.Println()

			for i := range warmupRuns {
				log.Info("warmup run", "run", i+1)
				if _, err := loaded.Engine.Generate(ctx, &req, nil); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			results := make([]benchRun, 0, benchRuns)
			for i := range benchRuns {
				log.Info("benchmark run", "run", i+1)
				res, err := loaded.Engine.Generate(ctx, &req, nil)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				results = append(results, benchRun{
					TPS:      res.Stats.TPS,
					Duration: res.Stats.Duration,
					Tokens:   res.Stats.TokensGenerated,
					Stop:     res.StopReason,
				})
			}

			printBenchResults(os.Stdout, results)

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024),
				float64(mem.Sys)/(1024*1024))
			return nil
		},
	}
}

func printBenchResults(w io.Writer, results []benchRun) {
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "%-6s %10s %10s %8s %-10s\n", "Run", "TPS", "Duration", "Tokens", "Stop")
	var sumTPS float64
	var sumTokens int
	for i, r := range results {
		fmt.Fprintf(w, "%-6d %10.2f %10s %8d %-10s\n", i+1, r.TPS, r.Duration.Round(time.Millisecond), r.Tokens, r.Stop)
		sumTPS += r.TPS
		sumTokens += r.Tokens
	}
	if len(results) == 0 {
		return
	}
	n := float64(len(results))
	fmt.Fprintf(w, "\n%-6s %10.2f %10s %8.1f\n", "Avg", sumTPS/n, "", float64(sumTokens)/n)
}
