package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/textgen/internal/hub"
	"github.com/samcharles93/textgen/internal/logger"
)

func fetchCmd() *cli.Command {
	var (
		revision   string
		cache      string
		shards     bool
		shardIndex string
		files      []string
		retries    int
		backoff    time.Duration
		quiet      bool
	)

	return &cli.Command{
		Name:      "fetch",
		Usage:     "Download tokenizer and config files of a hub repository",
		ArgsUsage: "<repo>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "revision",
				Aliases:     []string{"rev", "r"},
				Usage:       "branch, tag or commit",
				Value:       hub.DefaultRevision,
				Destination: &revision,
			},
			&cli.StringFlag{
				Name:        "cache-dir",
				Usage:       "download cache (default $TEXTGEN_CACHE_DIR or the user cache dir)",
				Destination: &cache,
			},
			&cli.BoolFlag{
				Name:        "shards",
				Usage:       "also download the safetensors shards listed in the index",
				Destination: &shards,
			},
			&cli.StringFlag{
				Name:        "shard-index",
				Usage:       "name of the safetensors index file",
				Value:       hub.DefaultShardIndex,
				Destination: &shardIndex,
			},
			&cli.StringSliceFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "extra file to download; repeatable",
				Destination: &files,
			},
			&cli.IntFlag{
				Name:        "retries",
				Usage:       "retries per file before giving up",
				Value:       hub.DefaultMaxRetries,
				Destination: &retries,
			},
			&cli.DurationFlag{
				Name:        "backoff",
				Usage:       "initial retry delay",
				Value:       hub.DefaultInitialBackoff,
				Destination: &backoff,
			},
			&cli.BoolFlag{
				Name:        "quiet",
				Aliases:     []string{"q"},
				Usage:       "hide download progress",
				Destination: &quiet,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			repo := cmd.Args().First()
			if repo == "" {
				return cli.Exit("error: fetch requires a repository id, e.g. google/gemma-2b", 1)
			}

			dir, err := cacheDir(cache, appConfig)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			client := hub.NewClient(dir)
			client.MaxRetries = retries
			client.InitialBackoff = backoff
			client.Logger = log
			if !quiet {
				client.Progress = os.Stderr
			}

			modelDir, err := client.FetchModel(ctx, repo, revision)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: fetch %s: %v", repo, err), 1)
			}
			for _, f := range files {
				if _, err := client.Fetch(ctx, repo, revision, f); err != nil {
					return cli.Exit(fmt.Sprintf("error: fetch %s: %v", f, err), 1)
				}
			}
			if shards {
				paths, err := client.SafetensorsShards(ctx, repo, revision, shardIndex)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: fetch shards: %v", err), 1)
				}
				log.Info("shards downloaded", "count", len(paths))
			}

			printFetched(os.Stdout, modelDir)
			return nil
		},
	}
}

func printFetched(w io.Writer, dir string) {
	fmt.Fprintln(w, dir)
	ents, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range ents {
		if e.IsDir() || filepath.Ext(e.Name()) == ".xxh64" {
			continue
		}
		fmt.Fprintf(w, "  %s\n", e.Name())
	}
}
