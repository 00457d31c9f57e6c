package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/textgen/internal/api"
	"github.com/samcharles93/textgen/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxTokens   int
		storeSize   int
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, commonTokenizerFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.IntFlag{
			Name:        "default-max-tokens",
			Usage:       "token budget for requests that set no max_tokens",
			Value:       api.DefaultMaxTokens,
			Destination: &maxTokens,
		},
		&cli.IntFlag{
			Name:        "store-size",
			Usage:       "number of finished generations kept for GET /v1/generations/:id",
			Value:       api.DefaultStoreCapacity,
			Destination: &storeSize,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the generation REST API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, appConfig, &addr)

			provider := api.NewCachedEngineProvider(api.EngineProviderConfig{
				DefaultModelPath: modelPath,
				ModelsPath:       modelsPath,
				Loader:           modelLoader("", log),
			})
			defer func() {
				if err := provider.Close(); err != nil {
					log.Warn("close engines", "error", err)
				}
			}()

			service := api.NewGenerationService(provider, log)
			service.SetDefaultMaxTokens(maxTokens)
			server := api.NewServer(api.NewGenerationStore(storeSize), service, provider)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
