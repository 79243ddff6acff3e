package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/propwatch/cli/config"
	"github.com/pithecene-io/propwatch/cli/seed"
	"github.com/pithecene-io/propwatch/collector/memory"
	"github.com/pithecene-io/propwatch/soap"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve an in-memory property collector over SOAP",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:    "seed",
				Aliases: []string{"s"},
				Usage:   "Seed file with schema types, objects and scripted changes",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address",
				Value: ":8989",
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "HTTP path of the SOAP endpoint",
				Value: "/sdk",
			},
			&cli.IntFlag{
				Name:  "history-limit",
				Usage: "Versions retained per session before polls go stale",
				Value: memory.DefaultHistoryLimit,
			},
			&cli.IntFlag{
				Name:  "batch-limit",
				Usage: "Max property changes per poll (0 is unlimited)",
			},
			&cli.DurationFlag{
				Name:  "max-wait",
				Usage: "Return an empty poll after this long (0 blocks)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(c, "serve", "")

	file := &seed.File{}
	if path := c.String("seed"); path != "" {
		if file, err = seed.Load(path); err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
	}

	opts := []memory.Option{
		memory.WithLogger(logger),
		memory.WithHistoryLimit(resolveInt(c, "history-limit", configVal(cfg, func(c *config.Config) int { return c.HistoryLimit }))),
	}
	if n := c.Int("batch-limit"); n > 0 {
		opts = append(opts, memory.WithBatchLimit(n))
	}
	if d := c.Duration("max-wait"); d > 0 {
		opts = append(opts, memory.WithMaxWait(d))
	}
	store, err := file.NewStore(opts...)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	handler := soap.NewServer(store, logger)
	mux := http.NewServeMux()
	mux.Handle(c.String("path"), handler)
	srv := &http.Server{
		Addr:              c.String("listen"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext(c.Context, 0)
	defer cancel()

	logger.Info("serving property collector", map[string]any{
		"listen":  srv.Addr,
		"path":    c.String("path"),
		"objects": len(store.Objects()),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := file.Play(gctx, store, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("seed script stopped", map[string]any{"error": err.Error()})
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Release blocked long polls before draining connections.
		handler.Close()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	logger.Info("server stopped", nil)
	return nil
}
