package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/propwatch/cli/config"
	"github.com/pithecene-io/propwatch/cli/render"
	"github.com/pithecene-io/propwatch/cli/seed"
	"github.com/pithecene-io/propwatch/codec"
	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/iox"
	"github.com/pithecene-io/propwatch/log"
	"github.com/pithecene-io/propwatch/metrics"
	"github.com/pithecene-io/propwatch/policy"
	"github.com/pithecene-io/propwatch/watch"
)

// schemaFlag loads extra wire types from a seed file.
var schemaFlag = &cli.StringFlag{
	Name:  "schema",
	Usage: "Seed file whose types extend the builtin schema",
}

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	flags := append(endpointFlags(), objectFlag(), schemaFlag)
	flags = append(flags, watchFlags()...)
	flags = append(flags, journalFlags()...)
	flags = append(flags, archiveFlags()...)
	flags = append(flags, adapterFlags()...)
	flags = append(flags, OutputFlags()...)
	return &cli.Command{
		Name:   "watch",
		Usage:  "Watch an object until a property reaches an accepted value",
		Flags:  flags,
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	if err := requireFlags(c, "object", "until"); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	obj, err := parseObject(c)
	if err != nil {
		return err
	}
	until, err := parseUntil(c.StringSlice("until"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	endpoint, err := resolveEndpoint(c, cfg)
	if err != nil {
		return err
	}
	cd, err := codecFor(c)
	if err != nil {
		return err
	}
	r, err := render.NewRendererWithDefault(c, configVal(cfg, func(c *config.Config) string { return c.Format }))
	if err != nil {
		return err
	}

	logger := newLogger(c, "watch", endpoint)
	client, err := newClient(c, cfg, endpoint, cd, logger)
	if err != nil {
		return err
	}

	pc := resolvePolicy(c, cfg)
	target, err := resolveArchiveTarget(c, cfg, pc)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid archive config: %v", err), exitUsage)
	}
	pol, err := buildPolicy(pc, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid policy config: %v", err), exitUsage)
	}

	ad, err := buildAdapter(resolveAdapter(c, cfg))
	if err != nil {
		iox.DiscardClose(pol)
		return cli.Exit(fmt.Sprintf("invalid adapter config: %v", err), exitUsage)
	}
	defer func() {
		if err := iox.CloseAll(pol, ad); err != nil {
			logger.Warn("closing sinks failed", map[string]any{"error": err.Error()})
		}
	}()

	m := metrics.NewCollector("soap", endpoint)
	w, err := watch.New(watch.Config{
		Collector: client,
		Codec:     cd,
		Policy:    pol,
		Adapter:   ad,
		Retry:     configVal(cfg, func(c *config.Config) config.RetryConfig { return c.Retry }).Policy(),
		Endpoint:  endpoint,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c.Context, c.Duration("max-duration"))
	defer cancel()

	res, err := w.WaitForValues(ctx, obj, c.StringSlice("track"), until)
	// Failed watches are archived too; their journals end in a fault record.
	archived, archiveErr := uploadJournal(c.Context, target, pc.journal, pol, logger)
	if err != nil {
		return watchExit(err)
	}

	view := newWatchView(res)
	view.Archive = archived
	if c.Bool("stats") {
		snap := m.Snapshot()
		stats := w.PolicyStats()
		view.Metrics = &snap
		view.Policy = &stats
	}
	if err := r.Render(view); err != nil {
		return err
	}
	if archiveErr != nil {
		return cli.Exit(fmt.Sprintf("archive failed: %v", archiveErr), exitFailed)
	}
	return nil
}

// uploadJournal closes the journal and copies it to the archive.
func uploadJournal(ctx context.Context, target *archiveTarget, path string, pol policy.Policy, logger *log.Logger) (string, error) {
	if target == nil {
		return "", nil
	}
	if err := pol.Close(); err != nil {
		return "", fmt.Errorf("close journal: %w", err)
	}
	a, err := openArchive(ctx, target.config)
	if err != nil {
		return "", err
	}
	loc, err := a.Upload(ctx, path, target.loc)
	if err != nil {
		logger.Warn("journal archive failed", map[string]any{"error": err.Error()})
		return "", err
	}
	logger.Info("journal archived", map[string]any{"location": loc.String()})
	return loc.String(), nil
}

// codecFor builds the codec, extended by --schema when set.
func codecFor(c *cli.Context) (*codec.Codec, error) {
	path := c.String("schema")
	if path == "" {
		return codec.New(nil), nil
	}
	f, err := seed.Load(path)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	reg, err := f.Registry()
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid schema: %v", err), exitUsage)
	}
	return codec.New(reg), nil
}

// signalContext ends on SIGINT/SIGTERM, or after limit when positive.
func signalContext(parent context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	if limit <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, limit)
	return tctx, func() {
		cancel()
		stop()
	}
}

// watchExit maps a watch error to an exit status.
func watchExit(err error) error {
	code := exitFailed
	if errors.Is(err, fault.ErrCanceled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		code = exitCanceled
	}
	return cli.Exit(fmt.Sprintf("watch failed [%s]: %v", fault.Code(err), err), code)
}
