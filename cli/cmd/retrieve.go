package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/propwatch/cli/config"
	"github.com/pithecene-io/propwatch/cli/render"
	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/policy"
	"github.com/pithecene-io/propwatch/types"
	"github.com/pithecene-io/propwatch/watch"
)

// RetrieveCommand returns the retrieve command.
func RetrieveCommand() *cli.Command {
	flags := append(endpointFlags(), objectFlag(), schemaFlag,
		&cli.StringSliceFlag{
			Name:    "path",
			Aliases: []string{"p"},
			Usage:   "Property path to read (repeatable, required)",
		},
		&cli.IntFlag{
			Name:  "attempts",
			Usage: "Total read attempts on transient transport faults",
		},
		&cli.DurationFlag{
			Name:  "retry-delay",
			Usage: "Delay before each retry",
		},
	)
	flags = append(flags, OutputFlags()...)
	return &cli.Command{
		Name:   "retrieve",
		Usage:  "Read properties of an object once",
		Flags:  flags,
		Action: retrieveAction,
	}
}

// resolveRetry layers --attempts and --retry-delay over the config retry.
func resolveRetry(c *cli.Context, cfg *config.Config) policy.Retry {
	rc := configVal(cfg, func(c *config.Config) config.RetryConfig { return c.Retry })
	if c.IsSet("attempts") {
		rc.Attempts = c.Int("attempts")
	}
	if c.IsSet("retry-delay") {
		rc.Delay = config.Duration{Duration: c.Duration("retry-delay")}
	}
	return rc.Policy()
}

func retrieveAction(c *cli.Context) error {
	if err := requireFlags(c, "object", "path"); err != nil {
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

	logger := newLogger(c, "retrieve", endpoint)
	client, err := newClient(c, cfg, endpoint, cd, logger)
	if err != nil {
		return err
	}
	w, err := watch.New(watch.Config{
		Collector: client,
		Codec:     cd,
		Retry:     resolveRetry(c, cfg),
		Endpoint:  endpoint,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c.Context, 0)
	defer cancel()

	paths := c.StringSlice("path")
	props, err := w.PropertiesByPaths(ctx, obj, paths...)
	if err != nil {
		return cli.Exit(fmt.Sprintf("retrieve failed [%s]: %v", fault.Code(err), err), exitFailed)
	}

	rows := make([]SlotView, 0, len(paths))
	for _, p := range paths {
		s := types.NewSlot(p)
		if v, ok := props[p]; ok {
			s.State = types.SlotSet
			s.Value = v
		}
		rows = append(rows, newSlotView(s))
	}
	return r.Render(rows)
}
