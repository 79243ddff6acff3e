package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/propwatch/cli/render"
	"github.com/pithecene-io/propwatch/collector/replay"
	"github.com/pithecene-io/propwatch/journal"
	"github.com/pithecene-io/propwatch/metrics"
	"github.com/pithecene-io/propwatch/types"
	"github.com/pithecene-io/propwatch/watch"
)

// ReplayCommand returns the replay command.
func ReplayCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "journal",
			Aliases: []string{"j"},
			Usage:   "Journal file recorded by watch --journal, or an s3:// archive location (required)",
		},
		ConfigFlag,
		objectFlag(),
		schemaFlag,
	}
	flags = append(flags, watchFlags()...)
	flags = append(flags, archiveFlags()...)
	flags = append(flags, OutputFlags()...)
	return &cli.Command{
		Name:   "replay",
		Usage:  "Re-run a watch against a recorded journal",
		Flags:  flags,
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if err := requireFlags(c, "journal", "until"); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	until, err := parseUntil(c.StringSlice("until"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	cd, err := codecFor(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	path := c.String("journal")
	records, err := readJournal(c, cfg, path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read journal: %v", err), exitFailed)
	}

	// The header supplies the object and tracked paths unless overridden.
	var obj types.Reference
	var track []string
	var endpoint string
	if len(records) > 0 && records[0].Kind == journal.KindHeader && records[0].Header != nil {
		h := records[0].Header
		obj, track, endpoint = h.Object, h.FilterPaths, h.Endpoint
	}
	if c.IsSet("object") {
		if obj, err = parseObject(c); err != nil {
			return err
		}
	}
	if c.IsSet("track") {
		track = c.StringSlice("track")
	}
	if obj.IsZero() {
		return cli.Exit("journal has no header; --object is required", exitUsage)
	}

	pc, err := replay.FromRecords(cd, records)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot replay journal: %v", err), exitFailed)
	}

	m := metrics.NewCollector("replay", path)
	w, err := watch.New(watch.Config{
		Collector: pc,
		Codec:     cd,
		Endpoint:  endpoint,
		Logger:    newLogger(c, "replay", endpoint),
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c.Context, c.Duration("max-duration"))
	defer cancel()

	res, err := w.WaitForValues(ctx, obj, track, until)
	if err != nil {
		return watchExit(err)
	}

	view := newWatchView(res)
	if c.Bool("stats") {
		snap := m.Snapshot()
		view.Metrics = &snap
	}
	return r.Render(view)
}
