package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/propwatch/cli/config"
	"github.com/pithecene-io/propwatch/types"
	"github.com/pithecene-io/propwatch/watch"
)

// loadConfig loads --config, or returns nil when it is not set.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	return cfg, nil
}

// configVal reads a field from a possibly nil config.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	if cfg == nil {
		var zero T
		return zero
	}
	return get(cfg)
}

// resolveString returns the flag when set, else the config value when
// non-empty, else the flag default.
func resolveString(c *cli.Context, name, cfgVal string) string {
	if c.IsSet(name) || cfgVal == "" {
		return c.String(name)
	}
	return cfgVal
}

// resolveInt applies the resolveString rule to int flags.
func resolveInt(c *cli.Context, name string, cfgVal int) int {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Int(name)
	}
	return cfgVal
}

// resolveDuration applies the resolveString rule to duration flags.
func resolveDuration(c *cli.Context, name string, cfgVal time.Duration) time.Duration {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Duration(name)
	}
	return cfgVal
}

// resolveBool returns true if the flag is set to true, or the flag is
// unset and the config value is true.
func resolveBool(c *cli.Context, name string, cfgVal bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return cfgVal || c.Bool(name)
}

// parseHeaders parses Name=Value pairs over the config headers.
func parseHeaders(pairs []string, base map[string]string) (map[string]string, error) {
	if len(pairs) == 0 && len(base) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(base)+len(pairs))
	for k, v := range base {
		out[k] = v
	}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q: want Name=Value", p)
		}
		out[strings.TrimSpace(name)] = value
	}
	return out, nil
}

// requireFlags fails with exitUsage when any of names was not given.
// urfave's own Required check exits with a plain error instead.
func requireFlags(c *cli.Context, names ...string) error {
	var missing []string
	for _, n := range names {
		if !c.IsSet(n) {
			missing = append(missing, "--"+n)
		}
	}
	if len(missing) > 0 {
		return cli.Exit("missing required flag "+strings.Join(missing, ", "), exitUsage)
	}
	return nil
}

// parseUntil parses path=value[,value...] termination conditions. The
// values are compared with the wire text of the delivered value.
func parseUntil(specs []string) ([]watch.Until, error) {
	until := make([]watch.Until, 0, len(specs))
	for _, s := range specs {
		path, list, ok := strings.Cut(s, "=")
		path = strings.TrimSpace(path)
		if !ok || path == "" || list == "" {
			return nil, fmt.Errorf("invalid --until %q: want path=value[,value...]", s)
		}
		var values []any
		for _, v := range strings.Split(list, ",") {
			values = append(values, watch.Text(strings.TrimSpace(v)))
		}
		until = append(until, watch.Until{Path: path, Values: values})
	}
	return until, nil
}

func parseObject(c *cli.Context) (types.Reference, error) {
	ref, err := types.ParseReference(c.String("object"))
	if err != nil {
		return types.Reference{}, cli.Exit(err.Error(), exitUsage)
	}
	return ref, nil
}
