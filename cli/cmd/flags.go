// Package cmd provides CLI commands for the propwatch binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/propwatch/soap"
)

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// ConfigFlag points at a propwatch.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to propwatch.yaml (flags override its values)",
		EnvVars: []string{"PROPWATCH_CONFIG"},
	}
)

// OutputFlags returns the shared flags for every command that renders output.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// endpointFlags selects and tunes a remote collector.
func endpointFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:    "endpoint",
			Aliases: []string{"e"},
			Usage:   "SOAP endpoint URL, e.g. https://vc.example.com/sdk",
			EnvVars: []string{"PROPWATCH_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:  "collector",
			Usage: "Property collector id",
			Value: soap.DefaultCollector,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Timeout for non-blocking calls",
			Value: soap.DefaultTimeout,
		},
		&cli.StringSliceFlag{
			Name:  "header",
			Usage: "Extra request header as Name=Value (repeatable)",
		},
	}
}

// objectFlag names the watched or read object as Type:value.
func objectFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "object",
		Aliases: []string{"o"},
		Usage:   "Managed object reference as Type:value, e.g. Task:task-42",
	}
}

// watchFlags are shared by watch and replay. The --until paths are
// always reported, so --track is only needed for extra paths.
func watchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "track",
			Aliases: []string{"t"},
			Usage:   "Extra property path whose final value is reported (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:    "until",
			Aliases: []string{"u"},
			Usage:   "Termination condition as path=value[,value...] (repeatable, required)",
		},
		&cli.DurationFlag{
			Name:  "max-duration",
			Usage: "Give up after this long (0 waits forever)",
		},
		&cli.BoolFlag{
			Name:  "stats",
			Usage: "Include watch counters in the output",
		},
	}
}

// journalFlags select how a watch is recorded.
func journalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "journal",
			Usage: "Record every poll to this journal file",
		},
		&cli.StringFlag{
			Name:  "policy",
			Usage: "Journal policy: strict or buffered",
			Value: "strict",
		},
		&cli.IntFlag{
			Name:  "buffer-records",
			Usage: "Max buffered records (buffered policy)",
		},
		&cli.StringFlag{
			Name:  "archive",
			Usage: "Upload the journal to s3://bucket/prefix/ when the watch ends",
		},
	}
}

// archiveFlags select the S3-compatible store holding journals.
func archiveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "archive-region",
			Usage: "AWS region of the journal archive",
		},
		&cli.StringFlag{
			Name:  "archive-endpoint",
			Usage: "Custom S3 endpoint URL (MinIO, R2)",
		},
		&cli.BoolFlag{
			Name:  "archive-path-style",
			Usage: "Use path-style S3 addressing",
		},
	}
}

// adapterFlags configure completion notifications.
func adapterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Notification adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook URL or redis:// URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel",
		},
		&cli.StringFlag{
			Name:  "adapter-stream",
			Usage: "Redis stream to append events to instead of publishing",
		},
		&cli.StringFlag{
			Name:    "adapter-secret",
			Usage:   "HMAC secret signing webhook bodies",
			EnvVars: []string{"PROPWATCH_ADAPTER_SECRET"},
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-publish timeout",
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Publish retries",
			Value: -1,
		},
	}
}
