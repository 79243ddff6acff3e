package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/propwatch/cli/render"
	"github.com/pithecene-io/propwatch/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version        string `json:"version"`
	JournalVersion string `json:"journal_version"`
	Commit         string `json:"commit"`
}

// VersionCommand returns the version command.
// It must not contact a collector.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  OutputFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		return r.Render(VersionResponse{
			Version:        types.Version,
			JournalVersion: types.JournalVersion,
			Commit:         commit,
		})
	}
}
