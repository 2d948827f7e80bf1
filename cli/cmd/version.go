package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/airlock/cli/render"
	"github.com/justapithecus/airlock/types"
)

// VersionResponse is the response for the version command.
// Reports the project version shared by the CLI, both servers and the
// upload worker.
type VersionResponse struct {
	Version  string `json:"version"`
	Protocol string `json:"protocol"`
	Commit   string `json:"commit"`
}

// VersionCommand returns the version command.
// It must not contact any server.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		if err := rejectTUI(c, "version"); err != nil {
			return err
		}

		resp := VersionResponse{
			Version:  types.Version,
			Protocol: types.ProtocolVersion,
			Commit:   commit,
		}

		return r.Render(resp)
	}
}
