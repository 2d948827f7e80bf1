package cmd

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/airlock/cli/render"
	"github.com/justapithecus/airlock/cli/tui"
	"github.com/justapithecus/airlock/server/deviceapi"
	"github.com/justapithecus/airlock/types"
)

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the device server status and operator message",
		Flags:  ClientFlags(),
		Action: getAction("status", func() any { return &types.ServerStatus{} }, "status"),
	}
}

// InfoCommand returns the info command.
func InfoCommand() *cli.Command {
	return &cli.Command{
		Name:   "info",
		Usage:  "Show the device server host, version and uptime",
		Flags:  ClientFlags(),
		Action: getAction("info", func() any { return &deviceapi.ServerInfos{} }, "server_infos"),
	}
}

// SessionCommand returns the session command.
func SessionCommand() *cli.Command {
	return &cli.Command{
		Name:   "session",
		Usage:  "Show the current session id",
		Flags:  ClientFlags(),
		Action: getAction("session", func() any { return &deviceapi.IDResponse{} }, "id"),
	}
}

// DevicesCommand returns the devices command.
func DevicesCommand() *cli.Command {
	return &cli.Command{
		Name:   "devices",
		Usage:  "List devices known to the device server",
		Flags:  ClientFlags(),
		Action: getAction("devices", func() any { return &[]types.Device{} }, "devices"),
	}
}

// ResetCommand returns the reset command.
func ResetCommand() *cli.Command {
	return &cli.Command{
		Name:   "reset",
		Usage:  "Start a new session and mark the station idle",
		Flags:  ClientFlags(),
		Action: getAction("reset", func() any { return &deviceapi.ResetResponse{} }, "reset"),
	}
}

// getAction renders the JSON answer of GET elem.
func getAction(command string, newOut func() any, elem ...string) cli.ActionFunc {
	return func(c *cli.Context) error {
		if err := rejectTUI(c, command); err != nil {
			return err
		}
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		out := newOut()
		if err := newDeviceClient(c).getJSON(c.Context, nil, out, elem...); err != nil {
			return requestFailed(command, err)
		}
		return r.Render(deref(out))
	}
}

// deref unwraps slice pointers so tables render one row per element.
func deref(v any) any {
	switch v := v.(type) {
	case *[]types.Device:
		return *v
	case *[]types.DirEntry:
		return *v
	default:
		return v
	}
}

// SelectCommand returns the select command.
func SelectCommand() *cli.Command {
	return &cli.Command{
		Name:      "select",
		Usage:     "Select the dirty source and the output destination",
		ArgsUsage: "<dirty-fingerprint> <out-fingerprint>",
		Flags:     ClientFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("select requires <dirty-fingerprint> <out-fingerprint>", exitConfig)
			}
			dirty, out := c.Args().Get(0), c.Args().Get(1)
			return getAction("select", func() any { return &deviceapi.SelectResponse{} },
				"devices", "select", dirty, out)(c)
		},
	}
}

// LsCommand returns the ls command.
func LsCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List a directory of the selected dirty device",
		ArgsUsage: "[path]",
		Flags:     ClientFlags(),
		Action: func(c *cli.Context) error {
			if err := rejectTUI(c, "ls"); err != nil {
				return err
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			path := c.Args().First()
			if path == "" {
				path = "/"
			}
			var entries []types.DirEntry
			query := url.Values{"path": {path}}
			if err := newDeviceClient(c).getJSON(c.Context, query, &entries, "devices", "dirty", "read_dir/"); err != nil {
				return requestFailed("ls", err)
			}
			return r.Render(entries)
		},
	}
}

// CopyCommand returns the copy command.
func CopyCommand() *cli.Command {
	return &cli.Command{
		Name:      "copy",
		Usage:     "Copy files from the dirty device to the selected destination",
		ArgsUsage: "<path>...",
		Flags:     ClientFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("copy requires at least one path", exitConfig)
			}
			req := types.CopyRequest{Selected: c.Args().Slice()}
			s, err := newDeviceClient(c).openStream(c.Context, http.MethodPost, req, "copy")
			if err != nil {
				return requestFailed("copy", err)
			}
			return followStream(c, tui.ViewCopy, s)
		},
	}
}

// WipeCommand returns the wipe command.
func WipeCommand() *cli.Command {
	return &cli.Command{
		Name:      "wipe",
		Usage:     "Overwrite a USB device with zeros",
		ArgsUsage: "<fingerprint>",
		Flags: ClientFlags(
			&cli.StringFlag{
				Name:  "fsfmt",
				Usage: "Filesystem to create once wiped: none, vfat, exfat or ntfs",
				Value: "vfat",
			},
			&cli.BoolFlag{
				Name:  "quick",
				Usage: "Only wipe the start of the device",
			},
		),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("wipe requires <fingerprint>", exitConfig)
			}
			s, err := newDeviceClient(c).openStream(c.Context, http.MethodGet, nil,
				"wipe", c.Args().First(), c.String("fsfmt"), strconv.FormatBool(c.Bool("quick")))
			if err != nil {
				return requestFailed("wipe", err)
			}
			return followStream(c, tui.ViewWipe, s)
		},
	}
}

// ImageCommand returns the image command.
func ImageCommand() *cli.Command {
	return &cli.Command{
		Name:      "image",
		Usage:     "Copy a whole USB device into a disk image on the station",
		ArgsUsage: "<fingerprint>",
		Flags:     ClientFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("image requires <fingerprint>", exitConfig)
			}
			s, err := newDeviceClient(c).openStream(c.Context, http.MethodGet, nil, "imagedisk", c.Args().First())
			if err != nil {
				return requestFailed("image", err)
			}
			return followStream(c, tui.ViewImage, s)
		},
	}
}
