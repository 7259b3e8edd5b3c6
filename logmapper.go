package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/logmapper/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "logmapper",
		Usage:   "Interactive client for the log-to-UDM field mapping workflow",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			cmd.LoginCommand(),
			cmd.LogoutCommand(),
			cmd.StartCommand(),
			cmd.ResumeCommand(),
			cmd.GenerateCommand(),
			cmd.OverrideCommand(),
			cmd.ExportCommand(),
			cmd.StatusCommand(),
			cmd.ResetCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
