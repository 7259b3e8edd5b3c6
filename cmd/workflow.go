package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/logmapper/internal/export"
	"github.com/logmapper/internal/session"
)

// StartCommand returns the start command
func StartCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start a mapping workflow from a raw log sample",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "product",
				Usage:    "product name",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "log-name",
				Usage:    "product log name",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "event-type",
				Usage: "UDM event type",
			},
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "path to the raw log sample",
				Required: true,
			},
		},
		Action: runStart,
	}
}

func runStart(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}

	ctx, cancel := app.runContext(c)
	defer cancel()

	form := session.StartForm{
		ProductName:    c.String("product"),
		ProductLogName: c.String("log-name"),
		UDMEventType:   c.String("event-type"),
		RawLogsPath:    c.String("file"),
	}

	err = app.withTranscript("start", func() error {
		return app.manager.Start(ctx, form)
	})
	if err != nil {
		return err
	}
	printMappingTable(app)
	return nil
}

// ResumeCommand returns the resume command
func ResumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Send feedback and rerun the active workflow",
		ArgsUsage: "<feedback>",
		Action:    runResume,
	}
}

func runResume(c *cli.Context) error {
	feedback := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if feedback == "" {
		return fmt.Errorf("feedback is required, e.g. `logmapper resume \"map src to principal.ip\"`")
	}

	app, err := buildApp(c)
	if err != nil {
		return err
	}

	ctx, cancel := app.runContext(c)
	defer cancel()

	err = app.withTranscript("resume", func() error {
		return app.manager.Resume(ctx, feedback)
	})
	if err != nil {
		return err
	}
	printMappingTable(app)
	return nil
}

// GenerateCommand returns the generate command
func GenerateCommand() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Generate and download the parser configuration artifact",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out-dir",
				Aliases: []string{"o"},
				Usage:   "directory to save the artifact into (defaults to the configured export dir)",
			},
		},
		Action: runGenerate,
	}
}

func runGenerate(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}

	ctx, cancel := app.runContext(c)
	defer cancel()

	dir := c.String("out-dir")
	if dir == "" {
		dir = app.cfg.Export.Dir
	}
	dl := &export.FileDownloader{Dir: dir}

	if err := app.manager.Generate(ctx, dl); err != nil {
		return err
	}
	fmt.Printf("Configuration saved under %s\n", dir)
	return nil
}
