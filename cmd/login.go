package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/logmapper/internal/auth"
	"github.com/logmapper/internal/session"
)

// LoginCommand returns the login command
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Authenticate against the mapping backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "username",
				Aliases:  []string{"u"},
				Usage:    "backend username",
				EnvVars:  []string{"LOGMAPPER_USERNAME"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "password",
				Aliases:  []string{"p"},
				Usage:    "backend password",
				EnvVars:  []string{"LOGMAPPER_PASSWORD"},
				Required: true,
			},
		},
		Action: runLogin,
	}
}

func runLogin(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}

	ctx, cancel := app.runContext(c)
	defer cancel()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	creds, err := auth.Login(ctx, httpClient, app.cfg.API.URL, c.String("username"), c.String("password"))
	if err != nil {
		return err
	}

	app.gate.Set(*creds)
	if err := app.store.Update(func(ns *session.Namespace) {
		ns.AccessToken = creds.Token
		ns.TokenType = creds.Type
	}); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}

	fmt.Println("Logged in.")
	if exp, ok := creds.ExpiresAt(); ok {
		fmt.Printf("Token expires at %s\n", exp.Local().Format(time.RFC1123))
	}
	return nil
}

// LogoutCommand returns the logout command
func LogoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Discard the stored credential",
		Action: func(c *cli.Context) error {
			app, err := buildApp(c)
			if err != nil {
				return err
			}
			app.manager.Logout()
			return nil
		},
	}
}
