package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/logmapper/internal/auth"
	"github.com/logmapper/internal/config"
	"github.com/logmapper/internal/logging"
	"github.com/logmapper/internal/session"
	"github.com/logmapper/internal/transport"
)

// appContext wires the client's collaborators for one command invocation.
type appContext struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   *session.Store
	gate    *auth.Gate
	client  *transport.Client
	manager *session.Manager

	transcriptMu sync.Mutex
	transcript   *logging.Transcript
}

// consoleNotifier prints transient one-line messages to the terminal.
type consoleNotifier struct{}

func (consoleNotifier) Notify(message string) {
	fmt.Println(message)
}

// consoleNavigator is the CLI's unauthenticated entry point: it tells the
// user to log in again.
type consoleNavigator struct{}

func (consoleNavigator) RedirectToLogin() {
	fmt.Println("You have been logged out. Run `logmapper login` to continue.")
}

func buildApp(c *cli.Context) (*appContext, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.Log.Level
	if c.Bool("verbose") {
		level = "debug"
	}
	log := logging.Setup(level)

	store := session.NewStore(cfg.Session.Path)
	gate := auth.NewGate()

	// restore a persisted credential, if any
	ns, err := store.Load()
	if err != nil {
		return nil, err
	}
	if ns.AccessToken != "" {
		gate.Set(auth.Credentials{Token: ns.AccessToken, Type: ns.TokenType})
	}

	app := &appContext{
		cfg:   cfg,
		log:   log,
		store: store,
		gate:  gate,
	}

	app.client = transport.NewClient(cfg.API.URL, gate,
		transport.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.API.TimeoutMinutes) * time.Minute}),
		transport.WithUnauthorizedHook(gate.Clear),
		transport.WithLogger(log),
	)

	app.manager = session.NewManager(store, app.client, gate,
		session.WithNotifier(consoleNotifier{}),
		session.WithNavigator(consoleNavigator{}),
		session.WithManagerLogger(log),
		session.WithThoughtObserver(app.observeThought),
	)
	return app, nil
}

// observeThought echoes streamed agent thoughts to the terminal and the run
// transcript as they arrive.
func (a *appContext) observeThought(ev transport.ThoughtEvent) {
	fmt.Printf("  [%s] %s", ev.Agent, ev.Step.NodeName)
	if len(ev.Step.ToolCalls) > 0 {
		fmt.Printf(" (%d tool call(s))", len(ev.Step.ToolCalls))
	}
	fmt.Println()

	a.transcriptMu.Lock()
	tr := a.transcript
	a.transcriptMu.Unlock()
	tr.LogThought(ev.Agent, ev.Step.NodeName, ev.Step.MessageType, ev.Step.Content)
}

// withTranscript runs fn with a run transcript open when transcripts are
// configured.
func (a *appContext) withTranscript(label string, fn func() error) error {
	if a.cfg.Log.TranscriptDir == "" {
		return fn()
	}
	tr, err := logging.StartTranscript(a.cfg.Log.TranscriptDir, label)
	if err != nil {
		a.log.Warn().Err(err).Msg("transcripts disabled for this run")
		return fn()
	}
	a.transcriptMu.Lock()
	a.transcript = tr
	a.transcriptMu.Unlock()
	defer func() {
		a.transcriptMu.Lock()
		a.transcript = nil
		a.transcriptMu.Unlock()
		tr.Close()
	}()
	return fn()
}

func (a *appContext) runContext(c *cli.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(a.cfg.API.TimeoutMinutes) * time.Minute
	return context.WithTimeout(c.Context, timeout)
}
