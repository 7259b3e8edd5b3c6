package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/logmapper/internal/auth"
	"github.com/logmapper/internal/mapping"
	"github.com/logmapper/internal/transport"
)

// Phase is the session state machine's position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseReviewing
	PhaseResuming
	PhaseFinalizing
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseReviewing:
		return "reviewing"
	case PhaseResuming:
		return "resuming"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ValidationError reports missing required local input; it never reaches the
// network.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// ErrNoSession is the precondition failure for resume/generate without a
// persisted thread identity.
var ErrNoSession = errors.New("no active session: start a workflow first")

// ErrBusy rejects a call while another start/resume/generate is in flight.
var ErrBusy = errors.New("another workflow call is in progress")

// Notifier surfaces one-line transient messages to the user.
type Notifier interface {
	Notify(message string)
}

// Navigator moves the client to the unauthenticated entry point after a
// forced logout.
type Navigator interface {
	RedirectToLogin()
}

// WorkflowClient is the transport surface the state machine dispatches to.
type WorkflowClient interface {
	StartWorkflow(ctx context.Context, form transport.StartForm, sink transport.ThoughtSink) (*transport.WorkflowResult, *transport.APIError)
	ResumeWorkflow(ctx context.Context, threadID, feedback string, sink transport.ThoughtSink) (*transport.WorkflowResult, *transport.APIError)
	GenerateConf(ctx context.Context, threadID string, dl transport.Downloader) *transport.APIError
}

// StartForm mirrors the transport start payload at the session boundary.
type StartForm = transport.StartForm

// Manager orchestrates the legal sequence of workflow operations and owns the
// in-memory session: current phase, mapping rows, and streamed thoughts. At
// most one of start/resume/generate is in flight at a time.
type Manager struct {
	mu sync.Mutex

	store     *Store
	client    WorkflowClient
	gate      *auth.Gate
	notifier  Notifier
	navigator Navigator
	log       zerolog.Logger

	phase      Phase
	processing bool
	finalizing bool
	generation string
	rows       []mapping.Row
	thoughts   *ThoughtLog
	lastError  string

	// onThought observes live thought events for display/transcripts; called
	// outside the manager lock.
	onThought func(transport.ThoughtEvent)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNotifier installs the transient-message collaborator.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithNavigator installs the unauthenticated-redirect collaborator.
func WithNavigator(n Navigator) ManagerOption {
	return func(m *Manager) { m.navigator = n }
}

// WithThoughtObserver installs a live thought-event observer.
func WithThoughtObserver(fn func(transport.ThoughtEvent)) ManagerOption {
	return func(m *Manager) { m.onThought = fn }
}

// WithManagerLogger attaches a logger.
func WithManagerLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// NewManager builds a session manager over the given collaborators.
func NewManager(store *Store, client WorkflowClient, gate *auth.Gate, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		client:   client,
		gate:     gate,
		phase:    PhaseIdle,
		thoughts: NewThoughtLog(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	// rehydrate a persisted generation so reviewing survives process restarts
	if ns, err := store.Load(); err == nil && ns.ThreadID != "" && len(ns.Rows) > 0 {
		m.rows = mapping.ReplaceGeneration(ns.Rows)
		m.phase = PhaseReviewing
	} else if err != nil {
		m.log.Warn().Err(err).Msg("session store unreadable, starting fresh")
	}
	return m
}

// Start begins a new workflow session. Validation failures surface to the
// user without any network call. On success the thread identity is persisted,
// the row generation replaced, and the session moves to reviewing.
func (m *Manager) Start(ctx context.Context, form StartForm) error {
	if err := validateStart(form); err != nil {
		m.notify(err.Error())
		return err
	}

	m.mu.Lock()
	if m.processing || m.finalizing {
		m.mu.Unlock()
		return ErrBusy
	}
	prior := m.stablePhaseLocked()
	m.phase = PhaseStarting
	m.processing = true
	m.thoughts.Reset()
	m.rows = nil
	token := uuid.NewString()
	m.generation = token
	m.mu.Unlock()

	m.log.Info().Str("product", form.ProductName).Msg("starting workflow")
	res, apiErr := m.client.StartWorkflow(ctx, form, m.sink(token))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != token {
		// a reset or newer start superseded this call; the gating flags
		// belong to the current interest, not this stale return
		m.log.Debug().Msg("discarding stale start result")
		return nil
	}
	m.processing = false

	if apiErr != nil {
		return m.failLocked(apiErr, prior, false)
	}
	if res == nil {
		return m.failLocked(&transport.APIError{Message: "Could not start the workflow: empty response from server"}, prior, false)
	}

	m.rows = mapping.ReplaceGeneration(res.Output)
	if err := m.store.Update(func(ns *Namespace) {
		ns.ThreadID = res.ThreadID
		ns.ProductName = form.ProductName
		ns.ProductLogName = form.ProductLogName
		ns.UDMEventType = form.UDMEventType
		ns.StartedAt = time.Now().UTC().Format(time.RFC3339)
		ns.Rows = m.rows
	}); err != nil {
		m.log.Error().Err(err).Msg("failed to persist session state")
	}

	m.phase = PhaseReviewing
	m.lastError = ""
	m.log.Info().Str("thread_id", res.ThreadID).Int("rows", len(m.rows)).Msg("workflow started")
	if res.Message != "" {
		m.notify(res.Message)
	}
	return nil
}

// Resume sends feedback into the current thread and replaces the row
// generation with the rerun's output. The previous generation's display state
// is cleared before dispatch so stale rows never show during the call.
func (m *Manager) Resume(ctx context.Context, feedback string) error {
	m.mu.Lock()
	if m.processing || m.finalizing {
		m.mu.Unlock()
		return ErrBusy
	}
	threadID, err := m.store.ThreadID()
	if err != nil || threadID == "" {
		m.mu.Unlock()
		m.notify(ErrNoSession.Error())
		if err != nil {
			m.log.Error().Err(err).Msg("session store unreadable")
		}
		return ErrNoSession
	}
	prior := m.stablePhaseLocked()
	m.phase = PhaseResuming
	m.processing = true
	m.thoughts.Reset()
	m.rows = nil
	token := uuid.NewString()
	m.generation = token
	m.mu.Unlock()

	m.log.Info().Str("thread_id", threadID).Msg("resuming workflow with feedback")
	res, apiErr := m.client.ResumeWorkflow(ctx, threadID, feedback, m.sink(token))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != token {
		m.log.Debug().Msg("discarding stale resume result")
		return nil
	}
	m.processing = false

	if apiErr != nil {
		return m.failLocked(apiErr, prior, false)
	}
	if res == nil {
		return m.failLocked(&transport.APIError{Message: "Could not resume the workflow: empty response from server"}, prior, false)
	}

	m.rows = mapping.ReplaceGeneration(res.Output)
	if err := m.store.Update(func(ns *Namespace) {
		ns.Rows = m.rows
	}); err != nil {
		m.log.Error().Err(err).Msg("failed to persist session state")
	}
	m.phase = PhaseReviewing
	m.lastError = ""
	m.log.Info().Int("rows", len(m.rows)).Msg("workflow resumed")
	if res.Message != "" {
		m.notify(res.Message)
	}
	return nil
}

// Generate materializes the parser configuration artifact for the current
// thread. Mapping rows are untouched; the session returns to reviewing on
// completion or failure.
func (m *Manager) Generate(ctx context.Context, dl transport.Downloader) error {
	m.mu.Lock()
	if m.processing || m.finalizing {
		m.mu.Unlock()
		return ErrBusy
	}
	threadID, err := m.store.ThreadID()
	if err != nil || threadID == "" {
		m.mu.Unlock()
		m.notify(ErrNoSession.Error())
		return ErrNoSession
	}
	prior := m.stablePhaseLocked()
	m.phase = PhaseFinalizing
	m.finalizing = true
	m.mu.Unlock()

	m.log.Info().Str("thread_id", threadID).Msg("generating parser configuration")
	apiErr := m.client.GenerateConf(ctx, threadID, dl)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizing = false

	if apiErr != nil {
		// logout itself is the user-visible signal on 401, so stay silent
		return m.failLocked(apiErr, prior, true)
	}
	m.phase = prior
	return nil
}

// Override applies a manual correction to one row of the current generation,
// replacing the held row collection.
func (m *Manager) Override(rowIndex int, src mapping.OverrideSource) error {
	field, err := src.Resolve()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := mapping.ApplyManualOverride(m.rows, rowIndex, field)
	if err != nil {
		return err
	}
	m.rows = rows
	if err := m.store.Update(func(ns *Namespace) {
		ns.Rows = m.rows
	}); err != nil {
		m.log.Error().Err(err).Msg("failed to persist session state")
	}
	m.log.Info().Int("row", rowIndex).Str("udm_field", field).Msg("manual override applied")
	return nil
}

// ExportCSV writes the current generation as delimited text.
func (m *Manager) ExportCSV(w io.Writer) error {
	m.mu.Lock()
	rows := make([]mapping.Row, len(m.rows))
	copy(rows, m.rows)
	m.mu.Unlock()
	return mapping.WriteDelimited(w, rows, mapping.DeriveColumns(rows))
}

// Reset discards the current session: persisted thread identity, rows, and
// thoughts. The credential is untouched; use Logout for teardown.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = nil
	m.thoughts.Reset()
	m.generation = ""
	m.phase = PhaseIdle
	m.lastError = ""
	// discarding interest in any in-flight call releases the gating flags;
	// the stale result is dropped by token comparison when it arrives
	m.processing = false
	m.finalizing = false
	ns, err := m.store.Load()
	if err != nil {
		return err
	}
	// the namespace is overwritten, not pruned: only the credential survives
	return m.store.Replace(Namespace{
		AccessToken: ns.AccessToken,
		TokenType:   ns.TokenType,
	})
}

// Logout invalidates the credential, clears it from the store, and moves the
// client to the unauthenticated entry point.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.logoutLocked()
	m.mu.Unlock()
}

func (m *Manager) logoutLocked() {
	if m.gate != nil {
		m.gate.Clear()
	}
	if err := m.store.Update(func(ns *Namespace) {
		ns.AccessToken = ""
		ns.TokenType = ""
	}); err != nil {
		m.log.Error().Err(err).Msg("failed to clear stored credential")
	}
	m.phase = PhaseIdle
	if m.navigator != nil {
		m.navigator.RedirectToLogin()
	}
}

// Phase returns the current phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// IsProcessing reports whether a start or resume is in flight; it gates the
// start/resume controls.
func (m *Manager) IsProcessing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processing
}

// IsFinalizing reports whether a generate call is in flight; it gates the
// generate control.
func (m *Manager) IsFinalizing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalizing
}

// Rows returns a copy of the current row generation.
func (m *Manager) Rows() []mapping.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mapping.Row, len(m.rows))
	copy(out, m.rows)
	return out
}

// Thoughts returns the per-agent thought logs for the current run.
func (m *Manager) Thoughts() []*AgentThoughts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thoughts.Agents()
}

// ThreadID returns the persisted thread identity, "" when none.
func (m *Manager) ThreadID() string {
	id, err := m.store.ThreadID()
	if err != nil {
		m.log.Error().Err(err).Msg("session store unreadable")
		return ""
	}
	return id
}

// LastError returns the most recent failure's user-facing message.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// sink returns the thought consumer for one dispatched call. Events from a
// superseded generation are dropped.
func (m *Manager) sink(token string) transport.ThoughtSink {
	return func(ev transport.ThoughtEvent) {
		m.mu.Lock()
		live := m.generation == token
		if live {
			m.thoughts.Append(ev.Agent, ev.Step)
		}
		m.mu.Unlock()
		if live && m.onThought != nil {
			m.onThought(ev)
		}
	}
}

// failLocked records a failure and recovers to the prior stable phase. A 401
// supersedes normal recovery: the whole client logs out.
func (m *Manager) failLocked(apiErr *transport.APIError, prior Phase, silent bool) error {
	m.phase = PhaseFailed
	m.lastError = apiErr.Message

	if apiErr.Unauthorized() {
		if !silent {
			m.notify(apiErr.Message)
		}
		m.logoutLocked()
		return apiErr
	}

	m.notify(apiErr.Message)
	m.phase = prior
	return apiErr
}

// stablePhaseLocked is the phase a failed transition recovers to: the last
// successfully-reviewed mapping survives failures.
func (m *Manager) stablePhaseLocked() Phase {
	if m.phase == PhaseReviewing || len(m.rows) > 0 {
		return PhaseReviewing
	}
	return PhaseIdle
}

func (m *Manager) notify(message string) {
	if m.notifier != nil && message != "" {
		m.notifier.Notify(message)
	}
}

// validateStart checks the required local inputs before any network call.
func validateStart(form StartForm) error {
	if form.ProductName == "" {
		return &ValidationError{Field: "product name"}
	}
	if form.ProductLogName == "" {
		return &ValidationError{Field: "log format name"}
	}
	if form.RawLogsPath == "" {
		return &ValidationError{Field: "raw log sample file"}
	}
	if _, err := os.Stat(form.RawLogsPath); err != nil {
		return &ValidationError{Field: "readable raw log sample file"}
	}
	return nil
}
