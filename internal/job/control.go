package job

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/nixpig/agentd/internal/store"
	"github.com/nixpig/agentd/internal/tmux"
)

// State describes the lifecycle position of a job as derived from the job
// state store.
type State int

const (
	// StateUnknown is the zero value for functions that return a (possibly
	// absent) State.
	StateUnknown State = iota

	// StateRunning means no exit-status record exists yet.
	StateRunning

	// StateDone means the exit-status record exists; the job is finished.
	StateDone

	// StateOrphaned means no exit-status record exists but the job window is
	// gone: the runner was torn down without recording a result. Only
	// reported when window probing is enabled.
	StateOrphaned
)

var states = []string{"unknown", "running", "done", "orphaned"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(states) {
		return states[0]
	}

	return states[s]
}

// Status is the caller-visible view of a job.
type Status struct {
	Token string

	State State

	// ExitCode is the command's exit code, or -1 while the job is running.
	ExitCode int

	// Stopped marks jobs that were forcibly terminated.
	Stopped bool
}

// Control implements the status, log and stop operations. Everything is
// derived from the job state store; the only execution-context interaction
// is killing the window on Stop and the optional liveness probe.
type Control struct {
	store    *store.Store
	tmux     *tmux.Client
	session  string
	notifier *Notifier
	logger   *slog.Logger

	// ProbeWindows enables the anomaly check for running jobs whose window
	// has disappeared without an exit-status record.
	ProbeWindows bool
}

// NewControl creates a Control over the given store and tmux session.
func NewControl(st *store.Store, tm *tmux.Client, session string, notifier *Notifier, logger *slog.Logger) *Control {
	return &Control{
		store:    st,
		tmux:     tm,
		session:  session,
		notifier: notifier,
		logger:   logger,
	}
}

// Status reports the state of the job identified by token. It is derived
// purely from the exit-status record's presence: a non-zero command exit
// code is data, not an error.
func (c *Control) Status(token string) (Status, error) {
	exit, ok, err := c.store.ExitStatus(token)
	if err != nil {
		return Status{}, err
	}

	if ok {
		return Status{
			Token:    token,
			State:    StateDone,
			ExitCode: exit.Code,
			Stopped:  exit.Stopped,
		}, nil
	}

	if !c.store.JobExists(token) {
		return Status{}, store.ErrNotFound
	}

	state := StateRunning
	if c.ProbeWindows && !c.tmux.PaneExists(c.windowTarget(token)) {
		state = StateOrphaned
	}

	return Status{Token: token, State: state, ExitCode: -1}, nil
}

// All reports the status of every known job, sorted by token. Window probing
// is skipped to keep the listing cheap.
func (c *Control) All() ([]Status, error) {
	tokens, err := c.store.Tokens()
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(tokens))
	for _, tok := range tokens {
		exit, ok, err := c.store.ExitStatus(tok)
		if err != nil {
			return nil, err
		}

		status := Status{Token: tok, State: StateRunning, ExitCode: -1}
		if ok {
			status.State = StateDone
			status.ExitCode = exit.Code
			status.Stopped = exit.Stopped
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// Logs returns the job's output log, optionally limited to the last tail
// lines. Safe to call while the job is running: the log is append-only, so a
// concurrent read returns a prefix of the final content.
func (c *Control) Logs(token string, tail int) ([]byte, error) {
	return c.store.ReadLog(token, tail)
}

// Stop terminates the job's window and converges its status to done. A
// synthetic exit-status record (137, stopped) is written when the job had
// not already finished, so pollers never wait forever on a stopped job.
//
// Stop is idempotent: on an already-finished job the record write loses the
// write-once race and nothing further happens.
func (c *Control) Stop(token string) error {
	if !c.store.JobExists(token) {
		return store.ErrNotFound
	}

	// Kill the window first so the log cannot grow after the synthetic
	// record is written. The window being gone already is fine.
	if err := c.tmux.KillWindow(c.windowTarget(token)); err != nil {
		c.logger.Debug("kill job window", "token", token, "err", err)
	}

	status := store.ExitStatus{Code: 137, Stopped: true}

	if err := c.store.WriteExitStatus(token, status); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return err
	}

	c.notifier.Notify(token, status)

	return nil
}

func (c *Control) windowTarget(token string) string {
	return fmt.Sprintf("%s:%s", c.session, WindowName(token))
}
