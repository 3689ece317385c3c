package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/nixpig/agentd/internal/store"
	"github.com/nixpig/agentd/internal/target"
	"github.com/nixpig/agentd/internal/token"
	"github.com/nixpig/agentd/internal/tmux"
)

// Options configures a single launch.
type Options struct {
	// WaitBudget is how long Launch blocks waiting for the job to finish
	// before returning anyway. The job keeps running either way; this only
	// decouples the submitting process's lifetime from the job's. Zero means
	// return as soon as the window is created.
	WaitBudget time.Duration
}

// Launcher creates the isolated execution context for new jobs.
type Launcher struct {
	store      *store.Store
	tmux       *tmux.Client
	session    string
	runnerPath string
	logger     *slog.Logger
}

// NewLauncher creates a Launcher hosting job windows in the given tmux
// session. runnerPath is the agentd binary re-exec'd inside each window.
func NewLauncher(st *store.Store, tm *tmux.Client, session, runnerPath string, logger *slog.Logger) *Launcher {
	return &Launcher{
		store:      st,
		tmux:       tm,
		session:    session,
		runnerPath: runnerPath,
		logger:     logger,
	}
}

// WindowName returns the name of the tmux window hosting the job for token.
// Deriving it from the token means stop needs no extra per-job record.
func WindowName(token string) string {
	return "job-" + token
}

// Launch allocates a token, durably records the destination and an empty
// log, and starts command in a dedicated detached window. The destination
// record is written before the command starts so notification delivery does
// not depend on the caller's environment surviving the job.
//
// On window-creation failure all artifacts are removed and ErrLaunchFailed
// is returned: there is never a half-created job record.
func (l *Launcher) Launch(ctx context.Context, command string, dest target.Address, opts Options) (string, error) {
	if command == "" {
		return "", errors.New("command cannot be empty")
	}

	tok := token.New()

	if err := l.store.WriteDestination(tok, dest.String()); err != nil {
		return "", err
	}

	if err := l.store.CreateLog(tok); err != nil {
		l.cleanup(tok)
		return "", err
	}

	argv := []string{
		l.runnerPath,
		"exec",
		"--token", tok,
		"--dir", l.store.Dir(),
		"--log-dir", l.store.LogDir(),
		"--", command,
	}

	if err := l.ensureSession(); err != nil {
		l.cleanup(tok)
		return "", fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	if err := l.tmux.NewWindow(l.session, WindowName(tok), argv); err != nil {
		l.cleanup(tok)
		return "", fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	l.logger.Debug("job launched", "token", tok, "dest", dest.String())

	if opts.WaitBudget > 0 {
		if _, done, err := AwaitExit(ctx, l.store, tok, opts.WaitBudget); err != nil {
			l.logger.Warn("wait for job", "token", tok, "err", err)
		} else if done {
			l.logger.Debug("job finished within wait budget", "token", tok)
		}
	}

	return tok, nil
}

func (l *Launcher) ensureSession() error {
	exists, err := l.tmux.HasSession(l.session)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return l.tmux.NewSession(l.session)
}

func (l *Launcher) cleanup(tok string) {
	if err := l.store.RemoveJob(tok); err != nil {
		l.logger.Warn("clean up failed launch", "token", tok, "err", err)
	}
}

// RunnerPath locates the agentd binary used to supervise jobs: the current
// executable when it is agentd itself, an agentd sibling next to other
// binaries (such as agentd-mcp), then $PATH.
func RunnerPath() (string, error) {
	self, err := os.Executable()
	if err == nil {
		if filepath.Base(self) == "agentd" {
			return self, nil
		}

		sibling := filepath.Join(filepath.Dir(self), "agentd")
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}

	path, err := exec.LookPath("agentd")
	if err != nil {
		return "", fmt.Errorf("locate agentd binary: %w", err)
	}

	return path, nil
}
