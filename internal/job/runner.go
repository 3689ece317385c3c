package job

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/nixpig/agentd/internal/store"
)

const defaultShell = "/bin/sh"

// Runner executes a job's command inside its dedicated window and owns the
// terminal phase of the lifecycle: output capture, exit-status recording and
// notification. It is the process the Launcher re-execs into the window, so
// it keeps running after the submitting process is gone.
type Runner struct {
	store    *store.Store
	notifier *Notifier
	logger   *slog.Logger
	shell    string
}

// NewRunner creates a Runner over the given store and notifier.
func NewRunner(st *store.Store, notifier *Notifier, logger *slog.Logger) *Runner {
	return &Runner{store: st, notifier: notifier, logger: logger, shell: defaultShell}
}

// Run executes command via the shell with stdout and stderr interleaved into
// the job log in real time, then records the exit status and notifies.
//
// The exit status is written only after the log has its final content, and
// only the winner of that write notifies. When Stop kills the window first,
// this process dies before reaching the write, or loses the write-once race
// and stays silent.
func (r *Runner) Run(token, command string) error {
	logFile, err := os.OpenFile(
		r.store.LogPath(token),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		return fmt.Errorf("open job log: %w", err)
	}

	cmd := exec.Command(r.shell, "-c", command)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	runErr := cmd.Run()

	code := exitCode(runErr)
	if runErr != nil && !isExitError(runErr) {
		// The shell itself failed to start. Leave a trace in the log so the
		// status is explainable.
		fmt.Fprintf(logFile, "agentd: failed to run command: %v\n", runErr)
	}

	if err := logFile.Close(); err != nil {
		r.logger.Warn("close job log", "token", token, "err", err)
	}

	if err := r.store.WriteExitStatus(token, store.ExitStatus{Code: code}); err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Lost the race against Stop; the winner notifies.
			return nil
		}
		return fmt.Errorf("record exit status: %w", err)
	}

	r.notifier.Notify(token, store.ExitStatus{Code: code})

	return nil
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// exitCode maps a Run error to the numeric exit status: the command's own
// code, 128+signal for signal deaths, 127 when the shell could not start.
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 127
	}

	if code := exitErr.ExitCode(); code >= 0 {
		return code
	}

	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}

	return 1
}
