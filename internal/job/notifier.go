package job

import (
	"fmt"
	"log/slog"

	"github.com/nixpig/agentd/internal/store"
	"github.com/nixpig/agentd/internal/tmux"
)

// Notifier delivers the one-line completion message for a finished job.
//
// Exactly one delivery attempt is made per job: the caller must be the
// winner of the exit-status record write (the in-window runner on natural
// completion, Stop on forced termination). Delivery is best-effort: the
// destination pane may be long gone by the time the job ends, and the
// exit-status record is the authoritative result either way, so failures
// are logged and swallowed.
type Notifier struct {
	store  *store.Store
	tmux   *tmux.Client
	logger *slog.Logger
}

// NewNotifier creates a Notifier over the given store and tmux client.
func NewNotifier(st *store.Store, tm *tmux.Client, logger *slog.Logger) *Notifier {
	return &Notifier{store: st, tmux: tm, logger: logger}
}

// Notify sends the completion message for token to the destination recorded
// at launch time. The destination is never re-resolved: the pane that asked
// for the job gets the message even if session naming has churned since.
func (n *Notifier) Notify(token string, status store.ExitStatus) {
	dest, err := n.store.Destination(token)
	if err != nil {
		n.logger.Warn("read destination record", "token", token, "err", err)
		return
	}

	if err := n.tmux.SendText(dest, Message(token, status)); err != nil {
		n.logger.Warn("deliver completion message", "token", token, "dest", dest, "err", err)
		return
	}

	// Submit the message in case the destination is an interactive prompt.
	if err := n.tmux.SendEnter(dest); err != nil {
		n.logger.Warn("submit completion message", "token", token, "dest", dest, "err", err)
	}
}

// Message formats the single-line completion message for a job.
func Message(token string, status store.ExitStatus) string {
	msg := fmt.Sprintf("[agentd] job %s done rc=%d", token, status.Code)
	if status.Stopped {
		msg += " (stopped)"
	}

	return msg
}
