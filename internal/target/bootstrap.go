package target

import (
	"fmt"

	"github.com/nixpig/agentd/internal/store"
	"github.com/nixpig/agentd/internal/tmux"
)

// Bootstrap ensures a live destination exists and records it as a named
// target: the session and window are created if missing, and the resulting
// pane address is written under key ("default" when key is empty).
//
// This is the bootstrap-and-remember pattern for environments where no pane
// address is known in advance. Unlike Resolver, Bootstrap mutates the tmux
// environment.
func Bootstrap(tm *tmux.Client, st *store.Store, session, window, key string) (Address, error) {
	if key == "" {
		key = DefaultKey
	}

	hasSession, err := tm.HasSession(session)
	if err != nil {
		return Address{}, fmt.Errorf("check session: %w", err)
	}
	if !hasSession {
		if err := tm.NewSession(session); err != nil {
			return Address{}, fmt.Errorf("create session: %w", err)
		}
	}

	hasWindow, err := tm.HasWindow(session, window)
	if err != nil {
		return Address{}, fmt.Errorf("check window: %w", err)
	}
	if !hasWindow {
		if err := tm.NewWindow(session, window, nil); err != nil {
			return Address{}, fmt.Errorf("create window: %w", err)
		}
	}

	addr := Address{Session: session, Window: window, Pane: 0}
	if err := st.SetTarget(key, addr.String()); err != nil {
		return Address{}, err
	}

	return addr, nil
}
