package job

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nixpig/agentd/internal/store"
)

// AwaitExit blocks until the exit-status record for token exists, the budget
// elapses or ctx is cancelled. It reports whether the record appeared. The
// state directory is watched rather than polled, so zero-duration commands
// whose record already exists are detected immediately.
func AwaitExit(ctx context.Context, st *store.Store, token string, budget time.Duration) (store.ExitStatus, bool, error) {
	if status, ok, err := st.ExitStatus(token); err != nil || ok {
		return status, ok, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return store.ExitStatus{}, false, fmt.Errorf("watch state directory: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(st.Dir()); err != nil {
		return store.ExitStatus{}, false, fmt.Errorf("watch state directory: %w", err)
	}

	// Re-check after the watch is established; the record may have been
	// published in between.
	if status, ok, err := st.ExitStatus(token); err != nil || ok {
		return status, ok, err
	}

	timer := time.NewTimer(budget)
	defer timer.Stop()

	rcPath := st.RCPath(token)

	for {
		select {
		case event := <-watcher.Events:
			if event.Name == rcPath && event.Op.Has(fsnotify.Create) {
				status, ok, err := st.ExitStatus(token)
				return status, ok, err
			}
		case err := <-watcher.Errors:
			return store.ExitStatus{}, false, fmt.Errorf("watch state directory: %w", err)
		case <-timer.C:
			return store.ExitStatus{}, false, nil
		case <-ctx.Done():
			return store.ExitStatus{}, false, ctx.Err()
		}
	}
}
