// Package token generates opaque job identifiers.
//
// Tokens are the sole key for every per-job record in the state directory,
// so they must never collide across concurrent submitters sharing that
// directory. They also end up in file names and tmux window names, so the
// alphabet is restricted to characters that are safe in both.
package token

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// New returns a new opaque job token. It embeds a high-resolution UTC
// timestamp, the generating process id and a random suffix, so tokens are
// unique even when multiple processes submit jobs at the same instant.
func New() string {
	return fmt.Sprintf(
		"%s-%d-%s",
		time.Now().UTC().Format("20060102T150405"),
		os.Getpid(),
		uuid.NewString()[:8],
	)
}
