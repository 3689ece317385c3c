package target

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/nixpig/agentd/internal/store"
	"github.com/nixpig/agentd/internal/tmux"
)

var (
	// ErrUnknownTarget is returned when a named target has not been
	// bootstrapped or registered.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrNoTarget is returned by auto resolution when no destination can be
	// determined, i.e. no default record and no attached tmux client.
	ErrNoTarget = errors.New("no target available")

	// ErrOutsideTmux is returned by self resolution when the calling process
	// has no tmux pane as its controlling terminal.
	ErrOutsideTmux = errors.New("not running inside tmux")
)

// selfPaneFormat expands to the composite address of the pane a tmux target
// belongs to.
const selfPaneFormat = "#{session_name}:#{window_index}.#{pane_index}"

// DefaultKey is the named-target key holding the environment-wide default
// destination.
const DefaultKey = "default"

// Request selects one resolution strategy. At most one field may be set; the
// zero value requests auto resolution.
type Request struct {
	// Explicit is a full "session:window.pane" address, validated only for
	// syntactic well-formedness.
	Explicit string

	// Named looks up a previously registered named target.
	Named string

	// Self resolves the exact pane this process is running in.
	Self bool
}

// Resolver maps targeting requests to concrete pane addresses. It only
// queries environment state and never mutates it.
type Resolver struct {
	tmux  *tmux.Client
	store *store.Store

	// cliWindow is the conventional window auto resolution points at.
	cliWindow string

	// getenv is injectable for tests.
	getenv func(string) string
}

// NewResolver returns a Resolver using the process environment.
func NewResolver(tm *tmux.Client, st *store.Store, cliWindow string) *Resolver {
	return &Resolver{tmux: tm, store: st, cliWindow: cliWindow, getenv: os.Getenv}
}

// NewResolverWithEnv returns a Resolver with an injectable environment.
func NewResolverWithEnv(tm *tmux.Client, st *store.Store, cliWindow string, getenv func(string) string) *Resolver {
	return &Resolver{tmux: tm, store: st, cliWindow: cliWindow, getenv: getenv}
}

// Resolve produces the destination address for a targeting request.
func (r *Resolver) Resolve(req Request) (Address, error) {
	switch {
	case req.Explicit != "":
		return ParseAddress(req.Explicit)
	case req.Named != "":
		return r.resolveNamed(req.Named)
	case req.Self:
		return r.ResolveSelf()
	default:
		return r.resolveAuto()
	}
}

func (r *Resolver) resolveNamed(key string) (Address, error) {
	dest, err := r.store.Target(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Address{}, fmt.Errorf("%w: %q", ErrUnknownTarget, key)
		}
		return Address{}, err
	}

	return ParseAddress(dest)
}

// ResolveSelf determines the exact pane that is this process's controlling
// terminal. This is the misdelivery-proof path: it asks tmux to expand the
// pane id from $TMUX_PANE rather than guessing from session names, so the
// result is correct even when other sessions exist concurrently.
func (r *Resolver) ResolveSelf() (Address, error) {
	pane := r.getenv("TMUX_PANE")
	if pane == "" || r.getenv("TMUX") == "" {
		return Address{}, ErrOutsideTmux
	}

	out, err := r.tmux.DisplayMessage(pane, selfPaneFormat)
	if err != nil {
		return Address{}, fmt.Errorf("resolve own pane: %w", err)
	}

	addr, err := ParseAddress(out)
	if err != nil {
		return Address{}, fmt.Errorf("resolve own pane: %w", err)
	}

	if !r.tmux.PaneExists(addr.String()) {
		return Address{}, fmt.Errorf("%w: own pane %s is gone", ErrNoTarget, addr)
	}

	return addr, nil
}

// resolveAuto picks a destination when the caller supplied nothing: the
// recorded default target if it still points at a live pane, otherwise the
// most recently active client's session at the conventional CLI window.
func (r *Resolver) resolveAuto() (Address, error) {
	if dest, err := r.store.Target(DefaultKey); err == nil {
		if addr, err := ParseAddress(dest); err == nil && r.tmux.PaneExists(addr.String()) {
			return addr, nil
		}
	}

	clients, err := r.tmux.ListClients()
	if err != nil {
		return Address{}, fmt.Errorf("list tmux clients: %w", err)
	}
	if len(clients) == 0 {
		return Address{}, ErrNoTarget
	}

	session := clients[0].Session

	addr := Address{Session: session, Window: r.cliWindow, Pane: 0}
	if r.tmux.PaneExists(addr.String()) {
		return addr, nil
	}

	// No conventional window in that session; fall back to its active pane.
	out, err := r.tmux.DisplayMessage(session+":", selfPaneFormat)
	if err != nil {
		return Address{}, fmt.Errorf("%w: session %q has no usable pane", ErrNoTarget, session)
	}

	return ParseAddress(out)
}
