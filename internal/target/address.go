// Package target resolves where job completion notifications are delivered.
//
// A destination address identifies one pane of the terminal multiplexer as a
// session/window/pane triple, exposed as the composite form tmux itself
// accepts: "session:window.pane".
package target

import (
	"fmt"
	"strconv"
	"strings"
)

// Address identifies a single tmux pane.
type Address struct {
	Session string
	Window  string
	Pane    int
}

// String returns the composite tmux target form.
func (a Address) String() string {
	return fmt.Sprintf("%s:%s.%d", a.Session, a.Window, a.Pane)
}

// ParseAddress validates the syntactic form "session:window.pane" and
// returns the triple. It performs no liveness check.
func ParseAddress(s string) (Address, error) {
	session, rest, ok := strings.Cut(s, ":")
	if !ok || session == "" {
		return Address{}, fmt.Errorf("invalid destination %q: want session:window.pane", s)
	}

	dot := strings.LastIndex(rest, ".")
	if dot <= 0 || dot == len(rest)-1 {
		return Address{}, fmt.Errorf("invalid destination %q: want session:window.pane", s)
	}

	pane, err := strconv.Atoi(rest[dot+1:])
	if err != nil || pane < 0 {
		return Address{}, fmt.Errorf("invalid destination %q: pane must be a non-negative index", s)
	}

	return Address{Session: session, Window: rest[:dot], Pane: pane}, nil
}
