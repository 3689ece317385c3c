// Package tmux provides a thin client over the tmux binary.
//
// All operations shell out to tmux via a CommandRunner, which is injectable
// so callers can be tested without a tmux server.
package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// CommandRunner executes tmux commands.
type CommandRunner interface {
	Run(args []string) ([]byte, error)
}

// Client executes tmux commands.
type Client struct {
	runner CommandRunner
}

// SocketEnv selects a non-default tmux socket name (tmux -L) for clients
// created with NewClient. Used to isolate end-to-end tests from the
// operator's own tmux server.
const SocketEnv = "AGENTD_TMUX_SOCKET"

// NewClient returns a tmux client using the default command runner, which
// talks to the default tmux server unless AGENTD_TMUX_SOCKET is set.
func NewClient() *Client {
	return &Client{runner: execRunner{socket: os.Getenv(SocketEnv)}}
}

// NewClientWithSocket returns a tmux client scoped to a named tmux socket
// (tmux -L). Used to isolate tests from the operator's own server.
func NewClientWithSocket(socket string) *Client {
	return &Client{runner: execRunner{socket: socket}}
}

// NewClientWithRunner returns a tmux client using a custom command runner.
func NewClientWithRunner(runner CommandRunner) *Client {
	return &Client{runner: runner}
}

// ClientInfo describes an attached tmux client.
type ClientInfo struct {
	Session  string
	Activity int64
}

// NewSession creates a detached tmux session.
func (c *Client) NewSession(name string) error {
	return c.run("new-session", "-d", "-s", name)
}

// NewWindow creates a detached window in an existing session running the
// given command.
func (c *Client) NewWindow(session, window string, command []string) error {
	args := []string{"new-window", "-d", "-t", session + ":", "-n", window}
	if len(command) > 0 {
		args = append(args, "--")
		args = append(args, command...)
	}
	return c.run(args...)
}

// KillWindow terminates a tmux window.
func (c *Client) KillWindow(target string) error {
	return c.run("kill-window", "-t", target)
}

// SendText sends literal text to a target pane without key name lookup.
func (c *Client) SendText(target, text string) error {
	return c.run("send-keys", "-t", target, "-l", text)
}

// SendEnter sends the Enter key to a target pane.
func (c *Client) SendEnter(target string) error {
	return c.run("send-keys", "-t", target, "Enter")
}

// DisplayMessage expands a tmux format string in the context of a target.
func (c *Client) DisplayMessage(target, format string) (string, error) {
	out, err := c.runWithOutput("display-message", "-p", "-t", target, format)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// HasSession reports whether the named session exists.
func (c *Client) HasSession(name string) (bool, error) {
	return c.exists("has-session", "-t", name)
}

// HasWindow reports whether the named window exists inside a session.
func (c *Client) HasWindow(session, window string) (bool, error) {
	out, err := c.runner.Run([]string{"list-windows", "-t", session, "-F", "#{window_name}"})
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, wrapErr("list-windows", out, err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.TrimRight(line, "\r") == window {
			return true, nil
		}
	}
	return false, nil
}

// PaneExists reports whether a target pane exists.
func (c *Client) PaneExists(target string) bool {
	ok, err := c.exists("list-panes", "-t", target)
	return err == nil && ok
}

// ListClients returns the attached tmux clients, most recently active first.
// A missing tmux server is reported as no clients, not an error.
func (c *Client) ListClients() ([]ClientInfo, error) {
	out, err := c.runner.Run([]string{"list-clients", "-F", "#{client_activity} #{client_session}"})
	if err != nil {
		// tmux exits non-zero when no server is running. Treat as empty.
		if strings.Contains(string(out), "no server running") {
			return nil, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, nil
		}
		return nil, wrapErr("list-clients", out, err)
	}

	var clients []ClientInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		activity, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		clients = append(clients, ClientInfo{Session: fields[1], Activity: activity})
	}

	sort.Slice(clients, func(i, j int) bool {
		return clients[i].Activity > clients[j].Activity
	})

	return clients, nil
}

func (c *Client) exists(args ...string) (bool, error) {
	if c == nil || c.runner == nil {
		return false, errors.New("tmux runner unavailable")
	}
	out, err := c.runner.Run(args)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, wrapErr(args[0], out, err)
	}
	return true, nil
}

func (c *Client) run(args ...string) error {
	_, err := c.runWithOutput(args...)
	return err
}

func (c *Client) runWithOutput(args ...string) ([]byte, error) {
	if c == nil || c.runner == nil {
		return nil, errors.New("tmux runner unavailable")
	}
	out, err := c.runner.Run(args)
	if err != nil {
		return nil, wrapErr(args[0], out, err)
	}
	return out, nil
}

func wrapErr(op string, out []byte, err error) error {
	if len(out) > 0 {
		return fmt.Errorf("tmux %s failed: %s", op, bytes.TrimSpace(out))
	}
	return fmt.Errorf("tmux %s failed: %w", op, err)
}

type execRunner struct {
	socket string
}

func (r execRunner) Run(args []string) ([]byte, error) {
	if r.socket != "" {
		args = append([]string{"-L", r.socket}, args...)
	}
	return exec.Command("tmux", args...).CombinedOutput()
}
