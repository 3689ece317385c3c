// Package store implements the filesystem-backed job state store.
//
// Every job is keyed by its token and owns three artifacts: a write-once
// destination record written before the job starts, an append-only output
// log, and a write-once exit-status record whose existence is the single
// source of truth for "job finished". Named targets (name -> destination)
// live alongside the per-job records.
//
// Layout, relative to the state directory:
//
//	<token>.rc            exit-status record
//	panes/<token>.pane    destination record
//	targets/<key>.pane    named targets ("default" is the global default)
//	logs/<token>.log      output logs (relocatable via the log directory)
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrNotFound = errors.New("job not found")

	// ErrInvalidKey is returned for named-target keys that could escape the
	// targets directory or produce surprising file names.
	ErrInvalidKey = errors.New("invalid target key")
)

var validKeyRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ExitStatus is the durable final result of a job. Stopped marks jobs that
// were forcibly terminated rather than exiting on their own.
type ExitStatus struct {
	Code    int
	Stopped bool
}

// Store provides access to the per-job records under a state directory.
type Store struct {
	dir    string
	logDir string
}

// Open prepares a Store rooted at dir with logs under logDir, creating the
// directories as needed.
func Open(dir, logDir string) (*Store, error) {
	for _, d := range []string{
		dir,
		logDir,
		filepath.Join(dir, "panes"),
		filepath.Join(dir, "targets"),
	} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	return &Store{dir: dir, logDir: logDir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// LogDir returns the log directory.
func (s *Store) LogDir() string {
	return s.logDir
}

// RCPath returns the path of the exit-status record for token.
func (s *Store) RCPath(token string) string {
	return filepath.Join(s.dir, token+".rc")
}

// LogPath returns the path of the output log for token.
func (s *Store) LogPath(token string) string {
	return filepath.Join(s.logDir, token+".log")
}

func (s *Store) panePath(token string) string {
	return filepath.Join(s.dir, "panes", token+".pane")
}

// WriteDestination records the resolved destination for token. The record is
// write-once: it decouples notification delivery from the caller's live
// environment, so it must never change after launch.
func (s *Store) WriteDestination(token, dest string) error {
	f, err := os.OpenFile(s.panePath(token), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create destination record: %w", err)
	}

	if _, err := f.WriteString(dest + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("write destination record: %w", err)
	}

	return f.Close()
}

// Destination returns the destination recorded for token at launch time.
func (s *Store) Destination(token string) (string, error) {
	data, err := os.ReadFile(s.panePath(token))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read destination record: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

// CreateLog creates the empty output log for token. The job appends to it
// for its whole duration; readers may observe partial content at any time.
func (s *Store) CreateLog(token string) error {
	f, err := os.OpenFile(s.LogPath(token), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create log: %w", err)
	}

	return f.Close()
}

// ReadLog returns the output log for token. When tail is positive, only the
// last tail lines are returned. Safe to call while the job is running.
func (s *Store) ReadLog(token string, tail int) ([]byte, error) {
	data, err := os.ReadFile(s.LogPath(token))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read log: %w", err)
	}

	if tail <= 0 {
		return data, nil
	}

	return tailLines(data, tail), nil
}

// WriteExitStatus durably records the final status of token. The record is
// published atomically with its final content by writing a temp file and
// hard-linking it into place, so no reader ever sees a partial record. The
// link also enforces write-once: the second writer loses with an error that
// satisfies errors.Is(err, fs.ErrExist).
func (s *Store) WriteExitStatus(token string, status ExitStatus) error {
	tmp, err := os.CreateTemp(s.dir, token+".rc.tmp")
	if err != nil {
		return fmt.Errorf("create exit-status temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	line := strconv.Itoa(status.Code)
	if status.Stopped {
		line += " stopped"
	}

	if _, err := tmp.WriteString(line + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write exit-status record: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close exit-status temp file: %w", err)
	}

	if err := os.Link(tmp.Name(), s.RCPath(token)); err != nil {
		return fmt.Errorf("publish exit-status record: %w", err)
	}

	return nil
}

// ExitStatus returns the recorded final status of token. ok is false while
// the record does not exist, i.e. the job is still running or never started.
func (s *Store) ExitStatus(token string) (status ExitStatus, ok bool, err error) {
	data, err := os.ReadFile(s.RCPath(token))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ExitStatus{}, false, nil
		}
		return ExitStatus{}, false, fmt.Errorf("read exit-status record: %w", err)
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return ExitStatus{}, false, fmt.Errorf("empty exit-status record for %s", token)
	}

	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return ExitStatus{}, false, fmt.Errorf("parse exit-status record: %w", err)
	}

	return ExitStatus{
		Code:    code,
		Stopped: len(fields) > 1 && fields[1] == "stopped",
	}, true, nil
}

// JobExists reports whether any record exists for token.
func (s *Store) JobExists(token string) bool {
	for _, path := range []string{s.RCPath(token), s.panePath(token), s.LogPath(token)} {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}

	return false
}

// RemoveJob deletes every record for token. Used to clean up after a failed
// launch so no half-created job is left behind.
func (s *Store) RemoveJob(token string) error {
	var errs []error
	for _, path := range []string{s.RCPath(token), s.panePath(token), s.LogPath(token)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Tokens returns every known job token, sorted. A token is known if it has
// an exit-status record or an output log.
func (s *Store) Tokens() ([]string, error) {
	seen := make(map[string]struct{})

	rcs, err := filepath.Glob(filepath.Join(s.dir, "*.rc"))
	if err != nil {
		return nil, err
	}
	for _, p := range rcs {
		seen[strings.TrimSuffix(filepath.Base(p), ".rc")] = struct{}{}
	}

	logs, err := filepath.Glob(filepath.Join(s.logDir, "*.log"))
	if err != nil {
		return nil, err
	}
	for _, p := range logs {
		seen[strings.TrimSuffix(filepath.Base(p), ".log")] = struct{}{}
	}

	tokens := make([]string, 0, len(seen))
	for t := range seen {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	return tokens, nil
}

// SetTarget records a named target. An empty key is rejected; keys are
// restricted to a safe file name alphabet.
func (s *Store) SetTarget(key, dest string) error {
	if !validKeyRe.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	path := filepath.Join(s.dir, "targets", key+".pane")
	if err := os.WriteFile(path, []byte(dest+"\n"), 0o644); err != nil {
		return fmt.Errorf("write named target: %w", err)
	}

	return nil
}

// Target returns the destination recorded under key. A missing record is
// reported with an error satisfying errors.Is(err, fs.ErrNotExist).
func (s *Store) Target(key string) (string, error) {
	if !validKeyRe.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, "targets", key+".pane"))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}

// Targets returns every named target keyed by name.
func (s *Store) Targets() (map[string]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "targets", "*.pane"))
	if err != nil {
		return nil, err
	}

	targets := make(map[string]string, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read named target: %w", err)
		}
		targets[strings.TrimSuffix(filepath.Base(p), ".pane")] = strings.TrimSpace(string(data))
	}

	return targets, nil
}

// tailLines returns the last n lines of data, preserving the trailing
// newline if present.
func tailLines(data []byte, n int) []byte {
	trimmed := bytes.TrimSuffix(data, []byte("\n"))
	if len(trimmed) == 0 {
		return data
	}

	lines := bytes.Split(trimmed, []byte("\n"))
	if n >= len(lines) {
		return data
	}

	out := bytes.Join(lines[len(lines)-n:], []byte("\n"))
	if bytes.HasSuffix(data, []byte("\n")) {
		out = append(out, '\n')
	}

	return out
}
