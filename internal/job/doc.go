// Package job supervises commands running in dedicated tmux windows.
//
// A Launcher records where the completion notification must go, then starts
// the command inside its own detached window so the submitting process can
// exit without killing it. Inside the window, a Runner captures the
// command's combined output to the job log, durably records the exit status,
// and hands off to the Notifier. Control provides status, log and stop
// operations over the same state directory.
//
// Jobs are identified by opaque tokens; the exit-status record's existence
// is the single source of truth for "finished".
package job
