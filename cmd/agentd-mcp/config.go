package main

import (
	"fmt"
	"net"

	// NOTE: The std lib flag package would be fine, but wanted consistent UX
	// between the CLI and the server without the overhead of cobra, so using
	// pflag package.
	"github.com/spf13/pflag"
)

type serverConfig struct {
	dir       string
	logDir    string
	session   string
	cliWindow string
	httpAddr  string
	debug     bool
}

func (c *serverConfig) validate() error {
	if c.httpAddr == "" {
		return nil
	}

	if _, _, err := net.SplitHostPort(c.httpAddr); err != nil {
		return fmt.Errorf("invalid http listen address: %w", err)
	}

	return nil
}

func parseFlags() *serverConfig {
	cfg := &serverConfig{}

	pflag.StringVar(&cfg.dir, "dir", "", "State directory (default $AGENTD_DIR or ~/.agentd)")
	pflag.StringVar(&cfg.logDir, "log-dir", "", "Log directory (default <state-dir>/logs)")
	pflag.StringVar(&cfg.session, "session", "", "tmux session jobs run in")
	pflag.StringVar(&cfg.cliWindow, "cli-window", "", "Conventional control window name")
	pflag.StringVar(&cfg.httpAddr, "http", "", "Also serve the REST API on this address, e.g. 127.0.0.1:7361")
	pflag.BoolVar(&cfg.debug, "debug", false, "Enable debug logs")

	pflag.Parse()

	return cfg
}
