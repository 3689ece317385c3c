// Package config resolves the agentd state directory, log directory and
// tmux naming conventions.
//
// Precedence, lowest to highest: built-in defaults, the optional config.yaml
// in the state directory, environment variables, explicit overrides (flags).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// EnvDir overrides the state directory.
	EnvDir = "AGENTD_DIR"

	// EnvLogDir overrides the log directory.
	EnvLogDir = "AGENTD_LOG_DIR"

	// EnvSession overrides the tmux session hosting job windows.
	EnvSession = "AGENTD_SESSION"

	// EnvCLIWindow overrides the conventional window used by auto targeting.
	EnvCLIWindow = "AGENTD_CLI_WINDOW"

	defaultSession   = "agentd"
	defaultCLIWindow = "cli"

	// localDirName is the repository-local state directory. It is used only
	// when it already exists in the working directory; agentd never creates
	// it implicitly. The home directory is the default otherwise.
	localDirName = ".agentd"
)

// Config carries the resolved agentd settings.
type Config struct {
	// StateDir holds the per-job records and named targets.
	StateDir string `yaml:"-"`

	// LogDir holds the job output logs.
	LogDir string `yaml:"log_dir"`

	// Session is the tmux session that hosts job windows.
	Session string `yaml:"session"`

	// CLIWindow is the window auto targeting points notifications at.
	CLIWindow string `yaml:"cli_window"`
}

// Overrides are explicit settings, typically from flags. Empty fields defer
// to the environment, the config file, then the defaults.
type Overrides struct {
	StateDir  string
	LogDir    string
	Session   string
	CLIWindow string
}

// Load resolves the configuration.
//
// State directory: override, then $AGENTD_DIR, then ./.agentd if it already
// exists, then ~/.agentd. Log directory: override, then $AGENTD_LOG_DIR,
// then the config file, then <state dir>/logs.
func Load(o Overrides) (*Config, error) {
	stateDir, err := resolveStateDir(o.StateDir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		StateDir:  stateDir,
		Session:   defaultSession,
		CLIWindow: defaultCLIWindow,
	}

	if err := cfg.loadFile(filepath.Join(stateDir, "config.yaml")); err != nil {
		return nil, err
	}

	applyEnv(&cfg.LogDir, EnvLogDir)
	applyEnv(&cfg.Session, EnvSession)
	applyEnv(&cfg.CLIWindow, EnvCLIWindow)

	apply(&cfg.LogDir, o.LogDir)
	apply(&cfg.Session, o.Session)
	apply(&cfg.CLIWindow, o.CLIWindow)

	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(stateDir, "logs")
	}

	return cfg, nil
}

func resolveStateDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if dir := os.Getenv(EnvDir); dir != "" {
		return dir, nil
	}

	if info, err := os.Stat(localDirName); err == nil && info.IsDir() {
		return localDirName, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, localDirName), nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	return nil
}

func applyEnv(dst *string, key string) {
	apply(dst, os.Getenv(key))
}

func apply(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
