package main

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nixpig/agentd/internal/config"
	"github.com/nixpig/agentd/internal/job"
	"github.com/nixpig/agentd/internal/store"
	"github.com/nixpig/agentd/internal/target"
	"github.com/nixpig/agentd/internal/tmux"
)

// TODO: Inject version at build time.
const version = "0.0.1"

type flags struct {
	dir     string
	logDir  string
	session string
	debug   bool
}

type cli struct {
	cfg      *config.Config
	store    *store.Store
	tmux     *tmux.Client
	resolver *target.Resolver
	launcher *job.Launcher
	control  *job.Control
	logger   *slog.Logger
}

func newCLI() *cli {
	return &cli{}
}

func (c *cli) rootCmd() *cobra.Command {
	f := &flags{}

	command := &cobra.Command{
		Use:          "agentd",
		Short:        "Run shell commands as detached tmux jobs with completion notifications",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(f)
		},
	}

	command.AddCommand(
		c.runCmd(),
		c.statusCmd(),
		c.logsCmd(),
		c.stopCmd(),
		c.targetCmd(),
		c.bootstrapCmd(),
		c.execCmd(),
	)

	command.CompletionOptions.HiddenDefaultCmd = true

	command.PersistentFlags().StringVar(
		&f.dir,
		"dir",
		"",
		"State directory (default $AGENTD_DIR or ~/.agentd)",
	)

	command.PersistentFlags().StringVar(
		&f.logDir,
		"log-dir",
		"",
		"Log directory (default <state-dir>/logs)",
	)

	command.PersistentFlags().StringVar(
		&f.session,
		"session",
		"",
		"tmux session jobs run in (default $AGENTD_SESSION or 'agentd')",
	)

	command.PersistentFlags().BoolVar(&f.debug, "debug", false, "Enable debug logs")

	return command
}

// setup loads configuration and wires the shared dependencies. Every
// subcommand runs through here via PersistentPreRunE.
func (c *cli) setup(f *flags) error {
	cfg, err := config.Load(config.Overrides{
		StateDir: f.dir,
		LogDir:   f.logDir,
		Session:  f.session,
	})
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if f.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	st, err := store.Open(cfg.StateDir, cfg.LogDir)
	if err != nil {
		return err
	}

	runnerPath, err := job.RunnerPath()
	if err != nil {
		return err
	}

	tm := tmux.NewClient()
	notifier := job.NewNotifier(st, tm, logger)

	c.cfg = cfg
	c.store = st
	c.tmux = tm
	c.resolver = target.NewResolver(tm, st, cfg.CLIWindow)
	c.launcher = job.NewLauncher(st, tm, cfg.Session, runnerPath, logger)
	c.control = job.NewControl(st, tm, cfg.Session, notifier, logger)
	c.logger = logger

	return nil
}

func (c *cli) runCmd() *cobra.Command {
	var (
		explicit string
		named    string
		self     bool
		wait     time.Duration
	)

	command := &cobra.Command{
		Use:     "run [flags] COMMAND [ARGS]",
		Short:   "Start a command as a detached background job",
		Example: "  agentd run -- make -j8 test",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := c.resolver.Resolve(target.Request{
				Explicit: explicit,
				Named:    named,
				Self:     self,
			})
			if err != nil {
				return err
			}

			tok, err := c.launcher.Launch(
				cmd.Context(),
				strings.Join(args, " "),
				dest,
				job.Options{WaitBudget: wait},
			)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), tok)

			return nil
		},
	}

	// Stop parsing args after the first positional so that flags belonging to
	// the job command are passed through as-is, e.g. `-j8` is an argument to
	// `make` _not_ to `agentd run`:
	//	`agentd run make -j8 test`
	command.Flags().SetInterspersed(false)

	command.Flags().StringVarP(&explicit, "target", "t", "", "Destination pane, e.g. main:1.0")
	command.Flags().StringVarP(&named, "target-key", "k", "", "Named destination key")
	command.Flags().BoolVar(&self, "self", false, "Notify the pane this command runs in")
	command.Flags().
		DurationVar(&wait, "wait", 0, "Wait up to this long for the job to finish before returning")

	return command
}

func (c *cli) statusCmd() *cobra.Command {
	var probe bool

	command := &cobra.Command{
		Use:     "status [flags] [TOKEN]",
		Short:   "Report job state and exit code, or list all jobs",
		Example: "  agentd status 20250101T120000-312-1a2b3c4d",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.control.ProbeWindows = probe

			var statuses []job.Status
			if len(args) == 1 {
				status, err := c.control.Status(args[0])
				if err != nil {
					return err
				}
				statuses = []job.Status{status}
			} else {
				all, err := c.control.All()
				if err != nil {
					return err
				}
				statuses = all
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintf(w, "TOKEN\tSTATE\tEXIT CODE\t\n")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%s\t\n", s.Token, stateLabel(s), exitCodeLabel(s))
			}

			return w.Flush()
		},
	}

	command.Flags().
		BoolVar(&probe, "probe", false, "Check tmux for vanished job windows and report them as orphaned")

	return command
}

func (c *cli) logsCmd() *cobra.Command {
	var tail int

	command := &cobra.Command{
		Use:     "logs [flags] TOKEN",
		Short:   "Print a job's captured output",
		Example: "  agentd logs --tail 50 20250101T120000-312-1a2b3c4d",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := c.control.Logs(args[0], tail)
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(data)

			return err
		},
	}

	command.Flags().IntVar(&tail, "tail", 0, "Print only the last N lines")

	return command
}

func (c *cli) stopCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "stop [flags] TOKEN",
		Short:   "Forcefully terminate a running job",
		Example: "  agentd stop 20250101T120000-312-1a2b3c4d",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.control.Stop(args[0])
		},
	}

	return command
}

func (c *cli) targetCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "target",
		Short: "Manage named notification destinations",
	}

	get := &cobra.Command{
		Use:   "get [KEY]",
		Short: "Print a recorded destination",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := target.DefaultKey
			if len(args) == 1 {
				key = args[0]
			}

			pane, err := c.store.Target(key)
			if err != nil {
				return fmt.Errorf("no destination recorded for %q", key)
			}

			fmt.Fprintln(cmd.OutOrStdout(), pane)

			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set KEY [ADDRESS]",
		Short: "Record a destination under a key, defaulting to the current pane",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				addr target.Address
				err  error
			)
			if len(args) == 2 {
				addr, err = target.ParseAddress(args[1])
			} else {
				addr, err = c.resolver.ResolveSelf()
			}
			if err != nil {
				return err
			}

			if err := c.store.SetTarget(args[0], addr.String()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], addr)

			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List all recorded destinations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := c.store.Targets()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintf(w, "KEY\tPANE\t\n")
			for _, key := range sortedKeys(targets) {
				fmt.Fprintf(w, "%s\t%s\t\n", key, targets[key])
			}

			return w.Flush()
		},
	}

	command.AddCommand(get, set, list)

	return command
}

func (c *cli) bootstrapCmd() *cobra.Command {
	var (
		window string
		key    string
	)

	command := &cobra.Command{
		Use:     "bootstrap [flags]",
		Short:   "Create the job session and control window, and record it as the default destination",
		Example: "  agentd bootstrap",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if window == "" {
				window = c.cfg.CLIWindow
			}

			addr, err := target.Bootstrap(c.tmux, c.store, c.cfg.Session, window, key)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", key, addr)

			return nil
		},
	}

	command.Flags().StringVar(&window, "window", "", "Control window name")
	command.Flags().StringVar(&key, "key", target.DefaultKey, "Destination key to record")

	return command
}

func stateLabel(s job.Status) string {
	return s.State.String()
}

func exitCodeLabel(s job.Status) string {
	if s.State != job.StateDone {
		return "-"
	}

	if s.Stopped {
		return fmt.Sprintf("%d (stopped)", s.ExitCode)
	}

	return fmt.Sprintf("%d", s.ExitCode)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys
}
