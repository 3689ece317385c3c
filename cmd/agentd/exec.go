package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/nixpig/agentd/internal/job"
)

// execCmd is the in-window supervisor half of agentd. The launcher starts
// each job window with `agentd exec --token ... -- COMMAND` so the process
// that waits on the command, records its exit status, and delivers the
// completion message lives inside the window, decoupled from whoever ran
// `agentd run`.
func (c *cli) execCmd() *cobra.Command {
	var token string

	command := &cobra.Command{
		Use:    "exec [flags] -- COMMAND",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return errors.New("token is required")
			}

			notifier := job.NewNotifier(c.store, c.tmux, c.logger)
			runner := job.NewRunner(c.store, notifier, c.logger)

			return runner.Run(token, args[0])
		},
	}

	command.Flags().SetInterspersed(false)
	command.Flags().StringVar(&token, "token", "", "Job token")

	return command
}
