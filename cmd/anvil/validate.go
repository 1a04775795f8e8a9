package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrhq/anvil/pkg/executor"
	"github.com/entrhq/anvil/pkg/manifest"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Check that a manifest parses and report whether it can be resumed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			m, err := manifest.Load(args[0])
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
				return exitCode(executor.ParseFailureReport("", err).ExitCode)
			}

			counts := make(map[manifest.Status]int)
			for _, s := range m.Steps {
				counts[s.Status]++
			}
			fmt.Fprintf(out, "%s: %d steps (%d pending, %d succeeded, %d skipped, %d failed)\n",
				args[0], len(m.Steps),
				counts[manifest.StatusPending], counts[manifest.StatusSuccess],
				counts[manifest.StatusSkipped], counts[manifest.StatusFailed])

			if manifest.IsResumable(m) {
				fmt.Fprintln(out, "resumable: yes")
			} else {
				fmt.Fprintln(out, "resumable: no")
			}
			return nil
		},
	}
}
