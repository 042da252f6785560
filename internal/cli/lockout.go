// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newLockoutCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lockout",
		Short: "Show or clear the security lockout",
		Long: `The activity monitor locks sending for a while after repeated suspicious
activity (bursts, repeated messages, injection-like content). The lockout
survives restarts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLockoutStatus(cmd.OutOrStdout(), e)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the lockout state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runLockoutStatus(cmd.OutOrStdout(), e)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Lift the lockout",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				g, err := e.openGuard()
				if err != nil {
					return err
				}
				defer g.Close()
				if err := g.monitor.ClearLockout(); err != nil {
					return &CommandError{Command: "lockout", Action: "clear", Err: err}
				}
				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Lockout cleared."))
				return nil
			},
		},
	)
	return cmd
}

func runLockoutStatus(w io.Writer, e *env) error {
	g, err := e.openGuard()
	if err != nil {
		return err
	}
	defer g.Close()

	if !g.monitor.IsLockoutActive() {
		fmt.Fprintln(w, successStyle.Render("No lockout active."))
		return nil
	}
	state := g.monitor.Lockout()
	fmt.Fprintf(w, "%s until %s (%s left)\n",
		warningStyle.Render("Locked"),
		state.Until.Local().Format(time.DateTime),
		state.Remaining(time.Now()).Round(time.Second))
	if state.Reason != "" {
		fmt.Fprintf(w, "%s %s\n", infoStyle.Render("Reason:"), state.Reason)
	}
	return nil
}
