// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/streamchat/internal/storage"
	"github.com/jeranaias/streamchat/internal/util"
)

func newEventsCommand(e *env) *cobra.Command {
	var (
		limit    int
		jsonMode bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent security events",
		Long: `Lists the security events recorded by the activity monitor: admission
rejections, suspicious content, bursts, repeats and lockouts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return &ValidationError{Field: "limit", Value: strconv.Itoa(limit), Reason: "must be positive"}
			}
			if !e.cfg.Storage.Enabled {
				return errors.New("storage is disabled, no events are kept")
			}
			store, err := storage.Open(e.cfg.DatabasePath(), storage.WithLogger(e.logger))
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.RecentEvents(cmd.Context(), limit)
			if err != nil {
				return &CommandError{Command: "events", Action: "list", Err: err}
			}

			out := cmd.OutOrStdout()
			if jsonMode {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("No security events recorded."))
				return nil
			}
			for _, ev := range events {
				detail := ev.Reason
				if ev.Detail != "" {
					if detail != "" {
						detail += ": "
					}
					detail += ev.Detail
				}
				fmt.Fprintf(out, "%s  %s  %s\n",
					mutedStyle.Render(ev.At.Local().Format(time.DateTime)),
					warningStyle.Render(util.PadRight(string(ev.Kind), 20)),
					util.TruncateWidth(util.SingleLine(detail), GetTerminalWidth()-44))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "print events as JSON")
	return cmd
}
