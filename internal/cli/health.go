// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/backend"
)

func newHealthCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is up",
		Long: `Probes the backend's /health endpoint.

Exits 0 when the backend answers, 5 when it cannot be reached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := backend.NewClient(e.cfg.BackendClientConfig(), backend.WithLogger(e.logger))
			start := time.Now()
			if err := client.Health(cmd.Context()); err != nil {
				e.logger.Debug("health check failed", zap.Error(err))
				return fmt.Errorf("backend at %s is not healthy: %w", client.BaseURL(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s backend at %s is up (%s)\n",
				successStyle.Render("[OK]"), client.BaseURL(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
