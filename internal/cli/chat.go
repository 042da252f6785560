// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/streamchat/internal/ui/chat"
	"github.com/jeranaias/streamchat/internal/ui/styles"
)

func newChatCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start the full-screen chat (default)",
		Long: `Starts the full-screen chat.

Keys:
  enter      send the message
  ctrl+t     mark the last answer as good
  ctrl+b     mark the last answer as bad
  pgup/pgdn  scroll
  esc        dismiss a notice or error
  ctrl+c     quit

Falls back to the line-mode REPL when stdin or stdout is not a terminal.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationTerminal: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, e)
		},
	}
}

func runChat(cmd *cobra.Command, e *env) error {
	if !CanRunFullScreen() {
		e.logger.Info("no terminal, falling back to line mode")
		return runRepl(cmd, e, nil)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := e.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	screen := chat.New(a.ctl, chat.Options{
		Title:          a.client.BaseURL(),
		Recorder:       a.scorer,
		Theme:          styles.NewTheme(),
		MarkdownStyle:  e.cfg.UI.MarkdownStyle,
		NoticeDuration: e.cfg.UI.NoticeDuration.Duration,
		MaxLength:      e.cfg.Session.MaxLength,
	})

	opts := []tea.ProgramOption{
		tea.WithAltScreen(),
		tea.WithReportFocus(),
		tea.WithContext(ctx),
	}
	if e.cfg.UI.Mouse {
		opts = append(opts, tea.WithMouseAllMotion())
	}
	p := tea.NewProgram(screen, opts...)

	// The controller calls listeners while streaming; Notify never blocks,
	// and the program is fed from a separate goroutine.
	notifier := chat.NewNotifier()
	a.ctl.OnChange(notifier.Notify)
	go notifier.Run(ctx, p.Send)

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
