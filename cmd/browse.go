package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"
	"soundmesh/internal/ui"
)

// Browse starts the interactive catalog browser.
func (r *Runner) Browse(ctx context.Context, cmd *cli.Command) error {
	stack, err := r.openStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	model := ui.NewModel(ctx, stack.engine, cmd.String("user"))
	program := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("browser exited with error: %w", err)
	}
	return nil
}
