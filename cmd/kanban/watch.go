package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/cheezy/kanban/internal/task"
	"github.com/cheezy/kanban/internal/tui"
)

func newWatchCmd(opts *options) *cobra.Command {
	var (
		board   string
		refresh time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor a board's active claims and progress in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.InMemory() {
				return fmt.Errorf("watch needs a database file; set database.path or --db")
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer store.Close()

			load := func(ctx context.Context) ([]*task.Task, error) {
				return store.ListTasks(ctx, board)
			}
			p := tea.NewProgram(tui.New(ctx, board, load, refresh), tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&board, "board", "", "board to watch")
	cmd.Flags().DurationVar(&refresh, "refresh", tui.DefaultRefresh, "polling interval")
	_ = cmd.MarkFlagRequired("board")
	return cmd
}
