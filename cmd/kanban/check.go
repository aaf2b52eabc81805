package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cheezy/kanban/internal/scheduler"
	"github.com/cheezy/kanban/internal/task"
)

func newCheckCmd(opts *options) *cobra.Command {
	var board string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a board's dependency graph and print its topological order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer store.Close()

			tasks, err := store.ListTasks(cmd.Context(), board)
			if err != nil {
				return err
			}
			order, err := scheduler.BuildGraph(tasks).Validate()
			if err != nil {
				return fmt.Errorf("board %s: %w", board, err)
			}

			byID := make(map[string]*task.Task, len(tasks))
			for _, t := range tasks {
				byID[t.ID] = t
			}
			names := make([]string, 0, len(order))
			for _, id := range order {
				names = append(names, byID[id].Identifier)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "board %s: %d task(s), dependency graph is acyclic\n", board, len(tasks))
			if len(names) > 0 {
				fmt.Fprintf(out, "order: %s\n", strings.Join(names, " "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&board, "board", "", "board to check")
	_ = cmd.MarkFlagRequired("board")
	return cmd
}
