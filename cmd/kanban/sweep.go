package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cheezy/kanban/internal/orchestrator"
)

func newSweepCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Return expired claims and timed-out hook gates to Ready once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer store.Close()

			released, err := orchestrator.New(store, engineConfig(cfg, logger)).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range released {
				fmt.Fprintf(out, "%s\t%s\t%s\n", t.BoardID, t.Identifier, t.Title)
			}
			fmt.Fprintf(out, "released %d task(s)\n", len(released))
			return nil
		},
	}
}
