package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/stackctl/internal/console"
	"github.com/example/stackctl/internal/run"
	"github.com/spf13/cobra"
)

func newRunsCommand() *cobra.Command {
	var root string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded deployment runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRunStore(root)
			if err != nil {
				return err
			}
			defer store.Close()
			recs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs.")
				return nil
			}
			return console.PrintRunsTable(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Directory whose run history to inspect (default: working directory)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func newStatusCommand() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "status [RUN_ID]",
		Short: "Show the per-stack outcome of a recorded run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRunStore(root)
			if err != nil {
				return err
			}
			defer store.Close()
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			} else {
				runID, err = store.MostRecentRunID(cmd.Context())
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("no recorded runs under %s", store.Path())
				}
				if err != nil {
					return err
				}
			}
			rec, err := store.GetRun(cmd.Context(), runID)
			if err != nil {
				return err
			}
			return console.PrintRunTable(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Directory whose run history to inspect (default: working directory)")
	return cmd
}

func openRunStore(root string) (*run.StateStore, error) {
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		root = cwd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return run.OpenStateStore(abs)
}
