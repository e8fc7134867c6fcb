package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gtaf/internal/format"
	"gtaf/internal/kdb"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the knowledge base",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, _ []string) error {
	mode, err := outputMode()
	if err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	st, bugs, err := loadStats(cmd, db)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), format.Stats(st, bugs, mode))
	return nil
}

func loadStats(cmd *cobra.Command, db *kdb.DB) (*kdb.FailureStats, *kdb.BugStats, error) {
	st, err := db.Stats(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	bugs, err := db.BugStatistics(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return st, bugs, nil
}
