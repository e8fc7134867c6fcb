package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gtaf/internal/format"
)

var cleanupFlags struct {
	olderThan int
	yes       bool
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete knowledge base content",
	Long: `Deletes every test case document and snapshot, leaving an empty knowledge
base. With --older-than only content not modified for that many days is
removed. The deletion cannot be undone; --yes is required.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	f := cleanupCmd.Flags()
	f.IntVar(&cleanupFlags.olderThan, "older-than", 0, "Only delete content older than this many days")
	f.BoolVar(&cleanupFlags.yes, "yes", false, "Confirm the deletion")
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	if !cleanupFlags.yes {
		return fmt.Errorf("refusing to delete without --yes")
	}
	mode, err := outputMode()
	if err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if cleanupFlags.olderThan > 0 {
		n, err := db.CleanupOlderThan(cmd.Context(), cleanupFlags.olderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "removed %d test case document(s) older than %d day(s)\n", n, cleanupFlags.olderThan)
		return nil
	}

	st, err := db.CleanupAll(cmd.Context())
	fmt.Fprint(out, format.Cleanup(st, mode))
	return err
}
