package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gtaf/internal/format"
)

var historyCmd = &cobra.Command{
	Use:   "history <test case>",
	Short: "Show the failure history of a test case",
	Long:  "Shows every distinct failure of a test case. The name is matched case-insensitively; a fragment is enough.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	mode, err := outputMode()
	if err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	rec, err := db.Find(cmd.Context(), strings.Join(args, " "), resolver())
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), format.History(rec, mode, time.Now()))
	return nil
}
