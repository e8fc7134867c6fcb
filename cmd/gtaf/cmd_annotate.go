package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gtaf/internal/format"
)

var annotateFlags struct {
	bug    bool
	notBug bool
	note   string
	index  int
}

var annotateCmd = &cobra.Command{
	Use:   "annotate <test case>",
	Short: "Classify the latest occurrence of a failure as bug or not a bug",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnnotate,
}

func init() {
	f := annotateCmd.Flags()
	f.BoolVar(&annotateFlags.bug, "bug", false, "Classify as a product bug")
	f.BoolVar(&annotateFlags.notBug, "not-bug", false, "Classify as not a bug")
	f.StringVar(&annotateFlags.note, "note", "", "Tester note")
	f.IntVar(&annotateFlags.index, "index", 0, "Failure to classify, 0 = most recently seen")
	annotateCmd.MarkFlagsMutuallyExclusive("bug", "not-bug")
	annotateCmd.MarkFlagsOneRequired("bug", "not-bug")
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rec, err := db.Find(ctx, strings.Join(args, " "), resolver())
	if err != nil {
		return err
	}
	g, err := db.Annotate(ctx, rec.TestCase, annotateFlags.bug, annotateFlags.note, annotateFlags.index)
	if err != nil {
		return err
	}
	verdict := "pending"
	if occ := g.Latest(); occ != nil {
		verdict = format.Verdict(occ.IsBug)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s [%s]: %s\n", rec.TestCase, g.FailureID, verdict)
	return nil
}
