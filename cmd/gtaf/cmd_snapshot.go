package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gtaf/internal/format"
	mcpserver "gtaf/internal/mcp"
	"gtaf/internal/report"
)

var snapshotFlags struct {
	project string
	file    string
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Summarize a project's latest run and save the snapshot",
	Long: `Computes pass rate and top failures of the project's latest test run and
saves the result under analysis/<project>/ in the knowledge base.

With --file the run is read from a saved latest-result payload instead of
being fetched; --project then only names the snapshot directory.`,
	RunE: runSnapshot,
}

func init() {
	f := snapshotCmd.Flags()
	f.StringVar(&snapshotFlags.project, "project", "", "Project name or fragment (required)")
	f.StringVar(&snapshotFlags.file, "file", "", "Latest-result JSON file")
	_ = snapshotCmd.MarkFlagRequired("project")
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	mode, err := outputMode()
	if err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	project := snapshotFlags.project
	var run *report.RunResult
	if snapshotFlags.file != "" {
		data, err := os.ReadFile(snapshotFlags.file)
		if err != nil {
			return fmt.Errorf("read %s: %w", snapshotFlags.file, err)
		}
		if run, err = report.DecodeRunResult(data); err != nil {
			return fmt.Errorf("%s: %w", snapshotFlags.file, err)
		}
	} else {
		src, err := requireSource()
		if err != nil {
			return err
		}
		p, err := mcpserver.ResolveProject(ctx, src, resolver(), project)
		if err != nil {
			return err
		}
		project = p.Name
		if run, err = src.LatestResult(ctx, p.ID); err != nil {
			return err
		}
	}

	snap := db.Analyze(run, project)
	path, err := db.Persist(ctx, snap, project)
	if err != nil {
		return err
	}
	snap.SavedPath = path
	fmt.Fprint(cmd.OutOrStdout(), format.Snapshot(snap, mode))
	return nil
}
