package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gtaf/internal/format"
	"gtaf/internal/kdb"
	mcpserver "gtaf/internal/mcp"
	"gtaf/internal/report"
	"gtaf/internal/resolve"
)

var ingestFlags struct {
	project string
	all     bool
	file    string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Merge failed test cases into the knowledge base",
	Long: `Fetches failed test cases and merges them into the knowledge base.

Exactly one source is required:
  --project NAME   one Ordino project, matched case-insensitively
  --all            every Ordino project
  --file PATH      a saved failed-test-cases payload (JSON)`,
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.project, "project", "", "Project name or fragment")
	f.BoolVar(&ingestFlags.all, "all", false, "Ingest every project")
	f.StringVar(&ingestFlags.file, "file", "", "Failed-test-cases JSON file")
	ingestCmd.MarkFlagsMutuallyExclusive("project", "all", "file")
	ingestCmd.MarkFlagsOneRequired("project", "all", "file")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	mode, err := outputMode()
	if err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	table := format.NewTable(mode)
	table.Header("Source", "Fetched", "Merged", "Skipped", "Error")

	var failed int
	add := func(name string, fetched int, res kdb.BatchResult, err error) {
		msg := ""
		if err != nil {
			msg = err.Error()
			failed++
		}
		table.Row(name, fetched, res.Merged, res.Skipped, format.Truncate(msg, 60))
	}

	switch {
	case ingestFlags.file != "":
		data, err := os.ReadFile(ingestFlags.file)
		if err != nil {
			return fmt.Errorf("read %s: %w", ingestFlags.file, err)
		}
		entries, err := report.DecodeFailures(data)
		if err != nil {
			return fmt.Errorf("%s: %w", ingestFlags.file, err)
		}
		res, err := db.Ingest(ctx, kdb.FailuresFromReport(entries))
		add(ingestFlags.file, len(entries), res, err)

	default:
		src, err := requireSource()
		if err != nil {
			return err
		}
		var candidates []resolve.Candidate
		if ingestFlags.all {
			projects, err := src.Projects(ctx)
			if err != nil {
				return err
			}
			candidates = mcpserver.ProjectCandidates(projects)
		} else {
			p, err := mcpserver.ResolveProject(ctx, src, resolver(), ingestFlags.project)
			if err != nil {
				return err
			}
			candidates = []resolve.Candidate{p}
		}
		for _, p := range candidates {
			n, res, err := mcpserver.IngestProject(ctx, db, src, p)
			add(p.Name, n, res, err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), table.String())
	if failed > 0 {
		return fmt.Errorf("%d source(s) failed", failed)
	}
	return nil
}
