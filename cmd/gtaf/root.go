// gtaf keeps a knowledge base of test failures fetched from the Ordino test
// report platform and serves it to assistants over MCP.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"gtaf/internal/config"
	"gtaf/internal/format"
	"gtaf/internal/kdb"
	"gtaf/internal/logging"
	mcpserver "gtaf/internal/mcp"
	"gtaf/internal/ordino"
	"gtaf/internal/resolve"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	config string
	kdb    string
	format string
}

// Populated by PersistentPreRunE.
var (
	cfg     *config.Config
	logSink io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "gtaf",
	Short: "Test failure knowledge base for Ordino projects",
	Long: "gtaf collects failed test cases from the Ordino test report platform,\n" +
		"deduplicates them into a per-test-case knowledge base and exposes it\n" +
		"to assistants as MCP tools.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.config, "config", "", "Config file (default ./"+config.DefaultFile+" if present)")
	pf.StringVar(&rootFlags.kdb, "kdb", "", "Knowledge base directory (overrides kdb.path)")
	pf.StringVar(&rootFlags.format, "format", "ascii", "Report format: ascii or markdown")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(_ *cobra.Command, _ []string) error {
	c, err := config.Load(rootFlags.config)
	if err != nil {
		return err
	}
	if rootFlags.kdb != "" {
		c.KDB.Path = rootFlags.kdb
	}
	cfg = c

	level, _ := logging.ParseLevel(cfg.Log.Level)
	var file io.WriteCloser
	if cfg.Log.File != "" {
		file = logging.RotatingFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
		logSink = file
	}
	logging.Init(level, cfg.Log.Format, os.Stderr, file)
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if logSink == nil {
		return nil
	}
	err := logSink.Close()
	logSink = nil
	return err
}

// openDB opens the configured knowledge base.
func openDB() (*kdb.DB, error) {
	return kdb.Open(cfg.KDB.Path,
		kdb.WithRetainedOccurrences(cfg.KDB.RetainedOccurrences),
		kdb.WithTopFailures(cfg.Snapshot.TopFailures),
		kdb.WithParallel(cfg.Process.Parallel),
	)
}

// newSource returns the Ordino client, or nil when no API key is configured.
func newSource() (*ordino.Client, error) {
	key, err := cfg.APIKey()
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, nil
	}
	return ordino.New(cfg.Source.BaseURL, key,
		ordino.WithTimeout(cfg.Source.Timeout),
		ordino.WithRateLimit(cfg.Source.RateLimit, cfg.Source.Burst),
	)
}

// requireSource is newSource for commands that cannot run without one.
func requireSource() (*ordino.Client, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, mcpserver.ErrNoSource
	}
	return src, nil
}

func resolver() *resolve.Resolver {
	p, _ := resolve.ParsePolicy(cfg.KDB.ResolvePolicy)
	return resolve.New(p)
}

func outputMode() (format.Mode, error) {
	return format.ParseMode(rootFlags.format)
}
