// Package cmd defines and implements the CLI commands for the deepcrawl
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// Version is stamped at build time via -ldflags.
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deepcrawl",
		Short: "A scoped, proxy-rotating deep crawler",
		Long: `deepcrawl walks a single site from a seed URL, staying inside the
configured domain and URL patterns, rotating every request through a proxy
pool, and saving each admitted page as markdown with a metadata sidecar.

Traversal is breadth-first by default; best-first mode prioritizes links
whose anchor text matches the configured keywords.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./deepcrawl.yaml)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "deepcrawl: %v\n", err)
		os.Exit(1)
	}
}
