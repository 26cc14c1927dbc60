// daedalus runs flow jobs described in YAML or JSON job files.
//
// Usage:
//
//	daedalus run <job.yf>... [--arg key=value]... [--exit]
//	daedalus validate <job.yf>...
//	daedalus nodes
//
// The run configuration is read from DAEDALUS_* environment variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "daedalus",
	Short: "Run dataflow jobs",
	Long:  "Daedalus executes graphs of nodes that pass a typed flow map along,\nforking and joining work across named worker pools.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.Version = version
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
