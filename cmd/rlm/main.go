// Command rlm runs the recursive language model engine: a root Worker that
// thinks, emits code, executes it against a sandboxed evaluation context,
// and recursively delegates sub-questions to fresh Workers of its own.
//
// Run a single query and print its answer:
//
//	rlm run --query "summarize the report in this directory" --context ./reports
//
// Serve the session API over HTTP:
//
//	rlm serve --addr :8080
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"

	configPath string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "rlm",
		Short:        "Recursive Language Model engine",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML/JSON config file (optional; env and flags still apply)")

	root.AddCommand(buildRunCmd(), buildServeCmd(), buildDoctorCmd())
	return root
}
