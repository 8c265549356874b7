package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/recursivelm/rlm/internal/config"
	"github.com/recursivelm/rlm/internal/llm"
	"github.com/recursivelm/rlm/internal/rlmtypes"
	"github.com/recursivelm/rlm/internal/run"
)

func buildRunCmd() *cobra.Command {
	var query, workspace string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single query through the RLM engine and print its answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return fmt.Errorf("--query is required")
			}

			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}

			provider, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
				APIKey:       cfg.LLM.APIKey,
				BaseURL:      cfg.LLM.BaseURL,
				MaxRetries:   cfg.LLM.MaxRetries,
				DefaultModel: cfg.LLM.DefaultModel,
			})
			if err != nil {
				return err
			}

			if workspace == "" {
				workspace = cfg.Eval.Workspace
			}
			registry := buildRegistry(workspace)
			sup := run.New(*cfg, provider, registry, nil, nil, nil)

			ctx := cmd.Context()
			r, err := sup.StartRun(ctx, query, workspace)
			if err != nil {
				return err
			}

			for {
				status, answer, runErr := r.Status()
				switch status {
				case rlmtypes.StatusComplete:
					fmt.Fprintln(os.Stdout, answer)
					return nil
				case rlmtypes.StatusFailed:
					return runErr
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(200 * time.Millisecond):
				}
			}
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "the question to answer")
	cmd.Flags().StringVar(&workspace, "context", "", "working directory the evaluation and file tools are scoped to (defaults to eval.workspace)")
	return cmd
}
