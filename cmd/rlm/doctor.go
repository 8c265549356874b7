package main

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/recursivelm/rlm/internal/config"
)

// buildDoctorCmd validates configuration and the local environment without
// starting a run: config layering resolves and passes validation, the
// Python interpreter eval needs is on PATH, and an API key is present.
// Grounded on the teacher's doctor command (cmd/nexus/commands_doctor.go),
// scoped down from its config-migration/channel-probe/workspace-repair
// checks to what this engine actually depends on.
func buildDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and the local Python environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd)
		},
	}
	return cmd
}

func runDoctor(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	var issues []string

	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		fmt.Fprintf(out, "[FAIL] config: %v\n", err)
		issues = append(issues, "config")
	} else {
		fmt.Fprintln(out, "[ OK ] config loaded and validated")
		checkPython(out, cfg.Eval.PythonPath, &issues)
		checkAPIKey(out, cfg.LLM.Provider, cfg.LLM.APIKey, &issues)
	}

	if len(issues) > 0 {
		return fmt.Errorf("doctor found %d issue(s): %s", len(issues), strings.Join(issues, ", "))
	}
	fmt.Fprintln(out, "all checks passed")
	return nil
}

func checkPython(out io.Writer, pythonPath string, issues *[]string) {
	path, err := exec.LookPath(pythonPath)
	if err != nil {
		fmt.Fprintf(out, "[FAIL] eval.python_path %q not found on PATH: %v\n", pythonPath, err)
		*issues = append(*issues, "python")
		return
	}
	fmt.Fprintf(out, "[ OK ] eval.python_path resolves to %s\n", path)
}

func checkAPIKey(out io.Writer, provider, apiKey string, issues *[]string) {
	if strings.TrimSpace(apiKey) == "" {
		fmt.Fprintf(out, "[FAIL] llm.api_key is empty for provider %q\n", provider)
		*issues = append(*issues, "llm-api-key")
		return
	}
	fmt.Fprintf(out, "[ OK ] llm.api_key is set for provider %q\n", provider)
}
