package main

import (
	"github.com/recursivelm/rlm/internal/tools"
	"github.com/recursivelm/rlm/internal/tools/bash"
	"github.com/recursivelm/rlm/internal/tools/files"
	"github.com/recursivelm/rlm/internal/tools/search"
)

// buildRegistry wires the sandbox tool catalog every Worker shares,
// scoped to a single workspace directory.
func buildRegistry(workspace string) *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(files.NewReadTool(files.Config{Workspace: workspace}))
	reg.Register(files.NewWriteTool(files.Config{Workspace: workspace}))
	reg.Register(files.NewEditTool(files.Config{Workspace: workspace}))
	reg.Register(search.NewGlobTool(workspace))
	reg.Register(search.NewGrepTool(workspace))
	reg.Register(search.NewLsTool(workspace))
	reg.Register(bash.New(workspace))
	return reg
}
