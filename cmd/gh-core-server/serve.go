package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/githubnext/gh-aw-core/internal/config"
	"github.com/githubnext/gh-aw-core/internal/deps"
	"github.com/githubnext/gh-aw-core/internal/toolsurface"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Tool Surface over the length-framed stdio RPC contract",
		Long: `Run the tool surface: a stdio MCP server exposing the direct-ask
backend tools and the workflow tool to the parent host process.

Startup order: dependency init -> breaker load -> backend registry populate
-> tool surface exposed. Shutdown: stop accepting new calls -> persist
breaker state -> close stores.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	container, err := deps.Init(ctx, cfg)
	if err != nil {
		return fmt.Errorf("serve: initialize dependencies: %w", err)
	}
	defer deps.Close()

	surface := toolsurface.New(container.AI, container.Workflows, container.Activity, version)

	fmt.Fprintln(os.Stderr, "gh-core-server: tool surface ready, serving on stdio")
	if err := surface.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: tool surface exited: %w", err)
	}
	return nil
}
