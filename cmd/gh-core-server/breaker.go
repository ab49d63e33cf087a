package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/githubnext/gh-aw-core/internal/breaker"
	"github.com/githubnext/gh-aw-core/internal/config"
	"github.com/githubnext/gh-aw-core/internal/store"
)

func newBreakerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect and reset per-backend circuit breakers",
	}
	cmd.AddCommand(newBreakerStatusCmd())
	cmd.AddCommand(newBreakerResetCmd())
	return cmd
}

func newBreakerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print every backend's current circuit state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			registry, breakerStore, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			defer breakerStore.Close()

			for _, snap := range registry.Snapshot() {
				fmt.Printf("%-12s state=%-10s failures=%d opened_at_ms=%d\n", snap.Backend, snap.State, snap.Failures, snap.OpenedAtMs)
			}
			return nil
		},
	}
}

func newBreakerResetCmd() *cobra.Command {
	var backend string
	var all bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset one backend (or, with --all, every backend) to Closed(0)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			registry, breakerStore, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			defer breakerStore.Close()

			if all {
				for _, snap := range registry.Snapshot() {
					registry.Get(snap.Backend).Reset()
					fmt.Printf("breaker reset: %s -> closed(0)\n", snap.Backend)
				}
				return nil
			}
			if backend == "" {
				return fmt.Errorf("breaker reset: --backend is required (pass the backend tag, e.g. claude), or use --all")
			}
			registry.Get(backend).Reset()
			fmt.Printf("breaker reset: %s -> closed(0)\n", backend)
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "Backend tag to reset")
	cmd.Flags().BoolVar(&all, "all", false, "Reset every backend with persisted state")
	return cmd
}

func loadRegistry(cfg config.Config) (*breaker.Registry, *store.BreakerStateStore, error) {
	breakerStore, err := store.OpenBreakerStateStore(filepath.Join(cfg.DataDir, "red-metrics.sqlite"))
	if err != nil {
		return nil, nil, fmt.Errorf("breaker: open state store: %w", err)
	}
	registry := breaker.NewRegistry(breakerStore, cfg.BreakerThreshold, cfg.BreakerResetTimeout)
	if err := registry.Load(context.Background()); err != nil {
		breakerStore.Close()
		return nil, nil, fmt.Errorf("breaker: load state: %w", err)
	}
	return registry, breakerStore, nil
}
