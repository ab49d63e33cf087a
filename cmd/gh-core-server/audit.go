package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/githubnext/gh-aw-core/internal/audit"
	"github.com/githubnext/gh-aw-core/internal/config"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query, export, and prune the audit trail",
	}
	cmd.AddCommand(newAuditExportCmd())
	cmd.AddCommand(newAuditCleanupCmd())
	return cmd
}

func newAuditExportCmd() *cobra.Command {
	var format, workflowName, operation, outcome string
	var limit int

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit entries as json, csv, or html",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			store, err := openAuditStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Query(context.Background(), audit.Filter{
				WorkflowName: workflowName,
				Operation:    operation,
				Outcome:      outcome,
				Limit:        limit,
			})
			if err != nil {
				return fmt.Errorf("audit export: query: %w", err)
			}

			switch format {
			case "json":
				out, err := audit.ExportJSON(entries)
				if err != nil {
					return err
				}
				fmt.Println(string(out))
			case "csv":
				out, err := audit.ExportCSV(entries)
				if err != nil {
					return err
				}
				fmt.Println(out)
			case "html":
				fmt.Println(audit.ExportHTML(entries))
			default:
				return fmt.Errorf("audit export: unknown format %q (want json, csv, or html)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json, csv, or html")
	cmd.Flags().StringVar(&workflowName, "workflow", "", "Filter by workflow name")
	cmd.Flags().StringVar(&operation, "operation", "", "Filter by operation class")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Filter by outcome: success, failure, or pending")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to return (0 = unlimited)")
	return cmd
}

func newAuditCleanupCmd() *cobra.Command {
	var olderThanDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Prune audit entries older than a given number of days",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			store, err := openAuditStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Cleanup(context.Background(), olderThanDays)
			if err != nil {
				return fmt.Errorf("audit cleanup: %w", err)
			}
			fmt.Fprintf(os.Stderr, "audit cleanup: deleted %d entries older than %d days\n", n, olderThanDays)
			return nil
		},
	}
	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 90, "Delete entries older than this many days")
	return cmd
}

func openAuditStore(cfg config.Config) (*audit.Store, error) {
	path := filepath.Join(cfg.DataDir, "audit.sqlite")
	store, err := audit.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit store at %s: %w", path, err)
	}
	return store, nil
}
