package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"billwatch/internal/app"
	"billwatch/internal/config"
	"billwatch/internal/logging"
	"billwatch/internal/usecase"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "billwatch",
		Short:         "Discovers, summarizes, and publishes one legislative bill per run",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(), newServeCmd(), newAuditCmd(), newUnlockCmd())
	return root
}

func buildApp(ctx context.Context) (*app.Application, config.Config, error) {
	cfg := config.Load()
	logger := logging.New(os.Stderr, cfg.Logging.Level)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, cfg, err
	}
	return application, cfg, nil
}

func newRunCmd() *cobra.Command {
	var dryRun, windowGuard bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a single publish run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			application, _, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			result, err := application.RunOnce(ctx, usecase.Options{
				DryRun:      dryRun,
				WindowGuard: windowGuard,
			})
			if err != nil {
				return fmt.Errorf("run %s: %w", result.RunID, err)
			}

			switch result.Outcome {
			case usecase.OutcomePublished:
				if result.DryRun {
					fmt.Printf("dry run: would have published %s\n", result.BillID)
				} else {
					fmt.Printf("published %s", result.BillID)
					for _, u := range result.URLs {
						fmt.Printf(" %s", u)
					}
					fmt.Println()
				}
			case usecase.OutcomeWindowGuard:
				fmt.Println("skipped: a bill was already published inside the duplicate window")
			default:
				fmt.Println("no bill published this run")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"execute the full state machine but suppress remote publishes and the publish marker")
	cmd.Flags().BoolVar(&windowGuard, "window-guard", false,
		"exit immediately when any bill was published inside the duplicate window")
	return cmd
}

func newServeCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daily scheduler with a metrics endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, _, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			return application.Serve(ctx, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "listen address for /metrics and /healthz")
	return cmd
}

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "List quarantined bills for manual review",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			application, _, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			bills, err := application.Store().ListQuarantined(ctx)
			if err != nil {
				return err
			}
			if len(bills) == 0 {
				fmt.Println("no quarantined bills")
				return nil
			}

			for _, bill := range bills {
				markedAt := "unknown"
				if bill.ProblematicMarkedAt != nil {
					markedAt = bill.ProblematicMarkedAt.Format("2006-01-02")
				}
				fmt.Printf("%-14s state=%-19s marked=%s reason=%s\n",
					bill.ID, bill.State(), markedAt, bill.ProblematicReason)
			}
			return nil
		},
	}
}

func newUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <bill-id>",
		Short: "Manually clear a bill's quarantine and recheck flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, _, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			id := args[0]
			if err := application.Store().ClearQuarantine(ctx, id); err != nil {
				return err
			}
			if err := application.Store().UpdateFields(ctx, id, map[string]any{
				"recheck_attempted": false,
			}); err != nil {
				return err
			}
			fmt.Printf("unlocked %s\n", id)
			return nil
		},
	}
}
