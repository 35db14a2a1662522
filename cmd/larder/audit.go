package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/larder-app/larder/pkg/audit"
	"github.com/larder-app/larder/pkg/models"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the discovery audit log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditShowCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		operation string
		outcome   string
		since     string
		session   string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				Operation: operation,
				Outcome:   models.Outcome(outcome),
				SessionID: session,
				Limit:     limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&operation, "op", "", "filter by operation (discover, refresh, generate)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome, e.g. no_results")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&session, "session", "", "filter by generation session ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func newAuditShowCmd() *cobra.Command {
	var requestID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a single audit entry by request ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				return fmt.Errorf("--request-id is required")
			}

			l, cleanup, err := openAuditLogger(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(context.Background(), models.AuditQueryOpts{
				RequestID: requestID,
				Limit:     1,
			})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No entry found for that request ID.")
				return nil
			}

			e := entries[0]
			fmt.Printf("Request ID:    %s\n", e.RequestID)
			fmt.Printf("Operation:     %s\n", e.Operation)
			fmt.Printf("Kind:          %s\n", e.Kind)
			fmt.Printf("User:          %s...\n", e.UserHash[:min(12, len(e.UserHash))])
			fmt.Printf("Session:       %s\n", e.SessionID)
			fmt.Printf("Source:        %s\n", e.Source)
			fmt.Printf("Outcome:       %s\n", e.Outcome)
			fmt.Printf("Candidates:    %d\n", e.CandidateCount)
			fmt.Printf("Latency:       %dms\n", e.LatencyMs)
			fmt.Printf("Time:          %s\n", e.CreatedAt.Format(time.RFC3339))
			if e.Query != "" {
				fmt.Printf("Query:         %s\n", e.Query)
			}
			if e.Message != "" {
				fmt.Printf("Message:       %s\n", e.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&requestID, "request-id", "", "request ID to show")
	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show audit log statistics by outcome and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatAuditStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d audit entries.\n", deleted)
			return nil
		},
	}
}

func openAuditLogger(cmd *cobra.Command) (*audit.Logger, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-9s %-7s %-18s %-10s %5s %8s %-20s\n",
		"REQUEST ID", "OP", "KIND", "OUTCOME", "SOURCE", "COUNT", "LATENCY", "TIME")
	b.WriteString(strings.Repeat("-", 122) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-38s %-9s %-7s %-18s %-10s %5d %6dms %-20s\n",
			e.RequestID, e.Operation, e.Kind, e.Outcome, e.Source,
			e.CandidateCount, e.LatencyMs,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-18s %-12s %8s\n", "OUTCOME", "DAY", "COUNT")
	b.WriteString(strings.Repeat("-", 40) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-18s %-12s %8d\n", s.Outcome, s.Day, s.Count)
	}
	return b.String()
}
