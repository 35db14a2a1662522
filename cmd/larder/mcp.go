package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/larder-app/larder/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start larder as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var auditor mcp.AuditSearcher
			if a.auditor != nil {
				auditor = a.auditor
			}
			srv := mcp.New(a.orch, auditor, user, version, a.log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&user, "user", "mcp", "user id the tools act for (selects the pantry)")
	return cmd
}
