package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/larder-app/larder/pkg/server"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the discovery HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if listen == "" {
				listen = a.cfg.Listen
			}
			srv := server.New(listen, a.orch, a.log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	return cmd
}
