package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/larder-app/larder/pkg/logging"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the discovery result cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := openCache(cfg, logging.New(cfg.Log))
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Entries: %d\nHits:    %d\nMisses:  %d\nCorrupt: %d\n",
				stats.Entries, stats.Hits, stats.Misses, stats.Corrupt)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := openCache(cfg, logging.New(cfg.Log))
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Clear(cmd.Context(), expiredOnly); err != nil {
				return err
			}
			if expiredOnly {
				fmt.Println("Expired and unreadable cache entries cleared.")
			} else {
				fmt.Println("All cache entries cleared.")
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
