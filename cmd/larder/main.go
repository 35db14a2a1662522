package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "larder",
		Short:   "Larder: recipe discovery over your pantry, cached and rate limited",
		Version: version,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to larder config file (defaults apply when omitted)")
	root.PersistentFlags().String("env-file", ".env", "dotenv file with source and model credentials")

	root.AddCommand(
		newServeCmd(),
		newMCPCmd(),
		newDiscoverCmd(),
		newCacheCmd(),
		newAuditCmd(),
		newSignatureCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
