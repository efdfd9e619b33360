package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "immersive",
		Short:         "Immersive: cached LLM translation backend for the browser extension",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults plus IMMERSIVE_* environment when empty)")

	root.AddCommand(
		newServeCmd(&configPath),
		newNativeCmd(&configPath),
		newMCPCmd(&configPath),
		newTranslateCmd(&configPath),
		newCacheCmd(&configPath),
		newSettingsCmd(&configPath),
		newStatsCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
