package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the translation cache",
	}

	var showKeys bool
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.cache.Load(ctx); err != nil {
				return err
			}
			stats := a.cache.Stats()
			fmt.Printf("Entries:  %d / %d\nStorage:  %s (%s)\n", stats.Entries, stats.Capacity, a.cfg.Cache.StorageKey, a.cfg.Store.Backend)
			if showKeys {
				keys := a.cache.Keys()
				for i := len(keys) - 1; i >= 0; i-- {
					fmt.Println(keys[i])
				}
			}
			return nil
		},
	}
	statsCmd.Flags().BoolVar(&showKeys, "keys", false, "list cached keys, most recently used first")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached translation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.cache.Clear(ctx); err != nil {
				return err
			}
			fmt.Println("Translation cache cleared.")
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
