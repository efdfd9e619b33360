package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatsCmd(configPath *string) *cobra.Command {
	var (
		provider string
		recent   uint64
		since    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show model usage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if a.usage == nil {
				return errors.New("usage tracking is disabled (set usage.enabled)")
			}

			switch {
			case recent > 0:
				return printRecent(ctx, a, recent)
			case since > 0:
				total, err := a.usage.TotalSince(ctx, time.Now().Add(-since))
				if err != nil {
					return err
				}
				fmt.Printf("Total tokens in the last %s: %d\n", since, total)
				return nil
			}

			rows, err := a.usage.Summary(ctx, provider)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tREQUESTS\tTEXTS\tPROMPT\tCOMPLETION\tTOTAL")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					r.Provider, r.Model, r.RequestCount, r.TotalItems, r.TotalPrompt, r.TotalCompletion, r.TotalTokens)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "filter by provider type")
	cmd.Flags().Uint64Var(&recent, "recent", 0, "list the N most recent calls instead of the summary")
	cmd.Flags().DurationVar(&since, "since", 0, "print total tokens used within this window (e.g. 24h)")
	cmd.MarkFlagsMutuallyExclusive("recent", "since")
	return cmd
}

func printRecent(ctx context.Context, a *app, limit uint64) error {
	records, err := a.usage.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No usage data found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPROVIDER\tMODEL\tTEXTS\tPROMPT\tCOMPLETION\tTOTAL")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.CreatedAt.Local().Format(time.DateTime), r.Provider, r.Model, r.Items, r.PromptTokens, r.CompletionTokens, r.TotalTokens)
	}
	return w.Flush()
}
