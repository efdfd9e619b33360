package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/llm-immersive/immersive/pkg/httpapi"
	"github.com/llm-immersive/immersive/pkg/mcp"
	"github.com/llm-immersive/immersive/pkg/nativemsg"
)

func newServeCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the translation API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if listen == "" {
				listen = a.cfg.Listen
			}
			a.warmCache(ctx)

			srv := httpapi.New(a.dispatcher, a.logger.With().Str("component", "http").Logger(), httpapi.Options{Listen: listen})
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func newNativeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "native",
		Short: "Run as a browser native messaging host on stdin/stdout",
		// The browser passes the caller's origin (and on Windows a window
		// handle) as arguments.
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			a.warmCache(ctx)
			if len(args) > 0 {
				a.logger.Info().Str("origin", args[0]).Msg("native messaging host started")
			}
			return nativemsg.New(a.dispatcher, a.logger.With().Str("component", "native").Logger()).
				Run(ctx, os.Stdin, os.Stdout)
		},
	}
}

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start immersive as an MCP server on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var summarizer mcp.UsageSummarizer
			if a.usage != nil {
				summarizer = a.usage
			}
			srv := mcp.New(a.dispatcher, summarizer, a.logger.With().Str("component", "mcp").Logger(), version)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
