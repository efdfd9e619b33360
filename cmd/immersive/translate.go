package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/llm-immersive/immersive/pkg/models"
)

func newTranslateCmd(configPath *string) *cobra.Command {
	var (
		lang  string
		batch bool
	)

	cmd := &cobra.Command{
		Use:   "translate [text...]",
		Short: "Translate text through the cache and the configured model",
		Long: "Translate the arguments as one text, or with --batch each argument as its own text " +
			"in a single model call.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			msg := map[string]any{"type": models.RequestTranslate, "text": strings.Join(args, " ")}
			if batch {
				msg = map[string]any{"type": models.RequestTranslateBatch, "texts": args}
			}
			if lang != "" {
				msg["targetLanguage"] = lang
			}
			raw, err := json.Marshal(msg)
			if err != nil {
				return err
			}

			resp := a.dispatcher.Handle(ctx, raw)
			if resp.Failed() {
				return errors.New(resp.Error)
			}
			if resp.Translation != nil {
				fmt.Fprintln(os.Stdout, *resp.Translation)
				return nil
			}
			for _, t := range resp.Translations {
				fmt.Fprintln(os.Stdout, t)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&lang, "lang", "l", "", "target language (defaults to the saved setting)")
	cmd.Flags().BoolVar(&batch, "batch", false, "translate each argument separately in one request")
	return cmd
}
