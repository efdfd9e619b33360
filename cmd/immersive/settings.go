package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/llm-immersive/immersive/pkg/models"
)

func newSettingsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the translation settings",
	}

	var reveal bool
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			s := a.settings.Get(ctx)
			if !reveal {
				s = s.Redacted()
			}
			return printSettings(s)
		},
	}
	getCmd.Flags().BoolVar(&reveal, "reveal", false, "print the API key unredacted")

	var (
		provider, apiKey, baseURL, model, lang string
		temperature                            float64
		selection                              bool
	)
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Change individual settings; unspecified fields keep their value",
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := map[string]any{}
			flags := cmd.Flags()
			if flags.Changed("provider") {
				patch["providerType"] = provider
				if !flags.Changed("base-url") {
					patch["baseUrl"] = models.Preset(models.ProviderType(provider)).BaseURL
				}
				if !flags.Changed("model") {
					patch["model"] = models.Preset(models.ProviderType(provider)).Model
				}
			}
			if flags.Changed("api-key") {
				patch["apiKey"] = apiKey
			}
			if flags.Changed("base-url") {
				patch["baseUrl"] = baseURL
			}
			if flags.Changed("model") {
				patch["model"] = model
			}
			if flags.Changed("temperature") {
				patch["temperature"] = temperature
			}
			if flags.Changed("lang") {
				patch["targetLanguage"] = lang
			}
			if flags.Changed("selection") {
				patch["selectionEnabled"] = selection
			}
			if len(patch) == 0 {
				return errors.New("no settings given")
			}

			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			raw, err := json.Marshal(map[string]any{"type": models.RequestSaveSettings, "settings": patch})
			if err != nil {
				return err
			}
			if resp := a.dispatcher.Handle(ctx, raw); resp.Failed() {
				return errors.New(resp.Error)
			}
			return printSettings(a.settings.Get(ctx).Redacted())
		},
	}
	setCmd.Flags().StringVar(&provider, "provider", "", "provider type: openai, siliconflow or local")
	setCmd.Flags().StringVar(&apiKey, "api-key", "", "API key")
	setCmd.Flags().StringVar(&baseURL, "base-url", "", "endpoint base URL")
	setCmd.Flags().StringVar(&model, "model", "", "model name")
	setCmd.Flags().Float64Var(&temperature, "temperature", 0.2, "sampling temperature")
	setCmd.Flags().StringVarP(&lang, "lang", "l", "", "default target language")
	setCmd.Flags().BoolVar(&selection, "selection", true, "translate selected text")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the stored settings and return to the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.settings.Reset(ctx); err != nil {
				return err
			}
			return printSettings(a.settings.Get(ctx))
		},
	}

	cmd.AddCommand(getCmd, setCmd, resetCmd)
	return cmd
}

func printSettings(s models.Settings) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PROVIDER\t%s\n", s.ProviderType)
	fmt.Fprintf(w, "API KEY\t%s\n", s.APIKey)
	fmt.Fprintf(w, "BASE URL\t%s\n", s.BaseURL)
	fmt.Fprintf(w, "MODEL\t%s\n", s.Model)
	fmt.Fprintf(w, "TEMPERATURE\t%g\n", s.Temperature)
	fmt.Fprintf(w, "TARGET LANGUAGE\t%s\n", s.TargetLanguage)
	fmt.Fprintf(w, "SELECTION\t%t\n", s.SelectionEnabled)
	return w.Flush()
}
