package mcp

import (
	"context"
	"encoding/json"

	"github.com/llm-immersive/immersive/pkg/models"
)

// Tool argument structs.

type translateArgs struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
}

type translateBatchArgs struct {
	Texts          []string `json:"texts"`
	TargetLanguage string   `json:"target_language"`
}

type saveSettingsArgs struct {
	Settings json.RawMessage `json:"settings"`
}

type usageArgs struct {
	Provider string `json:"provider"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"immersive_translate":       handleTranslate,
	"immersive_translate_batch": handleTranslateBatch,
	"immersive_get_settings":    handleGetSettings,
	"immersive_save_settings":   handleSaveSettings,
	"immersive_cache_stats":     handleCacheStats,
	"immersive_usage":           handleUsage,
}

var targetLanguageProp = map[string]any{
	"type":        "string",
	"description": "Language to translate into (optional, defaults to the configured target language)",
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "immersive_translate",
		Description: "Translate one text, reusing the translation cache when possible.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"text"},
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "The text to translate",
				},
				"target_language": targetLanguageProp,
			},
		},
	},
	{
		Name:        "immersive_translate_batch",
		Description: "Translate several texts with at most one model call; cached texts are not sent again.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"texts"},
			"properties": map[string]any{
				"texts": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "The texts to translate, in order",
				},
				"target_language": targetLanguageProp,
			},
		},
	},
	{
		Name:        "immersive_get_settings",
		Description: "Show the effective translation settings (API key redacted).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "immersive_save_settings",
		Description: "Merge the given fields into the saved translation settings.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"settings"},
			"properties": map[string]any{
				"settings": map[string]any{
					"type":        "object",
					"description": "Settings fields to change: providerType, apiKey, baseUrl, model, temperature, targetLanguage, selectionEnabled",
				},
			},
		},
	},
	{
		Name:        "immersive_cache_stats",
		Description: "Show translation cache statistics (entries, capacity, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "immersive_usage",
		Description: "Show model usage grouped by provider and model, optionally filtered by provider.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"provider": map[string]any{
					"type":        "string",
					"description": "Filter by provider type (optional)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

// call sends msg through the handler and converts a failed response.
func (s *Server) call(ctx context.Context, msg map[string]any) (models.Response, *ToolCallResult) {
	raw, err := json.Marshal(msg)
	if err != nil {
		res := errorResult("Error encoding request: " + err.Error())
		return models.Response{}, &res
	}
	resp := s.handler.Handle(ctx, raw)
	if resp.Failed() {
		res := errorResult(resp.Error)
		return resp, &res
	}
	return resp, nil
}

func handleTranslate(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args translateArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Text == "" {
		return errorResult("text is required")
	}
	resp, failed := s.call(ctx, map[string]any{
		"type":           models.RequestTranslate,
		"text":           args.Text,
		"targetLanguage": args.TargetLanguage,
	})
	if failed != nil {
		return *failed
	}
	return textResult(*resp.Translation)
}

func handleTranslateBatch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args translateBatchArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if len(args.Texts) == 0 {
		return errorResult("texts is required")
	}
	resp, failed := s.call(ctx, map[string]any{
		"type":           models.RequestTranslateBatch,
		"texts":          args.Texts,
		"targetLanguage": args.TargetLanguage,
	})
	if failed != nil {
		return *failed
	}
	return textResult(formatTranslations(args.Texts, resp.Translations))
}

func handleGetSettings(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	resp, failed := s.call(ctx, map[string]any{"type": models.RequestGetSettings})
	if failed != nil {
		return *failed
	}
	return textResult(formatSettings(resp.Settings.Redacted()))
}

func handleSaveSettings(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args saveSettingsArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if len(args.Settings) == 0 {
		return errorResult("settings is required")
	}
	if _, failed := s.call(ctx, map[string]any{
		"type":     models.RequestSaveSettings,
		"settings": args.Settings,
	}); failed != nil {
		return *failed
	}
	return handleGetSettings(ctx, s, nil)
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	resp, failed := s.call(ctx, map[string]any{"type": models.RequestCacheStats})
	if failed != nil {
		return *failed
	}
	return textResult(formatCacheStats(*resp.CacheStats))
}

func handleUsage(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.usage == nil {
		return textResult("Usage tracking is not enabled.")
	}
	var args usageArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	rows, err := s.usage.Summary(ctx, args.Provider)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatSummary(rows))
}
