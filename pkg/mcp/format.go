package mcp

import (
	"fmt"
	"strings"

	"github.com/llm-immersive/immersive/pkg/models"
)

// formatSummary formats usage summaries as a text table.
func formatSummary(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-30s %8s %8s %10s %10s %10s\n",
		"Provider", "Model", "Requests", "Texts", "Prompt", "Completion", "Total")
	b.WriteString(strings.Repeat("-", 94) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-12s %-30s %8d %8d %10d %10d %10d\n",
			r.Provider, r.Model, r.RequestCount, r.TotalItems, r.TotalPrompt, r.TotalCompletion, r.TotalTokens)
	}
	return b.String()
}

// formatTranslations pairs each source text with its translation.
func formatTranslations(texts, translations []string) string {
	var b strings.Builder
	for i, text := range texts {
		var translated string
		if i < len(translations) {
			translated = translations[i]
		}
		fmt.Fprintf(&b, "(%d) %s\n    %s\n", i+1, text, translated)
	}
	return b.String()
}

// formatSettings formats settings as aligned key/value lines.
func formatSettings(s models.Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-18s %s\n", "Provider:", s.ProviderType)
	fmt.Fprintf(&b, "%-18s %s\n", "API key:", s.APIKey)
	fmt.Fprintf(&b, "%-18s %s\n", "Base URL:", s.BaseURL)
	fmt.Fprintf(&b, "%-18s %s\n", "Model:", s.Model)
	fmt.Fprintf(&b, "%-18s %g\n", "Temperature:", s.Temperature)
	fmt.Fprintf(&b, "%-18s %s\n", "Target language:", s.TargetLanguage)
	fmt.Fprintf(&b, "%-18s %t\n", "Selection:", s.SelectionEnabled)
	return b.String()
}

// formatCacheStats formats cache statistics.
func formatCacheStats(stats models.CacheStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %d / %d\n", "Entries:", stats.Entries, stats.Capacity)
	fmt.Fprintf(&b, "%-12s %d\n", "Hits:", stats.Hits)
	fmt.Fprintf(&b, "%-12s %d\n", "Misses:", stats.Misses)
	fmt.Fprintf(&b, "%-12s %.1f%%\n", "Hit rate:", stats.HitRate()*100)
	return b.String()
}
