package models

import "strings"

// ProviderType names an OpenAI-compatible translation backend.
type ProviderType string

const (
	ProviderOpenAI      ProviderType = "openai"
	ProviderSiliconFlow ProviderType = "siliconflow"
	ProviderLocal       ProviderType = "local"
)

// Settings is the effective configuration used to address the translation
// endpoint and direct output language.
type Settings struct {
	ProviderType     ProviderType `json:"providerType"`
	APIKey           string       `json:"apiKey"`
	BaseURL          string       `json:"baseUrl"`
	Model            string       `json:"model"`
	Temperature      float64      `json:"temperature"`
	TargetLanguage   string       `json:"targetLanguage"`
	SelectionEnabled bool         `json:"selectionEnabled"`
}

// DefaultSettings returns the compile-time defaults.
func DefaultSettings() Settings {
	return Settings{
		ProviderType:     ProviderOpenAI,
		APIKey:           "",
		BaseURL:          "https://api.openai.com",
		Model:            "gpt-3.5-turbo",
		Temperature:      0.2,
		TargetLanguage:   "中文",
		SelectionEnabled: true,
	}
}

// ProviderPreset holds the suggested endpoint and models for a provider type.
type ProviderPreset struct {
	BaseURL string   `json:"baseUrl"`
	Model   string   `json:"model"`
	Models  []string `json:"models"`
}

var presets = map[ProviderType]ProviderPreset{
	ProviderOpenAI: {
		BaseURL: "https://api.openai.com",
		Model:   "gpt-3.5-turbo",
		Models:  []string{"gpt-4o-mini", "gpt-3.5-turbo"},
	},
	ProviderSiliconFlow: {
		BaseURL: "https://api.siliconflow.cn",
		Model:   "Qwen/Qwen2.5-7B-Instruct",
		Models: []string{
			"Qwen/Qwen2.5-7B-Instruct",
			"Qwen/Qwen2.5-14B-Instruct",
			"Qwen/Qwen2-7B-Instruct",
		},
	},
	ProviderLocal: {
		BaseURL: "http://localhost:1234",
	},
}

// Preset returns the preset for p. Unknown provider types get the openai preset.
func Preset(p ProviderType) ProviderPreset {
	if preset, ok := presets[p]; ok {
		return preset
	}
	return presets[ProviderOpenAI]
}

// Normalize trims user input and fills blanks from the provider preset and
// the defaults, the way the settings form does before saving.
func (s Settings) Normalize() Settings {
	defaults := DefaultSettings()
	s.ProviderType = ProviderType(strings.TrimSpace(string(s.ProviderType)))
	if s.ProviderType == "" {
		s.ProviderType = defaults.ProviderType
	}
	preset := Preset(s.ProviderType)

	s.APIKey = strings.TrimSpace(s.APIKey)
	s.BaseURL = strings.TrimSpace(s.BaseURL)
	if s.BaseURL == "" {
		s.BaseURL = preset.BaseURL
		if s.BaseURL == "" {
			s.BaseURL = defaults.BaseURL
		}
	}
	s.Model = strings.TrimSpace(s.Model)
	if s.Model == "" {
		s.Model = preset.Model
		if s.Model == "" {
			s.Model = defaults.Model
		}
	}
	if s.Temperature == 0 {
		s.Temperature = defaults.Temperature
	}
	s.TargetLanguage = strings.TrimSpace(s.TargetLanguage)
	if s.TargetLanguage == "" {
		s.TargetLanguage = defaults.TargetLanguage
	}
	return s
}

// Redacted returns a copy safe for logs and CLI output.
func (s Settings) Redacted() Settings {
	if len(s.APIKey) > 8 {
		s.APIKey = s.APIKey[:4] + "..." + s.APIKey[len(s.APIKey)-4:]
	} else if s.APIKey != "" {
		s.APIKey = "***"
	}
	return s
}
