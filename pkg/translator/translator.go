// Package translator resolves translations through the cache and falls back
// to the LLM client for misses.
package translator

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/llm-immersive/immersive/pkg/cache"
	"github.com/llm-immersive/immersive/pkg/models"
)

// SettingsSource supplies the current settings.
type SettingsSource interface {
	Get(ctx context.Context) models.Settings
}

// Cache stores translations by fingerprint key.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// LLM translates texts through a chat-completion endpoint.
type LLM interface {
	TranslateOne(ctx context.Context, text, targetLanguage string, s models.Settings) (string, error)
	TranslateMany(ctx context.Context, texts []string, targetLanguage string, s models.Settings) ([]string, error)
}

// Service combines settings, cache and LLM. Each operation issues at most
// one LLM call.
type Service struct {
	settings SettingsSource
	cache    Cache
	llm      LLM
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service.
func New(settings SettingsSource, c Cache, llm LLM, opts ...Option) *Service {
	s := &Service{
		settings: settings,
		cache:    c,
		llm:      llm,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EffectiveLanguage returns targetLanguage, or the configured default when
// it is empty.
func EffectiveLanguage(targetLanguage string, s models.Settings) string {
	if targetLanguage != "" {
		return targetLanguage
	}
	return s.TargetLanguage
}

// TranslateSingle returns the cached translation of text or translates and
// caches it.
func (s *Service) TranslateSingle(ctx context.Context, text, targetLanguage string) (string, error) {
	settings := s.settings.Get(ctx)
	lang := EffectiveLanguage(targetLanguage, settings)
	key := cache.Key(text, lang, settings)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if ok {
		return cached, nil
	}

	translation, err := s.llm.TranslateOne(ctx, text, lang, settings)
	if err != nil {
		return "", err
	}
	if err := s.cache.Set(ctx, key, translation); err != nil {
		return "", err
	}
	return translation, nil
}

// TranslateBatch returns one translation per text in input order. Cache
// probes run in order before a single LLM call covering only the misses.
// A miss the model left unanswered resolves to "".
func (s *Service) TranslateBatch(ctx context.Context, texts []string, targetLanguage string) ([]string, error) {
	settings := s.settings.Get(ctx)
	lang := EffectiveLanguage(targetLanguage, settings)

	results := make([]string, len(texts))
	keys := make([]string, len(texts))
	var missingTexts []string
	var missingIndices []int

	for i, text := range texts {
		keys[i] = cache.Key(text, lang, settings)
		cached, ok, err := s.cache.Get(ctx, keys[i])
		if err != nil {
			return nil, err
		}
		if ok {
			results[i] = cached
			continue
		}
		missingTexts = append(missingTexts, text)
		missingIndices = append(missingIndices, i)
	}

	if len(missingTexts) == 0 {
		return results, nil
	}

	start := time.Now()
	translations, err := s.llm.TranslateMany(ctx, missingTexts, lang, settings)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for pos, idx := range missingIndices {
		var translated string
		if pos < len(translations) {
			translated = translations[pos]
		}
		results[idx] = translated
		key := keys[idx]
		g.Go(func() error {
			return s.cache.Set(gctx, key, translated)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Int("texts", len(texts)).
		Int("hits", len(texts)-len(missingTexts)).
		Int("misses", len(missingTexts)).
		Dur("latency", time.Since(start)).
		Msg("batch translated")
	return results, nil
}
