// Package dispatch routes typed extension messages to the translation
// service, the settings provider and the cache.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/llm-immersive/immersive/pkg/models"
)

// Translator resolves translations.
type Translator interface {
	TranslateSingle(ctx context.Context, text, targetLanguage string) (string, error)
	TranslateBatch(ctx context.Context, texts []string, targetLanguage string) ([]string, error)
}

// SettingsStore reads and writes the persisted settings.
type SettingsStore interface {
	Get(ctx context.Context) models.Settings
	Save(ctx context.Context, s models.Settings) error
	Merge(ctx context.Context, patch json.RawMessage) (models.Settings, error)
}

// CacheAdmin exposes cache maintenance.
type CacheAdmin interface {
	Stats() models.CacheStats
	Clear(ctx context.Context) error
}

// Dispatcher answers every request with a Response; failures are carried in
// Response.Error rather than returned.
type Dispatcher struct {
	translator Translator
	settings   SettingsStore
	cache      CacheAdmin
	logger     zerolog.Logger
}

// New creates a Dispatcher.
func New(t Translator, s SettingsStore, c CacheAdmin, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{translator: t, settings: s, cache: c, logger: logger}
}

// Handle validates and routes a raw JSON message.
func (d *Dispatcher) Handle(ctx context.Context, raw json.RawMessage) models.Response {
	req, err := Decode(raw)
	if err != nil {
		d.logger.Warn().Err(err).Msg("rejected request")
		return failure(err)
	}
	return d.Dispatch(ctx, req)
}

// Dispatch routes a decoded request.
func (d *Dispatcher) Dispatch(ctx context.Context, req models.Request) models.Response {
	start := time.Now()
	log := d.logger.With().
		Str("request_id", uuid.NewString()).
		Str("type", string(req.Type)).
		Logger()

	resp := d.route(ctx, req)

	ev := log.Debug()
	if resp.Failed() {
		ev = log.Warn().Str("error", resp.Error)
	}
	ev.Dur("latency", time.Since(start)).Msg("request handled")
	return resp
}

func (d *Dispatcher) route(ctx context.Context, req models.Request) models.Response {
	switch req.Type {
	case models.RequestTranslate:
		translation, err := d.translator.TranslateSingle(ctx, req.Text, req.TargetLanguage)
		if err != nil {
			return failure(err)
		}
		return models.Response{Translation: &translation}

	case models.RequestTranslateBatch:
		texts := req.Texts
		if texts == nil {
			texts = []string{}
		}
		translations, err := d.translator.TranslateBatch(ctx, texts, req.TargetLanguage)
		if err != nil {
			return failure(err)
		}
		if translations == nil {
			translations = []string{}
		}
		return models.Response{Translations: translations}

	case models.RequestSaveSettings:
		if err := d.saveSettings(ctx, req.Settings); err != nil {
			return failure(err)
		}
		return okResponse()

	case models.RequestGetSettings:
		s := d.settings.Get(ctx)
		return models.Response{Settings: &s}

	case models.RequestCacheStats:
		stats := d.cache.Stats()
		return models.Response{CacheStats: &stats}

	case models.RequestClearCache:
		if err := d.cache.Clear(ctx); err != nil {
			return failure(err)
		}
		return okResponse()

	default:
		return models.Response{Error: fmt.Sprintf("unknown request type %q", req.Type)}
	}
}

// saveSettings merges the partial record into the persisted one and stores
// the normalized result in a single write.
func (d *Dispatcher) saveSettings(ctx context.Context, patch json.RawMessage) error {
	if len(patch) == 0 {
		return fmt.Errorf("%w: settings missing", ErrInvalidRequest)
	}
	merged, err := d.settings.Merge(ctx, patch)
	if err != nil {
		return err
	}
	return d.settings.Save(ctx, merged.Normalize())
}

func failure(err error) models.Response {
	return models.Response{Error: err.Error(), Cause: err}
}

func okResponse() models.Response {
	ok := true
	return models.Response{OK: &ok}
}
