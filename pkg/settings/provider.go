// Package settings resolves the effective translation settings by merging
// compile-time defaults with whatever the user has persisted.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/llm-immersive/immersive/pkg/models"
	"github.com/llm-immersive/immersive/pkg/store"
)

// StorageKey is the key the persisted settings object lives under.
const StorageKey = "settings"

// Provider reads and writes settings in the synchronized store area.
// Nothing is cached: every Get reads the store.
type Provider struct {
	kv     store.KV
	logger zerolog.Logger
}

// New creates a Provider on kv.
func New(kv store.KV, logger zerolog.Logger) *Provider {
	return &Provider{kv: kv, logger: logger}
}

// Get returns defaults overridden field by field by the persisted record.
// It never fails: a missing or unreadable record yields defaults, and a
// field of the wrong type keeps its default.
func (p *Provider) Get(ctx context.Context) models.Settings {
	s := models.DefaultSettings()

	fields, err := p.readFields(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn().Err(err).Msg("settings unreadable, using defaults")
		}
		return s
	}
	return p.resolve(fields)
}

func (p *Provider) resolve(fields map[string]json.RawMessage) models.Settings {
	s := models.DefaultSettings()
	for name, raw := range fields {
		one, _ := json.Marshal(map[string]json.RawMessage{name: raw})
		candidate := s
		if err := json.Unmarshal(one, &candidate); err != nil {
			p.logger.Debug().Err(err).Str("field", name).Msg("ignoring persisted settings field")
			continue
		}
		s = candidate
	}
	return s
}

// Save persists the full settings record.
func (p *Provider) Save(ctx context.Context, s models.Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := p.kv.Set(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Reset removes the persisted record so Get returns the defaults.
func (p *Provider) Reset(ctx context.Context) error {
	if err := p.kv.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("reset settings: %w", err)
	}
	return nil
}

// Merge overlays the fields of a partial JSON object onto the persisted
// record and returns the resulting effective settings. Nothing is written;
// callers store the result with Save.
func (p *Provider) Merge(ctx context.Context, patch json.RawMessage) (models.Settings, error) {
	var update map[string]json.RawMessage
	if err := json.Unmarshal(patch, &update); err != nil {
		return models.Settings{}, fmt.Errorf("settings patch must be a JSON object: %w", err)
	}
	if update == nil {
		return models.Settings{}, fmt.Errorf("settings patch must be a JSON object")
	}

	fields, err := p.readFields(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn().Err(err).Msg("settings unreadable, merging onto defaults")
		}
		fields = make(map[string]json.RawMessage, len(update))
	}
	for name, raw := range update {
		fields[name] = raw
	}
	return p.resolve(fields), nil
}

func (p *Provider) readFields(ctx context.Context) (map[string]json.RawMessage, error) {
	data, err := p.kv.Get(ctx, StorageKey)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	return fields, nil
}
