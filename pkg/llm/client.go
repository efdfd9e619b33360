// Package llm calls an OpenAI-compatible chat-completion endpoint to
// translate one text or a numbered batch of texts.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/llm-immersive/immersive/pkg/models"
)

// ErrEmptyResponse is returned when the model answers without content.
var ErrEmptyResponse = errors.New("LLM returned an empty response")

// RequestError is returned for a non-2xx answer from the endpoint.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Body)
}

// transportError wraps a failure to reach the endpoint or read its answer.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// IsUpstream reports whether err was caused by the translation endpoint
// rather than by local storage or the caller.
func IsUpstream(err error) bool {
	var reqErr *RequestError
	var tErr *transportError
	return errors.As(err, &reqErr) || errors.As(err, &tErr) || errors.Is(err, ErrEmptyResponse)
}

// Recorder receives one usage record per successful completion.
type Recorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// Client translates through the endpoint named by the settings passed to
// each call; it holds no per-provider state.
type Client struct {
	http     *resty.Client
	recorder Recorder
	logger   zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each request. Zero leaves the transport default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithRecorder reports usage of every successful call to r.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithLogger sets the logger used by the client and its transport.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
		c.http.SetLogger(restyLogger{l})
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		http:   resty.New().SetRetryCount(0),
		logger: zerolog.Nop(),
	}
	c.http.SetLogger(restyLogger{c.logger})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func systemPrompt(targetLanguage string) string {
	return fmt.Sprintf("You are a translation assistant. Translate all user content into %s. Keep code blocks and special formatting intact.", targetLanguage)
}

// TranslateOne translates text into targetLanguage and returns the trimmed result.
func (c *Client) TranslateOne(ctx context.Context, text, targetLanguage string, s models.Settings) (string, error) {
	content, err := c.complete(ctx, s, 1, []models.ChatMessage{
		{Role: "system", Content: systemPrompt(targetLanguage)},
		{Role: "user", Content: text},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// TranslateMany translates texts in one request. The result follows the
// model's answer: normally one entry per text in order, but its length is
// not enforced.
func (c *Client) TranslateMany(ctx context.Context, texts []string, targetLanguage string, s models.Settings) ([]string, error) {
	content, err := c.complete(ctx, s, len(texts), []models.ChatMessage{
		{Role: "system", Content: systemPrompt(targetLanguage) + " Return only valid JSON."},
		{Role: "user", Content: BatchPrompt(texts, targetLanguage)},
	})
	if err != nil {
		return nil, err
	}
	return ParseBatch(content, len(texts)), nil
}

// BatchPrompt numbers texts as "(1) text" lines under the instruction line.
func BatchPrompt(texts []string, targetLanguage string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate each of the following texts into %s. Respond with a JSON array of translated strings in the same order without any additional text.", targetLanguage)
	for i, text := range texts {
		fmt.Fprintf(&b, "\n(%d) %s", i+1, text)
	}
	return b.String()
}

// ParseBatch decodes a batch answer. A JSON array maps element by element
// (non-strings become ""); anything else is split into non-blank trimmed
// lines, at most n of them.
func ParseBatch(content string, n int) []string {
	var parsed any
	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		if items, ok := parsed.([]any); ok {
			out := make([]string, len(items))
			for i, item := range items {
				if s, ok := item.(string); ok {
					out[i] = strings.TrimSpace(s)
				}
			}
			return out
		}
	}

	out := make([]string, 0, n)
	for _, line := range strings.Split(content, "\n") {
		if len(out) == n {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Endpoint returns the chat-completion URL for baseURL.
func Endpoint(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/") + "/v1/chat/completions"
}

func (c *Client) complete(ctx context.Context, s models.Settings, items int, messages []models.ChatMessage) (string, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(models.ChatCompletionRequest{
			Model:       s.Model,
			Temperature: s.Temperature,
			Messages:    messages,
		})
	if s.APIKey != "" {
		req.SetHeader("Authorization", "Bearer "+s.APIKey)
	}

	start := time.Now()
	resp, err := req.Post(Endpoint(s.BaseURL))
	if err != nil {
		return "", &transportError{fmt.Errorf("send translation request: %w", err)}
	}
	if !resp.IsSuccess() {
		return "", &RequestError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	var chatResp models.ChatCompletionResponse
	if err := json.Unmarshal(resp.Body(), &chatResp); err != nil {
		return "", &transportError{fmt.Errorf("decode translation response: %w", err)}
	}
	content := chatResp.FirstContent()
	if content == "" {
		return "", ErrEmptyResponse
	}

	c.logger.Debug().
		Str("provider", string(s.ProviderType)).
		Str("model", s.Model).
		Int("items", items).
		Dur("latency", time.Since(start)).
		Msg("translation completed")
	c.record(ctx, s, items, chatResp.Usage)
	return content, nil
}

func (c *Client) record(ctx context.Context, s models.Settings, items int, usage *models.Usage) {
	if c.recorder == nil {
		return
	}
	rec := models.UsageRecord{
		Provider:  string(s.ProviderType),
		Model:     s.Model,
		Items:     items,
		CreatedAt: time.Now().UTC(),
	}
	if usage != nil {
		rec.PromptTokens = usage.PromptTokens
		rec.CompletionTokens = usage.CompletionTokens
		rec.TotalTokens = usage.TotalTokens
	}
	if err := c.recorder.Record(ctx, rec); err != nil {
		c.logger.Warn().Err(err).Msg("record usage")
	}
}

// restyLogger routes resty's diagnostics through zerolog.
type restyLogger struct{ l zerolog.Logger }

func (r restyLogger) Errorf(format string, v ...interface{}) { r.l.Error().Msgf(format, v...) }
func (r restyLogger) Warnf(format string, v ...interface{})  { r.l.Warn().Msgf(format, v...) }
func (r restyLogger) Debugf(format string, v ...interface{}) { r.l.Debug().Msgf(format, v...) }
