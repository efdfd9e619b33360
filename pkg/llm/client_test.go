package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-immersive/immersive/pkg/models"
)

func chatResponse(content string) models.ChatCompletionResponse {
	return models.ChatCompletionResponse{
		ID:    "chatcmpl-123",
		Model: "gpt-4",
		Choices: []models.Choice{
			{Index: 0, Message: models.ChatMessage{Role: "assistant", Content: content}, FinishReason: "stop"},
		},
		Usage: &models.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// fakeEndpoint records the last request and answers with respond.
type fakeEndpoint struct {
	mu      sync.Mutex
	path    string
	headers http.Header
	body    models.ChatCompletionRequest
	calls   int
}

func (f *fakeEndpoint) server(t *testing.T, respond func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls++
		f.path = r.URL.Path
		f.headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&f.body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		f.mu.Unlock()
		respond(w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func jsonReply(resp models.ChatCompletionResponse) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func testSettings(baseURL string) models.Settings {
	return models.Settings{
		ProviderType: models.ProviderOpenAI,
		APIKey:       "token",
		BaseURL:      baseURL,
		Model:        "gpt-4",
		Temperature:  0.5,
	}
}

func TestTranslateOne(t *testing.T) {
	var f fakeEndpoint
	srv := f.server(t, jsonReply(chatResponse("  Bonjour  ")))

	got, err := New().TranslateOne(context.Background(), "hello", "French", testSettings(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", got)

	assert.Equal(t, "/v1/chat/completions", f.path)
	assert.Equal(t, "Bearer token", f.headers.Get("Authorization"))
	assert.Contains(t, f.headers.Get("Content-Type"), "application/json")
	assert.Equal(t, "gpt-4", f.body.Model)
	assert.Equal(t, 0.5, f.body.Temperature)
	require.Len(t, f.body.Messages, 2)
	assert.Equal(t, "system", f.body.Messages[0].Role)
	assert.Contains(t, f.body.Messages[0].Content, "French")
	assert.Equal(t, models.ChatMessage{Role: "user", Content: "hello"}, f.body.Messages[1])
}

func TestTrailingSlashStripped(t *testing.T) {
	var f fakeEndpoint
	srv := f.server(t, jsonReply(chatResponse("ok")))

	_, err := New().TranslateOne(context.Background(), "x", "German", testSettings(srv.URL+"/"))
	require.NoError(t, err)
	assert.Equal(t, "/v1/chat/completions", f.path)
}

func TestNoAuthorizationWithoutKey(t *testing.T) {
	var f fakeEndpoint
	srv := f.server(t, jsonReply(chatResponse("ok")))

	s := testSettings(srv.URL)
	s.APIKey = ""
	_, err := New().TranslateOne(context.Background(), "x", "German", s)
	require.NoError(t, err)
	assert.Empty(t, f.headers.Get("Authorization"))
}

func TestRequestError(t *testing.T) {
	var f fakeEndpoint
	srv := f.server(t, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	})

	_, err := New().TranslateOne(context.Background(), "x", "German", testSettings(srv.URL))
	require.Error(t, err)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	assert.Equal(t, `{"error":"bad key"}`, reqErr.Body)
	assert.Equal(t, `request failed (401): {"error":"bad key"}`, err.Error())
}

func TestIsUpstream(t *testing.T) {
	_, err := New().TranslateOne(context.Background(), "x", "German", testSettings("http://127.0.0.1:1"))
	require.Error(t, err)
	assert.True(t, IsUpstream(err), "unreachable endpoint")

	assert.True(t, IsUpstream(&RequestError{StatusCode: 500}))
	assert.True(t, IsUpstream(fmt.Errorf("batch: %w", ErrEmptyResponse)))
	assert.False(t, IsUpstream(errors.New("save translation cache: disk full")))
	assert.False(t, IsUpstream(nil))
}

func TestEmptyResponse(t *testing.T) {
	for name, resp := range map[string]models.ChatCompletionResponse{
		"no choices":    {Choices: nil},
		"empty content": chatResponse(""),
	} {
		t.Run(name, func(t *testing.T) {
			var f fakeEndpoint
			srv := f.server(t, jsonReply(resp))

			_, err := New().TranslateOne(context.Background(), "x", "German", testSettings(srv.URL))
			assert.ErrorIs(t, err, ErrEmptyResponse)

			_, err = New().TranslateMany(context.Background(), []string{"x"}, "German", testSettings(srv.URL))
			assert.ErrorIs(t, err, ErrEmptyResponse)
		})
	}
}

func TestTranslateManyTrimsJSONArray(t *testing.T) {
	var f fakeEndpoint
	srv := f.server(t, jsonReply(chatResponse(`[" foo ", "bar "]`)))

	got, err := New().TranslateMany(context.Background(), []string{"one", "two"}, "German", testSettings(srv.URL+"/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"foo", "bar"}, got)

	require.Len(t, f.body.Messages, 2)
	assert.Contains(t, f.body.Messages[0].Content, "Return only valid JSON.")
	user := f.body.Messages[1].Content
	assert.Contains(t, user, "(1) one")
	assert.Contains(t, user, "(2) two")
	assert.Contains(t, user, "JSON array")
}

func TestBatchPrompt(t *testing.T) {
	got := BatchPrompt([]string{"world", "again"}, "French")
	assert.Equal(t,
		"Translate each of the following texts into French. Respond with a JSON array of translated strings in the same order without any additional text.\n(1) world\n(2) again",
		got)
}

func TestParseBatch(t *testing.T) {
	tests := []struct {
		name    string
		content string
		n       int
		want    []string
	}{
		{"json array", `["a","b"]`, 2, []string{"a", "b"}},
		{"non-string elements", `["a", 3, null, {"x":1}]`, 4, []string{"a", "", "", ""}},
		{"longer than input", `["a","b","c"]`, 2, []string{"a", "b", "c"}},
		{"shorter than input", `["a"]`, 3, []string{"a"}},
		{"fallback lines", "  first \n\n\n second\n third\n", 2, []string{"first", "second"}},
		{"fallback crlf", "one\r\n\r\ntwo", 2, []string{"one", "two"}},
		{"json object falls back", `{"a":1}`, 1, []string{`{"a":1}`}},
		{"fallback fewer lines", "only", 3, []string{"only"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseBatch(tt.content, tt.n))
		})
	}
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "https://api.example.com/v1/chat/completions", Endpoint("https://api.example.com"))
	assert.Equal(t, "https://api.example.com/v1/chat/completions", Endpoint("https://api.example.com/"))
}

type fakeRecorder struct {
	records []models.UsageRecord
}

func (f *fakeRecorder) Record(_ context.Context, rec models.UsageRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func TestRecorderReceivesUsage(t *testing.T) {
	var f fakeEndpoint
	srv := f.server(t, jsonReply(chatResponse(`["a","b"]`)))

	rec := &fakeRecorder{}
	_, err := New(WithRecorder(rec)).TranslateMany(context.Background(), []string{"x", "y"}, "German", testSettings(srv.URL))
	require.NoError(t, err)

	require.Len(t, rec.records, 1)
	assert.Equal(t, "openai", rec.records[0].Provider)
	assert.Equal(t, "gpt-4", rec.records[0].Model)
	assert.Equal(t, 2, rec.records[0].Items)
	assert.Equal(t, 15, rec.records[0].TotalTokens)
}

func TestRecorderSkippedOnFailure(t *testing.T) {
	var f fakeEndpoint
	srv := f.server(t, func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadGateway) })

	rec := &fakeRecorder{}
	_, err := New(WithRecorder(rec)).TranslateOne(context.Background(), "x", "German", testSettings(srv.URL))
	require.Error(t, err)
	assert.Empty(t, rec.records)
}
