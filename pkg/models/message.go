package models

import "encoding/json"

// RequestType identifies a message on the extension's request channel.
type RequestType string

const (
	RequestTranslate      RequestType = "translate"
	RequestTranslateBatch RequestType = "translateBatch"
	RequestSaveSettings   RequestType = "saveSettings"
	RequestGetSettings    RequestType = "getSettings"
	RequestCacheStats     RequestType = "cacheStats"
	RequestClearCache     RequestType = "clearCache"
)

// Request is an inbound message. Only the fields relevant to Type are read.
type Request struct {
	Type           RequestType     `json:"type"`
	Text           string          `json:"text,omitempty"`
	Texts          []string        `json:"texts,omitempty"`
	TargetLanguage string          `json:"targetLanguage,omitempty"`
	Settings       json.RawMessage `json:"settings,omitempty"`
}

// Response is the reply to a Request. Exactly one of the payload fields or
// Error is set.
type Response struct {
	Translation  *string     `json:"translation,omitempty"`
	Translations []string    `json:"translations,omitempty"`
	Settings     *Settings   `json:"settings,omitempty"`
	CacheStats   *CacheStats `json:"cacheStats,omitempty"`
	OK           *bool       `json:"ok,omitempty"`
	Error        string      `json:"error,omitempty"`

	// Cause is the error behind Error, kept for transports that classify it.
	Cause error `json:"-"`
}

// MarshalJSON keeps an empty, non-nil Translations slice on the wire so a
// batch of zero texts still answers with "translations": [].
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	out := struct {
		plain
		Translations *[]string `json:"translations,omitempty"`
	}{plain: plain(r)}
	if r.Translations != nil {
		out.Translations = &r.Translations
	}
	return json.Marshal(out)
}

// Failed reports whether the response carries an error.
func (r Response) Failed() bool {
	return r.Error != ""
}
