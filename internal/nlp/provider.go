// Package nlp turns freeform text into validated transaction batches using
// remote structured generation, with tiered provider fallback and a
// clarification sub-protocol.
package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Message is one turn of an NLP conversation.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// FinishReason signals how the model ended its turn.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishContentFilter FinishReason = "content-filter"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishError         FinishReason = "error"
)

// Result is a raw structured-generation response.
type Result struct {
	Raw          json.RawMessage
	FinishReason FinishReason
}

// Provider is one model backend capable of schema-constrained generation.
type Provider interface {
	Name() string
	Generate(ctx context.Context, system string, messages []Message, schema json.RawMessage) (*Result, error)
}

// RateLimitError is returned on HTTP 429. ServerTime carries the server's
// Date header when available, for day-disablement expiry computation.
type RateLimitError struct {
	Provider   string
	ServerTime time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// AsRateLimit unwraps err as a RateLimitError, if it is one.
func AsRateLimit(err error) (*RateLimitError, bool) {
	rl, ok := err.(*RateLimitError)
	return rl, ok
}

func serverTime(resp *http.Response) time.Time {
	if t, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
		return t
	}
	return time.Time{}
}
