package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const generateTimeout = 120 * time.Second

// openAIProvider speaks the OpenAI-compatible chat-completions protocol with
// a JSON-schema response format. Groq and OpenRouter both use this shape.
type openAIProvider struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	extra      map[string]any // provider-specific request fields
	httpClient *http.Client
}

// NewOpenAICompatible creates a provider for an OpenAI-style endpoint. extra
// fields are merged into the request body (e.g. Groq's reasoning_effort).
func NewOpenAICompatible(name, baseURL, apiKey, model string, extra map[string]any) Provider {
	return &openAIProvider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		extra:      extra,
		httpClient: &http.Client{Timeout: generateTimeout},
	}
}

func (p *openAIProvider) Name() string { return p.name }

type openAIChoice struct {
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Content string `json:"content"`
	} `json:"message"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
}

func (p *openAIProvider) Generate(ctx context.Context, system string, messages []Message, schema json.RawMessage) (*Result, error) {
	reqMessages := make([]map[string]string, 0, len(messages)+1)
	if system != "" {
		reqMessages = append(reqMessages, map[string]string{"role": "system", "content": system})
	}
	for _, m := range messages {
		reqMessages = append(reqMessages, map[string]string{"role": m.Role, "content": m.Content})
	}

	body := map[string]any{
		"model":       p.model,
		"messages":    reqMessages,
		"temperature": 0,
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "response",
				"strict": true,
				"schema": schema,
			},
		},
	}
	for k, v := range p.extra {
		body[k] = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Provider: p.name, ServerTime: serverTime(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: unexpected status %d: %s", p.name, resp.StatusCode, string(respBody))
	}

	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%s: response contained no choices", p.name)
	}

	choice := out.Choices[0]
	return &Result{
		Raw:          json.RawMessage(choice.Message.Content),
		FinishReason: mapOpenAIFinish(choice.FinishReason),
	}, nil
}

func mapOpenAIFinish(reason string) FinishReason {
	switch reason {
	case "stop", "":
		return FinishStop
	case "content_filter":
		return FinishContentFilter
	case "tool_calls", "function_call":
		return FinishToolCalls
	default:
		return FinishError
	}
}
