package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// geminiProvider speaks the Google generative-language API with a JSON
// response schema.
type geminiProvider struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewGemini creates a provider for the given Gemini model.
func NewGemini(name, apiKey, model string) Provider {
	return newGeminiWithBaseURL(name, defaultGeminiBaseURL, apiKey, model)
}

func newGeminiWithBaseURL(name, baseURL, apiKey, model string) Provider {
	return &geminiProvider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: generateTimeout},
	}
}

func (p *geminiProvider) Name() string { return p.name }

type geminiContent struct {
	Role  string `json:"role,omitempty"`
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

type geminiResponse struct {
	Candidates []struct {
		FinishReason string        `json:"finishReason"`
		Content      geminiContent `json:"content"`
	} `json:"candidates"`
}

func textContent(role, text string) geminiContent {
	c := geminiContent{Role: role}
	c.Parts = append(c.Parts, struct {
		Text string `json:"text"`
	}{Text: text})
	return c
}

func (p *geminiProvider) Generate(ctx context.Context, system string, messages []Message, schema json.RawMessage) (*Result, error) {
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, textContent(role, m.Content))
	}

	body := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"temperature":        0,
			"responseMimeType":   "application/json",
			"responseJsonSchema": schema,
		},
	}
	if system != "" {
		body["systemInstruction"] = textContent("", system)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(p.model), url.QueryEscape(p.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return nil, fmt.Errorf("%s: response contained no candidates", p.name)
	}

	cand := out.Candidates[0]
	var text string
	if len(cand.Content.Parts) > 0 {
		text = cand.Content.Parts[0].Text
	}
	return &Result{
		Raw:          json.RawMessage(text),
		FinishReason: mapGeminiFinish(cand.FinishReason),
	}, nil
}

func mapGeminiFinish(reason string) FinishReason {
	switch reason {
	case "STOP", "":
		return FinishStop
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return FinishContentFilter
	default:
		return FinishError
	}
}
