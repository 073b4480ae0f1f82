package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const gatewayTimeout = 15 * time.Second

// Gateway is an HTTP client for the chat gateway's capability API. One
// Gateway serves all channels; Channel binds it to a single destination.
type Gateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewGateway creates a client for the gateway at baseURL authenticated with
// the given bearer token.
func NewGateway(baseURL, token string) *Gateway {
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: gatewayTimeout},
	}
}

// Channel returns a Channel bound to the given gateway channel id.
func (g *Gateway) Channel(channelID string) Channel {
	return &gatewayChannel{gw: g, channelID: channelID}
}

type gatewayChannel struct {
	gw        *Gateway
	channelID string
}

// wireAttachment is the JSON form of an attachment (body base64-encoded).
type wireAttachment struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

type wireMessage struct {
	Content     string           `json:"content,omitempty"`
	Embeds      []Embed          `json:"embeds,omitempty"`
	Buttons     []Button         `json:"buttons,omitempty"`
	Attachments []wireAttachment `json:"attachments,omitempty"`
}

func toWire(msg Message) wireMessage {
	w := wireMessage{Content: msg.Content, Embeds: msg.Embeds, Buttons: msg.Buttons}
	for _, a := range msg.Attachments {
		w.Attachments = append(w.Attachments, wireAttachment{
			Name: a.Name,
			Body: base64.StdEncoding.EncodeToString(a.Body),
		})
	}
	return w
}

func (c *gatewayChannel) Send(ctx context.Context, msg Message) (MessageRef, error) {
	var out struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(c.channelID))
	if err := c.gw.do(ctx, http.MethodPost, path, toWire(msg), &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway returned no message id")
	}
	return MessageRef(out.ID), nil
}

func (c *gatewayChannel) Edit(ctx context.Context, ref MessageRef, msg Message) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", url.PathEscape(c.channelID), url.PathEscape(string(ref)))
	return c.gw.do(ctx, http.MethodPatch, path, toWire(msg), nil)
}

// IsTrusted reports whether the user holds the contributor role. When the
// gateway has no role configured it answers trusted for everyone; that
// decision belongs to the gateway, not here.
func (g *Gateway) IsTrusted(ctx context.Context, userID string) (bool, error) {
	var out struct {
		Trusted bool `json:"trusted"`
	}
	path := fmt.Sprintf("/users/%s/trusted", url.PathEscape(userID))
	if err := g.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return false, err
	}
	return out.Trusted, nil
}

// SearchUsers looks up users by display name.
func (g *Gateway) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var out struct {
		Users []User `json:"users"`
	}
	path := "/users/search?q=" + url.QueryEscape(query)
	if err := g.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// notFoundError is returned on HTTP 404, e.g. editing a deleted message.
type notFoundError struct {
	path string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("gateway: %s not found", e.path)
}

// IsNotFound reports whether err means the referenced gateway resource is
// gone. The renderer uses this to fall back to sending a fresh message.
func IsNotFound(err error) bool {
	_, ok := err.(*notFoundError)
	return ok
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &notFoundError{path: path}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
