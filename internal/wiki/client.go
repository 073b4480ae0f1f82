// Package wiki pulls the fleet status dataset from the community semantic
// wiki and caches it for inclusion in model context. The wiki is best
// effort: when it cannot be reached, consumers see "Unavailable" and carry
// on without it.
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

const askQuery = `[[Has unit identifier::+]]|?Has unit identifier|?Has unit status|limit=200`

// Client queries the wiki's semantic ask API.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient creates a Client for the wiki at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

type askResponse struct {
	Query struct {
		Results map[string]struct {
			Printouts struct {
				Identifier []json.Number `json:"Has unit identifier"`
				Status     []string      `json:"Has unit status"`
			} `json:"printouts"`
		} `json:"results"`
	} `json:"query"`
}

// Fetch returns unit id -> status for every unit the wiki knows about.
func (c *Client) Fetch(ctx context.Context) (map[string]string, error) {
	q := url.Values{}
	q.Set("action", "ask")
	q.Set("format", "json")
	q.Set("query", askQuery)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api.php?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building wiki request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying wiki: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wiki returned status %d", resp.StatusCode)
	}

	var body askResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding wiki response: %w", err)
	}
	statuses := make(map[string]string, len(body.Query.Results))
	for _, page := range body.Query.Results {
		if len(page.Printouts.Identifier) == 0 || len(page.Printouts.Status) == 0 {
			continue
		}
		statuses[page.Printouts.Identifier[0].String()] = page.Printouts.Status[0]
	}
	return statuses, nil
}

// Dataset caches the most recent successful fetch. A nil *Dataset formats
// as unavailable, so wiring the wiki in is optional.
type Dataset struct {
	client *Client
	log    *slog.Logger

	mu       sync.RWMutex
	statuses map[string]string
}

// NewDataset creates an empty Dataset backed by client.
func NewDataset(client *Client, log *slog.Logger) *Dataset {
	return &Dataset{client: client, log: log}
}

// Refresh re-fetches the dataset. On failure the previous data is kept.
func (d *Dataset) Refresh(ctx context.Context) {
	if d == nil {
		return
	}
	statuses, err := d.client.Fetch(ctx)
	if err != nil {
		d.log.Warn("wiki refresh failed", "error", err)
		return
	}
	d.mu.Lock()
	d.statuses = statuses
	d.mu.Unlock()
	d.log.Info("wiki dataset refreshed", "units", len(statuses))
}

// Format renders the dataset as a JSON object of unit id to status, sorted
// by unit id, or "Unavailable" when no fetch has succeeded yet.
func (d *Dataset) Format() string {
	if d == nil {
		return "Unavailable"
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.statuses) == 0 {
		return "Unavailable"
	}

	units := make([]string, 0, len(d.statuses))
	for unit := range d.statuses {
		units = append(units, unit)
	}
	sort.Strings(units)

	var b strings.Builder
	b.WriteString("{")
	for i, unit := range units {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: %q", unit, d.statuses[unit])
	}
	b.WriteString("}")
	return b.String()
}
