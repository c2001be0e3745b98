// Package congress talks to the congress.gov API and site: bill discovery,
// and enrichment with full text plus status-tracker steps.
package congress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"billwatch/internal/config"
	"billwatch/internal/domain"
	"billwatch/internal/ports"
)

// Feed lists bills introduced on a given day via the congress.gov API.
type Feed struct {
	apiBaseURL string
	apiKey     string
	congress   int
	client     *http.Client
}

var _ ports.BillFeed = (*Feed)(nil)

// NewFeed builds the discovery client from configuration.
func NewFeed(cfg config.CongressConfig, client *http.Client) *Feed {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Feed{
		apiBaseURL: cfg.APIBaseURL,
		apiKey:     cfg.APIKey,
		congress:   cfg.Congress,
		client:     client,
	}
}

type billListResponse struct {
	Bills []struct {
		Type     string `json:"type"`
		Number   int    `json:"number,string"`
		Congress int    `json:"congress"`
	} `json:"bills"`
}

// DiscoverToday returns normalized ids for bills updated on the requested
// day. An empty slice is a valid transient answer.
func (f *Feed) DiscoverToday(ctx context.Context, day time.Time) ([]string, error) {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)

	endpoint, err := url.Parse(fmt.Sprintf("%s/bill/%d", f.apiBaseURL, f.congress))
	if err != nil {
		return nil, fmt.Errorf("build feed url: %w", err)
	}
	query := endpoint.Query()
	query.Set("fromDateTime", from.Format("2006-01-02T15:04:05Z"))
	query.Set("toDateTime", to.Format("2006-01-02T15:04:05Z"))
	query.Set("format", "json")
	query.Set("limit", "250")
	if f.apiKey != "" {
		query.Set("api_key", f.apiKey)
	}
	endpoint.RawQuery = query.Encode()

	var payload billListResponse
	if err := getJSON(ctx, f.client, endpoint.String(), &payload); err != nil {
		return nil, fmt.Errorf("discover bills: %w", err)
	}

	ids := make([]string, 0, len(payload.Bills))
	seen := map[string]struct{}{}
	for _, b := range payload.Bills {
		congress := b.Congress
		if congress == 0 {
			congress = f.congress
		}
		id := domain.NormalizeID(b.Type, b.Number, congress)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return ids, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", "billwatch/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("congress api returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
