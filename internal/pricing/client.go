package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client fetches USD spot prices from a CoinGecko-compatible simple price
// API. All asset IDs are fetched in a single batched request so oracle load
// stays bounded by refresh frequency, not order count.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a price API client. Requests that exceed the timeout
// fail; callers treat that the same as an unavailable price.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchPrices returns the current USD price for each requested asset ID.
// Assets the provider does not know are absent from the result, not an
// error.
func (c *Client) FetchPrices(ctx context.Context, assetIDs []string) (map[string]float64, error) {
	if len(assetIDs) == 0 {
		return map[string]float64{}, nil
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd",
		c.baseURL, url.QueryEscape(strings.Join(assetIDs, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build price request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	prices := make(map[string]float64, len(payload))
	for assetID, currencies := range payload {
		if usd, ok := currencies["usd"]; ok {
			prices[assetID] = usd
		}
	}
	return prices, nil
}
