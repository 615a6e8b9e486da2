package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market and event listings.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListActiveMarkets returns open markets ordered by volume, highest first.
func (g *GammaClient) ListActiveMarkets(ctx context.Context, limit int) ([]APIMarket, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("order", "volume")
	params.Set("ascending", "false")

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list markets: %w", err)
	}

	var markets []APIMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	return markets, nil
}

// EventQuery selects events by tag. Paginated uses the events/pagination
// endpoint, whose body wraps the list in a data field.
type EventQuery struct {
	TagSlug   string
	TagID     int
	Limit     int
	Paginated bool
}

// ListEvents returns open events matching q, with their markets.
func (g *GammaClient) ListEvents(ctx context.Context, q EventQuery) ([]APIEvent, error) {
	params := url.Values{}
	params.Set("closed", "false")
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.TagSlug != "" {
		params.Set("tag_slug", q.TagSlug)
	}
	if q.TagID != 0 {
		params.Set("tag_id", strconv.Itoa(q.TagID))
	}
	path := "/events"
	if q.Paginated {
		path = "/events/pagination"
		params.Set("active", "true")
		params.Set("archived", "false")
		params.Set("order", "volume24hr")
		params.Set("ascending", "false")
		params.Set("offset", "0")
	}

	body, err := g.doGet(ctx, path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list events: %w", err)
	}
	events, err := decodeEvents(body)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	return events, nil
}

// decodeEvents accepts a bare list or an object carrying the list under
// "data" or "events".
func decodeEvents(body []byte) ([]APIEvent, error) {
	var list []APIEvent
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Data   []APIEvent `json:"data"`
		Events []APIEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Data != nil {
		return wrapped.Data, nil
	}
	return wrapped.Events, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.E(domain.KindTransient, "http request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}
