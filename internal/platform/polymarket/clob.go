package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/polyarb/internal/crypto"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. Book reads are public; order placement needs a builder
// and L2 credentials.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	builder    *OrderBuilder
	now        func() time.Time

	mu           sync.RWMutex
	creds        crypto.Credentials
	builderCreds crypto.Credentials
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com". signer
// and builder may be nil for a read-only client.
func NewClobClient(baseURL string, signer *crypto.Signer, builder *OrderBuilder) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		signer:  signer,
		builder: builder,
		now:     time.Now,
	}
}

// SetCredentials installs the L2 API credentials used for order requests.
func (c *ClobClient) SetCredentials(creds crypto.Credentials) {
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
}

// SetBuilderCredentials installs optional order-attribution credentials.
func (c *ClobClient) SetBuilderCredentials(creds crypto.Credentials) {
	c.mu.Lock()
	c.builderCreds = creds
	c.mu.Unlock()
}

func (c *ClobClient) credentials() (crypto.Credentials, crypto.Credentials) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds, c.builderCreds
}

// GetOrderBook fetches a fresh book for one token. Snapshots that do not
// parse are reported as transient.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBookSnapshot, error) {
	path := "/book?token_id=" + url.QueryEscape(tokenID)
	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book APIBook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return domain.OrderBookSnapshot{}, domain.E(domain.KindTransient, "polymarket/clob: decode book",
			fmt.Errorf("%w: %v", domain.ErrMalformedBook, err))
	}
	snap, err := book.ToDomainSnapshot(tokenID)
	if err != nil {
		return domain.OrderBookSnapshot{}, domain.E(domain.KindTransient, "polymarket/clob: parse book "+tokenID, err)
	}
	return snap, nil
}

// PlaceOrder signs and submits one order. A venue-side rejection comes back
// as an unfilled LegFill with ErrorMsg set, not as an error.
func (c *ClobClient) PlaceOrder(ctx context.Context, order domain.LegOrder) (domain.LegFill, error) {
	creds, _ := c.credentials()
	env, err := c.build(order, creds)
	if err != nil {
		return domain.LegFill{}, err
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", env)
	if err != nil {
		if domain.KindOf(err) == domain.KindRejected {
			return domain.LegFill{ErrorMsg: err.Error()}, nil
		}
		return domain.LegFill{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.LegFill{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return result.ToDomainFill(order.Side, json.RawMessage(respBody)), nil
}

// PlaceOrders signs all orders and submits them in one request. Results are
// returned in input order.
func (c *ClobClient) PlaceOrders(ctx context.Context, orders []domain.LegOrder) ([]domain.LegFill, error) {
	creds, _ := c.credentials()
	envs := make([]OrderEnvelope, 0, len(orders))
	for _, o := range orders {
		env, err := c.build(o, creds)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/orders", envs)
	if err != nil {
		if domain.KindOf(err) == domain.KindRejected {
			fills := make([]domain.LegFill, len(orders))
			for i := range fills {
				fills[i] = domain.LegFill{ErrorMsg: err.Error()}
			}
			return fills, nil
		}
		return nil, fmt.Errorf("polymarket/clob: post orders: %w", err)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(respBody, &raws); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode batch result: %w", err)
	}
	if len(raws) != len(orders) {
		return nil, fmt.Errorf("polymarket/clob: batch returned %d results for %d orders", len(raws), len(orders))
	}
	fills := make([]domain.LegFill, len(orders))
	for i, raw := range raws {
		var result APIOrderResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("polymarket/clob: decode batch result %d: %w", i, err)
		}
		fills[i] = result.ToDomainFill(orders[i].Side, raw)
	}
	return fills, nil
}

func (c *ClobClient) build(order domain.LegOrder, creds crypto.Credentials) (OrderEnvelope, error) {
	if c.builder == nil {
		return OrderEnvelope{}, fmt.Errorf("polymarket/clob: %w: client has no signing key", domain.ErrSigningFailed)
	}
	if creds.Empty() {
		return OrderEnvelope{}, fmt.Errorf("polymarket/clob: %w: no api credentials", domain.ErrUnauthorized)
	}
	env, err := c.builder.Build(order, creds.Key)
	if err != nil {
		return OrderEnvelope{}, fmt.Errorf("polymarket/clob: build order: %w", err)
	}
	return env, nil
}

// DeriveAPIKey obtains L2 credentials for the signing key. It tries to
// create a key first and falls back to deriving the existing one. The
// request is signed with a ClobAuth EIP-712 message in L1 headers.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (crypto.Credentials, error) {
	if c.signer == nil {
		return crypto.Credentials{}, domain.E(domain.KindStartup, "polymarket/clob: derive api key",
			fmt.Errorf("%w: no signing key", domain.ErrUnauthorized))
	}
	creds, err := c.authRequest(ctx, http.MethodPost, "/auth/api-key")
	if err == nil && !creds.Empty() {
		return creds, nil
	}
	creds, err = c.authRequest(ctx, http.MethodGet, "/auth/derive-api-key")
	if err != nil {
		return crypto.Credentials{}, domain.E(domain.KindStartup, "polymarket/clob: derive api key", err)
	}
	if creds.Empty() {
		return crypto.Credentials{}, domain.E(domain.KindStartup, "polymarket/clob: derive api key",
			fmt.Errorf("%w: empty credentials", domain.ErrUnauthorized))
	}
	return creds, nil
}

func (c *ClobClient) authRequest(ctx context.Context, method, path string) (crypto.Credentials, error) {
	address := c.signer.Address().Hex()
	timestamp := c.now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return crypto.Credentials{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	headers := map[string]string{
		"POLY_ADDRESS":   address,
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": strconv.FormatInt(timestamp, 10),
		"POLY_NONCE":     strconv.FormatInt(nonce, 10),
	}
	respBody, err := c.doRequest(ctx, method, path, nil, headers)
	if err != nil {
		return crypto.Credentials{}, err
	}

	var authResp APICredentials
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return crypto.Credentials{}, fmt.Errorf("decode auth response: %w", err)
	}
	return crypto.Credentials{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doAuthenticatedRequest marshals body, adds L2 (and builder) HMAC headers
// over the exact bytes sent, and returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = b
	}

	creds, builderCreds := c.credentials()
	ts := c.now().Unix()
	headers, err := creds.L2Headers(c.signer.Address().Hex(), method, path, payload, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	if !builderCreds.Empty() {
		bh, err := builderCreds.BuilderHeaders(method, path, payload, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
		}
		for k, v := range bh {
			headers[k] = v
		}
	}
	return c.doRequest(ctx, method, path, payload, headers)
}

func (c *ClobClient) doRequest(ctx context.Context, method, path string, payload []byte, headers map[string]string) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.E(domain.KindTransient, "http request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.E(domain.KindTransient, "read response", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors. Rate limits
// and server errors are transient; a 400 is a venue rejection.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 512 {
		bodyStr = bodyStr[:512]
	}
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return domain.E(domain.KindStartup, fmt.Sprintf("HTTP %d", statusCode),
			fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr))
	case statusCode == http.StatusTooManyRequests:
		return domain.E(domain.KindTransient, "HTTP 429", fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr))
	case statusCode >= 500:
		return domain.E(domain.KindTransient, fmt.Sprintf("HTTP %d", statusCode), errors.New(bodyStr))
	case statusCode == http.StatusBadRequest:
		return domain.E(domain.KindRejected, "HTTP 400", fmt.Errorf("%w: %s", domain.ErrInvalidOrder, bodyStr))
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
