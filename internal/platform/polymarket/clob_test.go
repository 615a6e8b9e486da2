package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/crypto"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

const testKeyHex = "0xb71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

const testSafe = "0x1111111111111111111111111111111111111111"

func testSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	pk, err := crypto.LoadKey(crypto.KeySource{PrivateKey: testKeyHex})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	return crypto.NewSigner(pk, 137)
}

var testCreds = crypto.Credentials{
	Key:        "api-key",
	Secret:     "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
	Passphrase: "pass",
}

// recorder captures requests seen by a test server.
type recorder struct {
	mu       sync.Mutex
	requests []recorded
}

type recorded struct {
	method string
	path   string
	header http.Header
	body   []byte
}

func (r *recorder) add(req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, recorded{method: req.Method, path: req.URL.RequestURI(), header: req.Header.Clone(), body: body})
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.requests...)
}

func newTradingClient(t *testing.T, baseURL string) *ClobClient {
	t.Helper()
	signer := testSigner(t)
	c := NewClobClient(baseURL, signer, NewOrderBuilder(signer, testSafe, crypto.SignatureGnosisSafe, "0"))
	c.SetCredentials(testCreds)
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestGetOrderBook(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		io.WriteString(w, `{"asset_id":"tok","timestamp":"1700000000123","hash":"h1",
			"bids":[{"price":"0.40","size":"10"}],
			"asks":[{"price":"0.45","size":"12.5"},{"price":"0.46","size":"3"}]}`)
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, nil, nil)
	snap, err := c.GetOrderBook(context.Background(), "tok")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if got := rec.all()[0].path; got != "/book?token_id=tok" {
		t.Fatalf("path = %q", got)
	}
	if len(snap.Asks) != 2 || !snap.Asks[0].Size.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("asks = %+v", snap.Asks)
	}
	if snap.Hash != "h1" || snap.Timestamp.UnixMilli() != 1700000000123 {
		t.Fatalf("snapshot meta = %q %v", snap.Hash, snap.Timestamp)
	}
}

func TestGetOrderBookMalformedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"asks":[{"price":"abc","size":"1"}],"bids":[]}`)
	}))
	defer srv.Close()

	_, err := NewClobClient(srv.URL, nil, nil).GetOrderBook(context.Background(), "tok")
	if !errors.Is(err, domain.ErrMalformedBook) {
		t.Fatalf("err = %v, want ErrMalformedBook", err)
	}
	if !domain.IsTransient(err) {
		t.Fatalf("malformed book should be transient, kind = %v", domain.KindOf(err))
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   domain.Kind
		is     error
	}{
		{http.StatusTooManyRequests, domain.KindTransient, domain.ErrRateLimited},
		{http.StatusBadGateway, domain.KindTransient, nil},
		{http.StatusUnauthorized, domain.KindStartup, domain.ErrUnauthorized},
		{http.StatusBadRequest, domain.KindRejected, domain.ErrInvalidOrder},
		{http.StatusNotFound, domain.KindUnknown, domain.ErrNotFound},
	}
	for _, tc := range cases {
		err := checkHTTPStatus(tc.status, []byte("nope"))
		if got := domain.KindOf(err); got != tc.kind {
			t.Errorf("status %d: kind = %v, want %v", tc.status, got, tc.kind)
		}
		if tc.is != nil && !errors.Is(err, tc.is) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.is)
		}
	}
	if err := checkHTTPStatus(http.StatusOK, nil); err != nil {
		t.Fatalf("200 should pass, got %v", err)
	}
}

func TestPlaceOrdersBatch(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		io.WriteString(w, `[
			{"success":true,"orderID":"o1","status":"matched","transactionsHashes":["0xabc"],"takingAmount":"5","makingAmount":"2.25"},
			{"success":true,"errorMsg":"order couldn't be fully filled. FOK orders are fully filled or killed.","orderID":""}
		]`)
	}))
	defer srv.Close()

	c := newTradingClient(t, srv.URL)
	orders := []domain.LegOrder{
		{TokenID: "111", Side: domain.OrderSideBuy, Price: decimal.RequireFromString("0.45"), Size: decimal.NewFromInt(5), Type: domain.OrderTypeFOK},
		{TokenID: "222", Side: domain.OrderSideBuy, Price: decimal.RequireFromString("0.50"), Size: decimal.NewFromInt(5), Type: domain.OrderTypeFOK},
	}
	fills, err := c.PlaceOrders(context.Background(), orders)
	if err != nil {
		t.Fatalf("PlaceOrders: %v", err)
	}
	if !fills[0].Filled() || !fills[0].FilledSize.Equal(decimal.NewFromInt(5)) || fills[0].TxHashes[0] != "0xabc" {
		t.Fatalf("fill 0 = %+v", fills[0])
	}
	if fills[1].Filled() || fills[1].Resting() {
		t.Fatalf("killed FOK reported as filled: %+v", fills[1])
	}

	req := rec.all()[0]
	if req.method != http.MethodPost || req.path != "/orders" {
		t.Fatalf("request = %s %s", req.method, req.path)
	}
	for _, h := range []string{"POLY_ADDRESS", "POLY_API_KEY", "POLY_TIMESTAMP", "POLY_PASSPHRASE", "POLY_SIGNATURE"} {
		if req.header.Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
	wantSig, _ := crypto.SignRequest(testCreds.Secret, "1700000000", http.MethodPost, "/orders", req.body)
	if got := req.header.Get("POLY_SIGNATURE"); got != wantSig {
		t.Fatalf("signature %q does not cover the sent body (want %q)", got, wantSig)
	}

	var envs []OrderEnvelope
	if err := json.Unmarshal(req.body, &envs); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(envs) != 2 || envs[0].OrderType != "FOK" || envs[0].Owner != "api-key" {
		t.Fatalf("envelopes = %+v", envs)
	}
	if envs[0].Order.MakerAmount != "2250000" || envs[0].Order.TakerAmount != "5000000" || envs[0].Order.Side != "BUY" {
		t.Fatalf("order 0 = %+v", envs[0].Order)
	}
	if !strings.EqualFold(envs[0].Order.Maker, testSafe) {
		t.Fatalf("maker = %s, want safe", envs[0].Order.Maker)
	}
}

func TestPlaceOrderSellUsesMakingAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":true,"orderId":"o9","status":"matched","transactionHash":"0xdef","takingAmount":"0.05","makingAmount":"4.99"}`)
	}))
	defer srv.Close()

	fill, err := newTradingClient(t, srv.URL).PlaceOrder(context.Background(), domain.LegOrder{
		TokenID: "111", Side: domain.OrderSideSell, Price: decimal.RequireFromString("0.01"), Size: decimal.RequireFromString("4.99"), Type: domain.OrderTypeGTC,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if fill.OrderID != "o9" || !fill.FilledSize.Equal(decimal.RequireFromString("4.99")) || len(fill.TxHashes) != 1 {
		t.Fatalf("fill = %+v", fill)
	}
}

func TestPlaceOrderRejectionIsUnfilled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"not enough balance"}`)
	}))
	defer srv.Close()

	fill, err := newTradingClient(t, srv.URL).PlaceOrder(context.Background(), domain.LegOrder{
		TokenID: "111", Side: domain.OrderSideBuy, Price: decimal.RequireFromString("0.4"), Size: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("rejection should not be an error: %v", err)
	}
	if fill.Filled() || !strings.Contains(fill.ErrorMsg, "not enough balance") {
		t.Fatalf("fill = %+v", fill)
	}
}

func TestPlaceOrderWithoutCredentials(t *testing.T) {
	signer := testSigner(t)
	c := NewClobClient("http://127.0.0.1:0", signer, NewOrderBuilder(signer, "", crypto.SignatureEOA, ""))
	_, err := c.PlaceOrder(context.Background(), domain.LegOrder{
		TokenID: "1", Side: domain.OrderSideBuy, Price: decimal.RequireFromString("0.4"), Size: decimal.NewFromInt(5),
	})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestDeriveAPIKeyFallsBackToDerive(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		if r.URL.Path == "/auth/api-key" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"key exists"}`)
			return
		}
		io.WriteString(w, `{"apiKey":"k","secret":"s","passphrase":"p"}`)
	}))
	defer srv.Close()

	signer := testSigner(t)
	c := NewClobClient(srv.URL, signer, nil)
	creds, err := c.DeriveAPIKey(context.Background())
	if err != nil {
		t.Fatalf("DeriveAPIKey: %v", err)
	}
	if creds.Key != "k" || creds.Secret != "s" || creds.Passphrase != "p" {
		t.Fatalf("creds = %+v", creds)
	}
	reqs := rec.all()
	if len(reqs) != 2 || reqs[1].path != "/auth/derive-api-key" || reqs[1].method != http.MethodGet {
		t.Fatalf("requests = %+v", reqs)
	}
	if reqs[1].header.Get("POLY_ADDRESS") != signer.Address().Hex() || reqs[1].header.Get("POLY_NONCE") != "0" {
		t.Fatalf("L1 headers = %v", reqs[1].header)
	}
}

func TestDeriveAPIKeyFailureIsStartupKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClobClient(srv.URL, testSigner(t), nil).DeriveAPIKey(context.Background())
	if domain.KindOf(err) != domain.KindStartup {
		t.Fatalf("kind = %v, want startup (err %v)", domain.KindOf(err), err)
	}
}
