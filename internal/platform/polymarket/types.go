package polymarket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// flexBool unmarshals from a JSON bool or a "true"/"false" string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexStrings unmarshals from a JSON array of strings or from a string that
// itself holds a JSON-encoded array. Gamma sends outcomes and clobTokenIds
// both ways.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*f = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return err
	}
	*f = list
	return nil
}

// --------------------------------------------------------------------------
// CLOB DTOs
// --------------------------------------------------------------------------

// APIPriceLevel is one level of a CLOB book.
type APIPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is the response of GET /book.
type APIBook struct {
	Market    string          `json:"market"`
	AssetID   string          `json:"asset_id"`
	Timestamp string          `json:"timestamp"` // unix millis
	Hash      string          `json:"hash"`
	Bids      []APIPriceLevel `json:"bids"`
	Asks      []APIPriceLevel `json:"asks"`
}

// APIOrderResult is the venue's answer for one submitted order, from either
// POST /order or one element of POST /orders.
type APIOrderResult struct {
	Success           bool     `json:"success"`
	ErrorMsg          string   `json:"errorMsg,omitempty"`
	OrderID           string   `json:"orderID,omitempty"`
	OrderIDAlt        string   `json:"orderId,omitempty"`
	Status            string   `json:"status,omitempty"`
	TransactionHashes []string `json:"transactionsHashes,omitempty"`
	TransactionHash   string   `json:"transactionHash,omitempty"`
	TakingAmount      string   `json:"takingAmount,omitempty"`
	MakingAmount      string   `json:"makingAmount,omitempty"`
}

// APICredentials is the response of the api-key endpoints.
type APICredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// --------------------------------------------------------------------------
// Gamma DTOs
// --------------------------------------------------------------------------

// APIMarket is a market as returned by Gamma, standalone or nested in an
// event.
type APIMarket struct {
	ID           string      `json:"id"`
	Question     string      `json:"question"`
	ConditionID  string      `json:"conditionId"`
	Slug         string      `json:"slug"`
	Active       flexBool    `json:"active"`
	Closed       flexBool    `json:"closed"`
	Outcomes     flexStrings `json:"outcomes"`
	ClobTokenIDs flexStrings `json:"clobTokenIds"`
	NegRisk      flexBool    `json:"negRisk"`
	EndDate      string      `json:"endDate"`
	EndDateISO   string      `json:"end_date_iso"`
	Volume       string      `json:"volume"`
}

// APIEvent groups markets under one title.
type APIEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Active  flexBool    `json:"active"`
	Closed  flexBool    `json:"closed"`
	Markets []APIMarket `json:"markets"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSSubscribe is the market channel subscription frame.
type WSSubscribe struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

// WSEvent is one market channel event. Older frames carry the asset at the
// top level; newer price_change frames carry a PriceChanges list.
type WSEvent struct {
	EventType    string          `json:"event_type"`
	AssetID      string          `json:"asset_id"`
	Market       string          `json:"market"`
	Side         string          `json:"side"`
	Price        string          `json:"price"`
	Size         string          `json:"size"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSPriceChange is one entry of a price_change frame.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
}

// --------------------------------------------------------------------------
// Conversions
// --------------------------------------------------------------------------

// ToDomainSnapshot converts a CLOB book. Levels that do not parse as
// decimals make the whole snapshot malformed.
func (b *APIBook) ToDomainSnapshot(tokenID string) (domain.OrderBookSnapshot, error) {
	asks, err := parseLevels(b.Asks)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	bids, err := parseLevels(b.Bids)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	if b.AssetID != "" {
		tokenID = b.AssetID
	}
	return domain.OrderBookSnapshot{
		TokenID:   tokenID,
		Asks:      asks,
		Bids:      bids,
		Hash:      b.Hash,
		Timestamp: parseMillis(b.Timestamp),
	}, nil
}

func parseLevels(in []APIPriceLevel) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		p, err := decimal.NewFromString(l.Price)
		if err != nil {
			return nil, domain.ErrMalformedBook
		}
		s, err := decimal.NewFromString(l.Size)
		if err != nil {
			return nil, domain.ErrMalformedBook
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out, nil
}

func parseMillis(s string) time.Time {
	ms, err := decimal.NewFromString(s)
	if err != nil || ms.IsZero() {
		return time.Time{}
	}
	return time.UnixMilli(ms.IntPart()).UTC()
}

// ToDomainFill converts an order result. side decides which amount holds the
// share quantity: shares are taken on a buy and given on a sell.
func (r *APIOrderResult) ToDomainFill(side domain.OrderSide, raw json.RawMessage) domain.LegFill {
	id := r.OrderID
	if id == "" {
		id = r.OrderIDAlt
	}
	hashes := r.TransactionHashes
	if len(hashes) == 0 && r.TransactionHash != "" {
		hashes = []string{r.TransactionHash}
	}
	shares := r.TakingAmount
	if side == domain.OrderSideSell {
		shares = r.MakingAmount
	}
	filled, err := decimal.NewFromString(strings.TrimSpace(shares))
	if err != nil {
		filled = decimal.Zero
	}
	return domain.LegFill{
		Success:    r.Success,
		OrderID:    id,
		Status:     domain.OrderStatus(strings.ToLower(r.Status)),
		ErrorMsg:   r.ErrorMsg,
		TxHashes:   hashes,
		FilledSize: filled,
		Raw:        raw,
	}
}

// Input converts a Gamma market into the loosely-typed shape NewMarket
// validates.
func (m *APIMarket) Input(coin, timeframe, eventSlug string) domain.MarketInput {
	end := m.EndDate
	if end == "" {
		end = m.EndDateISO
	}
	var endDate time.Time
	if t, err := time.Parse(time.RFC3339, end); err == nil {
		endDate = t.UTC()
	} else if t, err := time.Parse("2006-01-02", end); err == nil {
		endDate = t.UTC()
	}
	if eventSlug == "" {
		eventSlug = m.Slug
	}
	return domain.MarketInput{
		ID:          m.ID,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Slug:        m.Slug,
		EventSlug:   eventSlug,
		Outcomes:    m.Outcomes,
		TokenIDs:    m.ClobTokenIDs,
		NegRisk:     bool(m.NegRisk),
		Closed:      bool(m.Closed),
		Coin:        coin,
		Timeframe:   timeframe,
		EndDate:     endDate,
	}
}
