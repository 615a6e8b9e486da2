package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Token positions inside Market.TokenIDs and Market.Outcomes.
const (
	IndexYes = 0
	IndexNo  = 1
)

// Market is a validated two-outcome market. TokenIDs and Outcomes are always
// in canonical order: index 0 is the "yes/up" outcome, index 1 is "no/down".
// A Market is immutable once built by NewMarket.
type Market struct {
	ID          string
	ConditionID string
	Question    string
	Slug        string
	EventSlug   string
	Outcomes    [2]string
	TokenIDs    [2]string
	NegRisk     bool
	Coin        string // BTC, ETH, SOL, XRP or "BINARY"
	Timeframe   string // scan timeframe label, "ALL" for the binary scan
	EndDate     time.Time
}

// TokenYes returns the yes/up token id.
func (m Market) TokenYes() string { return m.TokenIDs[IndexYes] }

// TokenNo returns the no/down token id.
func (m Market) TokenNo() string { return m.TokenIDs[IndexNo] }

// HasToken reports whether tokenID is one of the market's outcome tokens.
func (m Market) HasToken(tokenID string) bool {
	return tokenID != "" && (m.TokenIDs[0] == tokenID || m.TokenIDs[1] == tokenID)
}

// MarketInput is the loosely-typed shape produced by the listings client
// before validation.
type MarketInput struct {
	ID          string
	ConditionID string
	Question    string
	Slug        string
	EventSlug   string
	Outcomes    []string
	TokenIDs    []string
	NegRisk     bool
	Closed      bool
	Coin        string
	Timeframe   string
	EndDate     time.Time
}

var conditionIDPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// NewMarket validates in and returns a Market with canonically ordered
// tokens. Records that cannot be traded are rejected with ErrMalformedMarket.
func NewMarket(in MarketInput) (Market, error) {
	if in.Closed {
		return Market{}, fmt.Errorf("%w: market %q is closed", ErrMalformedMarket, in.ID)
	}
	if !conditionIDPattern.MatchString(in.ConditionID) {
		return Market{}, fmt.Errorf("%w: bad condition id %q", ErrMalformedMarket, in.ConditionID)
	}
	if len(in.Outcomes) != 2 {
		return Market{}, fmt.Errorf("%w: %d outcomes", ErrMalformedMarket, len(in.Outcomes))
	}
	if len(in.TokenIDs) < 2 {
		return Market{}, fmt.Errorf("%w: %d token ids", ErrMalformedMarket, len(in.TokenIDs))
	}
	for _, t := range in.TokenIDs[:2] {
		if strings.TrimSpace(t) == "" {
			return Market{}, fmt.Errorf("%w: empty token id", ErrMalformedMarket)
		}
	}
	if in.TokenIDs[0] == in.TokenIDs[1] {
		return Market{}, fmt.Errorf("%w: duplicate token id %q", ErrMalformedMarket, in.TokenIDs[0])
	}

	yes, no := CanonicalOrder(in.Outcomes)
	coin := in.Coin
	if coin == "" {
		coin = "BINARY"
	}
	tf := in.Timeframe
	if tf == "" {
		tf = "ALL"
	}
	return Market{
		ID:          in.ID,
		ConditionID: strings.ToLower(in.ConditionID),
		Question:    in.Question,
		Slug:        in.Slug,
		EventSlug:   in.EventSlug,
		Outcomes:    [2]string{in.Outcomes[yes], in.Outcomes[no]},
		TokenIDs:    [2]string{in.TokenIDs[yes], in.TokenIDs[no]},
		NegRisk:     in.NegRisk,
		Coin:        coin,
		Timeframe:   tf,
		EndDate:     in.EndDate,
	}, nil
}

var (
	yesWords = map[string]bool{"yes": true, "up": true}
	noWords  = map[string]bool{"no": true, "down": true}
)

// CanonicalOrder returns the label indices of the yes/up and no/down
// outcomes. Labels are matched word-wise and case-insensitively; when the
// labels are ambiguous the positional order 0/1 is returned.
func CanonicalOrder(labels []string) (yes, no int) {
	yes, no = 0, 1
	for i, label := range labels {
		words := strings.Fields(strings.NewReplacer("(", " ", ")", " ").Replace(strings.ToLower(label)))
		hasYes, hasNo := false, false
		for _, w := range words {
			hasYes = hasYes || yesWords[w]
			hasNo = hasNo || noWords[w]
		}
		switch {
		case hasYes:
			yes = i
		case hasNo:
			no = i
		}
	}
	if yes == no {
		return 0, 1
	}
	return yes, no
}
