package polymarket

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/crypto"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// collateralUnits scales share and USDC quantities to 6-decimal base units.
var collateralUnits = decimal.New(1, 6)

// maxSalt keeps salts inside the range a JSON number round-trips exactly.
const maxSalt = 1<<53 - 1

// OrderBuilder turns LegOrders into signed CLOB payloads. Orders are made by
// the funder (a Safe for signature type 2) and signed by the EOA key.
type OrderBuilder struct {
	signer        *crypto.Signer
	funder        string
	signatureType int
	feeRateBps    string
	salt          func() int64
}

// NewOrderBuilder returns a builder. An empty funder means the EOA itself
// makes the orders.
func NewOrderBuilder(signer *crypto.Signer, funder string, signatureType int, feeRateBps string) *OrderBuilder {
	if funder == "" {
		funder = signer.Address().Hex()
	}
	if feeRateBps == "" {
		feeRateBps = "0"
	}
	return &OrderBuilder{
		signer:        signer,
		funder:        funder,
		signatureType: signatureType,
		feeRateBps:    feeRateBps,
		salt:          randomSalt,
	}
}

func randomSalt() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint64(id[:8]) & maxSalt)
}

// Funder returns the maker address used on orders.
func (b *OrderBuilder) Funder() string { return b.funder }

// SignedOrder is the order object of the submit wire format.
type SignedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// OrderEnvelope is one element of a POST /orders body, or the whole
// POST /order body.
type OrderEnvelope struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
	DeferExec bool        `json:"deferExec"`
}

// Amounts returns the maker and taker amounts in base units. A buyer gives
// price*size collateral and takes size shares; a seller the reverse.
func Amounts(side domain.OrderSide, price, size decimal.Decimal) (maker, taker string, err error) {
	if !price.IsPositive() || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return "", "", fmt.Errorf("%w: price %s outside (0,1)", domain.ErrInvalidOrder, price)
	}
	if !size.IsPositive() {
		return "", "", fmt.Errorf("%w: size %s", domain.ErrInvalidOrder, size)
	}
	shares := size.Mul(collateralUnits).Truncate(0)
	notional := price.Mul(size).Mul(collateralUnits).Truncate(0)
	if !notional.IsPositive() {
		return "", "", fmt.Errorf("%w: notional rounds to zero", domain.ErrInvalidOrder)
	}
	switch side {
	case domain.OrderSideBuy:
		return notional.String(), shares.String(), nil
	case domain.OrderSideSell:
		return shares.String(), notional.String(), nil
	default:
		return "", "", fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, side)
	}
}

// Build signs order and wraps it for submission on behalf of owner (the API
// key).
func (b *OrderBuilder) Build(order domain.LegOrder, owner string) (OrderEnvelope, error) {
	if strings.TrimSpace(order.TokenID) == "" {
		return OrderEnvelope{}, fmt.Errorf("%w: empty token id", domain.ErrInvalidOrder)
	}
	maker, taker, err := Amounts(order.Side, order.Price, order.Size)
	if err != nil {
		return OrderEnvelope{}, err
	}
	side := 0
	if order.Side == domain.OrderSideSell {
		side = 1
	}
	salt := b.salt()
	payload := crypto.OrderPayload{
		Salt:          fmt.Sprintf("%d", salt),
		Maker:         b.funder,
		Signer:        b.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       order.TokenID,
		MakerAmount:   maker,
		TakerAmount:   taker,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    b.feeRateBps,
		Side:          side,
		SignatureType: b.signatureType,
	}
	sig, err := b.signer.SignOrder(payload, order.NegRisk)
	if err != nil {
		return OrderEnvelope{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	orderType := order.Type
	if orderType == "" {
		orderType = domain.OrderTypeFOK
	}
	return OrderEnvelope{
		Order: SignedOrder{
			Salt:          salt,
			Maker:         payload.Maker,
			Signer:        payload.Signer,
			Taker:         payload.Taker,
			TokenID:       payload.TokenID,
			MakerAmount:   maker,
			TakerAmount:   taker,
			Expiration:    payload.Expiration,
			Nonce:         payload.Nonce,
			FeeRateBps:    payload.FeeRateBps,
			Side:          string(order.Side),
			SignatureType: payload.SignatureType,
			Signature:     sig,
		},
		Owner:     owner,
		OrderType: string(orderType),
	}, nil
}
