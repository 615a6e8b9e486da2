package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/crypto"
)

// USDCDecimals is the collateral token's precision.
const USDCDecimals = 6

// LowAllowance is the USDC allowance below which startup warns.
var LowAllowance = big.NewInt(1000 * 1_000_000)

// USDCBalance returns the Safe's collateral balance in whole USDC.
func (m *Merger) USDCBalance(ctx context.Context) (decimal.Decimal, error) {
	out, err := m.call(ctx, erc20ABI, USDC, "balanceOf", m.cfg.Safe)
	if err != nil {
		return decimal.Zero, fmt.Errorf("settlement: usdc balance: %w", err)
	}
	return decimal.NewFromBigInt(out[0].(*big.Int), -USDCDecimals), nil
}

// Allowance is one spender permission the exchange needs from the Safe.
type Allowance struct {
	Token   string
	Spender common.Address
	// Amount is set for the USDC allowance; Approved for the ERC-1155
	// operator approval.
	Amount   *big.Int
	Approved bool
	Low      bool
}

// spenders are the contracts that move the Safe's funds when orders match
// or positions merge.
var spenders = []common.Address{crypto.CTFExchange, crypto.NegRiskCTFExchange, NegRiskAdapter}

// CheckAllowances reads the USDC allowance and the conditional-token
// operator approval of every spender.
func (m *Merger) CheckAllowances(ctx context.Context) ([]Allowance, error) {
	out := make([]Allowance, 0, 2*len(spenders))
	for _, sp := range spenders {
		vals, err := m.call(ctx, erc20ABI, USDC, "allowance", m.cfg.Safe, sp)
		if err != nil {
			return nil, fmt.Errorf("settlement: usdc allowance %s: %w", sp.Hex(), err)
		}
		amt := vals[0].(*big.Int)
		out = append(out, Allowance{Token: "USDC", Spender: sp, Amount: amt, Approved: amt.Sign() > 0, Low: amt.Cmp(LowAllowance) < 0})
	}
	for _, sp := range spenders {
		vals, err := m.call(ctx, ctfABI, ConditionalTokens, "isApprovedForAll", m.cfg.Safe, sp)
		if err != nil {
			return nil, fmt.Errorf("settlement: ctf approval %s: %w", sp.Hex(), err)
		}
		ok := vals[0].(bool)
		out = append(out, Allowance{Token: "CTF", Spender: sp, Approved: ok, Low: !ok})
	}
	return out, nil
}
