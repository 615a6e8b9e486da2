package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecState is a state of the paired-order state machine.
type ExecState string

const (
	StateIdle                   ExecState = "idle"
	StateLegAPending            ExecState = "leg_a_pending"
	StateLegAFailed             ExecState = "leg_a_failed"
	StateLegAConfirmed          ExecState = "leg_a_confirmed"
	StateLegBPending            ExecState = "leg_b_pending"
	StateBothFilled             ExecState = "both_filled"
	StateNoneFilled             ExecState = "none_filled"
	StateLegBFailedWithALegOpen ExecState = "leg_b_failed_with_a_leg_open"
	StateUnwindInProgress       ExecState = "unwind_in_progress"
	StateUnwindSucceeded        ExecState = "unwind_succeeded"
	StateUnwindFailedFatal      ExecState = "unwind_failed_fatal"
)

// Terminal reports whether no further transition leaves s.
func (s ExecState) Terminal() bool {
	switch s {
	case StateBothFilled, StateNoneFilled, StateUnwindSucceeded, StateUnwindFailedFatal:
		return true
	}
	return false
}

// ExecutionOutcome tags an ExecutionResult.
type ExecutionOutcome string

const (
	OutcomeBothFilled   ExecutionOutcome = "both_filled"
	OutcomeOneLegFilled ExecutionOutcome = "one_leg_filled"
	OutcomeNoneFilled   ExecutionOutcome = "none_filled"
)

// Leg names one side of a paired order.
type Leg string

const (
	LegYes Leg = "yes"
	LegNo  Leg = "no"
)

// ExecutionResult is the tagged outcome of a paired order. Side and
// FilledSize are only meaningful for OutcomeOneLegFilled.
type ExecutionResult struct {
	Outcome    ExecutionOutcome `json:"outcome"`
	Side       Leg              `json:"side,omitempty"`
	FilledSize decimal.Decimal  `json:"filled_size"`
}

func BothFilled() ExecutionResult { return ExecutionResult{Outcome: OutcomeBothFilled} }

func NoneFilled() ExecutionResult { return ExecutionResult{Outcome: OutcomeNoneFilled} }

func OneLegFilled(side Leg, filled decimal.Decimal) ExecutionResult {
	return ExecutionResult{Outcome: OutcomeOneLegFilled, Side: side, FilledSize: filled}
}

// SettlementStatus tracks the merge that follows a BothFilled execution.
type SettlementStatus string

const (
	SettlementNone    SettlementStatus = "none"
	SettlementPending SettlementStatus = "pending"
	SettlementMerged  SettlementStatus = "merged"
	SettlementFailed  SettlementStatus = "failed"
	SettlementSkipped SettlementStatus = "skipped"
)

// ExecutionRecord is the durable account of one paired-order attempt. It
// carries enough context to reconstruct the financial exposure afterwards.
type ExecutionRecord struct {
	ID              string           `json:"id"`
	ConditionID     string           `json:"condition_id"`
	MarketID        string           `json:"market_id"`
	Question        string           `json:"question"`
	TokenYes        string           `json:"token_yes"`
	TokenNo         string           `json:"token_no"`
	NegRisk         bool             `json:"neg_risk"`
	RequestedShares decimal.Decimal  `json:"requested_shares"`
	PriceYes        decimal.Decimal  `json:"price_yes"`
	PriceNo         decimal.Decimal  `json:"price_no"`
	LimitYes        decimal.Decimal  `json:"limit_yes"`
	LimitNo         decimal.Decimal  `json:"limit_no"`
	Spread          decimal.Decimal  `json:"spread"`
	ExpectedProfit  decimal.Decimal  `json:"expected_profit"`
	Result          ExecutionResult  `json:"result"`
	States          []ExecState      `json:"states"`
	YesFill         LegFill          `json:"yes_fill"`
	NoFill          LegFill          `json:"no_fill"`
	UnwindTokenID   string           `json:"unwind_token_id"`
	UnwindSize      decimal.Decimal  `json:"unwind_size"`
	UnwindAttempts  int              `json:"unwind_attempts"`
	UnwindOrderID   string           `json:"unwind_order_id"`
	Settlement      SettlementStatus `json:"settlement"`
	SettlementTx    string           `json:"settlement_tx"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
}

// FinalState returns the last state the record reached.
func (r ExecutionRecord) FinalState() ExecState {
	if len(r.States) == 0 {
		return StateIdle
	}
	return r.States[len(r.States)-1]
}

// OpenRisk reports whether the record still represents an unhedged position.
func (r ExecutionRecord) OpenRisk() bool {
	return r.FinalState() == StateUnwindFailedFatal
}
