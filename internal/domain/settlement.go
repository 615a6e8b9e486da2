package domain

import "math/big"

// MergeRequest asks the settlement signer to merge a matched pair back into
// collateral. A nil Amount merges min(yes balance, no balance). TokenIDs are
// the outcome position ids; when empty they are derived from the condition.
type MergeRequest struct {
	ConditionID string
	TokenIDs    [2]string
	NegRisk     bool
	Amount      *big.Int // collateral base units (6 decimals)
}

// MergeResult reports a merge attempt. A reverted transaction is
// Success=false with a nil error.
type MergeResult struct {
	Success bool
	TxHash  string
	Amount  *big.Int
	Reason  string
}
