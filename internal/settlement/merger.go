// Package settlement merges matched YES/NO pairs back into collateral
// through the funding Safe, and reads the balances and allowances trading
// depends on.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/polyarb/internal/crypto"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

// DefaultGasLimit is the gas sent with every execTransaction.
const DefaultGasLimit = 500000

// Backend is the chain access settlement needs. *ethclient.Client
// satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config identifies the Safe and tunes transaction submission.
type Config struct {
	Safe           common.Address
	ChainID        int64
	GasLimit       uint64
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	CallTimeout    time.Duration
}

// Merger is the on-chain settlement signer: it wraps mergePositions in a
// 1-of-1 Safe transaction signed by the EOA key and waits for the receipt.
type Merger struct {
	backend Backend
	signer  *crypto.Signer
	cfg     Config
	logger  *slog.Logger
}

// NewMerger creates a Merger. The signer's EOA must own the Safe.
func NewMerger(backend Backend, signer *crypto.Signer, cfg Config, logger *slog.Logger) *Merger {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultGasLimit
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 3 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 8 * time.Second
	}
	return &Merger{
		backend: backend,
		signer:  signer,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "merger")),
	}
}

// Ping checks the RPC endpoint answers and serves the configured chain.
func (m *Merger) Ping(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	id, err := m.backend.ChainID(callCtx)
	if err != nil {
		return domain.E(domain.KindStartup, "settlement: chain id", err)
	}
	if m.cfg.ChainID != 0 && id.Int64() != m.cfg.ChainID {
		return domain.E(domain.KindStartup, "settlement: chain id",
			fmt.Errorf("rpc serves chain %s, want %d", id, m.cfg.ChainID))
	}
	return nil
}

// Merge converts min(yes, no) (or req.Amount) of a matched pair back into
// collateral. Transport failures are errors; a zero balance or a reverted
// transaction is an unsuccessful result.
func (m *Merger) Merge(ctx context.Context, req domain.MergeRequest) (domain.MergeResult, error) {
	cond, err := parseConditionID(req.ConditionID)
	if err != nil {
		return domain.MergeResult{}, err
	}
	log := m.logger.With(slog.String("condition_id", req.ConditionID), slog.Bool("neg_risk", req.NegRisk))

	amount := req.Amount
	if amount == nil {
		yes, no, err := m.PositionBalances(ctx, req)
		if err != nil {
			return domain.MergeResult{}, err
		}
		log.InfoContext(ctx, "merge balances", slog.String("yes", yes.String()), slog.String("no", no.String()))
		amount = minBig(yes, no)
	}
	if amount.Sign() <= 0 {
		return domain.MergeResult{Success: false, Amount: amount, Reason: "no tokens to merge"}, nil
	}

	to, data, err := mergeCall(cond, amount, req.NegRisk)
	if err != nil {
		return domain.MergeResult{}, err
	}
	tx, err := m.execSafe(ctx, to, data)
	if err != nil {
		return domain.MergeResult{}, err
	}
	log.InfoContext(ctx, "merge submitted", slog.String("tx", tx.Hash().Hex()), slog.String("amount", amount.String()))

	receipt, err := m.waitMined(ctx, tx.Hash())
	if err != nil {
		return domain.MergeResult{TxHash: tx.Hash().Hex(), Amount: amount}, fmt.Errorf("settlement: wait receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.MergeResult{Success: false, TxHash: tx.Hash().Hex(), Amount: amount, Reason: "transaction reverted"}, nil
	}
	return domain.MergeResult{Success: true, TxHash: tx.Hash().Hex(), Amount: amount}, nil
}

// mergeCall encodes the merge for the conditional-tokens contract, or for
// the neg-risk adapter on neg-risk markets.
func mergeCall(cond common.Hash, amount *big.Int, negRisk bool) (common.Address, []byte, error) {
	if negRisk {
		data, err := negRiskAdapterABI.Pack("mergePositions", cond, amount)
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("settlement: pack adapter merge: %w", err)
		}
		return NegRiskAdapter, data, nil
	}
	partition := []*big.Int{big.NewInt(1), big.NewInt(2)}
	data, err := ctfABI.Pack("mergePositions", USDC, [32]byte{}, cond, partition, amount)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("settlement: pack merge: %w", err)
	}
	return ConditionalTokens, data, nil
}

// PositionBalances returns the Safe's balance of each outcome position.
func (m *Merger) PositionBalances(ctx context.Context, req domain.MergeRequest) (yes, no *big.Int, err error) {
	ids, err := m.positionIDs(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	balances := make([]*big.Int, 2)
	for i, id := range ids {
		out, err := m.call(ctx, ctfABI, ConditionalTokens, "balanceOf", m.cfg.Safe, id)
		if err != nil {
			return nil, nil, fmt.Errorf("settlement: position balance: %w", err)
		}
		balances[i] = out[0].(*big.Int)
	}
	return balances[0], balances[1], nil
}

func (m *Merger) positionIDs(ctx context.Context, req domain.MergeRequest) ([2]*big.Int, error) {
	var ids [2]*big.Int
	if req.TokenIDs[0] != "" && req.TokenIDs[1] != "" {
		for i, s := range req.TokenIDs {
			id, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return ids, fmt.Errorf("settlement: bad token id %q", s)
			}
			ids[i] = id
		}
		return ids, nil
	}
	cond, err := parseConditionID(req.ConditionID)
	if err != nil {
		return ids, err
	}
	for i, indexSet := range []int64{1, 2} {
		out, err := m.call(ctx, ctfABI, ConditionalTokens, "getCollectionId", [32]byte{}, cond, big.NewInt(indexSet))
		if err != nil {
			return ids, fmt.Errorf("settlement: collection id: %w", err)
		}
		collection := out[0].([32]byte)
		out, err = m.call(ctx, ctfABI, ConditionalTokens, "getPositionId", USDC, collection)
		if err != nil {
			return ids, fmt.Errorf("settlement: position id: %w", err)
		}
		ids[i] = out[0].(*big.Int)
	}
	return ids, nil
}

// execSafe wraps (to, data) in a Safe execTransaction signed by the owner
// key and broadcasts it from the EOA.
func (m *Merger) execSafe(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	out, err := m.call(ctx, safeABI, m.cfg.Safe, "nonce")
	if err != nil {
		return nil, fmt.Errorf("settlement: safe nonce: %w", err)
	}
	safeNonce := out[0].(*big.Int)

	zero := big.NewInt(0)
	out, err = m.call(ctx, safeABI, m.cfg.Safe, "getTransactionHash",
		to, zero, data, uint8(0), zero, zero, zero, common.Address{}, common.Address{}, safeNonce)
	if err != nil {
		return nil, fmt.Errorf("settlement: safe tx hash: %w", err)
	}
	safeHash := out[0].([32]byte)

	sig, err := m.signer.SignHash(safeHash[:])
	if err != nil {
		return nil, fmt.Errorf("settlement: %w: %v", domain.ErrSigningFailed, err)
	}
	execData, err := safeABI.Pack("execTransaction",
		to, zero, data, uint8(0), zero, zero, zero, common.Address{}, common.Address{}, sig)
	if err != nil {
		return nil, fmt.Errorf("settlement: pack exec: %w", err)
	}

	from := m.signer.Address()
	nonce, err := m.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("settlement: account nonce: %w", err)
	}
	gasPrice, err := m.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("settlement: gas price: %w", err)
	}
	safe := m.cfg.Safe
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      m.cfg.GasLimit,
		To:       &safe,
		Value:    zero,
		Data:     execData,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(m.cfg.ChainID)), m.signer.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("settlement: %w: %v", domain.ErrSigningFailed, err)
	}
	if err := m.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("settlement: send: %w", err)
	}
	return signed, nil
}

func (m *Merger) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := m.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			m.logger.DebugContext(ctx, "receipt poll failed", slog.String("tx", hash.Hex()), slog.String("error", err.Error()))
		}
		select {
		case <-waitCtx.Done():
			return nil, waitCtx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Merger) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	out, err := m.backend.CallContract(callCtx, ethereum.CallMsg{From: m.cfg.Safe, To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return vals, nil
}

func parseConditionID(raw string) (common.Hash, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(s) != 64 {
		return common.Hash{}, fmt.Errorf("settlement: condition id %q is not 32 bytes", raw)
	}
	if _, ok := new(big.Int).SetString(s, 16); !ok {
		return common.Hash{}, fmt.Errorf("settlement: condition id %q is not hex", raw)
	}
	return common.HexToHash(s), nil
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
