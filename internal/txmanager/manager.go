package txmanager

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/graphprotocol/indexer-agent/internal/eventual"
	"github.com/graphprotocol/indexer-agent/internal/ierrors"
	"github.com/graphprotocol/indexer-agent/internal/logger"
	txtypes "github.com/graphprotocol/indexer-agent/internal/types"
)

// Outcome is the result of Execute, per spec.md §4.4.
type Outcome string

const (
	OutcomePaused       Outcome = "paused"
	OutcomeUnauthorized Outcome = "unauthorized"
)

// Result wraps Execute's return: exactly one of Receipt or Outcome is
// set.
type Result struct {
	Receipt *types.Receipt
	Outcome Outcome
}

// Estimate is a caller-supplied gas estimate for the call about to be
// submitted.
type Estimate struct {
	GasLimit uint64
}

// SendFunc builds and signs a transaction for the given nonce and gas
// configuration (see BuildTransaction); the manager submits it as
// returned.
type SendFunc func(cfg txtypes.TransactionConfig) (*types.Transaction, error)

// Manager serializes transaction submission for a single wallet,
// enforcing the preconditions, gas-ceiling gate, and send/retry loop of
// spec.md §4.4.
type Manager struct {
	wallet  Wallet
	backend ChainBackend
	log     logger.Logger

	paused     *eventual.Eventual[bool]
	isOperator *eventual.Eventual[bool]

	gasIncreaseTimeout   time.Duration
	gasBump              int64 // millis fixed point, e.g. 1200
	baseFeePerGasMax      int64 // wei
	maxTransactionAttempts int // 0 or negative == unbounded

	mu sync.Mutex // one outstanding transaction per wallet, per spec.md §5
}

// New creates a Manager. paused and isOperator are refreshed elsewhere
// (every 60s, per spec.md §4.4) by a caller-owned goroutine; this
// manager only reads their latest published value.
func New(
	wallet Wallet,
	backend ChainBackend,
	paused *eventual.Eventual[bool],
	isOperator *eventual.Eventual[bool],
	gasIncreaseTimeout time.Duration,
	gasBump int64,
	baseFeePerGasMaxGwei int64,
	maxTransactionAttempts int,
	log logger.Logger,
) *Manager {
	return &Manager{
		wallet:                 wallet,
		backend:                backend,
		paused:                 paused,
		isOperator:             isOperator,
		gasIncreaseTimeout:     gasIncreaseTimeout,
		gasBump:                gasBump,
		baseFeePerGasMax:       baseFeePerGasGweiToWei(baseFeePerGasMaxGwei),
		maxTransactionAttempts: maxTransactionAttempts,
		log:                    log,
	}
}

func baseFeePerGasGweiToWei(gwei int64) int64 {
	return gwei * 1_000_000_000
}

// Execute checks preconditions, gates on the gas ceiling, then runs the
// send loop for a transaction built by send, per spec.md §4.4.
func (m *Manager) Execute(ctx context.Context, estimate Estimate, send SendFunc) (Result, error) {
	if paused, ok := m.paused.Latest(); ok && paused {
		return Result{Outcome: OutcomePaused}, nil
	}
	if isOperator, ok := m.isOperator.Latest(); ok && !isOperator {
		return Result{Outcome: OutcomeUnauthorized}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.gasCeilingGate(ctx, estimate.GasLimit)
	if err != nil {
		return Result{}, err
	}

	nonce, err := m.backend.PendingNonceAt(ctx, m.wallet.Address)
	if err != nil {
		return Result{}, ierrors.New("IE057", "failed to fetch nonce", err)
	}
	cfg.Nonce = nonce

	receipt, err := m.sendLoop(ctx, cfg, estimate, send)
	if err != nil {
		return Result{}, err
	}
	return Result{Receipt: receipt}, nil
}

// gasCeilingGate repeatedly fetches current fee data until baseFeePerGas
// is below baseFeePerGasMax, per spec.md §4.4.
func (m *Manager) gasCeilingGate(ctx context.Context, gasLimit uint64) (txtypes.TransactionConfig, error) {
	warned := false
	for {
		head, err := m.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return txtypes.TransactionConfig{}, ierrors.New("IE057", "failed to fetch head for fee data", err)
		}

		cfg := txtypes.TransactionConfig{
			GasLimit: ceilMul3over2(gasLimit),
			GasBump:  m.gasBump,
		}

		var baseFeePerGas int64

		if head.BaseFee != nil {
			maxFee, err := m.backend.SuggestGasPrice(ctx)
			if err != nil {
				return txtypes.TransactionConfig{}, ierrors.New("IE057", "failed to suggest gas price", err)
			}
			tip, err := m.backend.SuggestGasTipCap(ctx)
			if err != nil {
				return txtypes.TransactionConfig{}, ierrors.New("IE057", "failed to suggest gas tip", err)
			}
			cfg.Type = txtypes.TransactionTypeEIP1559
			cfg.MaxFeePerGas = maxFee
			cfg.MaxPriorityFeePerGas = tip
			baseFeePerGas = (maxFee.Int64() - tip.Int64()) / 2
		} else {
			gasPrice, err := m.backend.SuggestGasPrice(ctx)
			if err != nil {
				return txtypes.TransactionConfig{}, ierrors.New("IE057", "failed to suggest gas price", err)
			}
			cfg.Type = txtypes.TransactionTypeLegacy
			cfg.GasPrice = gasPrice
			baseFeePerGas = gasPrice.Int64()
		}

		if baseFeePerGas < m.baseFeePerGasMax {
			return cfg, nil
		}

		if !warned {
			m.log.Warningf("base fee %d exceeds ceiling %d, waiting", baseFeePerGas, m.baseFeePerGasMax)
			warned = true
		} else {
			m.log.Infof("base fee %d still exceeds ceiling %d, waiting", baseFeePerGas, m.baseFeePerGasMax)
		}

		select {
		case <-ctx.Done():
			return txtypes.TransactionConfig{}, ctx.Err()
		case <-time.After(30 * time.Second):
		}
	}
}

func ceilMul3over2(estimate uint64) uint64 {
	// ceil(estimate * 1.5)
	return (estimate*3 + 1) / 2
}

// sendLoop submits the transaction built by send and retries per the
// classification table in spec.md §4.4.
func (m *Manager) sendLoop(ctx context.Context, cfg txtypes.TransactionConfig, estimate Estimate, send SendFunc) (*types.Receipt, error) {
	var lastReceipt *types.Receipt
	var lastErr error

	for {
		tx, err := send(cfg)
		if err != nil {
			return nil, ierrors.New("IE057", "failed to build transaction", err)
		}

		if err := m.backend.SendTransaction(ctx, tx); err != nil {
			retry, bumped, giveUp := m.classifySubmitError(err, &cfg)
			if giveUp {
				return nil, retry
			}
			if bumped {
				lastErr = err
				cfg.Attempt++
				if m.attemptsExceeded(cfg.Attempt) {
					time.Sleep(30 * time.Second)
					return lastReceipt, lastErr
				}
				continue
			}
			return nil, err
		}

		receipt, err := m.waitForConfirmations(ctx, tx.Hash(), 3)
		if err != nil {
			lastErr = err
			if strings.Contains(err.Error(), "timeout exceeded") {
				cfg.BumpGas()
			}
			cfg.Attempt++
			if m.attemptsExceeded(cfg.Attempt) {
				time.Sleep(30 * time.Second)
				return lastReceipt, lastErr
			}
			continue
		}

		if receipt.Status == 0 {
			revertErr := m.classifyRevert(ctx, tx, receipt)
			if ie, ok := revertErr.(*ierrors.IndexerError); ok && ie.Code == "IE051" {
				return nil, revertErr
			}
			if ie, ok := revertErr.(*ierrors.IndexerError); ok && ie.Code == "IE050" {
				cfg.BumpGasLimit()
				cfg.Nonce++
				cfg.Attempt++
				if m.attemptsExceeded(cfg.Attempt) {
					time.Sleep(30 * time.Second)
					return lastReceipt, revertErr
				}
				continue
			}
			return nil, revertErr
		}

		lastReceipt = receipt
		return receipt, nil
	}
}

func (m *Manager) attemptsExceeded(attempt int) bool {
	if m.maxTransactionAttempts <= 0 {
		return false
	}
	return attempt >= m.maxTransactionAttempts
}

// classifySubmitError implements the submit-error classification table
// of spec.md §4.4. retry is non-nil only when giveUp is true (a fatal
// error to return to the caller).
func (m *Manager) classifySubmitError(err error, cfg *txtypes.TransactionConfig) (retry error, bumped bool, giveUp bool) {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "nonce has already been used"),
		strings.Contains(msg, "Transaction with the same hash was already imported"):
		time.Sleep(30 * time.Second)
		return ierrors.New("IE058", "transaction may already be on chain", err), false, true

	case strings.Contains(msg, "nonce is too low"):
		cfg.Nonce++
		return nil, true, false

	case strings.Contains(msg, "Try increasing the fee"),
		strings.Contains(msg, "gas price supplied is too low"),
		strings.Contains(msg, "timeout exceeded"):
		cfg.BumpGas()
		return nil, true, false

	default:
		return ierrors.New("IE057", "transaction submission failed", err), false, true
	}
}

// classifyRevert decodes a reverted transaction's reason by replaying
// the call, per spec.md §4.4: decode UTF-8 from the returned bytes at
// offset 138; "out of gas" -> IE050, empty/unparseable -> IE051, other
// -> IE057.
func (m *Manager) classifyRevert(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) error {
	callMsg := ethereum.CallMsg{To: tx.To(), Data: tx.Data()}
	result, err := m.backend.CallContract(ctx, callMsg, receipt.BlockNumber)
	if err != nil {
		result = []byte(err.Error())
	}

	reason := decodeRevertReason(result)
	switch {
	case strings.Contains(reason, "out of gas"):
		return ierrors.New("IE050", reason, nil)
	case reason == "":
		return ierrors.New("IE051", "revert reason unavailable", nil)
	default:
		return ierrors.New("IE057", reason, nil)
	}
}

// decodeRevertReason extracts a UTF-8 revert string from raw eth_call
// bytes at offset 138, per spec.md §4.4. Non-hex or too-short input
// yields an empty reason.
func decodeRevertReason(raw []byte) string {
	hexStr := strings.TrimPrefix(string(raw), "0x")
	decoded, err := hex.DecodeString(hexStr)
	if err != nil || len(decoded) <= 138 {
		return ""
	}
	reason := strings.TrimRight(string(decoded[138:]), "\x00")
	return strings.TrimSpace(reason)
}

func (m *Manager) waitForConfirmations(ctx context.Context, hash [32]byte, confirmations uint64) (*types.Receipt, error) {
	deadline := time.Now().Add(m.gasIncreaseTimeout)
	var receipt *types.Receipt

	for {
		r, err := m.backend.TransactionReceipt(ctx, hash)
		if err == nil && r != nil {
			receipt = r
			head, herr := m.backend.HeaderByNumber(ctx, nil)
			if herr == nil && head.Number.Uint64() >= receipt.BlockNumber.Uint64()+confirmations {
				return receipt, nil
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout exceeded waiting for confirmations")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}
