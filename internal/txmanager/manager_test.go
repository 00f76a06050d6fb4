package txmanager_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	. "github.com/onsi/gomega"

	"github.com/graphprotocol/indexer-agent/internal/eventual"
	"github.com/graphprotocol/indexer-agent/internal/logger"
	"github.com/graphprotocol/indexer-agent/internal/txmanager"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

type fakeBackend struct {
	baseFee     *big.Int
	nonce       uint64
	sendErr     error
	receipt     *ethtypes.Receipt
	blockNumber int64
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(100), nil }
func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return big.NewInt(2), nil }
func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{BaseFee: f.baseFee, Number: big.NewInt(f.blockNumber)}, nil
}
func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}
func (f *fakeBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return f.sendErr
}
func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	return f.receipt, nil
}
func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func testLogger() logger.Logger { return logger.New("test", "critical") }

func TestExecute_ReturnsPausedWhenNetworkPaused(t *testing.T) {
	g := NewWithT(t)

	paused := eventual.NewWithInitial(true)
	isOperator := eventual.NewWithInitial(true)
	backend := &fakeBackend{}

	m := txmanager.New(txmanager.Wallet{}, backend, paused, isOperator, 0, 1200, 1000, 1, testLogger())

	result, err := m.Execute(context.Background(), txmanager.Estimate{GasLimit: 100000}, func(cfg types.TransactionConfig) (*ethtypes.Transaction, error) {
		t.Fatal("send should not be called when paused")
		return nil, nil
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.Outcome).To(Equal(txmanager.OutcomePaused))
}

func TestExecute_ReturnsUnauthorizedWhenNotOperator(t *testing.T) {
	g := NewWithT(t)

	paused := eventual.NewWithInitial(false)
	isOperator := eventual.NewWithInitial(false)
	backend := &fakeBackend{}

	m := txmanager.New(txmanager.Wallet{}, backend, paused, isOperator, 0, 1200, 1000, 1, testLogger())

	result, err := m.Execute(context.Background(), txmanager.Estimate{GasLimit: 100000}, func(cfg types.TransactionConfig) (*ethtypes.Transaction, error) {
		t.Fatal("send should not be called when not operator")
		return nil, nil
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.Outcome).To(Equal(txmanager.OutcomeUnauthorized))
}

func TestExecute_SucceedsOnFirstConfirmedReceipt(t *testing.T) {
	g := NewWithT(t)

	paused := eventual.NewWithInitial(false)
	isOperator := eventual.NewWithInitial(true)

	successReceipt := &ethtypes.Receipt{Status: 1, BlockNumber: big.NewInt(10)}
	backend := &fakeBackend{
		baseFee:     big.NewInt(1),
		receipt:     successReceipt,
		blockNumber: 13,
	}

	m := txmanager.New(txmanager.Wallet{}, backend, paused, isOperator, 0, 1200, 1_000_000_000, 1, testLogger())

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: 0, Gas: 21000})
	result, err := m.Execute(context.Background(), txmanager.Estimate{GasLimit: 21000}, func(cfg types.TransactionConfig) (*ethtypes.Transaction, error) {
		return tx, nil
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.Receipt).NotTo(BeNil())
	g.Expect(result.Receipt.Status).To(Equal(uint64(1)))
}

func TestExecute_PropagatesSendErrorAsIE057(t *testing.T) {
	g := NewWithT(t)

	paused := eventual.NewWithInitial(false)
	isOperator := eventual.NewWithInitial(true)

	backend := &fakeBackend{
		baseFee: big.NewInt(1),
		sendErr: errors.New("unrelated RPC error"),
	}

	m := txmanager.New(txmanager.Wallet{}, backend, paused, isOperator, 0, 1200, 1_000_000_000, 1, testLogger())

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: 0, Gas: 21000})
	_, err := m.Execute(context.Background(), txmanager.Estimate{GasLimit: 21000}, func(cfg types.TransactionConfig) (*ethtypes.Transaction, error) {
		return tx, nil
	})
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("IE057"))
}
