package receipts

import (
	"context"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	. "github.com/onsi/gomega"

	"github.com/graphprotocol/indexer-agent/internal/eventual"
	"github.com/graphprotocol/indexer-agent/internal/logger"
	"github.com/graphprotocol/indexer-agent/internal/txmanager"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

type fakeExchangeBackend struct {
	callResult []byte
	receipt    *ethtypes.Receipt
}

func (f *fakeExchangeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeExchangeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeExchangeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{Number: big.NewInt(4)}, nil
}
func (f *fakeExchangeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 1, nil
}
func (f *fakeExchangeBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return nil
}
func (f *fakeExchangeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	return f.receipt, nil
}
func (f *fakeExchangeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.callResult, nil
}

func identitySigner(_ common.Address, tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
	return tx, nil
}

func TestExchange_AllocationsRedeemed_DecodesBoolResult(t *testing.T) {
	g := NewWithT(t)

	exchangeAddr := common.HexToAddress("0x1")
	parsedBackend := &fakeExchangeBackend{callResult: make([]byte, 32)}
	parsedBackend.callResult[31] = 1 // ABI-encoded `true`

	wallet := txmanager.Wallet{Address: common.HexToAddress("0x2"), Signer: bind.SignerFn(identitySigner)}
	manager := txmanager.New(wallet, parsedBackend, eventual.NewWithInitial(false), eventual.NewWithInitial(true), 5*time.Second, 1200, 1_000_000_000, 1, logger.New("test", "critical"))

	exchange, err := NewExchange(exchangeAddr, manager, wallet, parsedBackend)
	g.Expect(err).NotTo(HaveOccurred())

	redeemed, err := exchange.AllocationsRedeemed(context.Background(), common.HexToAddress("0x3"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(redeemed).To(BeTrue())
}

func TestExchange_Paused_DecodesBoolResult(t *testing.T) {
	g := NewWithT(t)

	exchangeAddr := common.HexToAddress("0x1")
	backend := &fakeExchangeBackend{callResult: make([]byte, 32)}

	wallet := txmanager.Wallet{Address: common.HexToAddress("0x2"), Signer: bind.SignerFn(identitySigner)}
	manager := txmanager.New(wallet, backend, eventual.NewWithInitial(false), eventual.NewWithInitial(true), 5*time.Second, 1200, 1_000_000_000, 1, logger.New("test", "critical"))

	exchange, err := NewExchange(exchangeAddr, manager, wallet, backend)
	g.Expect(err).NotTo(HaveOccurred())

	paused, err := exchange.Paused(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(paused).To(BeFalse())
}

func TestExchange_RedeemMany_SubmitsThroughTransactionManager(t *testing.T) {
	g := NewWithT(t)

	exchangeAddr := common.HexToAddress("0x1")
	backend := &fakeExchangeBackend{
		receipt: &ethtypes.Receipt{Status: 1, BlockNumber: big.NewInt(1), TxHash: common.HexToHash("0xaa")},
	}

	wallet := txmanager.Wallet{Address: common.HexToAddress("0x2"), Signer: bind.SignerFn(identitySigner)}
	manager := txmanager.New(wallet, backend, eventual.NewWithInitial(false), eventual.NewWithInitial(true), 5*time.Second, 1200, 1_000_000_000, 1, logger.New("test", "critical"))

	exchange, err := NewExchange(exchangeAddr, manager, wallet, backend)
	g.Expect(err).NotTo(HaveOccurred())

	err = exchange.RedeemMany(context.Background(), []types.Voucher{
		{Allocation: common.HexToAddress("0x3"), Amount: "1000", Signature: "0xaa"},
	})
	g.Expect(err).NotTo(HaveOccurred())
}

func TestExchange_RedeemMany_RejectsUnparseableAmount(t *testing.T) {
	g := NewWithT(t)

	exchangeAddr := common.HexToAddress("0x1")
	backend := &fakeExchangeBackend{}
	wallet := txmanager.Wallet{Address: common.HexToAddress("0x2"), Signer: bind.SignerFn(identitySigner)}
	manager := txmanager.New(wallet, backend, eventual.NewWithInitial(false), eventual.NewWithInitial(true), 5*time.Second, 1200, 1_000_000_000, 1, logger.New("test", "critical"))

	exchange, err := NewExchange(exchangeAddr, manager, wallet, backend)
	g.Expect(err).NotTo(HaveOccurred())

	err = exchange.RedeemMany(context.Background(), []types.Voucher{
		{Allocation: common.HexToAddress("0x3"), Amount: "not-a-number", Signature: "0xaa"},
	})
	g.Expect(err).To(HaveOccurred())
}
