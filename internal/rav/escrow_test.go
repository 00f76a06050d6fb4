package rav

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

	"github.com/graphprotocol/indexer-agent/internal/db"
	"github.com/graphprotocol/indexer-agent/internal/eventual"
	"github.com/graphprotocol/indexer-agent/internal/logger"
	"github.com/graphprotocol/indexer-agent/internal/txmanager"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

type fakeEscrowBackend struct {
	receipt *ethtypes.Receipt
}

func (f *fakeEscrowBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeEscrowBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeEscrowBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{Number: big.NewInt(4)}, nil
}
func (f *fakeEscrowBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 1, nil
}
func (f *fakeEscrowBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return nil
}
func (f *fakeEscrowBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	return f.receipt, nil
}
func (f *fakeEscrowBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func identitySigner(_ common.Address, tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
	return tx, nil
}

func TestEscrow_Redeem_SubmitsThroughTransactionManagerAndReturnsTxHash(t *testing.T) {
	g := NewWithT(t)

	escrowAddr := common.HexToAddress("0x1")
	wantHash := common.HexToHash("0xbeef")
	backend := &fakeEscrowBackend{
		receipt: &ethtypes.Receipt{Status: 1, BlockNumber: big.NewInt(1), TxHash: wantHash},
	}

	wallet := txmanager.Wallet{Address: common.HexToAddress("0x2"), Signer: bind.SignerFn(identitySigner)}
	manager := txmanager.New(wallet, backend, eventual.NewWithInitial(false), eventual.NewWithInitial(true), 5*time.Second, 1200, 1_000_000_000, 1, logger.New("test", "critical"))

	escrow, err := NewEscrow(escrowAddr, manager, wallet)
	g.Expect(err).NotTo(HaveOccurred())

	pending := db.PendingRAV{
		ReceiptAggregateVoucher: types.ReceiptAggregateVoucher{
			AllocationID:   common.HexToAddress("0x3"),
			Sender:         common.HexToAddress("0x4"),
			ValueAggregate: big.NewInt(5000),
			Signature:      []byte{0x01, 0x02},
		},
	}

	txHash, err := escrow.Redeem(context.Background(), pending, []byte{0x0a, 0x0b})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(txHash).To(Equal(wantHash))
}

func TestEscrow_Redeem_SurfacesErrorWhenPausedOrUnauthorized(t *testing.T) {
	g := NewWithT(t)

	escrowAddr := common.HexToAddress("0x1")
	backend := &fakeEscrowBackend{}

	wallet := txmanager.Wallet{Address: common.HexToAddress("0x2"), Signer: bind.SignerFn(identitySigner)}
	manager := txmanager.New(wallet, backend, eventual.NewWithInitial(true), eventual.NewWithInitial(true), 5*time.Second, 1200, 1_000_000_000, 1, logger.New("test", "critical"))

	escrow, err := NewEscrow(escrowAddr, manager, wallet)
	g.Expect(err).NotTo(HaveOccurred())

	pending := db.PendingRAV{
		ReceiptAggregateVoucher: types.ReceiptAggregateVoucher{
			AllocationID:   common.HexToAddress("0x3"),
			Sender:         common.HexToAddress("0x4"),
			ValueAggregate: big.NewInt(5000),
			Signature:      []byte{0x01, 0x02},
		},
	}

	_, err = escrow.Redeem(context.Background(), pending, []byte{0x0a, 0x0b})
	g.Expect(err).To(HaveOccurred())
}
