// Package rav implements the RAV (receipt aggregate voucher) redemption
// pipeline (C9): a 30s ticker running in parallel to C8's receipt
// pipeline, redeeming escrow-backed aggregated receipts one by one with
// reorg-aware finalization, per spec.md §4.7.
package rav

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/graphprotocol/indexer-agent/internal/db"
	"github.com/graphprotocol/indexer-agent/internal/ierrors"
	"github.com/graphprotocol/indexer-agent/internal/logger"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

// Store is the subset of *db.Bridge this pipeline needs.
type Store interface {
	UnredeemedFinalizedFalseRAVs(ctx context.Context, network string) ([]db.PendingRAV, error)
	UnredeemRAV(ctx context.Context, network string, allocation common.Address) error
	PromoteFinal(ctx context.Context, network string, allocation common.Address) error
	MarkRedeemed(ctx context.Context, network string, allocation common.Address, at time.Time, txHash common.Hash) error
	AddWithdrawnFeesForRAVs(ctx context.Context, network string, ravs []types.ReceiptAggregateVoucher) error
}

// AllocationSource recovers an allocation by address from the network
// subgraph (spec.md §4.7 step 2).
type AllocationSource interface {
	AllocationByID(ctx context.Context, id common.Address, protocolNetwork string) (types.Allocation, bool, error)
}

// TAPObserver reports whether a previously recorded redeem transaction
// is still visible in the TAP subgraph, for reorg compensation (spec.md
// §4.7 step 1).
type TAPObserver interface {
	RedeemTransactionObserved(ctx context.Context, allocation common.Address, txHash string) (bool, error)
}

// AllocationSigner signs a digest with one allocation's ephemeral key,
// derived out-of-band from the wallet mnemonic and the allocation ID
// (spec.md §8 "Signatures and proofs").
type AllocationSigner interface {
	SignDigest(ctx context.Context, allocationID common.Address, digest [32]byte) ([]byte, error)
}

// EscrowRedeemer submits escrow.redeem(signedRav, proof) through C6 and
// returns the confirmed transaction hash.
type EscrowRedeemer interface {
	Redeem(ctx context.Context, r db.PendingRAV, proof []byte) (common.Hash, error)
}

// Config bundles the thresholds and timing the redemption ticker needs,
// per spec.md §6 "Configuration".
type Config struct {
	RedemptionThreshold string // GRT wei, decimal string
	FinalityTime        time.Duration
	EscrowAddress       common.Address
}

// Pipeline is one protocol network's RAV redemption pipeline.
type Pipeline struct {
	network string
	store   Store
	allocs  AllocationSource
	tap     TAPObserver
	signer  AllocationSigner
	redeem  EscrowRedeemer
	cfg     Config
	log     logger.Logger

	sigStop chan struct{}
	wg      sync.WaitGroup
}

// New creates a Pipeline. Call Run to start its ticker.
func New(network string, store Store, allocs AllocationSource, tap TAPObserver, signer AllocationSigner, redeem EscrowRedeemer, cfg Config, log logger.Logger) *Pipeline {
	return &Pipeline{
		network: network,
		store:   store,
		allocs:  allocs,
		tap:     tap,
		signer:  signer,
		redeem:  redeem,
		cfg:     cfg,
		log:     log,
		sigStop: make(chan struct{}),
	}
}

// Run starts the 30s redemption ticker, modeled on the teacher's
// ticker/sigStop/WaitGroup service pattern.
func (p *Pipeline) Run(ctx context.Context) {
	p.wg.Add(1)
	go p.schedule(ctx)
}

// Stop signals the ticker to exit and waits for it.
func (p *Pipeline) Stop() {
	close(p.sigStop)
	p.wg.Wait()
}

func (p *Pipeline) schedule(ctx context.Context) {
	defer p.wg.Done()
	p.log.Notice("RAV redemption ticker is running")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.sigStop:
			p.log.Notice("RAV redemption ticker is closed")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				p.log.Errorf("%s", ierrors.New("IE055", "RAV redemption tick", err).Error())
			}
		}
	}
}

// tick implements spec.md §4.7 steps 1-5.
func (p *Pipeline) tick(ctx context.Context) error {
	ravs, err := p.store.UnredeemedFinalizedFalseRAVs(ctx, p.network)
	if err != nil {
		return err
	}

	var candidates []db.PendingRAV
	for _, r := range ravs {
		if r.RedeemedAt == nil {
			candidates = append(candidates, r)
			continue
		}
		if err := p.reconcileRedeemed(ctx, r); err != nil {
			p.log.Warningf("failed to reconcile redeemed RAV for allocation %s: %s", r.AllocationID.Hex(), err.Error())
		}
	}

	threshold, ok := new(big.Int).SetString(p.cfg.RedemptionThreshold, 10)
	if !ok {
		threshold = nil
	}

	var redeemed []types.ReceiptAggregateVoucher
	for _, r := range candidates {
		_, found, err := p.allocs.AllocationByID(ctx, r.AllocationID, p.network)
		if err != nil {
			p.log.Warningf("failed to join RAV allocation %s against the network subgraph: %s", r.AllocationID.Hex(), err.Error())
			continue
		}
		if !found {
			p.log.Warningf("dropping RAV for allocation %s: no matching allocation in the network subgraph", r.AllocationID.Hex())
			continue
		}

		if threshold != nil && r.ValueAggregate.Cmp(threshold) < 0 {
			p.log.Infof("RAV for allocation %s is below the redemption threshold, deferring", r.AllocationID.Hex())
			continue
		}

		if err := p.redeemOne(ctx, r); err != nil {
			p.log.Warningf("failed to redeem RAV for allocation %s: %s", r.AllocationID.Hex(), err.Error())
			continue
		}
		redeemed = append(redeemed, r.ReceiptAggregateVoucher)
	}

	if len(redeemed) == 0 {
		return nil
	}

	return p.store.AddWithdrawnFeesForRAVs(ctx, p.network, redeemed)
}

// reconcileRedeemed implements spec.md §4.7 step 1's reorg compensation
// and finality promotion for a RAV that already has a redeemedAt.
func (p *Pipeline) reconcileRedeemed(ctx context.Context, r db.PendingRAV) error {
	if r.RedeemTxHash == nil {
		return nil
	}

	observed, err := p.tap.RedeemTransactionObserved(ctx, r.AllocationID, *r.RedeemTxHash)
	if err != nil {
		return err
	}
	if !observed {
		return p.store.UnredeemRAV(ctx, p.network, r.AllocationID)
	}

	redeemedAt := time.Unix(*r.RedeemedAt, 0)
	if time.Since(redeemedAt) >= p.cfg.FinalityTime {
		return p.store.PromoteFinal(ctx, p.network, r.AllocationID)
	}
	return nil
}

// redeemOne implements spec.md §4.7 step 4-5 for a single RAV: compute
// the proof, submit through C6, record success.
func (p *Pipeline) redeemOne(ctx context.Context, r db.PendingRAV) error {
	digest, err := allocationIDProofDigest(r.Sender, r.AllocationID, p.cfg.EscrowAddress, p.network)
	if err != nil {
		return err
	}

	proof, err := p.signer.SignDigest(ctx, r.AllocationID, digest)
	if err != nil {
		return err
	}

	txHash, err := p.redeem.Redeem(ctx, r, proof)
	if err != nil {
		return err
	}

	return p.store.MarkRedeemed(ctx, p.network, r.AllocationID, time.Now(), txHash)
}

// allocationIDProofDigest computes keccak256(sender ∥ allocationId ∥
// escrowAddress ∥ chainId), the 20+20+20+32 byte concatenation signed by
// the allocation's ephemeral key, per spec.md §8.
func allocationIDProofDigest(sender, allocationID, escrowAddress common.Address, protocolNetwork string) ([32]byte, error) {
	chainID, err := chainIDFromProtocolNetwork(protocolNetwork)
	if err != nil {
		return [32]byte{}, err
	}

	buf := make([]byte, 0, 20+20+20+32)
	buf = append(buf, sender.Bytes()...)
	buf = append(buf, allocationID.Bytes()...)
	buf = append(buf, escrowAddress.Bytes()...)
	buf = append(buf, leftPad32(chainID)...)

	return [32]byte(crypto.Keccak256(buf)), nil
}

// chainIDFromProtocolNetwork extracts the decimal chain ID suffix of an
// "eip155:<chainId>" protocol network identifier, per spec.md §8.
func chainIDFromProtocolNetwork(protocolNetwork string) (uint64, error) {
	_, suffix, ok := strings.Cut(protocolNetwork, ":")
	if !ok {
		return 0, fmt.Errorf("protocol network %q is not an eip155:<chainId> identifier", protocolNetwork)
	}
	chainID, err := strconv.ParseUint(suffix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("protocol network %q has a non-numeric chain id: %w", protocolNetwork, err)
	}
	return chainID, nil
}

// leftPad32 big-endian left-pads a uint64 chain ID to 32 bytes.
func leftPad32(v uint64) []byte {
	out := make([]byte, 32)
	for i := 0; i < 8; i++ {
		out[31-i] = byte(v >> (8 * i))
	}
	return out
}
