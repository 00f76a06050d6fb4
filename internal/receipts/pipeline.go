package receipts

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/graphprotocol/indexer-agent/internal/ierrors"
	"github.com/graphprotocol/indexer-agent/internal/logger"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

// Store is the subset of *db.Bridge this pipeline needs.
type Store interface {
	RememberAllocations(ctx context.Context, actionID string, network string, ids []common.Address) error
	CollectReceipts(ctx context.Context, network string, allocation common.Address, now time.Time) ([]types.AllocationReceipt, bool, error)
	DeleteReceiptsAndRecordVoucher(ctx context.Context, network string, allocation common.Address, receiptIDs []string, voucher types.Voucher) error
	PendingSummariesWithClosedAt(ctx context.Context, network string) ([]types.AllocationSummary, error)
	ReceiptsForAllocation(ctx context.Context, network string, allocation common.Address) ([]types.AllocationReceipt, error)
	PendingVouchers(ctx context.Context, network string, limit int) ([]types.Voucher, error)
	DeleteVoucher(ctx context.Context, network string, allocation common.Address) error
	AddWithdrawnFeesAndDeleteVouchers(ctx context.Context, network string, vouchers []types.Voucher) error
}

// ExchangeRedeemer submits a batch of vouchers on chain through C6.
type ExchangeRedeemer interface {
	RedeemMany(ctx context.Context, vouchers []types.Voucher) error
}

// AlreadyRedeemedChecker reports whether the exchange contract already
// considers an allocation's voucher redeemed (spec.md §4.6 step 2).
type AlreadyRedeemedChecker interface {
	AllocationsRedeemed(ctx context.Context, allocation common.Address) (bool, error)
}

// Pipeline is one protocol network's receipt->voucher pipeline (C8):
// owns the timeout heap and the two background tickers (sweep every
// 10s, redeem every 30s), modeled on the teacher's txFlowUpdater
// ticker/sigStop/WaitGroup service pattern.
type Pipeline struct {
	network string
	store   Store
	gateway *Gateway
	redeem  ExchangeRedeemer
	checker AlreadyRedeemedChecker
	log     logger.Logger

	redemptionThreshold *int64Threshold
	batchThreshold      *int64Threshold
	maxBatchSize        int

	mu   sync.Mutex
	heap *batchHeap

	sigStop chan struct{}
	wg      sync.WaitGroup
}

// int64Threshold holds a GRT-wei threshold as a big-decimal string,
// parsed by sumThresholdOrZero (redeemer.go); kept as a thin wrapper so zero-value
// Pipeline construction doesn't panic on a nil *big.Int.
type int64Threshold struct {
	wei string
}

// NewThreshold wraps a GRT-wei decimal string threshold.
func NewThreshold(wei string) *int64Threshold { return &int64Threshold{wei: wei} }

// Config bundles the collector thresholds consumed by the redemption
// ticker, per spec.md §6 "Configuration".
type Config struct {
	RedemptionThreshold *int64Threshold
	BatchThreshold      *int64Threshold
	MaxBatchSize        int
}

// NewPipeline creates a Pipeline. Call Run to start its background
// tickers.
func NewPipeline(network string, store Store, gateway *Gateway, redeem ExchangeRedeemer, checker AlreadyRedeemedChecker, cfg Config, log logger.Logger) *Pipeline {
	return &Pipeline{
		network:             network,
		store:               store,
		gateway:             gateway,
		redeem:              redeem,
		checker:             checker,
		log:                 log,
		redemptionThreshold: cfg.RedemptionThreshold,
		batchThreshold:      cfg.BatchThreshold,
		maxBatchSize:        cfg.MaxBatchSize,
		heap:                newBatchHeap(),
		sigStop:             make(chan struct{}),
	}
}

// Run starts the sweep and redemption tickers and loads any
// restart-recovery batches, per spec.md §4.6.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.queuePendingReceiptsFromDatabase(ctx); err != nil {
		return err
	}

	p.wg.Add(2)
	go p.runSweepTicker(ctx)
	go p.runRedemptionTicker(ctx)
	return nil
}

// Stop signals both tickers to exit and waits for them.
func (p *Pipeline) Stop() {
	close(p.sigStop)
	p.wg.Wait()
}

// RememberAllocations implements spec.md §4.6 rememberAllocations.
func (p *Pipeline) RememberAllocations(ctx context.Context, actionID string, ids []common.Address) error {
	if err := p.store.RememberAllocations(ctx, actionID, p.network, ids); err != nil {
		return ierrors.New("IE056", actionID, err)
	}
	return nil
}

// CollectReceipts implements spec.md §4.6 collectReceipts.
func (p *Pipeline) CollectReceipts(ctx context.Context, actionID string, allocation common.Address) error {
	now := time.Now()
	receiptList, found, err := p.store.CollectReceipts(ctx, p.network, allocation, now)
	if err != nil {
		return ierrors.New("IE053", actionID, err)
	}
	if !found {
		return nil
	}

	batch := types.AllocationReceiptsBatch{
		Allocation: allocation,
		Receipts:   receiptList,
		Timeout:    now.UnixMilli() + types.ReceiptCollectDelayMillis,
	}

	p.mu.Lock()
	p.heap.Push(batch)
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) runSweepTicker(ctx context.Context) {
	defer p.wg.Done()
	p.log.Notice("receipt sweep ticker is running")

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.sigStop:
			p.log.Notice("receipt sweep ticker is closed")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Pipeline) sweep(ctx context.Context) {
	now := time.Now().UnixMilli()
	for {
		p.mu.Lock()
		due := p.heap.PeekDue(now)
		var batch types.AllocationReceiptsBatch
		if due {
			batch = p.heap.PopDue(now)
		}
		p.mu.Unlock()

		if !due {
			return
		}

		if err := p.obtainReceiptsVoucher(ctx, batch); err != nil {
			p.log.Errorf("%s", ierrors.New("IE054", batch.Allocation.Hex(), err).Error())
		}
	}
}

// obtainReceiptsVoucher implements spec.md §4.6: exchange a batch for a
// voucher, then delete the collected receipts and record the voucher
// in one transaction. On failure, receipts are NOT removed — the batch
// is retriable on restart.
func (p *Pipeline) obtainReceiptsVoucher(ctx context.Context, batch types.AllocationReceiptsBatch) error {
	if len(batch.Receipts) == 0 {
		ierrors.ProgrammerError("obtainReceiptsVoucher called with an empty batch")
	}

	voucher, err := p.gateway.ObtainReceiptsVoucher(ctx, batch.Allocation, p.network, batch.Receipts)
	if err != nil {
		return err
	}

	ids := make([]string, len(batch.Receipts))
	for i, r := range batch.Receipts {
		ids[i] = r.ID
	}

	return p.store.DeleteReceiptsAndRecordVoucher(ctx, p.network, batch.Allocation, ids, voucher)
}

// queuePendingReceiptsFromDatabase implements spec.md §4.6 restart
// recovery: load every summary with a non-null closedAt, rebuild its
// batch, and push non-empty batches.
func (p *Pipeline) queuePendingReceiptsFromDatabase(ctx context.Context) error {
	summaries, err := p.store.PendingSummariesWithClosedAt(ctx, p.network)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range summaries {
		receiptList, err := p.store.ReceiptsForAllocation(ctx, p.network, s.Allocation)
		if err != nil {
			return err
		}
		if len(receiptList) == 0 {
			continue
		}
		p.heap.Push(types.AllocationReceiptsBatch{
			Allocation: s.Allocation,
			Receipts:   receiptList,
			Timeout:    *s.ClosedAt + types.ReceiptCollectDelayMillis,
		})
	}
	return nil
}
