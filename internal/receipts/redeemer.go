package receipts

import (
	"context"
	"math/big"
	"time"

	"github.com/graphprotocol/indexer-agent/internal/ierrors"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

// runRedemptionTicker implements spec.md §4.6 voucher redemption: every
// 30s, fetch pending vouchers, drop already-redeemed ones, partition by
// redemptionThreshold, and submit the eligible batch if its sum clears
// batchThreshold.
func (p *Pipeline) runRedemptionTicker(ctx context.Context) {
	defer p.wg.Done()
	p.log.Notice("voucher redemption ticker is running")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.sigStop:
			p.log.Notice("voucher redemption ticker is closed")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.redeemPendingVouchers(ctx); err != nil {
				p.log.Errorf("%s", ierrors.New("IE055", "voucher redemption tick", err).Error())
			}
		}
	}
}

func (p *Pipeline) redeemPendingVouchers(ctx context.Context) error {
	vouchers, err := p.store.PendingVouchers(ctx, p.network, p.maxBatchSize)
	if err != nil {
		return err
	}
	if len(vouchers) == 0 {
		return nil
	}

	var eligible []types.Voucher
	threshold := sumThresholdOrZero(p.redemptionThreshold)

	for _, v := range vouchers {
		redeemed, err := p.checker.AllocationsRedeemed(ctx, v.Allocation)
		if err != nil {
			p.log.Warningf("failed to check redemption status for allocation %s: %s", v.Allocation.Hex(), err.Error())
			continue
		}
		if redeemed {
			if err := p.store.DeleteVoucher(ctx, p.network, v.Allocation); err != nil {
				p.log.Warningf("failed to delete already-redeemed voucher for allocation %s: %s", v.Allocation.Hex(), err.Error())
			}
			continue
		}

		amount, ok := parseAmount(v.Amount)
		if !ok {
			p.log.Warningf("voucher for allocation %s has an unparseable amount %q", v.Allocation.Hex(), v.Amount)
			continue
		}
		if threshold != nil && amount.Cmp(threshold) < 0 {
			continue
		}
		eligible = append(eligible, v)
	}

	if len(eligible) == 0 {
		return nil
	}

	total := new(big.Int)
	for _, v := range eligible {
		amount, ok := parseAmount(v.Amount)
		if ok {
			total.Add(total, amount)
		}
	}

	batchThreshold := sumThresholdOrZero(p.batchThreshold)
	if batchThreshold != nil && total.Cmp(batchThreshold) < 0 {
		p.log.Infof("batch value %s is below the batch threshold %s, deferring redemption", total.String(), batchThreshold.String())
		return nil
	}

	if err := p.redeem.RedeemMany(ctx, eligible); err != nil {
		return err
	}

	return p.store.AddWithdrawnFeesAndDeleteVouchers(ctx, p.network, eligible)
}

func sumThresholdOrZero(t *int64Threshold) *big.Int {
	if t == nil || t.wei == "" {
		return nil
	}
	n, ok := new(big.Int).SetString(t.wei, 10)
	if !ok {
		return nil
	}
	return n
}

func parseAmount(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}
