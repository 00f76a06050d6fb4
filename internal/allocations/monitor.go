// Package allocations implements the eligible-allocation monitor (C7):
// a periodic poll of the network subgraph that publishes the agent's
// active and recently-closed allocations as an Eventual, per spec.md
// §4.5.
package allocations

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/graphprotocol/indexer-agent/internal/eventual"
	"github.com/graphprotocol/indexer-agent/internal/ierrors"
	"github.com/graphprotocol/indexer-agent/internal/logger"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

// Source is the subset of subgraphclient.Client the monitor polls.
type Source interface {
	EligibleAllocations(ctx context.Context, indexer common.Address, currentEpoch uint64, protocolNetwork string) ([]types.Allocation, error)
}

// EpochSource resolves the current epoch, polled once per tick before
// querying allocations.
type EpochSource interface {
	CurrentEpoch(ctx context.Context) (uint64, error)
}

// Monitor polls Source on a fixed interval and republishes the result as
// an Eventual[[]types.Allocation]. On failure, the previous value is
// left published unchanged and the failure is logged IE010, per
// spec.md §4.5 — the agent must never see a transient empty list that
// would make it withdraw work.
type Monitor struct {
	source          Source
	epochs          EpochSource
	indexer         common.Address
	protocolNetwork string
	interval        time.Duration
	log             logger.Logger

	allocations *eventual.Eventual[[]types.Allocation]

	sigStop chan struct{}
	wg      sync.WaitGroup
}

// New creates a Monitor. Call Run to start its background ticker.
func New(source Source, epochs EpochSource, indexer common.Address, protocolNetwork string, interval time.Duration, log logger.Logger) *Monitor {
	return &Monitor{
		source:          source,
		epochs:          epochs,
		indexer:         indexer,
		protocolNetwork: protocolNetwork,
		interval:        interval,
		log:             log,
		allocations:     eventual.New[[]types.Allocation](),
		sigStop:         make(chan struct{}),
	}
}

// Allocations returns the Eventual this monitor publishes to.
func (m *Monitor) Allocations() *eventual.Eventual[[]types.Allocation] {
	return m.allocations
}

// Run starts the background polling ticker. Stop ends it.
func (m *Monitor) Run(ctx context.Context) {
	m.wg.Add(1)
	go m.schedule(ctx)
}

// Stop signals the ticker loop to exit and waits for it to finish.
func (m *Monitor) Stop() {
	close(m.sigStop)
	m.wg.Wait()
}

func (m *Monitor) schedule(ctx context.Context) {
	defer m.wg.Done()

	m.log.Notice("eligible-allocation monitor is running")

	m.poll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.sigStop:
			m.log.Notice("eligible-allocation monitor is closed")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	epoch, err := m.epochs.CurrentEpoch(ctx)
	if err != nil {
		m.log.Errorf("%s", ierrors.New("IE010", "failed to fetch current epoch", err).Error())
		return
	}

	eligible, err := m.source.EligibleAllocations(ctx, m.indexer, epoch, m.protocolNetwork)
	if err != nil {
		m.log.Errorf("%s", ierrors.New("IE010", "failed to query eligible allocations", err).Error())
		return
	}

	m.allocations.Publish(eligible)
}
