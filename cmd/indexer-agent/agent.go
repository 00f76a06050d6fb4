package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/allegro/bigcache"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/graphprotocol/indexer-agent/internal/allocations"
	"github.com/graphprotocol/indexer-agent/internal/config"
	"github.com/graphprotocol/indexer-agent/internal/db"
	"github.com/graphprotocol/indexer-agent/internal/eventual"
	"github.com/graphprotocol/indexer-agent/internal/grafting"
	"github.com/graphprotocol/indexer-agent/internal/graphnode"
	"github.com/graphprotocol/indexer-agent/internal/ipfsclient"
	"github.com/graphprotocol/indexer-agent/internal/logger"
	"github.com/graphprotocol/indexer-agent/internal/management"
	"github.com/graphprotocol/indexer-agent/internal/network"
	"github.com/graphprotocol/indexer-agent/internal/rav"
	"github.com/graphprotocol/indexer-agent/internal/receipts"
	"github.com/graphprotocol/indexer-agent/internal/subgraphclient"
	"github.com/graphprotocol/indexer-agent/internal/txmanager"
)

// networkStack is every per-protocolNetwork component (C4..C9),
// fanned out by C10's network.Registry.
type networkStack struct {
	graphNode *graphnode.Client
	resolver  grafting.ManifestResolver
	manager   *txmanager.Manager
	monitor   *allocations.Monitor
	receipts  *receipts.Pipeline
	rav       *rav.Pipeline
}

// Agent wires C1..C10 together per spec.md §2, the way the teacher's
// ApiServer wires its repository, resolver, and validator.
type Agent struct {
	cfg *config.Config
	log logger.Logger
	db  *db.Bridge

	stacks *network.Registry[*networkStack]

	// mgmtHandler is the out-of-scope GraphQL management API
	// implementation (spec.md §1); nil until one is supplied, in which
	// case Run mounts it behind management.Mount's CORS policy.
	mgmtHandler management.Server
	mgmtServer  *http.Server
}

// NewAgent builds and wires every network's stack. Call Run to start
// every background ticker.
func NewAgent(ctx context.Context, cfg *config.Config) (*Agent, error) {
	log := logger.New("agent", cfg.LogLevel)

	bridge, err := db.New(ctx, cfg.Database.ConnectionString, cfg.Database.MaxConns, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	stacks := network.NewRegistry[*networkStack]()
	for _, n := range cfg.Networks {
		stack, err := buildNetworkStack(n, bridge, log)
		if err != nil {
			bridge.Close()
			return nil, fmt.Errorf("failed to wire network %s: %w", n.ProtocolNetwork, err)
		}
		if err := stacks.Register(n.ProtocolNetwork, stack); err != nil {
			bridge.Close()
			return nil, err
		}
	}

	return &Agent{
		cfg:    cfg,
		log:    log,
		db:     bridge,
		stacks: stacks,
	}, nil
}

// ethChainHead adapts ethclient.Client to subgraphclient.ChainHeadReader.
type ethChainHead struct {
	client *ethclient.Client
}

func (h ethChainHead) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return h.client.BlockNumber(ctx)
}

func buildNetworkStack(n config.Network, bridge *db.Bridge, log logger.Logger) (*networkStack, error) {
	rpc, err := ethclient.Dial(n.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", n.RPCURL, err)
	}
	chainHead := ethChainHead{client: rpc}

	networkSubgraph := subgraphclient.New(n.SubgraphURL, chainHead, n.Freshness.ThresholdBlocks, n.Freshness.MaxRetries, n.Freshness.RetryInterval, log)
	tapSubgraph := subgraphclient.New(n.TAPSubgraphURL, chainHead, n.Freshness.ThresholdBlocks, n.Freshness.MaxRetries, n.Freshness.RetryInterval, log)

	ipfs := ipfsclient.New(n.IPFSURL, 30*time.Second)
	cache, err := bigcache.NewBigCache(bigcache.DefaultConfig(10 * time.Minute))
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest cache: %w", err)
	}
	resolver := grafting.NewIPFSManifestResolver(ipfs, cache)

	graphNode := graphnode.New(n.GraphNodeAdminURL, n.GraphNodeStatusURL, log)

	wallet, signingKey, err := buildWallet(n)
	if err != nil {
		return nil, err
	}

	paused := eventual.NewWithInitial(false)
	// isOperator has no grounded on-chain or subgraph query within
	// spec.md §6's named external interfaces (only escrow.redeem and
	// allocationExchange.{redeemMany,allocationsRedeemed} are named);
	// this operator wallet is always authorized to submit.
	isOperator := eventual.NewWithInitial(true)

	manager := txmanager.New(
		wallet,
		rpc,
		paused,
		isOperator,
		n.Transactions.GasIncreaseTimeout,
		n.Transactions.GasIncreaseFactor,
		n.Transactions.BaseFeePerGasMaxGwei,
		n.Transactions.MaxTransactionAttempts,
		log,
	)

	exchangeAddr := common.HexToAddress(n.AllocationExchangeAddress)
	exchange, err := receipts.NewExchange(exchangeAddr, manager, wallet, rpc)
	if err != nil {
		return nil, fmt.Errorf("failed to build exchange adapter: %w", err)
	}
	go runPausedPoller(exchange, paused, log)

	escrowAddr := common.HexToAddress(n.EscrowAddress)
	escrow, err := rav.NewEscrow(escrowAddr, manager, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to build escrow adapter: %w", err)
	}

	gateway := receipts.NewGateway(n.GatewayCollectorURL, 30*time.Second)

	receiptsPipeline := receipts.NewPipeline(n.ProtocolNetwork, bridge, gateway, exchange, exchange, receipts.Config{
		RedemptionThreshold: receipts.NewThreshold(n.Collector.VoucherRedemptionThreshold),
		BatchThreshold:      receipts.NewThreshold(n.Collector.VoucherRedemptionBatchThreshold),
		MaxBatchSize:        n.Collector.VoucherRedemptionMaxBatchSize,
	}, log)

	signer := rav.NewWalletSigner(signingKey)
	ravPipeline := rav.New(n.ProtocolNetwork, bridge, networkSubgraph, tapSubgraph, signer, escrow, rav.Config{
		RedemptionThreshold: n.Collector.VoucherRedemptionThreshold,
		FinalityTime:        n.Collector.FinalityTime,
		EscrowAddress:       escrowAddr,
	}, log)

	indexer := common.HexToAddress(n.IndexerAddress)
	monitor := allocations.New(networkSubgraph, networkSubgraph, indexer, n.ProtocolNetwork, n.AllocationMonitor.Interval, log)

	return &networkStack{
		graphNode: graphNode,
		resolver:  resolver,
		manager:   manager,
		monitor:   monitor,
		receipts:  receiptsPipeline,
		rav:       ravPipeline,
	}, nil
}

// buildWallet parses the operator's private key and returns both the
// txmanager.Wallet (address + EIP-155 signer) and the raw key, which
// the RAV pipeline's allocation signer also needs (spec.md §8).
func buildWallet(n config.Network) (txmanager.Wallet, *ecdsa.PrivateKey, error) {
	keyHex := strings.TrimPrefix(n.WalletPrivateKeyHex, "0x")
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return txmanager.Wallet{}, nil, fmt.Errorf("invalid wallet private key: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(n.ChainID))
	if err != nil {
		return txmanager.Wallet{}, nil, fmt.Errorf("failed to build wallet signer: %w", err)
	}
	return txmanager.Wallet{Address: auth.From, Signer: auth.Signer}, key, nil
}

// runPausedPoller refreshes the exchange contract's paused() state every
// 60s into paused, per spec.md §4.4's "refreshed every 60s from chain".
func runPausedPoller(exchange *receipts.Exchange, paused *eventual.Eventual[bool], log logger.Logger) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		v, err := exchange.Paused(context.Background())
		if err != nil {
			log.Warningf("failed to refresh exchange paused state: %v", err)
			continue
		}
		paused.Publish(v)
	}
}

// Run starts every network's background services and the (out of
// scope) management API surface, blocking until Stop is called.
func (a *Agent) Run(ctx context.Context) {
	var wg sync.WaitGroup
	a.stacks.ForEach(func(_ string, stack *networkStack) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stack.monitor.Run(ctx)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stack.receipts.Run(ctx); err != nil {
				a.log.Criticalf("receipt pipeline exited: %v", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			stack.rav.Run(ctx)
		}()
	})

	if a.cfg.Management.BindAddress != "" && a.mgmtHandler != nil {
		mux := http.NewServeMux()
		management.Mount(mux, "/management", a.mgmtHandler, a.cfg.Management.Peers)
		a.mgmtServer = &http.Server{Addr: a.cfg.Management.BindAddress, Handler: mux}
		a.log.Infof("management API listening on %s (schema/resolvers out of scope)", a.cfg.Management.BindAddress)
		go func() {
			if err := a.mgmtServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Errorf("management server error: %v", err)
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
}

// Stop terminates every network's background services and the
// management API.
func (a *Agent) Stop() {
	a.log.Notice("indexer-agent is terminating")

	a.stacks.ForEach(func(_ string, stack *networkStack) {
		stack.monitor.Stop()
		stack.receipts.Stop()
		stack.rav.Stop()
	})

	if a.mgmtServer != nil {
		_ = a.mgmtServer.Close()
	}

	a.db.Close()
	a.log.Notice("indexer-agent closed")
}

