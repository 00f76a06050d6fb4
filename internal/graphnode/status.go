package graphnode

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/graphprotocol/indexer-agent/internal/ierrors"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

// ChainStatus is one entry of a deployment's per-chain indexing status.
type ChainStatus struct {
	Network          string
	LatestBlock      *uint64
	ChainHeadBlock   *uint64
	EarliestBlock    *uint64
}

// IndexingStatus is graph-node's reported status for one deployment.
type IndexingStatus struct {
	Deployment  types.SubgraphDeploymentID
	Synced      bool
	Health      types.IndexingHealth
	FatalError  string
	Node        string
	Chains      []ChainStatus
}

type indexingStatusRow struct {
	Subgraph   string `json:"subgraph"`
	Synced     bool   `json:"synced"`
	Health     string `json:"health"`
	FatalError *struct {
		Message string `json:"message"`
	} `json:"fatalError"`
	Node   string `json:"node"`
	Chains []struct {
		Network        string `json:"network"`
		LatestBlock    *struct{ Number string `json:"number"` } `json:"latestBlock"`
		ChainHeadBlock *struct{ Number string `json:"number"` } `json:"chainHeadBlock"`
		EarliestBlock  *struct{ Number string `json:"number"` } `json:"earliestBlock"`
	} `json:"chains"`
}

const indexingStatusesQuery = `query($ids: [String!]!) {
  indexingStatuses(subgraphs: $ids) {
    subgraph synced health fatalError { message } node
    chains { network latestBlock { number } chainHeadBlock { number } earliestBlock { number } }
  }
}`

// IndexingStatuses queries indexing status for the given deployments,
// retried up to 5 times with a 10s cap between attempts, per spec.md
// §4.3.
func (c *Client) IndexingStatuses(ctx context.Context, ids []types.SubgraphDeploymentID) ([]IndexingStatus, error) {
	hashes := make([]string, len(ids))
	for i, id := range ids {
		hashes[i] = id.IPFSHash()
	}

	var rows []indexingStatusRow
	err := retryStatusQuery(ctx, 5, 10*time.Second, func() error {
		return c.statusQuery(ctx, indexingStatusesQuery, map[string]interface{}{"ids": hashes}, &struct {
			IndexingStatuses *[]indexingStatusRow `json:"indexingStatuses"`
		}{IndexingStatuses: &rows})
	})
	if err != nil {
		return nil, ierrors.New("IE018", "failed to query indexing statuses", err)
	}

	out := make([]IndexingStatus, 0, len(rows))
	for _, row := range rows {
		id, err := types.NewDeploymentID(row.Subgraph)
		if err != nil {
			continue
		}
		status := IndexingStatus{
			Deployment: id,
			Synced:     row.Synced,
			Health:     types.IndexingHealth(row.Health),
			Node:       row.Node,
		}
		if row.FatalError != nil {
			status.FatalError = row.FatalError.Message
		}
		for _, ch := range row.Chains {
			cs := ChainStatus{Network: ch.Network}
			if ch.LatestBlock != nil {
				cs.LatestBlock = parseBlockNumber(ch.LatestBlock.Number)
			}
			if ch.ChainHeadBlock != nil {
				cs.ChainHeadBlock = parseBlockNumber(ch.ChainHeadBlock.Number)
			}
			if ch.EarliestBlock != nil {
				cs.EarliestBlock = parseBlockNumber(ch.EarliestBlock.Number)
			}
			status.Chains = append(status.Chains, cs)
		}
		out = append(out, status)
	}
	return out, nil
}

func parseBlockNumber(s string) *uint64 {
	var n uint64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return nil
	}
	return &n
}

const proofOfIndexingQuery = `query($deployment: String!, $block: Int!, $indexer: String!) {
  proofOfIndexing(subgraph: $deployment, blockNumber: $block, indexer: $indexer)
}`

// ProofOfIndexing returns the 32-byte POI for deployment at block, or
// nil if graph-node reports DeploymentNotFound.
func (c *Client) ProofOfIndexing(ctx context.Context, deployment types.SubgraphDeploymentID, block uint64, indexer string) (*[32]byte, error) {
	var resp struct {
		ProofOfIndexing *string `json:"proofOfIndexing"`
	}
	err := retryStatusQuery(ctx, 5, 10*time.Second, func() error {
		return c.statusQuery(ctx, proofOfIndexingQuery, map[string]interface{}{
			"deployment": deployment.IPFSHash(),
			"block":      block,
			"indexer":    indexer,
		}, &resp)
	})
	if err != nil {
		if isDeploymentNotFound(err) {
			return nil, nil
		}
		return nil, ierrors.New("IE019", fmt.Sprintf("failed to query POI for %s", deployment), err)
	}
	if resp.ProofOfIndexing == nil {
		return nil, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(*resp.ProofOfIndexing, "0x"))
	if err != nil || len(raw) != 32 {
		return nil, ierrors.New("IE019", fmt.Sprintf("malformed POI for %s", deployment), err)
	}
	var b [32]byte
	copy(b[:], raw)
	return &b, nil
}

func isDeploymentNotFound(err error) bool {
	return err != nil && containsFold(err.Error(), "DeploymentNotFound")
}

const blockHashFromNumberQuery = `query($network: String!, $number: Int!) {
  blockHashFromNumber(network: $network, blockNumber: $number)
}`

// BlockHashFromNumber resolves a block hash for the given network/number.
func (c *Client) BlockHashFromNumber(ctx context.Context, network string, number uint64) (string, error) {
	var resp struct {
		BlockHashFromNumber string `json:"blockHashFromNumber"`
	}
	err := retryStatusQuery(ctx, 5, 10*time.Second, func() error {
		return c.statusQuery(ctx, blockHashFromNumberQuery, map[string]interface{}{
			"network": network,
			"number":  number,
		}, &resp)
	})
	if err != nil {
		return "", ierrors.New("IE070", fmt.Sprintf("failed to resolve block hash for %s@%d", network, number), err)
	}
	return resp.BlockHashFromNumber, nil
}

const subgraphFeaturesQuery = `query($id: String!) {
  subgraphFeatures(subgraphId: $id) { network }
}`

// SubgraphFeatures returns a deployment's declared network, or an empty
// string if the manifest is invalid (graph-node returns null).
func (c *Client) SubgraphFeatures(ctx context.Context, id types.SubgraphDeploymentID) (string, error) {
	var resp struct {
		SubgraphFeatures *struct {
			Network string `json:"network"`
		} `json:"subgraphFeatures"`
	}
	err := retryStatusQuery(ctx, 5, 10*time.Second, func() error {
		return c.statusQuery(ctx, subgraphFeaturesQuery, map[string]interface{}{"id": id.IPFSHash()}, &resp)
	})
	if err != nil {
		return "", ierrors.New("IE073", fmt.Sprintf("failed to query features for %s", id), err)
	}
	if resp.SubgraphFeatures == nil {
		return "", nil
	}
	return resp.SubgraphFeatures.Network, nil
}

// DeploymentAssignmentStatus filters subgraphDeploymentAssignments, per
// spec.md §4.3: Active = (paused=false) OR (paused=null AND node != "removed").
type DeploymentAssignmentStatus string

const (
	AssignmentActive DeploymentAssignmentStatus = "Active"
	AssignmentPaused DeploymentAssignmentStatus = "Paused"
	AssignmentAll    DeploymentAssignmentStatus = "All"
)

// DeploymentAssignment is one row of subgraphDeploymentAssignments.
type DeploymentAssignment struct {
	Deployment types.SubgraphDeploymentID
	Node       string
	Paused     *bool
}

type assignmentRow struct {
	Deployment string `json:"id"`
	Node       string `json:"node"`
	Paused     *bool  `json:"paused"`
}

const assignmentsByNodeQuery = `query($ids: [String!]) {
  subgraphDeploymentAssignments(where: { id_in: $ids }) { id node }
}`

const assignmentsPausedQuery = `query($ids: [String!]) {
  subgraphDeploymentAssignments(where: { id_in: $ids }) { id node paused }
}`

// SubgraphDeploymentAssignments performs graph-node's two-phase
// assignment query (node-only, then the paused flag) and filters by
// status, per spec.md §4.3.
func (c *Client) SubgraphDeploymentAssignments(ctx context.Context, status DeploymentAssignmentStatus, ids []types.SubgraphDeploymentID) ([]DeploymentAssignment, error) {
	var filterIDs interface{}
	if ids != nil {
		hashes := make([]string, len(ids))
		for i, id := range ids {
			hashes[i] = id.IPFSHash()
		}
		filterIDs = hashes
	}

	var nodeRows []assignmentRow
	if err := c.statusQuery(ctx, assignmentsByNodeQuery, map[string]interface{}{"ids": filterIDs}, &struct {
		SubgraphDeploymentAssignments *[]assignmentRow `json:"subgraphDeploymentAssignments"`
	}{SubgraphDeploymentAssignments: &nodeRows}); err != nil {
		return nil, ierrors.New("IE018", "failed to query deployment assignments (node phase)", err)
	}

	var pausedRows []assignmentRow
	if err := c.statusQuery(ctx, assignmentsPausedQuery, map[string]interface{}{"ids": filterIDs}, &struct {
		SubgraphDeploymentAssignments *[]assignmentRow `json:"subgraphDeploymentAssignments"`
	}{SubgraphDeploymentAssignments: &pausedRows}); err != nil {
		return nil, ierrors.New("IE018", "failed to query deployment assignments (paused phase)", err)
	}

	pausedByID := make(map[string]*bool, len(pausedRows))
	for _, r := range pausedRows {
		pausedByID[r.Deployment] = r.Paused
	}

	out := make([]DeploymentAssignment, 0, len(nodeRows))
	for _, r := range nodeRows {
		id, err := types.NewDeploymentID(r.Deployment)
		if err != nil {
			continue
		}
		paused := pausedByID[r.Deployment]
		assignment := DeploymentAssignment{Deployment: id, Node: r.Node, Paused: paused}

		isActive := (paused != nil && !*paused) || (paused == nil && r.Node != "removed")
		switch status {
		case AssignmentActive:
			if !isActive {
				continue
			}
		case AssignmentPaused:
			if isActive {
				continue
			}
		case AssignmentAll:
			// no filtering
		}
		out = append(out, assignment)
	}
	return out, nil
}

// statusQuery issues a plain (non-freshness-checked) GraphQL query
// against the indexing-status endpoint.
func (c *Client) statusQuery(ctx context.Context, doc string, vars map[string]interface{}, out interface{}) error {
	payload := struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables,omitempty"`
	}{Query: doc, Variables: vars}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.statusURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("%s", envelope.Errors[0].Message)
	}
	return json.Unmarshal(envelope.Data, out)
}

// retryStatusQuery retries fn up to maxAttempts times, sleeping an
// exponentially growing delay capped at maxDelay between attempts.
func retryStatusQuery(ctx context.Context, maxAttempts int, maxDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := 200 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
