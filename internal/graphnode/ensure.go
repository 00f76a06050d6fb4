package graphnode

import (
	"context"
	"fmt"
	"time"

	"github.com/graphprotocol/indexer-agent/internal/grafting"
	"github.com/graphprotocol/indexer-agent/internal/ierrors"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

// autograftNamePrefix names deployments created by the auto-graft
// subroutine, keyed deterministically off the deployment's IPFS hash so
// repeated reconciliation passes converge on the same name.
const autograftNamePrefix = "autograft-"

func autograftName(id types.SubgraphDeploymentID) string {
	hash := id.IPFSHash()
	n := 8
	if len(hash) < n {
		n = len(hash)
	}
	return autograftNamePrefix + hash[:n]
}

// Ensure is the higher-level reconciliation primitive (spec.md §4.3): if
// an assignment for id exists and is not paused, it's a no-op; if
// paused, it's resumed; otherwise the auto-graft subroutine is run (when
// resolver is non-nil) followed by create+deploy.
func (c *Client) Ensure(ctx context.Context, name string, id types.SubgraphDeploymentID, resolver grafting.ManifestResolver, chain string) error {
	assignments, err := c.SubgraphDeploymentAssignments(ctx, AssignmentAll, []types.SubgraphDeploymentID{id})
	if err != nil {
		return err
	}

	if len(assignments) > 0 {
		a := assignments[0]
		if a.Paused != nil && *a.Paused {
			return c.Resume(ctx, id)
		}
		if a.Paused == nil || !*a.Paused {
			return nil
		}
	}

	if resolver != nil {
		if err := c.autoGraft(ctx, resolver, id, chain); err != nil {
			return err
		}
	}

	if err := c.Create(ctx, name); err != nil {
		return err
	}
	return c.Deploy(ctx, name, id)
}

// autoGraft resolves id's lineage and ensures every graft base, root
// outward, is assigned and synced far enough to let id itself deploy.
func (c *Client) autoGraft(ctx context.Context, resolver grafting.ManifestResolver, id types.SubgraphDeploymentID, chain string) error {
	lineage, err := grafting.DiscoverLineage(resolver, id, 0)
	if err != nil {
		return err
	}

	// Bases is ordered descending (deepest first, root last); walk it
	// root outward.
	for i := len(lineage.Bases) - 1; i >= 0; i-- {
		base := lineage.Bases[i]

		assignments, err := c.SubgraphDeploymentAssignments(ctx, AssignmentAll, []types.SubgraphDeploymentID{base.Deployment})
		if err != nil {
			return err
		}

		if len(assignments) == 0 {
			name := autograftName(base.Deployment)
			if err := c.Create(ctx, name); err != nil {
				return err
			}
			if err := c.Deploy(ctx, name, base.Deployment); err != nil {
				return err
			}
		}

		if err := c.syncToBlockOnce(ctx, base.Block, base.Deployment, chain); err != nil {
			return err
		}
	}

	return nil
}

// SyncToBlock polls every 3s until deployment reaches target on chain,
// per spec.md §4.3.
func (c *Client) SyncToBlock(ctx context.Context, target uint64, deployment types.SubgraphDeploymentID, chain string) error {
	return c.syncToBlockOnce(ctx, target, deployment, chain)
}

func (c *Client) syncToBlockOnce(ctx context.Context, target uint64, deployment types.SubgraphDeploymentID, chain string) error {
	const (
		pollInterval     = 3 * time.Second
		assignmentRetries = 5
		stuckThreshold   = 20
	)

	var lastProgressBlock *uint64
	stuckIterations := 0

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := c.ensureAssignmentExists(ctx, deployment, assignmentRetries, pollInterval); err != nil {
			return err
		}

		statuses, err := c.IndexingStatuses(ctx, []types.SubgraphDeploymentID{deployment})
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			return ierrors.New("IE018", fmt.Sprintf("no indexing status reported for %s", deployment), nil)
		}
		status := statuses[0]

		if status.FatalError != "" || status.Health == types.IndexingHealthFailed {
			return ierrors.New("IE018", fmt.Sprintf("deployment %s failed: %s", deployment, status.FatalError), nil)
		}

		var chainStatus *ChainStatus
		for i := range status.Chains {
			if status.Chains[i].Network == chain {
				chainStatus = &status.Chains[i]
				break
			}
		}
		if chainStatus == nil {
			return ierrors.New("IE018", fmt.Sprintf("deployment %s has no chain entry for %s", deployment, chain), nil)
		}

		behindTarget := chainStatus.LatestBlock == nil || *chainStatus.LatestBlock < target

		assignments, err := c.SubgraphDeploymentAssignments(ctx, AssignmentAll, []types.SubgraphDeploymentID{deployment})
		if err != nil {
			return err
		}
		if len(assignments) > 0 && assignments[0].Paused != nil && *assignments[0].Paused && behindTarget {
			if err := c.Resume(ctx, deployment); err != nil {
				return err
			}
		}

		if chainStatus.LatestBlock != nil && (lastProgressBlock == nil || *chainStatus.LatestBlock > *lastProgressBlock) {
			lastProgressBlock = chainStatus.LatestBlock
			stuckIterations = 0
		} else {
			stuckIterations++
			if stuckIterations >= stuckThreshold {
				return ierrors.New("IE018", fmt.Sprintf("deployment %s stuck, no progress for %d iterations", deployment, stuckThreshold), nil)
			}
		}

		if !behindTarget {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) ensureAssignmentExists(ctx context.Context, deployment types.SubgraphDeploymentID, retries int, wait time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		assignments, err := c.SubgraphDeploymentAssignments(ctx, AssignmentAll, []types.SubgraphDeploymentID{deployment})
		if err == nil && len(assignments) > 0 {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no assignment found")
	}
	return ierrors.New("IE018", fmt.Sprintf("assignment for %s never appeared", deployment), lastErr)
}
