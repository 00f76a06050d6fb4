// Package grafting implements the grafting resolver (C5): it walks
// subgraph manifest lineage and decides which graft bases must be
// deployed or removed so a target deployment can sync, per spec.md §4.2.
package grafting

import (
	"fmt"

	"github.com/graphprotocol/indexer-agent/internal/ierrors"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

// defaultMaxIterations is the default bound on lineage walking depth.
const defaultMaxIterations = 100

// Manifest is the subset of a subgraph manifest the resolver needs:
// whether it declares the grafting feature, and its graft base/block if
// so.
type Manifest struct {
	HasGraftingFeature bool
	GraftBase          types.SubgraphDeploymentID
	GraftBlock         uint64
}

// ManifestResolver is a pure DeploymentId -> Manifest lookup, backed by
// the IPFS-fetched manifest (internal/ipfsclient) in production and by
// a fake in tests.
type ManifestResolver interface {
	Manifest(id types.SubgraphDeploymentID) (Manifest, error)
}

// DiscoverLineage walks the graft-base chain of target, starting from
// its own manifest, for at most maxIterations steps (default 100 if
// maxIterations <= 0). The returned Bases list is ordered descending:
// the first entry is the deepest/most-immediate dependency of target,
// the last entry is the root (the first base whose manifest declares no
// graft). If the root isn't found within the iteration budget, it fails
// with IE075 naming the target and the iteration count (spec.md §8
// invariants 1-2).
func DiscoverLineage(resolver ManifestResolver, target types.SubgraphDeploymentID, maxIterations int) (types.SubgraphLineage, error) {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	lineage := types.SubgraphLineage{Target: target}
	current := target

	for i := 0; i < maxIterations; i++ {
		manifest, err := resolver.Manifest(current)
		if err != nil {
			return types.SubgraphLineage{}, fmt.Errorf("failed to fetch manifest for %s: %w", current, err)
		}

		if !manifest.HasGraftingFeature || manifest.GraftBase.IsZero() {
			// current has no graft: if it IS the target itself, target
			// has no lineage at all and callers should have nothing to
			// do (empty Bases is legitimate here — it's the caller's
			// job, per spec.md §4.2, to treat an empty Bases for a
			// *decision* call as an error, not the discovery itself).
			return lineage, nil
		}

		lineage.Bases = append(lineage.Bases, types.GraftBase{
			Deployment: manifest.GraftBase,
			Block:      manifest.GraftBlock,
		})
		current = manifest.GraftBase
	}

	return types.SubgraphLineage{}, ierrors.New(
		"IE075",
		fmt.Sprintf(
			"Failed to find the graft root for target subgraph deployment (%s) after %d iterations.",
			target, maxIterations,
		),
		nil,
	).WithPayload(lineage)
}

// DetermineSubgraphDeploymentDecisions scans bases from root toward
// target and decides which must be deployed or removed, per spec.md
// §4.2 and §8 invariant 3. subjects must be ordered root-first (i.e. the
// reverse of DiscoverLineage's Bases order).
func DetermineSubgraphDeploymentDecisions(subjects []types.GraftSubject, lineage types.SubgraphLineage) ([]types.SubgraphDeploymentDecision, error) {
	if len(subjects) == 0 {
		return nil, ierrors.New("IE075", "cannot determine deployment decisions for an empty lineage", nil).
			WithPayload(lineage)
	}

	var decisions []types.SubgraphDeploymentDecision

	for _, subject := range subjects {
		desired := subject.Base.Block

		if subject.IndexingStatus == nil {
			// not assigned anywhere: a node cannot sync past this gap.
			decisions = append(decisions, types.SubgraphDeploymentDecision{
				Deployment: subject.Base.Deployment,
				Kind:       types.DecisionDeploy,
			})
			return decisions, nil
		}

		if subject.IndexingStatus.LatestBlock >= desired {
			// sufficiently synced, no longer needed as a dependency.
			decisions = append(decisions, types.SubgraphDeploymentDecision{
				Deployment: subject.Base.Deployment,
				Kind:       types.DecisionRemove,
			})
			continue
		}

		if subject.IndexingStatus.Health != types.IndexingHealthHealthy {
			return nil, ierrors.New(
				"IE075",
				fmt.Sprintf("Cannot deploy subgraph due to unhealthy graft base: %s", subject.Base.Deployment),
				nil,
			).WithPayload(lineage)
		}

		// still syncing and healthy: nothing to do, keep scanning.
	}

	return decisions, nil
}
