package types

// GraftBase is one element of a SubgraphLineage: a graft dependency of a
// target deployment, at the block it was grafted at.
type GraftBase struct {
	Deployment SubgraphDeploymentID
	Block      uint64
}

// SubgraphLineage is the ordered list of graft dependencies of a target
// deployment, descending (root last), per spec.md §4.2.
type SubgraphLineage struct {
	Target SubgraphDeploymentID
	Bases  []GraftBase
}

// IndexingHealth mirrors graph-node's indexing status health field.
type IndexingHealth string

const (
	IndexingHealthHealthy     IndexingHealth = "healthy"
	IndexingHealthUnhealthy   IndexingHealth = "unhealthy"
	IndexingHealthFailed      IndexingHealth = "failed"
)

// GraftIndexingStatus is the subset of graph-node's indexing status
// relevant to grafting decisions.
type GraftIndexingStatus struct {
	LatestBlock uint64
	Health      IndexingHealth
}

// GraftSubject is a graft base enriched with its current indexing
// status, or nil if the base isn't assigned to any node.
type GraftSubject struct {
	Base            GraftBase
	IndexingStatus  *GraftIndexingStatus
}

// DeploymentDecisionKind is the action the grafting resolver decided a
// base deployment needs.
type DeploymentDecisionKind string

const (
	DecisionDeploy DeploymentDecisionKind = "DEPLOY"
	DecisionRemove DeploymentDecisionKind = "REMOVE"
)

// SubgraphDeploymentDecision is one decision emitted by
// determineSubgraphDeploymentDecisions (spec.md §4.2).
type SubgraphDeploymentDecision struct {
	Deployment SubgraphDeploymentID
	Kind       DeploymentDecisionKind
}
