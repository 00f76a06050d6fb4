// Package rules declares the consumed interface of the indexing-rule
// evaluator. spec.md §1 places the evaluator itself out of scope ("a
// pure function we invoke"); this package owns only the boundary C2
// needs plus a default implementation good enough to exercise it.
package rules

import "github.com/graphprotocol/indexer-agent/internal/types"

// Decision is the rule engine's verdict for one deployment.
type Decision string

const (
	DecisionAllocate   Decision = "allocate"
	DecisionDeny       Decision = "deny"
	DecisionOffline    Decision = "offline"
)

// Rule is a single indexing rule, matched against a deployment by the
// out-of-scope rule language; only the fields C2 needs to make an
// allocate/deny call are modeled here.
type Rule struct {
	Deployment         types.SubgraphDeploymentID
	Decision           Decision
	MinSignal          string // GRT wei decimal string, empty if unset
	AllocationAmount   string // GRT wei decimal string, empty if unset
}

// Evaluator decides whether a deployment should be allocated to, given
// its matching rule and (if one exists) its current allocation state.
// The concrete rule language and precedence semantics are out of scope;
// callers only depend on this interface.
type Evaluator interface {
	ShouldAllocate(rule Rule, active *types.Allocation) bool
}

// defaultEvaluator is the minimal evaluator exercised by this repo's
// tests: allocate iff the rule's decision is "allocate" and there is no
// already-active allocation for the deployment.
type defaultEvaluator struct{}

// NewDefaultEvaluator returns the evaluator used when no richer rule
// engine is wired in.
func NewDefaultEvaluator() Evaluator {
	return defaultEvaluator{}
}

func (defaultEvaluator) ShouldAllocate(rule Rule, active *types.Allocation) bool {
	if rule.Decision != DecisionAllocate {
		return false
	}
	if active != nil && active.IsActive() {
		return false
	}
	return true
}
