package rules

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/graphprotocol/indexer-agent/internal/types"
)

func TestDefaultEvaluator_AllocatesWhenRuleAllowsAndNoneActive(t *testing.T) {
	g := NewWithT(t)

	eval := NewDefaultEvaluator()
	rule := Rule{Decision: DecisionAllocate}

	g.Expect(eval.ShouldAllocate(rule, nil)).To(BeTrue())
}

func TestDefaultEvaluator_DeniesWhenRuleDecisionIsNotAllocate(t *testing.T) {
	g := NewWithT(t)

	eval := NewDefaultEvaluator()
	rule := Rule{Decision: DecisionDeny}

	g.Expect(eval.ShouldAllocate(rule, nil)).To(BeFalse())
}

func TestDefaultEvaluator_DeniesWhenAlreadyActivelyAllocated(t *testing.T) {
	g := NewWithT(t)

	eval := NewDefaultEvaluator()
	rule := Rule{Decision: DecisionAllocate}
	active := types.Allocation{Status: types.AllocationStatusActive}

	g.Expect(eval.ShouldAllocate(rule, &active)).To(BeFalse())
}
