package grafting_test

import (
	"fmt"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/graphprotocol/indexer-agent/internal/grafting"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

// mustID builds a deployment ID from a short tag by left-padding it into
// a 32-byte hex digest, since hand-typing valid base58 multihashes isn't
// practical in test fixtures.
func mustID(t *testing.T, tag string) types.SubgraphDeploymentID {
	t.Helper()
	hexDigits := hexEncodeTag(tag)
	for len(hexDigits) < 64 {
		hexDigits = "0" + hexDigits
	}
	id, err := types.NewDeploymentID("0x" + hexDigits)
	if err != nil {
		t.Fatalf("invalid test fixture deployment id %q: %v", tag, err)
	}
	return id
}

func hexEncodeTag(tag string) string {
	out := make([]byte, 0, len(tag)*2)
	for i := 0; i < len(tag); i++ {
		out = append(out, "0123456789abcdef"[tag[i]>>4], "0123456789abcdef"[tag[i]&0xf])
	}
	return string(out)
}

// fakeResolver implements grafting.ManifestResolver over an in-memory
// chain: manifests[i] is current's manifest, calls is incremented per
// lookup so tests can assert call counts.
type fakeResolver struct {
	chain []grafting.Manifest
	ids   []types.SubgraphDeploymentID
	calls int
}

func (f *fakeResolver) Manifest(id types.SubgraphDeploymentID) (grafting.Manifest, error) {
	f.calls++
	for i, want := range f.ids {
		if want == id {
			return f.chain[i], nil
		}
	}
	return grafting.Manifest{}, fmt.Errorf("no manifest fixture for %s", id)
}

func TestDiscoverLineage_ResolvesFullChain(t *testing.T) {
	g := NewWithT(t)

	target := mustID(t, "target")
	b1 := mustID(t, "base1")
	b2 := mustID(t, "base2")
	b3 := mustID(t, "base3")

	resolver := &fakeResolver{
		ids: []types.SubgraphDeploymentID{target, b1, b2, b3},
		chain: []grafting.Manifest{
			{HasGraftingFeature: true, GraftBase: b1, GraftBlock: 30},
			{HasGraftingFeature: true, GraftBase: b2, GraftBlock: 20},
			{HasGraftingFeature: true, GraftBase: b3, GraftBlock: 10},
			{HasGraftingFeature: false},
		},
	}

	lineage, err := grafting.DiscoverLineage(resolver, target, 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(lineage.Bases).To(HaveLen(3))
	g.Expect(lineage.Bases[0]).To(Equal(types.GraftBase{Deployment: b1, Block: 30}))
	g.Expect(lineage.Bases[1]).To(Equal(types.GraftBase{Deployment: b2, Block: 20}))
	g.Expect(lineage.Bases[2]).To(Equal(types.GraftBase{Deployment: b3, Block: 10}))
	g.Expect(resolver.calls).To(Equal(4))
}

func TestDiscoverLineage_ExhaustsIterationBudget(t *testing.T) {
	g := NewWithT(t)

	target := mustID(t, "target")
	b1 := mustID(t, "base1")
	b2 := mustID(t, "base2")
	b3 := mustID(t, "base3")

	resolver := &fakeResolver{
		ids: []types.SubgraphDeploymentID{target, b1, b2, b3},
		chain: []grafting.Manifest{
			{HasGraftingFeature: true, GraftBase: b1, GraftBlock: 30},
			{HasGraftingFeature: true, GraftBase: b2, GraftBlock: 20},
			{HasGraftingFeature: true, GraftBase: b3, GraftBlock: 10},
			{HasGraftingFeature: false},
		},
	}

	_, err := grafting.DiscoverLineage(resolver, target, 2)
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring(
		fmt.Sprintf("Failed to find the graft root for target subgraph deployment (%s) after 2 iterations.", target),
	))
}

func TestDetermineSubgraphDeploymentDecisions_LatestUndeployed(t *testing.T) {
	g := NewWithT(t)

	base1 := mustID(t, "base1")
	base2 := mustID(t, "base2")
	base3 := mustID(t, "base3")

	// subjects ordered root (base3) -> target (base1)
	subjects := []types.GraftSubject{
		{Base: types.GraftBase{Deployment: base3, Block: 10}, IndexingStatus: &types.GraftIndexingStatus{LatestBlock: 10, Health: types.IndexingHealthHealthy}},
		{Base: types.GraftBase{Deployment: base2, Block: 20}, IndexingStatus: nil},
		{Base: types.GraftBase{Deployment: base1, Block: 30}, IndexingStatus: nil},
	}

	decisions, err := grafting.DetermineSubgraphDeploymentDecisions(subjects, types.SubgraphLineage{})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(decisions).To(Equal([]types.SubgraphDeploymentDecision{
		{Deployment: base3, Kind: types.DecisionRemove},
		{Deployment: base2, Kind: types.DecisionDeploy},
	}))
}

func TestDetermineSubgraphDeploymentDecisions_UnhealthyBase(t *testing.T) {
	g := NewWithT(t)

	base := mustID(t, "base1")
	subjects := []types.GraftSubject{
		{Base: types.GraftBase{Deployment: base, Block: 10}, IndexingStatus: &types.GraftIndexingStatus{LatestBlock: 5, Health: "not-healthy"}},
	}

	_, err := grafting.DetermineSubgraphDeploymentDecisions(subjects, types.SubgraphLineage{})
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring(
		fmt.Sprintf("Cannot deploy subgraph due to unhealthy graft base: %s", base),
	))
}

func TestDetermineSubgraphDeploymentDecisions_EmptyBasesIsCallerError(t *testing.T) {
	g := NewWithT(t)

	_, err := grafting.DetermineSubgraphDeploymentDecisions(nil, types.SubgraphLineage{})
	g.Expect(err).To(HaveOccurred())
}
