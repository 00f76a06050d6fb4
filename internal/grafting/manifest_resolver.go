package grafting

import (
	"context"
	"fmt"

	"github.com/allegro/bigcache"
	"gopkg.in/yaml.v3"

	"github.com/graphprotocol/indexer-agent/internal/types"
)

// ManifestFetcher fetches the raw YAML manifest bytes for a deployment,
// backed by the IPFS manifest store (spec.md §6 "Subgraph manifest").
type ManifestFetcher interface {
	Cat(ctx context.Context, hash string) ([]byte, error)
}

// manifestYAML is the subset of a subgraph manifest's YAML this agent
// parses: its declared features and (optional) graft block.
type manifestYAML struct {
	Features []string `yaml:"features"`
	Graft    *struct {
		Base  string `yaml:"base"`
		Block uint64 `yaml:"block"`
	} `yaml:"graft"`
}

// ipfsManifestResolver implements ManifestResolver over the IPFS
// manifest store, with an in-memory bigcache cache of already-resolved
// manifests (the teacher's direct dependency, reused here per
// SPEC_FULL.md's domain-stack wiring).
type ipfsManifestResolver struct {
	fetcher ManifestFetcher
	cache   *bigcache.BigCache
}

// NewIPFSManifestResolver creates a ManifestResolver backed by fetcher,
// caching decoded manifests in cache.
func NewIPFSManifestResolver(fetcher ManifestFetcher, cache *bigcache.BigCache) ManifestResolver {
	return &ipfsManifestResolver{fetcher: fetcher, cache: cache}
}

// Manifest implements ManifestResolver.
func (r *ipfsManifestResolver) Manifest(id types.SubgraphDeploymentID) (Manifest, error) {
	if r.cache != nil {
		if cached, err := r.cache.Get(id.IPFSHash()); err == nil {
			return decodeManifest(cached)
		}
	}

	raw, err := r.fetcher.Cat(context.Background(), id.IPFSHash())
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to fetch manifest for %s: %w", id, err)
	}

	if r.cache != nil {
		_ = r.cache.Set(id.IPFSHash(), raw)
	}

	return decodeManifest(raw)
}

func decodeManifest(raw []byte) (Manifest, error) {
	var doc manifestYAML
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Manifest{}, fmt.Errorf("failed to decode manifest YAML: %w", err)
	}

	m := Manifest{}
	for _, f := range doc.Features {
		if f == "grafting" {
			m.HasGraftingFeature = true
		}
	}
	if doc.Graft != nil {
		base, err := types.NewDeploymentID(doc.Graft.Base)
		if err != nil {
			return Manifest{}, fmt.Errorf("manifest graft.base invalid: %w", err)
		}
		m.GraftBase = base
		m.GraftBlock = doc.Graft.Block
	}
	return m, nil
}
