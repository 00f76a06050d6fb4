// Package subgraphclient implements C3: a typed GraphQL client with a
// freshness check, per spec.md §4.1. checkedQuery merges a block-number
// probe into the caller's query, races it against the chain head, and
// retries while the subgraph is stale.
package subgraphclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/graphprotocol/indexer-agent/internal/ierrors"
	"github.com/graphprotocol/indexer-agent/internal/logger"
)

// ChainHeadReader returns the current network head block number. In
// production this is backed by ethclient.BlockNumber; tests supply a
// fake.
type ChainHeadReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Client queries a GraphQL subgraph endpoint with a freshness guarantee:
// callers never see data staler than ThresholdBlocks behind the chain
// head (spec.md §4.1).
type Client struct {
	endpoint      string
	httpClient    *http.Client
	chainHead     ChainHeadReader
	log           logger.Logger
	threshold     uint64
	maxRetries    int
	retryInterval time.Duration
	sf            singleflight.Group
}

// New creates a Client for the given GraphQL endpoint.
func New(endpoint string, chainHead ChainHeadReader, threshold uint64, maxRetries int, retryInterval time.Duration, log logger.Logger) *Client {
	return &Client{
		endpoint:      endpoint,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		chainHead:     chainHead,
		log:           log,
		threshold:     threshold,
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
	}
}

// metaBlockQuery is merged into every caller query; CheckedQuery fails
// with IE024 if the response doesn't carry this shape.
const metaBlockQuery = `{ _meta { block { number } } }`

type metaEnvelope struct {
	Meta struct {
		Block struct {
			Number uint64 `json:"number"`
		} `json:"block"`
	} `json:"_meta"`
}

// CheckedQuery issues doc/vars against the subgraph endpoint, merging in
// a `_meta { block { number } }` selection, and races it against the
// chain head. If the subgraph is within threshold blocks of the head,
// data is unmarshaled into out and returned. Otherwise it waits an
// exponentially growing delay starting at retryInterval (see
// newBackOff) and retries, up to maxRetries times, before failing with
// IE024. A subgraph reporting a block past the network head is a warning
// (IE025) but does not itself fail the call — the caller's data is still
// considered fresh in that case, since the indexer cannot be more stale
// than the chain it's indexing.
func (c *Client) CheckedQuery(ctx context.Context, doc string, vars map[string]interface{}, out interface{}) error {
	merged := mergeMetaSelection(doc)

	bo := c.newBackOff()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(bo.NextBackOff()):
			}
		}

		raw, meta, err := c.queryOnce(ctx, merged, vars)
		if err != nil {
			lastErr = err
			continue
		}

		head, err := c.chainHead.LatestBlockNumber(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		if meta.Meta.Block.Number > head {
			c.log.Warningf("%v", ierrors.New("IE025", fmt.Sprintf("subgraph %s reports indexed block %d ahead of network head %d", c.endpoint, meta.Meta.Block.Number, head), nil))
		} else if head-meta.Meta.Block.Number > c.threshold {
			lastErr = fmt.Errorf("subgraph is %d blocks behind head (threshold %d)", head-meta.Meta.Block.Number, c.threshold)
			continue
		}

		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("failed to decode subgraph response: %w", err)
			}
		}
		return nil
	}

	return ierrors.New("IE024", fmt.Sprintf("exhausted %d retries querying %s: %v", c.maxRetries, c.endpoint, lastErr), lastErr)
}

// newBackOff builds a fresh exponential backoff seeded from
// retryInterval; a subgraph lagging the head grows its own retry
// spacing up to 10x retryInterval instead of hammering it at a fixed
// cadence. Attempt count, not elapsed time, bounds the retry loop.
func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxInterval = c.retryInterval * 10
	b.MaxElapsedTime = 0
	return b
}

// queryOnce de-dupes concurrent identical queries with singleflight (the
// teacher's own root.go uses the same mechanism) and returns the raw
// "data" object plus the decoded _meta envelope.
func (c *Client) queryOnce(ctx context.Context, doc string, vars map[string]interface{}) (json.RawMessage, metaEnvelope, error) {
	key := doc + fmt.Sprintf("%v", vars)

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		return c.doHTTPQuery(ctx, doc, vars)
	})
	if err != nil {
		return nil, metaEnvelope{}, err
	}

	raw := v.(json.RawMessage)
	var meta metaEnvelope
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, metaEnvelope{}, fmt.Errorf("response lacks _meta.block.number: %w", err)
	}
	if meta.Meta.Block.Number == 0 {
		return nil, metaEnvelope{}, fmt.Errorf("response lacks _meta.block.number")
	}
	return raw, meta, nil
}

func (c *Client) doHTTPQuery(ctx context.Context, doc string, vars map[string]interface{}) (json.RawMessage, error) {
	payload := struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables,omitempty"`
	}{Query: doc, Variables: vars}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subgraph query to %s failed with status %d", c.endpoint, resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	if len(envelope.Errors) > 0 {
		return nil, fmt.Errorf("subgraph returned errors: %s", envelope.Errors[0].Message)
	}
	return envelope.Data, nil
}

// mergeMetaSelection appends the _meta block-number selection to a
// caller's query document. Callers are expected to provide a document
// whose outer braces can hold an additional sibling selection; this
// mirrors the source behavior of splicing _meta into the top-level
// selection set.
func mergeMetaSelection(doc string) string {
	trimmed := trimTrailingSpace(doc)
	if len(trimmed) == 0 || trimmed[len(trimmed)-1] != '}' {
		return doc
	}
	return trimmed[:len(trimmed)-1] + " " + metaBlockQuery[1:]
}

func trimTrailingSpace(s string) string {
	i := len(s)
	for i > 0 && (s[i-1] == ' ' || s[i-1] == '\n' || s[i-1] == '\t' || s[i-1] == '\r') {
		i--
	}
	return s[:i]
}
