// Package graphnode implements the graph-node driver (C4): creating,
// deploying, pausing, resuming, and reassigning subgraph deployments,
// polling indexing status, and block-waiting on a target height, per
// spec.md §4.3.
package graphnode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/graphprotocol/indexer-agent/internal/ierrors"
	"github.com/graphprotocol/indexer-agent/internal/logger"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

// Client drives one graph-node instance's admin JSON-RPC and indexing
// status GraphQL surfaces.
type Client struct {
	adminURL  string
	statusURL string
	http      *http.Client
	log       logger.Logger
	sf        singleflight.Group
}

// New creates a Client against the given admin RPC and indexing status
// GraphQL endpoints.
func New(adminURL, statusURL string, log logger.Logger) *Client {
	return &Client{
		adminURL:  adminURL,
		statusURL: statusURL,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}
}

// rpcCall issues a JSON-RPC 2.0 call against the admin endpoint.
func (c *Client) rpcCall(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	body := struct {
		JSONRPC string      `json:"jsonrpc"`
		ID      int         `json:"id"`
		Method  string      `json:"method"`
		Params  interface{} `json:"params"`
	}{JSONRPC: "2.0", ID: 1, Method: method, Params: params}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adminURL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s", rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// Create creates a deployment name. "already exists" is treated as
// success, per spec.md §4.3.
func (c *Client) Create(ctx context.Context, name string) error {
	_, err := c.rpcCall(ctx, "subgraph_create", map[string]string{"name": name})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return ierrors.New("IE020", fmt.Sprintf("failed to create %s", name), err)
	}
	return nil
}

// Deploy deploys id under name. A "network not supported" error maps to
// IE074.
func (c *Client) Deploy(ctx context.Context, name string, id types.SubgraphDeploymentID) error {
	_, err := c.rpcCall(ctx, "subgraph_deploy", map[string]string{
		"name":            name,
		"ipfs_hash":       id.IPFSHash(),
	})
	if err != nil {
		if strings.Contains(err.Error(), "network not supported") {
			return ierrors.New("IE074", fmt.Sprintf("deploying %s under %s", id, name), err)
		}
		return ierrors.New("IE026", fmt.Sprintf("failed to deploy %s under %s", id, name), err)
	}
	return nil
}

// Pause pauses a deployment. Idempotent.
func (c *Client) Pause(ctx context.Context, id types.SubgraphDeploymentID) error {
	_, err := c.rpcCall(ctx, "subgraph_pause", map[string]string{"deployment": id.IPFSHash()})
	if err != nil && !strings.Contains(err.Error(), "already paused") {
		return ierrors.New("IE027", fmt.Sprintf("failed to pause %s", id), err)
	}
	return nil
}

// Resume resumes a deployment. Idempotent.
func (c *Client) Resume(ctx context.Context, id types.SubgraphDeploymentID) error {
	_, err := c.rpcCall(ctx, "subgraph_resume", map[string]string{"deployment": id.IPFSHash()})
	if err != nil && !strings.Contains(err.Error(), "not paused") {
		return ierrors.New("IE076", fmt.Sprintf("failed to resume %s", id), err)
	}
	return nil
}

// Reassign assigns id to a specific index node. "unchanged" is treated
// as success.
func (c *Client) Reassign(ctx context.Context, id types.SubgraphDeploymentID, node string) error {
	_, err := c.rpcCall(ctx, "subgraph_reassign", map[string]string{
		"deployment": id.IPFSHash(),
		"node_id":    node,
	})
	if err != nil && !strings.Contains(err.Error(), "unchanged") {
		return ierrors.New("IE028", fmt.Sprintf("failed to reassign %s to %s", id, node), err)
	}
	return nil
}
