// Package ipfsclient is a thin adapter over the IPFS HTTP API. Per
// spec.md §1, general-purpose client libraries are out of scope; this
// package exposes only the one call the agent needs: fetching a
// manifest by its content hash.
package ipfsclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client fetches raw objects from an IPFS gateway's /api/v0/cat
// endpoint (spec.md §6).
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// New creates a Client against baseURL (e.g. "https://ipfs.network.thegraph.com").
func New(baseURL string, timeout time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil

	return &Client{baseURL: baseURL, http: rc}
}

// Cat fetches the raw bytes stored at hash.
func (c *Client) Cat(ctx context.Context, hash string) ([]byte, error) {
	u, err := url.Parse(c.baseURL + "/api/v0/cat")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("arg", hash)
	u.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ipfs cat %s failed: %w", hash, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ipfs cat %s failed with status %d", hash, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
