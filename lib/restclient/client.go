/*
Copyright 2024 The IBC Backlog Exporter Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package restclient implements a single-chain HTTP facade over a Cosmos
// chain's gRPC-gateway REST API. It owns endpoint health, failover among
// fallback URLs discovered from the public chain registry, and JSON
// decoding. Each Client instance is exclusively owned by one goroutine at a
// time; its active-endpoint and unhealthy-set state is not safe for
// concurrent mutation.
package restclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/ibc-backlog-exporter/lib/defaults"
	"github.com/gravitational/ibc-backlog-exporter/lib/logging"
)

// HTTPDoer is the subset of *http.Client used by Client, so tests can
// substitute a fake transport without standing up a real listener.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client presents a single logical REST endpoint for one chain, failing
// over between a primary URL and its fallbacks when the active endpoint
// stops responding or reports the wrong chain ID.
type Client struct {
	chainName string
	chainID   string

	primary   string
	fallbacks []string
	active    string
	unhealthy map[string]struct{}

	loadFallbacksOnce sync.Once

	httpClient HTTPDoer
	log        logging.Logger
}

// New returns a Client for chainID, using primaryURL as the first endpoint
// to try. chainName is the chain-registry directory name used to look up
// fallback endpoints on first health check. A nil httpClient defaults to
// http.DefaultClient.
func New(chainName, chainID, primaryURL string, httpClient HTTPDoer) *Client {
	primaryURL = strings.TrimRight(primaryURL, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		chainName:  chainName,
		chainID:    chainID,
		primary:    primaryURL,
		active:     primaryURL,
		unhealthy:  make(map[string]struct{}),
		httpClient: httpClient,
		log:        logging.ForChain(chainID),
	}
}

// ChainID returns the chain ID this client was constructed for.
func (c *Client) ChainID() string { return c.chainID }

// Endpoint returns the currently active URL.
func (c *Client) Endpoint() string { return c.active }

// endpoints returns the primary followed by every discovered fallback, in
// the order they should be probed.
func (c *Client) endpoints() []string {
	out := make([]string, 0, len(c.fallbacks)+1)
	out = append(out, c.primary)
	out = append(out, c.fallbacks...)
	return out
}

// loadFallbacks fetches the chain-registry document for this chain and
// appends every REST URL it lists (other than the primary) to the fallback
// list. Best-effort: failures are logged and otherwise ignored. Runs at
// most once per Client lifetime.
func (c *Client) loadFallbacks(ctx context.Context) {
	c.loadFallbacksOnce.Do(func() {
		registryURL := fmt.Sprintf(defaults.ChainRegistryURLTemplate, c.chainName)
		body, status, err := c.fetch(ctx, registryURL, defaults.QueryTimeout)
		if err != nil || status < 200 || status >= 300 {
			c.log.WithError(err).Warn("Failed to load fallback REST endpoints from chain registry")
			return
		}
		var doc struct {
			APIs struct {
				REST []struct {
					Address string `json:"address"`
				} `json:"rest"`
			} `json:"apis"`
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			c.log.WithError(err).Warn("Malformed chain registry document")
			return
		}
		for _, api := range doc.APIs.REST {
			addr := strings.TrimRight(api.Address, "/")
			if addr != "" && addr != c.primary {
				c.fallbacks = append(c.fallbacks, addr)
			}
		}
		c.log.WithField("count", len(c.fallbacks)).Info("Loaded fallback REST endpoints")
	})
}

// Health probes every endpoint not marked unhealthy, in primary-then-fallback
// order, makes the first healthy one the active endpoint, and returns
// whether a healthy endpoint was found. If every known endpoint is already marked
// unhealthy, the unhealthy set is reset first so transient failures
// self-heal.
func (c *Client) Health(ctx context.Context) bool {
	c.loadFallbacks(ctx)

	endpoints := c.endpoints()
	if len(c.unhealthy) >= len(endpoints) {
		c.unhealthy = make(map[string]struct{})
	}

	for _, ep := range endpoints {
		if _, bad := c.unhealthy[ep]; bad {
			continue
		}
		body, status, err := c.fetch(ctx, ep+defaults.NodeInfoPath, defaults.QueryTimeout)
		if err != nil || status < 200 || status >= 300 {
			c.log.WithError(err).WithField("endpoint", ep).Warn("REST health check failed")
			c.unhealthy[ep] = struct{}{}
			continue
		}
		var resp struct {
			DefaultNodeInfo struct {
				Network string `json:"network"`
			} `json:"default_node_info"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			c.log.WithError(err).WithField("endpoint", ep).Warn("Malformed node_info response")
			c.unhealthy[ep] = struct{}{}
			continue
		}
		if resp.DefaultNodeInfo.Network != c.chainID {
			c.log.WithFields(map[string]interface{}{
				"endpoint": ep,
				"got":      resp.DefaultNodeInfo.Network,
				"expected": c.chainID,
			}).Error("Chain ID mismatch on endpoint")
			c.unhealthy[ep] = struct{}{}
			continue
		}
		if ep != c.active {
			c.log.WithFields(map[string]interface{}{"from": c.active, "to": ep}).Info("Switching active REST endpoint")
			c.active = ep
		}
		return true
	}
	return false
}

// notFoundError is returned by Query when an endpoint responds 404;
// callers use IsNotFound to special-case it.
type notFoundError struct{ path string }

func (e *notFoundError) Error() string { return fmt.Sprintf("not found: %s", e.path) }

// IsNotFound reports whether err represents a 404 response from Query.
func IsNotFound(err error) bool {
	_, ok := trace.Unwrap(err).(*notFoundError)
	return ok
}

// Query issues GET path against the active endpoint and decodes the JSON
// response into a map. On transport or non-2xx failure (other than 404) it
// marks the active endpoint unhealthy, re-runs Health to migrate, and
// retries, up to the number of known endpoints. If every endpoint fails, it
// returns an empty map rather than propagating the error. A 404 response is
// returned immediately as a distinguishable error so callers can treat
// "not present" separately from "unreachable", rather than triggering
// failover.
func (c *Client) Query(ctx context.Context, path string, timeout time.Duration) (map[string]interface{}, error) {
	if timeout <= 0 {
		timeout = defaults.QueryTimeout
	}
	attempts := len(c.endpoints())
	if attempts == 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		url := c.active + path
		body, status, err := c.fetch(ctx, url, timeout)
		if err == nil && status == 404 {
			return nil, trace.Wrap(&notFoundError{path: path})
		}
		if err == nil && status >= 200 && status < 300 {
			var result map[string]interface{}
			if uerr := json.Unmarshal(body, &result); uerr != nil {
				c.log.WithError(uerr).WithField("url", url).Warn("Malformed JSON response")
				return map[string]interface{}{}, nil
			}
			return result, nil
		}
		if err == nil {
			err = fmt.Errorf("unexpected status %d", status)
		}
		c.log.WithError(err).WithField("url", url).Warn("REST query failed")
		c.unhealthy[c.active] = struct{}{}
		if !c.Health(ctx) {
			break
		}
	}
	c.log.WithField("path", path).Error("All REST endpoints failed")
	return map[string]interface{}{}, nil
}

// fetch performs a single GET request with the given per-call timeout,
// returning the response body and HTTP status code.
func (c *Client) fetch(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, trace.ConnectionProblem(err, "request to %s failed", rawURL)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, trace.Wrap(err)
	}
	return body, resp.StatusCode, nil
}
