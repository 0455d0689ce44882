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

package backlog

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/gravitational/ibc-backlog-exporter/lib/defaults"
	"github.com/gravitational/ibc-backlog-exporter/lib/restclient"
)

const (
	clientStatePathFmt      = "/ibc/core/client/v1/client_states/%s"
	consensusStateHeightFmt = "/ibc/core/client/v1/consensus_states/%s/revision/%d/height/%d"
	consensusStatesPathFmt  = "/ibc/core/client/v1/consensus_states/%s"
)

// durationPattern is a literal port of the reference implementation's
// DURATION_RE: an "NhNmNs" string with any subset of components present.
var durationPattern = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// parseDurationSeconds converts a trusting_period string like "720h",
// "5m30s" or "" into a whole number of seconds. An unparseable string
// yields 0, matching the engine's parse-error-to-zero policy.
func parseDurationSeconds(s string) int64 {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	var total int64
	if m[1] != "" {
		h, _ := strconv.ParseInt(m[1], 10, 64)
		total += h * 3600
	}
	if m[2] != "" {
		min, _ := strconv.ParseInt(m[2], 10, 64)
		total += min * 60
	}
	if m[3] != "" {
		s, _ := strconv.ParseInt(m[3], 10, 64)
		total += s
	}
	return total
}

// parseConsensusTimestamp parses an RFC3339 timestamp with fractional
// seconds of arbitrary precision, truncating beyond what time.Time itself
// retains, to a whole number of epoch seconds. An unparseable timestamp
// yields 0.
func parseConsensusTimestamp(s string) int64 {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// UpdateClientHealth resolves and emits the trusting-period and
// last-consensus-timestamp gauges for ref, then mirrors both onto ref's
// counterparty client when one is known. Failures set gauges to 0 rather
// than propagating an error: a failed client-state query zeroes both gauges,
// and a failed consensus-state lookup zeroes only the timestamp gauge.
func (e *Engine) UpdateClientHealth(ctx context.Context, ref ClientRef) {
	e.emitClientHealth(ctx, ref.Client, ref.ClientID, ref.ChainID, ref.CounterpartyChainID, ref.CounterpartyClientID)
	if ref.CounterpartyClient != nil && ref.CounterpartyClientID != "" {
		e.emitClientHealth(ctx, ref.CounterpartyClient, ref.CounterpartyClientID, ref.CounterpartyChainID, ref.ChainID, ref.ClientID)
	}
}

func (e *Engine) emitClientHealth(ctx context.Context, client *restclient.Client, clientID, chainID, cpChainID, cpClientID string) {
	labels := []string{clientID, chainID, cpChainID, cpClientID}

	trustingSeconds, latestHeight, ok := e.fetchClientState(ctx, client, clientID)
	if !ok {
		e.metrics.ClientTrustingPeriodSeconds.WithLabelValues(labels...).Set(0)
		e.metrics.ClientLastUpdateTimestampSeconds.WithLabelValues(labels...).Set(0)
		return
	}
	e.metrics.ClientTrustingPeriodSeconds.WithLabelValues(labels...).Set(float64(trustingSeconds))

	ts := e.fetchConsensusTimestamp(ctx, client, clientID, latestHeight)
	e.metrics.ClientLastUpdateTimestampSeconds.WithLabelValues(labels...).Set(float64(ts))
}

type clientHeight struct {
	revisionNumber int64
	revisionHeight int64
}

func (e *Engine) fetchClientState(ctx context.Context, client *restclient.Client, clientID string) (trustingSeconds int64, height clientHeight, ok bool) {
	res, err := client.Query(ctx, fmt.Sprintf(clientStatePathFmt, clientID), defaults.QueryTimeout)
	if err != nil {
		return 0, clientHeight{}, false
	}
	state, _ := res["client_state"].(map[string]interface{})
	if state == nil {
		return 0, clientHeight{}, false
	}
	trustingPeriod, _ := state["trusting_period"].(string)
	latest, _ := state["latest_height"].(map[string]interface{})
	height = parseHeight(latest)
	return parseDurationSeconds(trustingPeriod), height, true
}

func (e *Engine) fetchConsensusTimestamp(ctx context.Context, client *restclient.Client, clientID string, height clientHeight) int64 {
	if height.revisionHeight != 0 || height.revisionNumber != 0 {
		path := fmt.Sprintf(consensusStateHeightFmt, clientID, height.revisionNumber, height.revisionHeight)
		if res, err := client.Query(ctx, path, defaults.QueryTimeout); err == nil {
			if cs, ok := res["consensus_state"].(map[string]interface{}); ok {
				if ts, ok := cs["timestamp"].(string); ok {
					if parsed := parseConsensusTimestamp(ts); parsed != 0 {
						return parsed
					}
				}
			}
		}
	}

	res, err := client.Query(ctx, fmt.Sprintf(consensusStatesPathFmt, clientID), defaults.QueryTimeout)
	if err != nil {
		return 0
	}
	list, _ := res["consensus_states"].([]interface{})
	var best clientHeight
	var bestTS string
	found := false
	for _, raw := range list {
		entry, _ := raw.(map[string]interface{})
		h := parseHeight(entry["height"])
		cs, _ := entry["consensus_state"].(map[string]interface{})
		ts, _ := cs["timestamp"].(string)
		if ts == "" {
			continue
		}
		if !found || heightLess(best, h) {
			best = h
			bestTS = ts
			found = true
		}
	}
	if !found {
		return 0
	}
	return parseConsensusTimestamp(bestTS)
}

func parseHeight(raw interface{}) clientHeight {
	m, _ := raw.(map[string]interface{})
	return clientHeight{
		revisionNumber: parseHeightField(m["revision_number"]),
		revisionHeight: parseHeightField(m["revision_height"]),
	}
}

func parseHeightField(raw interface{}) int64 {
	switch v := raw.(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// heightLess reports whether a sorts before b under the lexicographic
// (revision_number, revision_height) ordering used to pick the latest
// consensus state when a direct height lookup isn't available.
func heightLess(a, b clientHeight) bool {
	if a.revisionNumber != b.revisionNumber {
		return a.revisionNumber < b.revisionNumber
	}
	return a.revisionHeight < b.revisionHeight
}

func nowUnix() int64 { return time.Now().Unix() }
