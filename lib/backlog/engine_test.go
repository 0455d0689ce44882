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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/ibc-backlog-exporter/lib/config"
	"github.com/gravitational/ibc-backlog-exporter/lib/metrics"
	"github.com/gravitational/ibc-backlog-exporter/lib/restclient"
)

func excludedSet(channel string, seqs ...int64) config.ExcludedSequences {
	set := make(map[int64]struct{}, len(seqs))
	for _, s := range seqs {
		set[s] = struct{}{}
	}
	return config.ExcludedSequences{channel: set}
}

// scriptedChain serves canned JSON bodies keyed by request path plus query
// string, or else by the bare path, and falls back to an empty body for
// anything unlisted.
func scriptedChain(t *testing.T, responses map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path+"?"+r.URL.RawQuery]
		if !ok {
			body, ok = responses[r.URL.Path]
		}
		if !ok {
			w.Write([]byte(`{}`))
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func newTestEngine() *Engine {
	reg := metrics.New(nil)
	return NewEngine(reg, nil)
}

// S1 — Basic backlog accounting.
func TestUpdateChannelBasicAccounting(t *testing.T) {
	home := scriptedChain(t, map[string]interface{}{
		"/ibc/core/channel/v1/channels/ch1/ports/port1/packet_commitments": map[string]interface{}{
			"commitments": []interface{}{
				map[string]interface{}{"sequence": "1"},
				map[string]interface{}{"sequence": "2"},
				map[string]interface{}{"sequence": "3"},
			},
		},
		"/ibc/core/channel/v1/channels/ch1/ports/port1/unreceived_acks?packet_ack_sequences=2&packet_ack_sequences=3": map[string]interface{}{
			"sequences": []interface{}{"3"},
		},
	})
	defer home.Close()

	cp := scriptedChain(t, map[string]interface{}{
		"/ibc/core/channel/v1/channels/ch2/ports/port2/packet_acknowledgements?packet_commitment_sequences=1&packet_commitment_sequences=3": map[string]interface{}{
			"acknowledgements": []interface{}{
				map[string]interface{}{"sequence": "2"},
				map[string]interface{}{"sequence": "3"},
			},
		},
	})
	defer cp.Close()

	e := newTestEngine()
	e.excluded = excludedSet("ch1", 2)

	ref := ChannelRef{
		Key:         ChannelKey{ChainID: "chain-1", ConnectionID: "conn1", PortID: "port1", ChannelID: "ch1"},
		SendClient:  restclient.New("chain-1", "chain-1", home.URL, nil),
		RecvClient:  restclient.New("chain-2", "chain-2", cp.URL, nil),
		RecvChainID: "chain-2",
		RecvPort:    "port2",
		RecvChannel: "ch2",
	}

	require.NoError(t, e.UpdateChannel(context.Background(), ref, 1000))

	labels := []string{"chain-1", "conn1", "port1", "ch1", "chain-2", "port2", "ch2"}
	assert.Equal(t, float64(2), testutil.ToFloat64(e.metrics.SendPacketBacklogSize.WithLabelValues(labels...)))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.SendPacketBacklogOldestSequence.WithLabelValues(labels...)))
	assert.Equal(t, float64(3), testutil.ToFloat64(e.metrics.AckPacketBacklogOldestSequence.WithLabelValues(labels...)))
}

// S2 — Stability of first-seen, S3 — sequence drained.
func TestUpdateChannelFirstSeenStabilityAndDrain(t *testing.T) {
	mkHome := func(seqs ...string) *httptest.Server {
		entries := make([]interface{}, len(seqs))
		for i, s := range seqs {
			entries[i] = map[string]interface{}{"sequence": s}
		}
		return scriptedChain(t, map[string]interface{}{
			"/ibc/core/channel/v1/channels/ch1/ports/port1/packet_commitments": map[string]interface{}{
				"commitments": entries,
			},
		})
	}

	e := newTestEngine()

	home1 := mkHome("1")
	defer home1.Close()
	ref := ChannelRef{
		Key:        ChannelKey{ChainID: "chain-1", ConnectionID: "conn1", PortID: "port1", ChannelID: "ch1"},
		SendClient: restclient.New("chain-1", "chain-1", home1.URL, nil),
	}
	require.NoError(t, e.UpdateChannel(context.Background(), ref, 1000))
	labels := []string{"chain-1", "conn1", "port1", "ch1", "", "", ""}
	assert.Equal(t, float64(1000), testutil.ToFloat64(e.metrics.SendPacketBacklogOldestTimestampSeconds.WithLabelValues(labels...)))

	// Second scrape, five minutes later, identical upstream state: the
	// first-seen timestamp must not move.
	home2 := mkHome("1")
	defer home2.Close()
	ref.SendClient = restclient.New("chain-1", "chain-1", home2.URL, nil)
	require.NoError(t, e.UpdateChannel(context.Background(), ref, 1300))
	assert.Equal(t, float64(1000), testutil.ToFloat64(e.metrics.SendPacketBacklogOldestTimestampSeconds.WithLabelValues(labels...)))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.SendPacketBacklogOldestSequence.WithLabelValues(labels...)))

	// Third scrape drops sequence 1 from upstream commitments entirely.
	home3 := mkHome()
	defer home3.Close()
	ref.SendClient = restclient.New("chain-1", "chain-1", home3.URL, nil)
	require.NoError(t, e.UpdateChannel(context.Background(), ref, 1600))
	assert.Equal(t, float64(0), testutil.ToFloat64(e.metrics.SendPacketBacklogSize.WithLabelValues(labels...)))
	assert.Equal(t, float64(0), testutil.ToFloat64(e.metrics.SendPacketBacklogOldestSequence.WithLabelValues(labels...)))
}

func TestOldestSeqAndTimestampEmptyMapYieldsZero(t *testing.T) {
	seq, ts := oldestSeqAndTimestamp(map[int64]int64{})
	assert.Equal(t, int64(0), seq)
	assert.Equal(t, int64(0), ts)
}

func TestOldestSeqAndTimestampPicksMinimum(t *testing.T) {
	seq, ts := oldestSeqAndTimestamp(map[int64]int64{5: 50, 1: 10, 3: 30})
	assert.Equal(t, int64(1), seq)
	assert.Equal(t, int64(10), ts)
}
