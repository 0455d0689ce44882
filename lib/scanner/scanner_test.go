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

package scanner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/ibc-backlog-exporter/lib/config"
	"github.com/gravitational/ibc-backlog-exporter/lib/restclient"
)

func jsonHandler(responses map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}
}

func TestNewRejectsChainIDMismatch(t *testing.T) {
	server := httptest.NewServer(jsonHandler(nil))
	defer server.Close()
	client := restclient.New("chain-1", "chain-1", server.URL, nil)

	_, err := New(client, config.ChainConfig{ChainID: "other-chain"}, nil, nil)
	require.Error(t, err)
}

// S6 — 404 on connections. Home has a client with no connections (404).
// Scanner leaves that client's connection set empty; no channels emitted
// for it; no error surfaces.
func TestScanHandles404OnClientConnections(t *testing.T) {
	home := httptest.NewServer(jsonHandler(map[string]interface{}{
		"/ibc/core/client/v1/client_states": map[string]interface{}{
			"client_states": []interface{}{
				map[string]interface{}{
					"client_id":    "07-tendermint-0",
					"client_state": map[string]interface{}{"chain_id": "chain-2"},
				},
			},
		},
		// client_connections/{id} deliberately absent -> 404.
	}))
	defer home.Close()

	client := restclient.New("chain-1", "chain-1", home.URL, nil)
	homeCfg := config.ChainConfig{ChainID: "chain-1", HomeChain: true}

	sc, err := New(client, homeCfg, []string{"chain-2"}, map[string]*restclient.Client{})
	require.NoError(t, err)

	require.NoError(t, sc.Scan(context.Background()))
	topo := sc.Topology()

	assert.Equal(t, []string{"07-tendermint-0"}, topo.Clients)
	assert.Empty(t, topo.Connections)
	assert.Empty(t, topo.HomeChannels)
}

func TestScanDiscoversHomeAndCounterpartyChannels(t *testing.T) {
	home := httptest.NewServer(jsonHandler(map[string]interface{}{
		"/ibc/core/client/v1/client_states": map[string]interface{}{
			"client_states": []interface{}{
				map[string]interface{}{
					"client_id":    "07-tendermint-0",
					"client_state": map[string]interface{}{"chain_id": "chain-2"},
				},
			},
		},
		"/ibc/core/connection/v1/client_connections/07-tendermint-0": map[string]interface{}{
			"connection_paths": []interface{}{"connection-0"},
		},
		"/ibc/core/connection/v1/connections/connection-0": map[string]interface{}{
			"connection": map[string]interface{}{
				"counterparty": map[string]interface{}{
					"client_id":     "07-tendermint-5",
					"connection_id": "connection-9",
				},
			},
		},
		"/ibc/core/channel/v1/connections/connection-0/channels": map[string]interface{}{
			"channels": []interface{}{
				map[string]interface{}{
					"port_id":    "transfer",
					"channel_id": "channel-0",
					"counterparty": map[string]interface{}{
						"port_id":    "transfer",
						"channel_id": "channel-7",
					},
				},
			},
		},
	}))
	defer home.Close()

	cp := httptest.NewServer(jsonHandler(map[string]interface{}{
		"/ibc/core/channel/v1/connections/connection-9/channels": map[string]interface{}{
			"channels": []interface{}{
				map[string]interface{}{
					"port_id":    "transfer",
					"channel_id": "channel-7",
					"counterparty": map[string]interface{}{
						"port_id":    "transfer",
						"channel_id": "channel-0",
					},
				},
			},
		},
	}))
	defer cp.Close()

	homeClient := restclient.New("chain-1", "chain-1", home.URL, nil)
	cpClient := restclient.New("chain-2", "chain-2", cp.URL, nil)
	homeCfg := config.ChainConfig{ChainID: "chain-1", HomeChain: true}

	sc, err := New(homeClient, homeCfg, []string{"chain-2"}, map[string]*restclient.Client{"chain-2": cpClient})
	require.NoError(t, err)
	require.NoError(t, sc.Scan(context.Background()))

	topo := sc.Topology()
	require.Len(t, topo.HomeChannels, 1)
	assert.Equal(t, HomeChannel{
		Connection: "connection-0", Port: "transfer", Channel: "channel-0",
		CPPort: "transfer", CPChannel: "channel-7", CPChain: "chain-2",
	}, topo.HomeChannels[0])

	require.Len(t, topo.CPChannels, 1)
	assert.Equal(t, CPChannel{
		CPChain: "chain-2", CPConnection: "connection-9", Port: "transfer", Channel: "channel-7",
		CPPort: "transfer", CPChannel: "channel-0", HomeChain: "chain-1",
	}, topo.CPChannels[0])
}

func TestScanThrottlesRefreshWithinInterval(t *testing.T) {
	calls := 0
	home := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"client_states": []interface{}{}})
	}))
	defer home.Close()

	client := restclient.New("chain-1", "chain-1", home.URL, nil)
	homeCfg := config.ChainConfig{ChainID: "chain-1", HomeChain: true, StateRefreshIntervalSeconds: 1800}

	sc, err := New(client, homeCfg, nil, nil)
	require.NoError(t, err)

	require.NoError(t, sc.Scan(context.Background()))
	require.NoError(t, sc.Scan(context.Background()))
	assert.Equal(t, 1, calls, "second scan within the refresh interval should be a no-op")
}
