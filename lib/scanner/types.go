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

// HomeChannel describes one channel discovered on the home chain's side of
// a connection: (connection, port, channel, counterparty port, counterparty
// channel, counterparty chain).
type HomeChannel struct {
	Connection string
	Port       string
	Channel    string
	CPPort     string
	CPChannel  string
	CPChain    string
}

// CPChannel describes one channel discovered directly on a counterparty
// chain, derived from the home chain's connection state without enumerating
// the counterparty's own clients.
type CPChannel struct {
	CPChain      string
	CPConnection string
	Port         string
	Channel      string
	CPPort       string
	CPChannel    string
	HomeChain    string
}

// Topology is the full set of tables produced by one successful scan. It is
// published atomically: readers never observe a partially rebuilt
// topology.
type Topology struct {
	// Clients is the set of home-side client IDs that survived the
	// counterparty-chain and whitelist/blacklist filters.
	Clients []string
	// ClientChainMap maps a home-side client ID to its counterparty chain
	// ID, as reported by that client's client_state.
	ClientChainMap map[string]string
	// ClientCounterpartyClientIDs maps a home-side client ID to the
	// counterparty client ID recorded on the first connection seen for
	// it.
	ClientCounterpartyClientIDs map[string]string

	// Connections is the set of home-side connection IDs that survived
	// filtering.
	Connections []string
	// ConnectionClientMap maps a home-side connection ID to the client ID
	// it was discovered under.
	ConnectionClientMap map[string]string

	// HomeChannels lists every channel found on the home chain's side of
	// a surviving connection.
	HomeChannels []HomeChannel

	// CPConnections maps a counterparty chain ID to the counterparty
	// connection IDs derived from home connection state, after
	// filtering.
	CPConnections map[string][]string
	// CPChannels lists every channel found directly on a counterparty
	// chain's side of a derived connection.
	CPChannels []CPChannel
}

func emptyTopology() *Topology {
	return &Topology{
		ClientChainMap:              make(map[string]string),
		ClientCounterpartyClientIDs: make(map[string]string),
		ConnectionClientMap:         make(map[string]string),
		CPConnections:               make(map[string][]string),
	}
}
