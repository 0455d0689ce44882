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

// Package defaults collects the default values shared by the config loader,
// REST client, scanner, accounting engine and scheduler.
package defaults

import "time"

const (
	// StateRefreshInterval is how often the state scanner is allowed to
	// rebuild the IBC topology tables, unless a chain overrides it.
	StateRefreshInterval = 1800 * time.Second

	// StateScanTimeout is the per-request timeout used while scanning IBC
	// topology (client/connection/channel discovery), unless a chain
	// overrides it.
	StateScanTimeout = 60 * time.Second

	// QueryTimeout is the default per-request timeout for everything other
	// than a topology scan (health probes, commitment/ack/unreceived-ack
	// queries, client-state/consensus-state queries).
	QueryTimeout = 3 * time.Second

	// ExporterAddress is the default listen address for the scrape
	// endpoint.
	ExporterAddress = "0.0.0.0"

	// ExporterPort is the default listen port for the scrape endpoint.
	ExporterPort = 8000

	// UpdateInterval is the default interval between scrape cycles.
	UpdateInterval = 30 * time.Second

	// LogLevel is the default logrus level name.
	LogLevel = "info"

	// SequenceBatchSize is the maximum number of sequences bundled into a
	// single repeated-query-parameter request (packet_acknowledgements /
	// unreceived_acks). Servers reject longer query strings, so this is a
	// protocol constraint, not a tunable.
	SequenceBatchSize = 100

	// ChainRegistryURLTemplate is the cosmos chain-registry document used
	// to discover fallback REST endpoints for a chain, keyed by the
	// chain's registry directory name.
	ChainRegistryURLTemplate = "https://raw.githubusercontent.com/cosmos/chain-registry/master/%s/chain.json"

	// NodeInfoPath is the gRPC-gateway REST path used for endpoint health
	// checks.
	NodeInfoPath = "/cosmos/base/tendermint/v1beta1/node_info"

	// ConfigPath is the default path to the TOML configuration file, matching
	// the CLI flag's documented default.
	ConfigPath = "config.toml.example"
)
