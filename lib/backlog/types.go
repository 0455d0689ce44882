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

import "github.com/gravitational/ibc-backlog-exporter/lib/restclient"

// ChannelKey identifies one directed channel endpoint: the chain it lives
// on, the connection it rides, and its own port/channel pair. Pending
// send-packet and ack state is tracked per ChannelKey, never per physical
// channel pair, since the two directions of a channel are accounted for
// independently.
type ChannelKey struct {
	ChainID      string
	ConnectionID string
	PortID       string
	ChannelID    string
}

// PendingMap tracks, for a given ChannelKey, the set of sequences currently
// believed pending and the epoch-second timestamp each was first observed.
type PendingMap map[ChannelKey]map[int64]int64

// ChannelRef bundles everything UpdateChannel needs to account for one
// directed channel: the sending side (this channel's own chain, connection,
// port and channel) and the receiving side (its counterparty). RecvClient is
// nil when no REST client is configured for the counterparty chain, in
// which case the unreceived-ack set is treated as empty for the cycle.
type ChannelRef struct {
	Key        ChannelKey
	SendClient *restclient.Client

	RecvClient  *restclient.Client
	RecvChainID string
	RecvPort    string
	RecvChannel string
}

// ClientRef identifies one home-side light client and its resolved
// counterparty, for the client health metrics sub-algorithm.
type ClientRef struct {
	ClientID             string
	ChainID              string
	CounterpartyChainID  string
	CounterpartyClientID string

	Client           *restclient.Client
	CounterpartyClient *restclient.Client
}
