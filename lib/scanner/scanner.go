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

// Package scanner discovers, from a designated home chain, the set of IBC
// clients/connections/channels that connect it to each configured
// counterparty, and derives the matching objects on every counterparty from
// the home chain's own connection state — without ever enumerating a
// counterparty's clients.
package scanner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/ibc-backlog-exporter/lib/config"
	"github.com/gravitational/ibc-backlog-exporter/lib/filter"
	"github.com/gravitational/ibc-backlog-exporter/lib/logging"
	"github.com/gravitational/ibc-backlog-exporter/lib/pagination"
	"github.com/gravitational/ibc-backlog-exporter/lib/restclient"
)

const (
	clientStatesPath   = "/ibc/core/client/v1/client_states"
	clientConnsPathFmt = "/ibc/core/connection/v1/client_connections/%s"
	connectionPathFmt  = "/ibc/core/connection/v1/connections/%s"
	connChannelsFmt    = "/ibc/core/channel/v1/connections/%s/channels"
)

// Scanner periodically rediscovers IBC topology rooted at the home chain.
type Scanner struct {
	home       *restclient.Client
	homeChain  config.ChainConfig
	cpChainIDs map[string]struct{}
	restByChain map[string]*restclient.Client

	topology atomic.Pointer[Topology]
	lastScan time.Time

	log logging.Logger
}

// New constructs a Scanner rooted at home. It returns an error if home's
// chain ID doesn't match homeChain's configured chain ID: the scanner only
// ever runs against the designated home chain's own REST client.
func New(home *restclient.Client, homeChain config.ChainConfig, counterpartyChainIDs []string, restByChain map[string]*restclient.Client) (*Scanner, error) {
	if home.ChainID() != homeChain.ChainID {
		return nil, trace.BadParameter("REST client chain ID %q does not match configured home chain %q", home.ChainID(), homeChain.ChainID)
	}
	cpSet := make(map[string]struct{}, len(counterpartyChainIDs))
	for _, id := range counterpartyChainIDs {
		cpSet[id] = struct{}{}
	}
	s := &Scanner{
		home:        home,
		homeChain:   homeChain,
		cpChainIDs:  cpSet,
		restByChain: restByChain,
		log:         logging.ForChain(homeChain.ChainID),
	}
	s.topology.Store(emptyTopology())
	return s, nil
}

// Topology returns the most recently published topology snapshot. It is
// always a complete, consistent snapshot, never a partially rebuilt one.
func (s *Scanner) Topology() *Topology {
	return s.topology.Load()
}

// Scan rebuilds the topology tables if at least StateRefreshInterval has
// elapsed since the previous successful scan; otherwise it is a no-op.
func (s *Scanner) Scan(ctx context.Context) error {
	if !s.lastScan.IsZero() && time.Since(s.lastScan) < s.homeChain.StateRefreshInterval() {
		return nil
	}

	topo, err := s.scanOnce(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	s.topology.Store(topo)
	s.lastScan = time.Now()
	return nil
}

func (s *Scanner) scanOnce(ctx context.Context) (*Topology, error) {
	timeout := s.homeChain.StateScanTimeout()
	topo := emptyTopology()

	// 1) Clients.
	rawClients, err := pagination.All(ctx, s.home, clientStatesPath, "client_states", timeout, false)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var localClients []string
	for _, raw := range rawClients {
		entry, _ := raw.(map[string]interface{})
		clientID, _ := entry["client_id"].(string)
		clientState, _ := entry["client_state"].(map[string]interface{})
		chainID, _ := clientState["chain_id"].(string)
		if clientID == "" || chainID == "" {
			continue
		}
		if _, ok := s.cpChainIDs[chainID]; !ok {
			s.log.WithFields(map[string]interface{}{"client_id": clientID, "counterparty_chain_id": chainID}).Debug("Skipping client for unconfigured counterparty chain")
			continue
		}
		localClients = append(localClients, clientID)
		topo.ClientChainMap[clientID] = chainID
	}
	topo.Clients = filter.IDFilter(localClients, s.homeChain.WhitelistClients, s.homeChain.BlacklistClients)
	clientSet := make(map[string]struct{}, len(topo.Clients))
	for _, c := range topo.Clients {
		clientSet[c] = struct{}{}
	}
	for cid := range topo.ClientChainMap {
		if _, ok := clientSet[cid]; !ok {
			delete(topo.ClientChainMap, cid)
		}
	}

	// 2) Connections.
	var allConns []string
	cpConnPerChain := make(map[string]map[string]struct{})
	for _, clientID := range topo.Clients {
		connIDsRaw, err := pagination.All(ctx, s.home, fmt.Sprintf(clientConnsPathFmt, clientID), "connection_paths", timeout, true)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if len(connIDsRaw) == 0 {
			continue
		}
		for _, raw := range connIDsRaw {
			connID, _ := raw.(string)
			if connID == "" {
				continue
			}
			topo.ConnectionClientMap[connID] = clientID
			allConns = append(allConns, connID)

			connRes, err := s.home.Query(ctx, fmt.Sprintf(connectionPathFmt, connID), timeout)
			if err != nil && !restclient.IsNotFound(err) {
				return nil, trace.Wrap(err)
			}
			var connEntry map[string]interface{}
			if connRes != nil {
				connEntry, _ = connRes["connection"].(map[string]interface{})
			}
			cp, _ := connEntry["counterparty"].(map[string]interface{})
			cpClientID, _ := cp["client_id"].(string)
			cpConnectionID, _ := cp["connection_id"].(string)

			if cpClientID != "" {
				if _, exists := topo.ClientCounterpartyClientIDs[clientID]; !exists {
					topo.ClientCounterpartyClientIDs[clientID] = cpClientID
				}
			}
			cpChain := topo.ClientChainMap[clientID]
			if cpChain != "" && cpConnectionID != "" {
				set, ok := cpConnPerChain[cpChain]
				if !ok {
					set = make(map[string]struct{})
					cpConnPerChain[cpChain] = set
				}
				set[cpConnectionID] = struct{}{}
			}
		}
	}
	topo.Connections = filter.IDFilter(allConns, s.homeChain.WhitelistConnections, s.homeChain.BlacklistConnections)
	connSet := make(map[string]struct{}, len(topo.Connections))
	for _, c := range topo.Connections {
		connSet[c] = struct{}{}
	}
	for conn := range topo.ConnectionClientMap {
		if _, ok := connSet[conn]; !ok {
			delete(topo.ConnectionClientMap, conn)
		}
	}

	// 3) Home channels.
	for _, conn := range topo.Connections {
		chsRaw, err := pagination.All(ctx, s.home, fmt.Sprintf(connChannelsFmt, conn), "channels", timeout, true)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		localClient := topo.ConnectionClientMap[conn]
		cpChain := topo.ClientChainMap[localClient]
		for _, raw := range chsRaw {
			entry, _ := raw.(map[string]interface{})
			port, _ := entry["port_id"].(string)
			channel, _ := entry["channel_id"].(string)
			cp, _ := entry["counterparty"].(map[string]interface{})
			cpPort, _ := cp["port_id"].(string)
			cpChannel, _ := cp["channel_id"].(string)
			if !filter.ChannelFilter(port, channel, s.homeChain.WhitelistChannels, s.homeChain.BlacklistChannels) {
				continue
			}
			topo.HomeChannels = append(topo.HomeChannels, HomeChannel{
				Connection: conn,
				Port:       port,
				Channel:    channel,
				CPPort:     cpPort,
				CPChannel:  cpChannel,
				CPChain:    cpChain,
			})
		}
	}

	// 4) Counterparty channels, derived from home-side connection state.
	for cpChain, cpConnSet := range cpConnPerChain {
		rc, ok := s.restByChain[cpChain]
		if !ok {
			s.log.WithField("counterparty_chain_id", cpChain).Debug("No REST client configured for counterparty chain; skipping")
			continue
		}
		cpConnIDs := make([]string, 0, len(cpConnSet))
		for id := range cpConnSet {
			cpConnIDs = append(cpConnIDs, id)
		}
		cpConnIDs = filter.IDFilter(cpConnIDs, s.homeChain.WhitelistConnections, s.homeChain.BlacklistConnections)
		topo.CPConnections[cpChain] = cpConnIDs

		for _, cpConn := range cpConnIDs {
			chsRaw, err := pagination.All(ctx, rc, fmt.Sprintf(connChannelsFmt, cpConn), "channels", timeout, true)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			for _, raw := range chsRaw {
				entry, _ := raw.(map[string]interface{})
				port, _ := entry["port_id"].(string)
				channel, _ := entry["channel_id"].(string)
				cp, _ := entry["counterparty"].(map[string]interface{})
				cpPort, _ := cp["port_id"].(string)
				cpChannel, _ := cp["channel_id"].(string)
				topo.CPChannels = append(topo.CPChannels, CPChannel{
					CPChain:      cpChain,
					CPConnection: cpConn,
					Port:         port,
					Channel:      channel,
					CPPort:       cpPort,
					CPChannel:    cpChannel,
					HomeChain:    s.homeChain.ChainID,
				})
			}
		}
	}

	s.log.WithFields(map[string]interface{}{
		"clients":          len(topo.Clients),
		"connections":      len(topo.Connections),
		"home_channels":    len(topo.HomeChannels),
		"cp_chains":        len(topo.CPConnections),
		"cp_channels":      len(topo.CPChannels),
	}).Info("State scan complete")

	return topo, nil
}
