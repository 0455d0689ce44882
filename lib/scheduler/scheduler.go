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

// Package scheduler drives the exporter's main loop: health probes, state
// scans, backlog accounting and gauge emission, on a fixed tick, until its
// context is cancelled.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gravitational/ibc-backlog-exporter/lib/backlog"
	"github.com/gravitational/ibc-backlog-exporter/lib/config"
	"github.com/gravitational/ibc-backlog-exporter/lib/logging"
	"github.com/gravitational/ibc-backlog-exporter/lib/metrics"
	"github.com/gravitational/ibc-backlog-exporter/lib/restclient"
	"github.com/gravitational/ibc-backlog-exporter/lib/scanner"
)

// Scheduler owns the exporter's infinite update loop. A single instance
// drives every configured chain; per-channel and per-client I/O within a
// cycle is fanned out across goroutines and joined before the cycle is
// considered complete, so the next cycle never observes a partial one.
// Because a single *restclient.Client can be the send side of one channel
// and the recv side of another, chainLocks (not goroutine grouping) is
// what keeps each client exclusively owned by one goroutine at a time.
type Scheduler struct {
	cfg *config.Config

	homeChainID string
	restClients map[string]*restclient.Client // chain_id -> client, includes home

	// chainLocks has one mutex per entry in restClients. A REST client is
	// only ever touched while its chain's lock is held, so two goroutines
	// can never call into the same *restclient.Client concurrently, no
	// matter which direction (send-side or recv-side) of which channel
	// brought them there.
	chainLocks map[string]*sync.Mutex

	scanner *scanner.Scanner
	engine  *backlog.Engine
	metrics *metrics.Registry

	log logging.Logger
}

// New constructs a Scheduler. restClients must contain an entry for cfg's
// home chain and for every counterparty the caller wants health-probed and
// accounted for; entries for counterparties with no configured REST client
// may simply be absent.
func New(cfg *config.Config, restClients map[string]*restclient.Client, sc *scanner.Scanner, engine *backlog.Engine, reg *metrics.Registry) *Scheduler {
	locks := make(map[string]*sync.Mutex, len(restClients))
	for chainID := range restClients {
		locks[chainID] = &sync.Mutex{}
	}
	return &Scheduler{
		cfg:         cfg,
		homeChainID: cfg.HomeChain.ChainID,
		restClients: restClients,
		chainLocks:  locks,
		scanner:     sc,
		engine:      engine,
		metrics:     reg,
		log:         logging.ForChain(cfg.HomeChain.ChainID),
	}
}

// withChains locks every distinct, known chain ID in ids, in a fixed sorted
// order so two concurrent callers locking the same pair in opposite
// directions can't deadlock, runs fn, and unlocks them all.
func (s *Scheduler) withChains(ids []string, fn func()) {
	seen := make(map[string]struct{}, len(ids))
	sorted := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		if _, ok := s.chainLocks[id]; !ok {
			continue
		}
		seen[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	for _, id := range sorted {
		s.chainLocks[id].Lock()
		defer s.chainLocks[id].Unlock()
	}
	fn()
}

// Run drives the update loop until ctx is cancelled. The first cycle runs
// immediately; subsequent cycles run every cfg.UpdateInterval.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.UpdateInterval)
	defer ticker.Stop()

	s.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle performs one wake: health probes, conditional scan, backlog
// accounting for every reachable chain, and freshness-timestamp emission.
// It never returns an error; every sub-step's failure is isolated to the
// chain or channel it affects, per the engine's recovery policy.
func (s *Scheduler) runCycle(ctx context.Context) {
	healthy := s.probeHealth(ctx)

	homeHealthy, ok := healthy[s.homeChainID]
	if !ok || !homeHealthy {
		s.log.Warn("Home chain REST endpoint unreachable; skipping cycle")
		return
	}

	if err := s.scanner.Scan(ctx); err != nil {
		s.log.WithError(err).Warn("State scan failed")
		return
	}
	topo := s.scanner.Topology()

	s.updateClientHealth(ctx, topo)
	s.updateChannels(ctx, topo, healthy)

	now := s.engine.Now()
	if healthy[s.homeChainID] {
		s.engine.EmitBacklogUpdateTime(s.homeChainID, now)
	}
	for chainID, ok := range healthy {
		if chainID == s.homeChainID || !ok {
			continue
		}
		s.engine.EmitBacklogUpdateTime(chainID, now)
	}
}

// probeHealth checks every configured REST client concurrently, emits the
// rest_health gauge for each, and returns the per-chain healthy/unhealthy
// result so the rest of the cycle can skip chains that didn't answer.
func (s *Scheduler) probeHealth(ctx context.Context) map[string]bool {
	result := make(map[string]bool, len(s.restClients))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for chainID, client := range s.restClients {
		chainID, client := chainID, client
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := client.Health(ctx)
			gauge := 0.0
			if ok {
				gauge = 1.0
			}
			s.metrics.RESTHealth.WithLabelValues(chainID, client.Endpoint()).Set(gauge)

			mu.Lock()
			result[chainID] = ok
			mu.Unlock()
		}()
	}
	wg.Wait()
	return result
}

// updateClientHealth emits trusting-period and last-update-timestamp
// gauges for every surviving home-side client discovered in topo. Every
// ref shares the home chain's REST client, and refs sharing a counterparty
// chain share that client too, so each goroutine locks both chains it will
// touch before calling into the engine.
func (s *Scheduler) updateClientHealth(ctx context.Context, topo *scanner.Topology) {
	var wg sync.WaitGroup
	for _, clientID := range topo.Clients {
		cpChainID := topo.ClientChainMap[clientID]
		ref := backlog.ClientRef{
			ClientID:             clientID,
			ChainID:              s.homeChainID,
			CounterpartyChainID:  cpChainID,
			CounterpartyClientID: topo.ClientCounterpartyClientIDs[clientID],
			Client:               s.restClients[s.homeChainID],
			CounterpartyClient:   s.restClients[cpChainID],
		}
		wg.Add(1)
		go func(ref backlog.ClientRef) {
			defer wg.Done()
			s.withChains([]string{ref.ChainID, ref.CounterpartyChainID}, func() {
				s.engine.UpdateClientHealth(ctx, ref)
			})
		}(ref)
	}
	wg.Wait()
}

// updateChannels runs the backlog accounting pass over every home channel
// and then every counterparty channel in topo, skipping chains that didn't
// answer their health probe this cycle. Every channel update touches two
// REST clients (its send side and its recv side); each goroutine locks
// both chains involved before calling into the engine, so a client is
// never queried by more than one goroutine at a time regardless of how
// many channels route through it.
func (s *Scheduler) updateChannels(ctx context.Context, topo *scanner.Topology, healthy map[string]bool) {
	var wg sync.WaitGroup
	now := s.engine.Now()

	for _, ch := range topo.HomeChannels {
		if !healthy[s.homeChainID] {
			continue
		}
		ref := backlog.ChannelRef{
			Key: backlog.ChannelKey{
				ChainID:      s.homeChainID,
				ConnectionID: ch.Connection,
				PortID:       ch.Port,
				ChannelID:    ch.Channel,
			},
			SendClient:  s.restClients[s.homeChainID],
			RecvClient:  s.restClients[ch.CPChain],
			RecvChainID: ch.CPChain,
			RecvPort:    ch.CPPort,
			RecvChannel: ch.CPChannel,
		}
		if !healthy[ch.CPChain] {
			ref.RecvClient = nil
		}
		wg.Add(1)
		go func(ref backlog.ChannelRef) {
			defer wg.Done()
			s.withChains([]string{ref.Key.ChainID, ref.RecvChainID}, func() {
				if err := s.engine.UpdateChannel(ctx, ref, now); err != nil {
					s.log.WithError(err).WithField("channel_id", ref.Key.ChannelID).Debug("Channel update failed")
				}
			})
		}(ref)
	}
	wg.Wait()

	for _, ch := range topo.CPChannels {
		if !healthy[ch.CPChain] {
			continue
		}
		ref := backlog.ChannelRef{
			Key: backlog.ChannelKey{
				ChainID:      ch.CPChain,
				ConnectionID: ch.CPConnection,
				PortID:       ch.Port,
				ChannelID:    ch.Channel,
			},
			SendClient:  s.restClients[ch.CPChain],
			RecvClient:  s.restClients[ch.HomeChain],
			RecvChainID: ch.HomeChain,
			RecvPort:    ch.CPPort,
			RecvChannel: ch.CPChannel,
		}
		if !healthy[ch.HomeChain] {
			ref.RecvClient = nil
		}
		wg.Add(1)
		go func(ref backlog.ChannelRef) {
			defer wg.Done()
			s.withChains([]string{ref.Key.ChainID, ref.RecvChainID}, func() {
				if err := s.engine.UpdateChannel(ctx, ref, now); err != nil {
					s.log.WithError(err).WithField("channel_id", ref.Key.ChannelID).Debug("Channel update failed")
				}
			})
		}(ref)
	}
	wg.Wait()
}
