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

// Package backlog recomputes, per channel and per scrape, the pending
// send-packet and unreceived-ack sets against a Cosmos chain's REST API,
// maintains first-seen stability across scrapes, and republishes the result
// as Prometheus gauges.
package backlog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/ibc-backlog-exporter/lib/config"
	"github.com/gravitational/ibc-backlog-exporter/lib/defaults"
	"github.com/gravitational/ibc-backlog-exporter/lib/logging"
	"github.com/gravitational/ibc-backlog-exporter/lib/metrics"
	"github.com/gravitational/ibc-backlog-exporter/lib/pagination"
	"github.com/gravitational/ibc-backlog-exporter/lib/restclient"
)

const (
	commitmentsPathFmt  = "/ibc/core/channel/v1/channels/%s/ports/%s/packet_commitments"
	acksPathFmt         = "/ibc/core/channel/v1/channels/%s/ports/%s/packet_acknowledgements"
	unreceivedPathFmt   = "/ibc/core/channel/v1/channels/%s/ports/%s/unreceived_acks"
)

// Engine recomputes channel backlogs and client health metrics and writes
// the results into a metrics.Registry. Now is an injectable clock seam so
// tests can assert exact first-seen timestamps without sleeping.
type Engine struct {
	metrics  *metrics.Registry
	excluded config.ExcludedSequences

	// mu guards pendingPackets/pendingAcks: UpdateChannel runs concurrently
	// across channels, and a Go map is not safe for unsynchronized
	// concurrent access even across disjoint keys.
	mu             sync.Mutex
	pendingPackets PendingMap
	pendingAcks    PendingMap

	Now func() int64

	log logging.Logger
}

// NewEngine constructs an Engine that writes to reg and honors excluded.
func NewEngine(reg *metrics.Registry, excluded config.ExcludedSequences) *Engine {
	return &Engine{
		metrics:        reg,
		excluded:       excluded,
		pendingPackets: make(PendingMap),
		pendingAcks:    make(PendingMap),
		Now:            nowUnix,
		log:            logging.New(logrus.NewEntry(logrus.StandardLogger())).WithField("component", "backlog"),
	}
}

// UpdateChannel performs the six-step per-channel accounting pass described
// by the engine's design: observed commitments, send-packet pending update,
// filtered receiving-side acks, sending-side unreceived acks, ack pending
// update, gauge emission. now is the epoch-second timestamp shared by every
// insertion made during this call, so that sequences first observed in the
// same scrape share one first-seen value.
//
// Any sub-query failure aborts this channel for the cycle: the pending maps
// are left exactly as they were and the error is returned for the caller to
// log, never propagated as a fatal condition.
func (e *Engine) UpdateChannel(ctx context.Context, ref ChannelRef, now int64) error {
	log := e.log.WithFields(map[string]interface{}{
		"chain_id":   ref.Key.ChainID,
		"channel_id": ref.Key.ChannelID,
		"port_id":    ref.Key.PortID,
	})

	cvalid, err := e.observedCommitments(ctx, ref)
	if err != nil {
		log.WithError(err).Debug("Failed to fetch packet commitments; skipping channel for this cycle")
		return trace.Wrap(err)
	}

	var unreceived map[int64]struct{}
	if ref.RecvClient != nil && len(cvalid) > 0 {
		acked, err := e.filteredAcks(ctx, ref, cvalid)
		if err != nil {
			log.WithError(err).Debug("Failed to fetch packet acknowledgements; skipping channel for this cycle")
			return trace.Wrap(err)
		}
		unreceived, err = e.unreceivedAcks(ctx, ref, acked)
		if err != nil {
			log.WithError(err).Debug("Failed to fetch unreceived acks; skipping channel for this cycle")
			return trace.Wrap(err)
		}
	}

	// Every sub-query for this channel succeeded: commit both pending maps
	// together. Committing earlier would leave pendingPackets mutated while
	// pendingAcks is stale if a later query above failed.
	e.mu.Lock()
	defer e.mu.Unlock()

	pending := e.pendingPackets[ref.Key]
	if pending == nil {
		pending = make(map[int64]int64)
	}
	updatePending(pending, cvalid, now)
	e.pendingPackets[ref.Key] = pending

	acks := e.pendingAcks[ref.Key]
	if acks == nil {
		acks = make(map[int64]int64)
	}
	updatePendingSet(acks, unreceived, now)
	e.pendingAcks[ref.Key] = acks

	e.emitChannelGauges(ref, pending, acks)
	return nil
}

func (e *Engine) observedCommitments(ctx context.Context, ref ChannelRef) (map[int64]struct{}, error) {
	raw, err := pagination.All(ctx, ref.SendClient, fmt.Sprintf(commitmentsPathFmt, ref.Key.ChannelID, ref.Key.PortID), "commitments", defaults.QueryTimeout, true)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make(map[int64]struct{}, len(raw))
	for _, entry := range raw {
		m, _ := entry.(map[string]interface{})
		seq, ok := parseSequence(m["sequence"])
		if !ok {
			continue
		}
		if e.excluded.IsExcluded(ref.Key.ChannelID, seq) {
			continue
		}
		out[seq] = struct{}{}
	}
	return out, nil
}

func (e *Engine) filteredAcks(ctx context.Context, ref ChannelRef, cvalid map[int64]struct{}) (map[int64]struct{}, error) {
	seqs := sortedKeys(cvalid)
	path := fmt.Sprintf(acksPathFmt, ref.RecvChannel, ref.RecvPort)
	return e.batchedSequenceQuery(ctx, ref.RecvClient, path, "packet_commitment_sequences", "acknowledgements", seqs)
}

func (e *Engine) unreceivedAcks(ctx context.Context, ref ChannelRef, acked map[int64]struct{}) (map[int64]struct{}, error) {
	seqs := sortedKeys(acked)
	path := fmt.Sprintf(unreceivedPathFmt, ref.Key.ChannelID, ref.Key.PortID)
	return e.batchedSequenceQuery(ctx, ref.SendClient, path, "packet_ack_sequences", "sequences", seqs)
}

// batchedSequenceQuery issues one request per SequenceBatchSize-sized chunk
// of seqs, collecting listKey from every response. The list may contain
// either bare sequence numbers (unreceived_acks) or {"sequence": ...}
// objects (packet_acknowledgements); parseSequence handles both.
func (e *Engine) batchedSequenceQuery(ctx context.Context, client *restclient.Client, path, paramName, listKey string, seqs []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	if len(seqs) == 0 {
		return out, nil
	}
	for _, chunk := range pagination.Chunk(seqs, defaults.SequenceBatchSize) {
		q := pagination.AppendQuery(path, pagination.RepeatParam(paramName, chunk))
		res, err := client.Query(ctx, q, defaults.QueryTimeout)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		list, _ := res[listKey].([]interface{})
		for _, entry := range list {
			var seq int64
			var ok bool
			if m, isMap := entry.(map[string]interface{}); isMap {
				seq, ok = parseSequence(m["sequence"])
			} else {
				seq, ok = parseSequence(entry)
			}
			if ok {
				out[seq] = struct{}{}
			}
		}
	}
	return out, nil
}

// updatePending removes every sequence from pending not present in cvalid,
// then inserts every member of cvalid not already present with timestamp
// now.
func updatePending(pending map[int64]int64, cvalid map[int64]struct{}, now int64) {
	for seq := range pending {
		if _, ok := cvalid[seq]; !ok {
			delete(pending, seq)
		}
	}
	for seq := range cvalid {
		if _, ok := pending[seq]; !ok {
			pending[seq] = now
		}
	}
}

// updatePendingSet is updatePending's counterpart for a plain set (the
// unreceived-ack set has no other payload to project).
func updatePendingSet(pending map[int64]int64, set map[int64]struct{}, now int64) {
	for seq := range pending {
		if _, ok := set[seq]; !ok {
			delete(pending, seq)
		}
	}
	for seq := range set {
		if _, ok := pending[seq]; !ok {
			pending[seq] = now
		}
	}
}

func (e *Engine) emitChannelGauges(ref ChannelRef, pending, acks map[int64]int64) {
	labels := []string{
		ref.Key.ChainID, ref.Key.ConnectionID, ref.Key.PortID, ref.Key.ChannelID,
		ref.RecvChainID, ref.RecvPort, ref.RecvChannel,
	}

	pendingOldestSeq, pendingOldestTS := oldestSeqAndTimestamp(pending)
	e.metrics.SendPacketBacklogSize.WithLabelValues(labels...).Set(float64(len(pending)))
	e.metrics.SendPacketBacklogOldestSequence.WithLabelValues(labels...).Set(float64(pendingOldestSeq))
	e.metrics.SendPacketBacklogOldestTimestampSeconds.WithLabelValues(labels...).Set(float64(pendingOldestTS))

	ackOldestSeq, ackOldestTS := oldestSeqAndTimestamp(acks)
	e.metrics.AckPacketBacklogOldestSequence.WithLabelValues(labels...).Set(float64(ackOldestSeq))
	e.metrics.AckPacketBacklogOldestTimestampSeconds.WithLabelValues(labels...).Set(float64(ackOldestTS))
}

// EmitBacklogUpdateTime records that chainID completed a successful backlog
// update at timestamp now.
func (e *Engine) EmitBacklogUpdateTime(chainID string, now int64) {
	e.metrics.BacklogLastUpdateTimeSeconds.WithLabelValues(chainID).Set(float64(now))
}

// oldestSeqAndTimestamp projects a pending map to (min sequence, its
// first-seen timestamp), or (0, 0) if the map is empty.
func oldestSeqAndTimestamp(m map[int64]int64) (int64, int64) {
	if len(m) == 0 {
		return 0, 0
	}
	var min int64
	first := true
	for seq := range m {
		if first || seq < min {
			min = seq
			first = false
		}
	}
	return min, m[min]
}

// sortedKeys returns m's keys in ascending order, so batched sequence
// queries are built deterministically rather than depending on map
// iteration order.
func sortedKeys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// parseSequence accepts the several JSON shapes a sequence number can
// arrive in: a native number, a numeric string (Cosmos SDK encodes uint64
// fields as strings), or anything else, which is rejected.
func parseSequence(raw interface{}) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case string:
		var seq int64
		if _, err := fmt.Sscanf(v, "%d", &seq); err != nil {
			return 0, false
		}
		return seq, true
	default:
		return 0, false
	}
}
