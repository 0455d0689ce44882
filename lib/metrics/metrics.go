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

// Package metrics defines the Prometheus gauge vectors the exporter
// publishes and registers them against a shared registry at process
// startup.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ibc"

// Registry groups every gauge vector the exporter writes to, so the rest of
// the engine depends on one struct instead of package-level globals.
type Registry struct {
	RESTHealth *prometheus.GaugeVec

	ClientTrustingPeriodSeconds      *prometheus.GaugeVec
	ClientLastUpdateTimestampSeconds *prometheus.GaugeVec

	SendPacketBacklogSize                  *prometheus.GaugeVec
	SendPacketBacklogOldestSequence        *prometheus.GaugeVec
	SendPacketBacklogOldestTimestampSeconds *prometheus.GaugeVec

	AckPacketBacklogOldestSequence        *prometheus.GaugeVec
	AckPacketBacklogOldestTimestampSeconds *prometheus.GaugeVec

	BacklogLastUpdateTimeSeconds *prometheus.GaugeVec
}

var channelLabels = []string{
	"chain_id", "connection_id", "port_id", "channel_id",
	"counterparty_chain_id", "counterparty_port_id", "counterparty_channel_id",
}

var clientLabels = []string{
	"client_id", "chain_id", "counterparty_chain_id", "counterparty_client_id",
}

// New registers every gauge vector against reg and returns the populated
// Registry. reg is normally prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		RESTHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rest_health",
			Help:      "Whether the active REST endpoint for a chain answered its last health check (1) or not (0).",
		}, []string{"chain_id", "endpoint"}),

		ClientTrustingPeriodSeconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_trusting_period_seconds",
			Help:      "Configured trusting period of an IBC light client, in seconds.",
		}, clientLabels),
		ClientLastUpdateTimestampSeconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_last_update_timestamp_seconds",
			Help:      "Unix timestamp of the most recent consensus state known to an IBC light client.",
		}, clientLabels),

		SendPacketBacklogSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "send_packet_backlog_size",
			Help:      "Number of packets committed on the sending side that have not yet been relayed.",
		}, channelLabels),
		SendPacketBacklogOldestSequence: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "send_packet_backlog_oldest_sequence",
			Help:      "Sequence number of the oldest unrelayed packet in a channel's send-packet backlog, 0 if empty.",
		}, channelLabels),
		SendPacketBacklogOldestTimestampSeconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "send_packet_backlog_oldest_timestamp_seconds",
			Help:      "Unix timestamp the oldest entry in a channel's send-packet backlog was first observed, 0 if empty.",
		}, channelLabels),

		AckPacketBacklogOldestSequence: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ack_packet_backlog_oldest_sequence",
			Help:      "Sequence number of the oldest unrelayed acknowledgement in a channel's ack backlog, 0 if empty.",
		}, channelLabels),
		AckPacketBacklogOldestTimestampSeconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ack_packet_backlog_oldest_timestamp_seconds",
			Help:      "Unix timestamp the oldest entry in a channel's ack backlog was first observed, 0 if empty.",
		}, channelLabels),

		BacklogLastUpdateTimeSeconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backlog_last_update_time_seconds",
			Help:      "Unix timestamp of the last successful backlog computation for a chain.",
		}, []string{"chain_id"}),
	}
}
