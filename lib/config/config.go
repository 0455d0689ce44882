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

// Package config loads and validates the exporter's TOML configuration file
// into the typed structures the rest of the engine consumes.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gravitational/trace"

	"github.com/gravitational/ibc-backlog-exporter/lib/defaults"
)

// ChainConfig describes a single chain participating in the IBC topology,
// as read from a [[chains]] table.
type ChainConfig struct {
	// Name is the chain-registry directory name, used to look up fallback
	// REST endpoints.
	Name string `toml:"name"`
	// ChainID is the chain ID expected in node_info responses.
	ChainID string `toml:"chain_id"`
	// RPCs is reserved for future use; the core does not consume it.
	RPCs []string `toml:"rpcs"`
	// RESTs lists the gRPC-gateway REST endpoints for this chain. Only the
	// first entry is used, as the REST client's primary endpoint; later
	// entries are not passed to the client, whose fallbacks come solely
	// from the chain registry.
	RESTs []string `toml:"rests"`

	WhitelistClients     []string `toml:"whitelist_clients"`
	BlacklistClients     []string `toml:"blacklist_clients"`
	WhitelistConnections []string `toml:"whitelist_connections"`
	BlacklistConnections []string `toml:"blacklist_connections"`
	WhitelistChannels    []string `toml:"whitelist_channels"`
	BlacklistChannels    []string `toml:"blacklist_channels"`

	StateRefreshIntervalSeconds int  `toml:"state_refresh_interval"`
	StateScanTimeoutSeconds     int  `toml:"state_scan_timeout"`
	HomeChain                   bool `toml:"home_chain"`
}

// StateRefreshInterval returns the configured refresh interval, falling
// back to the package default when unset.
func (c ChainConfig) StateRefreshInterval() time.Duration {
	if c.StateRefreshIntervalSeconds <= 0 {
		return defaults.StateRefreshInterval
	}
	return time.Duration(c.StateRefreshIntervalSeconds) * time.Second
}

// StateScanTimeout returns the configured per-scan-query timeout, falling
// back to the package default when unset.
func (c ChainConfig) StateScanTimeout() time.Duration {
	if c.StateScanTimeoutSeconds <= 0 {
		return defaults.StateScanTimeout
	}
	return time.Duration(c.StateScanTimeoutSeconds) * time.Second
}

// ExcludedSequences maps a channel ID to the set of packet sequences that
// should never appear in that channel's backlog, regardless of whether the
// chain still reports a commitment for them.
type ExcludedSequences map[string]map[int64]struct{}

// IsExcluded reports whether seq is excluded for the given channel.
func (e ExcludedSequences) IsExcluded(channelID string, seq int64) bool {
	if e == nil {
		return false
	}
	_, ok := e[channelID][seq]
	return ok
}

// parseExcludedSequences turns the raw TOML table (channel_id -> list of
// ints and "a-b" range strings) into an ExcludedSequences set, expanding
// every inclusive range into its member integers.
func parseExcludedSequences(raw map[string][]interface{}) (ExcludedSequences, error) {
	out := make(ExcludedSequences, len(raw))
	for channel, entries := range raw {
		set := make(map[int64]struct{})
		for _, entry := range entries {
			switch v := entry.(type) {
			case int64:
				set[v] = struct{}{}
			case string:
				lo, hi, err := parseRange(v)
				if err != nil {
					return nil, trace.BadParameter("excluded_sequences[%q]: %v", channel, err)
				}
				for s := lo; s <= hi; s++ {
					set[s] = struct{}{}
				}
			default:
				return nil, trace.BadParameter("excluded_sequences[%q]: unsupported entry %v", channel, entry)
			}
		}
		out[channel] = set
	}
	return out, nil
}

// parseRange parses a singleton ("7") or inclusive range ("12-15") string
// into its bounds; a singleton behaves as a one-element range.
func parseRange(s string) (lo, hi int64, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) == 1 {
		v, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return 0, 0, trace.Wrap(err, "invalid sequence %q", s)
		}
		return v, v, nil
	}
	lo, err = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, trace.Wrap(err, "invalid range start in %q", s)
	}
	hi, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, trace.Wrap(err, "invalid range end in %q", s)
	}
	if lo > hi {
		return 0, 0, trace.BadParameter("range %q has start greater than end", s)
	}
	return lo, hi, nil
}

// Config is the fully validated, typed configuration for a single exporter
// process.
type Config struct {
	Chains            []ChainConfig
	HomeChain         ChainConfig
	ExcludedSequences ExcludedSequences

	Address        string
	Port           int
	UpdateInterval time.Duration
	LogLevel       string
}

// rawConfig mirrors the on-disk TOML shape before defaulting/validation.
type rawConfig struct {
	Chains            []ChainConfig                   `toml:"chains"`
	ExcludedSequences map[string][]interface{}         `toml:"excluded_sequences"`
	Exporter          rawExporterConfig                `toml:"exporter"`
}

type rawExporterConfig struct {
	Address                string `toml:"address"`
	Port                   int    `toml:"port"`
	UpdateIntervalSeconds  int    `toml:"update_interval_seconds"`
	LogLevel               string `toml:"log_level"`
}

// Load reads and validates a TOML configuration file at path.
func Load(path string) (*Config, error) {
	var raw rawConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, trace.Wrap(err, "failed to decode configuration %q", path)
	}
	return fromRaw(raw)
}

func fromRaw(raw rawConfig) (*Config, error) {
	var home *ChainConfig
	for i := range raw.Chains {
		if raw.Chains[i].HomeChain {
			if home != nil {
				return nil, trace.BadParameter("exactly one chain must be marked home_chain, found at least two (%q and %q)", home.Name, raw.Chains[i].Name)
			}
			home = &raw.Chains[i]
		}
	}
	if home == nil {
		return nil, trace.BadParameter("exactly one chain must be marked home_chain, found none")
	}

	excluded, err := parseExcludedSequences(raw.ExcludedSequences)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	cfg := &Config{
		Chains:            raw.Chains,
		HomeChain:         *home,
		ExcludedSequences: excluded,
		Address:           raw.Exporter.Address,
		Port:              raw.Exporter.Port,
		UpdateInterval:    time.Duration(raw.Exporter.UpdateIntervalSeconds) * time.Second,
		LogLevel:          raw.Exporter.LogLevel,
	}
	if cfg.Address == "" {
		cfg.Address = defaults.ExporterAddress
	}
	if cfg.Port == 0 {
		cfg.Port = defaults.ExporterPort
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = defaults.UpdateInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	return cfg, nil
}

// Counterparties returns every configured chain that is not the home chain.
func (c *Config) Counterparties() []ChainConfig {
	out := make([]ChainConfig, 0, len(c.Chains)-1)
	for _, ch := range c.Chains {
		if !ch.HomeChain {
			out = append(out, ch)
		}
	}
	return out
}
