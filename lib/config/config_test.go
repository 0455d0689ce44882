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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRawRequiresExactlyOneHomeChain(t *testing.T) {
	_, err := fromRaw(rawConfig{Chains: []ChainConfig{{ChainID: "a"}, {ChainID: "b"}}})
	require.Error(t, err)

	_, err = fromRaw(rawConfig{Chains: []ChainConfig{{ChainID: "a", HomeChain: true}, {ChainID: "b", HomeChain: true}}})
	require.Error(t, err)

	cfg, err := fromRaw(rawConfig{Chains: []ChainConfig{{ChainID: "a", HomeChain: true}, {ChainID: "b"}}})
	require.NoError(t, err)
	assert.Equal(t, "a", cfg.HomeChain.ChainID)
}

func TestFromRawAppliesDefaults(t *testing.T) {
	cfg, err := fromRaw(rawConfig{Chains: []ChainConfig{{ChainID: "a", HomeChain: true}}})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Address)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, int64(30), int64(cfg.UpdateInterval.Seconds()))
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestCounterpartiesExcludesHomeChain(t *testing.T) {
	cfg, err := fromRaw(rawConfig{Chains: []ChainConfig{
		{ChainID: "home", HomeChain: true},
		{ChainID: "cp-1"},
		{ChainID: "cp-2"},
	}})
	require.NoError(t, err)
	ids := make([]string, 0, 2)
	for _, c := range cfg.Counterparties() {
		ids = append(ids, c.ChainID)
	}
	assert.ElementsMatch(t, []string{"cp-1", "cp-2"}, ids)
}

// If the excluded-sequences configuration contains "a-b" where a <= b, every
// integer in [a,b] is excluded; singletons behave as one-element ranges.
func TestParseExcludedSequencesExpandsRanges(t *testing.T) {
	raw := map[string][]interface{}{
		"channel-42": {int64(7), "12-15", int64(19)},
	}
	excluded, err := parseExcludedSequences(raw)
	require.NoError(t, err)

	for _, seq := range []int64{7, 12, 13, 14, 15, 19} {
		assert.True(t, excluded.IsExcluded("channel-42", seq), "expected %d excluded", seq)
	}
	assert.False(t, excluded.IsExcluded("channel-42", 16))
	assert.False(t, excluded.IsExcluded("other-channel", 7))
}

func TestParseExcludedSequencesRejectsInvertedRange(t *testing.T) {
	_, err := parseExcludedSequences(map[string][]interface{}{"c": {"15-12"}})
	require.Error(t, err)
}
