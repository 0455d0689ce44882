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

package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchAnyWhitelistTakesPrecedenceOverBlacklist(t *testing.T) {
	// Whitelist non-empty: blacklist is ignored entirely.
	assert.True(t, MatchAny("07-tendermint-0", []string{"07-tendermint-*"}, []string{"07-tendermint-0"}))
	assert.False(t, MatchAny("07-tendermint-1", []string{"07-tendermint-0"}, nil))
}

func TestMatchAnyBlacklistActsAsDenyListWhenWhitelistEmpty(t *testing.T) {
	assert.False(t, MatchAny("07-tendermint-0", nil, []string{"07-tendermint-0"}))
	assert.True(t, MatchAny("07-tendermint-1", nil, []string{"07-tendermint-0"}))
}

func TestMatchAnyEmptyFiltersMatchEverything(t *testing.T) {
	assert.True(t, MatchAny("anything", nil, nil))
}

func TestIDFilterPreservesOrder(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	got := IDFilter(ids, nil, []string{"b", "d"})
	assert.Equal(t, []string{"a", "c"}, got)
}

func TestChannelFilterMatchesCombinedPortChannel(t *testing.T) {
	assert.True(t, ChannelFilter("transfer", "channel-0", []string{"transfer/channel-0"}, nil))
	assert.False(t, ChannelFilter("transfer", "channel-1", []string{"transfer/channel-0"}, nil))
}
