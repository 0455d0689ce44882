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

// Package filter implements the glob-style allow/deny matching used by the
// state scanner to restrict which clients, connections and channels are
// considered part of the monitored topology.
package filter

import (
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// compiled caches glob.Glob instances by pattern so repeated evaluations
// against the same whitelist/blacklist (once per candidate ID, every scan)
// don't recompile the same pattern over and over.
var compiled sync.Map // map[string]glob.Glob

func compile(pattern string) glob.Glob {
	if g, ok := compiled.Load(pattern); ok {
		return g.(glob.Glob)
	}
	g := glob.MustCompile(pattern)
	compiled.Store(pattern, g)
	return g
}

func matchAny(item string, patterns []string) bool {
	for _, p := range patterns {
		if compile(p).Match(item) {
			return true
		}
	}
	return false
}

// MatchAny reports whether a single item should be kept: if whitelist is
// non-empty, item must match one of its patterns; otherwise item must match
// none of blacklist's patterns.
func MatchAny(item string, whitelist, blacklist []string) bool {
	if len(whitelist) > 0 {
		return matchAny(item, whitelist)
	}
	return !matchAny(item, blacklist)
}

// IDFilter applies MatchAny across a list of identifiers (client IDs,
// connection IDs), returning the surviving subset in their original order.
func IDFilter(ids []string, whitelist, blacklist []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if MatchAny(id, whitelist, blacklist) {
			out = append(out, id)
		}
	}
	return out
}

// ChannelFilter applies the allow/deny rule to the combined "port/channel"
// identifier used for channel-level filtering.
func ChannelFilter(portID, channelID string, whitelist, blacklist []string) bool {
	return MatchAny(fmt.Sprintf("%s/%s", portID, channelID), whitelist, blacklist)
}
