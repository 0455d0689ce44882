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

// Package pagination provides generic helpers for walking paginated
// gRPC-gateway list endpoints and for batching large sequence lists into
// fixed-size query-string-bounded requests.
package pagination

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/ibc-backlog-exporter/lib/defaults"
	"github.com/gravitational/ibc-backlog-exporter/lib/restclient"
)

// Queryer is the subset of restclient.Client used for pagination, so tests
// can substitute a fake.
type Queryer interface {
	Query(ctx context.Context, path string, timeout time.Duration) (map[string]interface{}, error)
}

// AppendQuery appends a raw (already-encoded) query string fragment to
// path, choosing '&' or '?' depending on whether path already has a query
// component.
func AppendQuery(path, query string) string {
	if query == "" {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + query
}

// All follows result.pagination.next_key across successive requests to
// path on client, concatenating result[listKey] from every page. A missing
// or null next_key ends pagination. If ignore404 is set, a restclient 404
// yields an empty result instead of an error.
func All(ctx context.Context, client Queryer, path, listKey string, timeout time.Duration, ignore404 bool) ([]interface{}, error) {
	var items []interface{}
	nextKey := ""
	for {
		qpath := path
		if nextKey != "" {
			qpath = AppendQuery(path, "pagination.key="+url.QueryEscape(nextKey))
		}
		res, err := client.Query(ctx, qpath, timeout)
		if err != nil {
			if ignore404 && restclient.IsNotFound(err) {
				return items, nil
			}
			return nil, trace.Wrap(err)
		}
		if list, ok := res[listKey].([]interface{}); ok {
			items = append(items, list...)
		}
		nextKey = nextPageKey(res)
		if nextKey == "" {
			break
		}
	}
	return items, nil
}

func nextPageKey(res map[string]interface{}) string {
	p, ok := res["pagination"].(map[string]interface{})
	if !ok {
		return ""
	}
	key, _ := p["next_key"].(string)
	return key
}

// Chunk splits seqs into batches of at most size elements, preserving
// order. size is normally defaults.SequenceBatchSize.
func Chunk(seqs []int64, size int) [][]int64 {
	if size <= 0 {
		size = defaults.SequenceBatchSize
	}
	var out [][]int64
	for i := 0; i < len(seqs); i += size {
		end := i + size
		if end > len(seqs) {
			end = len(seqs)
		}
		out = append(out, seqs[i:end])
	}
	return out
}

// RepeatParam encodes values as repeated, URL-escaped "name=v1&name=v2…"
// query parameters.
func RepeatParam(name string, values []int64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%s=%s", url.QueryEscape(name), url.QueryEscape(fmt.Sprintf("%d", v)))
	}
	return strings.Join(parts, "&")
}
