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

package scheduler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/gravitational/ibc-backlog-exporter/lib/config"
	"github.com/gravitational/ibc-backlog-exporter/lib/metrics"
	"github.com/gravitational/ibc-backlog-exporter/lib/restclient"
)

// fakeDoer intercepts every outbound request, including the chain-registry
// fallback lookup, so these tests never touch the network.
type fakeDoer struct {
	network string
	fail    bool
}

func (f fakeDoer) Do(req *http.Request) (*http.Response, error) {
	if f.fail {
		return nil, fmt.Errorf("connection refused")
	}
	body := fmt.Sprintf(`{"default_node_info":{"network":%q}}`, f.network)
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestProbeHealthSetsRESTHealthGauge(t *testing.T) {
	healthy := restclient.New("chain-1", "chain-1", "http://chain-1.local", fakeDoer{network: "chain-1"})
	unhealthy := restclient.New("chain-2", "chain-2", "http://chain-2.local", fakeDoer{fail: true})

	reg := metrics.New(nil)
	cfg := &config.Config{HomeChain: config.ChainConfig{ChainID: "chain-1"}}
	s := New(cfg, map[string]*restclient.Client{"chain-1": healthy, "chain-2": unhealthy}, nil, nil, reg)

	result := s.probeHealth(context.Background())
	assert.True(t, result["chain-1"])
	assert.False(t, result["chain-2"])
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.RESTHealth.WithLabelValues("chain-1", healthy.Endpoint())))
	assert.Equal(t, float64(0), testutil.ToFloat64(reg.RESTHealth.WithLabelValues("chain-2", unhealthy.Endpoint())))
}

// When the home chain's REST endpoint is unreachable, runCycle must return
// without touching the scanner or engine at all.
func TestRunCycleSkipsCycleWhenHomeUnhealthy(t *testing.T) {
	client := restclient.New("chain-1", "chain-1", "http://chain-1.local", fakeDoer{fail: true})
	reg := metrics.New(nil)
	cfg := &config.Config{HomeChain: config.ChainConfig{ChainID: "chain-1"}}
	s := New(cfg, map[string]*restclient.Client{"chain-1": client}, nil, nil, reg)

	assert.NotPanics(t, func() { s.runCycle(context.Background()) })
}

func TestRunReturnsContextCanceledOnCancellation(t *testing.T) {
	client := restclient.New("chain-1", "chain-1", "http://chain-1.local", fakeDoer{fail: true})
	reg := metrics.New(nil)
	cfg := &config.Config{HomeChain: config.ChainConfig{ChainID: "chain-1"}, UpdateInterval: time.Hour}
	s := New(cfg, map[string]*restclient.Client{"chain-1": client}, nil, nil, reg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
