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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/gravitational/ibc-backlog-exporter/lib/backlog"
	"github.com/gravitational/ibc-backlog-exporter/lib/config"
	"github.com/gravitational/ibc-backlog-exporter/lib/defaults"
	"github.com/gravitational/ibc-backlog-exporter/lib/metrics"
	"github.com/gravitational/ibc-backlog-exporter/lib/restclient"
	"github.com/gravitational/ibc-backlog-exporter/lib/scanner"
	"github.com/gravitational/ibc-backlog-exporter/lib/scheduler"
)

func main() {
	app := kingpin.New("ibc-exporter", "Prometheus exporter for IBC relayer packet backlogs")
	configPath := app.Flag("config", "Path to the TOML configuration file").
		Short('c').Default(defaults.ConfigPath).String()

	if _, err := app.Parse(os.Args[1:]); err != nil {
		kingpin.Fatalf("%v", err)
	}

	if err := run(*configPath); err != nil {
		log.WithError(err).Error("Exporter exited with a fatal error")
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return trace.Wrap(err, "failed to load configuration")
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return trace.Wrap(err, "invalid log_level %q", cfg.LogLevel)
	}
	log.SetLevel(level)

	restClients, err := buildRESTClients(cfg)
	if err != nil {
		return trace.Wrap(err)
	}

	homeClient, ok := restClients[cfg.HomeChain.ChainID]
	if !ok {
		return trace.BadParameter("home chain %q has no REST URL configured", cfg.HomeChain.ChainID)
	}

	var counterpartyIDs []string
	for _, cp := range cfg.Counterparties() {
		counterpartyIDs = append(counterpartyIDs, cp.ChainID)
	}

	sc, err := scanner.New(homeClient, cfg.HomeChain, counterpartyIDs, restClients)
	if err != nil {
		return trace.Wrap(err)
	}

	reg := metrics.New(prometheus.DefaultRegisterer)
	engine := backlog.NewEngine(reg, cfg.ExcludedSequences)
	sched := scheduler.New(cfg, restClients, sc, engine, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go waitForSignal(cancel)

	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(ctx) }()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.WithField("address", addr).Info("Starting metrics listener")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Metrics listener stopped")
		}
	}()

	err = <-errCh
	_ = server.Close()
	if err != nil && err != context.Canceled {
		return trace.Wrap(err)
	}
	return nil
}

// buildRESTClients constructs one restclient.Client per configured chain
// that has at least one REST URL; chains with none are simply absent from
// the returned map (fatal only if that chain turns out to be the home
// chain).
func buildRESTClients(cfg *config.Config) (map[string]*restclient.Client, error) {
	clients := make(map[string]*restclient.Client, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		if len(chain.RESTs) == 0 {
			continue
		}
		clients[chain.ChainID] = restclient.New(chain.Name, chain.ChainID, chain.RESTs[0], nil)
	}
	return clients, nil
}

func waitForSignal(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	cancel()
}
