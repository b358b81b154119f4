// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package daemon wires a loaded config into a running broker: opening the
// sealed bunker (trying the host identity before falling back to an
// operator identity), starting the broker's two listeners, and optionally
// exposing Prometheus metrics over HTTP. It is shared by cmd/turretd and
// turretctl's "start" verb so both present the same startup behavior.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/overyonder/turret/internal/broker"
	"github.com/overyonder/turret/internal/bunker"
	"github.com/overyonder/turret/internal/config"
)

// ErrNoIdentity means the config named neither a host nor an operator
// identity, so the bunker cannot be opened.
var ErrNoIdentity = errors.New("turret: no host_identity or operator_identity configured")

// LoadBunker opens the sealed catalog named by cfg.BunkerPath, trying
// cfg.HostIdentity first and falling back to cfg.OperatorIdentity. Only the
// identity that succeeds matters; a failure with the host identity is not
// reported unless the operator identity also fails (or is absent).
func LoadBunker(ctx context.Context, cfg *config.Config) (*bunker.Catalog, error) {
	var hostErr error
	if cfg.HostIdentity != "" {
		cat, err := bunker.Load(ctx, cfg.BunkerPath, cfg.HostIdentity)
		if err == nil {
			return cat, nil
		}
		hostErr = err
	}

	if cfg.OperatorIdentity != "" {
		cat, err := bunker.Load(ctx, cfg.BunkerPath, cfg.OperatorIdentity)
		if err == nil {
			return cat, nil
		}
		if hostErr != nil {
			return nil, fmt.Errorf("host identity failed (%v), operator identity failed: %w", hostErr, err)
		}
		return nil, err
	}

	if hostErr != nil {
		return nil, hostErr
	}
	return nil, ErrNoIdentity
}

// Run opens the bunker, starts the broker's two listeners, and (if
// cfg.MetricsAddr is set) a /metrics HTTP listener, blocking until ctx is
// canceled.
func Run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	catalog, err := LoadBunker(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load bunker: %w", err)
	}

	brokerCfg := broker.Config{
		AgentSock:      cfg.AgentSock,
		RepeaterSock:   cfg.RepeaterSock,
		ReplayWindowMs: cfg.ReplayWindowMs,
	}
	server := broker.NewServer(brokerCfg, catalog, log)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics listener failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = metricsServer.Close()
		}()
		log.Info("metrics listener started", "addr", cfg.MetricsAddr)
	}

	return server.Run(ctx)
}

// Check loads the bunker and validates it without binding any listener,
// for "start --check" style fire-up tests.
func Check(ctx context.Context, cfg *config.Config) error {
	catalog, err := LoadBunker(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load bunker: %w", err)
	}
	return catalog.Validate()
}
