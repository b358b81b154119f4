// Copyright 2026 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements turretd, the broker daemon: it loads a daemon
// configuration, decrypts the sealed bunker catalog, and serves the agent
// and repeater sockets until signaled to stop.
//
// Usage:
//
//	turretd --config turret.yaml
//	turretd --config turret.yaml --bunker ./turret.bunker.age --host-identity ./host.key
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/overyonder/turret/internal/config"
	"github.com/overyonder/turret/internal/daemon"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var (
		showVersion      = flag.BoolP("version", "V", false, "Show version and exit")
		configPath       = flag.StringP("config", "c", "", "Path to daemon.yaml (default: .turret/daemon.yaml)")
		bunkerPath       = flag.String("bunker", "", "Override bunker_path from config")
		hostIdentity     = flag.String("host-identity", "", "Override host_identity from config")
		operatorIdentity = flag.String("operator-identity", "", "Override operator_identity from config")
		metricsAddr      = flag.String("metrics-addr", "", "Override metrics_addr from config")
		verbose          = flag.CountP("verbose", "v", "Increase log verbosity (-v for info, -vv for debug)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("turretd version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	logLevel := slog.LevelWarn
	if *verbose >= 2 {
		logLevel = slog.LevelDebug
	} else if *verbose >= 1 {
		logLevel = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Error("cannot load configuration", "error", err)
		os.Exit(1)
	}
	if *bunkerPath != "" {
		cfg.BunkerPath = *bunkerPath
	}
	if *hostIdentity != "" {
		cfg.HostIdentity = *hostIdentity
	}
	if *operatorIdentity != "" {
		cfg.OperatorIdentity = *operatorIdentity
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	installSighupLogger(log)

	log.Info("starting turretd", "agent_sock", cfg.AgentSock, "repeater_sock", cfg.RepeaterSock)
	if err := daemon.Run(ctx, cfg, log); err != nil {
		log.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("turretd stopped")
}

// installSighupLogger logs on SIGHUP without reloading: the catalog is
// decrypted once at startup and held immutable for the life of the
// process, so taking a re-sealed catalog into account requires a restart.
func installSighupLogger(log *slog.Logger) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Warn("received SIGHUP: the catalog is immutable for the life of this process; restart turretd to pick up a re-sealed bunker")
		}
	}()
}
