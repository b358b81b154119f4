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
	"github.com/overyonder/turret/internal/ui"
)

// runStart runs (or, with --check, only validates) the daemon described by
// the named bunker path and identity flags, layered over any config file.
// It is turretctl's convenience path for operators who would rather not
// invoke the separate turretd binary directly.
func runStart(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	check := fs.Bool("check", false, "Validate configuration and bunker, then exit without serving")
	hostIdentity := fs.String("host-identity", "", "Host identity path, overrides config")
	operatorIdentity := fs.String("operator-identity", "", "Operator identity path, overrides config")
	configPath := fs.String("config", globals.ConfigPath, "Path to daemon.yaml")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: turretctl start <bunker-path> [--check] [--host-identity <path>] [--operator-identity <path>] [--config <path>]")
		return 1
	}
	bunkerPath := fs.Arg(0)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	cfg.BunkerPath = bunkerPath
	if *hostIdentity != "" {
		cfg.HostIdentity = *hostIdentity
	}
	if *operatorIdentity != "" {
		cfg.OperatorIdentity = *operatorIdentity
	}

	logLevel := slog.LevelWarn
	if globals.Verbose >= 2 {
		logLevel = slog.LevelDebug
	} else if globals.Verbose >= 1 {
		logLevel = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if *check {
		if err := daemon.Check(context.Background(), cfg); err != nil {
			fmt.Fprintf(os.Stderr, "check failed: %v\n", err)
			return 1
		}
		ui.Success("bunker and configuration check passed")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui.Infof("starting turret daemon on %s / %s", cfg.AgentSock, cfg.RepeaterSock)
	if err := daemon.Run(ctx, cfg, log); err != nil {
		fmt.Fprintf(os.Stderr, "daemon exited with error: %v\n", err)
		return 1
	}
	return 0
}
