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

// Package main implements turretctl, the administrative CLI for a
// turretd bunker catalog: operators, agents, repeaters, actions and
// permissions, and the sealed catalog file itself.
//
// Usage:
//
//	turretctl bunker init <path> --weak
//	turretctl bunker agent-add <path> --existing <identity> --name <n> --pubkey <key>
//	turretctl bunker repeater-add <path> --existing <identity> --name <n> --pubkey <key>
//	turretctl bunker action-register <path> --existing <identity> --name <n> --owner <repeater>
//	turretctl bunker grant <path> --existing <identity> --agent <n> --action <n>
//	turretctl bunker dump <path> --host-identity <identity>
//	turretctl start <bunker-path> --host-identity <identity>
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/overyonder/turret/internal/ui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the flags that apply to every subcommand.
type GlobalFlags struct {
	JSON       bool
	NoColor    bool
	Verbose    int
	Quiet      bool
	ConfigPath string
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to daemon.yaml (default: .turret/daemon.yaml)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
	)

	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `turretctl - Turret bunker administration

turretctl manages the sealed bunker catalog that turretd uses to
authenticate agents and repeaters and authorize invocations.

Usage:
  turretctl bunker <verb> <path> [options]
  turretctl start <bunker-path> [options]

Bunker verbs:
  init <path>                    Create a new sealed bunker (--weak for a local-only bootstrap)
  operator-add <path>            Add a recipient allowed to decrypt the bunker
  operator-remove <path>         Remove a recipient
  agent-add <path>               Register an agent's base64 Ed25519 public key
  agent-remove <path>            Remove an agent
  repeater-add <path>            Register a repeater's base64 Ed25519 public key
  repeater-remove <path>         Remove a repeater
  action-register <path>         Bind an action name to its owning repeater
  action-unregister <path>       Remove an action binding
  grant <path>                   Grant an agent permission to invoke an action
  revoke <path>                  Revoke a previously granted permission
  apply <path>                   Reconcile many changes from one declarative YAML document
  dump <path>                    Print the decrypted catalog (development only)

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output
  -c, --config      Path to daemon.yaml
  -V, --version     Show version and exit

Examples:
  turretctl bunker init ./turret.bunker.age --weak
  turretctl bunker agent-add ./turret.bunker.age --existing ./host.key --name alice --pubkey MCow...
  turretctl bunker repeater-add ./turret.bunker.age --existing ./host.key --name repeater-1 --pubkey MCow...
  turretctl bunker action-register ./turret.bunker.age --existing ./host.key --name echo --owner repeater-1
  turretctl bunker grant ./turret.bunker.age --existing ./host.key --agent alice --action echo
  turretctl bunker apply ./turret.bunker.age --existing ./host.key --from batch.yaml
  TURRET_DEVELOP=1 turretctl bunker dump ./turret.bunker.age --host-identity ./host.key --json
  turretctl start ./turret.bunker.age --host-identity ./host.key

Environment Variables:
  TURRET_DEVELOP    Set to 1 to permit 'bunker dump'

For detailed command help: turretctl bunker <verb> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("turretctl version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}

	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(1)
	}

	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:       *jsonOutput,
		NoColor:    *noColor,
		Verbose:    *verbose,
		Quiet:      *quiet,
		ConfigPath: *configPath,
	}

	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "bunker":
		runBunker(cmdArgs, globals)
	case "start":
		os.Exit(runStart(cmdArgs, globals))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
