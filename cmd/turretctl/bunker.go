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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	flag "github.com/spf13/pflag"

	"github.com/overyonder/turret/internal/bunker"
	"github.com/overyonder/turret/internal/clierr"
	"github.com/overyonder/turret/internal/seal"
	"github.com/overyonder/turret/internal/ui"
)

func runBunker(args []string, globals GlobalFlags) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: turretctl bunker <verb> <path> [options]")
		os.Exit(1)
	}

	verb := args[0]
	verbArgs := args[1:]

	switch verb {
	case "init":
		runBunkerInit(verbArgs, globals)
	case "operator-add":
		runBunkerMutate(verbArgs, globals, "operator-add", mutateOperatorAdd)
	case "operator-remove":
		runBunkerMutate(verbArgs, globals, "operator-remove", mutateOperatorRemove)
	case "agent-add":
		runBunkerMutate(verbArgs, globals, "agent-add", mutateAgentAdd)
	case "agent-remove":
		runBunkerMutate(verbArgs, globals, "agent-remove", mutateAgentRemove)
	case "repeater-add":
		runBunkerMutate(verbArgs, globals, "repeater-add", mutateRepeaterAdd)
	case "repeater-remove":
		runBunkerMutate(verbArgs, globals, "repeater-remove", mutateRepeaterRemove)
	case "action-register":
		runBunkerMutate(verbArgs, globals, "action-register", mutateActionRegister)
	case "action-unregister":
		runBunkerMutate(verbArgs, globals, "action-unregister", mutateActionUnregister)
	case "grant":
		runBunkerMutate(verbArgs, globals, "grant", mutateGrant)
	case "revoke":
		runBunkerMutate(verbArgs, globals, "revoke", mutateRevoke)
	case "apply":
		runBunkerApply(verbArgs, globals)
	case "dump":
		runBunkerDump(verbArgs, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown bunker verb: %s\n", verb)
		os.Exit(1)
	}
}

// runBunkerInit creates a fresh sealed bunker. With --weak it mints a
// single local identity via rage-keygen and uses it as the sole operator
// recipient, for zero-config local bootstrap; otherwise --operator must be
// given at least once.
func runBunkerInit(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("bunker init", flag.ExitOnError)
	weak := fs.Bool("weak", false, "Generate a local-only identity instead of requiring --operator")
	operators := fs.StringArray("operator", nil, "Recipient allowed to decrypt the bunker (repeatable)")
	hostIdentity := fs.String("host-identity", "", "Path to write a generated host identity (with --weak)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		clierr.FatalError(clierr.NewInputError(
			"Missing bunker path",
			"bunker init requires exactly one positional argument",
			"Usage: turretctl bunker init <path> [--weak] [--operator <recipient>]...",
			nil,
		), globals.JSON)
	}
	path := fs.Arg(0)

	operatorList := append([]string(nil), *operators...)
	if *weak {
		identityPath := *hostIdentity
		if identityPath == "" {
			identityPath = path + ".identity"
		}
		recipient, err := seal.GenerateIdentity(context.Background(), identityPath)
		if err != nil {
			clierr.FatalError(clierr.NewInternalError(
				"Cannot generate local identity",
				err.Error(),
				"Ensure rage-keygen is installed and on $PATH",
				err,
			), globals.JSON)
		}
		operatorList = append(operatorList, recipient)
		ui.Infof("generated local identity at %s", identityPath)
	}

	if len(operatorList) == 0 {
		clierr.FatalError(clierr.NewInputError(
			"No operator recipients given",
			"bunker init needs at least one --operator, or --weak to generate one",
			"Pass --operator <recipient> one or more times, or use --weak for local bootstrap",
			nil,
		), globals.JSON)
	}

	cat := bunker.New(operatorList)
	if err := bunker.Save(context.Background(), path, cat); err != nil {
		clierr.FatalError(clierr.NewDatabaseError(
			"Cannot seal new bunker",
			err.Error(),
			"Check that the destination directory is writable",
			err,
		), globals.JSON)
	}

	ui.Successf("created bunker at %s with %d operator(s)", path, len(operatorList))
}

// mutator applies one change to an already-opened catalog.
type mutator func(cat *bunker.Catalog, fs *flag.FlagSet) error

func runBunkerMutate(args []string, globals GlobalFlags, verbName string, mutate mutator) {
	fs := flag.NewFlagSet("bunker "+verbName, flag.ExitOnError)
	existing := fs.String("existing", "", "Identity file that can decrypt the current bunker")
	registerMutatorFlags(fs, verbName)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		clierr.FatalError(clierr.NewInputError(
			"Missing bunker path",
			fmt.Sprintf("bunker %s requires exactly one positional argument", verbName),
			fmt.Sprintf("Usage: turretctl bunker %s <path> --existing <identity> [options]", verbName),
			nil,
		), globals.JSON)
	}
	if *existing == "" {
		clierr.FatalError(clierr.NewInputError(
			"Missing --existing identity",
			"mutating verbs require an identity that decrypts the current bunker",
			"Pass --existing <identity-path>",
			nil,
		), globals.JSON)
	}
	path := fs.Arg(0)

	ctx := context.Background()
	cat, err := bunker.Load(ctx, path, *existing)
	if err != nil {
		clierr.FatalError(clierr.NewDatabaseError(
			"Cannot open bunker",
			err.Error(),
			"Check the path and identity file",
			err,
		), globals.JSON)
	}

	if err := mutate(cat, fs); err != nil {
		clierr.FatalError(clierr.NewInputError(
			"Mutation rejected",
			err.Error(),
			"Check the catalog state with 'turretctl bunker dump'",
			err,
		), globals.JSON)
	}

	if err := bunker.Save(ctx, path, cat); err != nil {
		clierr.FatalError(clierr.NewDatabaseError(
			"Cannot reseal bunker",
			err.Error(),
			"Check that the destination directory is writable",
			err,
		), globals.JSON)
	}

	ui.Successf("%s applied to %s", verbName, path)
}

// registerMutatorFlags declares the flags every verb needs, beyond
// --existing; unused ones for a given verb are simply left unset.
func registerMutatorFlags(fs *flag.FlagSet, verbName string) {
	switch verbName {
	case "operator-add":
		fs.String("new", "", "Recipient to add")
	case "operator-remove":
		fs.String("remove", "", "Recipient to remove")
	case "agent-add", "repeater-add":
		fs.String("name", "", "Principal name")
		fs.String("pubkey", "", "Base64-encoded 32-byte Ed25519 public key")
	case "agent-remove", "repeater-remove":
		fs.String("name", "", "Principal name")
	case "action-register":
		fs.String("name", "", "Action name")
		fs.String("owner", "", "Owning repeater principal")
	case "action-unregister":
		fs.String("name", "", "Action name")
	case "grant", "revoke":
		fs.String("agent", "", "Agent principal")
		fs.String("action", "", "Action name")
	}
}

func decodePubkey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("--pubkey is not valid base64: %w", err)
	}
	return key, nil
}

func mutateOperatorAdd(cat *bunker.Catalog, fs *flag.FlagSet) error {
	v, _ := fs.GetString("new")
	if v == "" {
		return fmt.Errorf("--new is required")
	}
	return cat.AddOperator(v)
}

func mutateOperatorRemove(cat *bunker.Catalog, fs *flag.FlagSet) error {
	v, _ := fs.GetString("remove")
	if v == "" {
		return fmt.Errorf("--remove is required")
	}
	return cat.RemoveOperator(v)
}

func mutateAgentAdd(cat *bunker.Catalog, fs *flag.FlagSet) error {
	name, _ := fs.GetString("name")
	pubkey, _ := fs.GetString("pubkey")
	if name == "" || pubkey == "" {
		return fmt.Errorf("--name and --pubkey are required")
	}
	key, err := decodePubkey(pubkey)
	if err != nil {
		return err
	}
	return cat.AddAgent(name, key)
}

func mutateAgentRemove(cat *bunker.Catalog, fs *flag.FlagSet) error {
	name, _ := fs.GetString("name")
	if name == "" {
		return fmt.Errorf("--name is required")
	}
	return cat.RemoveAgent(name)
}

func mutateRepeaterAdd(cat *bunker.Catalog, fs *flag.FlagSet) error {
	name, _ := fs.GetString("name")
	pubkey, _ := fs.GetString("pubkey")
	if name == "" || pubkey == "" {
		return fmt.Errorf("--name and --pubkey are required")
	}
	key, err := decodePubkey(pubkey)
	if err != nil {
		return err
	}
	return cat.AddRepeater(name, key)
}

func mutateRepeaterRemove(cat *bunker.Catalog, fs *flag.FlagSet) error {
	name, _ := fs.GetString("name")
	if name == "" {
		return fmt.Errorf("--name is required")
	}
	return cat.RemoveRepeater(name)
}

func mutateActionRegister(cat *bunker.Catalog, fs *flag.FlagSet) error {
	name, _ := fs.GetString("name")
	owner, _ := fs.GetString("owner")
	if name == "" || owner == "" {
		return fmt.Errorf("--name and --owner are required")
	}
	return cat.RegisterAction(name, owner)
}

func mutateActionUnregister(cat *bunker.Catalog, fs *flag.FlagSet) error {
	name, _ := fs.GetString("name")
	if name == "" {
		return fmt.Errorf("--name is required")
	}
	return cat.UnregisterAction(name)
}

func mutateGrant(cat *bunker.Catalog, fs *flag.FlagSet) error {
	agent, _ := fs.GetString("agent")
	action, _ := fs.GetString("action")
	if agent == "" || action == "" {
		return fmt.Errorf("--agent and --action are required")
	}
	return cat.GrantPermission(agent, action)
}

func mutateRevoke(cat *bunker.Catalog, fs *flag.FlagSet) error {
	agent, _ := fs.GetString("agent")
	action, _ := fs.GetString("action")
	if agent == "" || action == "" {
		return fmt.Errorf("--agent and --action are required")
	}
	return cat.RevokePermission(agent, action)
}

// dumpView is the JSON-serializable shape of a catalog dump.
type dumpView struct {
	Version     int                 `json:"version"`
	Operators   []string            `json:"operators"`
	Agents      []string            `json:"agents"`
	Repeaters   []string            `json:"repeaters"`
	Actions     map[string]string   `json:"actions"`
	Permissions map[string][]string `json:"permissions"`
}

func runBunkerDump(args []string, globals GlobalFlags) {
	if os.Getenv("TURRET_DEVELOP") != "1" {
		clierr.FatalError(clierr.NewPermissionError(
			"bunker dump is development-only",
			"refuses to print decrypted catalog contents outside a development environment",
			"Set TURRET_DEVELOP=1 to confirm this is a development environment",
			nil,
		), globals.JSON)
	}

	fs := flag.NewFlagSet("bunker dump", flag.ExitOnError)
	operatorIdentity := fs.String("operator-identity", "", "Operator identity to open the bunker with")
	hostIdentity := fs.String("host-identity", "", "Host identity to open the bunker with")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		clierr.FatalError(clierr.NewInputError(
			"Missing bunker path",
			"bunker dump requires exactly one positional argument",
			"Usage: turretctl bunker dump <path> [--host-identity <path>] [--operator-identity <path>]",
			nil,
		), globals.JSON)
	}
	path := fs.Arg(0)

	identity := *hostIdentity
	if identity == "" {
		identity = *operatorIdentity
	}
	if identity == "" {
		clierr.FatalError(clierr.NewInputError(
			"Missing identity",
			"bunker dump needs --host-identity or --operator-identity",
			"Pass one of the two identity flags",
			nil,
		), globals.JSON)
	}

	cat, err := bunker.Load(context.Background(), path, identity)
	if err != nil {
		clierr.FatalError(clierr.NewDatabaseError(
			"Cannot open bunker",
			err.Error(),
			"Check the path and identity file",
			err,
		), globals.JSON)
	}

	actions := make(map[string]string, len(cat.Actions))
	for k, v := range cat.Actions {
		actions[k] = v
	}
	view := dumpView{
		Version:     cat.Version,
		Operators:   append([]string(nil), cat.Operators...),
		Agents:      sortedMapKeys(cat.Agents),
		Repeaters:   sortedMapKeys(cat.Repeaters),
		Actions:     actions,
		Permissions: cat.Permissions,
	}

	if globals.JSON {
		enc, _ := json.MarshalIndent(view, "", "  ")
		fmt.Println(string(enc))
		return
	}

	ui.Header("Bunker catalog")
	ui.Infof("operators: %v", view.Operators)
	ui.Infof("agents (%s): %v", ui.CountText(len(view.Agents)), view.Agents)
	ui.Infof("repeaters (%s): %v", ui.CountText(len(view.Repeaters)), view.Repeaters)
	ui.Infof("actions: %v", view.Actions)
	ui.Infof("permissions: %v", view.Permissions)
}

func sortedMapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
