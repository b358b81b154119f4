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
	"os"

	flag "github.com/spf13/pflag"
	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"

	"github.com/overyonder/turret/internal/bunker"
	"github.com/overyonder/turret/internal/clierr"
	"github.com/overyonder/turret/internal/ui"
)

// batchDoc is the declarative shape read by "bunker apply". Every field is
// optional; empty/absent ones are simply skipped.
type batchDoc struct {
	OperatorsAdd      []string          `yaml:"operators_add"`
	OperatorsRemove   []string          `yaml:"operators_remove"`
	AgentsAdd         []principalKeyDoc `yaml:"agents_add"`
	AgentsRemove      []string          `yaml:"agents_remove"`
	RepeatersAdd      []principalKeyDoc `yaml:"repeaters_add"`
	RepeatersRemove   []string          `yaml:"repeaters_remove"`
	ActionsRegister   []actionOwnerDoc  `yaml:"actions_register"`
	ActionsUnregister []string          `yaml:"actions_unregister"`
	Grants            []agentActionDoc  `yaml:"grants"`
	Revokes           []agentActionDoc  `yaml:"revokes"`
}

type principalKeyDoc struct {
	Name   string `yaml:"name"`
	Pubkey string `yaml:"pubkey"`
}

type actionOwnerDoc struct {
	Name  string `yaml:"name"`
	Owner string `yaml:"owner"`
}

type agentActionDoc struct {
	Agent  string `yaml:"agent"`
	Action string `yaml:"action"`
}

func (b batchDoc) stepCount() int {
	return len(b.OperatorsAdd) + len(b.OperatorsRemove) +
		len(b.AgentsAdd) + len(b.AgentsRemove) +
		len(b.RepeatersAdd) + len(b.RepeatersRemove) +
		len(b.ActionsRegister) + len(b.ActionsUnregister) +
		len(b.Grants) + len(b.Revokes)
}

// runBunkerApply reconciles many catalog changes from one declarative YAML
// document in a single open/validate/reseal cycle.
func runBunkerApply(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("bunker apply", flag.ExitOnError)
	existing := fs.String("existing", "", "Identity file that can decrypt the current bunker")
	fromPath := fs.String("from", "", "Path to the declarative batch YAML document")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 || *existing == "" || *fromPath == "" {
		clierr.FatalError(clierr.NewInputError(
			"Missing required arguments",
			"bunker apply requires a path, --existing, and --from",
			"Usage: turretctl bunker apply <path> --existing <identity> --from <batch.yaml>",
			nil,
		), globals.JSON)
	}
	path := fs.Arg(0)

	data, err := os.ReadFile(*fromPath)
	if err != nil {
		clierr.FatalError(clierr.NewInputError(
			"Cannot read batch document",
			err.Error(),
			"Check the --from path",
			err,
		), globals.JSON)
	}

	var batch batchDoc
	if err := yaml.Unmarshal(data, &batch); err != nil {
		clierr.FatalError(clierr.NewInputError(
			"Invalid batch document",
			"YAML parsing failed: "+err.Error(),
			"Fix the document's syntax and structure",
			err,
		), globals.JSON)
	}

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

	total := batch.stepCount()
	var bar *progressbar.ProgressBar
	if !globals.Quiet && total > 0 {
		bar = progressbar.Default(int64(total), "applying batch")
	}
	step := func() {
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	var errs []error
	apply := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
		step()
	}

	for _, op := range batch.OperatorsAdd {
		apply(cat.AddOperator(op))
	}
	for _, op := range batch.OperatorsRemove {
		apply(cat.RemoveOperator(op))
	}
	for _, a := range batch.AgentsAdd {
		key, err := decodePubkey(a.Pubkey)
		if err != nil {
			apply(err)
			continue
		}
		apply(cat.AddAgent(a.Name, key))
	}
	for _, name := range batch.AgentsRemove {
		apply(cat.RemoveAgent(name))
	}
	for _, r := range batch.RepeatersAdd {
		key, err := decodePubkey(r.Pubkey)
		if err != nil {
			apply(err)
			continue
		}
		apply(cat.AddRepeater(r.Name, key))
	}
	for _, name := range batch.RepeatersRemove {
		apply(cat.RemoveRepeater(name))
	}
	for _, a := range batch.ActionsRegister {
		apply(cat.RegisterAction(a.Name, a.Owner))
	}
	for _, name := range batch.ActionsUnregister {
		apply(cat.UnregisterAction(name))
	}
	for _, g := range batch.Grants {
		apply(cat.GrantPermission(g.Agent, g.Action))
	}
	for _, r := range batch.Revokes {
		apply(cat.RevokePermission(r.Agent, r.Action))
	}

	if len(errs) > 0 {
		for _, e := range errs {
			ui.Warningf("skipped: %v", e)
		}
	}

	if err := cat.Validate(); err != nil {
		clierr.FatalError(clierr.NewInputError(
			"Batch left the catalog invalid",
			err.Error(),
			"Fix the batch document and re-run",
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

	ui.Successf("applied %d change(s) to %s (%d skipped)", total-len(errs), path, len(errs))
}
