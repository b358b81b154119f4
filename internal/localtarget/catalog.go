// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package localtarget implements the second, orthogonal execution
// backend for locally-run commands: a catalog of targets with shaped
// payloads and secret-token templating, reusing the broker's permission
// model but never mixing its fields into the repeater-based bunker.
package localtarget

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvariant wraps every invariant violation raised by Validate.
var ErrInvariant = errors.New("turret: target catalog invariant violated")

// shapeFields lists the only payload field names a TargetShape may name.
var shapeFields = map[string]struct{}{
	"command": {},
	"argv":    {},
	"env":     {},
	"stdin":   {},
}

// TargetShape constrains which InvokePayload fields a target accepts.
type TargetShape struct {
	Allow            []string `yaml:"allow,omitempty"`
	Forbid           []string `yaml:"forbid,omitempty"`
	Require          []string `yaml:"require,omitempty"`
	ArgvPlaceholders *int     `yaml:"argv_placeholders,omitempty"`
}

// TargetTransform renders the payload into the actual command invocation,
// substituting `{secret_name}` tokens from the catalog's secret store.
type TargetTransform struct {
	OutCommand      string            `yaml:"out_command"`
	OutArgvReplace  map[string]string `yaml:"out_argv_replace,omitempty"`
	OutEnv          map[string]string `yaml:"out_env,omitempty"`
	OutStdinReplace map[string]string `yaml:"out_stdin_replace,omitempty"`
}

// TargetDef is one locally-executed command definition.
type TargetDef struct {
	Shape     TargetShape     `yaml:"shape"`
	Transform TargetTransform `yaml:"transform"`
}

// Catalog is the local-target authorization and templating store.
type Catalog struct {
	Version     int                  `yaml:"version"`
	Operators   []string             `yaml:"operators"`
	Agents      map[string]string    `yaml:"agents"` // principal -> shared secret
	Targets     map[string]TargetDef `yaml:"targets"`
	Permissions map[string][]string  `yaml:"permissions"` // agent -> allowed target names
	Secrets     map[string]string    `yaml:"secrets"`
}

// New returns an empty catalog with the given initial operator set.
func New(operators []string) *Catalog {
	return &Catalog{
		Version:     1,
		Operators:   append([]string(nil), operators...),
		Agents:      make(map[string]string),
		Targets:     make(map[string]TargetDef),
		Permissions: make(map[string][]string),
		Secrets:     make(map[string]string),
	}
}

// Validate checks the catalog's invariants: non-empty operators,
// well-formed permission/target references, valid shape field names, no
// require/forbid conflicts, and that every secret token a target
// references resolves to a stored secret.
func (c *Catalog) Validate() error {
	if len(c.Operators) == 0 {
		return fmt.Errorf("%w: no operators", ErrInvariant)
	}

	for agent, allowed := range c.Permissions {
		if _, ok := c.Agents[agent]; !ok {
			return fmt.Errorf("%w: permission references unknown agent %q", ErrInvariant, agent)
		}
		for _, target := range allowed {
			if _, ok := c.Targets[target]; !ok {
				return fmt.Errorf("%w: permission references unknown target %q", ErrInvariant, target)
			}
		}
	}

	for name, def := range c.Targets {
		if name == "" {
			return fmt.Errorf("%w: empty target name", ErrInvariant)
		}
		if strings.TrimSpace(def.Transform.OutCommand) == "" {
			return fmt.Errorf("%w: target %q out_command is empty", ErrInvariant, name)
		}

		for _, field := range allShapeFields(def.Shape) {
			if _, ok := shapeFields[field]; !ok {
				return fmt.Errorf("%w: target %q shape has unknown field %q", ErrInvariant, name, field)
			}
		}
		for _, field := range def.Shape.Require {
			if contains(def.Shape.Forbid, field) {
				return fmt.Errorf("%w: target %q shape conflicts: field %q both required and forbidden", ErrInvariant, name, field)
			}
		}

		for ref := range collectSecretRefs(def) {
			if _, ok := c.Secrets[ref]; !ok {
				return fmt.Errorf("%w: target %q references unknown secret %q", ErrInvariant, name, ref)
			}
		}
	}

	return nil
}

func allShapeFields(s TargetShape) []string {
	out := append([]string(nil), s.Allow...)
	out = append(out, s.Forbid...)
	out = append(out, s.Require...)
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func collectSecretRefs(def TargetDef) map[string]struct{} {
	out := make(map[string]struct{})
	collectRefsFromString(def.Transform.OutCommand, out)
	for _, v := range def.Transform.OutArgvReplace {
		collectRefsFromString(v, out)
	}
	for k, v := range def.Transform.OutEnv {
		collectRefsFromString(k, out)
		collectRefsFromString(v, out)
	}
	for _, v := range def.Transform.OutStdinReplace {
		collectRefsFromString(v, out)
	}
	return out
}

func isTokenChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}

func collectRefsFromString(s string, out map[string]struct{}) {
	pos := 0
	for {
		startRel := strings.IndexByte(s[pos:], '{')
		if startRel < 0 {
			return
		}
		start := pos + startRel
		endRel := strings.IndexByte(s[start:], '}')
		if endRel < 0 {
			return
		}
		end := start + endRel
		token := s[start+1 : end]
		if token != "" && allTokenChars(token) {
			out[token] = struct{}{}
		}
		pos = end + 1
	}
}

func allTokenChars(s string) bool {
	for _, r := range s {
		if !isTokenChar(r) {
			return false
		}
	}
	return true
}

// Allows reports whether agent is permitted to invoke target.
func (c *Catalog) Allows(agent, target string) bool {
	return contains(c.Permissions[agent], target)
}

// AddAgent registers an agent principal with a shared secret.
func (c *Catalog) AddAgent(principal, secret string) error {
	if _, ok := c.Agents[principal]; ok {
		return fmt.Errorf("turret: agent %q already exists", principal)
	}
	c.Agents[principal] = secret
	return nil
}

// AddTarget registers a new target definition.
func (c *Catalog) AddTarget(name string, def TargetDef) error {
	if _, ok := c.Targets[name]; ok {
		return fmt.Errorf("turret: target %q already exists", name)
	}
	c.Targets[name] = def
	return nil
}

// GrantPermission allows agent to invoke target.
func (c *Catalog) GrantPermission(agent, target string) error {
	if _, ok := c.Agents[agent]; !ok {
		return fmt.Errorf("turret: unknown agent %q", agent)
	}
	if _, ok := c.Targets[target]; !ok {
		return fmt.Errorf("turret: unknown target %q", target)
	}
	if contains(c.Permissions[agent], target) {
		return fmt.Errorf("turret: permission %s:%s already exists", agent, target)
	}
	c.Permissions[agent] = append(c.Permissions[agent], target)
	sort.Strings(c.Permissions[agent])
	return nil
}
