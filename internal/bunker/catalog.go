// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bunker implements the repeater-based authorization catalog:
// operators, agents, repeaters, actions, and the permission matrix between
// them, plus the invariants that must hold before a catalog is trusted.
package bunker

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
)

// CatalogVersion is the single version this package understands.
const CatalogVersion = 1

// ErrInvariant wraps every invariant violation raised by Validate.
var ErrInvariant = errors.New("turret: catalog invariant violated")

// Catalog is the in-memory authorization state loaded from the sealed
// file at daemon startup.
type Catalog struct {
	Version     int                 `yaml:"version"`
	Operators   []string            `yaml:"operators"`
	Agents      map[string]string   `yaml:"agents"`      // principal -> base64 verifying key
	Repeaters   map[string]string   `yaml:"repeaters"`   // principal -> base64 verifying key
	Actions     map[string]string   `yaml:"actions"`     // action name -> owning repeater principal
	Permissions map[string][]string `yaml:"permissions"` // agent principal -> allowed action names
}

// New returns an empty catalog at the current version, with the given
// initial operator set.
func New(operators []string) *Catalog {
	return &Catalog{
		Version:     CatalogVersion,
		Operators:   append([]string(nil), operators...),
		Agents:      make(map[string]string),
		Repeaters:   make(map[string]string),
		Actions:     make(map[string]string),
		Permissions: make(map[string][]string),
	}
}

// Validate checks all five invariants. It returns the first violation
// found, wrapped in ErrInvariant.
func (c *Catalog) Validate() error {
	if c.Version != CatalogVersion {
		return fmt.Errorf("%w: unsupported catalog version %d", ErrInvariant, c.Version)
	}
	if len(c.Operators) == 0 {
		return fmt.Errorf("%w: operators is empty", ErrInvariant)
	}
	for action, owner := range c.Actions {
		if _, ok := c.Repeaters[owner]; !ok {
			return fmt.Errorf("%w: action %q owned by unknown repeater %q", ErrInvariant, action, owner)
		}
	}
	for agent := range c.Permissions {
		if _, ok := c.Agents[agent]; !ok {
			return fmt.Errorf("%w: permissions reference unknown agent %q", ErrInvariant, agent)
		}
	}
	for agent, actions := range c.Permissions {
		for _, action := range actions {
			if _, ok := c.Actions[action]; !ok {
				return fmt.Errorf("%w: agent %q granted unknown action %q", ErrInvariant, agent, action)
			}
		}
	}
	return nil
}

// VerifyingKey decodes the base64 verifying key stored for principal,
// looking first in agents then repeaters. Returns ok=false if principal
// is in neither set.
func (c *Catalog) VerifyingKey(principal string) (ed25519.PublicKey, bool, error) {
	var encoded string
	if k, ok := c.Agents[principal]; ok {
		encoded = k
	} else if k, ok := c.Repeaters[principal]; ok {
		encoded = k
	} else {
		return nil, false, nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, true, fmt.Errorf("turret: decode verifying key for %q: %w", principal, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, true, fmt.Errorf("turret: verifying key for %q has wrong length %d", principal, len(raw))
	}
	return ed25519.PublicKey(raw), true, nil
}

// IsAgent reports whether principal names a known agent.
func (c *Catalog) IsAgent(principal string) bool {
	_, ok := c.Agents[principal]
	return ok
}

// IsRepeater reports whether principal names a known repeater.
func (c *Catalog) IsRepeater(principal string) bool {
	_, ok := c.Repeaters[principal]
	return ok
}

// Allows reports whether agent is permitted to invoke action.
func (c *Catalog) Allows(agent, action string) bool {
	for _, a := range c.Permissions[agent] {
		if a == action {
			return true
		}
	}
	return false
}

// ActionOwner returns the repeater principal registered to own action.
func (c *Catalog) ActionOwner(action string) (string, bool) {
	owner, ok := c.Actions[action]
	return owner, ok
}

// --- mutation helpers, used by the administrative surface only ---

// ErrNotFound is returned by remove/revoke operations targeting an entry
// that does not exist.
var ErrNotFound = errors.New("turret: not found")

// ErrAlreadyExists is returned by add operations targeting a principal
// or action name already present.
var ErrAlreadyExists = errors.New("turret: already exists")

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func removeString(xs []string, x string) []string {
	out := xs[:0]
	for _, v := range xs {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}

// AddOperator appends operator to the recipient set if not already present.
func (c *Catalog) AddOperator(operator string) error {
	if contains(c.Operators, operator) {
		return fmt.Errorf("%w: operator %q", ErrAlreadyExists, operator)
	}
	c.Operators = append(c.Operators, operator)
	return nil
}

// RemoveOperator removes operator, refusing to leave the set empty.
func (c *Catalog) RemoveOperator(operator string) error {
	if !contains(c.Operators, operator) {
		return fmt.Errorf("%w: operator %q", ErrNotFound, operator)
	}
	if len(c.Operators) == 1 {
		return fmt.Errorf("%w: cannot remove final operator", ErrInvariant)
	}
	c.Operators = removeString(c.Operators, operator)
	return nil
}

func encodeKey(key ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(key)
}

// AddAgent registers a new agent principal with its verifying key.
func (c *Catalog) AddAgent(principal string, key ed25519.PublicKey) error {
	if _, ok := c.Agents[principal]; ok {
		return fmt.Errorf("%w: agent %q", ErrAlreadyExists, principal)
	}
	if _, ok := c.Repeaters[principal]; ok {
		return fmt.Errorf("turret: principal %q already registered as a repeater", principal)
	}
	c.Agents[principal] = encodeKey(key)
	return nil
}

// RemoveAgent deletes an agent and its permission entries.
func (c *Catalog) RemoveAgent(principal string) error {
	if _, ok := c.Agents[principal]; !ok {
		return fmt.Errorf("%w: agent %q", ErrNotFound, principal)
	}
	delete(c.Agents, principal)
	delete(c.Permissions, principal)
	return nil
}

// AddRepeater registers a new repeater principal with its verifying key.
func (c *Catalog) AddRepeater(principal string, key ed25519.PublicKey) error {
	if _, ok := c.Repeaters[principal]; ok {
		return fmt.Errorf("%w: repeater %q", ErrAlreadyExists, principal)
	}
	if _, ok := c.Agents[principal]; ok {
		return fmt.Errorf("turret: principal %q already registered as an agent", principal)
	}
	c.Repeaters[principal] = encodeKey(key)
	return nil
}

// RemoveRepeater deletes a repeater and any actions it owns.
func (c *Catalog) RemoveRepeater(principal string) error {
	if _, ok := c.Repeaters[principal]; !ok {
		return fmt.Errorf("%w: repeater %q", ErrNotFound, principal)
	}
	delete(c.Repeaters, principal)
	for action, owner := range c.Actions {
		if owner == principal {
			delete(c.Actions, action)
		}
	}
	return nil
}

// RegisterAction binds action to owner, which must be a known repeater.
func (c *Catalog) RegisterAction(action, owner string) error {
	if _, ok := c.Repeaters[owner]; !ok {
		return fmt.Errorf("%w: repeater %q", ErrNotFound, owner)
	}
	if _, ok := c.Actions[action]; ok {
		return fmt.Errorf("%w: action %q", ErrAlreadyExists, action)
	}
	c.Actions[action] = owner
	return nil
}

// UnregisterAction removes action, revoking it from any permission grants.
func (c *Catalog) UnregisterAction(action string) error {
	if _, ok := c.Actions[action]; !ok {
		return fmt.Errorf("%w: action %q", ErrNotFound, action)
	}
	delete(c.Actions, action)
	for agent, actions := range c.Permissions {
		c.Permissions[agent] = removeString(actions, action)
	}
	return nil
}

// GrantPermission allows agent to invoke action.
func (c *Catalog) GrantPermission(agent, action string) error {
	if _, ok := c.Agents[agent]; !ok {
		return fmt.Errorf("%w: agent %q", ErrNotFound, agent)
	}
	if _, ok := c.Actions[action]; !ok {
		return fmt.Errorf("%w: action %q", ErrNotFound, action)
	}
	if contains(c.Permissions[agent], action) {
		return fmt.Errorf("%w: permission %s:%s", ErrAlreadyExists, agent, action)
	}
	c.Permissions[agent] = append(c.Permissions[agent], action)
	sort.Strings(c.Permissions[agent])
	return nil
}

// RevokePermission disallows agent from invoking action.
func (c *Catalog) RevokePermission(agent, action string) error {
	if !contains(c.Permissions[agent], action) {
		return fmt.Errorf("%w: permission %s:%s", ErrNotFound, agent, action)
	}
	c.Permissions[agent] = removeString(c.Permissions[agent], action)
	return nil
}
