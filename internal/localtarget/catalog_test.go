// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package localtarget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCatalog() *Catalog {
	c := New([]string{"op-1"})
	_ = c.AddAgent("agent-1", "s3cr3t")
	_ = c.AddTarget("greet", TargetDef{
		Shape: TargetShape{Allow: []string{"argv"}},
		Transform: TargetTransform{
			OutCommand: "/bin/echo",
		},
	})
	_ = c.GrantPermission("agent-1", "greet")
	return c
}

func TestValidateAcceptsWellFormedCatalog(t *testing.T) {
	require.NoError(t, sampleCatalog().Validate())
}

func TestValidateRejectsEmptyOperators(t *testing.T) {
	c := New(nil)
	require.ErrorIs(t, c.Validate(), ErrInvariant)
}

func TestValidateRejectsUnknownShapeField(t *testing.T) {
	c := sampleCatalog()
	def := c.Targets["greet"]
	def.Shape.Allow = append(def.Shape.Allow, "bogus")
	c.Targets["greet"] = def
	require.ErrorIs(t, c.Validate(), ErrInvariant)
}

func TestValidateRejectsRequireForbidConflict(t *testing.T) {
	c := sampleCatalog()
	def := c.Targets["greet"]
	def.Shape.Require = []string{"argv"}
	def.Shape.Forbid = []string{"argv"}
	c.Targets["greet"] = def
	require.ErrorIs(t, c.Validate(), ErrInvariant)
}

func TestValidateRejectsMissingSecretReference(t *testing.T) {
	c := sampleCatalog()
	def := c.Targets["greet"]
	def.Transform.OutCommand = "{missing}"
	c.Targets["greet"] = def
	require.ErrorIs(t, c.Validate(), ErrInvariant)
}

func TestValidateAcceptsKnownSecretReference(t *testing.T) {
	c := sampleCatalog()
	c.Secrets["token"] = "abc123"
	def := c.Targets["greet"]
	def.Transform.OutCommand = "{token}"
	c.Targets["greet"] = def
	require.NoError(t, c.Validate())
}

func TestValidateRejectsEmptyOutCommand(t *testing.T) {
	c := sampleCatalog()
	def := c.Targets["greet"]
	def.Transform.OutCommand = "  "
	c.Targets["greet"] = def
	require.ErrorIs(t, c.Validate(), ErrInvariant)
}

func TestValidateRejectsPermissionForUnknownTarget(t *testing.T) {
	c := sampleCatalog()
	c.Permissions["agent-1"] = append(c.Permissions["agent-1"], "ghost")
	require.ErrorIs(t, c.Validate(), ErrInvariant)
}

func TestAllows(t *testing.T) {
	c := sampleCatalog()
	assert.True(t, c.Allows("agent-1", "greet"))
	assert.False(t, c.Allows("agent-1", "other"))
}
