// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package bunker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overyonder/turret/internal/seal"
)

func fakeSealBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-rage")
	script := `#!/bin/sh
set -e
if [ "$1" = "-e" ]; then
  printf 'age-encryption.org/v1\n'
  cat
else
  tail -c +23
fi
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestSaveLoadRoundTrip(t *testing.T) {
	old := seal.BinaryName
	seal.BinaryName = fakeSealBinary(t)
	defer func() { seal.BinaryName = old }()

	cat := sampleCatalog()
	path := filepath.Join(t.TempDir(), "bunker.age")

	require.NoError(t, Save(context.Background(), path, cat))

	loaded, err := Load(context.Background(), path, "/dev/null")
	require.NoError(t, err)
	assert.Equal(t, cat.Operators, loaded.Operators)
	assert.Equal(t, cat.Agents, loaded.Agents)
	assert.Equal(t, cat.Actions, loaded.Actions)
}

func TestLoadRejectsUnsealedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("version = 1\n"), 0o600))

	_, err := Load(context.Background(), path, "/dev/null")
	require.ErrorIs(t, err, ErrNotSealed)
}

func TestSaveRefusesInvalidCatalog(t *testing.T) {
	c := New(nil) // no operators: invariant violated
	err := Save(context.Background(), filepath.Join(t.TempDir(), "bunker.age"), c)
	require.ErrorIs(t, err, ErrInvariant)
}
