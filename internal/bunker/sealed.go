// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package bunker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/overyonder/turret/internal/seal"
)

// ErrNotSealed is returned by Load when the file does not carry the
// sealed-file adapter's magic prefix.
var ErrNotSealed = fmt.Errorf("turret: file is not sealed")

// Load reads, decrypts, parses, and validates the catalog at path using
// identityPath. Load performs exactly one decrypt attempt per call; a
// fallback to a second identity is left to the caller, so the daemon's
// host-then-operator fallback stays visible at the call site.
func Load(ctx context.Context, path, identityPath string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("turret: read catalog file: %w", err)
	}
	if !seal.LooksSealed(raw) {
		return nil, ErrNotSealed
	}

	plaintext, err := seal.DecryptWithIdentity(ctx, raw, identityPath)
	if err != nil {
		return nil, fmt.Errorf("turret: decrypt catalog: %w", err)
	}

	var cat Catalog
	if err := yaml.Unmarshal(plaintext, &cat); err != nil {
		return nil, fmt.Errorf("turret: parse catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Save validates the catalog, serializes it, seals it to the current
// operator set as recipients, and atomically replaces path.
func Save(ctx context.Context, path string, cat *Catalog) error {
	if err := cat.Validate(); err != nil {
		return err
	}

	plaintext, err := yaml.Marshal(cat)
	if err != nil {
		return fmt.Errorf("turret: serialize catalog: %w", err)
	}

	ciphertext, err := seal.EncryptToRecipients(ctx, plaintext, cat.Operators)
	if err != nil {
		return fmt.Errorf("turret: seal catalog: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".bunker-*.tmp")
	if err != nil {
		return fmt.Errorf("turret: create temp catalog file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(ciphertext); err != nil {
		tmp.Close()
		return fmt.Errorf("turret: write temp catalog file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("turret: close temp catalog file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("turret: chmod temp catalog file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("turret: rename catalog file into place: %w", err)
	}
	return nil
}
