// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package seal wraps an external age-compatible encryption tool as an
// opaque encrypt-to-recipients / decrypt-with-identity adapter. The tool
// itself is treated as a black box; this package only shells out to it.
package seal

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// magicPrefix is the age file format's identifying header.
var magicPrefix = []byte("age-encryption.org/")

// BinaryName is the executable invoked for all seal/unseal operations.
// Overridable in tests.
var BinaryName = "rage"

// KeygenBinaryName is the executable invoked to mint a fresh identity.
// Overridable in tests.
var KeygenBinaryName = "rage-keygen"

// LooksSealed is a cheap magic-prefix check used to reject obviously wrong
// files before ever invoking the external binary.
func LooksSealed(data []byte) bool {
	return bytes.HasPrefix(data, magicPrefix)
}

// DecryptWithIdentity decrypts ciphertext using the identity file at
// identityPath. Succeeds only if that identity is one of the file's
// recipients.
func DecryptWithIdentity(ctx context.Context, ciphertext []byte, identityPath string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, BinaryName, "-d", "-i", identityPath)
	cmd.Stdin = bytes.NewReader(ciphertext)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("turret: decrypt with identity %s: %w: %s", identityPath, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// EncryptToRecipients encrypts plaintext so that any identity matching one
// of recipients can decrypt it.
func EncryptToRecipients(ctx context.Context, plaintext []byte, recipients []string) ([]byte, error) {
	args := []string{"-e"}
	for _, r := range recipients {
		args = append(args, "-r", r)
	}
	cmd := exec.CommandContext(ctx, BinaryName, args...)
	cmd.Stdin = bytes.NewReader(plaintext)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("turret: encrypt to recipients: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// GenerateIdentity writes a freshly minted identity file to identityPath and
// returns its recipient string, for quick local bootstrap (`bunker init
// --weak`). Not a substitute for operator-managed key material in a real
// deployment.
func GenerateIdentity(ctx context.Context, identityPath string) (recipient string, err error) {
	cmd := exec.CommandContext(ctx, KeygenBinaryName, "-o", identityPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("turret: generate identity: %w: %s", err, stderr.String())
	}
	for _, line := range bytes.Split(out, []byte("\n")) {
		const marker = "Public key: "
		if idx := bytes.Index(line, []byte(marker)); idx >= 0 {
			return string(bytes.TrimSpace(line[idx+len(marker):])), nil
		}
	}
	return "", fmt.Errorf("turret: generate identity: could not find public key in %s output", KeygenBinaryName)
}
