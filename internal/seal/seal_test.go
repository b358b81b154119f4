// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package seal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooksSealed(t *testing.T) {
	assert.True(t, LooksSealed([]byte("age-encryption.org/v1\n...")))
	assert.False(t, LooksSealed([]byte("version = 1\n")))
	assert.False(t, LooksSealed(nil))
}

// fakeBinary writes a shell script standing in for rage: -e echoes stdin
// with a fixed prefix, -d strips that prefix back off.
func fakeBinary(t *testing.T) string {
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

func TestEncryptDecryptRoundTripWithFakeBinary(t *testing.T) {
	old := BinaryName
	BinaryName = fakeBinary(t)
	defer func() { BinaryName = old }()

	ciphertext, err := EncryptToRecipients(context.Background(), []byte("hello"), []string{"recipient-1"})
	require.NoError(t, err)
	assert.True(t, LooksSealed(ciphertext))

	plaintext, err := DecryptWithIdentity(context.Background(), ciphertext, "/dev/null")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plaintext)
}

// fakeKeygenBinary writes a shell script standing in for rage-keygen: it
// writes a one-line identity file at the path given via -o and prints the
// matching public key line to stdout.
func fakeKeygenBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-rage-keygen")
	script := `#!/bin/sh
set -e
out=""
while [ "$#" -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
printf '# created: fake\n# public key: AGE-SECRET-KEY-FAKE\nAGE-SECRET-KEY-1FAKE\n' > "$out"
printf 'Public key: age1fakefakefakefakefakefakefakefakefakefakefakefakefakefq9x8a2\n'
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestGenerateIdentity(t *testing.T) {
	old := KeygenBinaryName
	KeygenBinaryName = fakeKeygenBinary(t)
	defer func() { KeygenBinaryName = old }()

	identityPath := filepath.Join(t.TempDir(), "host.key")
	recipient, err := GenerateIdentity(context.Background(), identityPath)
	require.NoError(t, err)
	assert.Equal(t, "age1fakefakefakefakefakefakefakefakefakefakefakefakefakefq9x8a2", recipient)

	data, err := os.ReadFile(identityPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "AGE-SECRET-KEY")
}
