// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package replay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheRejectsDuplicateNonce(t *testing.T) {
	c := NewCache(120_000)
	require.NoError(t, c.CheckAndRecord(1_000_000, 1_000_000, []byte("a"), []byte("n")))
	err := c.CheckAndRecord(1_000_100, 1_000_100, []byte("a"), []byte("n"))
	require.ErrorIs(t, err, ErrReplay)
}

func TestCacheRejectsOutsideWindow(t *testing.T) {
	c := NewCache(120_000)
	err := c.CheckAndRecord(1_000_000, 1_000_000+120_001, []byte("a"), []byte("n"))
	require.ErrorIs(t, err, ErrOutsideWindow)
}

func TestCacheAllowsSameNonceDifferentPrincipal(t *testing.T) {
	c := NewCache(120_000)
	require.NoError(t, c.CheckAndRecord(1_000_000, 1_000_000, []byte("a"), []byte("n")))
	require.NoError(t, c.CheckAndRecord(1_000_000, 1_000_000, []byte("b"), []byte("n")))
}

func TestCacheEvictsOutsideWindowEntries(t *testing.T) {
	c := NewCache(1_000)
	require.NoError(t, c.CheckAndRecord(0, 0, []byte("a"), []byte("n")))

	// Past the window: the old entry is evicted, so the same nonce is
	// accepted again (it's a brand new envelope with a far-future ts).
	require.NoError(t, c.CheckAndRecord(5_000, 5_000, []byte("a"), []byte("n")))
}

func TestCacheAcceptsTimestampSlightlyAheadOfNow(t *testing.T) {
	c := NewCache(120_000)
	require.NoError(t, c.CheckAndRecord(1_000_000, 1_000_050, []byte("a"), []byte("n")))
}
