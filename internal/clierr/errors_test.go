// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package clierr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NewConfigError("Cannot read configuration file", "Failed to read x.yaml", "Check permissions", cause)
	assert.Contains(t, err.Error(), "Cannot read configuration file")
	assert.Contains(t, err.Error(), "disk full")
	assert.ErrorIs(t, err, cause)
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := NewInputError("Bad flag", "unknown verb", "", nil)
	assert.Equal(t, "Bad flag: unknown verb", err.Error())
}

func TestExitCodesMatchKind(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindInternal, 1},
		{KindInput, 2},
		{KindPermission, 3},
		{KindConfig, 4},
		{KindNetwork, 5},
		{KindDatabase, 6},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.kind.exitCode(), tc.kind.String())
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "config", KindConfig.String())
	assert.Equal(t, "internal", KindInternal.String())
}
