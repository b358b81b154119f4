// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestLabelAndDimTextPlainWhenNoColor(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = old }()

	assert.Equal(t, "Version:", Label("Version:"))
	assert.Equal(t, "n/a", DimText("n/a"))
}

func TestCountTextZeroVsNonZero(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = old }()

	assert.Equal(t, "0", CountText(0))
	assert.Equal(t, "5", CountText(5))
}

func TestInitColorsRespectsNoColorFlag(t *testing.T) {
	old := color.NoColor
	defer func() { color.NoColor = old }()

	InitColors(true)
	assert.True(t, color.NoColor)
}
