// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui gives turretctl a small, consistent terminal vocabulary:
// headers, labels, dim/count text, and color handles that degrade to
// plain text when color is disabled or stdout isn't a terminal.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Cyan   = color.New(color.FgCyan)
	Dim    = color.New(color.Faint)
	Bold   = color.New(color.Bold)
)

// InitColors disables color output when noColor is set, or when stdout is
// not a terminal.
func InitColors(noColor bool) {
	if noColor || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Header prints a bold section title.
func Header(title string) {
	Bold.Println(title)
}

// SubHeader prints a secondary, indented section title.
func SubHeader(title string) {
	fmt.Printf("  %s\n", Bold.Sprint(title))
}

// Label renders a field name for "label value" lines.
func Label(text string) string {
	return Bold.Sprint(text)
}

// DimText renders text at reduced emphasis.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// CountText renders an integer count, dimmed if zero.
func CountText(n int) string {
	if n == 0 {
		return Dim.Sprint("0")
	}
	return fmt.Sprintf("%d", n)
}

// Info prints an informational line.
func Info(message string) {
	fmt.Println(message)
}

// Infof prints a formatted informational line.
func Infof(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// Success prints a green confirmation line.
func Success(message string) {
	Green.Printf("%s\n", message)
}

// Successf prints a formatted green confirmation line.
func Successf(format string, args ...any) {
	Green.Printf(format+"\n", args...)
}

// Warn prints a yellow warning line.
func Warn(message string) {
	Yellow.Printf("%s\n", message)
}

// Warningf prints a formatted yellow warning line.
func Warningf(format string, args ...any) {
	Yellow.Printf(format+"\n", args...)
}
