// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package clierr gives turretctl a uniform error shape: a short title, a
// detail line, an actionable suggestion, and an optional wrapped cause.
// FatalError prints it (plain or JSON) and exits with a kind-specific code.
package clierr

import (
	"encoding/json"
	"fmt"
	"os"
)

// Kind classifies an Error for exit-code selection and presentation.
type Kind int

const (
	KindInternal Kind = iota
	KindInput
	KindPermission
	KindConfig
	KindNetwork
	KindDatabase
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindPermission:
		return "permission"
	case KindConfig:
		return "config"
	case KindNetwork:
		return "network"
	case KindDatabase:
		return "database"
	default:
		return "internal"
	}
}

func (k Kind) exitCode() int {
	switch k {
	case KindInput:
		return 2
	case KindPermission:
		return 3
	case KindConfig:
		return 4
	case KindNetwork:
		return 5
	case KindDatabase:
		return 6
	default:
		return 1
	}
}

// Error is turretctl's structured error type.
type Error struct {
	Kind       Kind
	Title      string
	Detail     string
	Suggestion string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Title, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, title, detail, suggestion string, cause error) *Error {
	return &Error{Kind: kind, Title: title, Detail: detail, Suggestion: suggestion, Cause: cause}
}

// NewInternalError reports a bug: something the caller cannot fix.
func NewInternalError(title, detail, suggestion string, cause error) *Error {
	return newError(KindInternal, title, detail, suggestion, cause)
}

// NewInputError reports a problem with caller-supplied arguments.
func NewInputError(title, detail, suggestion string, cause error) *Error {
	return newError(KindInput, title, detail, suggestion, cause)
}

// NewPermissionError reports a filesystem or identity permission failure.
func NewPermissionError(title, detail, suggestion string, cause error) *Error {
	return newError(KindPermission, title, detail, suggestion, cause)
}

// NewConfigError reports a malformed or unreadable configuration/catalog.
func NewConfigError(title, detail, suggestion string, cause error) *Error {
	return newError(KindConfig, title, detail, suggestion, cause)
}

// NewNetworkError reports a socket bind/dial/listen failure.
func NewNetworkError(title, detail, suggestion string, cause error) *Error {
	return newError(KindNetwork, title, detail, suggestion, cause)
}

// NewDatabaseError reports a catalog-store failure (sealed file I/O).
func NewDatabaseError(title, detail, suggestion string, cause error) *Error {
	return newError(KindDatabase, title, detail, suggestion, cause)
}

type jsonError struct {
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Suggestion string `json:"suggestion,omitempty"`
	Cause      string `json:"cause,omitempty"`
}

// FatalError prints err to stderr (as JSON if jsonOutput is set) and exits
// the process with the exit code for err's kind. Non-*Error values are
// treated as internal errors.
func FatalError(err error, jsonOutput bool) {
	if err == nil {
		return
	}

	cerr, ok := err.(*Error)
	if !ok {
		cerr = newError(KindInternal, "Unexpected error", err.Error(), "", err)
	}

	if jsonOutput {
		payload := jsonError{
			Kind:       cerr.Kind.String(),
			Title:      cerr.Title,
			Detail:     cerr.Detail,
			Suggestion: cerr.Suggestion,
		}
		if cerr.Cause != nil {
			payload.Cause = cerr.Cause.Error()
		}
		enc, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Fprintln(os.Stderr, string(enc))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", cerr.Title)
		if cerr.Detail != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", cerr.Detail)
		}
		if cerr.Cause != nil {
			fmt.Fprintf(os.Stderr, "  caused by: %v\n", cerr.Cause)
		}
		if cerr.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "\n%s\n", cerr.Suggestion)
		}
	}

	os.Exit(cerr.Kind.exitCode())
}
