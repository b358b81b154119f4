// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package localtarget

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// ErrUnauthenticated means the payload's agent_id/agent_secret pair did
// not match the catalog.
var ErrUnauthenticated = errors.New("turret: unauthenticated")

// ErrDenied means the agent has no permission grant for the target.
var ErrDenied = errors.New("turret: denied")

// ErrUnknownTarget means the target name is not in the catalog.
var ErrUnknownTarget = errors.New("turret: unknown target")

// ErrBadRequest means the payload did not conform to the target's shape.
var ErrBadRequest = errors.New("turret: bad request")

// runPath is the fixed PATH given to executed targets; overridable in
// tests.
var runPath = "/run/current-system/sw/bin:/usr/bin:/bin"

// Payload is the caller-supplied invocation for a local target.
type Payload struct {
	AgentID     string
	AgentSecret string
	Target      string
	Command     *string
	Argv        []string
	HasArgv     bool
	Env         map[string]string
	HasEnv      bool
	Stdin       *string
}

// Execute authenticates and authorizes payload against catalog, conforms
// it to the target's shape, renders secret tokens, and runs the
// resulting command, returning its stdout.
func Execute(ctx context.Context, catalog *Catalog, payload Payload) ([]byte, error) {
	secret, known := catalog.Agents[payload.AgentID]
	if !known || secret != payload.AgentSecret {
		return nil, ErrUnauthenticated
	}
	if !catalog.Allows(payload.AgentID, payload.Target) {
		return nil, ErrDenied
	}

	def, ok := catalog.Targets[payload.Target]
	if !ok {
		return nil, ErrUnknownTarget
	}

	command, argv, env, stdin, err := conformPayload(def, payload, catalog.Secrets)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	return runTarget(ctx, command, argv, env, stdin)
}

func conformPayload(def TargetDef, payload Payload, secrets map[string]string) (string, []string, map[string]string, []byte, error) {
	present := map[string]bool{
		"command": payload.Command != nil,
		"argv":    payload.HasArgv,
		"env":     payload.HasEnv,
		"stdin":   payload.Stdin != nil,
	}

	for _, field := range []string{"command", "argv", "env", "stdin"} {
		isPresent := present[field]
		if isPresent && !contains(def.Shape.Allow, field) {
			return "", nil, nil, nil, fmt.Errorf("non-conforming payload: field %q is not allowed", field)
		}
		if isPresent && contains(def.Shape.Forbid, field) {
			return "", nil, nil, nil, fmt.Errorf("non-conforming payload: field %q is forbidden", field)
		}
		if !isPresent && contains(def.Shape.Require, field) {
			return "", nil, nil, nil, fmt.Errorf("non-conforming payload: field %q is required", field)
		}
	}

	if def.Shape.ArgvPlaceholders != nil {
		if !payload.HasArgv {
			return "", nil, nil, nil, errors.New("non-conforming payload: argv required for placeholder check")
		}
		actual := 0
		for _, a := range payload.Argv {
			actual += countPlaceholders(a)
		}
		if actual != *def.Shape.ArgvPlaceholders {
			return "", nil, nil, nil, fmt.Errorf("non-conforming payload: argv placeholder count is %d, expected %d", actual, *def.Shape.ArgvPlaceholders)
		}
	}

	command, err := renderSecretTokens(def.Transform.OutCommand, secrets)
	if err != nil {
		return "", nil, nil, nil, err
	}
	if strings.TrimSpace(command) == "" {
		return "", nil, nil, nil, errors.New("non-conforming payload: command resolved empty")
	}

	argv := append([]string(nil), payload.Argv...)
	replaceKeys := sortedKeys(def.Transform.OutArgvReplace)
	for i, item := range argv {
		for _, from := range replaceKeys {
			to, err := renderSecretTokens(def.Transform.OutArgvReplace[from], secrets)
			if err != nil {
				return "", nil, nil, nil, err
			}
			item = strings.ReplaceAll(item, from, to)
		}
		argv[i] = item
	}

	env := make(map[string]string, len(payload.Env))
	for k, v := range payload.Env {
		env[k] = v
	}
	for kTmpl, vTmpl := range def.Transform.OutEnv {
		k, err := renderSecretTokens(kTmpl, secrets)
		if err != nil {
			return "", nil, nil, nil, err
		}
		v, err := renderSecretTokens(vTmpl, secrets)
		if err != nil {
			return "", nil, nil, nil, err
		}
		env[k] = v
	}

	stdinStr := ""
	if payload.Stdin != nil {
		stdinStr = *payload.Stdin
	}
	for from, toTmpl := range def.Transform.OutStdinReplace {
		to, err := renderSecretTokens(toTmpl, secrets)
		if err != nil {
			return "", nil, nil, nil, err
		}
		stdinStr = strings.ReplaceAll(stdinStr, from, to)
	}

	return command, argv, env, []byte(stdinStr), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func renderSecretTokens(tmpl string, secrets map[string]string) (string, error) {
	out := tmpl
	pos := 0
	for {
		startRel := strings.IndexByte(out[pos:], '{')
		if startRel < 0 {
			break
		}
		start := pos + startRel
		endRel := strings.IndexByte(out[start:], '}')
		if endRel < 0 {
			return "", errors.New("non-conforming payload: malformed template token")
		}
		end := start + endRel
		name := out[start+1 : end]
		value, ok := secrets[name]
		if !ok {
			return "", fmt.Errorf("non-conforming payload: unknown secret %q", name)
		}
		out = out[:start] + value + out[end+1:]
		pos = start + len(value)
	}
	return out, nil
}

func countPlaceholders(s string) int {
	count := 0
	pos := 0
	for {
		startRel := strings.IndexByte(s[pos:], '{')
		if startRel < 0 {
			return count
		}
		start := pos + startRel
		endRel := strings.IndexByte(s[start:], '}')
		if endRel < 0 {
			return count
		}
		end := start + endRel
		if end > start+1 {
			count++
		}
		pos = end + 1
	}
}

func runTarget(ctx context.Context, command string, argv []string, env map[string]string, stdin []byte) ([]byte, error) {
	if command == "" {
		return nil, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, command, argv...)
	cmd.Env = []string{"PATH=" + runPath}
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "command failed"
		}
		return nil, errors.New(msg)
	}
	return stdout.Bytes(), nil
}
