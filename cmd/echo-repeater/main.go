// Copyright 2026 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements echo-repeater, a minimal demo repeater: it
// registers the single action "echo" and replies to every Invoke with its
// params unchanged, as a worked example for writing real repeaters.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/overyonder/turret/internal/envelope"
)

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "echo-repeater: %v\n", err)
		os.Exit(1)
	}
}

func realMain() error {
	repeaterID := os.Getenv("TURRET_REPEATER_ID")
	if repeaterID == "" {
		repeaterID = "echo"
	}
	sock := os.Getenv("TURRET_REPEATER_SOCK")
	if sock == "" {
		sock = "turret-repeater.sock"
	}

	sk, err := loadSigningKey()
	if err != nil {
		return err
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return fmt.Errorf("connect %s: %w", sock, err)
	}
	defer conn.Close()

	regBody, err := envelope.RegisterBody{
		RepeaterID: []byte(repeaterID),
		Actions:    []string{"echo"},
	}.Encode()
	if err != nil {
		return err
	}
	regEnv, err := signedEnvelope(sk, envelope.Register, []byte(repeaterID), regBody)
	if err != nil {
		return err
	}
	encoded, err := regEnv.Encode()
	if err != nil {
		return err
	}
	if err := envelope.WriteFrame(conn, encoded); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "echo-repeater: registered as %s on %s\n", repeaterID, sock)

	for {
		payload, err := envelope.ReadFrame(conn)
		if err != nil {
			return err
		}
		env, err := envelope.Decode(payload)
		if err != nil {
			continue
		}
		if env.MsgType != envelope.Invoke {
			continue
		}

		inv, err := envelope.DecodeInvokeBody(env.Body)
		if err != nil {
			continue
		}

		resBody, err := envelope.ResultBody{
			RequestID: inv.RequestID,
			Payload:   inv.Params,
		}.Encode()
		if err != nil {
			return err
		}
		resEnv, err := signedEnvelope(sk, envelope.Result, []byte(repeaterID), resBody)
		if err != nil {
			return err
		}
		encoded, err := resEnv.Encode()
		if err != nil {
			return err
		}
		if err := envelope.WriteFrame(conn, encoded); err != nil {
			return err
		}
	}
}

func signedEnvelope(sk ed25519.PrivateKey, msgType envelope.MessageType, principal, body []byte) (envelope.Envelope, error) {
	tsMs := uint64(time.Now().UnixMilli())

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return envelope.Envelope{}, err
	}

	sig := envelope.Sign(sk, principal, tsMs, nonce, body)

	return envelope.Envelope{
		MsgType:   msgType,
		Principal: principal,
		TsMs:      tsMs,
		Nonce:     nonce,
		Body:      body,
		Sig:       sig,
	}, nil
}

// loadSigningKey reads a raw 32-byte Ed25519 seed from the path named by
// TURRET_REPEATER_SEED.
func loadSigningKey() (ed25519.PrivateKey, error) {
	seedPath := os.Getenv("TURRET_REPEATER_SEED")
	if seedPath == "" {
		return nil, fmt.Errorf("missing TURRET_REPEATER_SEED (path to 32-byte seed file)")
	}
	seed, err := os.ReadFile(seedPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", seedPath, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
