// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{
		MsgType:   Invoke,
		Principal: []byte("agent-1"),
		TsMs:      123,
		Nonce:     []byte("nonce"),
		Body:      []byte("body"),
	}
	for i := range env.Sig {
		env.Sig[i] = 7
	}

	enc, err := env.Encode()
	require.NoError(t, err)

	dec, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, env, dec)
}

func TestEnvelopeDecodeRejectsBadMagic(t *testing.T) {
	env := Envelope{MsgType: Register, Principal: []byte("p"), Nonce: []byte("n"), Body: []byte("b")}
	enc, err := env.Encode()
	require.NoError(t, err)

	enc[0] = 'X'
	_, err = Decode(enc)
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestEnvelopeDecodeRejectsBadVersion(t *testing.T) {
	env := Envelope{MsgType: Register, Principal: []byte("p"), Nonce: []byte("n"), Body: []byte("b")}
	enc, err := env.Encode()
	require.NoError(t, err)

	enc[4] = 0xFF
	_, err = Decode(enc)
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestEnvelopeDecodeRejectsUnknownMessageType(t *testing.T) {
	env := Envelope{MsgType: Register, Principal: []byte("p"), Nonce: []byte("n"), Body: []byte("b")}
	enc, err := env.Encode()
	require.NoError(t, err)

	enc[6] = 0xFF
	_, err = Decode(enc)
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestEnvelopeDecodeRejectsBadSignatureLength(t *testing.T) {
	env := Envelope{MsgType: Register, Principal: []byte("p"), Nonce: []byte("n"), Body: []byte("b")}
	enc, err := env.Encode()
	require.NoError(t, err)

	// Replace the trailing signature bstr (4-byte length + 64 bytes) with
	// one claiming a 10-byte signature instead.
	truncated := enc[:len(enc)-(4+SignatureSize)]
	truncated = append(truncated, 0, 0, 0, 10)
	truncated = append(truncated, make([]byte, 10)...)

	_, err = Decode(truncated)
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "Invoke", Invoke.String())
	assert.Contains(t, MessageType(99).String(), "99")
}
