// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package envelope

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic is the 4-byte envelope prefix, "TRT1".
var Magic = [4]byte{'T', 'R', 'T', '1'}

// ProtocolVersion is the only version this codec understands.
const ProtocolVersion uint16 = 1

// MessageType names one of the four envelope body variants.
type MessageType uint16

const (
	Register MessageType = 1
	Invoke   MessageType = 2
	Result   MessageType = 3
	Error    MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case Register:
		return "Register"
	case Invoke:
		return "Invoke"
	case Result:
		return "Result"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("MessageType(%d)", uint16(t))
	}
}

func messageTypeFromUint16(v uint16) (MessageType, error) {
	switch MessageType(v) {
	case Register, Invoke, Result, Error:
		return MessageType(v), nil
	default:
		return 0, fmt.Errorf("%w: unknown message type %d", ErrBadRequest, v)
	}
}

// ErrBadRequest marks a decode failure at the envelope or body layer:
// wrong magic, wrong version, unknown message type, an oversize bstr, a
// signature whose length isn't 64, or a malformed body.
var ErrBadRequest = errors.New("turret: bad request")

// SignatureSize is the fixed length of the envelope's signature field.
const SignatureSize = 64

// Envelope is the outer signed structure wrapping every wire message.
type Envelope struct {
	MsgType   MessageType
	Principal []byte
	TsMs      uint64
	Nonce     []byte
	Body      []byte
	Sig       [SignatureSize]byte
}

func readBstr(r *bytes.Reader) ([]byte, error) {
	var lenBE [4]byte
	if _, err := io.ReadFull(r, lenBE[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	length := binary.BigEndian.Uint32(lenBE[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: bstr too large (%d)", ErrBadRequest, length)
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return b, nil
}

func writeBstr(w *bytes.Buffer, b []byte) error {
	if len(b) > MaxFrameSize {
		return fmt.Errorf("%w: bstr too large (%d)", ErrBadRequest, len(b))
	}
	var lenBE [4]byte
	binary.BigEndian.PutUint32(lenBE[:], uint32(len(b)))
	w.Write(lenBE[:])
	w.Write(b)
	return nil
}

// Decode parses one envelope from its wire bytes.
func Decode(payload []byte) (Envelope, error) {
	r := bytes.NewReader(payload)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if magic != Magic {
		return Envelope{}, fmt.Errorf("%w: bad magic", ErrBadRequest)
	}

	var versionBE [2]byte
	if _, err := io.ReadFull(r, versionBE[:]); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if version := binary.LittleEndian.Uint16(versionBE[:]); version != ProtocolVersion {
		return Envelope{}, fmt.Errorf("%w: bad version %d", ErrBadRequest, version)
	}

	var typeBE [2]byte
	if _, err := io.ReadFull(r, typeBE[:]); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	msgType, err := messageTypeFromUint16(binary.LittleEndian.Uint16(typeBE[:]))
	if err != nil {
		return Envelope{}, err
	}

	principal, err := readBstr(r)
	if err != nil {
		return Envelope{}, err
	}

	var tsBE [8]byte
	if _, err := io.ReadFull(r, tsBE[:]); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	tsMs := binary.LittleEndian.Uint64(tsBE[:])

	nonce, err := readBstr(r)
	if err != nil {
		return Envelope{}, err
	}
	body, err := readBstr(r)
	if err != nil {
		return Envelope{}, err
	}
	sigBytes, err := readBstr(r)
	if err != nil {
		return Envelope{}, err
	}
	if len(sigBytes) != SignatureSize {
		return Envelope{}, fmt.Errorf("%w: bad signature length %d", ErrBadRequest, len(sigBytes))
	}

	env := Envelope{
		MsgType:   msgType,
		Principal: principal,
		TsMs:      tsMs,
		Nonce:     nonce,
		Body:      body,
	}
	copy(env.Sig[:], sigBytes)
	return env, nil
}

// Encode serializes an envelope to its wire bytes.
func (e Envelope) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(Magic[:])

	var versionBE [2]byte
	binary.LittleEndian.PutUint16(versionBE[:], ProtocolVersion)
	buf.Write(versionBE[:])

	var typeBE [2]byte
	binary.LittleEndian.PutUint16(typeBE[:], uint16(e.MsgType))
	buf.Write(typeBE[:])

	if err := writeBstr(&buf, e.Principal); err != nil {
		return nil, err
	}

	var tsBE [8]byte
	binary.LittleEndian.PutUint64(tsBE[:], e.TsMs)
	buf.Write(tsBE[:])

	if err := writeBstr(&buf, e.Nonce); err != nil {
		return nil, err
	}
	if err := writeBstr(&buf, e.Body); err != nil {
		return nil, err
	}
	if err := writeBstr(&buf, e.Sig[:]); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
