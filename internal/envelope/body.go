// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package envelope

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ErrorCode enumerates the reasons an Error envelope can carry.
type ErrorCode uint16

const (
	ErrUnauthenticated ErrorCode = 1
	ErrReplay          ErrorCode = 2
	ErrDenied          ErrorCode = 3
	ErrUnknownAction   ErrorCode = 4
	ErrNoRepeater      ErrorCode = 5
	ErrBadRequestCode  ErrorCode = 6
	ErrInternal        ErrorCode = 7
)

func (c ErrorCode) String() string {
	switch c {
	case ErrUnauthenticated:
		return "Unauthenticated"
	case ErrReplay:
		return "Replay"
	case ErrDenied:
		return "Denied"
	case ErrUnknownAction:
		return "UnknownAction"
	case ErrNoRepeater:
		return "NoRepeater"
	case ErrBadRequestCode:
		return "BadRequest"
	case ErrInternal:
		return "Internal"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint16(c))
	}
}

// RegisterBody is the body of a Register envelope sent by a repeater to
// announce the actions it is willing to serve.
type RegisterBody struct {
	RepeaterID []byte
	Actions    []string
}

// InvokeBody is the body of an Invoke envelope sent by an agent.
type InvokeBody struct {
	RequestID []byte
	Action    string
	Params    []byte
}

// ResultBody is the body of a Result envelope sent by a repeater in
// response to an Invoke.
type ResultBody struct {
	RequestID []byte
	Payload   []byte
}

// ErrorBody is the body of an Error envelope.
type ErrorBody struct {
	RequestID []byte
	Code      ErrorCode
	Message   string
}

func readBstrBuf(r *bytes.Reader) ([]byte, error) {
	return readBstr(r)
}

func writeBstrBuf(w *bytes.Buffer, b []byte) error {
	return writeBstr(w, b)
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBstrBuf(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeString(w *bytes.Buffer, s string) error {
	return writeBstrBuf(w, []byte(s))
}

// DecodeRegisterBody parses a RegisterBody from raw body bytes: a bstr
// repeater id, a u32 LE action count, then that many bstr action names.
func DecodeRegisterBody(body []byte) (RegisterBody, error) {
	r := bytes.NewReader(body)
	repeaterID, err := readBstrBuf(r)
	if err != nil {
		return RegisterBody{}, err
	}

	var countLE [4]byte
	if _, err := io.ReadFull(r, countLE[:]); err != nil {
		return RegisterBody{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	count := binary.LittleEndian.Uint32(countLE[:])

	actions := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		action, err := readString(r)
		if err != nil {
			return RegisterBody{}, err
		}
		actions = append(actions, action)
	}
	return RegisterBody{RepeaterID: repeaterID, Actions: actions}, nil
}

// Encode serializes a RegisterBody.
func (b RegisterBody) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeBstrBuf(&buf, b.RepeaterID); err != nil {
		return nil, err
	}
	var countLE [4]byte
	binary.LittleEndian.PutUint32(countLE[:], uint32(len(b.Actions)))
	buf.Write(countLE[:])
	for _, action := range b.Actions {
		if err := writeString(&buf, action); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeInvokeBody parses an InvokeBody from raw body bytes.
func DecodeInvokeBody(body []byte) (InvokeBody, error) {
	r := bytes.NewReader(body)
	requestID, err := readBstrBuf(r)
	if err != nil {
		return InvokeBody{}, err
	}
	action, err := readString(r)
	if err != nil {
		return InvokeBody{}, err
	}
	params, err := readBstrBuf(r)
	if err != nil {
		return InvokeBody{}, err
	}
	return InvokeBody{RequestID: requestID, Action: action, Params: params}, nil
}

// Encode serializes an InvokeBody.
func (b InvokeBody) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeBstrBuf(&buf, b.RequestID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, b.Action); err != nil {
		return nil, err
	}
	if err := writeBstrBuf(&buf, b.Params); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeResultBody parses a ResultBody from raw body bytes.
func DecodeResultBody(body []byte) (ResultBody, error) {
	r := bytes.NewReader(body)
	requestID, err := readBstrBuf(r)
	if err != nil {
		return ResultBody{}, err
	}
	payload, err := readBstrBuf(r)
	if err != nil {
		return ResultBody{}, err
	}
	return ResultBody{RequestID: requestID, Payload: payload}, nil
}

// Encode serializes a ResultBody.
func (b ResultBody) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeBstrBuf(&buf, b.RequestID); err != nil {
		return nil, err
	}
	if err := writeBstrBuf(&buf, b.Payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeErrorBody parses an ErrorBody from raw body bytes.
func DecodeErrorBody(body []byte) (ErrorBody, error) {
	r := bytes.NewReader(body)
	requestID, err := readBstrBuf(r)
	if err != nil {
		return ErrorBody{}, err
	}
	var codeBE [2]byte
	if _, err := io.ReadFull(r, codeBE[:]); err != nil {
		return ErrorBody{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	message, err := readString(r)
	if err != nil {
		return ErrorBody{}, err
	}
	return ErrorBody{
		RequestID: requestID,
		Code:      ErrorCode(binary.LittleEndian.Uint16(codeBE[:])),
		Message:   message,
	}, nil
}

// Encode serializes an ErrorBody.
func (b ErrorBody) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeBstrBuf(&buf, b.RequestID); err != nil {
		return nil, err
	}
	var codeBE [2]byte
	binary.LittleEndian.PutUint16(codeBE[:], uint16(b.Code))
	buf.Write(codeBE[:])
	if err := writeString(&buf, b.Message); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
