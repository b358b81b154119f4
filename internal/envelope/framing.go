// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package envelope implements Turret's wire format: length-prefixed framing,
// the signed envelope structure, its body variants, and canonical signing.
package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the hard cap on both read and write frame payloads.
const MaxFrameSize = 256 * 1024

// ErrFrameTooLarge is returned (wrapped with the observed/max sizes) when a
// frame exceeds MaxFrameSize on read or write.
var ErrFrameTooLarge = errors.New("turret: frame too large")

// ReadFrame reads one length-prefixed frame from r. A short read (including a
// clean EOF before the header is fully read) is returned unwrapped so callers
// can distinguish "peer hung up between frames" from "peer send garbage".
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBE [4]byte
	if _, err := io.ReadFull(r, lenBE[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBE[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, MaxFrameSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes one length-prefixed frame to w. The length header and
// payload are written back to back; callers that share w across goroutines
// must serialize calls to WriteFrame themselves (the broker does this with a
// per-connection write mutex).
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), MaxFrameSize)
	}

	var lenBE [4]byte
	binary.BigEndian.PutUint32(lenBE[:], uint32(len(payload)))
	if _, err := w.Write(lenBE[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
