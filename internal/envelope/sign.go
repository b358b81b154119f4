// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package envelope

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"strconv"
)

// ErrBadSignature is returned by Verify when the signature does not match,
// or when the public key is one of the known small-order points that would
// let a forged signature verify against multiple principals.
var ErrBadSignature = errors.New("turret: bad signature")

// smallOrderPoints lists the eight canonical small-order points on the
// ed25519 curve, plus one non-canonical encoding of an order-4 point
// (0xed, 0xff...0xff). A verifying key equal to one of these would let an
// attacker craft signatures that pass verification against more than one
// canonical message, so strict verification rejects them outright.
var smallOrderPoints = [][32]byte{
	{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	{0x26, 0xe8, 0x95, 0x8f, 0xc2, 0xb2, 0x27, 0xb0, 0x45, 0xc3, 0xf4, 0x89, 0xf2, 0xef, 0x98, 0xf0, 0xd5, 0xdf, 0xac, 0x05, 0xd3, 0xc6, 0x33, 0x39, 0xb1, 0x38, 0x02, 0x88, 0x6d, 0x53, 0xfc, 0x05},
	{0xc7, 0x17, 0x6a, 0x70, 0x3d, 0x4d, 0xd8, 0x4f, 0xba, 0x3c, 0x0b, 0x76, 0x0d, 0x10, 0x67, 0x0f, 0x2a, 0x20, 0x53, 0xfa, 0x2c, 0x39, 0xcc, 0xc6, 0x4e, 0xc7, 0xfd, 0x77, 0x92, 0xac, 0x03, 0x7a},
	{0xec, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f},
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80},
	{0x26, 0xe8, 0x95, 0x8f, 0xc2, 0xb2, 0x27, 0xb0, 0x45, 0xc3, 0xf4, 0x89, 0xf2, 0xef, 0x98, 0xf0, 0xd5, 0xdf, 0xac, 0x05, 0xd3, 0xc6, 0x33, 0x39, 0xb1, 0x38, 0x02, 0x88, 0x6d, 0x53, 0xfc, 0x85},
	{0xc7, 0x17, 0x6a, 0x70, 0x3d, 0x4d, 0xd8, 0x4f, 0xba, 0x3c, 0x0b, 0x76, 0x0d, 0x10, 0x67, 0x0f, 0x2a, 0x20, 0x53, 0xfa, 0x2c, 0x39, 0xcc, 0xc6, 0x4e, 0xc7, 0xfd, 0x77, 0x92, 0xac, 0x03, 0xfa},
	{0xed, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
}

func isSmallOrderKey(vk ed25519.PublicKey) bool {
	if len(vk) != ed25519.PublicKeySize {
		return false
	}
	var candidate [32]byte
	copy(candidate[:], vk)
	for _, p := range smallOrderPoints {
		if bytes.Equal(candidate[:], p[:]) {
			return true
		}
	}
	return false
}

// CanonicalSigningBytes builds the bytes that are actually signed:
// principal || "\n" || decimal_ascii(ts_ms) || "\n" || nonce || "\n" || body.
func CanonicalSigningBytes(principal []byte, tsMs uint64, nonce, body []byte) []byte {
	out := make([]byte, 0, len(principal)+len(nonce)+len(body)+32)
	out = append(out, principal...)
	out = append(out, '\n')
	out = append(out, strconv.FormatUint(tsMs, 10)...)
	out = append(out, '\n')
	out = append(out, nonce...)
	out = append(out, '\n')
	out = append(out, body...)
	return out
}

// Sign computes the 64-byte ed25519 signature over the canonical signing
// bytes for the given envelope fields.
func Sign(sk ed25519.PrivateKey, principal []byte, tsMs uint64, nonce, body []byte) [SignatureSize]byte {
	msg := CanonicalSigningBytes(principal, tsMs, nonce, body)
	sig := ed25519.Sign(sk, msg)
	var out [SignatureSize]byte
	copy(out[:], sig)
	return out
}

// Verify checks sig against the canonical signing bytes for the given
// fields, rejecting small-order verifying keys outright. Go's ed25519
// implementation already rejects non-canonical S values, matching the
// strict verification the protocol requires.
func Verify(vk ed25519.PublicKey, principal []byte, tsMs uint64, nonce, body []byte, sig [SignatureSize]byte) error {
	if isSmallOrderKey(vk) {
		return ErrBadSignature
	}
	msg := CanonicalSigningBytes(principal, tsMs, nonce, body)
	if !ed25519.Verify(vk, msg, sig[:]) {
		return ErrBadSignature
	}
	return nil
}
