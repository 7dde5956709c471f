// keys.go - Node identity keys.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package crypto provides the signing and envelope-encryption primitives
// consumed by the record model and the envelope codec.
//
// An identity is a single Ed25519 keypair.  The X25519 keys used for
// envelope encryption are obtained from it with the standard
// edwards-to-montgomery conversion, so one hex public key identifies a peer
// for both signing and encryption.
package crypto

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"io"

	"filippo.io/edwards25519"
)

// SeedSize is the size of a keypair seed in bytes.
const SeedSize = ed25519.SeedSize

var (
	// ErrInvalidKey is returned when a key fails to parse.
	ErrInvalidKey = errors.New("crypto: invalid key")

	x25519 = ecdh.X25519()
)

// Rand returns the system entropy source.
func Rand() io.Reader {
	return rand.Reader
}

// Keypair is a node identity: an Ed25519 signing key and the X25519 key
// derived from the same seed.
type Keypair struct {
	signKey ed25519.PrivateKey
	dhKey   *ecdh.PrivateKey
	pubHex  string
}

// NewKeypair generates a fresh keypair from the system entropy source.
func NewKeypair() (*Keypair, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, err
	}
	return KeypairFromSeed(seed)
}

// KeypairFromSeed derives a keypair from a 32 byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != SeedSize {
		return nil, ErrInvalidKey
	}
	signKey := ed25519.NewKeyFromSeed(seed)

	// The Ed25519 scalar is the clamped low half of SHA-512(seed); fed to
	// X25519 it yields the montgomery form of the same public point.
	h := sha512.Sum512(seed)
	dhKey, err := x25519.NewPrivateKey(h[:32])
	if err != nil {
		return nil, err
	}

	pub := signKey.Public().(ed25519.PublicKey)
	return &Keypair{
		signKey: signKey,
		dhKey:   dhKey,
		pubHex:  hex.EncodeToString(pub),
	}, nil
}

// PublicHex returns the hex encoded public identity.
func (k *Keypair) PublicHex() string {
	return k.pubHex
}

// Seed returns the keypair seed, for persistence.
func (k *Keypair) Seed() []byte {
	return k.signKey.Seed()
}

// Sign signs msg with the identity signing key.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.signKey, msg)
}

// Verify reports whether sig is a valid signature over msg under the hex
// encoded public identity pubHex.
func Verify(pubHex string, msg, sig []byte) bool {
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// dhPublicKey converts a hex encoded Ed25519 public identity to its X25519
// form for Diffie-Hellman.
func dhPublicKey(pubHex string) (*ecdh.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidKey
	}
	p, err := new(edwards25519.Point).SetBytes(raw)
	if err != nil {
		return nil, ErrInvalidKey
	}
	pub, err := x25519.NewPublicKey(p.BytesMontgomery())
	if err != nil {
		return nil, ErrInvalidKey
	}
	return pub, nil
}
