// giftwrap.go - Three-layer envelope codec.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package giftwrap implements the three-layer envelope protocol that hides
// sender identity and timing from relay operators: a Rumor (unsigned record)
// is encrypted into a signed Seal, and the Seal is encrypted into a Wrap
// signed by a one-time keypair.  A relay sees only the Wrap's routing tag.
package giftwrap

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"github.com/tavolo/tavolo/core/crypto"
	"github.com/tavolo/tavolo/core/record"
)

// timestampWindow is the span ending now from which seal and wrap timestamps
// are drawn, decorrelating them from the rumor's real timestamp.
const timestampWindow = 2 * 24 * time.Hour

var (
	// ErrKindMismatch is returned when a record of the wrong kind is
	// presented to Unwrap or Unseal.
	ErrKindMismatch = errors.New("giftwrap: kind mismatch")

	// ErrDecryptionFailed is returned when an envelope layer fails
	// verification or cannot be decrypted or parsed.
	ErrDecryptionFailed = errors.New("giftwrap: decryption failed")

	// ErrSenderMismatch is returned when a rumor claims a different
	// author than the seal that carried it.
	ErrSenderMismatch = errors.New("giftwrap: rumor pubkey does not match seal")
)

// randomCreatedAt draws a timestamp uniformly from (now - timestampWindow, now].
func randomCreatedAt() int64 {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(err)
	}
	window := int64(timestampWindow / time.Second)
	offset := int64(binary.BigEndian.Uint64(raw[:]) % uint64(window))
	return time.Now().Unix() - offset
}

// Seal encrypts the canonical serialization of rumor to recipientPub and
// signs the resulting kind 13 record with the sender's identity key.  Tags
// are always empty: any tag would leak seal metadata.
func Seal(rumor *Rumor, sender *crypto.Keypair, recipientPub string) (*record.Record, error) {
	rumor.PubKey = sender.PublicHex()
	rumor.ID = rumor.ComputeID()

	plaintext, err := json.Marshal(rumor)
	if err != nil {
		return nil, err
	}
	content, err := sender.Encrypt(plaintext, recipientPub)
	if err != nil {
		return nil, err
	}

	seal := &record.Record{
		Kind:      record.KindSeal,
		CreatedAt: randomCreatedAt(),
		Tags:      record.Tags{},
		Content:   content,
	}
	if err := seal.Sign(sender); err != nil {
		return nil, err
	}
	return seal, nil
}

// Wrap encrypts the serialization of seal to recipientPub under a fresh
// one-time keypair and signs the resulting kind 1059 record with it.  The
// one-time key never outlives this call.  The recipient routing tag is the
// only externally visible metadata.
func Wrap(seal *record.Record, recipientPub string) (*record.Record, error) {
	ephemeral, err := crypto.NewKeypair()
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(seal)
	if err != nil {
		return nil, err
	}
	content, err := ephemeral.Encrypt(plaintext, recipientPub)
	if err != nil {
		return nil, err
	}

	wrap := &record.Record{
		Kind:      record.KindWrap,
		CreatedAt: randomCreatedAt(),
		Tags:      record.Tags{{"p", recipientPub}},
		Content:   content,
	}
	if err := wrap.Sign(ephemeral); err != nil {
		return nil, err
	}
	return wrap, nil
}

// Unwrap decrypts a Wrap addressed to self and returns the Seal it carries.
func Unwrap(wrap *record.Record, self *crypto.Keypair) (*record.Record, error) {
	if wrap.Kind != record.KindWrap {
		return nil, ErrKindMismatch
	}
	if err := wrap.Verify(); err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := self.Decrypt(wrap.Content, wrap.PubKey)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	seal := new(record.Record)
	if err := json.Unmarshal(plaintext, seal); err != nil {
		return nil, ErrDecryptionFailed
	}
	return seal, nil
}

// Unseal decrypts a Seal addressed to self and returns the Rumor it carries.
// The rumor's pubkey is trustworthy only because the seal signature verified
// and the two are required to match.
func Unseal(seal *record.Record, self *crypto.Keypair) (*Rumor, error) {
	if seal.Kind != record.KindSeal {
		return nil, ErrKindMismatch
	}
	if err := seal.Verify(); err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := self.Decrypt(seal.Content, seal.PubKey)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	rumor := new(Rumor)
	if err := json.Unmarshal(plaintext, rumor); err != nil {
		return nil, ErrDecryptionFailed
	}
	if rumor.PubKey != seal.PubKey {
		return nil, ErrSenderMismatch
	}
	return rumor, nil
}

// SealAndWrap chains Seal and Wrap, producing the record that is actually
// published to relays.
func SealAndWrap(rumor *Rumor, sender *crypto.Keypair, recipientPub string) (*record.Record, error) {
	seal, err := Seal(rumor, sender, recipientPub)
	if err != nil {
		return nil, err
	}
	return Wrap(seal, recipientPub)
}

// UnwrapAndUnseal chains Unwrap and Unseal.
func UnwrapAndUnseal(wrap *record.Record, self *crypto.Keypair) (*Rumor, error) {
	seal, err := Unwrap(wrap, self)
	if err != nil {
		return nil, err
	}
	return Unseal(seal, self)
}
