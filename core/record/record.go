// record.go - Signed tag-structured records.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package record implements the signed, tag-structured records that the relay
// network stores and re-serves.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tavolo/tavolo/core/crypto"
)

var (
	// ErrInvalidID is returned when a record's id does not match its
	// canonical serialization.
	ErrInvalidID = errors.New("record: id mismatch")

	// ErrInvalidSignature is returned when a record's signature does not
	// verify under its pubkey.
	ErrInvalidSignature = errors.New("record: invalid signature")
)

// Record is a signed application record as it appears on the wire.
type Record struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Serialize returns the canonical serialization of the record, the form that
// is hashed to derive its id.  The signature is never part of it.
func (r *Record) Serialize() []byte {
	b, err := json.Marshal([]interface{}{
		0,
		r.PubKey,
		r.CreatedAt,
		r.Kind,
		r.Tags,
		r.Content,
	})
	if err != nil {
		// Only a non-serializable tag value can get us here.
		panic(fmt.Sprintf("record: canonical serialization failed: %v", err))
	}
	return b
}

// ComputeID derives the record id from the canonical serialization.
func (r *Record) ComputeID() string {
	sum := sha256.Sum256(r.Serialize())
	return hex.EncodeToString(sum[:])
}

// Sign derives the record id and signs it with the given keypair, filling in
// PubKey, ID and Sig.
func (r *Record) Sign(keys *crypto.Keypair) error {
	r.PubKey = keys.PublicHex()
	r.ID = r.ComputeID()
	raw, err := hex.DecodeString(r.ID)
	if err != nil {
		return err
	}
	r.Sig = hex.EncodeToString(keys.Sign(raw))
	return nil
}

// Verify checks that the record id matches its serialization and that the
// signature verifies under the record's pubkey.
func (r *Record) Verify() error {
	if r.ComputeID() != r.ID {
		return ErrInvalidID
	}
	raw, err := hex.DecodeString(r.ID)
	if err != nil {
		return ErrInvalidID
	}
	sig, err := hex.DecodeString(r.Sig)
	if err != nil {
		return ErrInvalidSignature
	}
	if !crypto.Verify(r.PubKey, raw, sig) {
		return ErrInvalidSignature
	}
	return nil
}
