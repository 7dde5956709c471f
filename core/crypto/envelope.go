// envelope.go - Peer-to-peer envelope encryption.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const envelopeVersion = 1

// conversationInfo domain-separates the HKDF output from any other use of
// the shared secret.
var conversationInfo = []byte("tavolo-conversation-v1")

var (
	// ErrDecrypt is returned when a ciphertext fails to decrypt, whether
	// from a wrong key or corruption.  The two cases are deliberately not
	// distinguishable.
	ErrDecrypt = errors.New("crypto: decryption failed")
)

// conversationKey derives the symmetric key shared between our DH key and
// the peer's public identity.  It is symmetric in the two parties.
func (k *Keypair) conversationKey(peerPubHex string) ([]byte, error) {
	peer, err := dhPublicKey(peerPubHex)
	if err != nil {
		return nil, err
	}
	secret, err := k.dhKey.ECDH(peer)
	if err != nil {
		return nil, err
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, conversationInfo), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt encrypts plaintext from this identity to the peer identified by
// recipientPubHex.  Output layout before base64: version || nonce || box.
func (k *Keypair) Encrypt(plaintext []byte, recipientPubHex string) (string, error) {
	key, err := k.conversationKey(recipientPubHex)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}

	out := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	out[0] = envelopeVersion
	nonce := out[1:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out = aead.Seal(out, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt for a ciphertext sent to this identity by the
// peer identified by senderPubHex.
func (k *Keypair) Decrypt(ciphertext string, senderPubHex string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrDecrypt
	}
	if len(raw) < 1+chacha20poly1305.NonceSizeX || raw[0] != envelopeVersion {
		return nil, ErrDecrypt
	}
	key, err := k.conversationKey(senderPubHex)
	if err != nil {
		return nil, ErrDecrypt
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrDecrypt
	}
	nonce := raw[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, raw[1+chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
