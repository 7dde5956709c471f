// giftwrap_test.go
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package giftwrap

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tavolo/tavolo/core/crypto"
	"github.com/tavolo/tavolo/core/record"
)

func testKeys(t *testing.T) (sender, recipient *crypto.Keypair) {
	var err error
	sender, err = crypto.NewKeypair()
	require.NoError(t, err)
	recipient, err = crypto.NewKeypair()
	require.NoError(t, err)
	return
}

func testRumor() *Rumor {
	return &Rumor{
		CreatedAt: time.Now().Unix(),
		Kind:      record.KindReservationRequest,
		Tags:      record.Tags{{"p", "cafe"}},
		Content:   `{"party_size":4,"name":"Garcia"}`,
	}
}

func TestSealAndWrapRoundTrip(t *testing.T) {
	sender, recipient := testKeys(t)
	rumor := testRumor()

	wrap, err := SealAndWrap(rumor, sender, recipient.PublicHex())
	require.NoError(t, err)

	got, err := UnwrapAndUnseal(wrap, recipient)
	require.NoError(t, err)
	require.Equal(t, sender.PublicHex(), got.PubKey)
	require.Equal(t, rumor.Kind, got.Kind)
	require.Equal(t, rumor.Content, got.Content)
	require.Equal(t, rumor.Tags, got.Tags)
	require.Equal(t, got.ComputeID(), got.ID)
}

func TestSealShape(t *testing.T) {
	sender, recipient := testKeys(t)

	seal, err := Seal(testRumor(), sender, recipient.PublicHex())
	require.NoError(t, err)
	require.Equal(t, record.KindSeal, seal.Kind)
	require.Equal(t, sender.PublicHex(), seal.PubKey)
	require.Empty(t, seal.Tags)
	require.NoError(t, seal.Verify())
	require.NotContains(t, seal.Content, "Garcia")
}

func TestWrapShape(t *testing.T) {
	sender, recipient := testKeys(t)

	seal, err := Seal(testRumor(), sender, recipient.PublicHex())
	require.NoError(t, err)
	wrap, err := Wrap(seal, recipient.PublicHex())
	require.NoError(t, err)

	require.Equal(t, record.KindWrap, wrap.Kind)
	require.Equal(t, record.Tags{{"p", recipient.PublicHex()}}, wrap.Tags)
	require.NoError(t, wrap.Verify())
	// The one-time signing key is neither party's identity.
	require.NotEqual(t, sender.PublicHex(), wrap.PubKey)
	require.NotEqual(t, recipient.PublicHex(), wrap.PubKey)
}

func TestWrapKeysAreSingleUse(t *testing.T) {
	sender, recipient := testKeys(t)
	seal, err := Seal(testRumor(), sender, recipient.PublicHex())
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		wrap, err := Wrap(seal, recipient.PublicHex())
		require.NoError(t, err)
		require.False(t, seen[wrap.PubKey], "wrap key reused")
		seen[wrap.PubKey] = true
	}
}

func TestEnvelopeTimestampsAreDecoupled(t *testing.T) {
	sender, recipient := testKeys(t)
	now := time.Now().Unix()
	window := int64(timestampWindow / time.Second)

	// Envelope timestamps are drawn from the backdating window, not
	// copied from the rumor, so matching rarely and never exceeding the
	// window are both required.
	sealMatches, wrapMatches := 0, 0
	for i := 0; i < 100; i++ {
		rumor := testRumor()
		seal, err := Seal(rumor, sender, recipient.PublicHex())
		require.NoError(t, err)
		wrap, err := Wrap(seal, recipient.PublicHex())
		require.NoError(t, err)

		for _, ts := range []int64{seal.CreatedAt, wrap.CreatedAt} {
			require.LessOrEqual(t, ts, time.Now().Unix())
			require.Greater(t, ts, now-window-1)
		}
		if seal.CreatedAt == rumor.CreatedAt {
			sealMatches++
		}
		if wrap.CreatedAt == rumor.CreatedAt {
			wrapMatches++
		}
	}
	require.LessOrEqual(t, sealMatches, 1)
	require.LessOrEqual(t, wrapMatches, 1)
}

func TestUnwrapRejectsWrongKind(t *testing.T) {
	sender, recipient := testKeys(t)
	seal, err := Seal(testRumor(), sender, recipient.PublicHex())
	require.NoError(t, err)

	_, err = Unwrap(seal, recipient)
	require.ErrorIs(t, err, ErrKindMismatch)

	wrap, err := Wrap(seal, recipient.PublicHex())
	require.NoError(t, err)
	_, err = Unseal(wrap, recipient)
	require.ErrorIs(t, err, ErrKindMismatch)
}

func TestUnwrapRejectsWrongRecipient(t *testing.T) {
	sender, recipient := testKeys(t)
	eavesdropper, err := crypto.NewKeypair()
	require.NoError(t, err)

	wrap, err := SealAndWrap(testRumor(), sender, recipient.PublicHex())
	require.NoError(t, err)

	_, err = Unwrap(wrap, eavesdropper)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestUnwrapRejectsTampering(t *testing.T) {
	sender, recipient := testKeys(t)

	wrap, err := SealAndWrap(testRumor(), sender, recipient.PublicHex())
	require.NoError(t, err)
	wrap.Content = wrap.Content[:len(wrap.Content)-4]

	_, err = Unwrap(wrap, recipient)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	// Tampering with the inner layer is caught the same way.
	seal, err := Seal(testRumor(), sender, recipient.PublicHex())
	require.NoError(t, err)
	seal.Content = seal.Content[:len(seal.Content)-4]
	_, err = Unseal(seal, recipient)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestUnsealRejectsSenderMismatch(t *testing.T) {
	sender, recipient := testKeys(t)
	impostor, err := crypto.NewKeypair()
	require.NoError(t, err)

	// A seal signed by the sender carrying a rumor claiming another
	// author must be rejected even though it decrypts.
	rumor := testRumor()
	rumor.PubKey = impostor.PublicHex()
	rumor.ID = rumor.ComputeID()
	plaintext, err := json.Marshal(rumor)
	require.NoError(t, err)
	content, err := sender.Encrypt(plaintext, recipient.PublicHex())
	require.NoError(t, err)
	seal := &record.Record{
		Kind:      record.KindSeal,
		CreatedAt: time.Now().Unix(),
		Tags:      record.Tags{},
		Content:   content,
	}
	require.NoError(t, seal.Sign(sender))

	_, err = Unseal(seal, recipient)
	require.ErrorIs(t, err, ErrSenderMismatch)
}

func TestRumorIDMatchesRecordDerivation(t *testing.T) {
	rumor := testRumor()
	rumor.PubKey = "00ff"
	rec := &record.Record{
		PubKey:    rumor.PubKey,
		CreatedAt: rumor.CreatedAt,
		Kind:      rumor.Kind,
		Tags:      rumor.Tags,
		Content:   rumor.Content,
	}
	require.Equal(t, rec.ComputeID(), rumor.ComputeID())
}
