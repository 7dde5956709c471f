// kinds.go - Record kind constants and classification.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package record

const (
	// KindProfile is the singleton-replaceable venue profile record.
	KindProfile = 0

	// KindSeal is the signed envelope that carries one encrypted rumor.
	KindSeal = 13

	// KindWrap is the ephemeral-signed envelope that carries one
	// encrypted seal.
	KindWrap = 1059

	// KindReservationRequest is a reservation request rumor.  The
	// messaging core treats it as opaque.
	KindReservationRequest = 9021

	// KindReservationReply is a reservation confirmation or denial rumor.
	KindReservationReply = 9022

	// KindMenuListing is a parameterized-replaceable menu listing,
	// discriminated by its "d" tag.
	KindMenuListing = 30402

	// Parameterized-replaceable kind range, inclusive lower bound,
	// exclusive upper bound.
	paramReplaceableMin = 30000
	paramReplaceableMax = 40000
)

// IsSingletonReplaceable reports whether records of kind k are limited to at
// most one stored record per author.
func IsSingletonReplaceable(k int) bool {
	return k == KindProfile
}

// IsParamReplaceable reports whether records of kind k are replaceable per
// (kind, author, "d" tag) identity.
func IsParamReplaceable(k int) bool {
	return k >= paramReplaceableMin && k < paramReplaceableMax
}
