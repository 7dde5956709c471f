// rumor.go - Unsigned candidate records.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package giftwrap

import (
	"github.com/tavolo/tavolo/core/record"
)

// Rumor is an application record with no signature.  Its id exists without
// one, so a rumor's authenticity is never verifiable on its own; it is
// trustworthy only once extracted from a validly signed seal.
type Rumor struct {
	ID        string      `json:"id"`
	PubKey    string      `json:"pubkey"`
	CreatedAt int64       `json:"created_at"`
	Kind      int         `json:"kind"`
	Tags      record.Tags `json:"tags"`
	Content   string      `json:"content"`
}

// ComputeID derives the rumor id from the same canonical serialization used
// for signed records.
func (r *Rumor) ComputeID() string {
	rec := record.Record{
		PubKey:    r.PubKey,
		CreatedAt: r.CreatedAt,
		Kind:      r.Kind,
		Tags:      r.Tags,
		Content:   r.Content,
	}
	return rec.ComputeID()
}
