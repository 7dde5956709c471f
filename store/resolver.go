// resolver.go - Replaceable-record resolution.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package store decides whether a newly observed record replaces a stored
// one, and provides the durable key-value collaborator that persists the
// outcome.
package store

import (
	"github.com/tavolo/tavolo/core/record"
)

// Op is the action the resolver decided on.
type Op int

const (
	// OpStoreNew stores the new record; nothing is superseded.
	OpStoreNew Op = iota

	// OpReplace stores the new record and deletes the record named by
	// Decision.OldID.
	OpReplace

	// OpSkip stores nothing.
	OpSkip
)

// Decision is the resolver's verdict on one inbound record.
type Decision struct {
	Op    Op
	OldID string // superseded record id, set for OpReplace
	Why   string // human-readable skip reason, set for OpSkip
}

// Lookup is the read-only view of the store the resolver consults.  All
// methods return nil without error when nothing matches.
type Lookup interface {
	// ByID finds a record by its id.
	ByID(id string) (*StoredRecord, error)

	// BySingleton finds the at-most-one record for (kind, author).
	BySingleton(kind int, author string) (*StoredRecord, error)

	// ByParameterized finds the at-most-one record for
	// (kind, author, "d" tag value).
	ByParameterized(kind int, author, discriminator string) (*StoredRecord, error)
}

// Resolve decides whether rec should be stored, replace an older record, or
// be skipped, according to its replacement class.  It performs no I/O beyond
// the lookup and never mutates anything.
func Resolve(rec *record.Record, lk Lookup) (Decision, error) {
	switch {
	case record.IsSingletonReplaceable(rec.Kind):
		old, err := lk.BySingleton(rec.Kind, rec.PubKey)
		if err != nil {
			return Decision{}, err
		}
		return newestWins(rec, old), nil

	case record.IsParamReplaceable(rec.Kind):
		d, ok := rec.Tags.Discriminator()
		if !ok {
			return Decision{Op: OpSkip, Why: "parameterized-replaceable record missing d tag"}, nil
		}
		old, err := lk.ByParameterized(rec.Kind, rec.PubKey, d)
		if err != nil {
			return Decision{}, err
		}
		return newestWins(rec, old), nil

	default:
		old, err := lk.ByID(rec.ID)
		if err != nil {
			return Decision{}, err
		}
		if old == nil || old.Record.CreatedAt < rec.CreatedAt {
			return Decision{Op: OpStoreNew}, nil
		}
		return Decision{Op: OpSkip, Why: "already stored"}, nil
	}
}

// newestWins applies the strictly-newer replacement rule shared by both
// replaceable classes.
func newestWins(rec *record.Record, old *StoredRecord) Decision {
	if old == nil {
		return Decision{Op: OpStoreNew}
	}
	if rec.CreatedAt > old.Record.CreatedAt {
		return Decision{Op: OpReplace, OldID: old.Record.ID}
	}
	return Decision{Op: OpSkip, Why: "stored record is newer or equal"}
}
