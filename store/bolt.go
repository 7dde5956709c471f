// bolt.go - Durable record store.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"github.com/tavolo/tavolo/core/log"
	"github.com/tavolo/tavolo/core/record"
)

var (
	recordsBucket = []byte("records")
	identityIndex = []byte("replaceable-identity")

	errNoBucket = errors.New("store: bucket missing")
)

// StoredRecord is the persisted form of a record: all wire fields plus the
// local write timestamp.
type StoredRecord struct {
	Record   record.Record `cbor:"record"`
	StoredAt int64         `cbor:"stored_at"`
}

// Query selects records from Scan.  Empty slices match everything.
type Query struct {
	Kinds   []int
	Authors []string
}

func (q *Query) matches(rec *record.Record) bool {
	if q == nil {
		return true
	}
	if len(q.Kinds) > 0 {
		found := false
		for _, k := range q.Kinds {
			if rec.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(q.Authors) > 0 {
		found := false
		for _, a := range q.Authors {
			if rec.PubKey == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// BoltStore is a bbolt-backed record store.  Records live in one bucket
// keyed by id; a second bucket maps replaceable identity keys to the id of
// the currently live record.
type BoltStore struct {
	db  *bolt.DB
	log *logging.Logger
}

// Open opens or creates the store at path.
func Open(path string, logBackend *log.Backend) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(identityIndex)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{
		db:  db,
		log: logBackend.GetLogger("store"),
	}, nil
}

// Close releases the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// identityKey is the index key for a replaceable record's identity.  Nil for
// ordinary records.
func identityKey(rec *record.Record) []byte {
	switch {
	case record.IsSingletonReplaceable(rec.Kind):
		return []byte(fmt.Sprintf("%d\x00%s", rec.Kind, rec.PubKey))
	case record.IsParamReplaceable(rec.Kind):
		d, ok := rec.Tags.Discriminator()
		if !ok {
			return nil
		}
		return []byte(fmt.Sprintf("%d\x00%s\x00%s", rec.Kind, rec.PubKey, d))
	default:
		return nil
	}
}

// Get finds a record by id; nil when absent.
func (s *BoltStore) Get(id string) (*StoredRecord, error) {
	var stored *StoredRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		stored, err = getRecord(tx, id)
		return err
	})
	return stored, err
}

// Current returns the stored record currently holding rec's replaceable
// identity; nil for ordinary records or when nothing is stored.
func (s *BoltStore) Current(rec *record.Record) (*StoredRecord, error) {
	key := identityKey(rec)
	if key == nil {
		return nil, nil
	}
	var stored *StoredRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		stored, err = (&txLookup{tx: tx}).byIdentity(key)
		return err
	})
	return stored, err
}

// Put stores rec unconditionally, stamping the local write time and
// updating the replaceable-identity index.
func (s *BoltStore) Put(rec *record.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx, rec)
	})
}

// Delete removes the record with the given id and any index entry that
// points at it.
func (s *BoltStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteRecord(tx, id)
	})
}

// Scan returns every stored record matching q.
func (s *BoltStore) Scan(q *Query) ([]*StoredRecord, error) {
	var out []*StoredRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		if b == nil {
			return errNoBucket
		}
		return b.ForEach(func(_, v []byte) error {
			stored := new(StoredRecord)
			if err := cbor.Unmarshal(v, stored); err != nil {
				return err
			}
			if q.matches(&stored.Record) {
				out = append(out, stored)
			}
			return nil
		})
	})
	return out, err
}

// Ingest applies the replaceable-record resolution rule to rec inside one
// transaction and returns the decision that was applied.
func (s *BoltStore) Ingest(rec *record.Record) (Decision, error) {
	var decision Decision
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		decision, err = Resolve(rec, &txLookup{tx: tx})
		if err != nil {
			return err
		}
		switch decision.Op {
		case OpStoreNew:
			return putRecord(tx, rec)
		case OpReplace:
			if err := deleteRecord(tx, decision.OldID); err != nil {
				return err
			}
			return putRecord(tx, rec)
		case OpSkip:
			return nil
		}
		return nil
	})
	if err == nil && decision.Op == OpSkip {
		s.log.Debugf("Skipping record %s: %s", rec.ID, decision.Why)
	}
	return decision, err
}

// txLookup adapts a bbolt transaction to the resolver's Lookup.
type txLookup struct {
	tx *bolt.Tx
}

func (l *txLookup) ByID(id string) (*StoredRecord, error) {
	return getRecord(l.tx, id)
}

func (l *txLookup) BySingleton(kind int, author string) (*StoredRecord, error) {
	return l.byIdentity([]byte(fmt.Sprintf("%d\x00%s", kind, author)))
}

func (l *txLookup) ByParameterized(kind int, author, discriminator string) (*StoredRecord, error) {
	return l.byIdentity([]byte(fmt.Sprintf("%d\x00%s\x00%s", kind, author, discriminator)))
}

func (l *txLookup) byIdentity(key []byte) (*StoredRecord, error) {
	idx := l.tx.Bucket(identityIndex)
	if idx == nil {
		return nil, errNoBucket
	}
	id := idx.Get(key)
	if id == nil {
		return nil, nil
	}
	return getRecord(l.tx, string(id))
}

func getRecord(tx *bolt.Tx, id string) (*StoredRecord, error) {
	b := tx.Bucket(recordsBucket)
	if b == nil {
		return nil, errNoBucket
	}
	v := b.Get([]byte(id))
	if v == nil {
		return nil, nil
	}
	stored := new(StoredRecord)
	if err := cbor.Unmarshal(v, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func putRecord(tx *bolt.Tx, rec *record.Record) error {
	stored := &StoredRecord{
		Record:   *rec,
		StoredAt: time.Now().Unix(),
	}
	raw, err := cbor.Marshal(stored)
	if err != nil {
		return err
	}
	b := tx.Bucket(recordsBucket)
	if b == nil {
		return errNoBucket
	}
	if err := b.Put([]byte(rec.ID), raw); err != nil {
		return err
	}
	if key := identityKey(rec); key != nil {
		idx := tx.Bucket(identityIndex)
		if idx == nil {
			return errNoBucket
		}
		return idx.Put(key, []byte(rec.ID))
	}
	return nil
}

func deleteRecord(tx *bolt.Tx, id string) error {
	stored, err := getRecord(tx, id)
	if err != nil {
		return err
	}
	if stored == nil {
		return nil
	}
	b := tx.Bucket(recordsBucket)
	if err := b.Delete([]byte(id)); err != nil {
		return err
	}
	if key := identityKey(&stored.Record); key != nil {
		idx := tx.Bucket(identityIndex)
		if idx == nil {
			return errNoBucket
		}
		// Only drop the index entry if it still points at us; a newer
		// record may already own the identity.
		if string(idx.Get(key)) == id {
			return idx.Delete(key)
		}
	}
	return nil
}
