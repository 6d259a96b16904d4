// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package blobstore

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
)

const (
	badgerKeyPrefix = "blob:"
	// Values are an 8-byte big-endian expiry (unix ms) followed by the payload.
	badgerHeaderLen = 8
	// Native TTL trails the logical expiry so Get still sees (and deletes)
	// an expired entry instead of racing badger's own eviction.
	badgerTTLGrace = time.Minute
)

// BadgerStore keeps blobs in an embedded badger LSM. It suits large video
// sets better than SQLite because values live in the value log.
type BadgerStore struct {
	dir      string
	inMemory bool
	clock    Clock
	db       lazyHandle[*badger.DB]
}

// NewBadgerStore returns a store rooted at dir. An empty dir keeps the
// database in memory.
func NewBadgerStore(dir string, clock Clock) *BadgerStore {
	if clock == nil {
		clock = realClock{}
	}
	s := &BadgerStore{dir: dir, inMemory: dir == "", clock: clock}
	s.db.open = s.open
	return s
}

func (s *BadgerStore) open(_ context.Context) (*badger.DB, error) {
	opts := badger.DefaultOptions(s.dir).WithLogger(nil)
	if s.inMemory {
		opts = opts.WithInMemory(true)
	}
	return badger.Open(opts)
}

// Backend implements Store.
func (s *BadgerStore) Backend() string { return "badger" }

func badgerKey(name string) []byte { return []byte(badgerKeyPrefix + name) }

func encodeBadgerValue(data []byte, expiresAt time.Time) []byte {
	buf := make([]byte, badgerHeaderLen+len(data))
	binary.BigEndian.PutUint64(buf, uint64(expiresAt.UnixMilli()))
	copy(buf[badgerHeaderLen:], data)
	return buf
}

func decodeBadgerValue(val []byte) (time.Time, []byte, error) {
	if len(val) < badgerHeaderLen {
		return time.Time{}, nil, errors.New("blobstore: truncated badger value")
	}
	ms := int64(binary.BigEndian.Uint64(val[:badgerHeaderLen]))
	data := make([]byte, len(val)-badgerHeaderLen)
	copy(data, val[badgerHeaderLen:])
	return time.UnixMilli(ms), data, nil
}

// Set implements Store.
func (s *BadgerStore) Set(ctx context.Context, fileName string, data []byte, expiresAt time.Time) error {
	key, err := NormalizeKey(fileName)
	if err != nil {
		return err
	}
	db, err := s.db.get(ctx)
	if err != nil {
		return err
	}
	entry := badger.NewEntry(badgerKey(key), encodeBadgerValue(data, expiresAt))
	if ttl := expiresAt.Sub(s.clock.Now()); ttl > 0 {
		entry = entry.WithTTL(ttl + badgerTTLGrace)
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, fileName string) (*Entry, error) {
	key, err := NormalizeKey(fileName)
	if err != nil {
		return nil, err
	}
	db, err := s.db.get(ctx)
	if err != nil {
		return nil, err
	}

	var (
		expiresAt time.Time
		data      []byte
		found     bool
	)
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			expiresAt, data, derr = decodeBadgerValue(val)
			found = derr == nil
			return derr
		})
	})
	if err != nil {
		metrics.RecordBlobLookup(s.Backend(), "error")
		return nil, err
	}
	if !found {
		metrics.RecordBlobLookup(s.Backend(), "miss")
		return nil, nil
	}

	entry := &Entry{FileName: key, Data: data, ExpiresAt: expiresAt}
	if entry.Expired(s.clock.Now()) {
		if err := s.deleteIfExpiry(db, key, expiresAt); err != nil {
			return nil, err
		}
		metrics.RecordBlobLookup(s.Backend(), "expired")
		metrics.BlobExpiredDeletedTotal.Inc()
		return nil, nil
	}
	metrics.RecordBlobLookup(s.Backend(), "hit")
	return entry, nil
}

// deleteIfExpiry removes key only if it still carries the expiry we read.
func (s *BadgerStore) deleteIfExpiry(db *badger.DB, key string, expiresAt time.Time) error {
	return db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var current time.Time
		if err := item.Value(func(val []byte) error {
			var derr error
			current, _, derr = decodeBadgerValue(val)
			return derr
		}); err != nil {
			return err
		}
		if !current.Equal(expiresAt) {
			return nil
		}
		return txn.Delete(badgerKey(key))
	})
}

// Has implements Store.
func (s *BadgerStore) Has(ctx context.Context, fileName string) (bool, error) {
	key, err := NormalizeKey(fileName)
	if err != nil {
		return false, err
	}
	db, err := s.db.get(ctx)
	if err != nil {
		return false, err
	}
	live := false
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) < badgerHeaderLen {
				return nil
			}
			ms := int64(binary.BigEndian.Uint64(val[:badgerHeaderLen]))
			live = time.UnixMilli(ms).After(s.clock.Now())
			return nil
		})
	})
	return live, err
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, fileName string) error {
	key, err := NormalizeKey(fileName)
	if err != nil {
		return err
	}
	db, err := s.db.get(ctx)
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(key))
	})
}

// Clear implements Store.
func (s *BadgerStore) Clear(ctx context.Context) error {
	db, err := s.db.get(ctx)
	if err != nil {
		return err
	}
	return db.DropPrefix([]byte(badgerKeyPrefix))
}

// CleanupExpired implements Store.
func (s *BadgerStore) CleanupExpired(ctx context.Context) (int, error) {
	db, err := s.db.get(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	var expired [][]byte
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				if len(val) < badgerHeaderLen {
					return nil
				}
				ms := int64(binary.BigEndian.Uint64(val[:badgerHeaderLen]))
				if !time.UnixMilli(ms).After(now) {
					expired = append(expired, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range expired {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	metrics.BlobExpiredDeletedTotal.Add(float64(len(expired)))
	return len(expired), nil
}

// Keys implements Store.
func (s *BadgerStore) Keys(ctx context.Context) ([]string, error) {
	db, err := s.db.get(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), badgerKeyPrefix))
		}
		return nil
	})
	return keys, err
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	s.db.markClosed()
	if db, ok := s.db.peek(); ok {
		return db.Close()
	}
	return nil
}
