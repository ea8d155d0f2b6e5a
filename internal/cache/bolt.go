package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

const recordHeaderLen = 16 // createdAt unix nanos + ttl nanos

var errBucketMissing = errors.New("cache bucket not found")

// BoltStore persists entries in a bbolt file so analyses survive restarts.
// Every storage failure is logged and reported as a miss or as false.
type BoltStore struct {
	db      *bbolt.DB
	bucket  []byte
	ttl     time.Duration
	now     Clock
	hits    atomic.Int64
	misses  atomic.Int64
	metrics instruments
}

// OpenBoltStore opens (or creates) the cache file at path
func OpenBoltStore(path, bucket string, ttl time.Duration, opts ...Option) (*BoltStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if bucket == "" {
		bucket = "assessments"
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:      time.Second,
		FreelistType: bbolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	name := []byte(bucket)
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(name)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	o := buildOptions(opts)
	return &BoltStore{
		db:      db,
		bucket:  name,
		ttl:     ttl,
		now:     o.now,
		metrics: newInstruments("bolt"),
	}, nil
}

func encodeRecord(createdAt time.Time, ttl time.Duration, value []byte) []byte {
	buf := make([]byte, recordHeaderLen+len(value))
	binary.BigEndian.PutUint64(buf[0:8], uint64(createdAt.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(ttl))
	copy(buf[recordHeaderLen:], value)
	return buf
}

// decodeRecord copies out of the bbolt page, which is only valid inside the tx
func decodeRecord(key string, raw []byte) (*Entry, error) {
	if len(raw) < recordHeaderLen {
		return nil, fmt.Errorf("corrupt record for %s (%d bytes)", key, len(raw))
	}
	return &Entry{
		Key:       key,
		CreatedAt: time.Unix(0, int64(binary.BigEndian.Uint64(raw[0:8]))),
		TTL:       time.Duration(binary.BigEndian.Uint64(raw[8:16])),
		Value:     cloneBytes(raw[recordHeaderLen:]),
	}, nil
}

func (s *BoltStore) fail(op string, err error) {
	s.metrics.add(s.metrics.errors, 1)
	log.Printf("⚠️  Cache %s failed (bolt): %v", op, err)
}

// Get returns the live entry for id. The lookup runs in a read transaction;
// a write transaction is opened only to remove an expired or corrupt record.
func (s *BoltStore) Get(id string) (*Entry, bool) {
	key := Fingerprint(id)
	now := s.now()

	var entry *Entry
	stale := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return errBucketMissing
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		e, err := decodeRecord(key, raw)
		if err != nil || !e.Live(now) {
			stale = true
			return nil
		}
		entry = e
		return nil
	})
	if err != nil {
		s.fail("get", err)
		entry = nil
	}
	if stale {
		s.evict(key, now)
	}

	if entry == nil {
		s.misses.Add(1)
		s.metrics.add(s.metrics.misses, 1)
		return nil, false
	}
	s.hits.Add(1)
	s.metrics.add(s.metrics.hits, 1)
	return entry, true
}

// evict deletes key if it is still expired or corrupt; a concurrent Set may
// have replaced it since the read
func (s *BoltStore) evict(key string, now time.Time) {
	evicted := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return errBucketMissing
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if e, err := decodeRecord(key, raw); err == nil && e.Live(now) {
			return nil
		}
		evicted = true
		return b.Delete([]byte(key))
	})
	if err != nil {
		s.fail("evict", err)
		return
	}
	if evicted {
		s.metrics.add(s.metrics.evictions, 1)
	}
}

// Set stores value under the default TTL
func (s *BoltStore) Set(id string, value []byte) bool {
	return s.SetWithTTL(id, value, s.ttl)
}

// SetWithTTL overwrites the record for id with a fresh createdAt
func (s *BoltStore) SetWithTTL(id string, value []byte, ttl time.Duration) bool {
	if ttl < 0 {
		ttl = 0
	}
	key := Fingerprint(id)
	record := encodeRecord(s.now(), ttl, value)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return errBucketMissing
		}
		return b.Put([]byte(key), record)
	})
	if err != nil {
		s.fail("set", err)
		return false
	}
	s.metrics.add(s.metrics.sets, 1)
	return true
}

// Delete removes the record for id and reports whether one existed
func (s *BoltStore) Delete(id string) bool {
	key := []byte(Fingerprint(id))

	removed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return errBucketMissing
		}
		if b.Get(key) == nil {
			return nil
		}
		removed = true
		return b.Delete(key)
	})
	if err != nil {
		s.fail("delete", err)
		return false
	}
	return removed
}

// ClearAll recreates the bucket
func (s *BoltStore) ClearAll() bool {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
	if err != nil {
		s.fail("clear", err)
		return false
	}
	return true
}

// Stats sweeps expired records, then counts what is left
func (s *BoltStore) Stats() Stats {
	now := s.now()
	stats := Stats{
		Backend:           "bolt",
		DefaultTTLSeconds: int64(s.ttl / time.Second),
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return errBucketMissing
		}

		var expired [][]byte
		live := 0
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			e, err := decodeRecord(string(k), v)
			if err != nil || !e.Live(now) {
				expired = append(expired, cloneBytes(k))
				continue
			}
			live++
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		stats.Entries = live
		stats.Swept = len(expired)
		return nil
	})
	if err != nil {
		s.fail("stats", err)
		stats.Entries, stats.Swept = 0, 0
	}
	s.metrics.add(s.metrics.evictions, stats.Swept)

	stats.Hits = s.hits.Load()
	stats.Misses = s.misses.Load()
	return stats
}

// Close releases the database file
func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BoltStore)(nil)
