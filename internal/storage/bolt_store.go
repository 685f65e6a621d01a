package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
)

const (
	idBucket         = "known_ids"
	dedupBucket      = "dedup_log"
	eventBucket      = "events"
	expiryValueBytes = 8
)

// boltStore implements Store backed by BoltDB.
type boltStore struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	knownIDTTL      time.Duration
	dedupWindow     time.Duration
	cleanupInterval time.Duration
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{idBucket, dedupBucket, eventBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	store := &boltStore{
		db:              db,
		knownIDTTL:      opts.KnownIDTTL,
		dedupWindow:     opts.DedupWindow,
		cleanupInterval: opts.CleanupInterval,
	}
	store.lastCleanup.Store(time.Now().Unix())
	return store, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// KnownIDs returns every unexpired accepted key.
func (b *boltStore) KnownIDs() ([]string, error) {
	if b == nil || b.db == nil {
		return nil, nil
	}
	if err := b.maybeCleanupExpired(time.Now()); err != nil {
		return nil, err
	}

	var ids []string
	now := time.Now()
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(idBucket))
		if bucket == nil {
			return fmt.Errorf("known-id bucket missing")
		}
		return bucket.ForEach(func(k, v []byte) error {
			if expiry, ok := decodeExpiry(v); ok && expiry.After(now) {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

// MarkID records a unique key with its expiry.
func (b *boltStore) MarkID(id string) error {
	if b == nil || b.db == nil {
		return nil
	}

	now := time.Now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(idBucket))
		if bucket == nil {
			return fmt.Errorf("known-id bucket missing")
		}
		buf := make([]byte, expiryValueBytes)
		binary.BigEndian.PutUint64(buf, uint64(now.Add(b.knownIDTTL).Unix()))
		return bucket.Put([]byte(id), buf)
	})
}

// DedupLog returns entries inside the rolling window, oldest first.
func (b *boltStore) DedupLog() ([]domain.DedupLogEntry, error) {
	if b == nil || b.db == nil {
		return nil, nil
	}

	cutoff := time.Now().Add(-b.dedupWindow)
	var entries []domain.DedupLogEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(dedupBucket))
		if bucket == nil {
			return fmt.Errorf("dedup bucket missing")
		}
		return bucket.ForEach(func(_, v []byte) error {
			var entry domain.DedupLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				// Damaged entries reduce match coverage but must not
				// poison the run.
				return nil
			}
			if entry.SeenAt.After(cutoff) {
				entries = append(entries, entry)
			}
			return nil
		})
	})
	return entries, err
}

// AppendDedupEntry appends one log entry keyed by insertion sequence.
func (b *boltStore) AppendDedupEntry(entry domain.DedupLogEntry) error {
	if b == nil || b.db == nil {
		return nil
	}
	if entry.SeenAt.IsZero() {
		entry.SeenAt = time.Now().UTC()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dedup entry: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(dedupBucket))
		if bucket == nil {
			return fmt.Errorf("dedup bucket missing")
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bucket.Put(key, payload)
	})
}

// SaveEvent stores the event JSON under its unique key.
func (b *boltStore) SaveEvent(evt domain.AcceptedEvent) error {
	if b == nil || b.db == nil {
		return nil
	}
	if evt.UniqueKey == "" {
		return fmt.Errorf("accepted event has no unique key")
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal accepted event: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(eventBucket))
		if bucket == nil {
			return fmt.Errorf("event bucket missing")
		}
		return bucket.Put([]byte(evt.UniqueKey), payload)
	})
}

// Events returns all stored events.
func (b *boltStore) Events() ([]domain.AcceptedEvent, error) {
	if b == nil || b.db == nil {
		return nil, nil
	}

	var events []domain.AcceptedEvent
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(eventBucket))
		if bucket == nil {
			return fmt.Errorf("event bucket missing")
		}
		return bucket.ForEach(func(_, v []byte) error {
			var evt domain.AcceptedEvent
			if err := json.Unmarshal(v, &evt); err != nil {
				return nil
			}
			events = append(events, evt)
			return nil
		})
	})
	return events, err
}

// DeleteEvent removes a stored event by unique key.
func (b *boltStore) DeleteEvent(key string) error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(eventBucket))
		if bucket == nil {
			return fmt.Errorf("event bucket missing")
		}
		return bucket.Delete([]byte(key))
	})
}

// maybeCleanupExpired removes expired ids and out-of-window dedup entries on
// a fixed cadence to avoid unbounded growth.
func (b *boltStore) maybeCleanupExpired(now time.Time) error {
	if b == nil || b.db == nil {
		return nil
	}

	last := time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	b.cleanupMu.Lock()
	defer b.cleanupMu.Unlock()

	last = time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		idB := tx.Bucket([]byte(idBucket))
		if idB == nil {
			return fmt.Errorf("known-id bucket missing")
		}
		cursor := idB.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			expiry, ok := decodeExpiry(v)
			if !ok || !expiry.After(now) {
				if err := cursor.Delete(); err != nil {
					return err
				}
			}
		}

		dedupB := tx.Bucket([]byte(dedupBucket))
		if dedupB == nil {
			return fmt.Errorf("dedup bucket missing")
		}
		cutoff := now.Add(-b.dedupWindow)
		cursor = dedupB.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry domain.DedupLogEntry
			if err := json.Unmarshal(v, &entry); err != nil || !entry.SeenAt.After(cutoff) {
				if err := cursor.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil {
		b.lastCleanup.Store(now.Unix())
	}
	return err
}

// decodeExpiry decodes the expiry time from the stored byte slice.
func decodeExpiry(value []byte) (time.Time, bool) {
	if len(value) != expiryValueBytes {
		return time.Time{}, false
	}
	unix := int64(binary.BigEndian.Uint64(value))
	if unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
