// Package boltstore persists the object store in a single bbolt file.
//
// Layout (one bbolt bucket per entry kind, keys joined with 0x00):
//
//	meta       "version"                 -> uint64 big endian
//	meta       "journal"                 -> 1 if the journal is kept, else 0
//	buckets    bucket_id                 -> CBOR Bucket
//	objects    bucket_id, object_id      -> CBOR Object
//	payloads   bucket_id, object_id      -> compressed bytes
//	pins       bucket_id, object_id, actor -> empty
//	tombstones bucket_id, object_id      -> empty
//	journal    version                   -> CBOR Op
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/tunnelmesh/objectarium/internal/objectarium"
)

var (
	bucketMeta       = []byte("meta")
	bucketBuckets    = []byte("buckets")
	bucketObjects    = []byte("objects")
	bucketPayloads   = []byte("payloads")
	bucketPins       = []byte("pins")
	bucketTombstones = []byte("tombstones")
	bucketJournal    = []byte("journal")

	keyVersion = []byte("version")
	keyJournal = []byte("journal")
	keySep     = []byte{0}
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("boltstore: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("boltstore: CBOR decoder initialization failed: " + err.Error())
	}
}

// Store is a ledger backend on bbolt.
type Store struct {
	db      *bbolt.DB
	logger  zerolog.Logger
	noSync  bool
	journal bool
	timeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) Option {
	return func(s *Store) {
		s.noSync = noSync
	}
}

// WithJournal records every committed op so the state can be replayed and
// verified. Enabled by default. The setting is fixed when the database is
// created; reopening with a different one keeps the stored mode.
//
// A journaled store op carries the raw object bytes, so with the journal on
// every payload is written twice: compressed under payloads and raw in the
// journal entry.
func WithJournal(enabled bool) Option {
	return func(s *Store) {
		s.journal = enabled
	}
}

// WithTimeout bounds how long Open waits for the file lock.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		logger:  zerolog.Nop(),
		journal: true,
		timeout: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: s.timeout,
		NoSync:  s.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := s.createBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.settleJournal(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Debug().Str("path", path).Bool("no_sync", s.noSync).Bool("journal", s.journal).Msg("opened store")
	return s, nil
}

func (s *Store) createBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketMeta,
			bucketBuckets,
			bucketObjects,
			bucketPayloads,
			bucketPins,
			bucketTombstones,
			bucketJournal,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Debug().Msg("closing store")
	return s.db.Close()
}

// settleJournal records the journal mode on first use and adopts the stored
// mode afterwards. A journal is only useful if it covers every version from 1.
func (s *Store) settleJournal() error {
	requested := s.journal
	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if raw := meta.Get(keyJournal); raw != nil {
			if len(raw) != 1 {
				return fmt.Errorf("%w: journal mode is %d bytes", objectarium.ErrCorrupted, len(raw))
			}
			s.journal = raw[0] == 1
			return nil
		}

		version, err := readVersion(tx)
		if err != nil {
			return err
		}
		if version > 0 {
			// Written before the mode was recorded: keep the journal only if
			// it is complete.
			s.journal = uint64(tx.Bucket(bucketJournal).Stats().KeyN) == version
		}
		mode := byte(0)
		if s.journal {
			mode = 1
		}
		return meta.Put(keyJournal, []byte{mode})
	})
	if err != nil {
		return fmt.Errorf("settling journal mode: %w", err)
	}
	if s.journal != requested {
		s.logger.Warn().Bool("requested", requested).Bool("journal", s.journal).
			Msg("journal mode is fixed at creation, keeping the stored mode")
	}
	return nil
}

// JournalEnabled reports whether commits are journaled.
func (s *Store) JournalEnabled() bool {
	return s.journal
}

func makeKey(parts ...string) []byte {
	key := make([][]byte, len(parts))
	for i, p := range parts {
		key[i] = []byte(p)
	}
	return bytes.Join(key, keySep)
}

func splitKey(key []byte, n int) ([]string, error) {
	parts := bytes.SplitN(key, keySep, n)
	if len(parts) != n {
		return nil, fmt.Errorf("%w: malformed key %q", objectarium.ErrCorrupted, key)
	}
	out := make([]string, n)
	for i, p := range parts {
		out[i] = string(p)
	}
	return out, nil
}

func encodeVersion(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func readVersion(tx *bbolt.Tx) (uint64, error) {
	raw := tx.Bucket(bucketMeta).Get(keyVersion)
	if raw == nil {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("%w: version is %d bytes", objectarium.ErrCorrupted, len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Load reads every entry and rebuilds the committed state.
func (s *Store) Load(ctx context.Context) (*objectarium.State, error) {
	var (
		version uint64
		changes []objectarium.Change
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		if version, err = readVersion(tx); err != nil {
			return err
		}

		err = tx.Bucket(bucketBuckets).ForEach(func(k, v []byte) error {
			var b objectarium.Bucket
			if err := decMode.Unmarshal(v, &b); err != nil {
				return fmt.Errorf("%w: decode bucket %s: %v", objectarium.ErrCorrupted, k, err)
			}
			changes = append(changes, objectarium.Change{Kind: objectarium.EntryBucket, Bucket: objectarium.BucketID(k), Value: &b})
			return nil
		})
		if err != nil {
			return err
		}

		err = tx.Bucket(bucketObjects).ForEach(func(k, v []byte) error {
			parts, err := splitKey(k, 2)
			if err != nil {
				return err
			}
			var o objectarium.Object
			if err := decMode.Unmarshal(v, &o); err != nil {
				return fmt.Errorf("%w: decode object %s: %v", objectarium.ErrCorrupted, parts[1], err)
			}
			changes = append(changes, objectarium.Change{
				Kind:   objectarium.EntryObject,
				Bucket: objectarium.BucketID(parts[0]),
				Object: objectarium.ObjectID(parts[1]),
				Meta:   &o,
			})
			return nil
		})
		if err != nil {
			return err
		}

		err = tx.Bucket(bucketPayloads).ForEach(func(k, v []byte) error {
			parts, err := splitKey(k, 2)
			if err != nil {
				return err
			}
			changes = append(changes, objectarium.Change{
				Kind:    objectarium.EntryPayload,
				Bucket:  objectarium.BucketID(parts[0]),
				Object:  objectarium.ObjectID(parts[1]),
				Payload: bytes.Clone(v),
			})
			return nil
		})
		if err != nil {
			return err
		}

		err = tx.Bucket(bucketPins).ForEach(func(k, _ []byte) error {
			parts, err := splitKey(k, 3)
			if err != nil {
				return err
			}
			changes = append(changes, objectarium.Change{
				Kind:   objectarium.EntryPin,
				Bucket: objectarium.BucketID(parts[0]),
				Object: objectarium.ObjectID(parts[1]),
				Actor:  objectarium.Actor(parts[2]),
			})
			return nil
		})
		if err != nil {
			return err
		}

		return tx.Bucket(bucketTombstones).ForEach(func(k, _ []byte) error {
			parts, err := splitKey(k, 2)
			if err != nil {
				return err
			}
			changes = append(changes, objectarium.Change{
				Kind:   objectarium.EntryTombstone,
				Bucket: objectarium.BucketID(parts[0]),
				Object: objectarium.ObjectID(parts[1]),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state, err := objectarium.Restore(version, changes)
	if err != nil {
		return nil, fmt.Errorf("restore state: %w", err)
	}
	s.logger.Debug().Uint64("version", version).Int("entries", len(changes)).Msg("loaded state")
	return state, nil
}

// Commit writes diff in one bbolt transaction. The stored version must be
// exactly diff.Version-1.
func (s *Store) Commit(ctx context.Context, op objectarium.Op, diff *objectarium.Diff) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		current, err := readVersion(tx)
		if err != nil {
			return err
		}
		if diff.Version != current+1 {
			return fmt.Errorf("%w: stored version %d, diff version %d", objectarium.ErrVersionMismatch, current, diff.Version)
		}

		for _, c := range diff.Changes {
			if err := putChange(tx, c); err != nil {
				return fmt.Errorf("%s %s/%s: %w", c.Kind, c.Bucket, c.Object, err)
			}
		}

		if s.journal {
			data, err := encMode.Marshal(op)
			if err != nil {
				return fmt.Errorf("encode op: %w", err)
			}
			if err := tx.Bucket(bucketJournal).Put(encodeVersion(diff.Version), data); err != nil {
				return fmt.Errorf("putting journal entry: %w", err)
			}
		}

		return tx.Bucket(bucketMeta).Put(keyVersion, encodeVersion(diff.Version))
	})
}

func putChange(tx *bbolt.Tx, c objectarium.Change) error {
	var (
		bucket *bbolt.Bucket
		key    []byte
		value  = []byte{}
	)

	switch c.Kind {
	case objectarium.EntryBucket:
		bucket, key = tx.Bucket(bucketBuckets), []byte(c.Bucket)
		if !c.Delete {
			data, err := encMode.Marshal(c.Value)
			if err != nil {
				return err
			}
			value = data
		}
	case objectarium.EntryObject:
		bucket, key = tx.Bucket(bucketObjects), makeKey(string(c.Bucket), string(c.Object))
		if !c.Delete {
			data, err := encMode.Marshal(c.Meta)
			if err != nil {
				return err
			}
			value = data
		}
	case objectarium.EntryPayload:
		bucket, key = tx.Bucket(bucketPayloads), makeKey(string(c.Bucket), string(c.Object))
		value = c.Payload
	case objectarium.EntryPin:
		bucket, key = tx.Bucket(bucketPins), makeKey(string(c.Bucket), string(c.Object), string(c.Actor))
	case objectarium.EntryTombstone:
		bucket, key = tx.Bucket(bucketTombstones), makeKey(string(c.Bucket), string(c.Object))
	default:
		return fmt.Errorf("%w: unknown entry kind %d", objectarium.ErrCorrupted, c.Kind)
	}

	if c.Delete {
		return bucket.Delete(key)
	}
	return bucket.Put(key, value)
}

// Journal returns every journaled op in version order, or nil when the
// journal is disabled.
func (s *Store) Journal(ctx context.Context) ([]objectarium.Op, error) {
	if !s.journal {
		return nil, nil
	}
	ops := []objectarium.Op{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketJournal).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var op objectarium.Op
			if err := decMode.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("%w: decode journal entry %x: %v", objectarium.ErrCorrupted, k, err)
			}
			ops = append(ops, op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}
