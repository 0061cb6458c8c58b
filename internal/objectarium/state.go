// Package objectarium implements a content-addressed object store with
// bucket-scoped accounting, pin-gated deletion and deterministic, versioned
// state transitions.
//
// Mutations never touch a State directly. A caller opens a Tx with
// State.Begin, runs one operation against it, and commits the Tx into a Diff
// that State.Apply folds into the next version. A failed operation discards
// its Tx, so nothing partial is ever visible.
package objectarium

import (
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"github.com/zeebo/blake3"
)

// State is the committed, versioned materialized store. It is not safe for
// concurrent use; internal/ledger serializes access.
type State struct {
	version uint64
	buckets map[BucketID]*bucketState
	pins    uint64
}

type bucketState struct {
	bucket     Bucket
	stat       BucketStat
	objects    map[ObjectID]Object
	ids        []ObjectID // sorted
	payloads   map[ObjectID][]byte
	pins       map[ObjectID]map[Actor]struct{}
	tombstones map[ObjectID]struct{}
}

// NewState returns an empty state at version 0.
func NewState() *State {
	return &State{buckets: make(map[BucketID]*bucketState)}
}

// Version returns the number of diffs applied.
func (s *State) Version() uint64 {
	return s.version
}

// Begin opens a transaction on top of the current version. now stamps
// created_at fields.
func (s *State) Begin(now time.Time) *Tx {
	return newTx(s, now)
}

// Apply folds d into the state. d must have been committed against the
// current version. Apply validates every change before mutating anything.
func (s *State) Apply(d *Diff) error {
	if d.Version != s.version+1 {
		return fmt.Errorf("%w: diff version %d, state version %d", ErrVersionMismatch, d.Version, s.version)
	}
	if err := s.validate(d.Changes); err != nil {
		return err
	}
	s.apply(d.Changes)
	s.version = d.Version
	return nil
}

// Restore rebuilds a state at version from the full set of persisted entries.
// Bucket stats are recomputed from the objects.
func Restore(version uint64, changes []Change) (*State, error) {
	s := NewState()
	sorted := slices.Clone(changes)
	sortChanges(sorted)
	for _, c := range sorted {
		if c.Delete {
			return nil, fmt.Errorf("%w: restore with delete of %s %s/%s", ErrCorrupted, c.Kind, c.Bucket, c.Object)
		}
	}
	if err := s.validate(sorted); err != nil {
		return nil, err
	}
	s.apply(sorted)
	s.version = version
	if err := s.CheckConservation(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *State) validate(changes []Change) error {
	created := make(map[BucketID]bool)
	for _, c := range changes {
		if c.Kind == EntryBucket {
			if c.Delete {
				return fmt.Errorf("%w: buckets are never deleted", ErrCorrupted)
			}
			if c.Value == nil || c.Value.ID != c.Bucket {
				return fmt.Errorf("%w: bucket change %s without value", ErrCorrupted, c.Bucket)
			}
			created[c.Bucket] = true
			continue
		}
		if _, ok := s.buckets[c.Bucket]; !ok && !created[c.Bucket] {
			return fmt.Errorf("%w: %s change for unknown bucket %s", ErrCorrupted, c.Kind, c.Bucket)
		}
		switch c.Kind {
		case EntryObject:
			if !c.Delete && (c.Meta == nil || c.Meta.ID != c.Object) {
				return fmt.Errorf("%w: object change %s without value", ErrCorrupted, c.Object)
			}
		case EntryPayload, EntryTombstone:
		case EntryPin:
			if c.Actor == "" {
				return fmt.Errorf("%w: pin change without actor", ErrCorrupted)
			}
		default:
			return fmt.Errorf("%w: unknown entry kind %d", ErrCorrupted, c.Kind)
		}
	}
	return nil
}

func (s *State) apply(changes []Change) {
	for _, c := range changes {
		if c.Kind == EntryBucket {
			if _, ok := s.buckets[c.Bucket]; !ok {
				s.buckets[c.Bucket] = newBucketState(*c.Value)
			}
			continue
		}

		b := s.buckets[c.Bucket]
		switch c.Kind {
		case EntryObject:
			if old, ok := b.objects[c.Object]; ok {
				b.stat = b.stat.sub(old)
				delete(b.objects, c.Object)
				if i, found := slices.BinarySearch(b.ids, c.Object); found {
					b.ids = slices.Delete(b.ids, i, i+1)
				}
			}
			if !c.Delete {
				b.objects[c.Object] = *c.Meta
				b.stat = b.stat.add(*c.Meta)
				i, _ := slices.BinarySearch(b.ids, c.Object)
				b.ids = slices.Insert(b.ids, i, c.Object)
			}
		case EntryPayload:
			if c.Delete {
				delete(b.payloads, c.Object)
			} else {
				b.payloads[c.Object] = c.Payload
			}
		case EntryPin:
			actors := b.pins[c.Object]
			_, present := actors[c.Actor]
			switch {
			case c.Delete && present:
				delete(actors, c.Actor)
				if len(actors) == 0 {
					delete(b.pins, c.Object)
				}
				s.pins--
			case !c.Delete && !present:
				if actors == nil {
					actors = make(map[Actor]struct{})
					b.pins[c.Object] = actors
				}
				actors[c.Actor] = struct{}{}
				s.pins++
			}
		case EntryTombstone:
			if c.Delete {
				delete(b.tombstones, c.Object)
			} else {
				b.tombstones[c.Object] = struct{}{}
			}
		}
	}
}

func newBucketState(b Bucket) *bucketState {
	return &bucketState{
		bucket:     b,
		objects:    make(map[ObjectID]Object),
		payloads:   make(map[ObjectID][]byte),
		pins:       make(map[ObjectID]map[Actor]struct{}),
		tombstones: make(map[ObjectID]struct{}),
	}
}

// CheckConservation verifies the derived accounting against the stored
// objects: bucket stats equal the sums over live objects, every object has a
// payload of its compressed size, and pins only reference live objects.
func (s *State) CheckConservation() error {
	var pins uint64
	for id, b := range s.buckets {
		var want BucketStat
		for _, o := range b.objects {
			want = want.add(o)
			payload, ok := b.payloads[o.ID]
			if !ok {
				return fmt.Errorf("%w: bucket %s object %s has no payload", ErrCorrupted, id, o.ID)
			}
			if uint64(len(payload)) != o.CompressedSize {
				return fmt.Errorf("%w: bucket %s object %s payload is %d bytes, recorded %d",
					ErrCorrupted, id, o.ID, len(payload), o.CompressedSize)
			}
		}
		if want != b.stat {
			return fmt.Errorf("%w: bucket %s stat %+v, objects sum to %+v", ErrCorrupted, id, b.stat, want)
		}
		if len(b.payloads) != len(b.objects) {
			return fmt.Errorf("%w: bucket %s has %d payloads for %d objects", ErrCorrupted, id, len(b.payloads), len(b.objects))
		}
		if len(b.ids) != len(b.objects) || !slices.IsSorted(b.ids) {
			return fmt.Errorf("%w: bucket %s index out of sync", ErrCorrupted, id)
		}
		for obj, actors := range b.pins {
			if _, ok := b.objects[obj]; !ok {
				return fmt.Errorf("%w: bucket %s pins on missing object %s", ErrCorrupted, id, obj)
			}
			pins += uint64(len(actors))
		}
		for obj := range b.tombstones {
			if _, ok := b.objects[obj]; ok {
				return fmt.Errorf("%w: bucket %s object %s is live and tombstoned", ErrCorrupted, id, obj)
			}
		}
	}
	if pins != s.pins {
		return fmt.Errorf("%w: pin total %d, counted %d", ErrCorrupted, s.pins, pins)
	}
	return nil
}

// Fingerprint returns a BLAKE3 digest over every entry of the state in key
// order. Two states with the same entries have the same fingerprint
// regardless of how they were built.
func (s *State) Fingerprint() string {
	h := blake3.New()
	var buf [8]byte
	writeUint := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	writeString := func(v string) {
		writeUint(uint64(len(v)))
		_, _ = h.Write([]byte(v))
	}

	for _, id := range s.sortedBucketIDs() {
		b := s.buckets[id]
		cfg := b.bucket.Config
		writeString(string(id))
		writeString(string(b.bucket.Owner))
		writeString(cfg.Name)
		writeUint(uint64(cfg.HashAlgorithm))
		writeUint(uint64(len(cfg.AcceptedCompressions)))
		for _, algo := range cfg.AcceptedCompressions {
			writeUint(uint64(algo))
		}
		if cfg.Mutable {
			writeUint(1)
		} else {
			writeUint(0)
		}
		writeUint(cfg.Limits.MaxBucketSize)
		writeUint(cfg.Limits.MaxObjectSize)
		writeUint(cfg.Limits.MaxObjectCount)
		writeUint(cfg.Limits.MaxObjectPins)
		writeUint(uint64(cfg.Pagination.MaxPageSize))
		writeUint(uint64(cfg.Pagination.DefaultPageSize))
		writeUint(uint64(b.bucket.CreatedAt.UnixNano()))

		for _, oid := range b.ids {
			o := b.objects[oid]
			writeString(string(o.ID))
			writeString(string(o.Owner))
			writeUint(o.Size)
			writeUint(o.CompressedSize)
			writeUint(uint64(o.Compression))
			writeUint(uint64(o.CreatedAt.UnixNano()))
			payload := b.payloads[oid]
			writeUint(uint64(len(payload)))
			_, _ = h.Write(payload)
			writeUint(uint64(len(b.pins[oid])))
			for _, actor := range sortedActors(b.pins[oid]) {
				writeString(string(actor))
			}
		}

		tombstones := make([]ObjectID, 0, len(b.tombstones))
		for oid := range b.tombstones {
			tombstones = append(tombstones, oid)
		}
		slices.Sort(tombstones)
		for _, oid := range tombstones {
			writeString(string(oid))
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (s *State) sortedBucketIDs() []BucketID {
	ids := make([]BucketID, 0, len(s.buckets))
	for id := range s.buckets {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func sortedActors(set map[Actor]struct{}) []Actor {
	actors := make([]Actor, 0, len(set))
	for a := range set {
		actors = append(actors, a)
	}
	slices.Sort(actors)
	return actors
}

// Entries returns every persisted entry of the state as put changes in key
// order. Restore(s.Version(), s.Entries()) rebuilds an equal state.
func (s *State) Entries() []Change {
	var changes []Change
	for _, id := range s.sortedBucketIDs() {
		b := s.buckets[id]
		bucket := b.bucket
		changes = append(changes, Change{Kind: EntryBucket, Bucket: id, Value: &bucket})
		for _, oid := range b.ids {
			o := b.objects[oid]
			changes = append(changes,
				Change{Kind: EntryObject, Bucket: id, Object: oid, Meta: &o},
				Change{Kind: EntryPayload, Bucket: id, Object: oid, Payload: b.payloads[oid]},
			)
			for _, actor := range sortedActors(b.pins[oid]) {
				changes = append(changes, Change{Kind: EntryPin, Bucket: id, Object: oid, Actor: actor})
			}
		}
		for oid := range b.tombstones {
			changes = append(changes, Change{Kind: EntryTombstone, Bucket: id, Object: oid})
		}
	}
	sortChanges(changes)
	return changes
}
