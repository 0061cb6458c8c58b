package objectarium

import (
	"fmt"
	"slices"
	"time"
)

type objectKey struct {
	bucket BucketID
	id     ObjectID
}

type pinKey struct {
	objectKey
	actor Actor
}

type pending[T any] struct {
	value   T
	deleted bool
}

// Tx is a write overlay on a State. Reads through a Tx see the committed
// state plus the Tx's own writes; the State is untouched until the Diff
// returned by Commit is applied.
type Tx struct {
	state      *State
	now        time.Time
	buckets    map[BucketID]Bucket
	objects    map[objectKey]pending[Object]
	payloads   map[objectKey]pending[[]byte]
	pins       map[pinKey]bool
	tombstones map[objectKey]bool
	stats      map[BucketID]BucketStat
	events     []Event
}

func newTx(s *State, now time.Time) *Tx {
	return &Tx{
		state:      s,
		now:        now.UTC().Round(0),
		buckets:    make(map[BucketID]Bucket),
		objects:    make(map[objectKey]pending[Object]),
		payloads:   make(map[objectKey]pending[[]byte]),
		pins:       make(map[pinKey]bool),
		tombstones: make(map[objectKey]bool),
		stats:      make(map[BucketID]BucketStat),
	}
}

// Now returns the timestamp the transaction stamps new entries with.
func (tx *Tx) Now() time.Time {
	return tx.now
}

// Commit turns the transaction's writes into a Diff for the next version.
func (tx *Tx) Commit() *Diff {
	var changes []Change
	for id, b := range tx.buckets {
		changes = append(changes, Change{Kind: EntryBucket, Bucket: id, Value: &b})
	}
	for k, p := range tx.objects {
		c := Change{Kind: EntryObject, Bucket: k.bucket, Object: k.id, Delete: p.deleted}
		if !p.deleted {
			o := p.value
			c.Meta = &o
		}
		changes = append(changes, c)
	}
	for k, p := range tx.payloads {
		c := Change{Kind: EntryPayload, Bucket: k.bucket, Object: k.id, Delete: p.deleted}
		if !p.deleted {
			c.Payload = p.value
		}
		changes = append(changes, c)
	}
	for k, present := range tx.pins {
		changes = append(changes, Change{Kind: EntryPin, Bucket: k.bucket, Object: k.id, Actor: k.actor, Delete: !present})
	}
	for k, present := range tx.tombstones {
		changes = append(changes, Change{Kind: EntryTombstone, Bucket: k.bucket, Object: k.id, Delete: !present})
	}
	sortChanges(changes)

	return &Diff{
		Version: tx.state.version + 1,
		Time:    tx.now,
		Changes: changes,
		Events:  slices.Clone(tx.events),
	}
}

func (tx *Tx) emit(e Event) {
	tx.events = append(tx.events, e)
}

func (tx *Tx) bucket(id BucketID) (Bucket, bool) {
	if b, ok := tx.buckets[id]; ok {
		return b, true
	}
	if b, ok := tx.state.buckets[id]; ok {
		return b.bucket, true
	}
	return Bucket{}, false
}

func (tx *Tx) requireBucket(id BucketID) (Bucket, error) {
	b, ok := tx.bucket(id)
	if !ok {
		return Bucket{}, fmt.Errorf("%w: %s", ErrBucketNotFound, id)
	}
	return b, nil
}

func (tx *Tx) putBucket(b Bucket) {
	tx.buckets[b.ID] = b
}

func (tx *Tx) object(bucket BucketID, id ObjectID) (Object, bool) {
	k := objectKey{bucket, id}
	if p, ok := tx.objects[k]; ok {
		return p.value, !p.deleted
	}
	if b, ok := tx.state.buckets[bucket]; ok {
		o, ok := b.objects[id]
		return o, ok
	}
	return Object{}, false
}

// requireObject resolves a live object, distinguishing forgotten ids.
func (tx *Tx) requireObject(bucket BucketID, id ObjectID) (Object, error) {
	if o, ok := tx.object(bucket, id); ok {
		return o, nil
	}
	if tx.tombstoned(bucket, id) {
		return Object{}, &AlreadyForgottenError{Bucket: bucket, ID: id}
	}
	return Object{}, fmt.Errorf("%w: %s in bucket %s", ErrObjectNotFound, id, bucket)
}

func (tx *Tx) tombstoned(bucket BucketID, id ObjectID) bool {
	k := objectKey{bucket, id}
	if present, ok := tx.tombstones[k]; ok {
		return present
	}
	if b, ok := tx.state.buckets[bucket]; ok {
		_, ok := b.tombstones[id]
		return ok
	}
	return false
}

func (tx *Tx) setTombstone(bucket BucketID, id ObjectID, present bool) {
	k := objectKey{bucket, id}
	committed := false
	if b, ok := tx.state.buckets[bucket]; ok {
		_, committed = b.tombstones[id]
	}
	if committed == present {
		delete(tx.tombstones, k)
		return
	}
	tx.tombstones[k] = present
}

func (tx *Tx) stat(bucket BucketID) BucketStat {
	if s, ok := tx.stats[bucket]; ok {
		return s
	}
	if b, ok := tx.state.buckets[bucket]; ok {
		return b.stat
	}
	return BucketStat{}
}

// putObject records a new object and its compressed payload. The object
// must not be live in the transaction view.
func (tx *Tx) putObject(o Object, payload []byte) {
	k := objectKey{o.Bucket, o.ID}
	tx.objects[k] = pending[Object]{value: o}
	tx.payloads[k] = pending[[]byte]{value: payload}
	tx.stats[o.Bucket] = tx.stat(o.Bucket).add(o)
	tx.setTombstone(o.Bucket, o.ID, false)
}

// deleteObject removes a live object and its payload and tombstones its id.
func (tx *Tx) deleteObject(o Object) {
	k := objectKey{o.Bucket, o.ID}
	tx.objects[k] = pending[Object]{deleted: true}
	tx.payloads[k] = pending[[]byte]{deleted: true}
	tx.stats[o.Bucket] = tx.stat(o.Bucket).sub(o)
	tx.setTombstone(o.Bucket, o.ID, true)
}

func (tx *Tx) committedPin(k pinKey) bool {
	b, ok := tx.state.buckets[k.bucket]
	if !ok {
		return false
	}
	_, ok = b.pins[k.id][k.actor]
	return ok
}

func (tx *Tx) pinned(bucket BucketID, id ObjectID, actor Actor) bool {
	k := pinKey{objectKey{bucket, id}, actor}
	if present, ok := tx.pins[k]; ok {
		return present
	}
	return tx.committedPin(k)
}

func (tx *Tx) setPin(bucket BucketID, id ObjectID, actor Actor, present bool) {
	k := pinKey{objectKey{bucket, id}, actor}
	if tx.committedPin(k) == present {
		delete(tx.pins, k)
		return
	}
	tx.pins[k] = present
}

// pinners returns the actors pinning an object in the transaction view,
// sorted.
func (tx *Tx) pinners(bucket BucketID, id ObjectID) []Actor {
	set := make(map[Actor]struct{})
	if b, ok := tx.state.buckets[bucket]; ok {
		for a := range b.pins[id] {
			set[a] = struct{}{}
		}
	}
	for k, present := range tx.pins {
		if k.bucket != bucket || k.id != id {
			continue
		}
		if present {
			set[k.actor] = struct{}{}
		} else {
			delete(set, k.actor)
		}
	}
	return sortedActors(set)
}

func (tx *Tx) pinCount(bucket BucketID, id ObjectID) uint64 {
	return uint64(len(tx.pinners(bucket, id)))
}
