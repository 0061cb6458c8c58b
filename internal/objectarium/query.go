package objectarium

import (
	"fmt"
	"slices"
	"strings"
)

// Filter narrows List results.
type Filter struct {
	// Owner keeps only objects stored first by this actor.
	Owner Actor
	// PinnedOnly keeps only objects with at least one pin.
	PinnedOnly bool
}

func (s *State) lookupBucket(id BucketID) (*bucketState, error) {
	b, ok := s.buckets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, id)
	}
	return b, nil
}

func (b *bucketState) lookupObject(id ObjectID) (Object, error) {
	if o, ok := b.objects[id]; ok {
		return o, nil
	}
	if _, ok := b.tombstones[id]; ok {
		return Object{}, &AlreadyForgottenError{Bucket: b.bucket.ID, ID: id}
	}
	return Object{}, fmt.Errorf("%w: %s in bucket %s", ErrObjectNotFound, id, b.bucket.ID)
}

func (b *bucketState) info() BucketInfo {
	var pins uint64
	for _, actors := range b.pins {
		pins += uint64(len(actors))
	}
	return BucketInfo{
		Bucket: b.bucket,
		Stat:   b.stat,
		Quota:  Quota{Limits: b.bucket.Config.Limits}.Usage(b.stat),
		Pins:   pins,
	}
}

// Bucket returns a bucket and its current stats.
func (s *State) Bucket(id BucketID) (BucketInfo, error) {
	b, err := s.lookupBucket(id)
	if err != nil {
		return BucketInfo{}, err
	}
	return b.info(), nil
}

// Buckets returns every bucket ordered by name, then id.
func (s *State) Buckets() []BucketInfo {
	out := make([]BucketInfo, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b.info())
	}
	slices.SortFunc(out, func(a, b BucketInfo) int {
		if c := strings.Compare(a.Config.Name, b.Config.Name); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}

// Get returns the metadata projection of an object, or false when the
// bucket or object does not exist.
func (s *State) Get(bucket BucketID, id ObjectID) (ObjectMetadata, bool) {
	b, ok := s.buckets[bucket]
	if !ok {
		return ObjectMetadata{}, false
	}
	o, ok := b.objects[id]
	if !ok {
		return ObjectMetadata{}, false
	}
	return o.metadata(uint64(len(b.pins[id]))), true
}

// Object returns the full record of a live object.
func (s *State) Object(bucket BucketID, id ObjectID) (Object, error) {
	b, err := s.lookupBucket(bucket)
	if err != nil {
		return Object{}, err
	}
	return b.lookupObject(id)
}

// PinCount returns the number of actors pinning an object.
func (s *State) PinCount(bucket BucketID, id ObjectID) (uint64, error) {
	b, err := s.lookupBucket(bucket)
	if err != nil {
		return 0, err
	}
	if _, err := b.lookupObject(id); err != nil {
		return 0, err
	}
	return uint64(len(b.pins[id])), nil
}

// List returns a page of objects ordered by id. limit 0 selects the bucket's
// default page size; a limit above the bucket maximum fails with
// ErrInvalidPageSize.
func (s *State) List(bucket BucketID, filter Filter, cursor string, limit uint32) (Page[ObjectMetadata], error) {
	b, err := s.lookupBucket(bucket)
	if err != nil {
		return Page[ObjectMetadata]{}, err
	}
	size, err := b.bucket.Config.Pagination.pageSize(limit)
	if err != nil {
		return Page[ObjectMetadata]{}, err
	}

	return paginate(b.ids, cursor, size, func(id ObjectID) (ObjectMetadata, bool) {
		o := b.objects[id]
		pins := uint64(len(b.pins[id]))
		if filter.Owner != "" && o.Owner != filter.Owner {
			return ObjectMetadata{}, false
		}
		if filter.PinnedOnly && pins == 0 {
			return ObjectMetadata{}, false
		}
		return o.metadata(pins), true
	})
}

// ObjectPins returns a page of the actors pinning an object, ordered
// lexicographically.
func (s *State) ObjectPins(bucket BucketID, id ObjectID, cursor string, limit uint32) (Page[Actor], error) {
	b, err := s.lookupBucket(bucket)
	if err != nil {
		return Page[Actor]{}, err
	}
	if _, err := b.lookupObject(id); err != nil {
		return Page[Actor]{}, err
	}
	size, err := b.bucket.Config.Pagination.pageSize(limit)
	if err != nil {
		return Page[Actor]{}, err
	}

	return paginate(sortedActors(b.pins[id]), cursor, size, func(a Actor) (Actor, bool) {
		return a, true
	})
}

// ObjectData returns the raw bytes of an object. The payload is decompressed
// here and checked against the object's content address.
func (s *State) ObjectData(bucket BucketID, id ObjectID) ([]byte, error) {
	b, err := s.lookupBucket(bucket)
	if err != nil {
		return nil, err
	}
	o, err := b.lookupObject(id)
	if err != nil {
		return nil, err
	}
	payload, ok := b.payloads[id]
	if !ok {
		return nil, fmt.Errorf("%w: object %s has no payload", ErrCorrupted, id)
	}

	data, err := o.Compression.Decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress %s: %v", ErrCorrupted, id, err)
	}
	if uint64(len(data)) != o.Size || !b.bucket.Config.HashAlgorithm.Verify(string(id), data) {
		return nil, fmt.Errorf("%w: object %s content does not match its id", ErrCorrupted, id)
	}
	return data, nil
}
