package objectarium

import (
	"cmp"
	"slices"
	"time"
)

// EntryKind names the keyed entry a Change touches. The order of the values
// is the order changes are applied in.
type EntryKind uint8

const (
	// EntryBucket is keyed by (bucket).
	EntryBucket EntryKind = iota + 1
	// EntryObject is keyed by (bucket, object).
	EntryObject
	// EntryPayload holds the compressed bytes, keyed by (bucket, object).
	EntryPayload
	// EntryPin is keyed by (bucket, object, actor).
	EntryPin
	// EntryTombstone marks a forgotten id, keyed by (bucket, object).
	EntryTombstone
)

func (k EntryKind) String() string {
	switch k {
	case EntryBucket:
		return "bucket"
	case EntryObject:
		return "object"
	case EntryPayload:
		return "payload"
	case EntryPin:
		return "pin"
	case EntryTombstone:
		return "tombstone"
	default:
		return "unknown"
	}
}

// Change is a put or delete of one keyed entry.
type Change struct {
	Kind    EntryKind `json:"kind"`
	Delete  bool      `json:"delete,omitempty"`
	Bucket  BucketID  `json:"bucket"`
	Object  ObjectID  `json:"object,omitempty"`
	Actor   Actor     `json:"actor,omitempty"`
	Value   *Bucket   `json:"bucket_value,omitempty"`
	Meta    *Object   `json:"object_value,omitempty"`
	Payload []byte    `json:"payload,omitempty"`
}

func compareChanges(a, b Change) int {
	return cmp.Or(
		cmp.Compare(a.Kind, b.Kind),
		cmp.Compare(a.Bucket, b.Bucket),
		cmp.Compare(a.Object, b.Object),
		cmp.Compare(a.Actor, b.Actor),
	)
}

// Diff is the result of committing a transaction: the changes that move the
// state from Version-1 to Version, in key order.
type Diff struct {
	Version uint64    `json:"version"`
	Time    time.Time `json:"time"`
	Changes []Change  `json:"changes"`
	Events  []Event   `json:"events,omitempty"`
}

// Empty reports whether applying d would change nothing.
func (d *Diff) Empty() bool {
	return d == nil || len(d.Changes) == 0
}

func sortChanges(changes []Change) {
	slices.SortFunc(changes, compareChanges)
}
