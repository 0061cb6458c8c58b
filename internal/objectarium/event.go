package objectarium

// EventKind describes a committed state transition.
type EventKind string

// Event kinds.
const (
	EventBucketCreated        EventKind = "bucket_created"
	EventObjectStored         EventKind = "object_stored"
	EventObjectPinned         EventKind = "object_pinned"
	EventObjectUnpinned       EventKind = "object_unpinned"
	EventObjectForgotten      EventKind = "object_forgotten"
	EventObjectForceForgotten EventKind = "object_force_forgotten"
)

// Event is emitted by a transaction and delivered with its Diff.
type Event struct {
	Kind   EventKind `json:"kind"`
	Bucket BucketID  `json:"bucket"`
	Object ObjectID  `json:"object,omitempty"`
	Actor  Actor     `json:"actor"`
	// Size is the raw size of a stored or forgotten object.
	Size uint64 `json:"size,omitempty"`
	// PinCount is the object's pin count after the event.
	PinCount uint64 `json:"pin_count,omitempty"`
	// DroppedPins counts pins removed by a force-forget.
	DroppedPins uint64 `json:"dropped_pins,omitempty"`
}
