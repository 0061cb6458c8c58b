package objectarium

// PinOutcome is returned by Pin.
type PinOutcome struct {
	NewlyPinned bool   `json:"newly_pinned"`
	PinCount    uint64 `json:"pin_count"`
}

// UnpinOutcome is returned by Unpin.
type UnpinOutcome struct {
	WasPinned bool   `json:"was_pinned"`
	PinCount  uint64 `json:"pin_count"`
}

// Pin adds actor to the pinners of an object. Pinning twice is a no-op that
// reports NewlyPinned=false.
func Pin(tx *Tx, bucket BucketID, id ObjectID, actor Actor) (PinOutcome, error) {
	if err := validateActor(actor); err != nil {
		return PinOutcome{}, err
	}
	b, err := tx.requireBucket(bucket)
	if err != nil {
		return PinOutcome{}, err
	}
	if _, err := tx.requireObject(bucket, id); err != nil {
		return PinOutcome{}, err
	}
	return pin(tx, b, id, actor)
}

func pin(tx *Tx, b Bucket, id ObjectID, actor Actor) (PinOutcome, error) {
	count := tx.pinCount(b.ID, id)
	if tx.pinned(b.ID, id, actor) {
		return PinOutcome{NewlyPinned: false, PinCount: count}, nil
	}
	if err := (Quota{Limits: b.Config.Limits}).CheckPin(count); err != nil {
		return PinOutcome{}, err
	}

	tx.setPin(b.ID, id, actor, true)
	tx.emit(Event{Kind: EventObjectPinned, Bucket: b.ID, Object: id, Actor: actor, PinCount: count + 1})
	return PinOutcome{NewlyPinned: true, PinCount: count + 1}, nil
}

// Unpin removes actor from the pinners of an object. Unpinning an actor that
// does not pin the object is a no-op, not an error.
func Unpin(tx *Tx, bucket BucketID, id ObjectID, actor Actor) (UnpinOutcome, error) {
	if err := validateActor(actor); err != nil {
		return UnpinOutcome{}, err
	}
	if _, err := tx.requireBucket(bucket); err != nil {
		return UnpinOutcome{}, err
	}
	if _, err := tx.requireObject(bucket, id); err != nil {
		return UnpinOutcome{}, err
	}

	count := tx.pinCount(bucket, id)
	if !tx.pinned(bucket, id, actor) {
		return UnpinOutcome{WasPinned: false, PinCount: count}, nil
	}

	tx.setPin(bucket, id, actor, false)
	tx.emit(Event{Kind: EventObjectUnpinned, Bucket: bucket, Object: id, Actor: actor, PinCount: count - 1})
	return UnpinOutcome{WasPinned: true, PinCount: count - 1}, nil
}
