package objectarium

// Forget removes an unpinned object. actor must own the object or the
// bucket. A pinned object fails with *PinnedError and nothing changes.
// Forgetting an id that is already gone fails with *AlreadyForgottenError.
func Forget(tx *Tx, bucket BucketID, id ObjectID, actor Actor) error {
	if err := validateActor(actor); err != nil {
		return err
	}
	b, err := tx.requireBucket(bucket)
	if err != nil {
		return err
	}
	o, err := tx.requireObject(bucket, id)
	if err != nil {
		return err
	}
	if !b.Config.Mutable {
		return &immutableError{Bucket: bucket}
	}
	if actor != o.Owner && actor != b.Owner {
		return &UnauthorizedError{Actor: actor, Operation: "forget", Reason: "not the object or bucket owner"}
	}
	if count := tx.pinCount(bucket, id); count > 0 {
		return &PinnedError{Count: count}
	}

	tx.deleteObject(o)
	tx.emit(Event{Kind: EventObjectForgotten, Bucket: bucket, Object: id, Actor: actor, Size: o.Size})
	return nil
}

// ForceForget removes an object regardless of its pins, dropping them. Only
// the bucket owner may force-forget. It returns the number of pins dropped.
func ForceForget(tx *Tx, bucket BucketID, id ObjectID, actor Actor) (uint64, error) {
	if err := validateActor(actor); err != nil {
		return 0, err
	}
	b, err := tx.requireBucket(bucket)
	if err != nil {
		return 0, err
	}
	o, err := tx.requireObject(bucket, id)
	if err != nil {
		return 0, err
	}
	if !b.Config.Mutable {
		return 0, &immutableError{Bucket: bucket}
	}
	if actor != b.Owner {
		return 0, &UnauthorizedError{Actor: actor, Operation: "force_forget", Reason: "not the bucket owner"}
	}

	pinners := tx.pinners(bucket, id)
	for _, a := range pinners {
		tx.setPin(bucket, id, a, false)
	}
	tx.deleteObject(o)
	tx.emit(Event{
		Kind:        EventObjectForceForgotten,
		Bucket:      bucket,
		Object:      id,
		Actor:       actor,
		Size:        o.Size,
		DroppedPins: uint64(len(pinners)),
	})
	return uint64(len(pinners)), nil
}
