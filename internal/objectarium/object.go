package objectarium

import (
	"fmt"
	"time"

	"github.com/tunnelmesh/objectarium/internal/codec"
)

// Object is the metadata recorded for stored content. Size and
// CompressedSize never change once recorded.
type Object struct {
	ID             ObjectID        `json:"id"`
	Bucket         BucketID        `json:"bucket"`
	Owner          Actor           `json:"owner"`
	Size           uint64          `json:"size"`
	CompressedSize uint64          `json:"compressed_size"`
	Compression    codec.Algorithm `json:"compression"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ObjectMetadata is the projection served to presentation layers. Its JSON
// field set is a stable contract.
type ObjectMetadata struct {
	ID             ObjectID `json:"id"`
	Owner          Actor    `json:"owner"`
	IsPinned       bool     `json:"is_pinned"`
	Size           uint64   `json:"size"`
	CompressedSize uint64   `json:"compressed_size"`
}

func (o Object) metadata(pinCount uint64) ObjectMetadata {
	return ObjectMetadata{
		ID:             o.ID,
		Owner:          o.Owner,
		IsPinned:       pinCount > 0,
		Size:           o.Size,
		CompressedSize: o.CompressedSize,
	}
}

// StoreOptions tune a store request.
type StoreOptions struct {
	// Compression selects the algorithm. Unspecified uses the bucket default.
	Compression codec.Algorithm
	// Pin pins the object for the storing actor, on a new object or a
	// deduplicated one.
	Pin bool
}

// StoreResult describes the outcome of a store.
type StoreResult struct {
	ID           ObjectID `json:"id"`
	Deduplicated bool     `json:"deduplicated"`
	// Pinned reports whether this call added the actor's pin.
	Pinned bool `json:"pinned"`
}

// Store records data in bucket under its content digest. Storing content that
// is already present returns the existing id without touching accounting.
// A previously forgotten id is stored again as a new object.
func Store(tx *Tx, bucket BucketID, actor Actor, data []byte, opts StoreOptions) (StoreResult, error) {
	if err := validateActor(actor); err != nil {
		return StoreResult{}, err
	}
	b, err := tx.requireBucket(bucket)
	if err != nil {
		return StoreResult{}, err
	}
	if len(data) == 0 {
		return StoreResult{}, ErrEmptyContent
	}

	cfg := b.Config
	id := ObjectID(cfg.HashAlgorithm.Hex(data))

	if _, ok := tx.object(bucket, id); ok {
		res := StoreResult{ID: id, Deduplicated: true}
		if opts.Pin {
			outcome, err := pin(tx, b, id, actor)
			if err != nil {
				return StoreResult{}, err
			}
			res.Pinned = outcome.NewlyPinned
		}
		return res, nil
	}

	algo := opts.Compression
	if algo == codec.Unspecified {
		algo = cfg.DefaultCompression()
	}
	if !cfg.Accepts(algo) {
		return StoreResult{}, &UnsupportedCompressionError{Requested: algo, Accepted: cfg.AcceptedCompressions}
	}

	size := uint64(len(data))
	quota := Quota{Limits: cfg.Limits}
	if err := quota.CheckStore(tx.stat(bucket), size); err != nil {
		return StoreResult{}, err
	}
	if opts.Pin {
		if err := quota.CheckPin(0); err != nil {
			return StoreResult{}, err
		}
	}

	payload, err := algo.Compress(data)
	if err != nil {
		return StoreResult{}, fmt.Errorf("compress object %s: %w", id, err)
	}

	o := Object{
		ID:             id,
		Bucket:         bucket,
		Owner:          actor,
		Size:           size,
		CompressedSize: uint64(len(payload)),
		Compression:    algo,
		CreatedAt:      tx.now,
	}
	tx.putObject(o, payload)

	res := StoreResult{ID: id}
	if opts.Pin {
		tx.setPin(bucket, id, actor, true)
		res.Pinned = true
	}
	tx.emit(Event{
		Kind:     EventObjectStored,
		Bucket:   bucket,
		Object:   id,
		Actor:    actor,
		Size:     size,
		PinCount: tx.pinCount(bucket, id),
	})
	return res, nil
}
