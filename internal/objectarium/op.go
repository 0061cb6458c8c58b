package objectarium

import (
	"fmt"
	"time"

	"github.com/tunnelmesh/objectarium/internal/codec"
)

// OpKind names a mutating operation.
type OpKind string

// Operation kinds.
const (
	OpCreateBucket OpKind = "create_bucket"
	OpStore        OpKind = "store"
	OpPin          OpKind = "pin"
	OpUnpin        OpKind = "unpin"
	OpForget       OpKind = "forget"
	OpForceForget  OpKind = "force_forget"
)

// Op is a replayable mutation request. Applying the same sequence of ops to
// an empty state always yields the same state.
type Op struct {
	Kind        OpKind          `json:"kind"`
	Actor       Actor           `json:"actor"`
	Time        time.Time       `json:"time"`
	Bucket      BucketID        `json:"bucket,omitempty"`
	Object      ObjectID        `json:"object,omitempty"`
	Data        []byte          `json:"data,omitempty"`
	Compression codec.Algorithm `json:"compression,omitempty"`
	Pin         bool            `json:"pin,omitempty"`
	Config      *BucketConfig   `json:"config,omitempty"`
}

// Result carries the typed outcome of an Op. Only the fields of the op's
// kind are set.
type Result struct {
	Bucket      BucketID     `json:"bucket,omitempty"`
	Store       StoreResult  `json:"store"`
	Pin         PinOutcome   `json:"pin"`
	Unpin       UnpinOutcome `json:"unpin"`
	DroppedPins uint64       `json:"dropped_pins,omitempty"`
}

// Apply runs op against tx.
func Apply(tx *Tx, op Op) (Result, error) {
	switch op.Kind {
	case OpCreateBucket:
		if op.Config == nil {
			return Result{}, fmt.Errorf("%w: create_bucket without config", ErrInvalidRequest)
		}
		id, err := CreateBucket(tx, op.Actor, *op.Config)
		return Result{Bucket: id}, err
	case OpStore:
		res, err := Store(tx, op.Bucket, op.Actor, op.Data, StoreOptions{Compression: op.Compression, Pin: op.Pin})
		return Result{Bucket: op.Bucket, Store: res}, err
	case OpPin:
		res, err := Pin(tx, op.Bucket, op.Object, op.Actor)
		return Result{Bucket: op.Bucket, Pin: res}, err
	case OpUnpin:
		res, err := Unpin(tx, op.Bucket, op.Object, op.Actor)
		return Result{Bucket: op.Bucket, Unpin: res}, err
	case OpForget:
		err := Forget(tx, op.Bucket, op.Object, op.Actor)
		return Result{Bucket: op.Bucket}, err
	case OpForceForget:
		dropped, err := ForceForget(tx, op.Bucket, op.Object, op.Actor)
		return Result{Bucket: op.Bucket, DroppedPins: dropped}, err
	default:
		return Result{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, op.Kind)
	}
}

// Execute runs op in its own transaction and applies the resulting diff. On
// error the state is unchanged and the diff is nil. An op with no effect
// returns an empty diff and leaves the version as is.
func (s *State) Execute(op Op) (*Diff, Result, error) {
	tx := s.Begin(op.Time)
	res, err := Apply(tx, op)
	if err != nil {
		return nil, res, err
	}
	diff := tx.Commit()
	if diff.Empty() {
		return diff, res, nil
	}
	if err := s.Apply(diff); err != nil {
		return nil, res, err
	}
	return diff, res, nil
}

// Replay rebuilds a state from ops. Every op must succeed.
func Replay(ops []Op) (*State, error) {
	s := NewState()
	for i, op := range ops {
		if _, _, err := s.Execute(op); err != nil {
			return nil, fmt.Errorf("replay op %d (%s): %w", i, op.Kind, err)
		}
	}
	return s, nil
}
