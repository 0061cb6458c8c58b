package objectarium

import (
	"errors"
	"fmt"

	"github.com/tunnelmesh/objectarium/internal/codec"
)

// Objectarium error types.
var (
	ErrBucketExists           = errors.New("bucket already exists")
	ErrBucketNotFound         = errors.New("bucket not found")
	ErrObjectNotFound         = errors.New("object not found")
	ErrEmptyContent           = errors.New("object content is empty")
	ErrUnsupportedCompression = errors.New("compression algorithm not accepted")
	ErrQuotaExceeded          = errors.New("bucket quota exceeded")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrPinned                 = errors.New("object is pinned")
	ErrAlreadyForgotten       = errors.New("object already forgotten")
	ErrBucketImmutable        = errors.New("bucket is immutable")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInvalidConfig          = errors.New("invalid bucket config")
	ErrInvalidCursor          = errors.New("invalid cursor")
	ErrInvalidPageSize        = errors.New("requested page size exceeds maximum allowed")
	ErrCorrupted              = errors.New("state corrupted")
	ErrVersionMismatch        = errors.New("state version mismatch")
)

// Limit names reported in QuotaExceededError.
const (
	LimitObjectSize  = "max_object_size"
	LimitBucketSize  = "max_bucket_size"
	LimitObjectCount = "max_object_count"
	LimitObjectPins  = "max_object_pins"
)

// QuotaExceededError reports which bucket limit a mutation would violate and
// the value it would have reached.
type QuotaExceededError struct {
	Limit     string
	Max       uint64
	Attempted uint64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: %s %d / %d", ErrQuotaExceeded, e.Limit, e.Attempted, e.Max)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// PinnedError is returned by forget when the object still has pinners.
type PinnedError struct {
	Count uint64
}

func (e *PinnedError) Error() string {
	return fmt.Sprintf("%s by %d actor(s) and cannot be forgotten", ErrPinned, e.Count)
}

func (e *PinnedError) Is(target error) bool {
	return target == ErrPinned
}

// UnsupportedCompressionError names the rejected algorithm and the bucket's
// accepted set.
type UnsupportedCompressionError struct {
	Requested codec.Algorithm
	Accepted  []codec.Algorithm
}

func (e *UnsupportedCompressionError) Error() string {
	return fmt.Sprintf("%s: %s (accepted: %v)", ErrUnsupportedCompression, e.Requested, e.Accepted)
}

func (e *UnsupportedCompressionError) Is(target error) bool {
	return target == ErrUnsupportedCompression
}

// UnauthorizedError names the actor and the operation it may not perform.
type UnauthorizedError struct {
	Actor     Actor
	Operation string
	Reason    string
}

func (e *UnauthorizedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s may not %s", ErrUnauthorized, e.Actor, e.Operation)
	}
	return fmt.Sprintf("%s: %s may not %s: %s", ErrUnauthorized, e.Actor, e.Operation, e.Reason)
}

func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}

// AlreadyForgottenError is returned for operations on an id whose object was
// forgotten and not stored again. It also matches ErrObjectNotFound.
type AlreadyForgottenError struct {
	Bucket BucketID
	ID     ObjectID
}

func (e *AlreadyForgottenError) Error() string {
	return fmt.Sprintf("%s: %s in bucket %s", ErrAlreadyForgotten, e.ID, e.Bucket)
}

func (e *AlreadyForgottenError) Is(target error) bool {
	return target == ErrAlreadyForgotten || target == ErrObjectNotFound
}

// immutableError matches both ErrBucketImmutable and ErrUnauthorized.
type immutableError struct {
	Bucket BucketID
}

func (e *immutableError) Error() string {
	return fmt.Sprintf("%s: objects in bucket %s can never be forgotten", ErrBucketImmutable, e.Bucket)
}

func (e *immutableError) Is(target error) bool {
	return target == ErrBucketImmutable || target == ErrUnauthorized
}

// IsDenied reports whether err is a policy rejection (quota, authorization,
// pins, compression) rather than a lookup or internal failure.
func IsDenied(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrPinned) ||
		errors.Is(err, ErrUnsupportedCompression)
}
